package source

import (
	"context"
	"database/sql/driver"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/google/uuid"
)

// Conn is a connection to a tenant source
type Conn interface {
	Dialect() Dialect
	// Query runs a read query and materializes every row
	Query(ctx context.Context, query string, args ...any) ([]mapping.Row, error)
	Close(ctx context.Context) error
}

// Dialer opens a new source connection
type Dialer func(ctx context.Context) (Conn, error)

// DialerFor returns the dialer for a tenant's configured source
func DialerFor(driver integration.SourceDriver, dsn string) (Dialer, error) {
	switch driver {
	case integration.SourceDriverPostgres:
		return func(ctx context.Context) (Conn, error) { return OpenPostgres(ctx, dsn) }, nil
	case integration.SourceDriverSQLServer:
		return func(ctx context.Context) (Conn, error) { return OpenSQLServer(ctx, dsn) }, nil
	}
	_, err := DialectFor(driver)
	return nil, err
}

// normalizeValue turns driver-specific values into plain scalars the
// evaluator understands.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case [16]byte:
		return uuid.UUID(val).String()
	case uuid.UUID:
		return val.String()
	}
	if valuer, ok := v.(driver.Valuer); ok {
		inner, err := valuer.Value()
		if err != nil {
			return nil
		}
		if inner == nil {
			return nil
		}
		if _, again := inner.(driver.Valuer); again {
			return inner
		}
		return normalizeValue(inner)
	}
	return v
}
