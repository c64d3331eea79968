package source

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/shared"
)

// Dialect renders the SQL differences between supported source databases
type Dialect interface {
	Name() string
	// QuoteIdent validates and quotes a possibly schema-qualified identifier
	QuoteIdent(name string) (string, error)
	// Placeholder returns the n-th (1-based) positional parameter
	Placeholder(n int) string
	// Paginate appends ordering and paging clauses
	Paginate(query, orderBy string, limit, offset int) string
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func splitIdent(key, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewConfigurationError(key, "identifier is empty")
	}
	parts := strings.Split(name, ".")
	if len(parts) > 3 {
		return nil, shared.NewConfigurationError(key, fmt.Sprintf("identifier %q has too many parts", name))
	}
	for _, p := range parts {
		if !identPattern.MatchString(p) {
			return nil, shared.NewConfigurationError(key, fmt.Sprintf("invalid identifier %q", name))
		}
	}
	return parts, nil
}

// PostgresDialect renders PostgreSQL SQL
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return string(integration.SourceDriverPostgres) }

func (PostgresDialect) QuoteIdent(name string) (string, error) {
	parts, err := splitIdent("identifier", name)
	if err != nil {
		return "", err
	}
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, "."), nil
}

func (PostgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (PostgresDialect) Paginate(query, orderBy string, limit, offset int) string {
	return fmt.Sprintf("%s ORDER BY %s LIMIT %d OFFSET %d", query, orderBy, limit, offset)
}

// SQLServerDialect renders T-SQL
type SQLServerDialect struct{}

func (SQLServerDialect) Name() string { return string(integration.SourceDriverSQLServer) }

func (SQLServerDialect) QuoteIdent(name string) (string, error) {
	parts, err := splitIdent("identifier", name)
	if err != nil {
		return "", err
	}
	for i, p := range parts {
		parts[i] = "[" + p + "]"
	}
	return strings.Join(parts, "."), nil
}

func (SQLServerDialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (SQLServerDialect) Paginate(query, orderBy string, limit, offset int) string {
	return fmt.Sprintf("%s ORDER BY %s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", query, orderBy, offset, limit)
}

// DialectFor returns the dialect of driver
func DialectFor(driver integration.SourceDriver) (Dialect, error) {
	switch driver {
	case integration.SourceDriverPostgres:
		return PostgresDialect{}, nil
	case integration.SourceDriverSQLServer:
		return SQLServerDialect{}, nil
	}
	return nil, shared.NewConfigurationError("source_driver", fmt.Sprintf("unsupported source driver %q", driver))
}

func quoteAll(d Dialect, key string, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		q, err := d.QuoteIdent(n)
		if err != nil {
			return nil, relabel(err, key)
		}
		out = append(out, q)
	}
	return out, nil
}

// relabel points a ConfigurationError at the mapping key that held the bad name
func relabel(err error, key string) error {
	if cfgErr, ok := err.(*shared.ConfigurationError); ok {
		return &shared.ConfigurationError{Key: key, Message: cfgErr.Message, Err: cfgErr.Err}
	}
	return err
}
