package source

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erp/datasync/internal/domain/mapping"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// SQLServerConn reads from a SQL Server source
type SQLServerConn struct {
	db *sql.DB
}

var _ Conn = (*SQLServerConn)(nil)

// OpenSQLServer connects to a SQL Server source. The pool is pinned to one
// connection so a reconnect replaces the whole session.
func OpenSQLServer(ctx context.Context, dsn string) (Conn, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("sqlserver source dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLServerConn{db: db}, nil
}

// NewSQLServerConn wraps an already opened database handle
func NewSQLServerConn(db *sql.DB) *SQLServerConn {
	return &SQLServerConn{db: db}
}

func (c *SQLServerConn) Dialect() Dialect { return SQLServerDialect{} }

func (c *SQLServerConn) Query(ctx context.Context, query string, args ...any) ([]mapping.Row, error) {
	named := make([]any, len(args))
	for i, a := range args {
		named[i] = sql.Named(fmt.Sprintf("p%d", i+1), a)
	}
	rows, err := c.db.QueryContext(ctx, query, named...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	var out []mapping.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, t := range types {
			if t.DatabaseTypeName() == "UNIQUEIDENTIFIER" {
				values[i] = uniqueIdentifier(values[i])
			}
		}
		out = append(out, toRow(cols, values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SQLServerConn) Close(context.Context) error {
	return c.db.Close()
}

// uniqueIdentifier decodes SQL Server's mixed-endian GUID bytes
func uniqueIdentifier(v any) any {
	b, ok := v.([]byte)
	if !ok || len(b) != 16 {
		return v
	}
	var id mssql.UniqueIdentifier
	if err := id.Scan(b); err != nil {
		return v
	}
	return id.String()
}
