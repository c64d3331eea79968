package source

import (
	"context"
	"fmt"

	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgConnLike is the subset of *pgx.Conn used by PostgresConn
type pgConnLike interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
}

// PostgresConn reads from a PostgreSQL source over a single pgx connection
type PostgresConn struct {
	conn pgConnLike
}

var _ Conn = (*PostgresConn)(nil)

// OpenPostgres connects to a PostgreSQL source
func OpenPostgres(ctx context.Context, dsn string) (Conn, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres source dsn: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.RuntimeParams["application_name"]; !ok {
		cfg.RuntimeParams["application_name"] = "datasync"
	}
	c, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresConn{conn: c}, nil
}

func (c *PostgresConn) Dialect() Dialect { return PostgresDialect{} }

func (c *PostgresConn) Query(ctx context.Context, query string, args ...any) ([]mapping.Row, error) {
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := fieldNames(rows.FieldDescriptions())

	var out []mapping.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, toRow(names, values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PostgresConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func toRow(names []string, values []any) mapping.Row {
	row := make(mapping.Row, len(names))
	for i, name := range names {
		if i < len(values) {
			row[name] = normalizeValue(values[i])
		}
	}
	return row
}

func fieldNames(fields []pgconn.FieldDescription) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}
