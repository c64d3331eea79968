package persistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/erp/datasync/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	sqlStateUniqueViolation = "23505"
	sqlStateUndefinedTable  = "42P01"
	sqlStateUndefinedColumn = "42703"
)

// translateError maps driver errors onto the errors the sync engine reacts to:
// unique violations become shared.ErrConstraintConflict and a missing table or
// column becomes a ConfigurationError. Other errors pass through unchanged so
// the resilience package can classify them.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", shared.ErrConstraintConflict, err)
	}

	var code, detail string
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code, detail = pgErr.Code, pgErr.ConstraintName
		if detail == "" {
			detail = pgErr.Message
		}
	case errors.As(err, &pqErr):
		code, detail = string(pqErr.Code), pqErr.Constraint
		if detail == "" {
			detail = pqErr.Message
		}
	}

	switch code {
	case sqlStateUniqueViolation:
		return fmt.Errorf("%w: %s", shared.ErrConstraintConflict, detail)
	case sqlStateUndefinedTable, sqlStateUndefinedColumn:
		return shared.WrapConfigurationError("schema", "expected migration not applied", err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", shared.ErrConstraintConflict, msg)
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "no such column"):
		return shared.WrapConfigurationError("schema", "expected migration not applied", err)
	}
	return err
}
