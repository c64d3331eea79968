package persistence

import (
	"context"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sourceTable implements the lookups and batch writes shared by every
// synchronized table. E is the domain entity and M its persistence model.
type sourceTable[E integration.Record, M any] struct {
	db           *gorm.DB
	legacyColumn string
	toDomain     func(*M) E
	fromDomain   func(E) *M
}

// findBy loads the rows whose column matches one of keys and indexes them by
// keyOf. Rows are visited oldest first so the oldest record wins a shared key.
func (t *sourceTable[E, M]) findBy(ctx context.Context, tenantID uuid.UUID, column string, keys []string, keyOf func(E) string) (map[string]E, error) {
	keys = distinctNonEmpty(keys)
	out := make(map[string]E, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	var rows []M
	if err := t.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Where(clause.IN{Column: clause.Column{Name: column}, Values: toAny(keys)}).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}

	for i := range rows {
		e := t.toDomain(&rows[i])
		k := keyOf(e)
		if _, seen := out[k]; !seen {
			out[k] = e
		}
	}
	return out, nil
}

func (t *sourceTable[E, M]) findByExternalIDs(ctx context.Context, tenantID uuid.UUID, ids []string) (map[string]E, error) {
	return t.findBy(ctx, tenantID, "external_id", ids, func(e E) string { return e.GetExternalID() })
}

func (t *sourceTable[E, M]) findByLegacyKeys(ctx context.Context, tenantID uuid.UUID, keys []string) (map[string]E, error) {
	return t.findBy(ctx, tenantID, t.legacyColumn, keys, func(e E) string { return e.LegacyKey() })
}

// saveBatch writes entities with a single INSERT ... ON CONFLICT (id) DO UPDATE
func (t *sourceTable[E, M]) saveBatch(ctx context.Context, entities []E) error {
	if len(entities) == 0 {
		return nil
	}
	rows := make([]*M, len(entities))
	for i, e := range entities {
		rows[i] = t.fromDomain(e)
	}
	err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&rows).Error
	return translateError(err)
}

func distinctNonEmpty(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func toAny(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
