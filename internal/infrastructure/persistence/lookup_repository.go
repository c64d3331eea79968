package persistence

import (
	"context"
	"fmt"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// lookupColumns maps each (target, field) pair onto the stored column that
// holds the field in comparison form
var lookupColumns = map[integration.LookupTarget]map[string]string{
	integration.LookupRepresentatives: {
		integration.LookupFieldExternalID: "external_id",
		integration.LookupFieldCode:       "code",
		integration.LookupFieldDocument:   "document",
		integration.LookupFieldName:       "name_key",
	},
	integration.LookupCustomers: {
		integration.LookupFieldExternalID: "external_id",
		integration.LookupFieldTaxID:      "tax_id",
		integration.LookupFieldCode:       "code",
		integration.LookupFieldName:       "name_key",
	},
	integration.LookupCustomerGroups: {
		integration.LookupFieldExternalID: "external_id",
		integration.LookupFieldCode:       "code",
		integration.LookupFieldName:       "name_key",
		integration.LookupFieldCategory:   "category",
	},
	integration.LookupProducts: {
		integration.LookupFieldExternalID: "external_id",
		integration.LookupFieldSKU:        "sku",
		integration.LookupFieldBarcode:    "barcode",
		integration.LookupFieldName:       "name_key",
	},
}

// GormLookupRepository implements integration.LookupStore using GORM
type GormLookupRepository struct {
	db *gorm.DB
}

var _ integration.LookupStore = (*GormLookupRepository)(nil)

// NewGormLookupRepository creates a new GormLookupRepository
func NewGormLookupRepository(db *gorm.DB) *GormLookupRepository {
	return &GormLookupRepository{db: db}
}

type lookupRow struct {
	ID         uuid.UUID
	MatchValue string
}

// Lookup resolves keys of target by field in a single query. Codes match with
// or without leading zeros. When several records share a key the oldest wins.
func (r *GormLookupRepository) Lookup(ctx context.Context, tenantID uuid.UUID, target integration.LookupTarget, field string, keys []string) (map[string]uuid.UUID, error) {
	column, ok := lookupColumns[target][field]
	if !ok {
		return nil, shared.NewConfigurationError("lookups",
			fmt.Sprintf("%s cannot be looked up by %q", target, field))
	}
	keys = distinctNonEmpty(keys)
	out := make(map[string]uuid.UUID, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	query := r.db.WithContext(ctx).
		Table(string(target)).
		Select(fmt.Sprintf("id, %s AS match_value", column)).
		Where("tenant_id = ?", tenantID)
	if field == integration.LookupFieldCode {
		query = query.Where(fmt.Sprintf("(%s IN ? OR LTRIM(%s, '0') IN ?)", column, column), keys, keys)
	} else {
		query = query.Where(fmt.Sprintf("%s IN ?", column), keys)
	}

	var rows []lookupRow
	if err := query.Order("created_at ASC").Order("id ASC").Scan(&rows).Error; err != nil {
		return nil, translateError(err)
	}

	for _, row := range rows {
		key, ok := integration.NormalizeLookupKey(field, row.MatchValue)
		if !ok {
			continue
		}
		if _, seen := out[key]; !seen {
			out[key] = row.ID
		}
	}
	return out, nil
}
