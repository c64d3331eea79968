package persistence

import (
	"context"

	"github.com/erp/datasync/internal/domain/catalog"
	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormProductRepository implements integration.ProductStore using GORM
type GormProductRepository struct {
	db    *gorm.DB
	table *sourceTable[*catalog.Product, models.ProductModel]
}

var _ integration.ProductStore = (*GormProductRepository)(nil)

// NewGormProductRepository creates a new GormProductRepository
func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{
		db: db,
		table: &sourceTable[*catalog.Product, models.ProductModel]{
			db:           db,
			legacyColumn: "sku",
			toDomain:     func(m *models.ProductModel) *catalog.Product { return m.ToDomain() },
			fromDomain:   models.ProductModelFromDomain,
		},
	}
}

// FindByExternalIDs finds products by source identifier
func (r *GormProductRepository) FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) (map[string]*catalog.Product, error) {
	return r.table.findByExternalIDs(ctx, tenantID, externalIDs)
}

// FindByLegacyKeys finds products by SKU
func (r *GormProductRepository) FindByLegacyKeys(ctx context.Context, tenantID uuid.UUID, keys []string) (map[string]*catalog.Product, error) {
	return r.table.findByLegacyKeys(ctx, tenantID, keys)
}

// SaveBatch upserts products by id
func (r *GormProductRepository) SaveBatch(ctx context.Context, products []*catalog.Product) error {
	return r.table.saveBatch(ctx, products)
}
