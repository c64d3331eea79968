package persistence

import (
	"context"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/partner"
	"github.com/erp/datasync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormCustomerRepository implements integration.CustomerStore using GORM
type GormCustomerRepository struct {
	db    *gorm.DB
	table *sourceTable[*partner.Customer, models.CustomerModel]
}

var _ integration.CustomerStore = (*GormCustomerRepository)(nil)

// NewGormCustomerRepository creates a new GormCustomerRepository
func NewGormCustomerRepository(db *gorm.DB) *GormCustomerRepository {
	return &GormCustomerRepository{
		db: db,
		table: &sourceTable[*partner.Customer, models.CustomerModel]{
			db:           db,
			legacyColumn: "tax_id",
			toDomain:     func(m *models.CustomerModel) *partner.Customer { return m.ToDomain() },
			fromDomain:   models.CustomerModelFromDomain,
		},
	}
}

// FindByExternalIDs finds customers by source identifier
func (r *GormCustomerRepository) FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) (map[string]*partner.Customer, error) {
	return r.table.findByExternalIDs(ctx, tenantID, externalIDs)
}

// FindByLegacyKeys finds customers by digits-only tax id
func (r *GormCustomerRepository) FindByLegacyKeys(ctx context.Context, tenantID uuid.UUID, keys []string) (map[string]*partner.Customer, error) {
	return r.table.findByLegacyKeys(ctx, tenantID, keys)
}

// SaveBatch upserts customers by id
func (r *GormCustomerRepository) SaveBatch(ctx context.Context, customers []*partner.Customer) error {
	return r.table.saveBatch(ctx, customers)
}
