package persistence

import (
	"context"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/partner"
	"github.com/erp/datasync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormRepresentativeRepository implements integration.RepresentativeStore using GORM
type GormRepresentativeRepository struct {
	db    *gorm.DB
	table *sourceTable[*partner.Representative, models.RepresentativeModel]
}

var _ integration.RepresentativeStore = (*GormRepresentativeRepository)(nil)

// NewGormRepresentativeRepository creates a new GormRepresentativeRepository
func NewGormRepresentativeRepository(db *gorm.DB) *GormRepresentativeRepository {
	return &GormRepresentativeRepository{
		db: db,
		table: &sourceTable[*partner.Representative, models.RepresentativeModel]{
			db:           db,
			legacyColumn: "name_key",
			toDomain:     func(m *models.RepresentativeModel) *partner.Representative { return m.ToDomain() },
			fromDomain:   models.RepresentativeModelFromDomain,
		},
	}
}

// FindByExternalIDs finds representatives by source identifier
func (r *GormRepresentativeRepository) FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) (map[string]*partner.Representative, error) {
	return r.table.findByExternalIDs(ctx, tenantID, externalIDs)
}

// FindByLegacyKeys finds representatives by folded name
func (r *GormRepresentativeRepository) FindByLegacyKeys(ctx context.Context, tenantID uuid.UUID, keys []string) (map[string]*partner.Representative, error) {
	return r.table.findByLegacyKeys(ctx, tenantID, keys)
}

// SaveBatch upserts representatives by id
func (r *GormRepresentativeRepository) SaveBatch(ctx context.Context, reps []*partner.Representative) error {
	return r.table.saveBatch(ctx, reps)
}
