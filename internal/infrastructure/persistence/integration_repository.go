package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/erp/datasync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormIntegrationRepository implements integration.IntegrationStore using GORM
type GormIntegrationRepository struct {
	db *gorm.DB
}

var _ integration.IntegrationStore = (*GormIntegrationRepository)(nil)

// NewGormIntegrationRepository creates a new GormIntegrationRepository
func NewGormIntegrationRepository(db *gorm.DB) *GormIntegrationRepository {
	return &GormIntegrationRepository{db: db}
}

// Get loads the integration of a tenant
func (r *GormIntegrationRepository) Get(ctx context.Context, tenantID uuid.UUID) (*integration.TenantIntegration, error) {
	var model models.TenantIntegrationModel
	if err := r.db.WithContext(ctx).First(&model, "tenant_id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, translateError(err)
	}
	return model.ToDomain()
}

// ListEnabled returns the tenants with synchronization turned on
func (r *GormIntegrationRepository) ListEnabled(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.TenantIntegrationModel{}).
		Where("enabled = ?", true).
		Order("tenant_id ASC").
		Pluck("tenant_id", &ids).Error; err != nil {
		return nil, translateError(err)
	}
	return ids, nil
}

// Save creates or replaces a tenant integration
func (r *GormIntegrationRepository) Save(ctx context.Context, ti *integration.TenantIntegration) error {
	if ti.UpdatedAt.IsZero() {
		ti.UpdatedAt = time.Now()
	}
	model := &models.TenantIntegrationModel{CreatedAt: ti.UpdatedAt}
	if err := model.FromDomain(ti); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "source_driver", "source_dsn", "enabled", "mappings", "watermarks", "updated_at",
			}),
		}).
		Create(model).Error
	return translateError(err)
}

// AdvanceWatermark stores ts for kind when it is strictly later than the
// stored value. The row is locked for the read-compare-write on PostgreSQL.
func (r *GormIntegrationRepository) AdvanceWatermark(ctx context.Context, tenantID uuid.UUID, kind integration.EntityKind, ts time.Time) (bool, error) {
	advanced := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model models.TenantIntegrationModel
		q := tx.Where("tenant_id = ?", tenantID)
		if isPostgres(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return err
		}

		marks := model.Watermarks.Data()
		if marks == nil {
			marks = map[string]string{}
		}
		if stored, ok := marks[kind.String()]; ok {
			if current, err := integration.ParseWatermark(stored); err == nil && !ts.After(current) {
				return nil
			}
		}
		marks[kind.String()] = integration.FormatWatermark(ts)

		if err := tx.Model(&models.TenantIntegrationModel{}).
			Where("tenant_id = ?", tenantID).
			Updates(map[string]any{
				"watermarks": datatypes.NewJSONType(marks),
				"updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}
		advanced = true
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, err
		}
		return false, translateError(err)
	}
	return advanced, nil
}

// ResetWatermark drops the stored watermark of kind so the next run reads
// the whole source table
func (r *GormIntegrationRepository) ResetWatermark(ctx context.Context, tenantID uuid.UUID, kind integration.EntityKind) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model models.TenantIntegrationModel
		if err := tx.Where("tenant_id = ?", tenantID).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return translateError(err)
		}
		marks := model.Watermarks.Data()
		if _, ok := marks[kind.String()]; !ok {
			return nil
		}
		delete(marks, kind.String())
		return translateError(tx.Model(&models.TenantIntegrationModel{}).
			Where("tenant_id = ?", tenantID).
			Updates(map[string]any{
				"watermarks": datatypes.NewJSONType(marks),
				"updated_at": time.Now(),
			}).Error)
	})
}

// AutoMigrate creates the tables of every synchronized model
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.TenantIntegrationModel{},
		&models.RepresentativeModel{},
		&models.CustomerGroupModel{},
		&models.CustomerModel{},
		&models.ProductModel{},
		&models.OrderModel{},
		&models.OrderItemModel{},
	)
}
