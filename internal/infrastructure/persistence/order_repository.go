package persistence

import (
	"context"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/trade"
	"github.com/erp/datasync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderRepository implements integration.OrderStore using GORM
type GormOrderRepository struct {
	db    *gorm.DB
	table *sourceTable[*trade.Order, models.OrderModel]
}

var _ integration.OrderStore = (*GormOrderRepository)(nil)

// NewGormOrderRepository creates a new GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{
		db: db,
		table: &sourceTable[*trade.Order, models.OrderModel]{
			db:           db,
			legacyColumn: "order_code",
			toDomain:     func(m *models.OrderModel) *trade.Order { return m.ToDomain(nil) },
			fromDomain:   models.OrderModelFromDomain,
		},
	}
}

// FindByExternalIDs finds orders, with their items, by source identifier
func (r *GormOrderRepository) FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) (map[string]*trade.Order, error) {
	found, err := r.table.findByExternalIDs(ctx, tenantID, externalIDs)
	if err != nil {
		return nil, err
	}
	return found, r.loadItems(ctx, found)
}

// FindByLegacyKeys finds orders, with their items, by order code
func (r *GormOrderRepository) FindByLegacyKeys(ctx context.Context, tenantID uuid.UUID, keys []string) (map[string]*trade.Order, error) {
	found, err := r.table.findByLegacyKeys(ctx, tenantID, keys)
	if err != nil {
		return nil, err
	}
	return found, r.loadItems(ctx, found)
}

// SaveBatch upserts order headers by id. Items are written by ReplaceItems.
func (r *GormOrderRepository) SaveBatch(ctx context.Context, orders []*trade.Order) error {
	return r.table.saveBatch(ctx, orders)
}

func (r *GormOrderRepository) loadItems(ctx context.Context, orders map[string]*trade.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*trade.Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	var items []models.OrderItemModel
	if err := r.db.WithContext(ctx).
		Where("order_id IN ?", ids).
		Order("line_number ASC").
		Order("item_key ASC").
		Find(&items).Error; err != nil {
		return translateError(err)
	}
	for i := range items {
		if o, ok := byID[items[i].OrderID]; ok {
			o.Items = append(o.Items, *items[i].ToDomain())
		}
	}
	return nil
}

// ReplaceItems makes the stored item set of order equal to order.Items:
// items whose key disappeared are deleted and the rest are upserted by
// (order_id, item_key). The header's source_hash is written last, inside the
// same transaction.
func (r *GormOrderRepository) ReplaceItems(ctx context.Context, order *trade.Order) (integration.ItemReplaceResult, error) {
	var result integration.ItemReplaceResult
	keys := order.ItemKeys()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.replaceItems(tx, order, keys, &result); err != nil {
			return err
		}
		return tx.Model(&models.OrderModel{}).
			Where("id = ?", order.ID).
			UpdateColumn("source_hash", order.SourceHash).Error
	})
	if err != nil {
		return integration.ItemReplaceResult{}, translateError(err)
	}
	return result, nil
}

func (r *GormOrderRepository) replaceItems(tx *gorm.DB, order *trade.Order, keys []string, result *integration.ItemReplaceResult) error {
	del := tx.Where("order_id = ?", order.ID)
	if len(keys) > 0 {
		del = del.Where("item_key NOT IN ?", keys)
	}
	res := del.Delete(&models.OrderItemModel{})
	if res.Error != nil {
		return res.Error
	}
	result.Deleted = int(res.RowsAffected)

	if len(order.Items) == 0 {
		return nil
	}
	rows := make([]*models.OrderItemModel, len(order.Items))
	for i := range order.Items {
		m := &models.OrderItemModel{}
		m.FromDomain(&order.Items[i])
		m.OrderID = order.ID
		m.TenantID = order.TenantID
		rows[i] = m
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}, {Name: "item_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"line_number", "product_id", "product_code", "description",
			"quantity", "unit_price", "discount", "total", "updated_at",
		}),
	}).Create(&rows).Error; err != nil {
		return err
	}
	result.Upserted = len(rows)
	return nil
}
