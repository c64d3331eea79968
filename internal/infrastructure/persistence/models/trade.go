package models

import (
	"time"

	"github.com/erp/datasync/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderModel is the persistence model for the Order aggregate root.
// Items are stored separately and replaced as a set.
type OrderModel struct {
	BaseModel
	SourceModel
	TenantID         uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_orders_tenant_external,priority:1;uniqueIndex:idx_orders_tenant_code,priority:1"`
	Version          int               `gorm:"not null;default:1"`
	ExternalID       *string           `gorm:"type:varchar(100);uniqueIndex:idx_orders_tenant_external,priority:2"`
	OrderCode        string            `gorm:"type:varchar(100);not null;uniqueIndex:idx_orders_tenant_code,priority:2"`
	CustomerID       *uuid.UUID        `gorm:"type:uuid;index"`
	RepresentativeID *uuid.UUID        `gorm:"type:uuid;index"`
	Status           trade.OrderStatus `gorm:"type:varchar(20);not null;default:'confirmed'"`
	OrderDate        *time.Time        `gorm:"index"`
	DeliveryDate     *time.Time
	PaymentTerms     string          `gorm:"type:varchar(200)"`
	Notes            string          `gorm:"type:text"`
	DiscountAmount   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	FreightAmount    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the persistence model to a domain Order. items may be nil.
func (m *OrderModel) ToDomain(items []OrderItemModel) *trade.Order {
	o := &trade.Order{
		TenantEntity:     tenantEntity(m.BaseModel, m.TenantID, m.Version),
		SourceTracking:   m.SourceModel.ToDomain(m.ExternalID),
		OrderCode:        m.OrderCode,
		CustomerID:       m.CustomerID,
		RepresentativeID: m.RepresentativeID,
		Status:           m.Status,
		OrderDate:        m.OrderDate,
		DeliveryDate:     m.DeliveryDate,
		PaymentTerms:     m.PaymentTerms,
		Notes:            m.Notes,
		DiscountAmount:   m.DiscountAmount,
		FreightAmount:    m.FreightAmount,
		TotalAmount:      m.TotalAmount,
	}
	if len(items) > 0 {
		o.Items = make([]trade.OrderItem, len(items))
		for i := range items {
			o.Items[i] = *items[i].ToDomain()
		}
	}
	return o
}

// FromDomain populates the persistence model from a domain Order.
func (m *OrderModel) FromDomain(o *trade.Order) {
	m.FromDomainBaseEntity(o.BaseEntity)
	m.TenantID = o.TenantID
	m.Version = o.Version
	m.ExternalID = m.FromDomainSourceTracking(o.SourceTracking)
	m.OrderCode = o.OrderCode
	m.CustomerID = o.CustomerID
	m.RepresentativeID = o.RepresentativeID
	m.Status = o.Status
	m.OrderDate = o.OrderDate
	m.DeliveryDate = o.DeliveryDate
	m.PaymentTerms = o.PaymentTerms
	m.Notes = o.Notes
	m.DiscountAmount = o.DiscountAmount
	m.FreightAmount = o.FreightAmount
	m.TotalAmount = o.TotalAmount
}

// OrderModelFromDomain creates a new persistence model from a domain Order.
func OrderModelFromDomain(o *trade.Order) *OrderModel {
	m := &OrderModel{}
	m.FromDomain(o)
	return m
}

// OrderItemModel is the persistence model for an order line
type OrderItemModel struct {
	BaseModel
	TenantID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	OrderID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_order_items_order_key,priority:1"`
	ItemKey     string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_order_items_order_key,priority:2"`
	LineNumber  int             `gorm:"not null;default:0"`
	ProductID   *uuid.UUID      `gorm:"type:uuid;index"`
	ProductCode string          `gorm:"type:varchar(100)"`
	Description string          `gorm:"type:varchar(500)"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Discount    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Total       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
}

// TableName returns the table name for GORM
func (OrderItemModel) TableName() string {
	return "order_items"
}

// ToDomain converts the persistence model to a domain OrderItem.
func (m *OrderItemModel) ToDomain() *trade.OrderItem {
	return &trade.OrderItem{
		ID:          m.ID,
		TenantID:    m.TenantID,
		OrderID:     m.OrderID,
		ItemKey:     m.ItemKey,
		LineNumber:  m.LineNumber,
		ProductID:   m.ProductID,
		ProductCode: m.ProductCode,
		Description: m.Description,
		Quantity:    m.Quantity,
		UnitPrice:   m.UnitPrice,
		Discount:    m.Discount,
		Total:       m.Total,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain OrderItem.
func (m *OrderItemModel) FromDomain(it *trade.OrderItem) {
	m.ID = it.ID
	m.CreatedAt = it.CreatedAt
	m.UpdatedAt = it.UpdatedAt
	m.TenantID = it.TenantID
	m.OrderID = it.OrderID
	m.ItemKey = it.ItemKey
	m.LineNumber = it.LineNumber
	m.ProductID = it.ProductID
	m.ProductCode = it.ProductCode
	m.Description = it.Description
	m.Quantity = it.Quantity
	m.UnitPrice = it.UnitPrice
	m.Discount = it.Discount
	m.Total = it.Total
}
