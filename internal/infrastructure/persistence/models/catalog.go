package models

import (
	"github.com/erp/datasync/internal/domain/catalog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductModel is the persistence model for the Product domain entity.
type ProductModel struct {
	BaseModel
	SourceModel
	TenantID   uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex:idx_products_tenant_external,priority:1;uniqueIndex:idx_products_tenant_sku,priority:1"`
	Version    int                   `gorm:"not null;default:1"`
	ExternalID *string               `gorm:"type:varchar(100);uniqueIndex:idx_products_tenant_external,priority:2"`
	SKU        string                `gorm:"column:sku;type:varchar(100);not null;uniqueIndex:idx_products_tenant_sku,priority:2"`
	Name       string                `gorm:"type:varchar(200);not null"`
	NameKey    string                `gorm:"type:varchar(200);index"`
	Barcode    string                `gorm:"type:varchar(50);index"`
	Unit       string                `gorm:"type:varchar(20);not null;default:'UN'"`
	Brand      string                `gorm:"type:varchar(100)"`
	Category   string                `gorm:"type:varchar(100)"`
	Price      decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	Cost       decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	Weight     decimal.Decimal       `gorm:"type:decimal(18,4);not null;default:0"`
	Status     catalog.ProductStatus `gorm:"type:varchar(20);not null;default:'active'"`
	Notes      string                `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ToDomain converts the persistence model to a domain Product entity.
func (m *ProductModel) ToDomain() *catalog.Product {
	return &catalog.Product{
		TenantEntity:   tenantEntity(m.BaseModel, m.TenantID, m.Version),
		SourceTracking: m.SourceModel.ToDomain(m.ExternalID),
		SKU:            m.SKU,
		Name:           m.Name,
		NameKey:        m.NameKey,
		Barcode:        m.Barcode,
		Unit:           m.Unit,
		Brand:          m.Brand,
		Category:       m.Category,
		Price:          m.Price,
		Cost:           m.Cost,
		Weight:         m.Weight,
		Status:         m.Status,
		Notes:          m.Notes,
	}
}

// FromDomain populates the persistence model from a domain Product entity.
func (m *ProductModel) FromDomain(p *catalog.Product) {
	m.FromDomainBaseEntity(p.BaseEntity)
	m.TenantID = p.TenantID
	m.Version = p.Version
	m.ExternalID = m.FromDomainSourceTracking(p.SourceTracking)
	m.SKU = p.SKU
	m.Name = p.Name
	m.NameKey = p.NameKey
	m.Barcode = p.Barcode
	m.Unit = p.Unit
	m.Brand = p.Brand
	m.Category = p.Category
	m.Price = p.Price
	m.Cost = p.Cost
	m.Weight = p.Weight
	m.Status = p.Status
	m.Notes = p.Notes
}

// ProductModelFromDomain creates a new persistence model from a domain Product entity.
func ProductModelFromDomain(p *catalog.Product) *ProductModel {
	m := &ProductModel{}
	m.FromDomain(p)
	return m
}
