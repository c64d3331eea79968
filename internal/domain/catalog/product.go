package catalog

import (
	"strings"

	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductStatus represents the status of a product
type ProductStatus string

const (
	ProductStatusActive       ProductStatus = "active"
	ProductStatusInactive     ProductStatus = "inactive"
	ProductStatusDiscontinued ProductStatus = "discontinued"
)

// ParseProductStatus maps a canonical status string. Unknown values report false.
func ParseProductStatus(s string) (ProductStatus, bool) {
	switch st := ProductStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case ProductStatusActive, ProductStatusInactive, ProductStatusDiscontinued:
		return st, true
	}
	return "", false
}

// Product is a catalog item. SKU is unique per tenant and doubles as the
// legacy key for products created before external ids were tracked.
type Product struct {
	shared.TenantEntity
	shared.SourceTracking
	SKU      string
	Name     string
	NameKey  string
	Barcode  string
	Unit     string
	Brand    string
	Category string
	Price    decimal.Decimal
	Cost     decimal.Decimal
	Weight   decimal.Decimal
	Status   ProductStatus
	Notes    string
}

// NewProduct creates an empty active product for tenantID
func NewProduct(tenantID uuid.UUID) *Product {
	return &Product{
		TenantEntity: shared.NewTenantEntity(tenantID),
		Unit:         "UN",
		Price:        decimal.Zero,
		Cost:         decimal.Zero,
		Weight:       decimal.Zero,
		Status:       ProductStatusActive,
	}
}

// SetSKU sets the SKU, trimmed
func (p *Product) SetSKU(sku string) {
	p.SKU = strings.TrimSpace(sku)
}

// SetName sets the name and its comparison key
func (p *Product) SetName(name string) {
	p.Name = strings.TrimSpace(name)
	p.NameKey = shared.NameKey(p.Name)
}

// LegacyKey returns the key used to match records without an external id
func (p *Product) LegacyKey() string {
	return p.SKU
}

// SetPrice sets the sale price. Negative prices are rejected.
func (p *Product) SetPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return shared.NewDomainError("INVALID_PRICE", "Price cannot be negative")
	}
	p.Price = price
	return nil
}

// Clone returns a deep copy
func (p *Product) Clone() *Product {
	cp := *p
	if p.SourceUpdatedAt != nil {
		t := *p.SourceUpdatedAt
		cp.SourceUpdatedAt = &t
	}
	if p.LastSyncedAt != nil {
		t := *p.LastSyncedAt
		cp.LastSyncedAt = &t
	}
	return &cp
}
