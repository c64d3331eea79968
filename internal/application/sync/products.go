package syncapp

import (
	"github.com/erp/datasync/internal/domain/catalog"
	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductStrategy synchronizes catalog products. Legacy key: SKU.
type ProductStrategy struct{}

var _ Strategy[*catalog.Product] = ProductStrategy{}

func (ProductStrategy) Kind() integration.EntityKind     { return integration.EntityKindProducts }
func (ProductStrategy) Target() integration.LookupTarget { return integration.LookupProducts }
func (ProductStrategy) RequiredFields() []string         { return []string{"sku", "name"} }
func (ProductStrategy) Relations() []RelationSpec        { return nil }

func (s ProductStrategy) Validate(cfg *mapping.Config) error {
	return validateMapping(cfg, s.RequiredFields(), nil)
}

func (ProductStrategy) New(tenantID uuid.UUID) *catalog.Product {
	return catalog.NewProduct(tenantID)
}

func (ProductStrategy) LegacyKey(values mapping.Values) string {
	s, _ := mapping.AsString(values["sku"])
	return s
}

func (ProductStrategy) Apply(rc *RunContext, p *catalog.Product, u *Unit, _ *Resolution) {
	f := fieldsOf(rc, u)
	f.str("sku", p.SetSKU)
	f.str("name", p.SetName)
	f.str("barcode", func(s string) { p.Barcode = s })
	f.str("unit", func(s string) { p.Unit = s })
	f.str("brand", func(s string) { p.Brand = s })
	f.str("category", func(s string) { p.Category = s })
	f.str("notes", func(s string) { p.Notes = s })
	f.dec("price", func(d decimal.Decimal) {
		if err := p.SetPrice(d); err != nil {
			f.invalid("price")
		}
	})
	f.dec("cost", func(d decimal.Decimal) { p.Cost = d })
	f.dec("weight", func(d decimal.Decimal) { p.Weight = d })
	f.enum("status", func(s string) bool {
		st, ok := catalog.ParseProductStatus(s)
		if ok {
			p.Status = st
		}
		return ok
	})
}
