package syncapp

import (
	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/erp/datasync/internal/domain/partner"
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer relations
const (
	RelationRepresentative = "representative"
	RelationGroup          = "group"
)

// CustomerStrategy synchronizes customers. Legacy key: tax id, digits only.
type CustomerStrategy struct{}

var _ Strategy[*partner.Customer] = CustomerStrategy{}

func (CustomerStrategy) Kind() integration.EntityKind     { return integration.EntityKindCustomers }
func (CustomerStrategy) Target() integration.LookupTarget { return integration.LookupCustomers }
func (CustomerStrategy) RequiredFields() []string         { return []string{"name"} }

func (CustomerStrategy) Relations() []RelationSpec {
	return []RelationSpec{
		{Name: RelationRepresentative, Target: integration.LookupRepresentatives},
		{Name: RelationGroup, Target: integration.LookupCustomerGroups},
	}
}

func (s CustomerStrategy) Validate(cfg *mapping.Config) error {
	return validateMapping(cfg, s.RequiredFields(), s.Relations())
}

func (CustomerStrategy) New(tenantID uuid.UUID) *partner.Customer {
	return partner.NewCustomer(tenantID)
}

func (CustomerStrategy) LegacyKey(values mapping.Values) string {
	s, _ := mapping.AsString(values["tax_id"])
	return shared.DigitsOnly(s)
}

func (CustomerStrategy) Apply(rc *RunContext, c *partner.Customer, u *Unit, res *Resolution) {
	f := fieldsOf(rc, u)
	f.str("code", func(s string) { c.Code = s })
	f.str("name", c.SetName)
	f.str("trade_name", func(s string) { c.TradeName = s })
	f.str("tax_id", c.SetTaxID)
	f.str("email", func(s string) { c.Email = s })
	f.str("phone", func(s string) { c.Phone = s })
	f.str("address", func(s string) { c.Address = s })
	f.str("city", func(s string) { c.City = s })
	f.str("state", func(s string) { c.State = s })
	f.str("postal_code", func(s string) { c.PostalCode = s })
	f.str("notes", func(s string) { c.Notes = s })
	f.enum("status", func(s string) bool {
		st, ok := partner.ParseCustomerStatus(s)
		if ok {
			c.Status = st
		}
		return ok
	})
	f.dec("credit_limit", func(d decimal.Decimal) { c.CreditLimit = d })
	f.ref(res, RelationRepresentative, c.AssignRepresentative)
	f.ref(res, RelationGroup, c.AssignGroup)
}
