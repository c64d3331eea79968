package syncapp

import (
	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/erp/datasync/internal/domain/partner"
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RelationSupervisor links a representative to the one supervising it
const RelationSupervisor = "supervisor"

// RepresentativeStrategy synchronizes sales representatives. Legacy key: the
// folded name. Supervisors resolve against the store and against
// representatives pending in the same batch.
type RepresentativeStrategy struct{}

var _ Strategy[*partner.Representative] = RepresentativeStrategy{}

func (RepresentativeStrategy) Kind() integration.EntityKind {
	return integration.EntityKindRepresentatives
}

func (RepresentativeStrategy) Target() integration.LookupTarget {
	return integration.LookupRepresentatives
}

func (RepresentativeStrategy) RequiredFields() []string { return []string{"name"} }

func (RepresentativeStrategy) Relations() []RelationSpec {
	return []RelationSpec{
		{Name: RelationSupervisor, Target: integration.LookupRepresentatives},
	}
}

func (s RepresentativeStrategy) Validate(cfg *mapping.Config) error {
	return validateMapping(cfg, s.RequiredFields(), s.Relations())
}

func (RepresentativeStrategy) New(tenantID uuid.UUID) *partner.Representative {
	return partner.NewRepresentative(tenantID)
}

func (RepresentativeStrategy) LegacyKey(values mapping.Values) string {
	s, _ := mapping.AsString(values["name"])
	return shared.NameKey(s)
}

func (RepresentativeStrategy) Apply(rc *RunContext, r *partner.Representative, u *Unit, res *Resolution) {
	f := fieldsOf(rc, u)
	f.str("code", func(s string) { r.Code = s })
	f.str("name", r.SetName)
	f.str("document", r.SetDocument)
	f.str("email", func(s string) { r.Email = s })
	f.str("phone", func(s string) { r.Phone = s })
	f.str("region", func(s string) { r.Region = s })
	f.dec("commission_rate", func(d decimal.Decimal) { r.CommissionRate = d })
	f.enum("status", func(s string) bool {
		st, ok := partner.ParseRepresentativeStatus(s)
		if ok {
			r.Status = st
		}
		return ok
	})
	f.ref(res, RelationSupervisor, func(id uuid.UUID) {
		if err := r.AssignSupervisor(id); err != nil {
			f.invalid(RelationSupervisor)
		}
	})
}
