package syncapp

import (
	"time"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Strategy adapts the generic engine to one entity kind: which fields it
// needs, how it is matched by legacy key, which relations it holds and how
// evaluated values are applied to the entity.
type Strategy[E integration.Record] interface {
	Kind() integration.EntityKind
	// Target is the lookup target backed by this kind
	Target() integration.LookupTarget
	// RequiredFields must be mapped, and must resolve for a new entity to
	// be created
	RequiredFields() []string
	Relations() []RelationSpec
	// Validate checks kind-specific mapping requirements
	Validate(cfg *mapping.Config) error
	// New creates an empty entity for tenantID
	New(tenantID uuid.UUID) E
	// LegacyKey derives from evaluated values the key E.LegacyKey returns
	LegacyKey(values mapping.Values) string
	// Apply writes the unit onto e. Nil values keep what e holds.
	Apply(rc *RunContext, e E, u *Unit, res *Resolution)
}

// validateMapping runs the checks shared by every kind: required fields are
// mapped and each relation's lookup field is supported by its target.
func validateMapping(cfg *mapping.Config, required []string, relations []RelationSpec) error {
	if err := cfg.Validate(append([]string{mapping.ExternalIDField}, required...)...); err != nil {
		return err
	}
	for _, rel := range relations {
		field := cfg.LookupField(rel.Name, integration.LookupFieldExternalID)
		if err := integration.ValidateLookupField(rel.Name, rel.Target, field); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Field appliers
// ---------------------------------------------------------------------------

// fields applies evaluated values with the nil-keeps-stored rule. A value
// that is present but cannot be coerced is counted as invalid and ignored.
type fields struct {
	rc         *RunContext
	values     mapping.Values
	externalID string
	prefix     string
}

func fieldsOf(rc *RunContext, u *Unit) fields {
	return fields{rc: rc, values: u.Values, externalID: u.ExternalID}
}

func (f fields) item(values mapping.Values) fields {
	return fields{rc: f.rc, values: values, externalID: f.externalID, prefix: "items."}
}

func (f fields) invalid(field string) {
	f.rc.invalidValue(f.externalID, f.prefix+field, f.values[field])
}

func (f fields) str(field string, set func(string)) {
	if !f.values.Has(field) {
		return
	}
	if s, ok := mapping.AsString(f.values[field]); ok {
		set(s)
	}
}

func (f fields) dec(field string, set func(decimal.Decimal)) {
	if !f.values.Has(field) {
		return
	}
	d, ok := mapping.AsDecimal(f.values[field])
	if !ok {
		f.invalid(field)
		return
	}
	set(d)
}

func (f fields) integer(field string, set func(int64)) {
	if !f.values.Has(field) {
		return
	}
	n, ok := mapping.AsInt(f.values[field])
	if !ok {
		f.invalid(field)
		return
	}
	set(n)
}

func (f fields) date(field string, set func(time.Time)) {
	if !f.values.Has(field) {
		return
	}
	t, ok := mapping.AsTime(f.values[field])
	if !ok {
		f.invalid(field)
		return
	}
	set(t)
}

// enum applies a value through parse; unknown values are invalid
func (f fields) enum(field string, parse func(string) bool) {
	f.str(field, func(s string) {
		if !parse(s) {
			f.invalid(field)
		}
	})
}

// ref applies a resolved relation. Unresolved references were already
// counted by the resolver and leave the stored reference untouched.
func (f fields) ref(res *Resolution, relation string, set func(uuid.UUID)) {
	if !f.values.Has(relation) {
		return
	}
	if id, ok := res.ID(relation, f.values[relation]); ok {
		set(id)
	}
}
