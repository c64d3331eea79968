package syncapp

import (
	"context"
	"fmt"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/infrastructure/resilience"
	"github.com/google/uuid"
)

// Outcome is what happened to a pending unit
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCreated
	OutcomeUpdated
	OutcomeUnchanged
	OutcomeUnresolved
)

// Pending is a unit matched to the entity it will be written to
type Pending[E integration.Record] struct {
	Unit   *Unit
	Entity E
	// IsNew is true when no stored entity matched
	IsNew bool
	// MatchedByLegacyKey is true when the entity gains its external id now
	MatchedByLegacyKey bool
	// Hash fingerprints the unit as applied
	Hash string
	// Changed is false when the stored fingerprint already equals Hash
	Changed bool
	Outcome Outcome

	res *Resolution
}

// Durable reports whether the unit's source change is reflected in the store
func (p *Pending[E]) Durable() bool {
	switch p.Outcome {
	case OutcomeCreated, OutcomeUpdated, OutcomeUnchanged:
		return true
	}
	return false
}

// Reconciler matches units to stored entities by external id, falling back
// to the kind's legacy key, and applies units onto them.
type Reconciler[E integration.Record] struct {
	strategy Strategy[E]
	store    integration.EntityStore[E]
	retrier  *resilience.Retrier
}

// NewReconciler creates a reconciler for one kind
func NewReconciler[E integration.Record](strategy Strategy[E], store integration.EntityStore[E], retrier *resilience.Retrier) *Reconciler[E] {
	return &Reconciler[E]{strategy: strategy, store: store, retrier: retrier}
}

// Reconcile matches a batch of units. Units without an external id, repeated
// external ids (the first occurrence wins), legacy matches owned by another
// external id and new entities missing a required field are counted and
// dropped. Stored entities are prefetched with one query per key kind.
func (r *Reconciler[E]) Reconcile(ctx context.Context, rc *RunContext, units []*Unit) ([]*Pending[E], error) {
	seen := make(map[string]bool, len(units))
	keep := make([]*Unit, 0, len(units))
	for i, u := range units {
		if u.ExternalID == "" {
			rc.missingExternalID(i)
			continue
		}
		if seen[u.ExternalID] {
			rc.duplicatedExternalID(u.ExternalID)
			continue
		}
		seen[u.ExternalID] = true
		keep = append(keep, u)
	}
	if len(keep) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(keep))
	for _, u := range keep {
		ids = append(ids, u.ExternalID)
	}
	byExternalID, err := resilience.DoValue(ctx, r.retrier, "find by external id",
		func(ctx context.Context) (map[string]E, error) {
			return r.store.FindByExternalIDs(ctx, rc.TenantID, ids)
		})
	if err != nil {
		return nil, fmt.Errorf("prefetch %s by external id: %w", rc.Kind, err)
	}

	var legacyKeys []string
	for _, u := range keep {
		if _, ok := byExternalID[u.ExternalID]; ok {
			continue
		}
		if key := r.strategy.LegacyKey(u.Values); key != "" {
			legacyKeys = append(legacyKeys, key)
		}
	}
	byLegacyKey := map[string]E{}
	if len(legacyKeys) > 0 {
		byLegacyKey, err = resilience.DoValue(ctx, r.retrier, "find by legacy key",
			func(ctx context.Context) (map[string]E, error) {
				return r.store.FindByLegacyKeys(ctx, rc.TenantID, legacyKeys)
			})
		if err != nil {
			return nil, fmt.Errorf("prefetch %s by legacy key: %w", rc.Kind, err)
		}
	}

	claimed := make(map[uuid.UUID]string, len(keep))
	out := make([]*Pending[E], 0, len(keep))
	for _, u := range keep {
		p := &Pending[E]{Unit: u}

		found := false
		if e, ok := byExternalID[u.ExternalID]; ok {
			p.Entity = e
			found = true
		} else if key := r.strategy.LegacyKey(u.Values); key != "" {
			if e, ok := byLegacyKey[key]; ok {
				owner := e.GetExternalID()
				if other, taken := claimed[e.GetID()]; taken {
					owner = other
				}
				if owner != "" && owner != u.ExternalID {
					rc.externalIDConflict(u.ExternalID, key, owner)
					continue
				}
				p.Entity = e
				p.MatchedByLegacyKey = true
				found = true
			}
		}
		p.IsNew = !found

		if missing := r.missingRequired(rc, u); missing && p.IsNew {
			rc.Summary.SkippedMissingRequired++
			continue
		}

		if p.IsNew {
			p.Entity = r.strategy.New(rc.TenantID)
		}
		p.Entity.SetExternalID(u.ExternalID)
		claimed[p.Entity.GetID()] = u.ExternalID
		out = append(out, p)
	}
	return out, nil
}

func (r *Reconciler[E]) missingRequired(rc *RunContext, u *Unit) bool {
	missing := false
	for _, field := range r.strategy.RequiredFields() {
		if !u.Values.Has(field) {
			rc.missingRequired(u.ExternalID, field)
			missing = true
		}
	}
	return missing
}

// Apply fingerprints every pending unit against res and applies the ones
// whose fingerprint differs from the stored one.
func (r *Reconciler[E]) Apply(rc *RunContext, pending []*Pending[E], res *Resolution) {
	relations := r.strategy.Relations()
	for _, p := range pending {
		p.res = res
		p.Hash = Fingerprint(p.Unit, relations, res)
		if !p.IsNew && !p.MatchedByLegacyKey && p.Entity.GetSourceHash() == p.Hash {
			p.Changed = false
			continue
		}
		r.apply(rc, p)
	}
}

// Rebase re-applies p on top of a freshly read stored entity, after a write
// lost a unique key race against it.
func (r *Reconciler[E]) Rebase(rc *RunContext, p *Pending[E], stored E) {
	p.Entity = stored
	p.IsNew = false
	p.Entity.SetExternalID(p.Unit.ExternalID)
	r.apply(rc, p)
}

func (r *Reconciler[E]) apply(rc *RunContext, p *Pending[E]) {
	r.strategy.Apply(rc, p.Entity, p.Unit, p.res)
	if !p.IsNew {
		p.Entity.Touch()
	}
	p.Entity.MarkSynced(p.Hash, p.Unit.ChangedAt, rc.Now())
	p.Changed = true
}
