package syncapp

import (
	"context"
	"fmt"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/erp/datasync/internal/infrastructure/resilience"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RelationSpec describes a reference from the synchronized kind to another
// entity set.
type RelationSpec struct {
	// Name is both the canonical field holding the reference and the key of
	// the relation in the mapping's lookups
	Name   string
	Target integration.LookupTarget
	// Items marks references held by item values instead of the header
	Items bool
}

func (s RelationSpec) refs(u *Unit) []any {
	if !s.Items {
		if !u.Values.Has(s.Name) {
			return nil
		}
		return []any{u.Values[s.Name]}
	}
	out := make([]any, 0, len(u.Items))
	for _, item := range u.Items {
		if item.Has(s.Name) {
			out = append(out, item[s.Name])
		}
	}
	return out
}

// Resolution holds the ids resolved for one batch, per relation
type Resolution struct {
	fields map[string]string
	ids    map[string]map[string]uuid.UUID
}

// ID returns the id the raw reference resolved to for relation
func (r *Resolution) ID(relation string, raw any) (uuid.UUID, bool) {
	if r == nil {
		return uuid.Nil, false
	}
	field, ok := r.fields[relation]
	if !ok {
		return uuid.Nil, false
	}
	key, ok := integration.NormalizeLookupKey(field, raw)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := r.ids[relation][key]
	return id, ok
}

// Field returns the lookup field used for relation
func (r *Resolution) Field(relation string) string {
	return r.fields[relation]
}

// LocalIndex lets references resolve against entities pending in the same
// batch, so a representative can point at a supervisor created alongside it.
type LocalIndex struct {
	Target  integration.LookupTarget
	entries []localEntry
	byField map[string]map[string]uuid.UUID
}

type localEntry struct {
	values mapping.Values
	id     uuid.UUID
}

// NewLocalIndex creates an empty index for target
func NewLocalIndex(target integration.LookupTarget) *LocalIndex {
	return &LocalIndex{Target: target}
}

// Add registers a pending entity and the values it is being written with
func (l *LocalIndex) Add(values mapping.Values, id uuid.UUID) {
	l.entries = append(l.entries, localEntry{values: values, id: id})
	l.byField = nil
}

func (l *LocalIndex) lookup(field, key string) (uuid.UUID, bool) {
	if l == nil {
		return uuid.Nil, false
	}
	if l.byField == nil {
		l.byField = make(map[string]map[string]uuid.UUID)
	}
	idx, ok := l.byField[field]
	if !ok {
		idx = make(map[string]uuid.UUID, len(l.entries))
		for _, e := range l.entries {
			k, ok := integration.NormalizeLookupKey(field, e.values[field])
			if !ok {
				continue
			}
			if _, taken := idx[k]; !taken {
				idx[k] = e.id
			}
		}
		l.byField[field] = idx
	}
	id, ok := idx[key]
	return id, ok
}

// AssociativeResolver turns mapped references into canonical entity ids
type AssociativeResolver struct {
	store   integration.LookupStore
	retrier *resilience.Retrier
}

// NewAssociativeResolver creates a resolver over store. Lookups run under retrier.
func NewAssociativeResolver(store integration.LookupStore, retrier *resilience.Retrier) *AssociativeResolver {
	return &AssociativeResolver{store: store, retrier: retrier}
}

type lookupGroup struct {
	target integration.LookupTarget
	field  string
	keys   []string
	seen   map[string]bool
	specs  []string
}

// Resolve prefetches every reference of units with one query per distinct
// (target, lookup field). lookups maps relation names to lookup fields;
// relations without an entry are looked up by external_id. local, when its
// target matches a relation, is consulted before the store.
//
// A reference without a match is counted as unresolved and left for the
// strategy to skip.
func (r *AssociativeResolver) Resolve(
	ctx context.Context,
	rc *RunContext,
	specs []RelationSpec,
	lookups map[string]string,
	units []*Unit,
	local *LocalIndex,
) (*Resolution, error) {
	res := &Resolution{
		fields: make(map[string]string, len(specs)),
		ids:    make(map[string]map[string]uuid.UUID, len(specs)),
	}

	var groups []*lookupGroup
	groupOf := func(target integration.LookupTarget, field string) *lookupGroup {
		for _, g := range groups {
			if g.target == target && g.field == field {
				return g
			}
		}
		g := &lookupGroup{target: target, field: field, seen: map[string]bool{}}
		groups = append(groups, g)
		return g
	}

	candidates := make(map[string]int, len(specs))
	for _, spec := range specs {
		field := integration.LookupFieldExternalID
		if f, ok := lookups[spec.Name]; ok && f != "" {
			field = f
		}
		res.fields[spec.Name] = field
		ids := make(map[string]uuid.UUID)
		res.ids[spec.Name] = ids

		g := groupOf(spec.Target, field)
		g.specs = append(g.specs, spec.Name)

		distinct := map[string]bool{}
		for _, u := range units {
			for _, raw := range spec.refs(u) {
				key, ok := integration.NormalizeLookupKey(field, raw)
				if !ok || distinct[key] {
					continue
				}
				distinct[key] = true

				if local != nil && local.Target == spec.Target {
					if id, hit := local.lookup(field, key); hit {
						ids[key] = id
						continue
					}
				}
				if e, cached := rc.Cache.get(spec.Target, field, key); cached {
					if e.found {
						ids[key] = e.id
					}
					continue
				}
				if !g.seen[key] {
					g.seen[key] = true
					g.keys = append(g.keys, key)
				}
			}
		}
		candidates[spec.Name] = len(distinct)
	}

	for _, g := range groups {
		if len(g.keys) == 0 {
			continue
		}
		g := g
		found, err := resilience.DoValue(ctx, r.retrier, "lookup "+string(g.target),
			func(ctx context.Context) (map[string]uuid.UUID, error) {
				return r.store.Lookup(ctx, rc.TenantID, g.target, g.field, g.keys)
			})
		if err != nil {
			return nil, fmt.Errorf("resolve %s by %s: %w", g.target, g.field, err)
		}
		for _, key := range g.keys {
			id, ok := found[key]
			if rc.cacheable(g.target, ok) {
				rc.Cache.put(g.target, g.field, key, id, ok)
			}
			if !ok {
				continue
			}
			for _, name := range g.specs {
				res.ids[name][key] = id
			}
		}
	}

	for _, spec := range specs {
		field := res.fields[spec.Name]
		matched := 0
		for _, u := range units {
			for _, raw := range spec.refs(u) {
				key, ok := integration.NormalizeLookupKey(field, raw)
				if !ok {
					continue
				}
				if _, hit := res.ids[spec.Name][key]; hit {
					matched++
					continue
				}
				rc.unresolvedRelation(u.ExternalID, spec.Name, key)
			}
		}
		if matched == 0 && candidates[spec.Name] > 0 {
			rc.Logger.Warn("No reference resolved in batch, check the lookup configuration",
				zap.String("relation", spec.Name),
				zap.String("target", string(spec.Target)),
				zap.String("lookup_field", field),
				zap.Int("candidates", candidates[spec.Name]),
			)
		}
	}

	return res, nil
}
