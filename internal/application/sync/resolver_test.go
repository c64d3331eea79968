package syncapp

import (
	"context"
	"testing"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type lookupCall struct {
	target integration.LookupTarget
	field  string
	keys   []string
}

// countingLookupStore serves lookups from a fixed table and records calls
type countingLookupStore struct {
	ids   map[integration.LookupTarget]map[string]uuid.UUID
	calls []lookupCall
}

func (s *countingLookupStore) Lookup(_ context.Context, _ uuid.UUID, target integration.LookupTarget, field string, keys []string) (map[string]uuid.UUID, error) {
	s.calls = append(s.calls, lookupCall{target: target, field: field, keys: keys})
	out := map[string]uuid.UUID{}
	for _, k := range keys {
		if id, ok := s.ids[target][k]; ok {
			out[k] = id
		}
	}
	return out, nil
}

func unitWith(externalID string, values mapping.Values) *Unit {
	values[mapping.ExternalIDField] = externalID
	return &Unit{ExternalID: externalID, Values: values, Rows: 1}
}

func TestAssociativeResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	seller := uuid.New()
	manager := uuid.New()

	specs := []RelationSpec{
		{Name: "seller", Target: integration.LookupRepresentatives},
		{Name: "manager", Target: integration.LookupRepresentatives},
	}
	lookups := map[string]string{"seller": "code", "manager": "code"}

	t.Run("one query per target and field", func(t *testing.T) {
		store := &countingLookupStore{ids: map[integration.LookupTarget]map[string]uuid.UUID{
			integration.LookupRepresentatives: {"7": seller, "9": manager},
		}}
		resolver := NewAssociativeResolver(store, testRetrier(t))
		rc := newCustomerRunContext(t)

		units := []*Unit{
			unitWith("C1", mapping.Values{"seller": "007", "manager": "9"}),
			unitWith("C2", mapping.Values{"seller": "7"}),
		}
		res, err := resolver.Resolve(ctx, rc, specs, lookups, units, nil)
		require.NoError(t, err)
		require.Len(t, store.calls, 1)
		assert.ElementsMatch(t, []string{"7", "9"}, store.calls[0].keys)
		assert.Equal(t, "code", res.Field("seller"))

		id, ok := res.ID("seller", "0007")
		assert.True(t, ok)
		assert.Equal(t, seller, id)
		id, ok = res.ID("manager", "9")
		assert.True(t, ok)
		assert.Equal(t, manager, id)
	})

	t.Run("cache serves hits and misses of other targets", func(t *testing.T) {
		store := &countingLookupStore{ids: map[integration.LookupTarget]map[string]uuid.UUID{
			integration.LookupRepresentatives: {"7": seller},
		}}
		resolver := NewAssociativeResolver(store, testRetrier(t))
		rc := newCustomerRunContext(t)
		rc.OwnTarget = integration.LookupCustomers

		units := []*Unit{unitWith("C1", mapping.Values{"seller": "7", "manager": "404"})}
		_, err := resolver.Resolve(ctx, rc, specs, lookups, units, nil)
		require.NoError(t, err)
		require.Len(t, store.calls, 1)
		assert.Equal(t, 2, rc.Cache.Len())

		res, err := resolver.Resolve(ctx, rc, specs, lookups, units, nil)
		require.NoError(t, err)
		assert.Len(t, store.calls, 1)
		_, ok := res.ID("seller", "7")
		assert.True(t, ok)
		_, ok = res.ID("manager", "404")
		assert.False(t, ok)
		assert.Equal(t, 2, rc.Summary.UnresolvedRelations["manager"])
	})

	t.Run("misses on the own target are looked up again", func(t *testing.T) {
		store := &countingLookupStore{}
		resolver := NewAssociativeResolver(store, testRetrier(t))
		rc := newCustomerRunContext(t)
		rc.OwnTarget = integration.LookupRepresentatives

		units := []*Unit{unitWith("R1", mapping.Values{"seller": "12"})}
		for i := 0; i < 2; i++ {
			_, err := resolver.Resolve(ctx, rc, specs[:1], lookups, units, nil)
			require.NoError(t, err)
		}
		assert.Len(t, store.calls, 2)
		assert.Zero(t, rc.Cache.Len())
	})

	t.Run("pending entities of the same batch resolve locally", func(t *testing.T) {
		store := &countingLookupStore{}
		resolver := NewAssociativeResolver(store, testRetrier(t))
		rc := newCustomerRunContext(t)
		rc.OwnTarget = integration.LookupRepresentatives

		bossID := uuid.New()
		boss := unitWith("R1", mapping.Values{"name": "Chefe"})
		report := unitWith("R2", mapping.Values{"name": "Vendedor", RelationSupervisor: "R1"})
		local := NewLocalIndex(integration.LookupRepresentatives)
		local.Add(boss.Values, bossID)
		local.Add(report.Values, uuid.New())

		supervisor := []RelationSpec{{Name: RelationSupervisor, Target: integration.LookupRepresentatives}}
		res, err := resolver.Resolve(ctx, rc, supervisor, nil, []*Unit{boss, report}, local)
		require.NoError(t, err)
		assert.Empty(t, store.calls)
		id, ok := res.ID(RelationSupervisor, "R1")
		assert.True(t, ok)
		assert.Equal(t, bossID, id)
		assert.Equal(t, integration.LookupFieldExternalID, res.Field(RelationSupervisor))
	})

	t.Run("warns when nothing in the batch resolves", func(t *testing.T) {
		core, recorded := observer.New(zapcore.WarnLevel)
		store := &countingLookupStore{}
		resolver := NewAssociativeResolver(store, testRetrier(t))
		rc := newCustomerRunContext(t)
		rc.Logger = zap.New(core)

		units := []*Unit{
			unitWith("C1", mapping.Values{"seller": "1"}),
			unitWith("C2", mapping.Values{"seller": "2"}),
		}
		_, err := resolver.Resolve(ctx, rc, specs[:1], lookups, units, nil)
		require.NoError(t, err)

		warnings := recorded.FilterMessage("No reference resolved in batch, check the lookup configuration").All()
		require.Len(t, warnings, 1)
		assert.Equal(t, "seller", warnings[0].ContextMap()["relation"])
		assert.Equal(t, int64(2), warnings[0].ContextMap()["candidates"])
		assert.Equal(t, 2, rc.Summary.UnresolvedRelations["seller"])
	})
}
