package syncapp

import (
	"context"
	"errors"
	"testing"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/partner"
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/erp/datasync/internal/domain/trade"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Sync_SecondFullResyncWritesNothing(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindCustomers: customerMapping,
	})
	h.source.set("clientes", "",
		customerRow("C1", "Ana Silva", "111.111.111-11", at(1)),
		customerRow("C2", "Bruno Souza", "222.222.222-22", at(2)),
		customerRow("C3", "Carla Dias", "333.333.333-33", at(3)),
	)

	first := h.sync(SyncOptions{}).Kind(integration.EntityKindCustomers)
	require.NotNil(t, first)
	assert.Equal(t, 3, first.Created)
	assert.Equal(t, 3, first.RowsFetched)
	assert.Equal(t, int64(3), first.EstimatedTotal)
	require.NotNil(t, first.WatermarkTo)
	assert.True(t, first.WatermarkTo.Equal(at(3)))
	assert.Equal(t, int64(3), h.count("customers"))

	second := h.sync(SyncOptions{ForceFullResync: true}).Kind(integration.EntityKindCustomers)
	require.NotNil(t, second)
	assert.Equal(t, 3, second.RowsFetched)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 3, second.Unchanged)
	assert.Nil(t, second.WatermarkTo)
	assert.Equal(t, int64(3), h.count("customers"))

	incremental := h.sync(SyncOptions{}).Kind(integration.EntityKindCustomers)
	require.NotNil(t, incremental)
	assert.Zero(t, incremental.RowsFetched)
	assert.Zero(t, incremental.Upserted())
}

func TestService_Sync_WatermarkNeverMovesBack(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindCustomers: customerMapping,
	})
	h.source.set("clientes", "", customerRow("C1", "Ana Silva", "", at(10)))
	h.sync(SyncOptions{})
	require.NotNil(t, h.watermark(integration.EntityKindCustomers))
	assert.True(t, h.watermark(integration.EntityKindCustomers).Equal(at(10)))

	// the source rewrote history with an older timestamp
	h.source.set("clientes", "", customerRow("C1", "Ana Maria Silva", "", at(5)))
	sum := h.sync(SyncOptions{ForceFullResync: true}).Kind(integration.EntityKindCustomers)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.Updated)
	assert.Nil(t, sum.WatermarkTo)
	assert.True(t, h.watermark(integration.EntityKindCustomers).Equal(at(10)))

	h.source.set("clientes", "", customerRow("C1", "Ana Maria Silva", "", at(20)))
	h.sync(SyncOptions{})
	assert.True(t, h.watermark(integration.EntityKindCustomers).Equal(at(20)))
}

func TestService_Sync_DuplicateExternalIDInBatch(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindCustomers: customerMapping,
	})
	h.source.set("clientes", "",
		customerRow("C1", "First Name", "", at(1)),
		customerRow("C1", "Second Name", "", at(2)),
	)

	sum := h.sync(SyncOptions{}).Kind(integration.EntityKindCustomers)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, 1, sum.DuplicatedExternalIDInBatch)
	assert.Equal(t, 1, sum.Skipped())

	found, err := h.stores.Customers.FindByExternalIDs(h.ctx, h.tenantID, []string{"C1"})
	require.NoError(t, err)
	assert.Equal(t, "First Name", found["C1"].Name)
	assert.Equal(t, int64(1), h.count("customers"))
}

func TestService_Sync_LegacyTaxIDFallback(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindCustomers: customerMapping,
	})

	legacy := partner.NewCustomer(h.tenantID)
	legacy.SetName("Loja Antiga")
	legacy.SetTaxID("11.222.333/0001-81")
	legacy.Notes = "imported by hand"
	owned := partner.NewCustomer(h.tenantID)
	owned.SetName("Outra Loja")
	owned.SetTaxID("99.888.777/0001-66")
	owned.SetExternalID("OLD9")
	require.NoError(t, h.stores.Customers.SaveBatch(h.ctx, []*partner.Customer{legacy, owned}))

	h.source.set("clientes", "",
		customerRow("NEW1", "Loja Nova", "11222333000181", at(1)),
		customerRow("NEW2", "Loja Intrusa", "99888777000166", at(2)),
	)

	sum := h.sync(SyncOptions{}).Kind(integration.EntityKindCustomers)
	require.NotNil(t, sum)
	assert.Zero(t, sum.Created)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 1, sum.SkippedExternalIDConflicts)
	assert.Equal(t, int64(2), h.count("customers"))

	found, err := h.stores.Customers.FindByExternalIDs(h.ctx, h.tenantID, []string{"NEW1", "NEW2", "OLD9"})
	require.NoError(t, err)
	require.Contains(t, found, "NEW1")
	assert.Equal(t, legacy.ID, found["NEW1"].ID)
	assert.Equal(t, "Loja Nova", found["NEW1"].Name)
	assert.Equal(t, "imported by hand", found["NEW1"].Notes)
	assert.NotContains(t, found, "NEW2")
	assert.Equal(t, "Outra Loja", found["OLD9"].Name)
}

func TestService_Sync_MissingRequiredField(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindCustomers: customerMapping,
	})
	existing := partner.NewCustomer(h.tenantID)
	existing.SetName("Nome Guardado")
	existing.SetExternalID("C1")
	require.NoError(t, h.stores.Customers.SaveBatch(h.ctx, []*partner.Customer{existing}))

	nameless := customerRow("C2", "", "", at(1))
	nameless["nome"] = nil
	stored := customerRow("C1", "", "", at(2))
	stored["nome"] = nil
	h.source.set("clientes", "", nameless, stored)

	sum := h.sync(SyncOptions{}).Kind(integration.EntityKindCustomers)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.SkippedMissingRequired)
	assert.Equal(t, 2, sum.MissingRequiredField["name"])
	assert.Equal(t, 1, sum.Updated)
	assert.Zero(t, sum.Created)

	found, err := h.stores.Customers.FindByExternalIDs(h.ctx, h.tenantID, []string{"C1", "C2"})
	require.NoError(t, err)
	assert.NotContains(t, found, "C2")
	assert.Equal(t, "Nome Guardado", found["C1"].Name)
}

func TestService_Sync_MissingExternalID(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindCustomers: customerMapping,
	})
	h.source.set("clientes", "",
		customerRow("", "Sem Codigo", "", at(1)),
		customerRow("C1", "Com Codigo", "", at(2)),
	)

	sum := h.sync(SyncOptions{}).Kind(integration.EntityKindCustomers)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.SkippedMissingExternalID)
	assert.Equal(t, 1, sum.Created)
	require.NotEmpty(t, sum.Anomalies)
	assert.Equal(t, integration.AnomalyMissingExternalID, sum.Anomalies[0].Code)
}

func TestService_Sync_RelationsAcrossKinds(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindCustomers:       customerMapping,
		integration.EntityKindRepresentatives: representativeMapping,
	})
	h.source.set("vendedores", "",
		representativeRow("R2", "0008", "Bia Vendas", "R1", at(1)),
		representativeRow("R1", "0007", "Carlos Chefe", "", at(1)),
	)
	c1 := customerRow("C1", "Ana Silva", "", at(1))
	c1["cod_vendedor"] = "7"
	c2 := customerRow("C2", "Bruno Souza", "", at(2))
	c2["cod_vendedor"] = "42"
	h.source.set("clientes", "", c1, c2)

	// customers are requested first but run after representatives
	summary := h.sync(SyncOptions{Kinds: []integration.EntityKind{
		integration.EntityKindCustomers, integration.EntityKindRepresentatives,
	}})
	require.Len(t, summary.Kinds, 2)
	assert.Equal(t, integration.EntityKindRepresentatives, summary.Kinds[0].Kind)
	assert.Equal(t, integration.EntityKindCustomers, summary.Kinds[1].Kind)

	reps, err := h.stores.Representatives.FindByExternalIDs(h.ctx, h.tenantID, []string{"R1", "R2"})
	require.NoError(t, err)
	require.Len(t, reps, 2)
	require.NotNil(t, reps["R2"].SupervisorID)
	assert.Equal(t, reps["R1"].ID, *reps["R2"].SupervisorID)

	customers, err := h.stores.Customers.FindByExternalIDs(h.ctx, h.tenantID, []string{"C1", "C2"})
	require.NoError(t, err)
	require.NotNil(t, customers["C1"].RepresentativeID)
	assert.Equal(t, reps["R1"].ID, *customers["C1"].RepresentativeID)
	assert.Nil(t, customers["C2"].RepresentativeID)

	sum := summary.Kind(integration.EntityKindCustomers)
	assert.Equal(t, 1, sum.UnresolvedRelations[RelationRepresentative])
	assert.Equal(t, 2, sum.Created)
}

func TestService_Sync_OrderItemsAreReplaced(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindProducts: productMapping,
		integration.EntityKindOrders:   orderMapping,
	})
	h.source.set("produtos", "",
		productRow("P1", "SKU-A", "Parafuso", "1.50", at(1)),
		productRow("P2", "SKU-B", "Porca", "0.75", at(1)),
		productRow("P3", "SKU-C", "Arruela", "0.20", at(1)),
	)
	h.source.set("pedidos_itens", "pedido_id",
		orderItemRow("O1", "PED-1", "", "A", "SKU-A", "2", "1.50", at(5)),
		orderItemRow("O1", "PED-1", "", "B", "SKU-B", "4", "0.75", at(5)),
	)

	summary := h.sync(SyncOptions{})
	require.Len(t, summary.Kinds, 2)
	orders := summary.Kind(integration.EntityKindOrders)
	require.NotNil(t, orders)
	assert.Equal(t, 1, orders.Created)
	assert.Equal(t, 2, orders.ItemsUpserted)
	assert.Equal(t, 2, orders.RowsFetched)

	found, err := h.stores.Orders.FindByExternalIDs(h.ctx, h.tenantID, []string{"O1"})
	require.NoError(t, err)
	require.Contains(t, found, "O1")
	first := found["O1"]
	require.Len(t, first.Items, 2)
	assert.ElementsMatch(t, []string{"A", "B"}, first.ItemKeys())
	assert.True(t, first.TotalAmount.Equal(decimal.RequireFromString("6")))
	itemB := first.Items[1]
	require.Equal(t, "B", itemB.ItemKey)
	require.NotNil(t, itemB.ProductID)

	h.source.set("pedidos_itens", "pedido_id",
		orderItemRow("O1", "PED-1", "", "B", "SKU-B", "4", "0.75", at(9)),
		orderItemRow("O1", "PED-1", "", "C", "SKU-C", "10", "0.20", at(9)),
	)
	orders = h.sync(SyncOptions{Kinds: []integration.EntityKind{integration.EntityKindOrders}}).
		Kind(integration.EntityKindOrders)
	require.NotNil(t, orders)
	assert.Equal(t, 1, orders.Updated)
	assert.Equal(t, 1, orders.ItemsDeleted)
	assert.Equal(t, 2, orders.ItemsUpserted)

	found, err = h.stores.Orders.FindByExternalIDs(h.ctx, h.tenantID, []string{"O1"})
	require.NoError(t, err)
	second := found["O1"]
	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{"B", "C"}, second.ItemKeys())
	for _, it := range second.Items {
		if it.ItemKey == "B" {
			assert.Equal(t, itemB.ID, it.ID)
		}
	}
	assert.True(t, second.TotalAmount.Equal(decimal.RequireFromString("5")))
	assert.True(t, h.watermark(integration.EntityKindOrders).Equal(at(9)))
}

func TestService_Sync_OrderCheckpoints(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindOrders: orderMapping,
	})
	h.cfg.PageSize = 1
	h.cfg.CheckpointBatches = 2
	h.source.set("pedidos_itens", "pedido_id",
		orderItemRow("O1", "PED-1", "", "A", "", "1", "1", at(1)),
		orderItemRow("O2", "PED-2", "", "A", "", "1", "1", at(2)),
		orderItemRow("O3", "PED-3", "", "A", "", "1", "1", at(3)),
		orderItemRow("O4", "PED-4", "", "A", "", "1", "1", at(4)),
		orderItemRow("O5", "PED-5", "", "A", "", "1", "1", at(5)),
	)

	orders := h.sync(SyncOptions{}).Kind(integration.EntityKindOrders)
	require.NotNil(t, orders)
	assert.Equal(t, 5, orders.Created)
	assert.Equal(t, 5, orders.Batches)
	assert.Equal(t, 2, orders.Checkpoints)
	assert.True(t, h.watermark(integration.EntityKindOrders).Equal(at(5)))
}

func TestService_Sync_SkipsKindsWithoutMapping(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindProducts: productMapping,
	})
	h.source.set("produtos", "", productRow("P1", "SKU-A", "Parafuso", "1.50", at(1)))

	summary := h.sync(SyncOptions{})
	require.Len(t, summary.Kinds, 1)
	assert.Equal(t, integration.EntityKindProducts, summary.Kinds[0].Kind)
	assert.Equal(t, 1, summary.Upserted())
}

func TestService_Sync_ConfigurationErrors(t *testing.T) {
	t.Run("requested kind without mapping", func(t *testing.T) {
		h := newHarness(t, map[integration.EntityKind]string{
			integration.EntityKindProducts: productMapping,
		})
		_, err := h.service().Sync(h.ctx, h.tenantID, SyncOptions{
			Kinds: []integration.EntityKind{integration.EntityKindCustomers},
		})
		require.Error(t, err)
		assert.True(t, shared.IsConfigurationError(err))
	})

	t.Run("unsupported lookup field", func(t *testing.T) {
		h := newHarness(t, map[integration.EntityKind]string{
			integration.EntityKindCustomers: `{"table":"clientes","lookups":{"representative":"sku"},"fields":{"external_id":"id","name":"nome"}}`,
		})
		_, err := h.service().Sync(h.ctx, h.tenantID, SyncOptions{})
		require.Error(t, err)
		var cfgErr *shared.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "mappings.customers.lookups.representative", cfgErr.Key)
	})

	t.Run("required field not mapped", func(t *testing.T) {
		h := newHarness(t, map[integration.EntityKind]string{
			integration.EntityKindProducts: `{"table":"produtos","fields":{"external_id":"id","name":"descricao"}}`,
		})
		_, err := h.service().Sync(h.ctx, h.tenantID, SyncOptions{})
		var cfgErr *shared.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "mappings.products.fields.sku", cfgErr.Key)
	})

	t.Run("unknown kind", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.service().Sync(h.ctx, h.tenantID, SyncOptions{
			Kinds: []integration.EntityKind{"suppliers"},
		})
		assert.True(t, shared.IsConfigurationError(err))
	})

	t.Run("unknown tenant", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.service().Sync(h.ctx, uuid.New(), SyncOptions{})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

// rejectingItemsStore fails ReplaceItems a number of times before passing
// calls through
type rejectingItemsStore struct {
	integration.OrderStore
	failures int
}

func (s *rejectingItemsStore) ReplaceItems(ctx context.Context, o *trade.Order) (integration.ItemReplaceResult, error) {
	if s.failures > 0 {
		s.failures--
		return integration.ItemReplaceResult{}, errors.New("items write rejected")
	}
	return s.OrderStore.ReplaceItems(ctx, o)
}

func TestService_Sync_FailedItemWriteIsRetriedNextRun(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindOrders: orderMapping,
	})
	h.source.set("pedidos_itens", "pedido_id",
		orderItemRow("O1", "PED-1", "", "A", "", "2", "1.50", at(5)),
		orderItemRow("O1", "PED-1", "", "B", "", "4", "0.75", at(5)),
	)
	orders := h.stores.Orders
	h.stores.Orders = &rejectingItemsStore{OrderStore: orders, failures: 1}

	_, err := h.service().Sync(h.ctx, h.tenantID, SyncOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "items write rejected")
	assert.Nil(t, h.watermark(integration.EntityKindOrders))

	found, err := orders.FindByExternalIDs(h.ctx, h.tenantID, []string{"O1"})
	require.NoError(t, err)
	require.Contains(t, found, "O1")
	assert.Empty(t, found["O1"].SourceHash, "header stays stale until its items are written")
	assert.Empty(t, found["O1"].Items)

	sum := h.sync(SyncOptions{}).Kind(integration.EntityKindOrders)
	require.NotNil(t, sum)
	assert.Equal(t, 1, sum.Updated)
	assert.Zero(t, sum.Unchanged)
	assert.Equal(t, 2, sum.ItemsUpserted)

	found, err = orders.FindByExternalIDs(h.ctx, h.tenantID, []string{"O1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, found["O1"].ItemKeys())
	assert.NotEmpty(t, found["O1"].SourceHash)
	assert.True(t, h.watermark(integration.EntityKindOrders).Equal(at(5)))
}

func TestService_Sync_ItemRowOrderDoesNotRewriteOrders(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindOrders: orderMapping,
	})
	a := orderItemRow("O1", "PED-1", "", "A", "", "2", "1.50", at(5))
	b := orderItemRow("O1", "PED-1", "", "B", "", "4", "0.75", at(5))
	h.source.set("pedidos_itens", "pedido_id", b, a)

	first := h.sync(SyncOptions{}).Kind(integration.EntityKindOrders)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Created)

	h.source.set("pedidos_itens", "pedido_id", a, b)
	second := h.sync(SyncOptions{ForceFullResync: true}).Kind(integration.EntityKindOrders)
	require.NotNil(t, second)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 1, second.Unchanged)
	assert.Zero(t, second.ItemsUpserted)

	found, err := h.stores.Orders.FindByExternalIDs(h.ctx, h.tenantID, []string{"O1"})
	require.NoError(t, err)
	require.Len(t, found["O1"].Items, 2)
	for _, it := range found["O1"].Items {
		switch it.ItemKey {
		case "A":
			assert.Equal(t, 1, it.LineNumber)
		case "B":
			assert.Equal(t, 2, it.LineNumber)
		}
	}
}

func TestService_Sync_OrderRowsWithoutParentKey(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindOrders: orderMapping,
	})
	nullParent := orderItemRow("", "PED-X", "", "A", "", "1", "1", at(1))
	nullParent["pedido_id"] = nil
	h.source.set("pedidos_itens", "pedido_id",
		nullParent,
		orderItemRow("", "PED-Y", "", "A", "", "1", "1", at(2)),
		orderItemRow("O1", "PED-1", "", "A", "", "1", "1", at(3)),
	)

	sum := h.sync(SyncOptions{}).Kind(integration.EntityKindOrders)
	require.NotNil(t, sum)
	assert.Equal(t, 3, sum.RowsFetched)
	assert.Equal(t, 2, sum.SkippedMissingExternalID)
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, int64(1), h.count("orders"))
}

// flakyIntegrationStore drops the connection on the first reads
type flakyIntegrationStore struct {
	integration.IntegrationStore
	failures int
}

func (s *flakyIntegrationStore) Get(ctx context.Context, tenantID uuid.UUID) (*integration.TenantIntegration, error) {
	if s.failures > 0 {
		s.failures--
		return nil, &pgconn.PgError{Code: "08006", Message: "connection failure"}
	}
	return s.IntegrationStore.Get(ctx, tenantID)
}

func TestService_Sync_RetriesIntegrationLoad(t *testing.T) {
	h := newHarness(t, map[integration.EntityKind]string{
		integration.EntityKindProducts: productMapping,
	})
	h.source.set("produtos", "", productRow("P1", "SKU-A", "Parafuso", "1.50", at(1)))
	flaky := &flakyIntegrationStore{IntegrationStore: h.stores.Integrations, failures: 1}
	h.stores.Integrations = flaky

	summary := h.sync(SyncOptions{})
	assert.Zero(t, flaky.failures)
	assert.Equal(t, 1, summary.Upserted())
}
