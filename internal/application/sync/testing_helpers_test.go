package syncapp

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/erp/datasync/internal/infrastructure/persistence"
	"github.com/erp/datasync/internal/infrastructure/resilience"
	"github.com/erp/datasync/internal/infrastructure/source"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ---------------------------------------------------------------------------
// Fake source
// ---------------------------------------------------------------------------

var (
	fromPattern = regexp.MustCompile(`FROM "([^"]+)"`)
	pagePattern = regexp.MustCompile(`LIMIT (\d+) OFFSET (\d+)$`)
)

type fakeTable struct {
	watermark string
	parent    string
	rows      []mapping.Row
}

// fakeSource answers the queries the extractor issues against in-memory
// tables, using the postgres dialect.
type fakeSource struct {
	mu      sync.Mutex
	tables  map[string]*fakeTable
	queries []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{tables: map[string]*fakeTable{}}
}

// set replaces the content of table
func (f *fakeSource) set(table, parent string, rows ...mapping.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = &fakeTable{watermark: mapping.DefaultWatermarkColumn, parent: parent, rows: rows}
}

func (f *fakeSource) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeSource) Dialect() source.Dialect { return source.PostgresDialect{} }

func (f *fakeSource) Close(context.Context) error { return nil }

func (f *fakeSource) Query(_ context.Context, query string, args ...any) ([]mapping.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)

	m := fromPattern.FindStringSubmatch(query)
	if m == nil {
		return nil, nil
	}
	t, ok := f.tables[m[1]]
	if !ok {
		return nil, nil
	}

	switch {
	case strings.Contains(query, "COUNT("):
		rows := t.since(query, args)
		if t.parent == "" {
			return []mapping.Row{{"total": int64(len(rows))}}, nil
		}
		return []mapping.Row{{"total": int64(len(t.groups(rows)))}}, nil
	case strings.Contains(query, "AS parent_key"):
		return paginate(query, t.groups(t.since(query, args))), nil
	case t.parent != "":
		return t.parentRows(query, args), nil
	default:
		rows := t.since(query, args)
		sort.SliceStable(rows, func(i, j int) bool {
			return t.changedAt(rows[i]).Before(t.changedAt(rows[j]))
		})
		return paginate(query, rows), nil
	}
}

func (t *fakeTable) changedAt(r mapping.Row) time.Time {
	ts, _ := mapping.AsTime(r[t.watermark])
	return ts
}

// parentOf returns the parent key as the source holds it: nil for NULL
func (t *fakeTable) parentOf(r mapping.Row) any {
	v, ok := r[t.parent]
	if !ok || v == nil {
		return nil
	}
	s, _ := v.(string)
	return s
}

// parentRows answers "parent IN (...)" optionally OR'ed with the NULL group,
// whose watermark bound is the last argument
func (t *fakeTable) parentRows(query string, args []any) []mapping.Row {
	withNull := strings.Contains(query, "IS NULL")
	var nullFloor *time.Time
	keys := args
	if withNull && strings.Contains(query, "IS NULL AND") {
		if ts, ok := args[len(args)-1].(time.Time); ok {
			nullFloor = &ts
		}
		keys = args[:len(args)-1]
	}
	want := make(map[string]bool, len(keys))
	for _, a := range keys {
		s, _ := a.(string)
		want[s] = true
	}

	var out []mapping.Row
	for _, r := range t.rows {
		switch p := t.parentOf(r).(type) {
		case nil:
			if withNull && (nullFloor == nil || t.changedAt(r).After(*nullFloor)) {
				out = append(out, r)
			}
		case string:
			if want[p] {
				out = append(out, r)
			}
		}
	}
	return out
}

func (t *fakeTable) since(query string, args []any) []mapping.Row {
	var floor *time.Time
	if strings.Contains(query, "> $1") && len(args) > 0 {
		if ts, ok := args[0].(time.Time); ok {
			floor = &ts
		}
	}
	out := make([]mapping.Row, 0, len(t.rows))
	for _, r := range t.rows {
		if floor == nil || t.changedAt(r).After(*floor) {
			out = append(out, r)
		}
	}
	return out
}

// groups returns one row per parent key ordered by the parent's latest
// change. Rows with a NULL parent form a single group keyed nil.
func (t *fakeTable) groups(rows []mapping.Row) []mapping.Row {
	const nullGroup = "\x00null"
	latest := map[string]time.Time{}
	var keys []string
	for _, r := range rows {
		p, _ := t.parentOf(r).(string)
		if t.parentOf(r) == nil {
			p = nullGroup
		}
		ts := t.changedAt(r)
		prev, seen := latest[p]
		if !seen {
			keys = append(keys, p)
		}
		if !seen || ts.After(prev) {
			latest[p] = ts
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if latest[keys[i]].Equal(latest[keys[j]]) {
			return keys[i] < keys[j]
		}
		return latest[keys[i]].Before(latest[keys[j]])
	})
	out := make([]mapping.Row, len(keys))
	for i, k := range keys {
		var parent any = k
		if k == nullGroup {
			parent = nil
		}
		out[i] = mapping.Row{"parent_key": parent, "max_watermark": latest[k]}
	}
	return out
}

func paginate(query string, rows []mapping.Row) []mapping.Row {
	m := pagePattern.FindStringSubmatch(query)
	if m == nil {
		return rows
	}
	limit, _ := strconv.Atoi(m[1])
	offset, _ := strconv.Atoi(m[2])
	if offset >= len(rows) {
		return nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

const customerMapping = `{
  "table": "clientes",
  "lookups": {"representative": "code"},
  "fields": {
    "external_id": "id",
    "name": "nome",
    "tax_id": "cnpj",
    "email": "email",
    "representative": "cod_vendedor"
  }
}`

const representativeMapping = `{
  "table": "vendedores",
  "fields": {
    "external_id": "id",
    "code": "codigo",
    "name": "nome",
    "supervisor": "id_supervisor"
  }
}`

const productMapping = `{
  "table": "produtos",
  "fields": {
    "external_id": "id",
    "sku": "sku",
    "name": "descricao",
    "price": "preco"
  }
}`

const orderMapping = `{
  "table": "pedidos_itens",
  "parent_key": "pedido_id",
  "lookups": {"customer": "external_id", "product": "sku"},
  "fields": {
    "external_id": "pedido_id",
    "order_code": "numero",
    "customer": "cliente_id"
  },
  "items": {
    "fields": {
      "item_key": "item_id",
      "product": "sku",
      "quantity": "qtd",
      "unit_price": "preco"
    }
  }
}`

type harness struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	tenantID uuid.UUID
	source   *fakeSource
	stores   Stores
	cfg      Config
	logger   *zap.Logger
}

func setupSyncDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, persistence.AutoMigrate(db))
	return db
}

// newHarness stores an integration for a fresh tenant with the given
// mapping documents and returns the stores backing it
func newHarness(t *testing.T, mappings map[integration.EntityKind]string) *harness {
	t.Helper()
	db := setupSyncDB(t)
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		tenantID: uuid.New(),
		source:   newFakeSource(),
		stores: Stores{
			Customers:       persistence.NewGormCustomerRepository(db),
			Representatives: persistence.NewGormRepresentativeRepository(db),
			Products:        persistence.NewGormProductRepository(db),
			Orders:          persistence.NewGormOrderRepository(db),
			Lookups:         persistence.NewGormLookupRepository(db),
			Integrations:    persistence.NewGormIntegrationRepository(db),
		},
		cfg:    DefaultConfig(),
		logger: zaptest.NewLogger(t),
	}
	h.cfg.Retry.MaxAttempts = 2

	raw := make(map[integration.EntityKind]json.RawMessage, len(mappings))
	for kind, doc := range mappings {
		raw[kind] = json.RawMessage(doc)
	}
	require.NoError(t, h.stores.Integrations.Save(h.ctx, &integration.TenantIntegration{
		TenantID:     h.tenantID,
		Name:         "ERP legado",
		SourceDriver: integration.SourceDriverPostgres,
		SourceDSN:    "postgres://sync@erp/vendas",
		Enabled:      true,
		Mappings:     raw,
	}))
	return h
}

func (h *harness) service(opts ...ServiceOption) *Service {
	opts = append([]ServiceOption{
		WithDialer(func(integration.SourceDriver, string) (source.Dialer, error) {
			return func(context.Context) (source.Conn, error) { return h.source, nil }, nil
		}),
		WithRetrierOptions(noSleep()),
	}, opts...)
	return NewService(h.stores, h.cfg, h.logger, opts...)
}

func (h *harness) sync(opts SyncOptions) *integration.RunSummary {
	h.t.Helper()
	summary, err := h.service().Sync(h.ctx, h.tenantID, opts)
	require.NoError(h.t, err)
	return summary
}

func (h *harness) watermark(kind integration.EntityKind) *time.Time {
	h.t.Helper()
	ti, err := h.stores.Integrations.Get(h.ctx, h.tenantID)
	require.NoError(h.t, err)
	wm := ti.Watermark(kind)
	if wm == nil {
		return nil
	}
	ts := wm.LastProcessedAt
	return &ts
}

func (h *harness) count(table string) int64 {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Table(table).Where("tenant_id = ?", h.tenantID).Count(&n).Error)
	return n
}

// at returns a fixed source timestamp offset by minutes
func at(minutes int) time.Time {
	return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute)
}

func customerRow(id, name, cnpj string, changed time.Time) mapping.Row {
	return mapping.Row{
		"id":         id,
		"nome":       name,
		"cnpj":       cnpj,
		"email":      strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		"updated_at": changed,
	}
}

func representativeRow(id, code, name, supervisor string, changed time.Time) mapping.Row {
	r := mapping.Row{"id": id, "codigo": code, "nome": name, "updated_at": changed}
	if supervisor != "" {
		r["id_supervisor"] = supervisor
	}
	return r
}

func productRow(id, sku, name, price string, changed time.Time) mapping.Row {
	return mapping.Row{"id": id, "sku": sku, "descricao": name, "preco": price, "updated_at": changed}
}

func orderItemRow(orderID, number, customer, itemID, sku, qty, price string, changed time.Time) mapping.Row {
	return mapping.Row{
		"pedido_id":  orderID,
		"numero":     number,
		"cliente_id": customer,
		"item_id":    itemID,
		"sku":        sku,
		"qtd":        qty,
		"preco":      price,
		"updated_at": changed,
	}
}

func noSleep() resilience.Option {
	return resilience.WithSleep(func(context.Context, time.Duration) error { return nil })
}

func testRetrier(t *testing.T) *resilience.Retrier {
	return resilience.NewRetrier("test", resilience.Policy{MaxAttempts: 2}, zaptest.NewLogger(t), noSleep())
}
