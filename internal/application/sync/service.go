// Package syncapp runs incremental synchronization of tenant sources into the
// canonical store.
package syncapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/datasync/internal/domain/catalog"
	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/erp/datasync/internal/domain/partner"
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/erp/datasync/internal/domain/trade"
	"github.com/erp/datasync/internal/infrastructure/resilience"
	"github.com/erp/datasync/internal/infrastructure/source"
	"github.com/erp/datasync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stores groups the canonical store ports the engine writes through
type Stores struct {
	Customers       integration.CustomerStore
	Representatives integration.RepresentativeStore
	Products        integration.ProductStore
	Orders          integration.OrderStore
	Lookups         integration.LookupStore
	Integrations    integration.IntegrationStore
}

// Config tunes the engine
type Config struct {
	PageSize                int
	CustomerChunkSize       int
	RepresentativeChunkSize int
	ProductChunkSize        int
	OrderChunkSize          int
	// Orders persist their watermark every CheckpointBatches batches or
	// CheckpointInterval, whichever comes first
	CheckpointBatches  int
	CheckpointInterval time.Duration
	Retry              resilience.Policy
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		PageSize:                source.DefaultPageSize,
		CustomerChunkSize:       DefaultChunkSize,
		RepresentativeChunkSize: DefaultChunkSize,
		ProductChunkSize:        DefaultChunkSize,
		OrderChunkSize:          DefaultOrderChunkSize,
		CheckpointBatches:       5,
		CheckpointInterval:      time.Minute,
		Retry:                   resilience.DefaultPolicy(),
	}
}

// SyncOptions selects what one invocation synchronizes
type SyncOptions struct {
	// ForceFullResync ignores stored watermarks when reading. Watermarks
	// still only move forward.
	ForceFullResync bool
	// Kinds restricts the run; empty means every kind with a mapping
	Kinds []integration.EntityKind
}

// DialerFunc opens connections to a tenant source
type DialerFunc func(driver integration.SourceDriver, dsn string) (source.Dialer, error)

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithDialer replaces how tenant sources are dialed
func WithDialer(fn DialerFunc) ServiceOption {
	return func(s *Service) { s.dialer = fn }
}

// WithMetrics records run outcomes on m
func WithMetrics(m *telemetry.SyncMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithRetrierOptions passes options to every retrier the service creates
func WithRetrierOptions(opts ...resilience.Option) ServiceOption {
	return func(s *Service) { s.retrierOpts = append(s.retrierOpts, opts...) }
}

// Service synchronizes tenants
type Service struct {
	stores      Stores
	cfg         Config
	logger      *zap.Logger
	dialer      DialerFunc
	metrics     *telemetry.SyncMetrics
	retrierOpts []resilience.Option
}

// NewService creates a Service
func NewService(stores Stores, cfg Config, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		stores: stores,
		cfg:    cfg,
		logger: logger.Named("sync"),
		dialer: source.DialerFor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync runs the requested kinds for tenantID in dependency order. The first
// failing kind stops the run; the summary then holds the kinds run so far,
// including the failed one.
func (s *Service) Sync(ctx context.Context, tenantID uuid.UUID, opts SyncOptions) (*integration.RunSummary, error) {
	started := time.Now()
	summary := &integration.RunSummary{
		TenantID:        tenantID,
		ForceFullResync: opts.ForceFullResync,
		StartedAt:       started,
	}
	defer func() { summary.Duration = time.Since(started) }()

	ctx, span := telemetry.StartServiceSpan(ctx, "sync", "Sync",
		telemetry.WithAttribute("tenant_id", tenantID.String()),
		telemetry.WithAttribute("force_full_resync", opts.ForceFullResync),
	)
	defer span.End()

	kinds, err := orderKinds(opts.Kinds)
	if err != nil {
		return summary, err
	}

	logger := s.logger.With(zap.String("tenant_id", tenantID.String()))
	sourceRetrier := resilience.NewRetrier("source", s.cfg.Retry, logger, s.retrierOpts...)
	storeRetrier := resilience.NewRetrier("store", s.cfg.Retry, logger, s.retrierOpts...)

	ti, err := resilience.DoValue(ctx, storeRetrier, "load integration",
		func(ctx context.Context) (*integration.TenantIntegration, error) {
			return s.stores.Integrations.Get(ctx, tenantID)
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return summary, fmt.Errorf("load integration of tenant %s: %w", tenantID, err)
	}

	dialect, err := source.DialectFor(ti.SourceDriver)
	if err != nil {
		return summary, err
	}
	dial, err := s.dialer(ti.SourceDriver, ti.SourceDSN)
	if err != nil {
		return summary, err
	}

	conn := source.NewReconnectingConn(dialect, dial, sourceRetrier)
	defer func() {
		if cerr := conn.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("Failed to close source connection", zap.Error(cerr))
		}
	}()
	if err := conn.Connect(ctx); err != nil {
		telemetry.RecordError(span, err)
		return summary, fmt.Errorf("connect to %s source: %w", ti.SourceDriver, err)
	}

	logger.Info("Sync started",
		zap.Strings("kinds", kindNames(kinds)),
		zap.Bool("force_full_resync", opts.ForceFullResync),
	)

	explicit := len(opts.Kinds) > 0
	cache := NewLookupCache()
	for _, kind := range kinds {
		ks := s.synchronizer(kind, storeRetrier)
		ksum, err := s.syncKind(ctx, ti, ks, conn, cache, opts.ForceFullResync, explicit, logger)
		if ksum != nil {
			summary.Add(ksum)
		}
		if err != nil {
			telemetry.RecordError(span, err)
			logger.Error("Sync failed",
				zap.String("kind", kind.String()),
				zap.Error(err),
			)
			return summary, fmt.Errorf("sync %s: %w", kind, err)
		}
	}

	logger.Info("Sync finished",
		zap.Int("upserted", summary.Upserted()),
		zap.Int("skipped", summary.Skipped()),
		zap.Int("conflicts", summary.Conflicts()),
		zap.Duration("duration", time.Since(started)),
	)
	telemetry.SetOK(span)
	return summary, nil
}

func (s *Service) syncKind(
	ctx context.Context,
	ti *integration.TenantIntegration,
	ks kindSynchronizer,
	conn source.Conn,
	cache *LookupCache,
	fullResync bool,
	explicit bool,
	logger *zap.Logger,
) (*integration.SyncSummary, error) {
	kind := ks.Kind()

	raw, err := ti.Mapping(kind)
	if err != nil {
		if !explicit && shared.IsConfigurationError(err) {
			logger.Info("No mapping configured, skipping kind", zap.String("kind", kind.String()))
			return nil, nil
		}
		return nil, err
	}
	cfg, err := mapping.Parse(raw)
	if err != nil {
		return nil, relabelMapping(err, kind)
	}
	if err := ks.Validate(cfg); err != nil {
		return nil, relabelMapping(err, kind)
	}

	rc := NewRunContext(ti.TenantID, kind, cfg, cache, s.logger)
	rc.OwnTarget = ks.Target()

	var stored *time.Time
	if wm := ti.Watermark(kind); wm != nil {
		ts := wm.LastProcessedAt
		stored = &ts
		rc.Summary.WatermarkFrom = &ts
	}

	ctx, span := telemetry.StartSpan(ctx, "sync."+kind.String(),
		telemetry.WithAttribute("tenant_id", ti.TenantID.String()),
	)
	defer span.End()

	err = ks.Run(ctx, rc, conn, stored, fullResync)
	rc.Summary.Finish(err)
	if err != nil {
		telemetry.RecordError(span, err)
	}

	sum := rc.Summary
	s.metrics.RecordRun(ctx, telemetry.SyncOutcome{
		TenantID:  ti.TenantID,
		Kind:      kind.String(),
		Upserted:  sum.Upserted(),
		Skipped:   sum.Skipped(),
		Conflicts: sum.Conflicts(),
		Duration:  sum.Duration,
		Failed:    err != nil,
	})
	rc.Logger.Info("Kind synchronized",
		zap.Int("rows_fetched", sum.RowsFetched),
		zap.Int("batches", sum.Batches),
		zap.Int("created", sum.Created),
		zap.Int("updated", sum.Updated),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("skipped", sum.Skipped()),
		zap.Int("conflicts", sum.Conflicts()),
		zap.Duration("duration", sum.Duration),
	)
	return sum, err
}

func (s *Service) synchronizer(kind integration.EntityKind, retrier *resilience.Retrier) kindSynchronizer {
	st := s.stores
	opts := func(chunk int, cp CheckpointPolicy) KindOptions {
		return KindOptions{PageSize: s.cfg.PageSize, ChunkSize: chunk, Checkpoint: cp}
	}
	switch kind {
	case integration.EntityKindCustomers:
		return NewSynchronizer[*partner.Customer](CustomerStrategy{}, st.Customers, st.Lookups, st.Integrations,
			retrier, opts(s.cfg.CustomerChunkSize, CheckpointPolicy{}), nil)
	case integration.EntityKindRepresentatives:
		return NewSynchronizer[*partner.Representative](RepresentativeStrategy{}, st.Representatives, st.Lookups, st.Integrations,
			retrier, opts(s.cfg.RepresentativeChunkSize, CheckpointPolicy{}), nil)
	case integration.EntityKindProducts:
		return NewSynchronizer[*catalog.Product](ProductStrategy{}, st.Products, st.Lookups, st.Integrations,
			retrier, opts(s.cfg.ProductChunkSize, CheckpointPolicy{}), nil)
	default:
		return NewSynchronizer[*trade.Order](OrderStrategy{}, st.Orders, st.Lookups, st.Integrations,
			retrier, opts(s.cfg.OrderChunkSize, CheckpointPolicy{
				EveryBatches: s.cfg.CheckpointBatches,
				Interval:     s.cfg.CheckpointInterval,
			}), OrderItemsWriter(st.Orders))
	}
}

// orderKinds validates requested kinds and sorts them in dependency order
func orderKinds(requested []integration.EntityKind) ([]integration.EntityKind, error) {
	if len(requested) == 0 {
		return integration.AllEntityKinds(), nil
	}
	want := make(map[integration.EntityKind]bool, len(requested))
	for _, k := range requested {
		if !k.IsValid() {
			return nil, shared.NewConfigurationError("kinds", fmt.Sprintf("unknown entity kind %q", k))
		}
		want[k] = true
	}
	var out []integration.EntityKind
	for _, k := range integration.AllEntityKinds() {
		if want[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

func kindNames(kinds []integration.EntityKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}

// relabelMapping prefixes configuration error keys with the kind's mapping
func relabelMapping(err error, kind integration.EntityKind) error {
	var cfgErr *shared.ConfigurationError
	if errors.As(err, &cfgErr) {
		return &shared.ConfigurationError{
			Key:     "mappings." + kind.String() + "." + cfgErr.Key,
			Message: cfgErr.Message,
			Err:     cfgErr.Err,
		}
	}
	return err
}
