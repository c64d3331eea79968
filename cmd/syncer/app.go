package main

import (
	"context"
	"errors"
	"fmt"

	syncapp "github.com/erp/datasync/internal/application/sync"
	"github.com/erp/datasync/internal/infrastructure/config"
	"github.com/erp/datasync/internal/infrastructure/logger"
	"github.com/erp/datasync/internal/infrastructure/persistence"
	"github.com/erp/datasync/internal/infrastructure/resilience"
	"github.com/erp/datasync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// app is the wiring shared by the commands: configuration, logger,
// canonical store and, for runs, the telemetry pipeline.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *persistence.Database
	stores  syncapp.Stores
	metrics *telemetry.SyncMetrics

	shutdown []func(context.Context) error
}

func newApp(ctx context.Context, opts *rootOptions, withTelemetry bool) (*app, error) {
	cfg, err := config.LoadFrom(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	if withTelemetry {
		if err := a.startTelemetry(ctx); err != nil {
			_ = a.close(ctx)
			return nil, err
		}
	}

	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, a.log, logger.MapGormLogLevel(cfg.Log.Level))
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.db = db
	a.shutdown = append(a.shutdown, func(context.Context) error { return db.Close() })

	if cfg.Database.Driver == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			_ = a.close(ctx)
			return nil, fmt.Errorf("migrate sqlite store: %w", err)
		}
	}

	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:  withTelemetry && cfg.Telemetry.Enabled,
		DBSystem: cfg.Database.Driver,
	}, a.log); err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("register db tracing: %w", err)
	}

	a.stores = syncapp.Stores{
		Customers:       persistence.NewGormCustomerRepository(db.DB),
		Representatives: persistence.NewGormRepresentativeRepository(db.DB),
		Products:        persistence.NewGormProductRepository(db.DB),
		Orders:          persistence.NewGormOrderRepository(db.DB),
		Lookups:         persistence.NewGormLookupRepository(db.DB),
		Integrations:    persistence.NewGormIntegrationRepository(db.DB),
	}
	return a, nil
}

// startTelemetry brings up the OTLP providers and bridges the logger onto
// them. With telemetry disabled every provider is a no-op.
func (a *app) startTelemetry(ctx context.Context) error {
	tc := a.cfg.Telemetry

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		SamplingRatio:     tc.SamplingRatio,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.log)
	if err != nil {
		return fmt.Errorf("init tracer provider: %w", err)
	}
	a.shutdown = append(a.shutdown, tp.Shutdown)

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.log)
	if err != nil {
		return fmt.Errorf("init meter provider: %w", err)
	}
	a.shutdown = append(a.shutdown, mp.Shutdown)

	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.log)
	if err != nil {
		return fmt.Errorf("init logger provider: %w", err)
	}
	a.shutdown = append(a.shutdown, lp.Shutdown)
	a.log = telemetry.Bridge(a.log, lp, tc.ServiceName)

	metrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:  mp.Meter(telemetry.TracerName),
		Logger: a.log,
	})
	if err != nil {
		return fmt.Errorf("init sync metrics: %w", err)
	}
	a.metrics = metrics
	return nil
}

// engineConfig maps the loaded configuration onto the engine's tuning
func (a *app) engineConfig() syncapp.Config {
	s, r := a.cfg.Sync, a.cfg.Retry
	return syncapp.Config{
		PageSize:                s.PageSize,
		CustomerChunkSize:       s.CustomerChunkSize,
		RepresentativeChunkSize: s.RepresentativeChunkSize,
		ProductChunkSize:        s.ProductChunkSize,
		OrderChunkSize:          s.OrderChunkSize,
		CheckpointBatches:       s.CheckpointBatches,
		CheckpointInterval:      s.CheckpointInterval,
		Retry: resilience.Policy{
			MaxAttempts:       r.MaxAttempts,
			InitialDelay:      r.InitialDelay,
			MaxDelay:          r.MaxDelay,
			RateLimitMaxWaits: r.RateLimitMaxWaits,
			DefaultRetryAfter: r.DefaultRetryAfter,
		},
	}
}

// close releases resources in reverse order of acquisition
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.shutdown = nil
	_ = a.log.Sync()
	return errors.Join(errs...)
}
