package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// SyncMetrics records synchronization throughput and outcomes.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	logger *zap.Logger

	rowsUpserted *Counter
	rowsSkipped  *Counter
	conflicts    *Counter
	runDuration  *Histogram
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// NewSyncMetrics creates the sync instruments on cfg.Meter.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{logger: logger}

	var err error
	sm.rowsUpserted, err = NewCounter(cfg.Meter,
		"sync.rows.upserted",
		"Canonical entities created or updated by synchronization",
		"{entities}",
	)
	if err != nil {
		return nil, err
	}

	sm.rowsSkipped, err = NewCounter(cfg.Meter,
		"sync.rows.skipped",
		"Source units skipped because of row-level anomalies",
		"{units}",
	)
	if err != nil {
		return nil, err
	}

	sm.conflicts, err = NewCounter(cfg.Meter,
		"sync.conflicts",
		"Unique key conflicts met while writing",
		"{conflicts}",
	)
	if err != nil {
		return nil, err
	}

	sm.runDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "sync.run.duration",
		Description: "Duration of one entity kind synchronization",
		Unit:        "s",
		Boundaries:  []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
	})
	if err != nil {
		return nil, err
	}

	return sm, nil
}

// SyncOutcome is the counters of one finished kind run
type SyncOutcome struct {
	TenantID  uuid.UUID
	Kind      string
	Upserted  int
	Skipped   int
	Conflicts int
	Duration  time.Duration
	Failed    bool
}

// RecordRun records the outcome of one kind run.
func (sm *SyncMetrics) RecordRun(ctx context.Context, o SyncOutcome) {
	if sm == nil {
		return
	}
	attrs := []attribute.KeyValue{
		AttrTenantID.String(o.TenantID.String()),
		AttrEntityKind.String(o.Kind),
	}
	if o.Upserted > 0 {
		sm.rowsUpserted.Add(ctx, int64(o.Upserted), attrs...)
	}
	if o.Skipped > 0 {
		sm.rowsSkipped.Add(ctx, int64(o.Skipped), attrs...)
	}
	if o.Conflicts > 0 {
		sm.conflicts.Add(ctx, int64(o.Conflicts), attrs...)
	}

	outcome := "success"
	if o.Failed {
		outcome = "failure"
	}
	sm.runDuration.RecordDuration(ctx, o.Duration, append(attrs, AttrOutcome.String(outcome))...)
}
