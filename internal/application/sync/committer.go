package syncapp

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/infrastructure/resilience"
	"go.uber.org/zap"
)

// CheckpointPolicy decides when a long run persists its progress. The zero
// value disables periodic checkpoints: the watermark moves once, at the end.
type CheckpointPolicy struct {
	EveryBatches int
	Interval     time.Duration
}

func (p CheckpointPolicy) enabled() bool {
	return p.EveryBatches > 0 || p.Interval > 0
}

// WatermarkCommitter tracks the latest source change durably written during a
// run and moves the stored watermark forward, never back.
type WatermarkCommitter struct {
	store   integration.IntegrationStore
	retrier *resilience.Retrier
	rc      *RunContext
	policy  CheckpointPolicy

	committed *time.Time
	candidate *time.Time

	batchesSince   int
	lastCheckpoint time.Time
}

// NewWatermarkCommitter creates a committer. stored is the watermark read at
// run start, nil when none was recorded.
func NewWatermarkCommitter(
	store integration.IntegrationStore,
	retrier *resilience.Retrier,
	rc *RunContext,
	stored *time.Time,
	policy CheckpointPolicy,
) *WatermarkCommitter {
	return &WatermarkCommitter{
		store:          store,
		retrier:        retrier,
		rc:             rc,
		policy:         policy,
		committed:      stored,
		lastCheckpoint: rc.Now(),
	}
}

// Observe offers the change time of a unit that was written or verified
// unchanged.
func (c *WatermarkCommitter) Observe(ts time.Time) {
	if ts.IsZero() {
		return
	}
	ts = ts.UTC()
	if c.candidate == nil || ts.After(*c.candidate) {
		c.candidate = &ts
	}
}

// Candidate returns the highest observed change time
func (c *WatermarkCommitter) Candidate() *time.Time {
	return c.candidate
}

// Advance persists the candidate when it is strictly later than the last
// committed value. It reports whether the store was updated.
func (c *WatermarkCommitter) Advance(ctx context.Context) (bool, error) {
	if c.candidate == nil {
		return false, nil
	}
	if c.committed != nil && !c.candidate.After(*c.committed) {
		return false, nil
	}
	ts := *c.candidate

	advanced, err := resilience.DoValue(ctx, c.retrier, "advance watermark",
		func(ctx context.Context) (bool, error) {
			return c.store.AdvanceWatermark(ctx, c.rc.TenantID, c.rc.Kind, ts)
		})
	if err != nil {
		return false, fmt.Errorf("advance %s watermark: %w", c.rc.Kind, err)
	}
	c.committed = &ts
	if advanced {
		c.rc.Summary.WatermarkTo = &ts
	}
	return advanced, nil
}

// MaybeCheckpoint is called after each batch. It advances the watermark when
// the policy's batch count or interval has been reached.
func (c *WatermarkCommitter) MaybeCheckpoint(ctx context.Context) (bool, error) {
	if !c.policy.enabled() {
		return false, nil
	}
	c.batchesSince++

	now := c.rc.Now()
	due := (c.policy.EveryBatches > 0 && c.batchesSince >= c.policy.EveryBatches) ||
		(c.policy.Interval > 0 && now.Sub(c.lastCheckpoint) >= c.policy.Interval)
	if !due {
		return false, nil
	}
	c.batchesSince = 0
	c.lastCheckpoint = now

	advanced, err := c.Advance(ctx)
	if err != nil {
		return false, err
	}
	if advanced {
		c.rc.Summary.Checkpoints++
		c.rc.Logger.Info("Watermark checkpoint",
			zap.Time("watermark", *c.committed),
			zap.Int("batches", c.rc.Summary.Batches),
		)
	}
	return advanced, nil
}
