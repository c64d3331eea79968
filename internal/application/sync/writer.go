package syncapp

import (
	"context"
	"fmt"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/erp/datasync/internal/infrastructure/resilience"
	"go.uber.org/zap"
)

// MaxRecoveryAttempts bounds how often a conflicting row is re-read and
// re-applied before it is counted as unresolved
const MaxRecoveryAttempts = 2

// Default chunk sizes per kind
const (
	DefaultChunkSize      = 250
	DefaultOrderChunkSize = 20
)

// ChildWriter persists what hangs below an entity once the entity itself is
// written (order items).
//
// While a ChildWriter is active the entity is saved with an empty source
// hash, and Write must store the hash together with the children. A child
// write that fails then leaves the entity stale instead of unchanged.
type ChildWriter[E integration.Record] interface {
	// Active reports whether rc's mapping writes children at all
	Active(rc *RunContext) bool
	Write(ctx context.Context, rc *RunContext, e E) (integration.ItemReplaceResult, error)
}

// WriteResult counts what one Write call did
type WriteResult struct {
	Created       int
	Updated       int
	Unchanged     int
	Recovered     int
	Unresolved    int
	ItemsUpserted int
	ItemsDeleted  int
}

// BatchWriter persists reconciled units in chunks
type BatchWriter[E integration.Record] struct {
	reconciler *Reconciler[E]
	store      integration.EntityStore[E]
	retrier    *resilience.Retrier
	chunkSize  int
	children   ChildWriter[E]
}

// NewBatchWriter creates a writer saving chunkSize entities per statement.
// children may be nil.
func NewBatchWriter[E integration.Record](
	reconciler *Reconciler[E],
	store integration.EntityStore[E],
	retrier *resilience.Retrier,
	chunkSize int,
	children ChildWriter[E],
) *BatchWriter[E] {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BatchWriter[E]{
		reconciler: reconciler,
		store:      store,
		retrier:    retrier,
		chunkSize:  chunkSize,
		children:   children,
	}
}

// Write saves every changed pending unit. A chunk that hits a unique key
// conflict is retried row by row; a conflicting row is recovered by
// re-reading the record that won the race and re-applying the unit onto it.
// Row-level failures are counted; only store failures abort.
func (w *BatchWriter[E]) Write(ctx context.Context, rc *RunContext, pending []*Pending[E]) (WriteResult, error) {
	var result WriteResult
	defer func() { w.account(rc, result) }()

	dirty := make([]*Pending[E], 0, len(pending))
	for _, p := range pending {
		if !p.Changed {
			p.Outcome = OutcomeUnchanged
			result.Unchanged++
			continue
		}
		dirty = append(dirty, p)
	}

	for start := 0; start < len(dirty); start += w.chunkSize {
		end := start + w.chunkSize
		if end > len(dirty) {
			end = len(dirty)
		}
		chunk := dirty[start:end]

		err := w.save(ctx, rc, chunk)
		switch {
		case err == nil:
			for _, p := range chunk {
				if err := w.written(ctx, rc, p, &result); err != nil {
					return result, err
				}
			}
		case shared.IsConstraintConflict(err):
			rc.Logger.Debug("Chunk hit a unique key conflict, writing rows one by one",
				zap.Int("rows", len(chunk)),
				zap.Error(err),
			)
			for _, p := range chunk {
				if err := w.writeOne(ctx, rc, p, &result); err != nil {
					return result, err
				}
			}
		default:
			return result, fmt.Errorf("save %s: %w", rc.Kind, err)
		}
	}
	return result, nil
}

func (w *BatchWriter[E]) save(ctx context.Context, rc *RunContext, chunk []*Pending[E]) error {
	withhold := w.childrenActive(rc)
	entities := make([]E, len(chunk))
	for i, p := range chunk {
		entities[i] = p.Entity
		if withhold {
			p.Entity.SetSourceHash("")
		}
	}
	err := w.retrier.Do(ctx, "save batch", func(ctx context.Context) error {
		return w.store.SaveBatch(ctx, entities)
	})
	if withhold {
		for _, p := range chunk {
			p.Entity.SetSourceHash(p.Hash)
		}
	}
	return err
}

func (w *BatchWriter[E]) childrenActive(rc *RunContext) bool {
	return w.children != nil && w.children.Active(rc)
}

func (w *BatchWriter[E]) writeOne(ctx context.Context, rc *RunContext, p *Pending[E], result *WriteResult) error {
	err := w.save(ctx, rc, []*Pending[E]{p})
	if err == nil {
		return w.written(ctx, rc, p, result)
	}
	if !shared.IsConstraintConflict(err) {
		return fmt.Errorf("save %s %s: %w", rc.Kind, p.Unit.ExternalID, err)
	}

	for attempt := 1; attempt <= MaxRecoveryAttempts; attempt++ {
		stored, found, rerr := w.reread(ctx, rc, p)
		if rerr != nil {
			return rerr
		}
		if found {
			if owner := stored.GetExternalID(); owner != "" && owner != p.Unit.ExternalID {
				err = fmt.Errorf("%w: legacy key %q belongs to external id %q",
					shared.ErrConstraintConflict, stored.LegacyKey(), owner)
				break
			}
			w.reconciler.Rebase(rc, p, stored)
		}

		err = w.save(ctx, rc, []*Pending[E]{p})
		if err == nil {
			rc.Logger.Debug("Recovered unique key conflict",
				zap.String("external_id", p.Unit.ExternalID),
				zap.Int("attempt", attempt),
			)
			result.Recovered++
			return w.written(ctx, rc, p, result)
		}
		if !shared.IsConstraintConflict(err) {
			return fmt.Errorf("save %s %s: %w", rc.Kind, p.Unit.ExternalID, err)
		}
	}

	p.Outcome = OutcomeUnresolved
	result.Unresolved++
	rc.conflictUnresolved(p.Unit.ExternalID, err)
	rc.Logger.Warn("Unique key conflict could not be recovered",
		zap.String("external_id", p.Unit.ExternalID),
		zap.Error(err),
	)
	return nil
}

// reread fetches the stored record a conflicting unit collides with: by
// external id first, then by legacy key.
func (w *BatchWriter[E]) reread(ctx context.Context, rc *RunContext, p *Pending[E]) (E, bool, error) {
	var zero E

	byID, err := resilience.DoValue(ctx, w.retrier, "reread by external id",
		func(ctx context.Context) (map[string]E, error) {
			return w.store.FindByExternalIDs(ctx, rc.TenantID, []string{p.Unit.ExternalID})
		})
	if err != nil {
		return zero, false, fmt.Errorf("reread %s %s: %w", rc.Kind, p.Unit.ExternalID, err)
	}
	if e, ok := byID[p.Unit.ExternalID]; ok {
		return e, true, nil
	}

	key := w.reconciler.strategy.LegacyKey(p.Unit.Values)
	if key == "" {
		return zero, false, nil
	}
	byKey, err := resilience.DoValue(ctx, w.retrier, "reread by legacy key",
		func(ctx context.Context) (map[string]E, error) {
			return w.store.FindByLegacyKeys(ctx, rc.TenantID, []string{key})
		})
	if err != nil {
		return zero, false, fmt.Errorf("reread %s %s: %w", rc.Kind, p.Unit.ExternalID, err)
	}
	e, ok := byKey[key]
	return e, ok, nil
}

func (w *BatchWriter[E]) written(ctx context.Context, rc *RunContext, p *Pending[E], result *WriteResult) error {
	if p.IsNew {
		p.Outcome = OutcomeCreated
		result.Created++
	} else {
		p.Outcome = OutcomeUpdated
		result.Updated++
	}
	if !w.childrenActive(rc) {
		return nil
	}

	items, err := resilience.DoValue(ctx, w.retrier, "replace children",
		func(ctx context.Context) (integration.ItemReplaceResult, error) {
			return w.children.Write(ctx, rc, p.Entity)
		})
	if err != nil {
		return fmt.Errorf("replace items of %s %s: %w", rc.Kind, p.Unit.ExternalID, err)
	}
	result.ItemsUpserted += items.Upserted
	result.ItemsDeleted += items.Deleted
	return nil
}

func (w *BatchWriter[E]) account(rc *RunContext, r WriteResult) {
	s := rc.Summary
	s.Created += r.Created
	s.Updated += r.Updated
	s.Unchanged += r.Unchanged
	s.ConflictsRecovered += r.Recovered
	s.ItemsUpserted += r.ItemsUpserted
	s.ItemsDeleted += r.ItemsDeleted
}
