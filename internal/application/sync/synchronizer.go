package syncapp

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/erp/datasync/internal/infrastructure/resilience"
	"github.com/erp/datasync/internal/infrastructure/source"
	"github.com/erp/datasync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// KindOptions tunes the synchronization of one kind
type KindOptions struct {
	PageSize   int
	ChunkSize  int
	Checkpoint CheckpointPolicy
}

// kindSynchronizer is the type-erased view the Service drives
type kindSynchronizer interface {
	Kind() integration.EntityKind
	Target() integration.LookupTarget
	Validate(cfg *mapping.Config) error
	Run(ctx context.Context, rc *RunContext, conn source.Conn, stored *time.Time, fullResync bool) error
}

// Synchronizer runs the extract, reconcile, resolve, write and commit loop
// for one entity kind.
type Synchronizer[E integration.Record] struct {
	strategy     Strategy[E]
	reconciler   *Reconciler[E]
	resolver     *AssociativeResolver
	writer       *BatchWriter[E]
	integrations integration.IntegrationStore
	retrier      *resilience.Retrier
	opts         KindOptions
}

// NewSynchronizer wires the engine components for one kind. Every store call
// runs under retrier.
func NewSynchronizer[E integration.Record](
	strategy Strategy[E],
	store integration.EntityStore[E],
	lookups integration.LookupStore,
	integrations integration.IntegrationStore,
	retrier *resilience.Retrier,
	opts KindOptions,
	children ChildWriter[E],
) *Synchronizer[E] {
	reconciler := NewReconciler(strategy, store, retrier)
	return &Synchronizer[E]{
		strategy:     strategy,
		reconciler:   reconciler,
		resolver:     NewAssociativeResolver(lookups, retrier),
		writer:       NewBatchWriter(reconciler, store, retrier, opts.ChunkSize, children),
		integrations: integrations,
		retrier:      retrier,
		opts:         opts,
	}
}

func (s *Synchronizer[E]) Kind() integration.EntityKind     { return s.strategy.Kind() }
func (s *Synchronizer[E]) Target() integration.LookupTarget { return s.strategy.Target() }

// Validate checks that cfg can drive this kind
func (s *Synchronizer[E]) Validate(cfg *mapping.Config) error {
	return s.strategy.Validate(cfg)
}

// Run synchronizes every source change after stored (everything when
// fullResync is set) and advances the watermark over what was written.
func (s *Synchronizer[E]) Run(ctx context.Context, rc *RunContext, conn source.Conn, stored *time.Time, fullResync bool) error {
	cfg := rc.Config
	keys := keyColumns(cfg)
	itemKeys := itemKeyColumns(cfg)

	plan := source.Plan{
		Table:           cfg.Table,
		Columns:         mapping.CollectColumns(cfg, append(append([]string(nil), keys...), itemKeys...)...),
		WatermarkColumn: cfg.Watermark(),
		KeyColumns:      keys,
		ParentKey:       cfg.ParentKey,
		ItemKeyColumns:  itemKeys,
		PageSize:        s.opts.PageSize,
	}
	if stored != nil && !fullResync {
		plan.Since = stored
	}

	ext, err := source.NewExtractor(conn, plan)
	if err != nil {
		return err
	}
	if total, err := ext.EstimateCount(ctx); err != nil {
		rc.Logger.Warn("Could not estimate source size", zap.Error(err))
	} else {
		rc.Summary.EstimatedTotal = total
	}

	committer := NewWatermarkCommitter(s.integrations, s.retrier, rc, stored, s.opts.Checkpoint)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := ext.Next(ctx)
		if err != nil {
			return fmt.Errorf("extract %s: %w", cfg.Table, err)
		}
		if len(rows) == 0 {
			break
		}
		rc.Summary.RowsFetched += len(rows)
		rc.Summary.Batches++

		if err := s.processBatch(ctx, rc, BuildUnits(cfg, rows), committer); err != nil {
			return err
		}
		if _, err := committer.MaybeCheckpoint(ctx); err != nil {
			return err
		}
		if ext.Done() {
			break
		}
	}

	_, err = committer.Advance(ctx)
	return err
}

func (s *Synchronizer[E]) processBatch(ctx context.Context, rc *RunContext, units []*Unit, committer *WatermarkCommitter) error {
	ctx, span := telemetry.StartSpan(ctx, "sync.batch",
		telemetry.WithAttribute("kind", rc.Kind.String()),
		telemetry.WithAttribute("units", len(units)),
	)
	defer span.End()

	pending, err := s.reconciler.Reconcile(ctx, rc, units)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	var local *LocalIndex
	relations := s.strategy.Relations()
	for _, rel := range relations {
		if rel.Target == s.strategy.Target() {
			local = NewLocalIndex(rel.Target)
			for _, p := range pending {
				local.Add(p.Unit.Values, p.Entity.GetID())
			}
			break
		}
	}

	batch := make([]*Unit, len(pending))
	for i, p := range pending {
		batch[i] = p.Unit
	}
	res, err := s.resolver.Resolve(ctx, rc, relations, rc.Config.Lookups, batch, local)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	s.reconciler.Apply(rc, pending, res)

	result, err := s.writer.Write(ctx, rc, pending)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	for _, p := range pending {
		if p.Durable() && p.Unit.ChangedAt != nil {
			committer.Observe(*p.Unit.ChangedAt)
		}
	}

	rc.Logger.Debug("Batch written",
		zap.Int("batch", rc.Summary.Batches),
		zap.Int("units", len(units)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("recovered", result.Recovered),
		zap.Int("unresolved", result.Unresolved),
	)
	return nil
}

// keyColumns returns the source columns behind external_id, used to order
// rows that share a watermark value.
func keyColumns(cfg *mapping.Config) []string {
	fm, ok := cfg.Fields[mapping.ExternalIDField]
	if !ok {
		return nil
	}
	return mapping.Columns(fm)
}

// itemKeyColumns returns the source columns behind items.item_key
func itemKeyColumns(cfg *mapping.Config) []string {
	if cfg.Items == nil {
		return nil
	}
	fm, ok := cfg.Items.Fields[ItemKeyField]
	if !ok {
		return nil
	}
	return mapping.Columns(fm)
}
