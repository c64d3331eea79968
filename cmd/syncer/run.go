package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	syncapp "github.com/erp/datasync/internal/application/sync"
	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/erp/datasync/internal/infrastructure/cache"
	"github.com/erp/datasync/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	*rootOptions
	Tenants []string
	All     bool
	Kinds   []string
	Full    bool
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Synchronize one or more tenants",
		Long: `Synchronize tenants from their source databases.

Each tenant runs its kinds in dependency order (representatives, customers,
products, orders). Tenants run concurrently up to sync.max_concurrent_tenants.
A tenant whose kinds are locked by another run is skipped.

Example:
  syncer run --tenant 6f1c...
  syncer run --all --kinds customers,orders
  syncer run --tenant 6f1c... --full`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.All == (len(opts.Tenants) > 0) {
				return errors.New("exactly one of --tenant or --all is required")
			}
			kinds, err := parseKinds(opts.Kinds)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts.rootOptions, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(context.WithoutCancel(ctx)) }()

			return runSync(ctx, a, opts, kinds, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Tenants, "tenant", "t", nil, "tenant id to synchronize (repeatable)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "synchronize every enabled tenant")
	cmd.Flags().StringSliceVarP(&opts.Kinds, "kinds", "k", nil, "entity kinds to run (default: every mapped kind)")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "ignore stored watermarks and re-read every row")

	return cmd
}

func parseKinds(names []string) ([]integration.EntityKind, error) {
	kinds := make([]integration.EntityKind, 0, len(names))
	for _, n := range names {
		k, err := integration.ParseEntityKind(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func parseTenants(ids []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid tenant id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// tenantResult is the outcome of one tenant in a run
type tenantResult struct {
	TenantID uuid.UUID               `json:"tenant_id"`
	RunID    string                  `json:"run_id"`
	Skipped  bool                    `json:"skipped,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Summary  *integration.RunSummary `json:"summary,omitempty"`
}

func runSync(ctx context.Context, a *app, opts *runOptions, kinds []integration.EntityKind, out io.Writer) error {
	var tenants []uuid.UUID
	var err error
	if opts.All {
		tenants, err = a.stores.Integrations.ListEnabled(ctx)
	} else {
		tenants, err = parseTenants(opts.Tenants)
	}
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		a.log.Info("No tenants to synchronize")
		return nil
	}

	lock, err := cache.NewRunLockFactory(a.cfg.Redis, cache.WithLogger(a.log)).CreateLock()
	if err != nil {
		return err
	}

	results := make([]tenantResult, len(tenants))
	var mu sync.Mutex
	var failures []error

	var g errgroup.Group
	g.SetLimit(a.cfg.Sync.MaxConcurrentTenants)
	for i, tenantID := range tenants {
		g.Go(func() error {
			res := runTenant(ctx, a, lock, tenantID, kinds, opts.Full)
			results[i] = res
			if res.Error != "" && !res.Skipped {
				mu.Lock()
				failures = append(failures, fmt.Errorf("tenant %s: %s", tenantID, res.Error))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := printResults(out, opts.Format, results); err != nil {
		return err
	}
	return errors.Join(failures...)
}

// runTenant synchronizes one tenant under its run locks and a run timeout.
// Failures are reported in the result so other tenants keep going.
func runTenant(
	ctx context.Context,
	a *app,
	lock integration.RunLock,
	tenantID uuid.UUID,
	kinds []integration.EntityKind,
	full bool,
) tenantResult {
	runID := uuid.NewString()
	ctx, log := logger.WithRun(ctx, a.log, tenantID.String(), runID)
	res := tenantResult{TenantID: tenantID, RunID: runID}

	release, err := acquireKinds(ctx, lock, tenantID, kinds, a.cfg.Sync.LockTTL)
	if err != nil {
		res.Error = err.Error()
		res.Skipped = errors.Is(err, shared.ErrLocked)
		if res.Skipped {
			log.Warn("Tenant skipped", zap.Error(err))
		} else {
			log.Error("Failed to acquire run lock", zap.Error(err))
		}
		return res
	}
	defer release(context.WithoutCancel(ctx))

	if a.cfg.Sync.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Sync.RunTimeout)
		defer cancel()
	}

	svc := syncapp.NewService(a.stores, a.engineConfig(), log, syncapp.WithMetrics(a.metrics))
	summary, err := svc.Sync(ctx, tenantID, syncapp.SyncOptions{
		ForceFullResync: full,
		Kinds:           kinds,
	})
	res.Summary = summary
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// lockKey names the run lock of one tenant kind
func lockKey(tenantID uuid.UUID, kind integration.EntityKind) string {
	return "sync:" + tenantID.String() + ":" + kind.String()
}

// acquireKinds takes the run lock of every kind the run may touch. Either all
// locks are held on return or none are.
func acquireKinds(
	ctx context.Context,
	lock integration.RunLock,
	tenantID uuid.UUID,
	kinds []integration.EntityKind,
	ttl time.Duration,
) (func(context.Context), error) {
	if len(kinds) == 0 {
		kinds = integration.AllEntityKinds()
	}

	var releases []func(context.Context) error
	releaseAll := func(ctx context.Context) {
		for i := len(releases) - 1; i >= 0; i-- {
			if err := releases[i](ctx); err != nil {
				logger.L(ctx).Warn("Failed to release run lock", zap.Error(err))
			}
		}
	}

	for _, kind := range kinds {
		release, ok, err := lock.Acquire(ctx, lockKey(tenantID, kind), ttl)
		if err != nil {
			releaseAll(ctx)
			return nil, fmt.Errorf("acquire %s lock: %w", kind, err)
		}
		if !ok {
			releaseAll(ctx)
			return nil, fmt.Errorf("%s: %w", kind, shared.ErrLocked)
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

func printResults(w io.Writer, format string, results []tenantResult) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tKIND\tFETCHED\tCREATED\tUPDATED\tUNCHANGED\tSKIPPED\tCONFLICTS\tWATERMARK\tSTATUS")
	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Fprintf(tw, "%s\t-\t\t\t\t\t\t\t\tskipped: %s\n", r.TenantID, r.Error)
			continue
		case r.Summary == nil || len(r.Summary.Kinds) == 0:
			status := "ok"
			if r.Error != "" {
				status = "failed: " + r.Error
			}
			fmt.Fprintf(tw, "%s\t-\t\t\t\t\t\t\t\t%s\n", r.TenantID, status)
			continue
		}
		for _, k := range r.Summary.Kinds {
			status := "ok"
			if k.Error != "" {
				status = "failed: " + k.Error
			}
			wm := "-"
			if k.WatermarkTo != nil {
				wm = integration.FormatWatermark(*k.WatermarkTo)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
				r.TenantID, k.Kind, k.RowsFetched, k.Created, k.Updated, k.Unchanged,
				k.Skipped(), k.Conflicts(), wm, status)
		}
	}
	return tw.Flush()
}
