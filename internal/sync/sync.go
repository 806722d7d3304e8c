package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/schaermu/assetsync/internal/batch"
	"github.com/schaermu/assetsync/internal/config"
	"github.com/schaermu/assetsync/internal/fetch"
	"github.com/schaermu/assetsync/internal/manifest"
	"github.com/schaermu/assetsync/internal/metrics"
	"github.com/schaermu/assetsync/internal/store"
)

// Engine orchestrates the sync process
type Engine struct {
	cfg       *config.Config
	store     store.Store
	getter    fetch.Getter
	fetcher   *fetch.Fetcher
	scheduler *batch.Scheduler
	metrics   *metrics.Metrics
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
	dryRun    bool
}

// Option customizes an Engine
type Option func(*Engine)

// WithMetrics records attempts and outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSleep replaces the backoff wait, e.g. to run retries without delay.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, st store.Store, getter fetch.Getter, logger *slog.Logger, dryRun bool, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		store:  st,
		getter: getter,
		logger: logger,
		dryRun: dryRun,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.fetcher = fetch.NewFetcher(getter, fetch.Options{
		MaxAttempts: cfg.Fetch.MaxAttempts,
		BaseDelay:   cfg.Fetch.BaseDelay,
		Sleep:       e.sleep,
		OnAttempt: func(_ string, elapsed time.Duration, err error) {
			e.metrics.ObserveAttempt(elapsed, err)
		},
	}, logger)
	e.scheduler = batch.NewScheduler(cfg.Batch.Size, logger)

	return e
}

// Run executes the complete sync process. Setup failures (destination,
// manifest) abort the run and return a nil report. Per-item failures are
// collected; the report is returned together with a *batch.BatchError.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.logger.Info("starting sync",
		"manifest", e.cfg.Manifest,
		"dest", e.cfg.Destination(),
		"batch_size", e.scheduler.Size(),
		"dry_run", e.dryRun)

	if err := e.store.EnsureReady(ctx); err != nil {
		e.metrics.ObserveRun("error", time.Now())
		return nil, fmt.Errorf("failed to prepare destination: %w", err)
	}

	m, err := manifest.Load(ctx, e.cfg.Manifest, e.getter)
	if err != nil {
		e.metrics.ObserveRun("error", time.Now())
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	e.logger.Info("manifest loaded", "entries", m.Len())

	plan, failures := e.buildPlan(ctx, m)
	report := &Report{
		Total:   m.Len(),
		Inert:   len(plan.Inert),
		Skipped: len(plan.Skip),
		Failed:  failures,
	}

	e.logger.Info("sync plan",
		"fetch", len(plan.Fetch),
		"skip", len(plan.Skip),
		"inert", len(plan.Inert))

	if e.dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, nothing fetched")
		return report, e.finish(report)
	}

	fetched, err := e.applyPlan(ctx, plan)
	report.Fetched = fetched
	if be, ok := batch.AsBatchError(err); ok {
		report.Failed = append(report.Failed, be.Failures...)
	}

	e.metrics.ObserveItems(metrics.ResultFetched, report.Fetched)
	e.metrics.ObserveItems(metrics.ResultSkipped, report.Skipped)
	e.metrics.ObserveItems(metrics.ResultInert, report.Inert)
	e.metrics.ObserveItems(metrics.ResultFailed, len(report.Failed))

	return report, e.finish(report)
}

// finish logs the summary and turns collected failures into the run error.
func (e *Engine) finish(report *Report) error {
	if len(report.Failed) == 0 {
		e.metrics.ObserveRun("ok", time.Now())
		e.logger.Info("sync completed successfully",
			"fetched", report.Fetched,
			"skipped", report.Skipped,
			"inert", report.Inert)
		return nil
	}

	e.metrics.ObserveRun("partial", time.Now())
	for _, f := range report.Failed {
		e.logger.Error("resource failed", "name", f.Name, "error", f.Err)
	}
	e.logger.Warn("sync completed with failures",
		"fetched", report.Fetched,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
		"failed_names", report.FailedNames())

	return &batch.BatchError{Failures: report.Failed}
}

// buildPlan turns manifest entries into work. Entries without a locator are
// never checked against the store; stored entries never reach the scheduler.
func (e *Engine) buildPlan(ctx context.Context, m *manifest.Manifest) (*Plan, []batch.Failure) {
	plan := &Plan{
		Fetch: make([]batch.Item, 0),
		Skip:  make([]batch.Item, 0),
		Inert: make([]string, 0),
	}
	var failures []batch.Failure

	for _, entry := range m.Entries {
		if !entry.HasLocator() {
			plan.Inert = append(plan.Inert, entry.Name)
			continue
		}

		item := batch.Item{Name: entry.Name, Locator: entry.URL + e.cfg.Source.URLSuffix}

		exists, err := e.store.Exists(ctx, item.Name)
		if err != nil {
			failures = append(failures, batch.Failure{Name: item.Name, Err: err})
			continue
		}
		if exists {
			e.logger.Debug("already synced", "name", item.Name, "dest", e.store.Path(item.Name))
			plan.Skip = append(plan.Skip, item)
			continue
		}

		plan.Fetch = append(plan.Fetch, item)
	}

	return plan, failures
}

// applyPlan fetches and writes every item of plan.Fetch through the
// scheduler. It returns the number of written items and the scheduler error.
func (e *Engine) applyPlan(ctx context.Context, plan *Plan) (int, error) {
	var fetched atomic.Int64

	err := e.scheduler.Run(ctx, plan.Fetch, func(ctx context.Context, item batch.Item) error {
		out := e.fetcher.Fetch(ctx, item.Locator)
		if out.Kind != fetch.Success {
			return out.Err
		}

		if err := e.store.Write(ctx, item.Name, out.Body); err != nil {
			return err
		}

		fetched.Add(1)
		e.logger.Info("fetched resource",
			"name", item.Name,
			"dest", e.store.Path(item.Name),
			"bytes", len(out.Body),
			"attempts", out.Attempts)
		return nil
	})

	return int(fetched.Load()), err
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, item := range plan.Fetch {
		e.logger.Info("[dry-run] would fetch", "name", item.Name, "locator", item.Locator, "dest", e.store.Path(item.Name))
	}
	for _, item := range plan.Skip {
		e.logger.Info("[dry-run] already synced", "name", item.Name)
	}
	for _, name := range plan.Inert {
		e.logger.Debug("[dry-run] no locator", "name", name)
	}
}
