package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/lockfile"
	"github.com/steveyegge/braid/internal/orchestrator"
	"github.com/steveyegge/braid/internal/telemetry"
	"github.com/steveyegge/braid/internal/watcher"
	"github.com/steveyegge/braid/internal/webhook"
	"github.com/steveyegge/braid/internal/workflow"
)

// reconcileEvery is the cadence of the background mapping sweep.
const reconcileEvery = 24 * time.Hour

// retrackEvery is how often serve re-scans project rows for new
// checkouts to watch.
const retrackEvery = 5 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync service",
	Long: `Run braid as a long-lived service: scheduled sync cycles, file
watchers on every project's .beads tree and docs directory, an optional
webhook listener, and a daily mapping sweep.

With USE_TEMPORAL_SYNC=true the cycles run as durable workflows on a
Temporal cluster (TEMPORAL_ADDRESS) and survive restarts of this
process. Otherwise a plain in-process ticker drives the same
orchestrator.

Only one serve per state database can run; a second start reports the
holder and exits.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer telemetry.Shutdown(context.Background())

	lock, err := lockfile.Acquire(lockDir(cfg.DBPath), lockfile.LockInfo{
		Database: cfg.DBPath,
		Version:  Version,
	})
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("braid serve starting",
		zap.String("db", cfg.DBPath),
		zap.String("huly", cfg.HulyAPIURL),
		zap.String("vibe", cfg.VibeAPIURL),
		zap.Duration("interval", cfg.SyncInterval),
		zap.Bool("temporal", cfg.UseTemporalSync))

	if cfg.UseTemporalSync {
		return serveTemporal(ctx, a)
	}
	return servePlain(ctx, a)
}

// serveHooks are the mode-specific halves of the serve loop. Watchers,
// webhook intake, and the reconcile cadence are shared; how each event
// turns into sync work differs between durable and plain modes.
type serveHooks struct {
	// beadsChanged reacts to one settled .beads change set.
	beadsChanged func(identifier, projectPath string, files []string)
	// sink receives decoded webhook deliveries.
	sink webhook.Sink
	// reconcile runs one mapping sweep.
	reconcile func(ctx context.Context)
	// cycles drives sync cycles until ctx ends.
	cycles func(ctx context.Context) error
}

// serveTemporal runs the durable mode: a worker polling the braid task
// queue plus the scheduler singleton. Watcher fires and webhooks become
// workflows; restarts of this process reattach to whatever was running.
func serveTemporal(ctx context.Context, a *app) error {
	c, err := workflow.Dial(a.cfg.TemporalAddress, a.cfg.TemporalNamespace, a.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	acts := workflow.NewActivities(a.store, a.orch, a.engine, a.vibe, a.beads, a.logger)
	w := workflow.NewWorker(c, acts, a.cfg.MaxWorkers)
	if err := w.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	defer w.Stop()

	if err := workflow.StartScheduled(ctx, c, workflow.ScheduleInput{
		IntervalMinutes: scheduleMinutes(a.cfg.SyncInterval),
		Options:         cycleInput(a),
	}); err != nil {
		return err
	}

	h := serveHooks{
		beadsChanged: func(identifier, projectPath string, files []string) {
			ectx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			err := workflow.EnqueueFileChange(ectx, c, workflow.FileChangeInput{
				ProjectIdentifier: identifier,
				ProjectPath:       projectPath,
				Files:             files,
			})
			if err != nil {
				a.logger.Warn("enqueueing file-change sync",
					zap.String("project", identifier), zap.Error(err))
			}
		},
		sink: webhook.SinkFunc(func(sctx context.Context, ev webhook.Event) error {
			return workflow.EnqueueWebhook(sctx, c, workflow.WebhookEvent{
				Type:              ev.Type,
				ProjectIdentifier: ev.ProjectIdentifier,
				IssueIdentifier:   ev.IssueIdentifier,
				ModifiedOn:        ev.ModifiedOn,
			})
		}),
		reconcile: func(rctx context.Context) {
			out, err := workflow.StartReconciliation(rctx, c, workflow.ReconcileInput{Action: workflow.ReconcileMark})
			if err != nil {
				a.logger.Warn("reconciliation sweep failed", zap.Error(err))
				return
			}
			logReconcile(a.logger, out)
		},
		cycles: func(cctx context.Context) error {
			// The scheduler workflow owns the cadence; nothing to drive
			// locally. Block until shutdown. The workflow itself is not
			// cancelled: it parks on the Temporal server and the next
			// serve joins it.
			<-cctx.Done()
			return nil
		},
	}
	return runService(ctx, a, h)
}

// servePlain runs the in-process mode: a ticker drives cycles through
// the orchestrator directly, and watcher/webhook events call the same
// activity methods the workflows would, minus the durability.
func servePlain(ctx context.Context, a *app) error {
	acts := workflow.NewActivities(a.store, a.orch, a.engine, a.vibe, a.beads, a.logger)

	h := serveHooks{
		beadsChanged: func(identifier, projectPath string, files []string) {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if _, err := acts.SyncProject(sctx, workflow.SyncProjectInput{Identifier: identifier}); err != nil {
				a.logger.Warn("file-change sync failed",
					zap.String("project", identifier), zap.Error(err))
			}
		},
		sink: webhook.SinkFunc(func(_ context.Context, ev webhook.Event) error {
			// Accept the delivery immediately; the sync runs detached the
			// way a workflow would.
			go func() {
				wctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
				defer cancel()
				var err error
				switch {
				case ev.IssueIdentifier != "":
					_, err = acts.SyncIssue(wctx, workflow.IssueSyncInput{
						ProjectIdentifier: ev.ProjectIdentifier,
						IssueIdentifier:   ev.IssueIdentifier,
					})
				case ev.ProjectIdentifier != "":
					_, err = acts.SyncProject(wctx, workflow.SyncProjectInput{Identifier: ev.ProjectIdentifier})
				default:
					_, err = a.orch.RunCycle(wctx, cycleOptions(a))
				}
				if err != nil {
					a.logger.Warn("webhook sync failed",
						zap.String("type", ev.Type),
						zap.String("project", ev.ProjectIdentifier),
						zap.String("issue", ev.IssueIdentifier),
						zap.Error(err))
				}
			}()
			return nil
		}),
		reconcile: func(rctx context.Context) {
			out, err := acts.ReconcileMappings(rctx, workflow.ReconcileInput{Action: workflow.ReconcileMark})
			if err != nil {
				a.logger.Warn("reconciliation sweep failed", zap.Error(err))
				return
			}
			logReconcile(a.logger, out)
		},
		cycles: func(cctx context.Context) error {
			tick := time.NewTicker(a.cfg.SyncInterval)
			defer tick.Stop()
			for {
				sum, err := a.orch.RunCycle(cctx, cycleOptions(a))
				if err != nil {
					if cctx.Err() != nil {
						return nil
					}
					a.logger.Error("sync cycle failed", zap.Error(err))
				} else {
					a.logger.Info("sync cycle done",
						zap.Int64("run", sum.RunID),
						zap.Int("projects", sum.Stats.ProjectsTotal),
						zap.Int("synced", sum.Stats.IssuesSynced),
						zap.Int("errors", sum.Stats.Errors),
						zap.Duration("elapsed", sum.Elapsed))
				}
				select {
				case <-cctx.Done():
					return nil
				case <-tick.C:
				}
			}
		},
	}
	return runService(ctx, a, h)
}

// runService owns everything both modes share: the watchers and their
// project tracking, the webhook listener, the reconcile cadence, and
// shutdown ordering.
func runService(ctx context.Context, a *app, h serveHooks) error {
	bw, err := watcher.NewBeads(func(identifier, projectPath string, changed []string) {
		h.beadsChanged(identifier, projectPath, changed)
	}, watcher.Config{Logger: a.logger})
	if err != nil {
		return fmt.Errorf("beads watcher: %w", err)
	}
	defer func() { _ = bw.Close() }()

	dw, err := watcher.NewDocs(func(identifier, projectPath string, changed []string) {
		exportDocs(a, identifier, changed)
	}, watcher.Config{Logger: a.logger})
	if err != nil {
		return fmt.Errorf("docs watcher: %w", err)
	}
	defer func() { _ = dw.Close() }()

	bw.Run(ctx)
	dw.Run(ctx)

	trackProjects(ctx, a, bw, dw)
	go func() {
		tick := time.NewTicker(retrackEvery)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				trackProjects(ctx, a, bw, dw)
			}
		}
	}()

	if a.cfg.HulyWebhookAddr != "" {
		ws := webhook.NewServer(webhook.ServerConfig{
			Sink:   h.sink,
			Secret: []byte(a.cfg.HulyWebhookSecret),
			Logger: a.logger,
		})
		go func() {
			a.logger.Info("webhook listener up", zap.String("addr", a.cfg.HulyWebhookAddr))
			if err := ws.Start(a.cfg.HulyWebhookAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("webhook listener failed", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = ws.Shutdown(sctx)
		}()
	}

	go func() {
		tick := time.NewTicker(reconcileEvery)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				h.reconcile(ctx)
			}
		}
	}()

	err = h.cycles(ctx)
	a.logger.Info("braid serve draining")
	return err
}

// trackProjects points both watchers at every project row with a
// checkout. Track is a no-op for directories already watched, so this
// doubles as the pickup path for projects discovered after start.
func trackProjects(ctx context.Context, a *app, bw, dw *watcher.Watcher) {
	projects, err := a.store.GetAllProjects(ctx)
	if err != nil {
		a.logger.Warn("listing projects for watchers", zap.Error(err))
		return
	}
	for _, p := range projects {
		if p.FilesystemPath == "" {
			continue
		}
		if _, err := watcher.TrackProject(bw, p); err != nil {
			a.logger.Debug("beads watch skipped",
				zap.String("project", p.Identifier), zap.Error(err))
		}
		if _, err := watcher.TrackDocs(dw, p.Identifier, p.FilesystemPath, "docs"); err != nil {
			a.logger.Debug("docs watch skipped",
				zap.String("project", p.Identifier), zap.Error(err))
		}
	}
}

// exportDocs pushes one project's changed documentation immediately.
// The engine's phase 4 handles the slow-cadence full exports; this is
// the fast path for files the watcher saw change.
func exportDocs(a *app, identifier string, changed []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	p, err := a.store.GetProject(ctx, identifier)
	if err != nil {
		a.logger.Warn("docs change for unknown project",
			zap.String("project", identifier), zap.Error(err))
		return
	}
	var last time.Time
	if p.LettaLastSync != nil {
		last = *p.LettaLastSync
	}
	if err := a.docs.SyncProject(ctx, p, last, changed); err != nil {
		a.logger.Warn("docs export failed",
			zap.String("project", identifier), zap.Error(err))
		return
	}
	if err := a.store.SetLettaSyncedAt(ctx, identifier, time.Now()); err != nil {
		a.logger.Warn("recording docs export time",
			zap.String("project", identifier), zap.Error(err))
	}
}

// cycleOptions translates service configuration into one cycle's options.
func cycleOptions(a *app) orchestrator.Options {
	return orchestrator.Options{
		Full:       !a.cfg.IncrementalSync,
		SkipEmpty:  a.cfg.SkipEmptyProjects,
		Parallel:   a.cfg.ParallelSync,
		MaxWorkers: a.cfg.MaxWorkers,
	}
}

// cycleInput is cycleOptions in the durable layer's vocabulary.
func cycleInput(a *app) workflow.OrchestrationInput {
	return workflow.OrchestrationInput{
		Full:       !a.cfg.IncrementalSync,
		SkipEmpty:  a.cfg.SkipEmptyProjects,
		Parallel:   a.cfg.ParallelSync,
		MaxWorkers: a.cfg.MaxWorkers,
	}
}

// scheduleMinutes converts the millisecond SYNC_INTERVAL into the
// durable scheduler's whole-minute cadence. Durable timers floor at one
// minute; sub-minute intervals belong to the plain loop.
func scheduleMinutes(interval time.Duration) int {
	m := int(interval / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

func logReconcile(logger *zap.Logger, out *workflow.ReconcileResult) {
	logger.Info("reconciliation sweep done",
		zap.Int("projects", out.Projects),
		zap.Int("rows", out.Rows),
		zap.Int("stale_beads", out.StaleBeads),
		zap.Int("stale_vibe", out.StaleVibe),
		zap.Int("cleared", out.Cleared))
}
