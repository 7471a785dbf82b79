package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/beads"
	"github.com/steveyegge/braid/internal/config"
	"github.com/steveyegge/braid/internal/docsync"
	"github.com/steveyegge/braid/internal/engine"
	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/logging"
	"github.com/steveyegge/braid/internal/mapper"
	"github.com/steveyegge/braid/internal/orchestrator"
	"github.com/steveyegge/braid/internal/remote"
	"github.com/steveyegge/braid/internal/store"
	"github.com/steveyegge/braid/internal/telemetry"
	"github.com/steveyegge/braid/internal/vibe"
)

// app bundles the process-lifetime collaborators built once per command
// and injected everywhere: store, remote clients, engine, orchestrator.
// Nothing in the tree reaches for globals.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics

	store store.Store
	huly  *huly.Client
	vibe  *vibe.Client
	beads engine.BeadsFactory
	docs  *docsync.Syncer

	engine *engine.Engine
	orch   *orchestrator.Orchestrator
}

// bootstrap loads configuration and builds the logger and telemetry
// providers. Callers own telemetry.Shutdown and logger.Sync.
func bootstrap(ctx context.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	if err := telemetry.Init(ctx, "braid", Version); err != nil {
		logger.Warn("telemetry init failed, continuing without", zap.Error(err))
	}
	return cfg, logger, nil
}

// buildApp wires the full sync stack. Commands that only read the store
// (status, inspect) use openStore instead and skip the remote half.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if err := cfg.RequireRemotes(); err != nil {
		return nil, err
	}

	st, err := store.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	var s store.Store = st
	if telemetry.Enabled() {
		s = telemetry.WrapStore(s)
	}

	mapping := mapper.DefaultMapping()
	if cfg.MappingsPath != "" {
		mapping, err = mapper.LoadMapping(cfg.MappingsPath)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("loading mappings: %w", err)
		}
	}

	metrics := telemetry.NewSyncMetrics()
	httpc := remote.NewHTTPClient()
	hulyClient := huly.NewClient(cfg.HulyAPIURL, httpc, logger, metrics)
	vibeClient := vibe.NewClient(cfg.VibeAPIURL, httpc, logger, metrics)

	runner := beads.NewRunner(logger, metrics, cfg.BeadsOperationDelay)
	factory := func(projectPath string) engine.BeadsOps {
		return beads.NewAdapter(runner, projectPath)
	}
	docs := docsync.New(s, nil, logger)

	eng := engine.New(engine.Config{
		Store:        s,
		Huly:         hulyClient,
		Vibe:         vibeClient,
		Beads:        factory,
		Committer:    beads.NewCommitter(logger, cfg.BeadsGitPush),
		Docs:         docs,
		Mapping:      mapping,
		Logger:       logger,
		Metrics:      metrics,
		DryRun:       cfg.DryRun,
		DocsInterval: cfg.DocsSyncInterval,
	})

	orch := orchestrator.New(orchestrator.Config{
		Store:        s,
		Huly:         hulyClient,
		Vibe:         vibeClient,
		Engine:       eng,
		Logger:       logger,
		Metrics:      metrics,
		ProjectsRoot: cfg.ProjectsRoot,
		DryRun:       cfg.DryRun,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		store:   s,
		huly:    hulyClient,
		vibe:    vibeClient,
		beads:   factory,
		docs:    docs,
		engine:  eng,
		orch:    orch,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
}

// openStore opens the state database for read-only commands without
// touching the remote endpoints.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening state store at %s: %w", cfg.DBPath, err)
	}
	return st, nil
}

// lockDir is where the serve lock lives: next to the state database.
func lockDir(dbPath string) string {
	return filepath.Dir(dbPath)
}

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
