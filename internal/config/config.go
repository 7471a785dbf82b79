// Package config loads the braid service configuration from the environment,
// with an optional braid.yaml file layered underneath. Environment keys win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the sync service.
// All knobs are settable from the environment; see keys in Load.
type Config struct {
	// Remote endpoints
	HulyAPIURL string
	VibeAPIURL string

	// Scheduler
	SyncInterval      time.Duration // SYNC_INTERVAL is milliseconds on the wire
	DocsSyncInterval  time.Duration // DOCS_SYNC_INTERVAL_MINUTES
	SkipEmptyProjects bool
	IncrementalSync   bool
	ParallelSync      bool
	MaxWorkers        int
	DryRun            bool

	// Beads adapter
	BeadsOperationDelay time.Duration // BEADS_OPERATION_DELAY_MS
	BeadsGitPush        bool          // push after each successful .beads commit
	ProjectsRoot        string        // directory holding project checkouts

	// Durability layer
	UseTemporalSync   bool
	TemporalAddress   string
	TemporalNamespace string

	// Webhook intake; empty addr disables the listener. The secret, when
	// set, must match the sender's or deliveries are rejected.
	HulyWebhookAddr   string
	HulyWebhookSecret string

	// State store
	DBPath string

	// Ambient
	LogLevel     string
	LogFormat    string
	Telemetry    bool
	MappingsPath string // optional TOML vocabulary overrides
}

// Load reads configuration from the environment and, when present, from
// braid.yaml in the working directory (or the path in BRAID_CONFIG).
// Validation failures here are the only fatal errors the service raises.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("SYNC_INTERVAL", 30000)
	v.SetDefault("DOCS_SYNC_INTERVAL_MINUTES", 60)
	v.SetDefault("SKIP_EMPTY_PROJECTS", false)
	v.SetDefault("INCREMENTAL_SYNC", true)
	v.SetDefault("PARALLEL_SYNC", false)
	v.SetDefault("MAX_WORKERS", 4)
	v.SetDefault("DRY_RUN", false)
	v.SetDefault("BEADS_OPERATION_DELAY_MS", 0)
	v.SetDefault("BEADS_GIT_PUSH", false)
	v.SetDefault("USE_TEMPORAL_SYNC", false)
	v.SetDefault("TEMPORAL_ADDRESS", "localhost:7233")
	v.SetDefault("TEMPORAL_NAMESPACE", "default")
	v.SetDefault("BRAID_DB_PATH", defaultDBPath())
	v.SetDefault("BRAID_LOG_LEVEL", "info")
	v.SetDefault("BRAID_LOG_FORMAT", "console")
	v.SetDefault("BRAID_TELEMETRY", false)
	v.SetDefault("PROJECTS_ROOT", "")
	v.SetDefault("HULY_API_URL", "")
	v.SetDefault("VIBE_API_URL", "")
	v.SetDefault("HULY_WEBHOOK_ADDR", "")
	v.SetDefault("HULY_WEBHOOK_SECRET", "")
	v.SetDefault("BRAID_MAPPINGS", "")

	if path := configFilePath(); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	cfg := &Config{
		HulyAPIURL:          v.GetString("HULY_API_URL"),
		VibeAPIURL:          v.GetString("VIBE_API_URL"),
		SyncInterval:        time.Duration(v.GetInt64("SYNC_INTERVAL")) * time.Millisecond,
		DocsSyncInterval:    time.Duration(v.GetInt64("DOCS_SYNC_INTERVAL_MINUTES")) * time.Minute,
		SkipEmptyProjects:   v.GetBool("SKIP_EMPTY_PROJECTS"),
		IncrementalSync:     v.GetBool("INCREMENTAL_SYNC"),
		ParallelSync:        v.GetBool("PARALLEL_SYNC"),
		MaxWorkers:          v.GetInt("MAX_WORKERS"),
		DryRun:              v.GetBool("DRY_RUN"),
		BeadsOperationDelay: time.Duration(v.GetInt64("BEADS_OPERATION_DELAY_MS")) * time.Millisecond,
		BeadsGitPush:        v.GetBool("BEADS_GIT_PUSH"),
		ProjectsRoot:        v.GetString("PROJECTS_ROOT"),
		UseTemporalSync:     v.GetBool("USE_TEMPORAL_SYNC"),
		TemporalAddress:     v.GetString("TEMPORAL_ADDRESS"),
		TemporalNamespace:   v.GetString("TEMPORAL_NAMESPACE"),
		HulyWebhookAddr:     v.GetString("HULY_WEBHOOK_ADDR"),
		HulyWebhookSecret:   v.GetString("HULY_WEBHOOK_SECRET"),
		DBPath:              v.GetString("BRAID_DB_PATH"),
		LogLevel:            v.GetString("BRAID_LOG_LEVEL"),
		LogFormat:           v.GetString("BRAID_LOG_FORMAT"),
		Telemetry:           v.GetBool("BRAID_TELEMETRY"),
		MappingsPath:        v.GetString("BRAID_MAPPINGS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the constraints that are fatal at process start.
func (c *Config) Validate() error {
	if c.SyncInterval < time.Second {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1000 ms, got %d", c.SyncInterval.Milliseconds())
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be at least 1, got %d", c.MaxWorkers)
	}
	if c.BeadsOperationDelay < 0 {
		return fmt.Errorf("BEADS_OPERATION_DELAY_MS cannot be negative")
	}
	if c.UseTemporalSync && c.TemporalAddress == "" {
		return fmt.Errorf("USE_TEMPORAL_SYNC requires TEMPORAL_ADDRESS")
	}
	return nil
}

// RequireRemotes checks the endpoints needed by any syncing command.
// Kept out of Validate so read-only commands (status, inspect) work
// without a full environment.
func (c *Config) RequireRemotes() error {
	if c.HulyAPIURL == "" {
		return fmt.Errorf("HULY_API_URL is not set")
	}
	if c.VibeAPIURL == "" {
		return fmt.Errorf("VIBE_API_URL is not set")
	}
	return nil
}

func configFilePath() string {
	if p := os.Getenv("BRAID_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("braid.yaml"); err == nil {
		return "braid.yaml"
	}
	return ""
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "braid.db"
	}
	return filepath.Join(home, ".braid", "braid.db")
}
