package beads

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// gitignoreTemplate keeps the mutable store files out of git. JSONL
// exports and the config files stay tracked; databases, daemon state,
// and three-way merge artifacts never are.
const gitignoreTemplate = `# SQLite databases
*.db
*.db?*
*.db-journal
*.db-wal
*.db-shm

# Daemon runtime files
daemon.lock
daemon.log
daemon.pid

# Merge artifacts
beads.base.jsonl
beads.base.meta.json
beads.left.jsonl
beads.left.meta.json
beads.right.jsonl
beads.right.meta.json
`

// configYAMLTemplate seeds .beads/config.yaml. bd reads this file; the
// engine only ever writes it once and reads the keys in StoreConfig.
const configYAMLTemplate = `# Beads configuration for this repository.
# Settings here apply to every bd command run in this tree.

# Issue prefix; new issues are numbered <prefix>-1, <prefix>-2, ...
%s

# Use no-db mode: load from JSONL, no SQLite, write back after each command
# no-db: false

# Git branch for beads commits
# sync-branch: ""
`

// StoreConfig mirrors the .beads/config.yaml keys the engine honors.
type StoreConfig struct {
	IssuePrefix string `yaml:"issue-prefix"`
	NoDB        bool   `yaml:"no-db"`
	SyncBranch  string `yaml:"sync-branch"`
}

// LoadStoreConfig reads .beads/config.yaml. A missing file is a zero
// config, not an error.
func LoadStoreConfig(beadsDir string) (*StoreConfig, error) {
	data, err := os.ReadFile(filepath.Join(beadsDir, "config.yaml")) // #nosec G304 - fixed name under the store dir
	if os.IsNotExist(err) {
		return &StoreConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store config: %w", err)
	}
	var cfg StoreConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing store config: %w", err)
	}
	return &cfg, nil
}

// EnsureLayout makes the project's .beads directory ready for sync:
// the JSONL files, metadata, config, ignore rules, the repository-level
// merge attributes, and bd's git hooks. Every step is idempotent, so
// running it against an initialized tree changes nothing.
func (a *Adapter) EnsureLayout(ctx context.Context, issuePrefix string) error {
	beadsDir := filepath.Join(a.dir, BeadsDirName)
	if err := os.MkdirAll(beadsDir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", beadsDir, err)
	}

	for _, name := range []string{"issues.jsonl", "interactions.jsonl"} {
		if err := touch(filepath.Join(beadsDir, name)); err != nil {
			return err
		}
	}

	if err := writeIfAbsent(filepath.Join(beadsDir, "metadata.json"), defaultMetadata()); err != nil {
		return err
	}

	prefixLine := "# issue-prefix: \"\""
	if issuePrefix != "" {
		prefixLine = fmt.Sprintf("issue-prefix: %q", strings.ToLower(issuePrefix))
	}
	configYAML := []byte(fmt.Sprintf(configYAMLTemplate, prefixLine))
	if err := writeIfAbsent(filepath.Join(beadsDir, "config.yaml"), configYAML); err != nil {
		return err
	}

	if err := writeIfAbsent(filepath.Join(beadsDir, ".gitignore"), []byte(gitignoreTemplate)); err != nil {
		return err
	}

	if err := ensureMergeAttributes(a.dir); err != nil {
		return err
	}

	if err := a.HooksInstall(ctx); err != nil {
		a.run.Logger.Warn("bd hooks install failed",
			zap.String("dir", a.dir), zap.Error(err))
	}
	return nil
}

func defaultMetadata() []byte {
	data, _ := json.MarshalIndent(metadata{
		Database:    canonicalDatabaseName,
		JSONLExport: "issues.jsonl",
	}, "", "  ")
	return append(data, '\n')
}

// ensureMergeAttributes appends the beads merge driver lines to the
// repository's .gitattributes when they are missing. The driver itself
// (merge.beads.driver in git config) is installed by bd hooks install.
func ensureMergeAttributes(dir string) error {
	path := filepath.Join(dir, ".gitattributes")

	var existing string
	if data, err := os.ReadFile(path); err == nil { // #nosec G304 - fixed name under the project dir
		existing = string(data)
	}
	if strings.Contains(existing, "merge=beads") &&
		(strings.Contains(existing, ".beads/issues.jsonl") || strings.Contains(existing, ".beads/beads.jsonl")) {
		return nil
	}

	content := existing
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += "\n# Use bd merge for beads JSONL files\n.beads/issues.jsonl merge=beads\n"

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil { // #nosec G306 - .gitattributes must be world-readable
		return fmt.Errorf("updating .gitattributes: %w", err)
	}
	return nil
}

// touch creates an empty file when none exists.
func touch(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) // #nosec G304 - fixed names under the store dir
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return f.Close()
}

func writeIfAbsent(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, content, 0o640); err != nil { // #nosec G306 - store files are group-readable
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return nil
}
