package docsync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/steveyegge/braid/internal/types"
)

// localSettings is the per-project state file some agent tooling reads
// from the checkout. It is an output only: the store stays authoritative
// and nothing in the engine ever reads this file back.
type localSettings struct {
	Project       string `json:"project"`
	LastDocsSync  string `json:"last_docs_sync"`
	FilesExported int    `json:"files_exported"`
	ManagedBy     string `json:"managed_by"`
}

const settingsDir = ".letta"

// writeLocalSettings drops .letta/settings.local.json into the checkout.
// Failures are logged by the caller's error path but never abort an export
// that already succeeded upstream.
func (s *Syncer) writeLocalSettings(project *types.Project, exported int) error {
	if project.FilesystemPath == "" {
		return nil
	}
	dir := filepath.Join(project.FilesystemPath, settingsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	payload := localSettings{
		Project:       project.Identifier,
		LastDocsSync:  s.Now().UTC().Format("2006-01-02T15:04:05Z07:00"),
		FilesExported: exported,
		ManagedBy:     "braid",
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	// write-rename so a reader never sees a torn file
	tmp := filepath.Join(dir, ".settings.local.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, "settings.local.json"))
}
