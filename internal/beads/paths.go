package beads

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

const (
	// BeadsDirName is the store directory inside a project tree.
	BeadsDirName = ".beads"

	// canonicalDatabaseName is the bd database filename current builds
	// write. Older trees may carry other names; discovery tolerates them.
	canonicalDatabaseName = "beads.db"
)

// metadata mirrors the fields of .beads/metadata.json the engine reads.
// bd owns the file; we only ever look at where it points.
type metadata struct {
	Database    string `json:"database"`
	JSONLExport string `json:"jsonl_export,omitempty"`
}

func loadMetadata(beadsDir string) *metadata {
	for _, name := range []string{"metadata.json", "config.json"} {
		data, err := os.ReadFile(filepath.Join(beadsDir, name)) // #nosec G304 - fixed names under the store dir
		if err != nil {
			continue
		}
		var m metadata
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		return &m
	}
	return nil
}

// FindBeadsDir locates the .beads directory for a project, walking from
// the project path up through its ancestors. Registered project paths
// sometimes point at a subdirectory of the repository, so the walk finds
// the store wherever the repo root is. Returns "" when no store exists.
// There is no environment override here: a global BEADS_DIR would leak
// one project's store into every other project's sync.
func FindBeadsDir(projectPath string) string {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return ""
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		beadsDir := filepath.Join(dir, BeadsDirName)
		if info, err := os.Stat(beadsDir); err == nil && info.IsDir() {
			return beadsDir
		}
		if dir == filepath.Dir(dir) {
			return ""
		}
	}
}

// FindDatabase locates the SQLite database inside a .beads directory:
// the metadata pointer first, then the canonical name, then any *.db
// that is not a backup or the version-control cache. Returns "" when
// the store is JSONL-only.
func FindDatabase(beadsDir string) string {
	if m := loadMetadata(beadsDir); m != nil && m.Database != "" {
		p := m.Database
		if !filepath.IsAbs(p) {
			p = filepath.Join(beadsDir, p)
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	canonical := filepath.Join(beadsDir, canonicalDatabaseName)
	if _, err := os.Stat(canonical); err == nil {
		return canonical
	}

	matches, err := filepath.Glob(filepath.Join(beadsDir, "*.db"))
	if err != nil {
		return ""
	}
	for _, match := range matches {
		base := filepath.Base(match)
		if strings.Contains(base, ".backup") || base == "vc.db" {
			continue
		}
		return match
	}
	return ""
}

// FindJSONLPath locates the JSONL export inside a .beads directory.
// issues.jsonl is canonical, beads.jsonl the legacy name; the deletions
// log and three-way merge artifacts never count. Falls back to the
// canonical path even when the file does not exist yet, so callers can
// create it.
func FindJSONLPath(beadsDir string) string {
	matches, err := filepath.Glob(filepath.Join(beadsDir, "*.jsonl"))
	if err == nil && len(matches) > 0 {
		for _, want := range jsonlCandidates {
			for _, match := range matches {
				if filepath.Base(match) == want {
					return match
				}
			}
		}
		for _, match := range matches {
			base := filepath.Base(match)
			if base == "deletions.jsonl" || isMergeArtifact(base) {
				continue
			}
			return match
		}
	}
	return filepath.Join(beadsDir, "issues.jsonl")
}
