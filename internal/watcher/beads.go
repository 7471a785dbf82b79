package watcher

import (
	"path/filepath"
	"strings"

	"github.com/steveyegge/braid/internal/beads"
	"github.com/steveyegge/braid/internal/types"
)

// beadsIgnoredSuffixes are the SQLite side-files and process droppings that
// churn inside .beads/ without representing an issue change.
var beadsIgnoredSuffixes = []string{
	".db", ".db-wal", ".db-shm", ".lock", ".pid", ".log",
}

// beadsFilter admits store content (JSONL, metadata, config) and rejects
// database side-files, merge artifacts, and the local version marker.
func beadsFilter(relPath string) bool {
	name := filepath.Base(relPath)
	if name == ".local_version" {
		return false
	}
	lower := strings.ToLower(name)
	for _, suffix := range beadsIgnoredSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	// bd merge drivers leave these behind when a resolution is interrupted
	if strings.Contains(name, ".orig") || strings.Contains(name, ".rej") {
		return false
	}
	return true
}

// NewBeads builds the watcher for .beads/ trees. Callers Track each
// project as it is discovered; a fire means the Beads store of that
// project changed outside the engine.
func NewBeads(handler Handler, cfg Config) (*Watcher, error) {
	return newWatcher("beads", beadsFilter, handler, cfg)
}

// TrackProject watches a project's .beads directory, locating it the way
// the adapter does (metadata redirects included). Projects without a
// checkout or a .beads tree are skipped without error.
func TrackProject(w *Watcher, p *types.Project) (bool, error) {
	if p.FilesystemPath == "" {
		return false, nil
	}
	dir := beads.FindBeadsDir(p.FilesystemPath)
	if dir == "" {
		return false, nil
	}
	if err := w.Track(p.Identifier, p.FilesystemPath, dir); err != nil {
		return false, err
	}
	return true, nil
}
