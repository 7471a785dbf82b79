package watcher

import (
	"os"
	"path/filepath"
	"strings"
)

// docsFilter admits documentation sources: markdown, HTML, and anything
// under an images/ directory. Dotfiles and the engine's own export
// metadata never count as changes; the docs exporter writes those and a
// watcher that saw its own output would loop.
func docsFilter(relPath string) bool {
	clean := filepath.ToSlash(relPath)
	for _, part := range strings.Split(clean, "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}
	if strings.Contains(clean, "images/") || strings.HasPrefix(clean, "images") {
		return true
	}
	switch strings.ToLower(filepath.Ext(clean)) {
	case ".md", ".html":
		return true
	}
	return false
}

// NewDocs builds the watcher for documentation trees. docsDir is the
// subdirectory inside each project that holds the knowledge-base sources.
func NewDocs(handler Handler, cfg Config) (*Watcher, error) {
	return newWatcher("docs", docsFilter, handler, cfg)
}

// TrackDocs watches a project's documentation subtree, adding nested
// directories so fsnotify sees changes below the root. Missing docs trees
// are skipped without error.
func TrackDocs(w *Watcher, identifier, projectPath, docsSubdir string) (bool, error) {
	root := filepath.Join(projectPath, docsSubdir)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false, nil
	}
	if err := w.Track(identifier, projectPath, root); err != nil {
		return false, err
	}
	// fsnotify watches are not recursive; pick up existing subdirectories
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		_ = w.fw.Add(path)
		return nil
	})
	return true, nil
}
