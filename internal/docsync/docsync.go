// Package docsync exports a project's documentation tree to the knowledge
// base on the slow one-way cadence of phase 4. The platform itself is a
// collaborator behind the Uploader interface; this package owns the scan,
// the content-hash gating that keeps re-runs cheap, and the ProjectFile
// rows surfaced to the indexer.
package docsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/types"
)

// File is one documentation source queued for upload.
type File struct {
	RelPath string
	Hash    string // sha256 hex of the content
	Size    int64
	ModTime time.Time
}

// Uploader pushes documentation files to the knowledge base. Implementations
// live outside the engine; a nil Uploader makes the syncer record-only.
type Uploader interface {
	UploadFiles(ctx context.Context, project *types.Project, files []File) error
}

// FileStore is the slice of the state store the syncer writes: the
// ProjectFile rows the external indexer reads.
type FileStore interface {
	UpsertProjectFile(ctx context.Context, f *types.ProjectFile) error
	GetProjectFiles(ctx context.Context, projectIdentifier string) ([]*types.ProjectFile, error)
}

// Syncer implements the engine's phase 4 collaborator contract.
type Syncer struct {
	store    FileStore
	uploader Uploader
	logger   *zap.Logger

	// DocsSubdir is the documentation root inside each checkout, "docs"
	// when empty.
	DocsSubdir string
	// Now is the clock, swappable in tests.
	Now func() time.Time
}

// New builds a docs syncer. uploader may be nil for record-only operation.
func New(store FileStore, uploader Uploader, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		store:      store,
		uploader:   uploader,
		logger:     logger,
		DocsSubdir: "docs",
		Now:        time.Now,
	}
}

// SyncProject exports the documentation changed since lastExport. When the
// watcher supplies changedFiles the scan narrows to those paths; otherwise
// the whole tree is walked and gated on modification time. Files whose
// content hash matches the stored row are skipped either way, so replays
// and overlapping watcher fires upload nothing twice.
func (s *Syncer) SyncProject(ctx context.Context, project *types.Project, lastExport time.Time, changedFiles []string) error {
	if project.FilesystemPath == "" {
		return nil
	}
	root := filepath.Join(project.FilesystemPath, s.DocsSubdir)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil
	}

	candidates, err := s.scan(root, lastExport, changedFiles)
	if err != nil {
		return fmt.Errorf("scanning docs for %s: %w", project.Identifier, err)
	}
	if len(candidates) == 0 {
		return nil
	}

	fresh, err := s.gate(ctx, project.Identifier, candidates)
	if err != nil {
		return err
	}
	if len(fresh) == 0 {
		s.logger.Debug("docs unchanged by content hash",
			zap.String("project", project.Identifier), zap.Int("scanned", len(candidates)))
		return s.writeLocalSettings(project, 0)
	}

	if s.uploader != nil {
		if err := s.uploader.UploadFiles(ctx, project, fresh); err != nil {
			return fmt.Errorf("uploading docs for %s: %w", project.Identifier, err)
		}
	}

	now := s.Now()
	for _, f := range fresh {
		row := &types.ProjectFile{
			ProjectIdentifier: project.Identifier,
			RelativePath:      f.RelPath,
			ContentHash:       f.Hash,
			Size:              f.Size,
			UploadedAt:        now,
		}
		if err := s.store.UpsertProjectFile(ctx, row); err != nil {
			return fmt.Errorf("recording %s: %w", f.RelPath, err)
		}
	}

	s.logger.Info("docs exported",
		zap.String("project", project.Identifier),
		zap.Int("files", len(fresh)), zap.Int("scanned", len(candidates)))
	return s.writeLocalSettings(project, len(fresh))
}

// scan collects exportable files. An explicit changed-path list wins over
// the mtime walk; paths outside the docs tree or no longer present are
// dropped silently.
func (s *Syncer) scan(root string, lastExport time.Time, changedFiles []string) ([]File, error) {
	if len(changedFiles) > 0 {
		var out []File
		for _, rel := range changedFiles {
			if !exportable(rel) {
				continue
			}
			f, err := stat(root, rel)
			if err != nil {
				continue
			}
			out = append(out, f)
		}
		return out, nil
	}

	var out []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !exportable(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !lastExport.IsZero() && !info.ModTime().After(lastExport) {
			return nil
		}
		f, err := stat(root, rel)
		if err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

// gate drops files whose stored content hash already matches.
func (s *Syncer) gate(ctx context.Context, project string, candidates []File) ([]File, error) {
	rows, err := s.store.GetProjectFiles(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("loading file rows for %s: %w", project, err)
	}
	known := make(map[string]string, len(rows))
	for _, r := range rows {
		known[r.RelativePath] = r.ContentHash
	}

	var fresh []File
	for _, f := range candidates {
		if known[f.RelPath] == f.Hash {
			continue
		}
		fresh = append(fresh, f)
	}
	return fresh, nil
}

// exportable mirrors the docs watcher's filter: markdown, HTML, and
// images/ content, never dotfiles.
func exportable(relPath string) bool {
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

func stat(root, rel string) (File, error) {
	path := filepath.Join(root, rel)
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	hash, err := hashFile(path)
	if err != nil {
		return File{}, err
	}
	return File{RelPath: rel, Hash: hash, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
