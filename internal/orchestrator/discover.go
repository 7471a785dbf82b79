package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/types"
)

// discoverProjects merges the server's project list into the stored fleet:
// new projects get rows, renames propagate, and projects missing a board
// or checkout get another chance to find them. Huly is the source of truth
// for existence; stored rows never disappear because a listing did.
func (o *Orchestrator) discoverProjects(ctx context.Context) ([]*types.Project, error) {
	listed, err := o.huly.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	stored, err := o.store.GetAllProjects(ctx)
	if err != nil {
		return nil, err
	}
	byIdentifier := make(map[string]*types.Project, len(stored))
	for _, p := range stored {
		byIdentifier[p.Identifier] = p
	}

	boards := o.loadBoards(ctx)

	projects := make([]*types.Project, 0, len(listed))
	for _, lp := range listed {
		p := byIdentifier[lp.Identifier]
		if p == nil {
			p = &types.Project{Identifier: lp.Identifier, Name: lp.Name}
			o.logger.Info("new project observed", zap.String("project", lp.Identifier))
		}
		p.Name = lp.Name

		if p.FilesystemPath == "" {
			p.FilesystemPath = o.locateCheckout(lp.Identifier, lp.Name)
		}
		if p.VibeID == "" {
			p.VibeID = o.ensureBoard(ctx, p, boards)
		}

		if !o.dryRun {
			if err := o.store.UpsertProject(ctx, p); err != nil {
				o.logger.Warn("project upsert failed",
					zap.String("project", p.Identifier), zap.Error(err))
			}
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// loadBoards fetches the Vibe board list keyed by name. A board-server
// outage degrades the cycle instead of failing it: projects without a
// stored board id sync their Beads side only until the server is back.
func (o *Orchestrator) loadBoards(ctx context.Context) map[string]string {
	boards, err := o.vibe.ListProjects(ctx)
	if err != nil {
		o.logger.Warn("listing vibe boards failed; board pairing skipped this cycle", zap.Error(err))
		return nil
	}
	byName := make(map[string]string, len(boards))
	for _, b := range boards {
		if _, dup := byName[b.Name]; !dup {
			byName[b.Name] = b.ID
		}
	}
	return byName
}

// ensureBoard resolves the project's board id, creating the board when the
// server has none by that name.
func (o *Orchestrator) ensureBoard(ctx context.Context, p *types.Project, boards map[string]string) string {
	if boards == nil {
		return ""
	}
	if id, ok := boards[p.Name]; ok {
		return id
	}
	if o.dryRun {
		o.logger.Info("dry-run: would create vibe board",
			zap.String("project", p.Identifier), zap.String("name", p.Name))
		return ""
	}
	board, err := o.vibe.CreateProject(ctx, p.Name, p.FilesystemPath)
	if err != nil {
		o.logger.Warn("creating vibe board failed",
			zap.String("project", p.Identifier), zap.Error(err))
		return ""
	}
	boards[p.Name] = board.ID
	o.logger.Info("vibe board created",
		zap.String("project", p.Identifier), zap.String("board", board.ID))
	return board.ID
}

// locateCheckout probes the projects root for a directory named after the
// identifier or the project name. Projects without a checkout sync their
// server surfaces only.
func (o *Orchestrator) locateCheckout(identifier, name string) string {
	if o.projectsRoot == "" {
		return ""
	}
	for _, candidate := range []string{identifier, strings.ToLower(identifier), name} {
		if candidate == "" {
			continue
		}
		dir := filepath.Join(o.projectsRoot, candidate)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}

// filterProjects applies the per-cycle selection. An explicit filter beats
// everything, the empty flag matters only for fleet-wide cycles.
func filterProjects(projects []*types.Project, opts Options) []*types.Project {
	if opts.Project != "" {
		want := filepath.Clean(opts.Project)
		for _, p := range projects {
			if p.Identifier == opts.Project {
				return []*types.Project{p}
			}
			if p.FilesystemPath != "" && filepath.Clean(p.FilesystemPath) == want {
				return []*types.Project{p}
			}
		}
		return nil
	}
	if !opts.SkipEmpty {
		return projects
	}
	var kept []*types.Project
	for _, p := range projects {
		if p.IsEmpty {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}
