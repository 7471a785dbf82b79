package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/types"
)

// SyncIssue applies one Huly issue's state across the other surfaces: the
// phase 1 Vibe upsert and the phase 3a Beads reconciliation, parent edge
// included, followed by the usual commit. Phases 2 and 3b never run here;
// they carry the opposite direction and belong to full cycles.
//
// An identifier the server no longer has tombstones the stored mapping,
// exactly as a full cycle would on a 404.
func (e *Engine) SyncIssue(ctx context.Context, project *types.Project, identifier string) (*Result, error) {
	res := &Result{Project: project.Identifier}
	log := e.logger.With(
		zap.String("project", project.Identifier),
		zap.String("identifier", identifier))

	issue, err := e.huly.GetIssue(ctx, identifier)
	if err != nil {
		return res, fmt.Errorf("fetching %s: %w", identifier, err)
	}

	if issue == nil {
		rows, err := e.store.GetProjectIssues(ctx, project.Identifier)
		if err != nil {
			return res, fmt.Errorf("loading stored rows: %w", err)
		}
		for _, row := range rows {
			if row.Identifier != identifier || row.DeletedFromHuly {
				continue
			}
			e.tombstone(ctx, identifier, log)
			res.Phase3.Synced++
			break
		}
		return res, nil
	}

	page := &huly.IssuePage{Issues: []huly.Issue{*issue}, Count: 1}
	snap, err := e.captureSnapshot(ctx, project, page)
	if err != nil {
		return res, fmt.Errorf("snapshot for %s: %w", identifier, err)
	}

	e.phase1(ctx, snap, &res.Phase1, log)

	if snap.project.FilesystemPath != "" {
		cycle := newBeadsCycle(snap)
		e.phase3a(ctx, snap, cycle, res, log)
		e.reparentBeads(ctx, snap, cycle, res, log)
		e.commitBeads(ctx, snap, res, log)
	}

	log.Info("single issue synced",
		zap.Int("synced", res.TotalSynced()),
		zap.Int("errors", res.TotalErrors()))
	return res, nil
}
