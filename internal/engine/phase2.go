package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/mapper"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/vibe"
)

// phase2 carries board edits back to Huly. Only tasks wearing a footer
// participate; tasks phase 1 just wrote are skipped outright so one cycle
// never reads its own writes back as user input.
//
// Drift detection runs against the stored row first, which reflects Huly
// as of the last cycle. Only when the stored proxy shows drift does the
// engine fetch the live issue, re-check, and patch. Status comparisons
// happen in Vibe space: Backlog and Todo both project to todo, so a task
// sitting still never flips an issue out of Backlog.
func (e *Engine) phase2(ctx context.Context, snap *snapshot, touched map[string]bool, res *PhaseResult, log *zap.Logger) {
	for i := range snap.vibeTasks {
		task := &snap.vibeTasks[i]
		if touched[task.ID] {
			res.Skipped++
			continue
		}

		identifier := mapper.ExtractIdentifier(task.Description)
		if identifier == "" || !snap.inProject(identifier) {
			res.Skipped++
			continue
		}

		row := snap.row(identifier)
		if row != nil && row.DeletedFromHuly {
			res.Skipped++
			continue
		}
		if row == nil {
			var err error
			row, err = e.adoptFootedTask(ctx, snap, task, identifier)
			if err != nil {
				log.Warn("adopting footed task failed",
					zap.String("identifier", identifier),
					zap.String("task", task.ID), zap.Error(err))
				res.addError(identifier, "adoptTask", err)
				e.countError(ctx, "vibe", "phase2")
				continue
			}
			if row == nil {
				res.Skipped++
				continue
			}
		}

		if !taskDrifted(e, task, row) {
			res.Skipped++
			continue
		}

		wrote, err := e.pushTaskToHuly(ctx, snap, task, row, log)
		if err != nil {
			log.Warn("huly update from vibe failed",
				zap.String("identifier", identifier),
				zap.String("task", task.ID), zap.Error(err))
			res.addError(identifier, "pushToHuly", err)
			e.countError(ctx, "huly", "phase2")
			continue
		}
		if wrote {
			res.Synced++
		} else {
			res.Skipped++
		}
	}
}

// taskDrifted compares a task against the stored proxy of its Huly issue.
// Both descriptions go through StripFooter so trailing-whitespace noise
// never reads as drift.
func taskDrifted(e *Engine, task *vibe.Task, row *types.Issue) bool {
	if task.Status != e.mapping.HulyToVibe(row.Status) {
		return true
	}
	if mapper.StripFooter(task.Description) != mapper.StripFooter(row.Description) {
		return true
	}
	return mapper.ExtractParent(task.Description) != row.ParentHulyID
}

// adoptFootedTask links a task that carries a footer but has no stored row
// yet: someone wrote the footer by hand, or the row predates the state
// database. The live issue is fetched to confirm the identifier is real;
// an unknown identifier is left alone.
func (e *Engine) adoptFootedTask(ctx context.Context, snap *snapshot, task *vibe.Task, identifier string) (*types.Issue, error) {
	issue := snap.hulyByIdentifier[identifier]
	if issue == nil {
		live, err := e.huly.GetIssue(ctx, identifier)
		if err != nil {
			return nil, err
		}
		if live == nil {
			e.logger.Debug("footer references unknown huly issue",
				zap.String("identifier", identifier), zap.String("task", task.ID))
			return nil, nil
		}
		issue = live
	}

	if e.dryRun {
		e.logger.Info("dry-run: would link vibe task",
			zap.String("identifier", identifier), zap.String("task", task.ID))
		return nil, nil
	}

	patch := types.IssuePatch{
		Identifier:        identifier,
		ProjectIdentifier: snap.project.Identifier,
		VibeTaskID:        types.StrPtr(task.ID),
		Title:             types.StrPtr(issue.Title),
		Description:       types.StrPtr(issue.Description),
		Status:            &issue.Status,
		Priority:          &issue.Priority,
		ParentHulyID:      types.StrPtr(issue.ParentIssue),
	}
	if err := e.store.UpsertIssue(ctx, patch); err != nil {
		return nil, err
	}

	row := &types.Issue{
		Identifier:        identifier,
		ProjectIdentifier: snap.project.Identifier,
		VibeTaskID:        task.ID,
	}
	applyHulyContent(row, issue)
	snap.setRow(row)
	return row, nil
}

// pushTaskToHuly re-checks drift against the live issue and applies it.
// A vanished issue tombstones the row instead of erroring.
func (e *Engine) pushTaskToHuly(ctx context.Context, snap *snapshot, task *vibe.Task, row *types.Issue, log *zap.Logger) (bool, error) {
	issue := snap.hulyByIdentifier[row.Identifier]
	if issue == nil {
		live, err := e.huly.GetIssue(ctx, row.Identifier)
		if err != nil {
			return false, err
		}
		if live == nil {
			e.tombstone(ctx, row.Identifier, log)
			row.DeletedFromHuly = true
			return false, nil
		}
		issue = live
	}

	var patch huly.Patch
	if task.Status != e.mapping.HulyToVibe(issue.Status) {
		want := e.mapping.VibeToHuly(task.Status)
		patch.Status = &want
	}
	if stripped := mapper.StripFooter(task.Description); stripped != mapper.StripFooter(issue.Description) {
		patch.Description = types.StrPtr(stripped)
	}
	wantParent := mapper.ExtractParent(task.Description)
	moveParent := wantParent != issue.ParentIssue

	if patch.Status == nil && patch.Description == nil && !moveParent {
		// proxy was stale; refresh it so the next cycle skips cheaply
		if !e.dryRun {
			refresh := types.IssuePatch{
				Identifier:        row.Identifier,
				ProjectIdentifier: snap.project.Identifier,
				Status:            &issue.Status,
				Description:       types.StrPtr(issue.Description),
				ParentHulyID:      types.StrPtr(issue.ParentIssue),
			}
			if err := e.store.UpsertIssue(ctx, refresh); err != nil {
				return false, err
			}
			applyHulyContent(row, issue)
		}
		return false, nil
	}

	if e.dryRun {
		e.logger.Info("dry-run: would patch huly issue from vibe",
			zap.String("identifier", row.Identifier), zap.String("task", task.ID))
		return true, nil
	}

	if patch.Status != nil || patch.Description != nil {
		if err := e.huly.PatchIssue(ctx, row.Identifier, patch); err != nil {
			if isGone(err) {
				e.tombstone(ctx, row.Identifier, log)
				row.DeletedFromHuly = true
				return false, nil
			}
			return false, err
		}
		e.countWrite(ctx, "huly", "patchIssue")
	}

	if moveParent {
		if err := e.huly.MoveIssue(ctx, row.Identifier, wantParent); err != nil {
			if isGone(err) {
				e.tombstone(ctx, row.Identifier, log)
				row.DeletedFromHuly = true
				return false, nil
			}
			return false, err
		}
		e.countWrite(ctx, "huly", "moveIssue")
		parentBeads := ""
		if p := snap.row(wantParent); p != nil {
			parentBeads = p.BeadsIssueID
		}
		if err := e.store.UpdateParentChild(ctx, row.Identifier, wantParent, parentBeads); err != nil {
			return true, err
		}
		row.ParentHulyID = wantParent
	}

	storePatch := types.IssuePatch{
		Identifier:        row.Identifier,
		ProjectIdentifier: snap.project.Identifier,
	}
	if patch.Status != nil {
		storePatch.Status = patch.Status
		row.Status = *patch.Status
	}
	if patch.Description != nil {
		storePatch.Description = patch.Description
		row.Description = *patch.Description
	}
	if err := e.store.UpsertIssue(ctx, storePatch); err != nil {
		return true, err
	}
	return true, nil
}
