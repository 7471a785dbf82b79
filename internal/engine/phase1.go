package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/mapper"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/vibe"
)

// renderTaskTitle is the canonical Vibe task title for a Huly issue.
func renderTaskTitle(identifier, title string) string {
	return identifier + ": " + title
}

// phase1 mirrors Huly issues onto the Vibe board: link by stored id, then
// by description footer, create when neither finds a task, and push status,
// title, and description drift onto tasks that already exist.
//
// Returns the set of task ids written this cycle; phase 2 skips them so a
// fresh write is never read back as user input.
func (e *Engine) phase1(ctx context.Context, snap *snapshot, res *PhaseResult, log *zap.Logger) map[string]bool {
	touched := make(map[string]bool)
	if snap.project.VibeID == "" {
		res.Skipped += len(snap.hulyIssues)
		return touched
	}

	for i := range snap.hulyIssues {
		issue := &snap.hulyIssues[i]
		row := snap.row(issue.Identifier)

		if row != nil && row.DeletedFromHuly {
			res.Skipped++
			continue
		}

		e.syncSubIssueCount(ctx, issue, row, res)

		task, ok := e.locateTask(snap, issue, row, res, log)
		if !ok {
			continue
		}

		if task == nil {
			created, err := e.createTask(ctx, snap, issue, row)
			if err != nil {
				log.Warn("vibe task create failed",
					zap.String("identifier", issue.Identifier), zap.Error(err))
				res.addError(issue.Identifier, "createTask", err)
				e.countError(ctx, "vibe", "phase1")
				continue
			}
			if created != "" {
				touched[created] = true
			}
			res.Synced++
			continue
		}

		wrote, err := e.updateTask(ctx, snap, issue, row, task)
		if err != nil {
			log.Warn("vibe task update failed",
				zap.String("identifier", issue.Identifier),
				zap.String("task", task.ID), zap.Error(err))
			res.addError(issue.Identifier, "updateTask", err)
			e.countError(ctx, "vibe", "phase1")
			continue
		}
		if wrote {
			touched[task.ID] = true
			res.Synced++
		} else {
			res.Skipped++
		}
	}
	return touched
}

// locateTask resolves the Vibe task for a Huly issue. A nil task with
// ok=true means "create one". A stored id pointing at a vanished task is a
// consistency violation: it is logged as a reconciliation candidate and
// never re-created here, because task ids are write-once.
func (e *Engine) locateTask(snap *snapshot, issue *huly.Issue, row *types.Issue, res *PhaseResult, log *zap.Logger) (*vibe.Task, bool) {
	if row != nil && row.VibeTaskID != "" {
		if task := snap.taskByID[row.VibeTaskID]; task != nil {
			return task, true
		}
		log.Warn("mapped vibe task missing from board, skipping",
			zap.String("identifier", issue.Identifier),
			zap.String("task", row.VibeTaskID))
		res.Skipped++
		return nil, false
	}
	if task := snap.taskByFooter[issue.Identifier]; task != nil {
		return task, true
	}
	return nil, true
}

// createTask makes the Vibe task for an unmatched Huly issue and records
// the mapping. Returns the new task id, or "" in dry-run.
func (e *Engine) createTask(ctx context.Context, snap *snapshot, issue *huly.Issue, row *types.Issue) (string, error) {
	title := renderTaskTitle(issue.Identifier, issue.Title)
	desc := mapper.WithFooter(issue.Description, issue.Identifier, issue.ParentIssue)
	status := e.mapping.HulyToVibe(issue.Status)

	if e.dryRun {
		e.logger.Info("dry-run: would create vibe task",
			zap.String("identifier", issue.Identifier), zap.String("title", title))
		return "", nil
	}

	task, err := e.vibe.CreateTask(ctx, snap.project.VibeID, title, desc, status)
	if err != nil {
		return "", err
	}
	e.countWrite(ctx, "vibe", "createTask")

	patch := types.IssuePatch{
		Identifier:        issue.Identifier,
		ProjectIdentifier: snap.project.Identifier,
		VibeTaskID:        types.StrPtr(task.ID),
		Title:             types.StrPtr(issue.Title),
		Description:       types.StrPtr(issue.Description),
		Status:            &issue.Status,
		Priority:          &issue.Priority,
		ParentHulyID:      types.StrPtr(issue.ParentIssue),
	}
	if err := e.store.UpsertIssue(ctx, patch); err != nil {
		return task.ID, err
	}

	if row == nil {
		row = &types.Issue{Identifier: issue.Identifier, ProjectIdentifier: snap.project.Identifier}
		snap.setRow(row)
	}
	row.VibeTaskID = task.ID
	snap.storedByVibeID[task.ID] = row
	applyHulyContent(row, issue)
	return task.ID, nil
}

// updateTask pushes Huly drift onto an existing task. Status is compared
// in Vibe space, descriptions with the footer stripped; the footer itself
// is re-rendered on every description write so parent moves propagate.
func (e *Engine) updateTask(ctx context.Context, snap *snapshot, issue *huly.Issue, row *types.Issue, task *vibe.Task) (bool, error) {
	var patch vibe.TaskPatch

	if want := e.mapping.HulyToVibe(issue.Status); task.Status != want {
		patch.Status = &want
	}
	if want := renderTaskTitle(issue.Identifier, issue.Title); task.Title != want {
		patch.Title = types.StrPtr(want)
	}
	footerStale := mapper.ExtractIdentifier(task.Description) != issue.Identifier ||
		mapper.ExtractParent(task.Description) != issue.ParentIssue
	if mapper.StripFooter(task.Description) != mapper.StripFooter(issue.Description) || footerStale {
		patch.Description = types.StrPtr(
			mapper.WithFooter(issue.Description, issue.Identifier, issue.ParentIssue))
	}

	linking := row == nil || row.VibeTaskID == ""
	if patch.Status == nil && patch.Title == nil && patch.Description == nil && !linking {
		return false, nil
	}

	if e.dryRun {
		e.logger.Info("dry-run: would update vibe task",
			zap.String("identifier", issue.Identifier), zap.String("task", task.ID))
		return true, nil
	}

	wrote := false
	if patch.Status != nil || patch.Title != nil || patch.Description != nil {
		if _, err := e.vibe.UpdateTask(ctx, task.ID, patch); err != nil {
			return false, err
		}
		e.countWrite(ctx, "vibe", "updateTask")
		wrote = true
	}

	storePatch := types.IssuePatch{
		Identifier:        issue.Identifier,
		ProjectIdentifier: snap.project.Identifier,
		Title:             types.StrPtr(issue.Title),
		Description:       types.StrPtr(issue.Description),
		Status:            &issue.Status,
		Priority:          &issue.Priority,
	}
	if linking {
		storePatch.VibeTaskID = types.StrPtr(task.ID)
	}
	if err := e.store.UpsertIssue(ctx, storePatch); err != nil {
		return wrote, err
	}

	if row == nil {
		row = &types.Issue{Identifier: issue.Identifier, ProjectIdentifier: snap.project.Identifier}
		snap.setRow(row)
	}
	if linking {
		row.VibeTaskID = task.ID
		snap.storedByVibeID[task.ID] = row
	}
	applyHulyContent(row, issue)
	return wrote, nil
}

// syncSubIssueCount keeps the stored sub-issue counter aligned with the
// server's. Purely informational; read by the status command.
func (e *Engine) syncSubIssueCount(ctx context.Context, issue *huly.Issue, row *types.Issue, res *PhaseResult) {
	if row == nil || row.SubIssueCount == issue.SubIssues || e.dryRun {
		return
	}
	if err := e.store.UpdateSubIssueCount(ctx, issue.Identifier, issue.SubIssues); err != nil {
		res.addError(issue.Identifier, "subIssueCount", err)
		return
	}
	row.SubIssueCount = issue.SubIssues
}

// applyHulyContent refreshes the cached Huly fields on a stored row.
// Last-seen watermarks are deliberately untouched: phase 3 owns those.
func applyHulyContent(row *types.Issue, issue *huly.Issue) {
	row.Title = issue.Title
	row.Description = issue.Description
	row.Status = issue.Status
	row.Priority = issue.Priority
	row.ParentHulyID = issue.ParentIssue
}

func (e *Engine) countWrite(ctx context.Context, component, op string) {
	if e.metrics != nil {
		e.metrics.CountWrite(ctx, component, op)
	}
}

func (e *Engine) countError(ctx context.Context, component, phase string) {
	if e.metrics != nil {
		e.metrics.CountError(ctx, component, phase)
	}
}
