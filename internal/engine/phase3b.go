package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/beads"
	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/mapper"
	"github.com/steveyegge/braid/internal/types"
)

// reparentBeads aligns Beads parent-child edges with the Huly hierarchy.
// It runs after 3a so freshly created issues already have ids, and drives
// edges from live state on both sides: the old edge is removed before the
// new one lands, and the stored parent pointers move in one write.
func (e *Engine) reparentBeads(ctx context.Context, snap *snapshot, cycle *beadsCycle, res *Result, log *zap.Logger) {
	for i := range snap.hulyIssues {
		issue := &snap.hulyIssues[i]
		row := snap.row(issue.Identifier)
		if row == nil || row.BeadsIssueID == "" || row.DeletedFromHuly {
			continue
		}
		if _, known := cycle.parent[row.BeadsIssueID]; !known {
			continue
		}

		desired := ""
		if issue.ParentIssue != "" {
			parentRow := snap.row(issue.ParentIssue)
			if parentRow == nil || parentRow.BeadsIssueID == "" {
				// parent not mapped yet; the edge lands once it is
				log.Debug("parent not mapped to beads yet",
					zap.String("identifier", issue.Identifier),
					zap.String("parent", issue.ParentIssue))
				continue
			}
			desired = parentRow.BeadsIssueID
		}

		actual := cycle.parent[row.BeadsIssueID]
		if desired == actual {
			continue
		}

		if e.dryRun {
			e.logger.Info("dry-run: would move beads parent edge",
				zap.String("identifier", issue.Identifier),
				zap.String("from", actual), zap.String("to", desired))
			res.BeadsWrites++
			res.Phase3.Synced++
			continue
		}

		if actual != "" {
			if err := snap.ops.DepRemove(ctx, row.BeadsIssueID, actual); err != nil {
				log.Warn("removing old parent edge failed",
					zap.String("identifier", issue.Identifier), zap.Error(err))
				res.Phase3.addError(issue.Identifier, "depRemove", err)
				continue
			}
			res.BeadsWrites++
			e.countWrite(ctx, "beads", "depRemove")
		}
		if desired != "" {
			if err := snap.ops.DepAdd(ctx, row.BeadsIssueID, desired); err != nil {
				log.Warn("adding parent edge failed",
					zap.String("identifier", issue.Identifier), zap.Error(err))
				res.Phase3.addError(issue.Identifier, "depAdd", err)
				continue
			}
			res.BeadsWrites++
			e.countWrite(ctx, "beads", "depAdd")
		}

		if err := e.store.UpdateParentChild(ctx, issue.Identifier, issue.ParentIssue, desired); err != nil {
			res.Phase3.addError(issue.Identifier, "parentPointers", err)
			continue
		}
		row.ParentHulyID = issue.ParentIssue
		row.ParentBeadsID = desired
		cycle.parent[row.BeadsIssueID] = desired
		cycle.touched[row.BeadsIssueID] = true
		res.Phase3.Synced++
	}
}

// phase3b carries Beads-side changes back to Huly. Rows 3a already wrote
// this cycle sit it out; everything else is driven by the Beads watermark,
// with a point lookup fetching the live issue when the incremental
// snapshot does not carry it. A 404 on that lookup is the deletion signal:
// the row is tombstoned and never touched again.
func (e *Engine) phase3b(ctx context.Context, snap *snapshot, cycle *beadsCycle, res *Result, log *zap.Logger) {
	for i := range snap.beadsIssues {
		b := &snap.beadsIssues[i]
		if cycle.touched[b.ID] {
			res.Phase3.Skipped++
			continue
		}

		row := snap.storedByBeadsID[b.ID]
		if row == nil {
			e.adoptBeadsIssue(ctx, snap, cycle, b, res, log)
			continue
		}
		if row.DeletedFromHuly {
			res.Phase3.Skipped++
			continue
		}
		if b.ModifiedMillis() <= row.BeadsModifiedAt {
			res.Phase3.Skipped++
			continue
		}

		issue := snap.hulyByIdentifier[row.Identifier]
		if issue == nil {
			live, err := e.huly.GetIssue(ctx, row.Identifier)
			if err != nil {
				log.Warn("huly point lookup failed",
					zap.String("identifier", row.Identifier), zap.Error(err))
				res.Phase3.addError(row.Identifier, "getIssue", err)
				e.countError(ctx, "huly", "phase3b")
				continue
			}
			if live == nil {
				e.tombstone(ctx, row.Identifier, log)
				row.DeletedFromHuly = true
				res.Phase3.Skipped++
				continue
			}
			issue = live
		}

		dir, conflict := e.decide(row, issue.ModifiedOn, b.ModifiedMillis(), b.ID)
		if conflict != nil {
			res.Conflicts = append(res.Conflicts, *conflict)
		}
		if dir == DirHulyWins {
			// Huly changed too and is newer, but this issue never made it
			// into the snapshot; the next cycle's fetch carries it to 3a.
			res.Phase3.Skipped++
			continue
		}

		wrote, err := e.applyBeadsToHuly(ctx, snap, cycle, issue, row, b, log)
		if err != nil {
			log.Warn("applying beads change to huly failed",
				zap.String("identifier", row.Identifier),
				zap.String("beads_id", b.ID), zap.Error(err))
			res.Phase3.addError(row.Identifier, "applyToHuly", err)
			e.countError(ctx, "huly", "phase3b")
			continue
		}
		if wrote {
			res.Phase3.Synced++
		} else {
			res.Phase3.Skipped++
		}
	}
}

// applyBeadsToHuly patches title, status, and priority onto the Huly issue
// and mirrors a moved parent edge. Description is deliberately left alone:
// the Beads description carries the footer and belongs to this side.
func (e *Engine) applyBeadsToHuly(ctx context.Context, snap *snapshot, cycle *beadsCycle, issue *huly.Issue, row *types.Issue, b *beads.Issue, log *zap.Logger) (bool, error) {
	var patch huly.Patch
	if b.Title != issue.Title {
		patch.Title = types.StrPtr(b.Title)
	}
	wantStatus := e.mapping.BeadsToHuly(b.Status, b.Labels)
	if wantStatus != issue.Status {
		patch.Status = &wantStatus
	}
	wantPriority := e.mapping.BeadsPriorityToHuly(b.Priority)
	if wantPriority != issue.Priority {
		patch.Priority = &wantPriority
	}

	bParent := cycle.parent[b.ID]
	moveParent := bParent != row.ParentBeadsID
	parentIdentifier := ""
	if moveParent && bParent != "" {
		parentRow := snap.storedByBeadsID[bParent]
		if parentRow == nil {
			log.Debug("beads parent has no huly mapping, deferring move",
				zap.String("identifier", row.Identifier), zap.String("parent", bParent))
			moveParent = false
		} else {
			parentIdentifier = parentRow.Identifier
		}
	}

	if patch.Title == nil && patch.Status == nil && patch.Priority == nil && !moveParent {
		if !e.dryRun {
			if err := e.markSeen(ctx, snap, row, issue.ModifiedOn, b.ModifiedMillis()); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if e.dryRun {
		e.logger.Info("dry-run: would patch huly issue from beads",
			zap.String("identifier", row.Identifier), zap.String("beads_id", b.ID))
		return true, nil
	}

	if patch.Title != nil || patch.Status != nil || patch.Priority != nil {
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
		if err := e.huly.MoveIssue(ctx, row.Identifier, parentIdentifier); err != nil {
			if isGone(err) {
				e.tombstone(ctx, row.Identifier, log)
				row.DeletedFromHuly = true
				return false, nil
			}
			return false, err
		}
		e.countWrite(ctx, "huly", "moveIssue")
		if err := e.store.UpdateParentChild(ctx, row.Identifier, parentIdentifier, bParent); err != nil {
			return true, err
		}
		row.ParentHulyID = parentIdentifier
		row.ParentBeadsID = bParent
	}

	seen := types.IssuePatch{
		Identifier:        row.Identifier,
		ProjectIdentifier: snap.project.Identifier,
		Title:             types.StrPtr(b.Title),
		Status:            &wantStatus,
		Priority:          &wantPriority,
		BeadsStatus:       &b.Status,
		HulyModifiedAt:    types.Int64Ptr(issue.ModifiedOn),
		BeadsModifiedAt:   types.Int64Ptr(b.ModifiedMillis()),
	}
	if err := e.store.UpsertIssue(ctx, seen); err != nil {
		return true, err
	}
	row.Title = b.Title
	row.Status = wantStatus
	row.Priority = wantPriority
	row.BeadsStatus = b.Status
	row.HulyModifiedAt = issue.ModifiedOn
	row.BeadsModifiedAt = b.ModifiedMillis()
	return true, nil
}

// adoptBeadsIssue handles a Beads issue with no mapping: link through the
// footer when it names a live issue of this project, then by title, and
// only then create on Huly. Footers pointing at deleted issues are final;
// re-creating them would resurrect what a user removed.
func (e *Engine) adoptBeadsIssue(ctx context.Context, snap *snapshot, cycle *beadsCycle, b *beads.Issue, res *Result, log *zap.Logger) {
	footerID := mapper.ExtractIdentifier(b.Description)
	if footerID != "" {
		if !snap.inProject(footerID) {
			log.Debug("beads footer references another project, leaving alone",
				zap.String("beads_id", b.ID), zap.String("identifier", footerID))
			res.Phase3.Skipped++
			return
		}
		if row := snap.row(footerID); row != nil && row.DeletedFromHuly {
			res.Phase3.Skipped++
			return
		}
		if row := snap.row(footerID); row != nil && row.BeadsIssueID != "" {
			log.Warn("beads footer references an already-mapped issue",
				zap.String("beads_id", b.ID), zap.String("identifier", footerID))
			res.Phase3.Skipped++
			return
		}

		issue := snap.hulyByIdentifier[footerID]
		if issue == nil {
			live, err := e.huly.GetIssue(ctx, footerID)
			if err != nil {
				res.Phase3.addError(footerID, "getIssue", err)
				return
			}
			if live == nil {
				log.Debug("beads footer references a deleted huly issue",
					zap.String("beads_id", b.ID), zap.String("identifier", footerID))
				res.Phase3.Skipped++
				return
			}
			issue = live
		}
		if err := e.linkBeads(ctx, snap, issue, b); err != nil {
			res.Phase3.addError(footerID, "linkBeads", err)
			return
		}
		log.Info("linked beads issue by footer",
			zap.String("identifier", footerID), zap.String("beads_id", b.ID))
		res.Phase3.Synced++
		return
	}

	if issue := snap.findHulyByTitle(b.Title); issue != nil {
		if err := e.linkBeads(ctx, snap, issue, b); err != nil {
			res.Phase3.addError(issue.Identifier, "linkBeads", err)
			return
		}
		log.Info("linked beads issue by title",
			zap.String("identifier", issue.Identifier), zap.String("beads_id", b.ID))
		res.Phase3.Synced++
		return
	}

	if b.Status == types.BeadsClosed {
		// historical issue with no counterpart; importing it as Done is noise
		res.Phase3.Skipped++
		return
	}

	if err := e.createHulyIssue(ctx, snap, cycle, b, res); err != nil {
		log.Warn("huly create from beads failed",
			zap.String("beads_id", b.ID), zap.Error(err))
		res.Phase3.addError(b.ID, "createHuly", err)
		e.countError(ctx, "huly", "phase3b")
		return
	}
	res.Phase3.Synced++
}

// createHulyIssue mirrors an unmatched Beads issue onto Huly, writes the
// footer back so the Beads side carries the pointer too, and persists the
// mapping with both watermarks current, so the next cycle sees a settled
// pair.
func (e *Engine) createHulyIssue(ctx context.Context, snap *snapshot, cycle *beadsCycle, b *beads.Issue, res *Result) error {
	status := e.mapping.BeadsToHuly(b.Status, b.Labels)
	priority := e.mapping.BeadsPriorityToHuly(b.Priority)

	params := huly.CreateParams{
		Title:       b.Title,
		Description: mapper.StripFooter(b.Description),
		Status:      status,
		Priority:    priority,
	}
	bParent := cycle.parent[b.ID]
	if bParent != "" {
		if parentRow := snap.storedByBeadsID[bParent]; parentRow != nil {
			params.ParentIdentifier = parentRow.Identifier
		}
	}

	if e.dryRun {
		e.logger.Info("dry-run: would create huly issue",
			zap.String("beads_id", b.ID), zap.String("title", b.Title))
		return nil
	}

	created, err := e.huly.CreateIssue(ctx, snap.project.Identifier, params)
	if err != nil {
		return err
	}
	e.countWrite(ctx, "huly", "createIssue")

	// identity lives in the store row; the footer is recovery metadata,
	// so a failed write-back is logged and tolerated
	footered := mapper.WithFooter(b.Description, created.Identifier, "")
	if err := snap.ops.Update(ctx, b.ID, "description", footered); err != nil {
		e.logger.Warn("writing footer to beads issue failed",
			zap.String("beads_id", b.ID),
			zap.String("identifier", created.Identifier), zap.Error(err))
	} else {
		res.BeadsWrites++
		e.countWrite(ctx, "beads", "update")
	}

	patch := types.IssuePatch{
		Identifier:        created.Identifier,
		ProjectIdentifier: snap.project.Identifier,
		BeadsIssueID:      types.StrPtr(b.ID),
		BeadsStatus:       &b.Status,
		Title:             types.StrPtr(created.Title),
		Description:       types.StrPtr(params.Description),
		Status:            &status,
		Priority:          &priority,
		HulyModifiedAt:    types.Int64Ptr(created.ModifiedOn),
		BeadsModifiedAt:   types.Int64Ptr(b.ModifiedMillis()),
		ParentHulyID:      types.StrPtr(params.ParentIdentifier),
		ParentBeadsID:     types.StrPtr(bParent),
	}
	if err := e.store.UpsertIssue(ctx, patch); err != nil {
		return err
	}

	row := &types.Issue{
		Identifier:        created.Identifier,
		ProjectIdentifier: snap.project.Identifier,
		BeadsIssueID:      b.ID,
		BeadsStatus:       b.Status,
		Title:             created.Title,
		Description:       params.Description,
		Status:            status,
		Priority:          priority,
		HulyModifiedAt:    created.ModifiedOn,
		BeadsModifiedAt:   b.ModifiedMillis(),
		ParentHulyID:      params.ParentIdentifier,
		ParentBeadsID:     bParent,
	}
	snap.setRow(row)
	return nil
}
