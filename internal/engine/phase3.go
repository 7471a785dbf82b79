package engine

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/beads"
	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/mapper"
	"github.com/steveyegge/braid/internal/types"
)

// beadsCycle is the working state of one phase 3 run. touched holds the
// Beads ids 3a wrote (or resolved in Beads' favor) this cycle so 3b never
// immediately pushes a fresh write back; parent tracks live parent edges
// as the cycle changes them.
type beadsCycle struct {
	touched map[string]bool
	parent  map[string]string
}

func newBeadsCycle(snap *snapshot) *beadsCycle {
	c := &beadsCycle{
		touched: make(map[string]bool),
		parent:  make(map[string]string, len(snap.beadsIssues)),
	}
	for i := range snap.beadsIssues {
		b := &snap.beadsIssues[i]
		c.parent[b.ID] = b.ParentID()
	}
	return c
}

// phase3 reconciles Huly and the Beads store in both directions: 3a walks
// the Huly snapshot applying Huly-side changes to Beads, 3b walks the Beads
// snapshot applying Beads-side changes to Huly. When both sides changed
// since the engine last looked, the newer server timestamp wins and ties go
// to Huly. One commit publishes whatever 3a/3b wrote.
func (e *Engine) phase3(ctx context.Context, snap *snapshot, res *Result, log *zap.Logger) {
	if snap.project.FilesystemPath == "" {
		res.Phase3.Skipped += len(snap.hulyIssues) + len(snap.beadsIssues)
		return
	}

	cycle := newBeadsCycle(snap)
	e.phase3a(ctx, snap, cycle, res, log)
	e.reparentBeads(ctx, snap, cycle, res, log)
	e.phase3b(ctx, snap, cycle, res, log)
	e.commitBeads(ctx, snap, res, log)
}

// phase3a applies the Huly side to Beads: mapped pairs get drift applied
// under the conflict rule, unmapped issues run the link cascade, and only
// when every step misses does a create happen.
func (e *Engine) phase3a(ctx context.Context, snap *snapshot, cycle *beadsCycle, res *Result, log *zap.Logger) {
	for i := range snap.hulyIssues {
		issue := &snap.hulyIssues[i]
		row := snap.row(issue.Identifier)

		if row != nil && row.DeletedFromHuly {
			res.Phase3.Skipped++
			continue
		}

		if row != nil && row.BeadsIssueID != "" {
			b := snap.beadsByID[row.BeadsIssueID]
			if b == nil {
				log.Warn("mapped beads issue missing from store, reconciliation candidate",
					zap.String("identifier", issue.Identifier),
					zap.String("beads_id", row.BeadsIssueID))
				res.Phase3.Skipped++
				continue
			}
			e.reconcileHulyToBeads(ctx, snap, cycle, issue, row, b, res, log)
			continue
		}

		// link cascade: footer reference first, then title
		b := snap.beadsByFooter[issue.Identifier]
		if b != nil {
			if _, claimed := snap.storedByBeadsID[b.ID]; claimed {
				b = nil
			}
		}
		if b == nil {
			b = snap.findBeadsByTitle(issue.Title)
		}
		if b != nil {
			if err := e.linkBeads(ctx, snap, issue, b); err != nil {
				log.Warn("linking beads issue failed",
					zap.String("identifier", issue.Identifier),
					zap.String("beads_id", b.ID), zap.Error(err))
				res.Phase3.addError(issue.Identifier, "linkBeads", err)
				continue
			}
			log.Info("linked existing beads issue",
				zap.String("identifier", issue.Identifier), zap.String("beads_id", b.ID))
			res.Phase3.Synced++
			continue
		}

		if err := e.createBeadsIssue(ctx, snap, cycle, issue, res); err != nil {
			log.Warn("beads create failed",
				zap.String("identifier", issue.Identifier), zap.Error(err))
			res.Phase3.addError(issue.Identifier, "createBeads", err)
			e.countError(ctx, "beads", "phase3a")
			continue
		}
		res.Phase3.Synced++
	}
}

// reconcileHulyToBeads handles one mapped pair in the Huly->Beads
// direction. A conflict Beads wins is not applied here: the Huly change is
// consumed and the row shielded for the rest of the cycle, so the Beads
// change surfaces as one-sided next cycle and flows through 3b.
func (e *Engine) reconcileHulyToBeads(ctx context.Context, snap *snapshot, cycle *beadsCycle, issue *huly.Issue, row *types.Issue, b *beads.Issue, res *Result, log *zap.Logger) {
	dir, conflict := e.decide(row, issue.ModifiedOn, b.ModifiedMillis(), b.ID)
	if conflict != nil {
		res.Conflicts = append(res.Conflicts, *conflict)
		log.Info("bidirectional change, newer side wins",
			zap.String("identifier", row.Identifier),
			zap.String("winner", conflict.Winner.String()),
			zap.Int64("huly_modified", conflict.HulyModified),
			zap.Int64("beads_modified", conflict.BeadsModified))
	}

	switch dir {
	case DirNone:
		res.Phase3.Skipped++
		return

	case DirBeadsWins:
		if conflict == nil {
			// one-sided Beads change; 3b owns that direction
			res.Phase3.Skipped++
			return
		}
		// consume the losing Huly change; shield the row until next cycle
		// so the Beads change surfaces as one-sided and 3b applies it then
		cycle.touched[b.ID] = true
		if !e.dryRun {
			if err := e.markSeen(ctx, snap, row, issue.ModifiedOn, row.BeadsModifiedAt); err != nil {
				res.Phase3.addError(row.Identifier, "markSeen", err)
				return
			}
		}
		res.Phase3.Skipped++
		return
	}

	wrote, err := e.applyHulyToBeads(ctx, snap, issue, b, res)
	if err != nil {
		log.Warn("applying huly change to beads failed",
			zap.String("identifier", row.Identifier),
			zap.String("beads_id", b.ID), zap.Error(err))
		res.Phase3.addError(row.Identifier, "applyToBeads", err)
		e.countError(ctx, "beads", "phase3a")
		return
	}
	if wrote > 0 {
		cycle.touched[b.ID] = true
		res.Phase3.Synced++
	} else {
		res.Phase3.Skipped++
	}
	if !e.dryRun {
		if err := e.markSeen(ctx, snap, row, issue.ModifiedOn, b.ModifiedMillis()); err != nil {
			res.Phase3.addError(row.Identifier, "markSeen", err)
		}
		row.BeadsStatus = e.mapping.HulyToBeads(issue.Status).Status
		applyHulyContent(row, issue)
	}
}

// decide picks the direction for a mapped pair from the per-side last-seen
// watermarks. Returns a Conflict record when both sides moved.
func (e *Engine) decide(row *types.Issue, hulyModified, beadsModified int64, beadsID string) (Direction, *Conflict) {
	hulyChanged := hulyModified > row.HulyModifiedAt
	beadsChanged := beadsModified > row.BeadsModifiedAt

	switch {
	case !hulyChanged && !beadsChanged:
		return DirNone, nil
	case hulyChanged && !beadsChanged:
		return DirHulyWins, nil
	case beadsChanged && !hulyChanged:
		return DirBeadsWins, nil
	}

	c := &Conflict{
		Identifier:    row.Identifier,
		BeadsIssueID:  beadsID,
		HulyModified:  hulyModified,
		BeadsModified: beadsModified,
		Winner:        DirHulyWins,
	}
	if beadsModified > hulyModified {
		c.Winner = DirBeadsWins
	}
	return c.Winner, c
}

// applyHulyToBeads pushes title, priority, status, and the huly:* status
// label onto a Beads issue, one field per CLI call. Returns the number of
// mutations issued; a partial failure leaves the rest for the next cycle.
func (e *Engine) applyHulyToBeads(ctx context.Context, snap *snapshot, issue *huly.Issue, b *beads.Issue, res *Result) (int, error) {
	want := e.mapping.HulyToBeads(issue.Status)
	wrote := 0

	mutate := func(op string, fn func() error) error {
		if e.dryRun {
			e.logger.Info("dry-run: would write beads field",
				zap.String("beads_id", b.ID), zap.String("op", op))
			wrote++
			res.BeadsWrites++
			return nil
		}
		if err := fn(); err != nil {
			return err
		}
		wrote++
		res.BeadsWrites++
		e.countWrite(ctx, "beads", op)
		return nil
	}

	if beads.SanitizeTitle(issue.Title) != b.Title {
		if err := mutate("title", func() error {
			return snap.ops.Update(ctx, b.ID, "title", issue.Title)
		}); err != nil {
			return wrote, err
		}
	}

	if n := e.mapping.HulyPriorityToBeads(issue.Priority); n != b.Priority {
		if err := mutate("priority", func() error {
			return snap.ops.Update(ctx, b.ID, "priority", strconv.Itoa(n))
		}); err != nil {
			return wrote, err
		}
	}

	if b.Status != want.Status {
		if err := mutate("status", func() error {
			return e.applyBeadsStatus(ctx, snap.ops, b, want.Status)
		}); err != nil {
			return wrote, err
		}
	}

	for _, label := range e.mapping.StatusLabels() {
		has := b.HasLabel(label)
		switch {
		case label == want.Label && !has:
			if err := mutate("add-label", func() error {
				return snap.ops.Update(ctx, b.ID, "add-label", label)
			}); err != nil {
				return wrote, err
			}
		case label != want.Label && has:
			if err := mutate("remove-label", func() error {
				return snap.ops.Update(ctx, b.ID, "remove-label", label)
			}); err != nil {
				return wrote, err
			}
		}
	}
	return wrote, nil
}

// applyBeadsStatus drives a status move through the bd commands that keep
// closed_at coherent: close for closing, reopen (plus a follow-up move)
// for leaving closed, a plain status update otherwise.
func (e *Engine) applyBeadsStatus(ctx context.Context, ops BeadsOps, b *beads.Issue, want types.BeadsStatus) error {
	switch {
	case want == types.BeadsClosed:
		return ops.Close(ctx, b.ID)
	case b.Status == types.BeadsClosed:
		if err := ops.Reopen(ctx, b.ID); err != nil {
			return err
		}
		if want != types.BeadsOpen {
			return ops.SetStatus(ctx, b.ID, want)
		}
		return nil
	default:
		return ops.SetStatus(ctx, b.ID, want)
	}
}

// linkBeads records an existing Beads issue as the counterpart of a Huly
// issue. Record-only: no side is written, and both watermarks reset so the
// next cycle reconciles whatever content drift the pair already carries.
func (e *Engine) linkBeads(ctx context.Context, snap *snapshot, issue *huly.Issue, b *beads.Issue) error {
	if e.dryRun {
		e.logger.Info("dry-run: would link beads issue",
			zap.String("identifier", issue.Identifier), zap.String("beads_id", b.ID))
		return nil
	}

	patch := types.IssuePatch{
		Identifier:        issue.Identifier,
		ProjectIdentifier: snap.project.Identifier,
		BeadsIssueID:      types.StrPtr(b.ID),
		BeadsStatus:       &b.Status,
		Title:             types.StrPtr(issue.Title),
		Description:       types.StrPtr(issue.Description),
		Status:            &issue.Status,
		Priority:          &issue.Priority,
	}
	if err := e.store.UpsertIssue(ctx, patch); err != nil {
		return err
	}

	row := snap.row(issue.Identifier)
	if row == nil {
		row = &types.Issue{Identifier: issue.Identifier, ProjectIdentifier: snap.project.Identifier}
		snap.setRow(row)
	}
	row.BeadsIssueID = b.ID
	row.BeadsStatus = b.Status
	applyHulyContent(row, issue)
	snap.storedByBeadsID[b.ID] = row
	return nil
}

// createBeadsIssue makes the Beads counterpart of a Huly issue: footered
// description, mapped priority, and the huly:* label when the status needs
// one. bd creates issues open, so a non-open status is applied right after.
func (e *Engine) createBeadsIssue(ctx context.Context, snap *snapshot, cycle *beadsCycle, issue *huly.Issue, res *Result) error {
	state := e.mapping.HulyToBeads(issue.Status)
	params := beads.CreateParams{
		Title:       issue.Title,
		Description: mapper.WithFooter(issue.Description, issue.Identifier, ""),
		Priority:    types.IntPtr(e.mapping.HulyPriorityToBeads(issue.Priority)),
		IssueType:   "task",
	}
	if state.Label != "" {
		params.Labels = []string{state.Label}
	}
	if issue.ParentIssue != "" {
		if parentRow := snap.row(issue.ParentIssue); parentRow != nil && parentRow.BeadsIssueID != "" {
			params.ParentID = parentRow.BeadsIssueID
		}
	}

	if e.dryRun {
		e.logger.Info("dry-run: would create beads issue",
			zap.String("identifier", issue.Identifier), zap.String("title", issue.Title))
		res.BeadsWrites++
		return nil
	}

	id, err := snap.ops.Create(ctx, params)
	if err != nil {
		return err
	}
	res.BeadsWrites++
	e.countWrite(ctx, "beads", "create")

	if state.Status != types.BeadsOpen {
		created := &beads.Issue{ID: id, Status: types.BeadsOpen}
		if err := e.applyBeadsStatus(ctx, snap.ops, created, state.Status); err != nil {
			return err
		}
		res.BeadsWrites++
		e.countWrite(ctx, "beads", "status")
	}

	patch := types.IssuePatch{
		Identifier:        issue.Identifier,
		ProjectIdentifier: snap.project.Identifier,
		BeadsIssueID:      types.StrPtr(id),
		BeadsStatus:       &state.Status,
		Title:             types.StrPtr(issue.Title),
		Description:       types.StrPtr(issue.Description),
		Status:            &issue.Status,
		Priority:          &issue.Priority,
		HulyModifiedAt:    types.Int64Ptr(issue.ModifiedOn),
		ParentBeadsID:     types.StrPtr(params.ParentID),
	}
	if err := e.store.UpsertIssue(ctx, patch); err != nil {
		return err
	}

	row := snap.row(issue.Identifier)
	if row == nil {
		row = &types.Issue{Identifier: issue.Identifier, ProjectIdentifier: snap.project.Identifier}
		snap.setRow(row)
	}
	row.BeadsIssueID = id
	row.BeadsStatus = state.Status
	row.HulyModifiedAt = issue.ModifiedOn
	row.ParentBeadsID = params.ParentID
	applyHulyContent(row, issue)
	snap.storedByBeadsID[id] = row

	cycle.touched[id] = true
	cycle.parent[id] = params.ParentID
	return nil
}

// markSeen records the per-side watermarks after a reconciliation step.
func (e *Engine) markSeen(ctx context.Context, snap *snapshot, row *types.Issue, hulyMs, beadsMs int64) error {
	patch := types.IssuePatch{
		Identifier:        row.Identifier,
		ProjectIdentifier: snap.project.Identifier,
		HulyModifiedAt:    types.Int64Ptr(hulyMs),
		BeadsModifiedAt:   types.Int64Ptr(beadsMs),
	}
	if err := e.store.UpsertIssue(ctx, patch); err != nil {
		return err
	}
	row.HulyModifiedAt = hulyMs
	row.BeadsModifiedAt = beadsMs
	return nil
}
