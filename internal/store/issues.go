package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/steveyegge/braid/internal/types"
)

const issueColumns = `identifier, project_identifier, huly_id, beads_issue_id, vibe_task_id,
	title, description, status, priority, beads_status,
	huly_modified_at, beads_modified_at, parent_huly_id, parent_beads_id,
	sub_issue_count, deleted_from_huly, created_at, updated_at`

func scanIssue(row scanner) (*types.Issue, error) {
	var i types.Issue
	var status, priority, beadsStatus string
	var deleted int

	err := row.Scan(
		&i.Identifier, &i.ProjectIdentifier, &i.HulyID, &i.BeadsIssueID, &i.VibeTaskID,
		&i.Title, &i.Description, &status, &priority, &beadsStatus,
		&i.HulyModifiedAt, &i.BeadsModifiedAt, &i.ParentHulyID, &i.ParentBeadsID,
		&i.SubIssueCount, &deleted, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	i.Status = types.HulyStatus(status)
	i.Priority = types.HulyPriority(priority)
	i.BeadsStatus = types.BeadsStatus(beadsStatus)
	i.DeletedFromHuly = deleted != 0
	return &i, nil
}

// UpsertIssue inserts or merges a mapping row by identifier. Nil patch fields
// leave the stored column untouched. The cross-system ids (huly_id,
// beads_issue_id, vibe_task_id) are write-once: setting one over a different
// existing value fails with ErrImmutableID.
func (s *SQLiteStore) UpsertIssue(ctx context.Context, patch types.IssuePatch) error {
	return upsertIssue(ctx, s.db, patch)
}

func validatePatch(patch *types.IssuePatch) error {
	if patch.Identifier == "" {
		return fmt.Errorf("issue identifier cannot be empty")
	}
	if patch.Status != nil && *patch.Status != "" && !patch.Status.IsValid() {
		return fmt.Errorf("issue %s: invalid status: %s", patch.Identifier, *patch.Status)
	}
	if patch.Priority != nil && *patch.Priority != "" && !patch.Priority.IsValid() {
		return fmt.Errorf("issue %s: invalid priority: %s", patch.Identifier, *patch.Priority)
	}
	if patch.BeadsStatus != nil && *patch.BeadsStatus != "" && !patch.BeadsStatus.IsValid() {
		return fmt.Errorf("issue %s: invalid beads status: %s", patch.Identifier, *patch.BeadsStatus)
	}
	return nil
}

// patchColumns walks the non-nil patch fields in a fixed order. The set
// callback receives the column name and its new value.
func patchColumns(patch *types.IssuePatch, set func(col string, val any)) {
	if patch.HulyID != nil {
		set("huly_id", *patch.HulyID)
	}
	if patch.BeadsIssueID != nil {
		set("beads_issue_id", *patch.BeadsIssueID)
	}
	if patch.VibeTaskID != nil {
		set("vibe_task_id", *patch.VibeTaskID)
	}
	if patch.Title != nil {
		set("title", *patch.Title)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.Priority != nil {
		set("priority", string(*patch.Priority))
	}
	if patch.BeadsStatus != nil {
		set("beads_status", string(*patch.BeadsStatus))
	}
	if patch.HulyModifiedAt != nil {
		set("huly_modified_at", *patch.HulyModifiedAt)
	}
	if patch.BeadsModifiedAt != nil {
		set("beads_modified_at", *patch.BeadsModifiedAt)
	}
	if patch.ParentHulyID != nil {
		set("parent_huly_id", *patch.ParentHulyID)
	}
	if patch.ParentBeadsID != nil {
		set("parent_beads_id", *patch.ParentBeadsID)
	}
	if patch.SubIssueCount != nil {
		set("sub_issue_count", *patch.SubIssueCount)
	}
}

func upsertIssue(ctx context.Context, q dbtx, patch types.IssuePatch) error {
	if err := validatePatch(&patch); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	var existingHuly, existingBeads, existingVibe string
	err := q.QueryRowContext(ctx, `
		SELECT huly_id, beads_issue_id, vibe_task_id FROM issues WHERE identifier = ?
	`, patch.Identifier).Scan(&existingHuly, &existingBeads, &existingVibe)

	if err == sql.ErrNoRows {
		return insertIssue(ctx, q, patch)
	}
	if err != nil {
		return fmt.Errorf("failed to read issue %s: %w", patch.Identifier, err)
	}

	if err := checkImmutableID(patch.Identifier, "huly_id", existingHuly, patch.HulyID); err != nil {
		return err
	}
	if err := checkImmutableID(patch.Identifier, "beads_issue_id", existingBeads, patch.BeadsIssueID); err != nil {
		return err
	}
	if err := checkImmutableID(patch.Identifier, "vibe_task_id", existingVibe, patch.VibeTaskID); err != nil {
		return err
	}

	setClauses := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}
	patchColumns(&patch, func(col string, val any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", col))
		args = append(args, val)
	})
	args = append(args, patch.Identifier)

	query := fmt.Sprintf("UPDATE issues SET %s WHERE identifier = ?", strings.Join(setClauses, ", ")) // #nosec G201 - column names are fixed above
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update issue %s: %w", patch.Identifier, err)
	}
	return nil
}

func insertIssue(ctx context.Context, q dbtx, patch types.IssuePatch) error {
	if patch.ProjectIdentifier == "" {
		return fmt.Errorf("issue %s: project identifier required on first upsert", patch.Identifier)
	}

	cols := []string{"identifier", "project_identifier"}
	args := []any{patch.Identifier, patch.ProjectIdentifier}
	patchColumns(&patch, func(col string, val any) {
		cols = append(cols, col)
		args = append(args, val)
	})

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO issues (%s) VALUES (%s)", strings.Join(cols, ", "), placeholders) // #nosec G201 - column names are fixed above
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert issue %s: %w", patch.Identifier, err)
	}
	return nil
}

func checkImmutableID(identifier, col, existing string, incoming *string) error {
	if incoming == nil || existing == "" {
		return nil
	}
	if *incoming != existing {
		return fmt.Errorf("issue %s: %s already set to %q, refusing %q: %w",
			identifier, col, existing, *incoming, ErrImmutableID)
	}
	return nil
}

// GetIssue retrieves a mapping row by Huly identifier.
func (s *SQLiteStore) GetIssue(ctx context.Context, identifier string) (*types.Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+issueColumns+` FROM issues WHERE identifier = ?
	`, identifier)

	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", identifier, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return issue, nil
}

// GetProjectIssues retrieves every mapping row for a project, tombstones
// included. Callers that need live rows filter on DeletedFromHuly.
func (s *SQLiteStore) GetProjectIssues(ctx context.Context, projectIdentifier string) ([]*types.Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+issueColumns+` FROM issues WHERE project_identifier = ? ORDER BY identifier
	`, projectIdentifier)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectIssues(rows)
}

// GetAllIssues retrieves every mapping row across all projects.
func (s *SQLiteStore) GetAllIssues(ctx context.Context) ([]*types.Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+issueColumns+` FROM issues ORDER BY project_identifier, identifier
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectIssues(rows)
}

func collectIssues(rows *sql.Rows) ([]*types.Issue, error) {
	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// UpdateParentChild rewrites both parent pointers of a child in one
// statement, so a reader never observes a half-applied re-parenting.
func (s *SQLiteStore) UpdateParentChild(ctx context.Context, childIdentifier, parentHulyID, parentBeadsID string) error {
	return updateParentChild(ctx, s.db, childIdentifier, parentHulyID, parentBeadsID)
}

func updateParentChild(ctx context.Context, q dbtx, childIdentifier, parentHulyID, parentBeadsID string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE issues SET parent_huly_id = ?, parent_beads_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE identifier = ?
	`, parentHulyID, parentBeadsID, childIdentifier)
	if err != nil {
		return fmt.Errorf("failed to update parent: %w", err)
	}
	return requireRowAffected(res, "issue", childIdentifier)
}

// UpdateSubIssueCount records how many children an issue had last cycle.
func (s *SQLiteStore) UpdateSubIssueCount(ctx context.Context, identifier string, n int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE issues SET sub_issue_count = ?, updated_at = CURRENT_TIMESTAMP WHERE identifier = ?
	`, n, identifier)
	if err != nil {
		return fmt.Errorf("failed to update sub-issue count: %w", err)
	}
	return requireRowAffected(res, "issue", identifier)
}

// MarkDeletedFromHuly tombstones an issue. Tombstones survive forever:
// the engine suppresses writes to them and never re-creates counterparts.
func (s *SQLiteStore) MarkDeletedFromHuly(ctx context.Context, identifier string) error {
	return markDeletedFromHuly(ctx, s.db, identifier)
}

func markDeletedFromHuly(ctx context.Context, q dbtx, identifier string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE issues SET deleted_from_huly = 1, updated_at = CURRENT_TIMESTAMP WHERE identifier = ?
	`, identifier)
	if err != nil {
		return fmt.Errorf("failed to mark issue deleted: %w", err)
	}
	return requireRowAffected(res, "issue", identifier)
}

// ClearBeadsMapping severs a dangling Beads mapping: the id, its cached
// status, watermark, and parent pointer all reset so a later cycle can
// relink. This is the one path around the write-once rule; reconciliation
// owns it, the sync phases never call it.
func (s *SQLiteStore) ClearBeadsMapping(ctx context.Context, identifier string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE issues SET beads_issue_id = '', beads_status = '', beads_modified_at = 0,
			parent_beads_id = '', updated_at = CURRENT_TIMESTAMP
		WHERE identifier = ?
	`, identifier)
	if err != nil {
		return fmt.Errorf("failed to clear beads mapping: %w", err)
	}
	return requireRowAffected(res, "issue", identifier)
}

// ClearVibeMapping severs a dangling Vibe task mapping.
func (s *SQLiteStore) ClearVibeMapping(ctx context.Context, identifier string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE issues SET vibe_task_id = '', updated_at = CURRENT_TIMESTAMP WHERE identifier = ?
	`, identifier)
	if err != nil {
		return fmt.Errorf("failed to clear vibe mapping: %w", err)
	}
	return requireRowAffected(res, "issue", identifier)
}
