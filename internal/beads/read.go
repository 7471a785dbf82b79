package beads

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/types"
)

// ReadStore reads every issue in the project's store, closed ones
// included, through the cheapest path that works: the JSONL export
// first (it is the git-merged source of truth), then a read-only open
// of the database, then bd itself. A project without a .beads directory
// yields an empty slice, not an error.
func (a *Adapter) ReadStore(ctx context.Context) ([]Issue, error) {
	beadsDir := FindBeadsDir(a.dir)
	if beadsDir == "" {
		return nil, nil
	}

	jsonlPath := FindJSONLPath(beadsDir)
	if _, err := os.Stat(jsonlPath); err == nil {
		issues, err := ReadJSONL(jsonlPath)
		if err == nil {
			return issues, nil
		}
		a.run.Logger.Warn("jsonl read failed, trying database",
			zap.String("path", jsonlPath), zap.Error(err))
	}

	if dbPath := FindDatabase(beadsDir); dbPath != "" {
		issues, err := ReadDatabase(ctx, dbPath)
		if err == nil {
			return issues, nil
		}
		a.run.Logger.Warn("database read failed, falling back to bd",
			zap.String("path", dbPath), zap.Error(err))
	}

	return a.List(ctx, ListParams{All: true})
}

// ReadDatabase reads issues, labels, and dependencies straight out of a
// bd database. The open is read-only so a concurrent bd process never
// sees us as a writer.
func ReadDatabase(ctx context.Context, dbPath string) ([]Issue, error) {
	connStr := "file:" + dbPath + "?mode=ro&_pragma=busy_timeout(5000)&_time_format=sqlite"
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	issues, err := readIssueRows(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return issues, nil
	}

	byID := make(map[string]*Issue, len(issues))
	for i := range issues {
		byID[issues[i].ID] = &issues[i]
	}
	if err := attachLabels(ctx, db, byID); err != nil {
		return nil, err
	}
	if err := attachDependencies(ctx, db, byID); err != nil {
		return nil, err
	}
	return issues, nil
}

func readIssueRows(ctx context.Context, db *sql.DB) ([]Issue, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, title, description, status, priority, issue_type,
		       created_at, updated_at, closed_at
		FROM issues
		WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("querying issues: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var issue Issue
		var status string
		var closedAt sql.NullTime
		if err := rows.Scan(&issue.ID, &issue.Title, &issue.Description,
			&status, &issue.Priority, &issue.IssueType,
			&issue.CreatedAt, &issue.UpdatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scanning issue: %w", err)
		}
		issue.Status = types.BeadsStatus(status)
		if closedAt.Valid {
			t := closedAt.Time
			issue.ClosedAt = &t
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func attachLabels(ctx context.Context, db *sql.DB, byID map[string]*Issue) error {
	rows, err := db.QueryContext(ctx, `SELECT issue_id, label FROM labels`)
	if err != nil {
		return fmt.Errorf("querying labels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			return fmt.Errorf("scanning label: %w", err)
		}
		if issue, ok := byID[id]; ok {
			issue.Labels = append(issue.Labels, label)
		}
	}
	return rows.Err()
}

func attachDependencies(ctx context.Context, db *sql.DB, byID map[string]*Issue) error {
	rows, err := db.QueryContext(ctx, `SELECT issue_id, depends_on_id, type FROM dependencies`)
	if err != nil {
		return fmt.Errorf("querying dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dep Dependency
		if err := rows.Scan(&dep.IssueID, &dep.DependsOnID, &dep.Type); err != nil {
			return fmt.Errorf("scanning dependency: %w", err)
		}
		if issue, ok := byID[dep.IssueID]; ok {
			issue.Dependencies = append(issue.Dependencies, dep)
		}
	}
	return rows.Err()
}

// StoreMtime returns the newest modification time among the store's
// JSONL and database files. The reconciliation workflow uses it to skip
// projects untouched since the last pass.
func StoreMtime(projectPath string) time.Time {
	beadsDir := FindBeadsDir(projectPath)
	if beadsDir == "" {
		return time.Time{}
	}
	var newest time.Time
	for _, p := range []string{FindJSONLPath(beadsDir), FindDatabase(beadsDir)} {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest
}
