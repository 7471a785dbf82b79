package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	// Import SQLite driver
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/steveyegge/braid/internal/types"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool // Tracks whether Close() has been called
}

// Verify SQLiteStore implements Store at compile time
var _ Store = (*SQLiteStore)(nil)

// setupWASMCache configures WASM compilation caching to reduce SQLite startup
// time. The compiled module lands in ~/.cache/braid/wasm/ (via
// os.UserCacheDir); wazero keys the cache by its own version so stale entries
// are harmless. Falls back to an in-memory cache when the directory cannot
// be created.
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "braid", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}

	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = ""
	}

	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)

	return cacheDir
}

func init() {
	// Avoid the ~200ms JIT compilation hit on every process start
	_ = setupWASMCache()
}

// New creates a new SQLite-backed store at path. ":memory:" opens a shared
// in-memory database, useful in tests.
func New(ctx context.Context, path string) (*SQLiteStore, error) {
	// For :memory: databases, use shared cache so multiple connections see
	// the same data. WAL mode doesn't work with shared in-memory databases,
	// so those run in DELETE mode.
	var connStr string
	if path == ":memory:" {
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	} else if strings.HasPrefix(path, "file:") {
		// Already a URI, append our pragmas if not present
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
		}
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory databases are isolated per connection by default; force a
	// single connection so every caller sees the same data.
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL supports 1 writer + N readers; cap the pool so write lock
		// contention doesn't pile up goroutines.
		maxConns := runtime.NumCPU() + 1
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	}

	if !isInMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	absPath := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
	}

	return &SQLiteStore{db: db, dbPath: absPath}, nil
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Conn, so the
// same query helpers serve both plain calls and transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

// --- Projects ---

// UpsertProject inserts or merges a project by identifier. Discovered fields
// (vibe_id, filesystem_path, git_url) only overwrite when non-empty, so a
// later sparse upsert never erases an earlier discovery.
func (s *SQLiteStore) UpsertProject(ctx context.Context, p *types.Project) error {
	return upsertProject(ctx, s.db, p)
}

func upsertProject(ctx context.Context, q dbtx, p *types.Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO projects (identifier, name, vibe_id, filesystem_path, git_url, is_empty)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			name = excluded.name,
			vibe_id = CASE WHEN excluded.vibe_id = '' THEN projects.vibe_id ELSE excluded.vibe_id END,
			filesystem_path = CASE WHEN excluded.filesystem_path = '' THEN projects.filesystem_path ELSE excluded.filesystem_path END,
			git_url = CASE WHEN excluded.git_url = '' THEN projects.git_url ELSE excluded.git_url END,
			updated_at = CURRENT_TIMESTAMP
	`, p.Identifier, p.Name, p.VibeID, p.FilesystemPath, p.GitURL, boolToInt(p.IsEmpty))
	if err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}

const projectColumns = `identifier, name, vibe_id, filesystem_path, git_url,
	huly_sync_cursor, letta_synced_at, is_empty, created_at, updated_at`

func scanProject(row scanner) (*types.Project, error) {
	var p types.Project
	var lettaSyncedAt sql.NullTime
	var isEmpty int

	err := row.Scan(
		&p.Identifier, &p.Name, &p.VibeID, &p.FilesystemPath, &p.GitURL,
		&p.HulySyncCursor, &lettaSyncedAt, &isEmpty, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lettaSyncedAt.Valid {
		p.LettaLastSync = &lettaSyncedAt.Time
	}
	p.IsEmpty = isEmpty != 0
	return &p, nil
}

// GetProject retrieves a project by identifier.
func (s *SQLiteStore) GetProject(ctx context.Context, identifier string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+` FROM projects WHERE identifier = ?
	`, identifier)

	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", identifier, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// GetAllProjects retrieves every tracked project ordered by identifier.
func (s *SQLiteStore) GetAllProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+` FROM projects ORDER BY identifier
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SetProjectEmpty records whether the project had zero issues on every
// surface last cycle. Empty projects are skipped when SKIP_EMPTY_PROJECTS
// is on.
func (s *SQLiteStore) SetProjectEmpty(ctx context.Context, identifier string, empty bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET is_empty = ?, updated_at = CURRENT_TIMESTAMP WHERE identifier = ?
	`, boolToInt(empty), identifier)
	if err != nil {
		return fmt.Errorf("failed to set is_empty: %w", err)
	}
	return requireRowAffected(res, "project", identifier)
}

// SetLettaSyncedAt records the last successful docs upload for the project.
func (s *SQLiteStore) SetLettaSyncedAt(ctx context.Context, identifier string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET letta_synced_at = ?, updated_at = CURRENT_TIMESTAMP WHERE identifier = ?
	`, at, identifier)
	if err != nil {
		return fmt.Errorf("failed to set letta_synced_at: %w", err)
	}
	return requireRowAffected(res, "project", identifier)
}

// --- Cursors ---

// GetHulySyncCursor returns the incremental fetch watermark for the project,
// empty string when no cycle has completed yet.
func (s *SQLiteStore) GetHulySyncCursor(ctx context.Context, projectIdentifier string) (string, error) {
	return getHulySyncCursor(ctx, s.db, projectIdentifier)
}

func getHulySyncCursor(ctx context.Context, q dbtx, projectIdentifier string) (string, error) {
	var cursor string
	err := q.QueryRowContext(ctx, `
		SELECT huly_sync_cursor FROM projects WHERE identifier = ?
	`, projectIdentifier).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("project %s: %w", projectIdentifier, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cursor: %w", err)
	}
	return cursor, nil
}

// SetHulySyncCursor advances the watermark. Attempts to move it backwards
// are ignored so a stale cycle can never widen the next incremental fetch
// into re-processing already-seen issues twice.
func (s *SQLiteStore) SetHulySyncCursor(ctx context.Context, projectIdentifier, iso string) error {
	return setHulySyncCursor(ctx, s.db, projectIdentifier, iso)
}

func setHulySyncCursor(ctx context.Context, q dbtx, projectIdentifier, iso string) error {
	if iso == "" {
		return nil
	}

	current, err := getHulySyncCursor(ctx, q, projectIdentifier)
	if err != nil {
		return err
	}
	if current != "" && cursorLess(iso, current) {
		return nil
	}

	_, err = q.ExecContext(ctx, `
		UPDATE projects SET huly_sync_cursor = ?, updated_at = CURRENT_TIMESTAMP WHERE identifier = ?
	`, iso, projectIdentifier)
	if err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	return nil
}

// cursorLess compares two cursor strings as timestamps when both parse,
// falling back to lexicographic order (correct for same-format ISO-8601).
func cursorLess(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA == nil && errB == nil {
		return ta.Before(tb)
	}
	return a < b
}

// --- Sync runs ---

// StartSyncRun opens a new sync run row and returns its id.
func (s *SQLiteStore) StartSyncRun(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO sync_runs (status) VALUES ('running')`)
	if err != nil {
		return 0, fmt.Errorf("failed to start sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get sync run id: %w", err)
	}
	return id, nil
}

// CompleteSyncRun closes a sync run with its terminal status and counters.
func (s *SQLiteStore) CompleteSyncRun(ctx context.Context, id int64, status types.SyncRunStatus, stats types.SyncRunStats) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			completed_at = CURRENT_TIMESTAMP,
			status = ?,
			projects_total = ?,
			projects_synced = ?,
			projects_errored = ?,
			issues_synced = ?,
			errors = ?
		WHERE id = ?
	`, string(status), stats.ProjectsTotal, stats.ProjectsSynced, stats.ProjectsErrored,
		stats.IssuesSynced, stats.Errors, id)
	if err != nil {
		return fmt.Errorf("failed to complete sync run: %w", err)
	}
	return requireRowAffected(res, "sync run", fmt.Sprintf("%d", id))
}

// GetRecentSyncRuns returns the most recent runs, newest first.
func (s *SQLiteStore) GetRecentSyncRuns(ctx context.Context, limit int) ([]*types.SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, status,
		       projects_total, projects_synced, projects_errored, issues_synced, errors
		FROM sync_runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*types.SyncRun
	for rows.Next() {
		var r types.SyncRun
		var completedAt sql.NullTime
		var status string
		err := rows.Scan(&r.ID, &r.StartedAt, &completedAt, &status,
			&r.ProjectsTotal, &r.ProjectsSynced, &r.ProjectsErrored, &r.IssuesSynced, &r.Errors)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		r.Status = types.SyncRunStatus(status)
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// --- Project files ---

// UpsertProjectFile records a docs upload, keyed by (project, relative path).
func (s *SQLiteStore) UpsertProjectFile(ctx context.Context, f *types.ProjectFile) error {
	return upsertProjectFile(ctx, s.db, f)
}

func upsertProjectFile(ctx context.Context, q dbtx, f *types.ProjectFile) error {
	if f.ProjectIdentifier == "" || f.RelativePath == "" {
		return fmt.Errorf("project file requires project identifier and relative path")
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO project_files (project_identifier, relative_path, content_hash, size_bytes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_identifier, relative_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			uploaded_at = CURRENT_TIMESTAMP
	`, f.ProjectIdentifier, f.RelativePath, f.ContentHash, f.Size)
	if err != nil {
		return fmt.Errorf("failed to upsert project file: %w", err)
	}
	return nil
}

// GetProjectFiles returns the recorded uploads for a project ordered by path.
func (s *SQLiteStore) GetProjectFiles(ctx context.Context, projectIdentifier string) ([]*types.ProjectFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_identifier, relative_path, content_hash, size_bytes, uploaded_at
		FROM project_files WHERE project_identifier = ? ORDER BY relative_path
	`, projectIdentifier)
	if err != nil {
		return nil, fmt.Errorf("failed to list project files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*types.ProjectFile
	for rows.Next() {
		var f types.ProjectFile
		if err := rows.Scan(&f.ProjectIdentifier, &f.RelativePath, &f.ContentHash, &f.Size, &f.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project file: %w", err)
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRowAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
