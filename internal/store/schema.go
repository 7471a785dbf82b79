package store

// schema defines the SQLite database schema for braid
const schema = `
-- Projects mirror the Huly project list. identifier is the Huly project
-- identifier (e.g. "BRAID"); vibe_id and filesystem_path are discovered
-- lazily and may stay empty for projects without a board or a checkout.
CREATE TABLE IF NOT EXISTS projects (
    identifier TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    vibe_id TEXT NOT NULL DEFAULT '',
    filesystem_path TEXT NOT NULL DEFAULT '',
    git_url TEXT NOT NULL DEFAULT '',
    huly_sync_cursor TEXT NOT NULL DEFAULT '',
    letta_synced_at DATETIME,
    is_empty INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Issues are the tri-source mapping rows. identifier is the Huly issue
-- identifier and is the only required column; the cross-system ids fill in
-- as counterparts are linked or created. Timestamps from the remote servers
-- are kept as epoch milliseconds exactly as reported.
CREATE TABLE IF NOT EXISTS issues (
    identifier TEXT PRIMARY KEY,
    project_identifier TEXT NOT NULL,
    huly_id TEXT NOT NULL DEFAULT '',
    beads_issue_id TEXT NOT NULL DEFAULT '',
    vibe_task_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '' CHECK (status IN ('', 'Backlog', 'Todo', 'In Progress', 'In Review', 'Done', 'Cancelled')),
    priority TEXT NOT NULL DEFAULT '' CHECK (priority IN ('', 'Urgent', 'High', 'Medium', 'Low', 'None')),
    beads_status TEXT NOT NULL DEFAULT '' CHECK (beads_status IN ('', 'open', 'in_progress', 'blocked', 'deferred', 'closed')),
    huly_modified_at INTEGER NOT NULL DEFAULT 0,
    beads_modified_at INTEGER NOT NULL DEFAULT 0,
    parent_huly_id TEXT NOT NULL DEFAULT '',
    parent_beads_id TEXT NOT NULL DEFAULT '',
    sub_issue_count INTEGER NOT NULL DEFAULT 0,
    deleted_from_huly INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (project_identifier) REFERENCES projects(identifier)
);

CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_identifier);
CREATE INDEX IF NOT EXISTS idx_issues_deleted ON issues(deleted_from_huly) WHERE deleted_from_huly = 1;

-- A beads or vibe id maps to at most one issue per project.
CREATE UNIQUE INDEX IF NOT EXISTS idx_issues_beads_id ON issues(project_identifier, beads_issue_id) WHERE beads_issue_id != '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_issues_vibe_id ON issues(project_identifier, vibe_task_id) WHERE vibe_task_id != '';

-- Sync runs record one orchestrator cycle each, for the status command and
-- for post-mortems of failed cycles.
CREATE TABLE IF NOT EXISTS sync_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME,
    status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'failed')),
    projects_total INTEGER NOT NULL DEFAULT 0,
    projects_synced INTEGER NOT NULL DEFAULT 0,
    projects_errored INTEGER NOT NULL DEFAULT 0,
    issues_synced INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at DESC);

-- Project files uploaded to the docs collaborator, keyed by relative path so
-- re-uploads update in place.
CREATE TABLE IF NOT EXISTS project_files (
    project_identifier TEXT NOT NULL,
    relative_path TEXT NOT NULL,
    content_hash TEXT NOT NULL DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    uploaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (project_identifier, relative_path),
    FOREIGN KEY (project_identifier) REFERENCES projects(identifier)
);
`
