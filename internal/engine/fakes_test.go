package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/beads"
	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/remote"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/vibe"
)

// fakeStore is an in-memory StateStore with the real patch semantics:
// nil fields untouched, cross-system ids write-once. GetProjectIssues
// returns copies so tests observe only what the engine persisted.
type fakeStore struct {
	rows       map[string]*types.Issue
	patches    []types.IssuePatch
	tombstoned []string
	lettaAt    map[string]time.Time
	failUpsert error
}

func newFakeStore(rows ...*types.Issue) *fakeStore {
	s := &fakeStore{
		rows:    make(map[string]*types.Issue),
		lettaAt: make(map[string]time.Time),
	}
	for _, r := range rows {
		s.rows[r.Identifier] = r
	}
	return s
}

func (s *fakeStore) GetProjectIssues(_ context.Context, project string) ([]*types.Issue, error) {
	var out []*types.Issue
	for _, r := range s.rows {
		if r.ProjectIdentifier == project {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertIssue(_ context.Context, p types.IssuePatch) error {
	if s.failUpsert != nil {
		return s.failUpsert
	}
	s.patches = append(s.patches, p)

	row := s.rows[p.Identifier]
	if row == nil {
		row = &types.Issue{Identifier: p.Identifier, ProjectIdentifier: p.ProjectIdentifier}
		s.rows[p.Identifier] = row
	}
	if p.BeadsIssueID != nil {
		if row.BeadsIssueID != "" && row.BeadsIssueID != *p.BeadsIssueID {
			return fmt.Errorf("beads id on %s is write-once", p.Identifier)
		}
		row.BeadsIssueID = *p.BeadsIssueID
	}
	if p.VibeTaskID != nil {
		if row.VibeTaskID != "" && row.VibeTaskID != *p.VibeTaskID {
			return fmt.Errorf("vibe task id on %s is write-once", p.Identifier)
		}
		row.VibeTaskID = *p.VibeTaskID
	}
	if p.HulyID != nil {
		row.HulyID = *p.HulyID
	}
	if p.Title != nil {
		row.Title = *p.Title
	}
	if p.Description != nil {
		row.Description = *p.Description
	}
	if p.Status != nil {
		row.Status = *p.Status
	}
	if p.Priority != nil {
		row.Priority = *p.Priority
	}
	if p.BeadsStatus != nil {
		row.BeadsStatus = *p.BeadsStatus
	}
	if p.HulyModifiedAt != nil {
		row.HulyModifiedAt = *p.HulyModifiedAt
	}
	if p.BeadsModifiedAt != nil {
		row.BeadsModifiedAt = *p.BeadsModifiedAt
	}
	if p.ParentHulyID != nil {
		row.ParentHulyID = *p.ParentHulyID
	}
	if p.ParentBeadsID != nil {
		row.ParentBeadsID = *p.ParentBeadsID
	}
	if p.SubIssueCount != nil {
		row.SubIssueCount = *p.SubIssueCount
	}
	return nil
}

func (s *fakeStore) UpdateParentChild(_ context.Context, child, parentHuly, parentBeads string) error {
	row := s.rows[child]
	if row == nil {
		return fmt.Errorf("no row for %s", child)
	}
	row.ParentHulyID = parentHuly
	row.ParentBeadsID = parentBeads
	return nil
}

func (s *fakeStore) UpdateSubIssueCount(_ context.Context, identifier string, n int) error {
	row := s.rows[identifier]
	if row == nil {
		return fmt.Errorf("no row for %s", identifier)
	}
	row.SubIssueCount = n
	return nil
}

func (s *fakeStore) MarkDeletedFromHuly(_ context.Context, identifier string) error {
	row := s.rows[identifier]
	if row == nil {
		return fmt.Errorf("no row for %s", identifier)
	}
	row.DeletedFromHuly = true
	s.tombstoned = append(s.tombstoned, identifier)
	return nil
}

func (s *fakeStore) SetLettaSyncedAt(_ context.Context, identifier string, at time.Time) error {
	s.lettaAt[identifier] = at
	return nil
}

// fakeHuly serves issues from a map and records every mutation. Patches
// and moves apply to the map so point lookups later in a cycle see them.
type fakeHuly struct {
	issues  map[string]*huly.Issue
	created []huly.CreateParams
	patches map[string][]huly.Patch
	moves   []string
	gets    int
	nextID  int
}

func newFakeHuly(issues ...huly.Issue) *fakeHuly {
	h := &fakeHuly{
		issues:  make(map[string]*huly.Issue),
		patches: make(map[string][]huly.Patch),
	}
	for i := range issues {
		cp := issues[i]
		h.issues[cp.Identifier] = &cp
	}
	return h
}

func (h *fakeHuly) GetIssue(_ context.Context, identifier string) (*huly.Issue, error) {
	h.gets++
	issue := h.issues[identifier]
	if issue == nil {
		return nil, nil
	}
	cp := *issue
	return &cp, nil
}

func (h *fakeHuly) CreateIssue(_ context.Context, project string, params huly.CreateParams) (*huly.Issue, error) {
	h.nextID++
	h.created = append(h.created, params)
	issue := &huly.Issue{
		Identifier:  fmt.Sprintf("%s-%d", project, 100+h.nextID),
		Project:     project,
		Title:       params.Title,
		Description: params.Description,
		Status:      params.Status,
		Priority:    params.Priority,
		ParentIssue: params.ParentIdentifier,
		ModifiedOn:  5000 + int64(h.nextID),
	}
	h.issues[issue.Identifier] = issue
	cp := *issue
	return &cp, nil
}

func (h *fakeHuly) PatchIssue(_ context.Context, identifier string, patch huly.Patch) error {
	issue := h.issues[identifier]
	if issue == nil {
		return remote.ErrNotFound
	}
	h.patches[identifier] = append(h.patches[identifier], patch)
	if patch.Title != nil {
		issue.Title = *patch.Title
	}
	if patch.Description != nil {
		issue.Description = *patch.Description
	}
	if patch.Status != nil {
		issue.Status = *patch.Status
	}
	if patch.Priority != nil {
		issue.Priority = *patch.Priority
	}
	return nil
}

func (h *fakeHuly) MoveIssue(_ context.Context, identifier, parentIdentifier string) error {
	issue := h.issues[identifier]
	if issue == nil {
		return remote.ErrNotFound
	}
	issue.ParentIssue = parentIdentifier
	h.moves = append(h.moves, identifier+"->"+parentIdentifier)
	return nil
}

// fakeVibe serves a fixed board and records creates and updates.
type fakeVibe struct {
	tasks   []vibe.Task
	created []vibe.Task
	updates map[string][]vibe.TaskPatch
	nextID  int
}

func (v *fakeVibe) ListTasks(_ context.Context, _ string) ([]vibe.Task, error) {
	return v.tasks, nil
}

func (v *fakeVibe) CreateTask(_ context.Context, projectID, title, description string, status types.VibeStatus) (*vibe.Task, error) {
	v.nextID++
	t := vibe.Task{
		ID:          fmt.Sprintf("vt-new-%d", v.nextID),
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		Status:      status,
	}
	v.created = append(v.created, t)
	return &t, nil
}

func (v *fakeVibe) UpdateTask(_ context.Context, id string, patch vibe.TaskPatch) (*vibe.Task, error) {
	if v.updates == nil {
		v.updates = make(map[string][]vibe.TaskPatch)
	}
	v.updates[id] = append(v.updates[id], patch)
	return &vibe.Task{ID: id}, nil
}

// fakeBeads records every bd mutation in invocation order.
type fakeBeads struct {
	issues  []beads.Issue
	created []beads.CreateParams
	calls   []string
	flushed []string
	nextID  int
}

func (b *fakeBeads) ReadStore(_ context.Context) ([]beads.Issue, error) {
	return b.issues, nil
}

func (b *fakeBeads) Create(_ context.Context, p beads.CreateParams) (string, error) {
	b.nextID++
	id := fmt.Sprintf("bd-new-%d", b.nextID)
	b.created = append(b.created, p)
	b.calls = append(b.calls, "create "+id)
	return id, nil
}

func (b *fakeBeads) Update(_ context.Context, id, field, value string) error {
	b.calls = append(b.calls, fmt.Sprintf("update %s %s %s", id, field, value))
	return nil
}

func (b *fakeBeads) SetStatus(_ context.Context, id string, status types.BeadsStatus) error {
	b.calls = append(b.calls, fmt.Sprintf("status %s %s", id, status))
	return nil
}

func (b *fakeBeads) Close(_ context.Context, id string) error {
	b.calls = append(b.calls, "close "+id)
	return nil
}

func (b *fakeBeads) Reopen(_ context.Context, id string) error {
	b.calls = append(b.calls, "reopen "+id)
	return nil
}

func (b *fakeBeads) DepAdd(_ context.Context, child, parent string) error {
	b.calls = append(b.calls, fmt.Sprintf("dep-add %s %s", child, parent))
	return nil
}

func (b *fakeBeads) DepRemove(_ context.Context, child, parent string) error {
	b.calls = append(b.calls, fmt.Sprintf("dep-remove %s %s", child, parent))
	return nil
}

func (b *fakeBeads) SyncFlush(_ context.Context, message string) error {
	b.flushed = append(b.flushed, message)
	return nil
}

// fakeDocs records which projects were exported.
type fakeDocs struct {
	calls []string
	err   error
}

func (d *fakeDocs) SyncProject(_ context.Context, p *types.Project, _ time.Time, _ []string) error {
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, p.Identifier)
	return nil
}

// fakePublisher runs the flush and records the directory, standing in for
// the git committer.
type fakePublisher struct {
	dirs []string
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, dir string, _ time.Time, flush beads.FlushFunc) error {
	if p.err != nil {
		return p.err
	}
	p.dirs = append(p.dirs, dir)
	return flush(ctx, "braid sync")
}

// testProject is the standard three-surface project fixture. Cursor set,
// so snapshots read as incremental unless a test clears it.
func testProject() *types.Project {
	return &types.Project{
		Identifier:     "ACME",
		Name:           "Acme",
		VibeID:         "vibe-acme",
		FilesystemPath: "/work/acme",
		HulySyncCursor: "2026-01-01T00:00:00Z",
	}
}

// newTestEngine wires the fakes into an engine with a fixed clock.
func newTestEngine(store *fakeStore, h *fakeHuly, v *fakeVibe, b *fakeBeads, pub *fakePublisher) *Engine {
	return New(Config{
		Store:     store,
		Huly:      h,
		Vibe:      v,
		Beads:     func(string) BeadsOps { return b },
		Committer: pub,
		Logger:    zap.NewNop(),
		Now:       func() time.Time { return time.UnixMilli(9_000_000) },
	})
}

// bdIssue builds a Beads issue fixture with the update timestamp in epoch
// milliseconds, the unit the engine's watermarks use.
func bdIssue(id, title string, status types.BeadsStatus, modifiedMs int64) beads.Issue {
	return beads.Issue{
		ID:        id,
		Title:     title,
		Status:    status,
		Priority:  2,
		CreatedAt: time.UnixMilli(1),
		UpdatedAt: time.UnixMilli(modifiedMs),
	}
}
