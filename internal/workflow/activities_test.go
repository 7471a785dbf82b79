package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/beads"
	"github.com/steveyegge/braid/internal/engine"
	"github.com/steveyegge/braid/internal/orchestrator"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/vibe"
)

type fakeStore struct {
	projects     []*types.Project
	issues       map[string][]*types.Issue
	clearedBeads []string
	clearedVibe  []string
	nextRun      int64
}

func (s *fakeStore) GetAllProjects(ctx context.Context) ([]*types.Project, error) {
	return s.projects, nil
}

func (s *fakeStore) GetProjectIssues(ctx context.Context, projectIdentifier string) ([]*types.Issue, error) {
	return s.issues[projectIdentifier], nil
}

func (s *fakeStore) ClearBeadsMapping(ctx context.Context, identifier string) error {
	s.clearedBeads = append(s.clearedBeads, identifier)
	return nil
}

func (s *fakeStore) ClearVibeMapping(ctx context.Context, identifier string) error {
	s.clearedVibe = append(s.clearedVibe, identifier)
	return nil
}

func (s *fakeStore) StartSyncRun(ctx context.Context) (int64, error) {
	s.nextRun++
	return s.nextRun, nil
}

func (s *fakeStore) CompleteSyncRun(ctx context.Context, id int64, status types.SyncRunStatus, stats types.SyncRunStats) error {
	return nil
}

type fakeFleet struct {
	discovered []*types.Project
	outcome    *orchestrator.Outcome
	err        error
	gotFull    bool
	gotProject string
}

func (f *fakeFleet) Discover(ctx context.Context, opts orchestrator.Options) ([]*types.Project, error) {
	return f.discovered, f.err
}

func (f *fakeFleet) SyncProjectByIdentifier(ctx context.Context, identifier string, full bool) (*orchestrator.Outcome, error) {
	f.gotProject = identifier
	f.gotFull = full
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

type fakeIssueSyncer struct {
	res           *engine.Result
	err           error
	gotProject    string
	gotIdentifier string
}

func (f *fakeIssueSyncer) SyncIssue(ctx context.Context, project *types.Project, identifier string) (*engine.Result, error) {
	f.gotProject = project.Identifier
	f.gotIdentifier = identifier
	return f.res, f.err
}

type fakeVibe struct {
	tasks map[string][]vibe.Task
	err   error
}

func (f *fakeVibe) ListTasks(ctx context.Context, projectID string) ([]vibe.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tasks[projectID], nil
}

func (f *fakeVibe) CreateTask(ctx context.Context, projectID, title, description string, status types.VibeStatus) (*vibe.Task, error) {
	return nil, errors.New("unexpected CreateTask")
}

func (f *fakeVibe) UpdateTask(ctx context.Context, id string, patch vibe.TaskPatch) (*vibe.Task, error) {
	return nil, errors.New("unexpected UpdateTask")
}

type fakeBeadsOps struct {
	list []beads.Issue
	err  error
}

func (f *fakeBeadsOps) ReadStore(ctx context.Context) ([]beads.Issue, error) {
	return f.list, f.err
}

func (f *fakeBeadsOps) Create(ctx context.Context, p beads.CreateParams) (string, error) {
	return "", errors.New("unexpected Create")
}
func (f *fakeBeadsOps) Update(ctx context.Context, id, field, value string) error  { return nil }
func (f *fakeBeadsOps) SetStatus(ctx context.Context, id string, status types.BeadsStatus) error {
	return nil
}
func (f *fakeBeadsOps) Close(ctx context.Context, id string) error              { return nil }
func (f *fakeBeadsOps) Reopen(ctx context.Context, id string) error             { return nil }
func (f *fakeBeadsOps) DepAdd(ctx context.Context, child, parent string) error  { return nil }
func (f *fakeBeadsOps) DepRemove(ctx context.Context, child, parent string) error {
	return nil
}
func (f *fakeBeadsOps) SyncFlush(ctx context.Context, message string) error { return nil }

func reconcileFixture() (*fakeStore, *fakeVibe, engine.BeadsFactory) {
	store := &fakeStore{
		projects: []*types.Project{{
			Identifier:     "ACME",
			Name:           "Acme",
			VibeID:         "board-1",
			FilesystemPath: "/projects/acme",
		}},
		issues: map[string][]*types.Issue{
			"ACME": {
				{Identifier: "ACME-1", ProjectIdentifier: "ACME", BeadsIssueID: "acme-1", VibeTaskID: "t1"},
				{Identifier: "ACME-2", ProjectIdentifier: "ACME", BeadsIssueID: "acme-2", VibeTaskID: "t2"},
				{Identifier: "ACME-3", ProjectIdentifier: "ACME", BeadsIssueID: "acme-3", VibeTaskID: "t3", DeletedFromHuly: true},
			},
		},
	}
	vibeAPI := &fakeVibe{tasks: map[string][]vibe.Task{
		"board-1": {{ID: "t1", ProjectID: "board-1", Title: "Login broken"}},
	}}
	ops := &fakeBeadsOps{list: []beads.Issue{{ID: "acme-1", Title: "Login broken"}}}
	factory := func(projectPath string) engine.BeadsOps { return ops }
	return store, vibeAPI, factory
}

func TestReconcileMappingsMark(t *testing.T) {
	store, vibeAPI, factory := reconcileFixture()
	acts := NewActivities(store, &fakeFleet{}, &fakeIssueSyncer{}, vibeAPI, factory, zap.NewNop())

	res, err := acts.ReconcileMappings(context.Background(), ReconcileInput{Action: ReconcileMark})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Projects)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 1, res.StaleBeads, "tombstoned rows are left alone")
	assert.Equal(t, 1, res.StaleVibe)
	assert.Zero(t, res.Cleared)
	assert.Empty(t, store.clearedBeads)
	assert.Empty(t, store.clearedVibe)
	assert.Len(t, res.Details, 2)
}

func TestReconcileMappingsClear(t *testing.T) {
	store, vibeAPI, factory := reconcileFixture()
	acts := NewActivities(store, &fakeFleet{}, &fakeIssueSyncer{}, vibeAPI, factory, zap.NewNop())

	res, err := acts.ReconcileMappings(context.Background(), ReconcileInput{Action: ReconcileClear})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Cleared)
	assert.Equal(t, []string{"ACME-2"}, store.clearedBeads)
	assert.Equal(t, []string{"ACME-2"}, store.clearedVibe)
}

func TestReconcileMappingsDryRunNeverClears(t *testing.T) {
	store, vibeAPI, factory := reconcileFixture()
	acts := NewActivities(store, &fakeFleet{}, &fakeIssueSyncer{}, vibeAPI, factory, zap.NewNop())

	res, err := acts.ReconcileMappings(context.Background(), ReconcileInput{Action: ReconcileClear, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, res.StaleBeads)
	assert.Zero(t, res.Cleared)
	assert.Empty(t, store.clearedBeads)
}

func TestReconcileMappingsSkipsUnreadableSides(t *testing.T) {
	store, _, _ := reconcileFixture()
	vibeAPI := &fakeVibe{err: errors.New("board down")}
	factory := func(projectPath string) engine.BeadsOps {
		return &fakeBeadsOps{err: errors.New("no jsonl")}
	}
	acts := NewActivities(store, &fakeFleet{}, &fakeIssueSyncer{}, vibeAPI, factory, zap.NewNop())

	res, err := acts.ReconcileMappings(context.Background(), ReconcileInput{Action: ReconcileClear})
	require.NoError(t, err)

	// neither side could be checked, so nothing is stale and nothing clears
	assert.Zero(t, res.StaleBeads)
	assert.Zero(t, res.StaleVibe)
	assert.Empty(t, store.clearedBeads)
}

func TestSyncIssueDerivesProjectFromIdentifier(t *testing.T) {
	store := &fakeStore{projects: []*types.Project{{Identifier: "ACME", Name: "Acme"}}}
	syncer := &fakeIssueSyncer{res: &engine.Result{
		Project: "ACME",
		Phase3:  engine.PhaseResult{Synced: 1},
		Elapsed: 120 * time.Millisecond,
	}}
	acts := NewActivities(store, &fakeFleet{}, syncer, nil, nil, zap.NewNop())

	out, err := acts.SyncIssue(context.Background(), IssueSyncInput{IssueIdentifier: "ACME-12"})
	require.NoError(t, err)

	assert.Equal(t, "ACME", syncer.gotProject)
	assert.Equal(t, "ACME-12", syncer.gotIdentifier)
	assert.Equal(t, 1, out.Synced)
	assert.EqualValues(t, 120, out.ElapsedMS)
}

func TestSyncIssueUnknownProject(t *testing.T) {
	acts := NewActivities(&fakeStore{}, &fakeFleet{}, &fakeIssueSyncer{}, nil, nil, zap.NewNop())

	_, err := acts.SyncIssue(context.Background(), IssueSyncInput{IssueIdentifier: "GHOST-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GHOST")
}

func TestDiscoverProjectsProjectsRefs(t *testing.T) {
	fleet := &fakeFleet{discovered: []*types.Project{
		{Identifier: "ACME", Name: "Acme"},
		{Identifier: "ZETA", Name: "Zeta", IsEmpty: true},
	}}
	acts := NewActivities(&fakeStore{}, fleet, &fakeIssueSyncer{}, nil, nil, zap.NewNop())

	refs, err := acts.DiscoverProjects(context.Background(), OrchestrationInput{})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, ProjectRef{Identifier: "ACME", Name: "Acme"}, refs[0])
	assert.True(t, refs[1].Empty)
}

func TestSyncProjectFlattensOutcome(t *testing.T) {
	fleet := &fakeFleet{outcome: &orchestrator.Outcome{
		Project: "ACME",
		Result: &engine.Result{
			Project:     "ACME",
			Phase1:      engine.PhaseResult{Synced: 2},
			Phase3:      engine.PhaseResult{Synced: 1, Errors: []engine.IssueError{{Identifier: "ACME-9", Op: "patch", Err: errors.New("boom")}}},
			Conflicts:   []engine.Conflict{{Identifier: "ACME-3"}},
			BeadsWrites: 4,
			Committed:   true,
		},
	}}
	acts := NewActivities(&fakeStore{}, fleet, &fakeIssueSyncer{}, nil, nil, zap.NewNop())

	out, err := acts.SyncProject(context.Background(), SyncProjectInput{Identifier: "ACME", Full: true})
	require.NoError(t, err)

	assert.True(t, fleet.gotFull)
	assert.Equal(t, 3, out.Synced)
	assert.Equal(t, 1, out.Conflicts)
	assert.Equal(t, 4, out.BeadsWrites)
	assert.True(t, out.Committed)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "ACME-9 patch")
}

func TestProjectOf(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ACME-12", "ACME"},
		{"MY-PROJ-3", "MY-PROJ"},
		{"NODASH", ""},
		{"-7", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, projectOf(tc.in), "projectOf(%q)", tc.in)
	}
}

func TestFlattenResultNil(t *testing.T) {
	out := flattenResult("ACME", nil)
	assert.Equal(t, "ACME", out.Project)
	assert.Zero(t, out.Synced)
}
