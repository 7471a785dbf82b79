package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/engine"
	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/vibe"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type completedRun struct {
	id     int64
	status types.SyncRunStatus
	stats  types.SyncRunStats
}

type fakeFleet struct {
	mu        sync.Mutex
	projects  []*types.Project
	upserted  []*types.Project
	cursors   map[string]string
	empties   map[string]bool
	runs      int64
	completed []completedRun
}

func newFakeFleet(projects ...*types.Project) *fakeFleet {
	return &fakeFleet{
		projects: projects,
		cursors:  make(map[string]string),
		empties:  make(map[string]bool),
	}
}

func (f *fakeFleet) GetAllProjects(_ context.Context) ([]*types.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Project, len(f.projects))
	for i, p := range f.projects {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

func (f *fakeFleet) UpsertProject(_ context.Context, p *types.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.upserted = append(f.upserted, &cp)
	return nil
}

func (f *fakeFleet) SetProjectEmpty(_ context.Context, identifier string, empty bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.empties[identifier] = empty
	return nil
}

func (f *fakeFleet) SetHulySyncCursor(_ context.Context, projectIdentifier, iso string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[projectIdentifier] = iso
	return nil
}

func (f *fakeFleet) StartSyncRun(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.runs, nil
}

func (f *fakeFleet) CompleteSyncRun(_ context.Context, id int64, status types.SyncRunStatus, stats types.SyncRunStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, completedRun{id, status, stats})
	return nil
}

type fakeHulySrc struct {
	mu       sync.Mutex
	projects []huly.Project
	listErr  error

	pages    map[string]*huly.IssuePage
	pageErrs map[string]error
	bulkErr  error
	omit     map[string]bool // left out of bulk responses

	bulkCalls []huly.ListOptions
	oneCalls  []string // "PROJECT@cursor"
}

func (h *fakeHulySrc) ListProjects(_ context.Context) ([]huly.Project, error) {
	if h.listErr != nil {
		return nil, h.listErr
	}
	return h.projects, nil
}

func (h *fakeHulySrc) ListIssues(_ context.Context, project string, opts huly.ListOptions) (*huly.IssuePage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.oneCalls = append(h.oneCalls, project+"@"+opts.ModifiedSince)
	if err := h.pageErrs[project]; err != nil {
		return nil, err
	}
	if page := h.pages[project]; page != nil {
		return page, nil
	}
	return &huly.IssuePage{}, nil
}

func (h *fakeHulySrc) ListIssuesBulk(_ context.Context, projects []string, opts huly.ListOptions) (map[string]*huly.IssuePage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bulkCalls = append(h.bulkCalls, opts)
	if h.bulkErr != nil {
		return nil, h.bulkErr
	}
	out := make(map[string]*huly.IssuePage, len(projects))
	for _, p := range projects {
		if h.omit[p] {
			continue
		}
		if page := h.pages[p]; page != nil {
			out[p] = page
		} else {
			out[p] = &huly.IssuePage{}
		}
	}
	return out, nil
}

type fakeBoards struct {
	mu        sync.Mutex
	boards    []vibe.Project
	listErr   error
	createErr error
	created   []string
	nextID    int
}

func (b *fakeBoards) ListProjects(_ context.Context) ([]vibe.Project, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.boards, nil
}

func (b *fakeBoards) CreateProject(_ context.Context, name, gitRepoPath string) (*vibe.Project, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return nil, b.createErr
	}
	b.nextID++
	id := fmt.Sprintf("vb-new-%d", b.nextID)
	b.created = append(b.created, name+"|"+gitRepoPath)
	return &vibe.Project{ID: id, Name: name, GitRepoPath: gitRepoPath}, nil
}

type fakeSyncer struct {
	mu      sync.Mutex
	results map[string]*engine.Result
	errs    map[string]error
	seen    []*types.Project
	pages   map[string]*huly.IssuePage
}

func (s *fakeSyncer) SyncProject(_ context.Context, p *types.Project, page *huly.IssuePage) (*engine.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.seen = append(s.seen, &cp)
	if s.pages == nil {
		s.pages = make(map[string]*huly.IssuePage)
	}
	s.pages[p.Identifier] = page
	if err := s.errs[p.Identifier]; err != nil {
		return &engine.Result{Project: p.Identifier}, err
	}
	if r := s.results[p.Identifier]; r != nil {
		return r, nil
	}
	return &engine.Result{Project: p.Identifier}, nil
}

func (s *fakeSyncer) sawProject(identifier string) *types.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.seen {
		if p.Identifier == identifier {
			return p
		}
	}
	return nil
}

func newTestOrchestrator(fleet *fakeFleet, h *fakeHulySrc, b *fakeBoards, s *fakeSyncer) *Orchestrator {
	return New(Config{
		Store:  fleet,
		Huly:   h,
		Vibe:   b,
		Engine: s,
		Logger: zap.NewNop(),
		Now:    func() time.Time { return time.UnixMilli(50_000_000) },
	})
}

func pageWithMeta(latest string, n int) *huly.IssuePage {
	issues := make([]huly.Issue, n)
	for i := range issues {
		issues[i] = huly.Issue{Identifier: fmt.Sprintf("X-%d", i+1)}
	}
	return &huly.IssuePage{
		Issues:   issues,
		SyncMeta: &huly.SyncMeta{LatestModified: latest},
		Count:    n,
	}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestRunCycleDiscoversAndSyncsFleet(t *testing.T) {
	zeta := &types.Project{
		Identifier: "ZETA", Name: "Zeta Daemon",
		VibeID:         "vb-zeta",
		FilesystemPath: "/work/zeta",
		HulySyncCursor: "2026-01-01T00:00:00Z",
	}
	fleet := newFakeFleet(zeta)
	h := &fakeHulySrc{
		projects: []huly.Project{
			{Identifier: "ACME", Name: "Acme Web"},
			{Identifier: "ZETA", Name: "Zeta Daemon"},
		},
		pages: map[string]*huly.IssuePage{
			"ACME": pageWithMeta("2026-02-01T09:00:00Z", 2),
			"ZETA": pageWithMeta("2026-02-01T10:30:00Z", 1),
		},
	}
	b := &fakeBoards{boards: []vibe.Project{{ID: "vb-acme", Name: "Acme Web"}}}
	s := &fakeSyncer{results: map[string]*engine.Result{
		"ACME": {Project: "ACME", Phase1: engine.PhaseResult{Synced: 2}},
		"ZETA": {Project: "ZETA", Phase3: engine.PhaseResult{Synced: 1}},
	}}
	o := newTestOrchestrator(fleet, h, b, s)

	sum, err := o.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	// ACME is new: row persisted with the board adopted by name, no create
	require.Len(t, fleet.upserted, 2)
	assert.Empty(t, b.created)
	acme := s.sawProject("ACME")
	require.NotNil(t, acme)
	assert.Equal(t, "vb-acme", acme.VibeID, "adopted board flows into the same cycle")

	// both groups were singletons, so no bulk round trips
	assert.Empty(t, h.bulkCalls)
	assert.ElementsMatch(t, []string{"ACME@", "ZETA@2026-01-01T00:00:00Z"}, h.oneCalls)

	assert.Equal(t, "2026-02-01T09:00:00Z", fleet.cursors["ACME"])
	assert.Equal(t, "2026-02-01T10:30:00Z", fleet.cursors["ZETA"])

	assert.Equal(t, int64(1), sum.RunID)
	assert.Equal(t, 2, sum.Stats.ProjectsTotal)
	assert.Equal(t, 2, sum.Stats.ProjectsSynced)
	assert.Equal(t, 3, sum.Stats.IssuesSynced)
	require.Len(t, fleet.completed, 1)
	assert.Equal(t, types.RunCompleted, fleet.completed[0].status)
	assert.Equal(t, sum.Stats, fleet.completed[0].stats)
}

func TestRunCycleCreatesMissingBoard(t *testing.T) {
	fleet := newFakeFleet()
	h := &fakeHulySrc{projects: []huly.Project{{Identifier: "ACME", Name: "Acme Web"}}}
	b := &fakeBoards{}
	s := &fakeSyncer{}
	o := New(Config{
		Store: fleet, Huly: h, Vibe: b, Engine: s,
		Logger: zap.NewNop(),
	})

	_, err := o.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	require.Equal(t, []string{"Acme Web|"}, b.created)
	acme := s.sawProject("ACME")
	require.NotNil(t, acme)
	assert.Equal(t, "vb-new-1", acme.VibeID)
	require.Len(t, fleet.upserted, 1)
	assert.Equal(t, "vb-new-1", fleet.upserted[0].VibeID)
}

func TestRunCycleSurvivesBoardServerOutage(t *testing.T) {
	zeta := &types.Project{Identifier: "ZETA", Name: "Zeta Daemon", VibeID: "vb-zeta"}
	fleet := newFakeFleet(zeta)
	h := &fakeHulySrc{projects: []huly.Project{
		{Identifier: "ACME", Name: "Acme Web"},
		{Identifier: "ZETA", Name: "Zeta Daemon"},
	}}
	b := &fakeBoards{listErr: errors.New("connection refused")}
	s := &fakeSyncer{}
	o := newTestOrchestrator(fleet, h, b, s)

	sum, err := o.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Stats.ProjectsSynced, "outage degrades pairing, not the cycle")
	assert.Empty(t, b.created)
	assert.Empty(t, s.sawProject("ACME").VibeID, "no board until the server is back")
	assert.Equal(t, "vb-zeta", s.sawProject("ZETA").VibeID, "stored pairing survives")
}

func TestRunCycleBulkFetchGroups(t *testing.T) {
	fleet := newFakeFleet(
		&types.Project{Identifier: "A", Name: "A", HulySyncCursor: "2026-01-03T00:00:00Z"},
		&types.Project{Identifier: "B", Name: "B", HulySyncCursor: "2026-01-01T00:00:00Z"},
		&types.Project{Identifier: "C", Name: "C", HulySyncCursor: "2026-01-02T00:00:00Z"},
		&types.Project{Identifier: "D", Name: "D"},
		&types.Project{Identifier: "E", Name: "E"},
	)
	h := &fakeHulySrc{projects: []huly.Project{
		{Identifier: "A", Name: "A"}, {Identifier: "B", Name: "B"},
		{Identifier: "C", Name: "C"}, {Identifier: "D", Name: "D"},
		{Identifier: "E", Name: "E"},
	}}
	b := &fakeBoards{listErr: errors.New("down")}
	s := &fakeSyncer{}
	o := newTestOrchestrator(fleet, h, b, s)

	sum, err := o.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, h.bulkCalls, 2, "one call per group, never per project")
	assert.Equal(t, "2026-01-01T00:00:00Z", h.bulkCalls[0].ModifiedSince, "cursored group uses the oldest cursor")
	assert.Empty(t, h.bulkCalls[1].ModifiedSince, "uncursored group fetches everything")
	assert.Empty(t, h.oneCalls)
	assert.Equal(t, 5, sum.Stats.ProjectsSynced)
}

func TestRunCycleBulkFailureFallsBackPerProject(t *testing.T) {
	fleet := newFakeFleet(
		&types.Project{Identifier: "A", Name: "A", HulySyncCursor: "2026-01-03T00:00:00Z"},
		&types.Project{Identifier: "B", Name: "B", HulySyncCursor: "2026-01-01T00:00:00Z"},
	)
	h := &fakeHulySrc{
		projects: []huly.Project{{Identifier: "A", Name: "A"}, {Identifier: "B", Name: "B"}},
		bulkErr:  errors.New("bulk endpoint unavailable"),
	}
	b := &fakeBoards{listErr: errors.New("down")}
	s := &fakeSyncer{}
	o := newTestOrchestrator(fleet, h, b, s)

	sum, err := o.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, h.bulkCalls, 1)
	assert.ElementsMatch(t, []string{"A@2026-01-03T00:00:00Z", "B@2026-01-01T00:00:00Z"}, h.oneCalls,
		"fallback fetches each project with its own cursor")
	assert.Equal(t, 2, sum.Stats.ProjectsSynced)
}

func TestRunCycleBulkOmissionFetchesAlone(t *testing.T) {
	fleet := newFakeFleet(
		&types.Project{Identifier: "A", Name: "A", HulySyncCursor: "2026-01-03T00:00:00Z"},
		&types.Project{Identifier: "B", Name: "B", HulySyncCursor: "2026-01-01T00:00:00Z"},
	)
	h := &fakeHulySrc{
		projects: []huly.Project{{Identifier: "A", Name: "A"}, {Identifier: "B", Name: "B"}},
		omit:     map[string]bool{"B": true},
	}
	b := &fakeBoards{listErr: errors.New("down")}
	s := &fakeSyncer{}
	o := newTestOrchestrator(fleet, h, b, s)

	_, err := o.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, h.bulkCalls, 1)
	assert.Equal(t, []string{"B@2026-01-01T00:00:00Z"}, h.oneCalls)
	require.NotNil(t, s.sawProject("B"))
}

func TestRunCycleHonorsProjectFilter(t *testing.T) {
	projects := []*types.Project{
		{Identifier: "ACME", Name: "Acme Web", FilesystemPath: "/work/acme", IsEmpty: true},
		{Identifier: "ZETA", Name: "Zeta Daemon", FilesystemPath: "/work/zeta"},
	}
	listed := []huly.Project{
		{Identifier: "ACME", Name: "Acme Web"},
		{Identifier: "ZETA", Name: "Zeta Daemon"},
	}

	cases := []struct {
		name   string
		filter string
		want   []string
	}{
		{"by identifier", "ACME", []string{"ACME"}},
		{"by checkout path", "/work/zeta/", []string{"ZETA"}},
		{"filter beats empty flag", "ACME", []string{"ACME"}},
		{"miss", "NOPE", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fleet := newFakeFleet(projects...)
			h := &fakeHulySrc{projects: listed}
			s := &fakeSyncer{}
			o := newTestOrchestrator(fleet, h, &fakeBoards{listErr: errors.New("down")}, s)

			sum, err := o.RunCycle(context.Background(), Options{Project: tc.filter, SkipEmpty: true})
			require.NoError(t, err)

			var got []string
			for _, out := range sum.Outcomes {
				got = append(got, out.Project)
			}
			assert.Equal(t, tc.want, got)
			assert.Equal(t, len(tc.want), sum.Stats.ProjectsTotal)
		})
	}
}

func TestRunCycleSkipsEmptyProjects(t *testing.T) {
	fleet := newFakeFleet(
		&types.Project{Identifier: "ACME", Name: "Acme Web", IsEmpty: true},
		&types.Project{Identifier: "ZETA", Name: "Zeta Daemon"},
	)
	h := &fakeHulySrc{projects: []huly.Project{
		{Identifier: "ACME", Name: "Acme Web"},
		{Identifier: "ZETA", Name: "Zeta Daemon"},
	}}
	s := &fakeSyncer{}
	o := newTestOrchestrator(fleet, h, &fakeBoards{listErr: errors.New("down")}, s)

	sum, err := o.RunCycle(context.Background(), Options{SkipEmpty: true})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Stats.ProjectsTotal)
	assert.Nil(t, s.sawProject("ACME"))
	assert.NotNil(t, s.sawProject("ZETA"))
}

func TestRunCycleForcedFullClearsCursor(t *testing.T) {
	fleet := newFakeFleet(&types.Project{
		Identifier: "ACME", Name: "Acme Web",
		HulySyncCursor: "2026-01-01T00:00:00Z",
	})
	h := &fakeHulySrc{
		projects: []huly.Project{{Identifier: "ACME", Name: "Acme Web"}},
		pages:    map[string]*huly.IssuePage{"ACME": pageWithMeta("2026-02-01T00:00:00Z", 0)},
	}
	s := &fakeSyncer{results: map[string]*engine.Result{
		"ACME": {Project: "ACME", Full: true, Empty: true},
	}}
	o := newTestOrchestrator(fleet, h, &fakeBoards{listErr: errors.New("down")}, s)

	_, err := o.RunCycle(context.Background(), Options{Full: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"ACME@"}, h.oneCalls, "forced full ignores the stored cursor")
	acme := s.sawProject("ACME")
	require.NotNil(t, acme)
	assert.Empty(t, acme.HulySyncCursor, "engine sees the fetch as cursor-less")
	assert.True(t, fleet.empties["ACME"], "full listing refreshes the empty flag")
	assert.Equal(t, "2026-02-01T00:00:00Z", fleet.cursors["ACME"], "cursor still advances afterwards")
}

func TestRunCycleFetchFailureSkipsProject(t *testing.T) {
	fleet := newFakeFleet(&types.Project{Identifier: "ACME", Name: "Acme Web"})
	h := &fakeHulySrc{
		projects: []huly.Project{{Identifier: "ACME", Name: "Acme Web"}},
		pageErrs: map[string]error{"ACME": errors.New("503")},
	}
	s := &fakeSyncer{}
	o := newTestOrchestrator(fleet, h, &fakeBoards{listErr: errors.New("down")}, s)

	sum, err := o.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	assert.Empty(t, s.seen, "phases must not run against a failed listing")
	require.Len(t, sum.Outcomes, 1)
	assert.Error(t, sum.Outcomes[0].Err)
	assert.Equal(t, 1, sum.Stats.ProjectsErrored)
	assert.Empty(t, fleet.cursors)
	require.Len(t, fleet.completed, 1)
	assert.Equal(t, types.RunFailed, fleet.completed[0].status, "a fully errored cycle is a failed run")
}

func TestRunCyclePartialFailureStillCompletes(t *testing.T) {
	fleet := newFakeFleet(
		&types.Project{Identifier: "ACME", Name: "Acme Web", HulySyncCursor: "2026-01-01T00:00:00Z"},
		&types.Project{Identifier: "ZETA", Name: "Zeta Daemon", HulySyncCursor: "2026-01-02T00:00:00Z"},
	)
	h := &fakeHulySrc{
		projects: []huly.Project{
			{Identifier: "ACME", Name: "Acme Web"},
			{Identifier: "ZETA", Name: "Zeta Daemon"},
		},
		pages: map[string]*huly.IssuePage{
			"ACME": pageWithMeta("2026-02-01T00:00:00Z", 1),
			"ZETA": pageWithMeta("2026-02-02T00:00:00Z", 1),
		},
	}
	s := &fakeSyncer{errs: map[string]error{"ZETA": errors.New("snapshot failed")}}
	o := newTestOrchestrator(fleet, h, &fakeBoards{listErr: errors.New("down")}, s)

	sum, err := o.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Stats.ProjectsSynced)
	assert.Equal(t, 1, sum.Stats.ProjectsErrored)
	assert.Equal(t, "2026-02-01T00:00:00Z", fleet.cursors["ACME"])
	_, wrote := fleet.cursors["ZETA"]
	assert.False(t, wrote, "a failed cycle never advances the cursor")
	require.Len(t, fleet.completed, 1)
	assert.Equal(t, types.RunCompleted, fleet.completed[0].status)
}

func TestRunCycleParallelSyncsEveryProject(t *testing.T) {
	var projects []*types.Project
	var listed []huly.Project
	for _, id := range []string{"A", "B", "C", "D"} {
		projects = append(projects, &types.Project{Identifier: id, Name: id})
		listed = append(listed, huly.Project{Identifier: id, Name: id})
	}
	fleet := newFakeFleet(projects...)
	h := &fakeHulySrc{projects: listed}
	s := &fakeSyncer{}
	o := newTestOrchestrator(fleet, h, &fakeBoards{listErr: errors.New("down")}, s)

	sum, err := o.RunCycle(context.Background(), Options{Parallel: true, MaxWorkers: 3})
	require.NoError(t, err)

	var got []string
	for _, out := range sum.Outcomes {
		require.NoError(t, out.Err)
		got = append(got, out.Project)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, got, "outcomes keep project order regardless of completion order")
	assert.Equal(t, 4, sum.Stats.ProjectsSynced)
}

func TestRunCycleDryRunWritesNothing(t *testing.T) {
	fleet := newFakeFleet(&types.Project{
		Identifier: "ACME", Name: "Acme Web",
		HulySyncCursor: "2026-01-01T00:00:00Z",
	})
	h := &fakeHulySrc{
		projects: []huly.Project{
			{Identifier: "ACME", Name: "Acme Web"},
			{Identifier: "NEW", Name: "Brand New"},
		},
		pages: map[string]*huly.IssuePage{"ACME": pageWithMeta("2026-02-01T00:00:00Z", 1)},
	}
	b := &fakeBoards{}
	s := &fakeSyncer{results: map[string]*engine.Result{
		"NEW": {Project: "NEW", Full: true, Empty: true},
	}}
	o := New(Config{
		Store: fleet, Huly: h, Vibe: b, Engine: s,
		Logger: zap.NewNop(),
		DryRun: true,
	})

	sum, err := o.RunCycle(context.Background(), Options{})
	require.NoError(t, err)

	assert.Zero(t, sum.RunID)
	assert.Zero(t, fleet.runs, "no run row in dry-run")
	assert.Empty(t, fleet.completed)
	assert.Empty(t, fleet.upserted)
	assert.Empty(t, fleet.cursors)
	assert.Empty(t, fleet.empties)
	assert.Empty(t, b.created, "no board creation in dry-run")
	assert.Len(t, s.seen, 2, "the engine still runs; it carries its own dry-run flag")
}

func TestRunCycleProjectListFailureFailsRun(t *testing.T) {
	fleet := newFakeFleet()
	h := &fakeHulySrc{listErr: errors.New("huly unreachable")}
	o := newTestOrchestrator(fleet, h, &fakeBoards{}, &fakeSyncer{})

	_, err := o.RunCycle(context.Background(), Options{})
	require.Error(t, err)
	require.Len(t, fleet.completed, 1)
	assert.Equal(t, types.RunFailed, fleet.completed[0].status)
}

func TestLocateCheckoutProbesRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "acme"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "Zeta Daemon"), 0o755))

	o := New(Config{ProjectsRoot: root, Logger: zap.NewNop()})

	assert.Equal(t, filepath.Join(root, "acme"), o.locateCheckout("ACME", "Acme Web"),
		"lowercased identifier matches")
	assert.Equal(t, filepath.Join(root, "Zeta Daemon"), o.locateCheckout("ZETA", "Zeta Daemon"),
		"project name matches")
	assert.Empty(t, o.locateCheckout("GONE", "No Such Dir"))

	o = New(Config{Logger: zap.NewNop()})
	assert.Empty(t, o.locateCheckout("ACME", "Acme Web"), "no root, no probing")
}
