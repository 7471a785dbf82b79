package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/braid/internal/beads"
	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/vibe"
)

func TestSyncProjectFreshIssuePropagates(t *testing.T) {
	store := newFakeStore()
	h := newFakeHuly()
	v := &fakeVibe{}
	b := &fakeBeads{}
	pub := &fakePublisher{}
	eng := newTestEngine(store, h, v, b, pub)

	proj := testProject()
	proj.HulySyncCursor = "" // first sync, full snapshot
	page := &huly.IssuePage{Issues: []huly.Issue{{
		Identifier:  "ACME-1",
		Title:       "Add retry to fetcher",
		Description: "Make fetch retry on 503.",
		Status:      types.HulyTodo,
		Priority:    types.PriorityHigh,
		ModifiedOn:  1000,
	}}}

	res, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)

	require.Len(t, v.created, 1)
	task := v.created[0]
	assert.Equal(t, "ACME-1: Add retry to fetcher", task.Title)
	assert.Equal(t, types.VibeTodo, task.Status)
	assert.True(t, strings.HasSuffix(task.Description, "\n\n---\nHuly Issue: ACME-1"),
		"task description must end in the footer")

	require.Len(t, b.created, 1)
	bp := b.created[0]
	assert.Equal(t, "Add retry to fetcher", bp.Title)
	require.NotNil(t, bp.Priority)
	assert.Equal(t, 1, *bp.Priority)
	assert.Equal(t, []string{"huly:todo"}, bp.Labels)
	assert.True(t, strings.HasSuffix(bp.Description, "\n\n---\nHuly Issue: ACME-1"))

	row := store.rows["ACME-1"]
	require.NotNil(t, row)
	assert.Equal(t, "vt-new-1", row.VibeTaskID)
	assert.Equal(t, "bd-new-1", row.BeadsIssueID)
	assert.Equal(t, types.BeadsOpen, row.BeadsStatus)
	assert.Equal(t, int64(1000), row.HulyModifiedAt)

	assert.Equal(t, []string{"/work/acme"}, pub.dirs)
	assert.Equal(t, []string{"braid sync"}, b.flushed)
	assert.True(t, res.Committed)
	assert.Equal(t, 1, res.Phase1.Synced)
	assert.Equal(t, 1, res.Phase3.Synced)
	assert.True(t, res.Full)
	assert.False(t, res.Empty)
}

func TestSyncProjectSecondCycleMakesNoWrites(t *testing.T) {
	// After a cycle propagates a fresh issue, a second cycle over the
	// unchanged world must be write-free on all three surfaces: the
	// engine's own output never reads back as a fresh edit.
	store := newFakeStore()
	h := newFakeHuly()
	v := &fakeVibe{}
	b := &fakeBeads{}
	pub := &fakePublisher{}
	eng := newTestEngine(store, h, v, b, pub)

	proj := testProject()
	proj.HulySyncCursor = ""
	page := &huly.IssuePage{Issues: []huly.Issue{{
		Identifier:  "ACME-9",
		Title:       "Wire health endpoint",
		Description: "Expose /healthz on the admin port.",
		Status:      types.HulyTodo,
		Priority:    types.PriorityMedium,
		ModifiedOn:  1000,
	}}}

	_, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)
	require.Len(t, v.created, 1)
	require.Len(t, b.created, 1)
	require.Len(t, pub.dirs, 1)

	// Surface the first cycle's writes the way the next poll would see
	// them: the created task on the board, the created issue in the store
	// with a real updated_at stamp.
	row := store.rows["ACME-9"]
	require.NotNil(t, row)
	created := v.created[0]
	v.tasks = append(v.tasks, vibe.Task{
		ID:          row.VibeTaskID,
		ProjectID:   created.ProjectID,
		Title:       created.Title,
		Description: created.Description,
		Status:      created.Status,
	})
	bd := bdIssue(row.BeadsIssueID, b.created[0].Title, row.BeadsStatus, 5001)
	bd.Description = b.created[0].Description
	bd.Labels = b.created[0].Labels
	b.issues = append(b.issues, bd)

	res2, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)

	assert.Len(t, v.created, 1, "second cycle must not create tasks")
	assert.Empty(t, v.updates)
	assert.Len(t, b.created, 1, "second cycle must not create beads issues")
	assert.Len(t, b.calls, 1, "no beads mutations beyond the first create")
	assert.Empty(t, h.created)
	assert.Empty(t, h.patches)
	assert.Empty(t, h.moves)
	assert.Len(t, b.flushed, 1, "nothing new to flush")
	assert.Len(t, pub.dirs, 1, "nothing new to commit")
	assert.False(t, res2.Committed)
	assert.Zero(t, res2.BeadsWrites)
	assert.Equal(t, int64(5001), store.rows["ACME-9"].BeadsModifiedAt,
		"quiescent cycle still refreshes the watermark")
}

func TestSyncProjectLinksExistingSurfaces(t *testing.T) {
	// Huly issue already has a footed Vibe task and a same-title Beads
	// issue; the cycle must link both, never create duplicates.
	store := newFakeStore()
	h := newFakeHuly()
	v := &fakeVibe{tasks: []vibe.Task{{
		ID:          "vt-7",
		Title:       "ACME-2: Fix login redirect loop",
		Description: "Broken redirect.\n\n---\nHuly Issue: ACME-2",
		Status:      types.VibeTodo,
	}}}
	b7 := bdIssue("bd-7", "Fix login redirect loop", types.BeadsOpen, 900)
	b7.Labels = []string{"huly:todo"}
	b := &fakeBeads{issues: []beads.Issue{b7}}
	pub := &fakePublisher{}
	eng := newTestEngine(store, h, v, b, pub)

	proj := testProject()
	page := &huly.IssuePage{Issues: []huly.Issue{{
		Identifier:  "ACME-2",
		Title:       "Fix login redirect loop",
		Description: "Broken redirect.",
		Status:      types.HulyTodo,
		Priority:    types.PriorityMedium,
		ModifiedOn:  1000,
	}}}

	res, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)

	assert.Empty(t, v.created, "footed task must be linked, not duplicated")
	assert.Empty(t, b.created, "same-title beads issue must be linked, not duplicated")
	assert.Empty(t, b.calls)

	row := store.rows["ACME-2"]
	require.NotNil(t, row)
	assert.Equal(t, "vt-7", row.VibeTaskID)
	assert.Equal(t, "bd-7", row.BeadsIssueID)
	assert.Zero(t, row.HulyModifiedAt, "linking leaves watermarks unset")
	assert.Zero(t, row.BeadsModifiedAt)
	assert.False(t, res.Committed, "linking is record-only, nothing to commit")

	// Next cycle reconciles the pre-existing pair: content already agrees,
	// so the zero watermarks collapse into a refresh with no writes.
	res2, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)
	require.Len(t, res2.Conflicts, 1)
	assert.Equal(t, DirHulyWins, res2.Conflicts[0].Winner)
	assert.Empty(t, b.calls)
	assert.Empty(t, h.patches)
	assert.Equal(t, int64(1000), store.rows["ACME-2"].HulyModifiedAt)
	assert.Equal(t, int64(900), store.rows["ACME-2"].BeadsModifiedAt)
}

func TestSyncProjectBeadsNewerConflictDefersHulyWrite(t *testing.T) {
	// Both sides changed since the last cycle and Beads is newer: the Huly
	// change is consumed without being applied, and the Beads title lands
	// on Huly only on the next cycle, as a one-sided change.
	store := newFakeStore(&types.Issue{
		Identifier:        "ACME-3",
		ProjectIdentifier: "ACME",
		BeadsIssueID:      "bd-3",
		Title:             "Old title",
		Description:       "Body.",
		Status:            types.HulyTodo,
		Priority:          types.PriorityMedium,
		BeadsStatus:       types.BeadsOpen,
		HulyModifiedAt:    1000,
		BeadsModifiedAt:   1000,
	})
	serverIssue := huly.Issue{
		Identifier:  "ACME-3",
		Title:       "Huly title",
		Description: "Body.",
		Status:      types.HulyTodo,
		Priority:    types.PriorityMedium,
		ModifiedOn:  2000,
	}
	h := newFakeHuly(serverIssue)
	b3 := bdIssue("bd-3", "Beads title", types.BeadsOpen, 3000)
	b3.Labels = []string{"huly:todo"}
	b := &fakeBeads{issues: []beads.Issue{b3}}
	pub := &fakePublisher{}
	eng := newTestEngine(store, h, &fakeVibe{}, b, pub)

	proj := testProject()
	proj.VibeID = ""
	page := &huly.IssuePage{Issues: []huly.Issue{serverIssue}}

	res, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, DirBeadsWins, res.Conflicts[0].Winner)
	assert.Empty(t, h.patches, "losing huly change must not be applied this cycle")
	assert.Empty(t, b.calls, "beads side must not be written either")

	row := store.rows["ACME-3"]
	assert.Equal(t, int64(2000), row.HulyModifiedAt, "consumed huly change")
	assert.Equal(t, int64(1000), row.BeadsModifiedAt, "beads change left pending")

	// Cycle two: the Beads change is now one-sided and flows to Huly.
	_, err = eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)

	require.Len(t, h.patches["ACME-3"], 1)
	require.NotNil(t, h.patches["ACME-3"][0].Title)
	assert.Equal(t, "Beads title", *h.patches["ACME-3"][0].Title)
	assert.Nil(t, h.patches["ACME-3"][0].Status)

	row = store.rows["ACME-3"]
	assert.Equal(t, "Beads title", row.Title)
	assert.Equal(t, int64(2000), row.HulyModifiedAt)
	assert.Equal(t, int64(3000), row.BeadsModifiedAt)
}

func TestSyncProjectTombstonesDeletedHulyIssue(t *testing.T) {
	store := newFakeStore(&types.Issue{
		Identifier:        "ACME-4",
		ProjectIdentifier: "ACME",
		BeadsIssueID:      "bd-4",
		Title:             "Gone soon",
		Status:            types.HulyTodo,
		BeadsStatus:       types.BeadsOpen,
		HulyModifiedAt:    1000,
		BeadsModifiedAt:   1000,
	})
	h := newFakeHuly() // issue deleted on the server
	b := &fakeBeads{issues: []beads.Issue{
		bdIssue("bd-4", "Gone soon", types.BeadsClosed, 2000),
	}}
	eng := newTestEngine(store, h, &fakeVibe{}, b, &fakePublisher{})

	proj := testProject()
	proj.VibeID = ""

	_, err := eng.SyncProject(context.Background(), proj, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"ACME-4"}, store.tombstoned)
	assert.Empty(t, h.patches)
	assert.Empty(t, h.created, "deleted issues are never re-created")

	// Later cycles leave the tombstoned row alone.
	_, err = eng.SyncProject(context.Background(), proj, nil)
	require.NoError(t, err)
	assert.Len(t, store.tombstoned, 1)
	assert.Empty(t, h.created)
	assert.Equal(t, 1, h.gets, "no further point lookups after the tombstone")
}

func TestSyncProjectShortTitleNeverContainmentLinks(t *testing.T) {
	// "Fix bug" is contained in the Huly title but sits under the
	// containment floor; both sides get their own counterpart instead of a
	// false link.
	store := newFakeStore()
	h := newFakeHuly()
	b := &fakeBeads{issues: []beads.Issue{
		bdIssue("bd-9", "Fix bug", types.BeadsOpen, 500),
	}}
	eng := newTestEngine(store, h, &fakeVibe{}, b, &fakePublisher{})

	proj := testProject()
	proj.VibeID = ""
	page := &huly.IssuePage{Issues: []huly.Issue{{
		Identifier: "ACME-5",
		Title:      "Fix bug in the auth parser",
		Status:     types.HulyTodo,
		Priority:   types.PriorityMedium,
		ModifiedOn: 1000,
	}}}

	_, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)

	require.Len(t, b.created, 1)
	assert.Equal(t, "Fix bug in the auth parser", b.created[0].Title)
	require.Len(t, h.created, 1)
	assert.Equal(t, "Fix bug", h.created[0].Title)
	assert.Equal(t, types.HulyBacklog, h.created[0].Status, "plain open maps to Backlog")

	footered := false
	for _, call := range b.calls {
		if strings.HasPrefix(call, "update bd-9 description") && strings.Contains(call, "Huly Issue: ACME-101") {
			footered = true
		}
	}
	assert.True(t, footered, "beads issue gets the footer of its new huly twin")

	assert.Equal(t, "bd-new-1", store.rows["ACME-5"].BeadsIssueID)
	mirrored := store.rows["ACME-101"]
	require.NotNil(t, mirrored, "beads-born issue gets a fresh huly identifier")
	assert.Equal(t, "bd-9", mirrored.BeadsIssueID)
	assert.Equal(t, int64(5001), mirrored.HulyModifiedAt)
	assert.Equal(t, int64(500), mirrored.BeadsModifiedAt)
}

func TestSyncProjectReparentsBeadsAfterHulyMove(t *testing.T) {
	store := newFakeStore(
		&types.Issue{
			Identifier: "ACME-6", ProjectIdentifier: "ACME",
			BeadsIssueID: "bd-p", BeadsStatus: types.BeadsOpen,
			Title: "Parent epic", Status: types.HulyTodo, Priority: types.PriorityMedium,
			HulyModifiedAt: 1000, BeadsModifiedAt: 1000,
		},
		&types.Issue{
			Identifier: "ACME-7", ProjectIdentifier: "ACME",
			BeadsIssueID: "bd-c", BeadsStatus: types.BeadsOpen,
			Title: "Wire child", Status: types.HulyTodo, Priority: types.PriorityMedium,
			HulyModifiedAt: 1000, BeadsModifiedAt: 1000,
		},
	)
	h := newFakeHuly()
	parent := bdIssue("bd-p", "Parent epic", types.BeadsOpen, 1000)
	parent.Labels = []string{"huly:todo"}
	child := bdIssue("bd-c", "Wire child", types.BeadsOpen, 1000)
	child.Labels = []string{"huly:todo"}
	child.Dependencies = []beads.Dependency{
		{IssueID: "bd-c", DependsOnID: "bd-old", Type: beads.DepParentChild},
	}
	b := &fakeBeads{issues: []beads.Issue{parent, child}}
	pub := &fakePublisher{}
	eng := newTestEngine(store, h, &fakeVibe{}, b, pub)

	proj := testProject()
	proj.VibeID = ""
	page := &huly.IssuePage{Issues: []huly.Issue{{
		Identifier:  "ACME-7",
		Title:       "Wire child",
		Status:      types.HulyTodo,
		Priority:    types.PriorityMedium,
		ModifiedOn:  1500,
		ParentIssue: "ACME-6",
	}}}

	res, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)

	assert.Equal(t, []string{"dep-remove bd-c bd-old", "dep-add bd-c bd-p"}, b.calls,
		"old edge must come off before the new one lands")
	row := store.rows["ACME-7"]
	assert.Equal(t, "ACME-6", row.ParentHulyID)
	assert.Equal(t, "bd-p", row.ParentBeadsID)
	assert.Equal(t, 2, res.BeadsWrites)
	assert.True(t, res.Committed)
}

func TestSyncProjectClosesBeadsWhenHulyDone(t *testing.T) {
	store := newFakeStore(&types.Issue{
		Identifier:        "ACME-12",
		ProjectIdentifier: "ACME",
		BeadsIssueID:      "bd-12",
		Title:             "Wrap up",
		Status:            types.HulyTodo,
		Priority:          types.PriorityMedium,
		BeadsStatus:       types.BeadsOpen,
		HulyModifiedAt:    1000,
		BeadsModifiedAt:   1000,
	})
	h := newFakeHuly()
	b12 := bdIssue("bd-12", "Wrap up", types.BeadsOpen, 1000)
	b12.Labels = []string{"huly:todo"}
	b := &fakeBeads{issues: []beads.Issue{b12}}
	eng := newTestEngine(store, h, &fakeVibe{}, b, &fakePublisher{})

	proj := testProject()
	proj.VibeID = ""
	page := &huly.IssuePage{Issues: []huly.Issue{{
		Identifier: "ACME-12",
		Title:      "Wrap up",
		Status:     types.HulyDone,
		Priority:   types.PriorityMedium,
		ModifiedOn: 2000,
	}}}

	_, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)

	assert.Equal(t, []string{"close bd-12", "update bd-12 remove-label huly:todo"}, b.calls)
	row := store.rows["ACME-12"]
	assert.Equal(t, types.BeadsClosed, row.BeadsStatus)
	assert.Equal(t, int64(2000), row.HulyModifiedAt)
}

func TestPhase2PushesBoardEditToHuly(t *testing.T) {
	store := newFakeStore(&types.Issue{
		Identifier:        "ACME-8",
		ProjectIdentifier: "ACME",
		VibeTaskID:        "vt-8",
		Title:             "Ship it",
		Description:       "Body.",
		Status:            types.HulyTodo,
	})
	h := newFakeHuly(huly.Issue{
		Identifier:  "ACME-8",
		Title:       "Ship it",
		Description: "Body.",
		Status:      types.HulyTodo,
		ModifiedOn:  1200,
	})
	v := &fakeVibe{tasks: []vibe.Task{{
		ID:          "vt-8",
		Title:       "ACME-8: Ship it",
		Description: "Body.\n\n---\nHuly Issue: ACME-8",
		Status:      types.VibeInProgress, // user dragged the card
	}}}
	eng := newTestEngine(store, h, v, &fakeBeads{}, &fakePublisher{})

	proj := testProject()
	proj.FilesystemPath = ""

	res, err := eng.SyncProject(context.Background(), proj, nil)
	require.NoError(t, err)

	require.Len(t, h.patches["ACME-8"], 1)
	patch := h.patches["ACME-8"][0]
	require.NotNil(t, patch.Status)
	assert.Equal(t, types.HulyInProgress, *patch.Status)
	assert.Nil(t, patch.Description, "descriptions agree, only status moves")
	assert.Equal(t, 1, h.gets, "drift is re-checked against the live issue")
	assert.Equal(t, types.HulyInProgress, store.rows["ACME-8"].Status)
	assert.Equal(t, 1, res.Phase2.Synced)
}

func TestPhase2SkipsTasksPhase1JustWrote(t *testing.T) {
	// The task is stale against Huly, so phase 1 rewrites it; phase 2 must
	// not read the pre-write task state back as a user edit.
	store := newFakeStore(&types.Issue{
		Identifier:        "ACME-9",
		ProjectIdentifier: "ACME",
		VibeTaskID:        "vt-9",
		Title:             "Niner",
		Status:            types.HulyTodo,
	})
	h := newFakeHuly()
	v := &fakeVibe{tasks: []vibe.Task{{
		ID:          "vt-9",
		Title:       "ACME-9: Niner",
		Description: "\n\n---\nHuly Issue: ACME-9",
		Status:      types.VibeTodo,
	}}}
	eng := newTestEngine(store, h, v, &fakeBeads{}, &fakePublisher{})

	proj := testProject()
	proj.FilesystemPath = ""
	page := &huly.IssuePage{Issues: []huly.Issue{{
		Identifier: "ACME-9",
		Title:      "Niner",
		Status:     types.HulyInProgress,
		ModifiedOn: 2000,
	}}}

	res, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)

	require.Len(t, v.updates["vt-9"], 1)
	require.NotNil(t, v.updates["vt-9"][0].Status)
	assert.Equal(t, types.VibeInProgress, *v.updates["vt-9"][0].Status)
	assert.Empty(t, h.patches, "phase 2 must skip the task phase 1 wrote")
	assert.Equal(t, 1, res.Phase1.Synced)
	assert.Zero(t, res.Phase2.Synced)
}

func TestSyncProjectDryRunWritesNothing(t *testing.T) {
	store := newFakeStore()
	h := newFakeHuly()
	v := &fakeVibe{}
	b := &fakeBeads{issues: []beads.Issue{
		bdIssue("bd-10", "Unrelated standalone task title", types.BeadsOpen, 800),
	}}
	pub := &fakePublisher{}
	eng := New(Config{
		Store:     store,
		Huly:      h,
		Vibe:      v,
		Beads:     func(string) BeadsOps { return b },
		Committer: pub,
		DryRun:    true,
	})

	proj := testProject()
	page := &huly.IssuePage{Issues: []huly.Issue{{
		Identifier: "ACME-10",
		Title:      "Dry run candidate",
		Status:     types.HulyTodo,
		Priority:   types.PriorityMedium,
		ModifiedOn: 1000,
	}}}

	res, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err)

	assert.Empty(t, v.created)
	assert.Empty(t, b.created)
	assert.Empty(t, b.calls)
	assert.Empty(t, h.created)
	assert.Empty(t, store.patches, "dry run must not touch the state store")
	assert.Empty(t, pub.dirs)
	assert.False(t, res.Committed)

	assert.Equal(t, 1, res.Phase1.Synced, "intended writes still count")
	assert.Equal(t, 2, res.Phase3.Synced)
	assert.NotZero(t, res.BeadsWrites)
}

func TestSyncProjectCommitFailureIsNonFatal(t *testing.T) {
	store := newFakeStore()
	h := newFakeHuly()
	b := &fakeBeads{}
	pub := &fakePublisher{err: errors.New("index.lock held")}
	eng := newTestEngine(store, h, &fakeVibe{}, b, pub)

	proj := testProject()
	proj.VibeID = ""
	page := &huly.IssuePage{Issues: []huly.Issue{{
		Identifier: "ACME-11",
		Title:      "Needs a commit",
		Status:     types.HulyTodo,
		Priority:   types.PriorityMedium,
		ModifiedOn: 1000,
	}}}

	res, err := eng.SyncProject(context.Background(), proj, page)
	require.NoError(t, err, "a failed commit must not fail the cycle")

	assert.Len(t, b.created, 1, "the beads write itself landed")
	assert.False(t, res.Committed)
	require.NotEmpty(t, res.Phase3.Errors)
	assert.Equal(t, "commitBeads", res.Phase3.Errors[len(res.Phase3.Errors)-1].Op)
}

func TestSyncProjectEmptyFlagOnFullSnapshots(t *testing.T) {
	eng := newTestEngine(newFakeStore(), newFakeHuly(), &fakeVibe{}, &fakeBeads{}, &fakePublisher{})

	full := testProject()
	full.HulySyncCursor = ""
	res, err := eng.SyncProject(context.Background(), full, nil)
	require.NoError(t, err)
	assert.True(t, res.Full)
	assert.True(t, res.Empty)

	incremental := testProject()
	res, err = eng.SyncProject(context.Background(), incremental, nil)
	require.NoError(t, err)
	assert.False(t, res.Full)
	assert.False(t, res.Empty, "empty is only meaningful on full snapshots")
}

func TestPhase4DocsIntervalGate(t *testing.T) {
	now := time.UnixMilli(9_000_000)
	recent := now.Add(-30 * time.Minute)
	stale := now.Add(-2 * time.Hour)

	tests := []struct {
		name       string
		lastExport *time.Time
		wantExport bool
	}{
		{"never exported", nil, true},
		{"exported recently", &recent, false},
		{"interval elapsed", &stale, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			docs := &fakeDocs{}
			eng := New(Config{
				Store:        store,
				Huly:         newFakeHuly(),
				Vibe:         &fakeVibe{},
				Beads:        func(string) BeadsOps { return &fakeBeads{} },
				Docs:         docs,
				DocsInterval: time.Hour,
				Now:          func() time.Time { return now },
			})

			proj := testProject()
			proj.VibeID = ""
			proj.FilesystemPath = ""
			proj.LettaLastSync = tt.lastExport

			res, err := eng.SyncProject(context.Background(), proj, nil)
			require.NoError(t, err)
			if tt.wantExport {
				assert.Equal(t, []string{"ACME"}, docs.calls)
				assert.Equal(t, now, store.lettaAt["ACME"])
				assert.Equal(t, 1, res.Phase4.Synced)
			} else {
				assert.Empty(t, docs.calls)
				assert.Equal(t, 1, res.Phase4.Skipped)
			}
		})
	}
}

func TestApplyBeadsStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from types.BeadsStatus
		want types.BeadsStatus
		call []string
	}{
		{"open to closed", types.BeadsOpen, types.BeadsClosed, []string{"close bd-1"}},
		{"closed to in progress", types.BeadsClosed, types.BeadsInProgress, []string{"reopen bd-1", "status bd-1 in_progress"}},
		{"closed to open", types.BeadsClosed, types.BeadsOpen, []string{"reopen bd-1"}},
		{"open to blocked", types.BeadsOpen, types.BeadsBlocked, []string{"status bd-1 blocked"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := New(Config{})
			ops := &fakeBeads{}
			issue := &beads.Issue{ID: "bd-1", Status: tt.from}
			require.NoError(t, eng.applyBeadsStatus(context.Background(), ops, issue, tt.want))
			assert.Equal(t, tt.call, ops.calls)
		})
	}
}

func TestDecideDirection(t *testing.T) {
	row := &types.Issue{Identifier: "ACME-20", HulyModifiedAt: 100, BeadsModifiedAt: 100}
	eng := New(Config{})

	tests := []struct {
		name         string
		hulyTS       int64
		beadsTS      int64
		want         Direction
		wantConflict bool
	}{
		{"neither changed", 100, 100, DirNone, false},
		{"huly only", 200, 100, DirHulyWins, false},
		{"beads only", 100, 200, DirBeadsWins, false},
		{"both, huly newer", 300, 200, DirHulyWins, true},
		{"both, beads newer", 200, 300, DirBeadsWins, true},
		{"both, tie goes to huly", 250, 250, DirHulyWins, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, conflict := eng.decide(row, tt.hulyTS, tt.beadsTS, "bd-20")
			assert.Equal(t, tt.want, dir)
			if tt.wantConflict {
				require.NotNil(t, conflict)
				assert.Equal(t, tt.want, conflict.Winner)
				assert.Equal(t, "ACME-20", conflict.Identifier)
			} else {
				assert.Nil(t, conflict)
			}
		})
	}
}
