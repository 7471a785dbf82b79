package beads

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/braid/internal/types"
)

func intPtr(n int) *int { return &n }

func TestAdapterCreate(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "args")
	dir := t.TempDir()
	a := NewAdapter(testRunner(argScript(t, capture, `[{"id":"ab-7"}]`)), dir)

	id, err := a.Create(context.Background(), CreateParams{
		Title:       "  Fix login\nredirect  ",
		Description: "multi\nline body",
		Priority:    intPtr(1),
		IssueType:   "bug",
		Labels:      []string{"auth", "regression"},
		ParentID:    "ab-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "ab-7", id)

	assert.Equal(t, []string{
		"create", "Fix login redirect", "--json",
		"-d", "multi\nline body",
		"--priority", "1",
		"-t", "bug",
		"-l", "auth,regression",
		"--parent", "ab-2",
		"--no-daemon",
	}, capturedArgs(t, capture))
}

func TestAdapterCreateEmptyTitle(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "args")
	a := NewAdapter(testRunner(argScript(t, capture, `[{"id":"ab-1"}]`)), t.TempDir())

	_, err := a.Create(context.Background(), CreateParams{Title: " \n\t "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty title")

	// bd must never have been invoked
	_, statErr := os.Stat(capture)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAdapterCreateNoIDInOutput(t *testing.T) {
	a := NewAdapter(testRunner(writeScript(t, `printf '%s' '[]'`)), t.TempDir())

	_, err := a.Create(context.Background(), CreateParams{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no issue id")
}

func TestAdapterUpdate(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "args")
	a := NewAdapter(testRunner(argScript(t, capture, "")), t.TempDir())

	require.NoError(t, a.Update(context.Background(), "ab-3", "status", "in_progress"))
	assert.Equal(t, []string{"update", "ab-3", "--status", "in_progress", "--no-daemon"},
		capturedArgs(t, capture))
}

func TestAdapterUpdateSanitizesTitle(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "args")
	a := NewAdapter(testRunner(argScript(t, capture, "")), t.TempDir())

	require.NoError(t, a.Update(context.Background(), "ab-3", "title", "two\nlines"))
	assert.Equal(t, []string{"update", "ab-3", "--title", "two lines", "--no-daemon"},
		capturedArgs(t, capture))
}

func TestAdapterUpdateRejectsUnknownField(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "args")
	a := NewAdapter(testRunner(argScript(t, capture, "")), t.TempDir())

	err := a.Update(context.Background(), "ab-3", "assignee", "someone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not updatable")

	_, statErr := os.Stat(capture)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAdapterSetStatus(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "args")
	a := NewAdapter(testRunner(argScript(t, capture, "")), t.TempDir())

	require.NoError(t, a.SetStatus(context.Background(), "ab-3", types.BeadsInProgress))
	assert.Equal(t, []string{"update", "ab-3", "--status", "in_progress", "--no-daemon"},
		capturedArgs(t, capture))

	err := a.SetStatus(context.Background(), "ab-3", types.BeadsStatus("nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid status")
}

func TestAdapterDepAdd(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "args")
	a := NewAdapter(testRunner(argScript(t, capture, "")), t.TempDir())

	require.NoError(t, a.DepAdd(context.Background(), "ab-9", "ab-2"))
	assert.Equal(t, []string{"dep", "add", "ab-9", "ab-2", "--type", "parent-child", "--no-daemon"},
		capturedArgs(t, capture))
}

func TestAdapterList(t *testing.T) {
	tests := []struct {
		name     string
		params   ListParams
		wantArgs []string
	}{
		{"default", ListParams{}, []string{"list", "--json", "--no-daemon"}},
		{"all", ListParams{All: true}, []string{"list", "--json", "--all", "--no-daemon"}},
		{"by status", ListParams{Status: types.BeadsClosed}, []string{"list", "--json", "--status", "closed", "--no-daemon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capture := filepath.Join(t.TempDir(), "args")
			a := NewAdapter(testRunner(argScript(t, capture, `[{"id":"ab-1"},{"id":"ab-2"}]`)), t.TempDir())

			issues, err := a.List(context.Background(), tt.params)
			require.NoError(t, err)
			assert.Len(t, issues, 2)
			assert.Equal(t, tt.wantArgs, capturedArgs(t, capture))
		})
	}
}

func TestAdapterShow(t *testing.T) {
	a := NewAdapter(testRunner(writeScript(t,
		`printf '%s' '[{"id":"ab-4","title":"found","labels":["huly-synced"]}]'`)), t.TempDir())

	issue, err := a.Show(context.Background(), "ab-4")
	require.NoError(t, err)
	assert.Equal(t, "ab-4", issue.ID)
	assert.True(t, issue.HasLabel("huly-synced"))
}

func TestAdapterShowNotFound(t *testing.T) {
	a := NewAdapter(testRunner(writeScript(t, `printf '%s' '[]'`)), t.TempDir())

	_, err := a.Show(context.Background(), "ab-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAdapterSyncFlush(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "args")
	a := NewAdapter(testRunner(argScript(t, capture, "")), t.TempDir())

	require.NoError(t, a.SyncFlush(context.Background(), "chore(beads): sync"))
	assert.Equal(t, []string{"sync", "-m", "chore(beads): sync", "--no-push", "--no-daemon"},
		capturedArgs(t, capture))
}
