package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/braid/internal/beads"
	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/mapper"
	"github.com/steveyegge/braid/internal/types"
	"github.com/steveyegge/braid/internal/vibe"
)

// snapshot is the engine's view of one project, captured at phase entry.
// Phases read from the snapshot and write through the clients; a write in
// one phase is visible to later phases only through the touched sets and
// the in-memory stored rows, never by re-fetching.
type snapshot struct {
	project *types.Project

	hulyIssues  []huly.Issue
	vibeTasks   []vibe.Task
	beadsIssues []beads.Issue
	stored      []*types.Issue

	// full is true when the Huly listing was cursor-less.
	full bool

	storedByIdentifier map[string]*types.Issue
	storedByBeadsID    map[string]*types.Issue
	storedByVibeID     map[string]*types.Issue

	hulyByIdentifier map[string]*huly.Issue
	taskByID         map[string]*vibe.Task
	taskByFooter     map[string]*vibe.Task // footer identifier -> task
	beadsByID        map[string]*beads.Issue
	beadsByFooter    map[string]*beads.Issue // footer identifier -> issue

	ops BeadsOps
}

// captureSnapshot loads the Vibe board, the Beads store, and the stored
// rows for one project. The Huly page comes from the orchestrator so bulk
// fetches stay possible.
func (e *Engine) captureSnapshot(ctx context.Context, project *types.Project, page *huly.IssuePage) (*snapshot, error) {
	snap := &snapshot{
		project: project,
		ops:     e.beads(project.FilesystemPath),
	}
	if page != nil {
		snap.hulyIssues = page.Issues
	}
	snap.full = project.HulySyncCursor == ""

	if project.VibeID != "" {
		tasks, err := e.vibe.ListTasks(ctx, project.VibeID)
		if err != nil {
			return nil, fmt.Errorf("listing vibe tasks: %w", err)
		}
		snap.vibeTasks = tasks
	}

	if project.FilesystemPath != "" {
		issues, err := snap.ops.ReadStore(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading beads store: %w", err)
		}
		snap.beadsIssues = issues
	}

	stored, err := e.store.GetProjectIssues(ctx, project.Identifier)
	if err != nil {
		return nil, fmt.Errorf("loading stored rows: %w", err)
	}
	snap.stored = stored

	snap.index()
	return snap, nil
}

// index builds the lookup maps every phase shares.
func (s *snapshot) index() {
	s.storedByIdentifier = make(map[string]*types.Issue, len(s.stored))
	s.storedByBeadsID = make(map[string]*types.Issue)
	s.storedByVibeID = make(map[string]*types.Issue)
	for _, row := range s.stored {
		s.storedByIdentifier[row.Identifier] = row
		if row.BeadsIssueID != "" {
			s.storedByBeadsID[row.BeadsIssueID] = row
		}
		if row.VibeTaskID != "" {
			s.storedByVibeID[row.VibeTaskID] = row
		}
	}

	s.hulyByIdentifier = make(map[string]*huly.Issue, len(s.hulyIssues))
	for i := range s.hulyIssues {
		s.hulyByIdentifier[s.hulyIssues[i].Identifier] = &s.hulyIssues[i]
	}

	s.taskByID = make(map[string]*vibe.Task, len(s.vibeTasks))
	s.taskByFooter = make(map[string]*vibe.Task)
	for i := range s.vibeTasks {
		t := &s.vibeTasks[i]
		s.taskByID[t.ID] = t
		if id := mapper.ExtractIdentifier(t.Description); id != "" {
			// first task wins; duplicates are a board anomaly the dedup
			// cascade must not make worse
			if _, dup := s.taskByFooter[id]; !dup {
				s.taskByFooter[id] = t
			}
		}
	}

	s.beadsByID = make(map[string]*beads.Issue, len(s.beadsIssues))
	s.beadsByFooter = make(map[string]*beads.Issue)
	for i := range s.beadsIssues {
		b := &s.beadsIssues[i]
		s.beadsByID[b.ID] = b
		if id := mapper.ExtractIdentifier(b.Description); id != "" {
			if _, dup := s.beadsByFooter[id]; !dup {
				s.beadsByFooter[id] = b
			}
		}
	}
}

// row returns the stored row for a Huly identifier, or nil.
func (s *snapshot) row(identifier string) *types.Issue {
	return s.storedByIdentifier[identifier]
}

// setRow records a freshly written stored row so later phases in the same
// cycle see it without re-reading the database.
func (s *snapshot) setRow(row *types.Issue) {
	s.storedByIdentifier[row.Identifier] = row
	if row.BeadsIssueID != "" {
		s.storedByBeadsID[row.BeadsIssueID] = row
	}
	if row.VibeTaskID != "" {
		s.storedByVibeID[row.VibeTaskID] = row
	}
	s.stored = append(s.stored, row)
}

// inProject reports whether a Huly identifier belongs to this project.
// Footers on a board can reference issues of other projects; those are
// not ours to touch.
func (s *snapshot) inProject(identifier string) bool {
	return strings.HasPrefix(identifier, s.project.Identifier+"-")
}

// findBeadsByTitle runs the title steps of the link cascade over the Beads
// snapshot: normalized equality first, then containment. Issues already
// claimed by another mapping are skipped.
func (s *snapshot) findBeadsByTitle(title string) *beads.Issue {
	var contained *beads.Issue
	for i := range s.beadsIssues {
		b := &s.beadsIssues[i]
		if _, claimed := s.storedByBeadsID[b.ID]; claimed {
			continue
		}
		if !mapper.TitlesMatch(title, b.Title) {
			continue
		}
		if mapper.NormalizeTitle(title) == mapper.NormalizeTitle(b.Title) {
			return b
		}
		if contained == nil {
			contained = b
		}
	}
	return contained
}

// findHulyByTitle is the mirror cascade over the Huly snapshot, for the
// Beads->Huly direction. Only unmapped, untombstoned issues qualify.
func (s *snapshot) findHulyByTitle(title string) *huly.Issue {
	var contained *huly.Issue
	for i := range s.hulyIssues {
		h := &s.hulyIssues[i]
		if row := s.storedByIdentifier[h.Identifier]; row != nil && (row.BeadsIssueID != "" || row.DeletedFromHuly) {
			continue
		}
		if !mapper.TitlesMatch(title, h.Title) {
			continue
		}
		if mapper.NormalizeTitle(title) == mapper.NormalizeTitle(h.Title) {
			return h
		}
		if contained == nil {
			contained = h
		}
	}
	return contained
}
