package engine

import (
	"time"
)

// IssueError is one per-issue failure. Phases log these and keep going;
// a single bad issue never aborts the project's cycle.
type IssueError struct {
	Identifier string `json:"identifier"`
	Op         string `json:"op"`
	Err        error  `json:"-"`
}

func (e IssueError) Error() string {
	return e.Identifier + " " + e.Op + ": " + e.Err.Error()
}

// PhaseResult is the accounting of one phase over one project.
type PhaseResult struct {
	Synced  int          `json:"synced"`
	Skipped int          `json:"skipped"`
	Errors  []IssueError `json:"errors,omitempty"`
}

func (r *PhaseResult) addError(identifier, op string, err error) {
	r.Errors = append(r.Errors, IssueError{Identifier: identifier, Op: op, Err: err})
}

// ErrorCount returns the number of per-issue failures in this phase.
func (r *PhaseResult) ErrorCount() int { return len(r.Errors) }

// Direction says which side of a bidirectional pair wins a cycle.
type Direction int

const (
	// DirNone means neither side changed since the engine last looked.
	DirNone Direction = iota
	// DirHulyWins applies the Huly state to Beads.
	DirHulyWins
	// DirBeadsWins applies the Beads state to Huly.
	DirBeadsWins
)

func (d Direction) String() string {
	switch d {
	case DirHulyWins:
		return "huly"
	case DirBeadsWins:
		return "beads"
	default:
		return "none"
	}
}

// Conflict records a pair where both sides changed since the last cycle.
// Winner is the side whose server clock reported the later change; ties
// go to Huly.
type Conflict struct {
	Identifier    string    `json:"identifier"`
	BeadsIssueID  string    `json:"beads_issue_id"`
	HulyModified  int64     `json:"huly_modified"`
	BeadsModified int64     `json:"beads_modified"`
	Winner        Direction `json:"winner"`
}

// Result is the full accounting of one project cycle.
type Result struct {
	Project string `json:"project"`

	Phase1 PhaseResult `json:"phase1"` // Huly -> Vibe
	Phase2 PhaseResult `json:"phase2"` // Vibe -> Huly
	Phase3 PhaseResult `json:"phase3"` // Huly <-> Beads
	Phase4 PhaseResult `json:"phase4"` // docs export

	Conflicts []Conflict `json:"conflicts,omitempty"`

	// BeadsWrites counts CLI mutations this cycle; zero means the commit
	// step was skipped.
	BeadsWrites int  `json:"beads_writes"`
	Committed   bool `json:"committed"`

	// Full is true when the Huly snapshot came from a cursor-less fetch.
	// Empty is only meaningful on full snapshots.
	Full  bool `json:"full"`
	Empty bool `json:"empty"`

	Elapsed time.Duration `json:"elapsed"`
}

// TotalSynced sums applied changes across all phases.
func (r *Result) TotalSynced() int {
	return r.Phase1.Synced + r.Phase2.Synced + r.Phase3.Synced + r.Phase4.Synced
}

// TotalErrors sums per-issue failures across all phases.
func (r *Result) TotalErrors() int {
	return r.Phase1.ErrorCount() + r.Phase2.ErrorCount() + r.Phase3.ErrorCount() + r.Phase4.ErrorCount()
}
