package beads

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/steveyegge/braid/internal/types"
)

// Issue is one record of a .beads store as it appears on the wire:
// one JSON object per JSONL line, the same shape bd emits under --json.
type Issue struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Status       types.BeadsStatus `json:"status,omitempty"`
	Priority     int               `json:"priority"`
	IssueType    string            `json:"issue_type,omitempty"`
	Labels       []string          `json:"labels,omitempty"`
	Dependencies []Dependency      `json:"dependencies,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ClosedAt     *time.Time        `json:"closed_at,omitempty"`
}

// Dependency links two issues. For parent-child edges the child is
// IssueID and the parent is DependsOnID.
type Dependency struct {
	IssueID     string `json:"issue_id"`
	DependsOnID string `json:"depends_on_id"`
	Type        string `json:"type"`
}

// DepParentChild is the dependency type carrying issue hierarchy.
const DepParentChild = "parent-child"

// ParentID returns the parent issue id, or "" for a root issue.
func (i *Issue) ParentID() string {
	for _, d := range i.Dependencies {
		if d.Type == DepParentChild && (d.IssueID == i.ID || d.IssueID == "") {
			return d.DependsOnID
		}
	}
	return ""
}

// ModifiedMillis returns the update timestamp as epoch milliseconds,
// the unit the engine compares cross-system timestamps in.
func (i *Issue) ModifiedMillis() int64 {
	if i.UpdatedAt.IsZero() {
		return i.CreatedAt.UnixMilli()
	}
	return i.UpdatedAt.UnixMilli()
}

// HasLabel reports whether the issue carries the label. Labels are
// case-sensitive.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// maxJSONLLine bounds a single record. Descriptions routinely carry
// embedded documents, so the default bufio limit is far too small.
const maxJSONLLine = 10 * 1024 * 1024

// ReadJSONL decodes every issue record in a JSONL file. Blank lines and
// records that fail to decode are skipped rather than failing the read:
// a half-written line from a concurrent bd flush must not poison the
// whole snapshot.
func ReadJSONL(path string) ([]Issue, error) {
	f, err := os.Open(path) // #nosec G304 - path discovered under the project tree
	if err != nil {
		return nil, fmt.Errorf("opening jsonl: %w", err)
	}
	defer f.Close()

	var issues []Issue
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var issue Issue
		if err := json.Unmarshal(line, &issue); err != nil {
			continue
		}
		if issue.ID == "" {
			continue
		}
		issues = append(issues, issue)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return issues, nil
}

// decodeIssueArray parses bd's --json output, which is a JSON array for
// list and show. A bare object (older bd builds) is accepted too.
func decodeIssueArray(data []byte) ([]Issue, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var one Issue
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("parsing bd output: %w", err)
		}
		return []Issue{one}, nil
	}
	var many []Issue
	if err := json.Unmarshal(trimmed, &many); err != nil {
		return nil, fmt.Errorf("parsing bd output: %w", err)
	}
	return many, nil
}

// jsonlCandidates orders the store filenames we accept: issues.jsonl is
// canonical, beads.jsonl the legacy spelling. Merge artifacts and the
// deletions log never count as the store.
var jsonlCandidates = []string{"issues.jsonl", "beads.jsonl"}

func isMergeArtifact(name string) bool {
	return strings.HasPrefix(name, "beads.base.") ||
		strings.HasPrefix(name, "beads.left.") ||
		strings.HasPrefix(name, "beads.right.")
}
