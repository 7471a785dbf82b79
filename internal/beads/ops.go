package beads

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/steveyegge/braid/internal/types"
)

// updatableFields is the closed vocabulary Update accepts. Each entry is
// a bd update flag.
var updatableFields = map[string]bool{
	"status":       true,
	"priority":     true,
	"title":        true,
	"description":  true,
	"type":         true,
	"add-label":    true,
	"remove-label": true,
}

// CreateParams describes a new issue. Title is mandatory; everything
// else falls back to bd defaults (priority 2, type task).
type CreateParams struct {
	Title       string
	Description string
	Priority    *int
	IssueType   string
	Labels      []string
	ParentID    string
}

// Adapter drives one project's Beads store through the bd CLI.
type Adapter struct {
	run *Runner
	dir string
}

// NewAdapter binds a runner to a project working tree. dir is the
// repository root, not the .beads directory.
func NewAdapter(run *Runner, dir string) *Adapter {
	return &Adapter{run: run, dir: dir}
}

// Dir returns the project working tree the adapter operates on.
func (a *Adapter) Dir() string { return a.dir }

// Create makes a new issue and returns its id.
func (a *Adapter) Create(ctx context.Context, p CreateParams) (string, error) {
	title := SanitizeTitle(p.Title)
	if title == "" {
		return "", fmt.Errorf("beads create: empty title")
	}
	args := []string{"create", title, "--json"}
	if p.Description != "" {
		args = append(args, "-d", p.Description)
	}
	if p.Priority != nil {
		args = append(args, "--priority", strconv.Itoa(*p.Priority))
	}
	if p.IssueType != "" {
		args = append(args, "-t", p.IssueType)
	}
	if len(p.Labels) > 0 {
		args = append(args, "-l", strings.Join(p.Labels, ","))
	}
	if p.ParentID != "" {
		args = append(args, "--parent", p.ParentID)
	}

	out, err := a.run.Run(ctx, a.dir, args...)
	if err != nil {
		return "", err
	}
	issues, err := decodeIssueArray(out)
	if err != nil {
		return "", fmt.Errorf("beads create: %w", err)
	}
	if len(issues) == 0 || issues[0].ID == "" {
		return "", fmt.Errorf("beads create: no issue id in bd output")
	}
	return issues[0].ID, nil
}

// Update changes a single field on an issue. field must be one of
// status, priority, title, description, type, add-label, or remove-label;
// titles are sanitized before they hit the CLI.
func (a *Adapter) Update(ctx context.Context, id, field, value string) error {
	if !updatableFields[field] {
		return fmt.Errorf("beads update %s: field %q not updatable", id, field)
	}
	if field == "title" {
		value = SanitizeTitle(value)
	}
	_, err := a.run.Run(ctx, a.dir, "update", id, "--"+field, value)
	return err
}

// SetStatus maps the typed status vocabulary onto Update.
func (a *Adapter) SetStatus(ctx context.Context, id string, status types.BeadsStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("beads update %s: invalid status %q", id, status)
	}
	return a.Update(ctx, id, "status", string(status))
}

// Close closes an issue.
func (a *Adapter) Close(ctx context.Context, id string) error {
	_, err := a.run.Run(ctx, a.dir, "close", id)
	return err
}

// Reopen reopens a closed issue.
func (a *Adapter) Reopen(ctx context.Context, id string) error {
	_, err := a.run.Run(ctx, a.dir, "reopen", id)
	return err
}

// DepAdd records parent as the parent of child. bd's argument order is
// child first: the dependency reads "child depends on parent".
func (a *Adapter) DepAdd(ctx context.Context, child, parent string) error {
	_, err := a.run.Run(ctx, a.dir, "dep", "add", child, parent, "--type", DepParentChild)
	return err
}

// DepRemove severs the parent-child edge between child and parent.
func (a *Adapter) DepRemove(ctx context.Context, child, parent string) error {
	_, err := a.run.Run(ctx, a.dir, "dep", "remove", child, parent)
	return err
}

// DepTree returns bd's rendered dependency tree for an issue.
func (a *Adapter) DepTree(ctx context.Context, id string) (string, error) {
	out, err := a.run.Run(ctx, a.dir, "dep", "tree", id)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ListParams filters List. Zero value lists open issues per bd default.
type ListParams struct {
	Status types.BeadsStatus
	All    bool
}

// List fetches issues through bd. It is the fallback read path when the
// project has neither a readable JSONL export nor a SQLite database.
func (a *Adapter) List(ctx context.Context, p ListParams) ([]Issue, error) {
	args := []string{"list", "--json"}
	if p.All {
		args = append(args, "--all")
	} else if p.Status != "" {
		args = append(args, "--status", string(p.Status))
	}
	out, err := a.run.Run(ctx, a.dir, args...)
	if err != nil {
		return nil, err
	}
	return decodeIssueArray(out)
}

// Show fetches one issue with labels and dependencies populated.
func (a *Adapter) Show(ctx context.Context, id string) (*Issue, error) {
	out, err := a.run.Run(ctx, a.dir, "show", id, "--json")
	if err != nil {
		return nil, err
	}
	issues, err := decodeIssueArray(out)
	if err != nil {
		return nil, fmt.Errorf("beads show %s: %w", id, err)
	}
	if len(issues) == 0 {
		return nil, fmt.Errorf("beads show %s: not found", id)
	}
	return &issues[0], nil
}

// SyncFlush exports pending changes to JSONL and commits them through
// bd's own sync, without pushing. The engine pushes itself after the
// commit so push failures stay non-fatal.
func (a *Adapter) SyncFlush(ctx context.Context, message string) error {
	_, err := a.run.Run(ctx, a.dir, "sync", "-m", message, "--no-push")
	return err
}

// HooksInstall installs bd's git hooks in the project repository.
func (a *Adapter) HooksInstall(ctx context.Context) error {
	_, err := a.run.Run(ctx, a.dir, "hooks", "install")
	return err
}
