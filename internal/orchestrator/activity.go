package orchestrator

import (
	"context"
	"fmt"

	"github.com/steveyegge/braid/internal/types"
)

// Discover runs project discovery and the per-cycle selection without the
// rest of the cycle: server listing, board pairing, checkout probing, row
// upserts. The durability layer schedules it as its own activity so the
// project list becomes workflow state; RunCycle keeps its internal path.
func (o *Orchestrator) Discover(ctx context.Context, opts Options) ([]*types.Project, error) {
	projects, err := o.discoverProjects(ctx)
	if err != nil {
		return nil, err
	}
	return filterProjects(projects, opts), nil
}

// SyncProjectByIdentifier runs one project's fetch, phases, and settle
// outside a fleet cycle. The identifier matches the way the cycle filter
// does: by project key or by checkout path. The project must already be in
// the store; workflows run a discovery activity first.
func (o *Orchestrator) SyncProjectByIdentifier(ctx context.Context, identifier string, full bool) (*Outcome, error) {
	stored, err := o.store.GetAllProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading projects: %w", err)
	}
	set := filterProjects(stored, Options{Project: identifier})
	if len(set) == 0 {
		return nil, fmt.Errorf("unknown project %q", identifier)
	}
	p := set[0]

	cursor := p.HulySyncCursor
	if full {
		cursor = ""
	}
	f := o.fetchOne(ctx, p.Identifier, cursor, cursor == "")

	out := o.syncOne(ctx, p, f)
	if out.Err != nil {
		return &out, out.Err
	}
	return &out, nil
}
