package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/huly"
	"github.com/steveyegge/braid/internal/types"
)

// fetch is one project's issue listing, or the reason there is none.
type fetch struct {
	page *huly.IssuePage
	full bool
	err  error
}

// fetchIssues loads every selected project's Huly page in as few calls as
// the cursor state allows: one bulk call with the oldest cursor for the
// cursored group, one full bulk call for the rest, and per-project
// fallbacks when a bulk call errors or omits a project. forceFull drops
// everyone into the full group. Fetching a project with a cursor older
// than its own only widens the page; the phases diff it back to nothing.
func (o *Orchestrator) fetchIssues(ctx context.Context, set []*types.Project, forceFull bool) map[string]fetch {
	out := make(map[string]fetch, len(set))

	var cursored, uncursored []*types.Project
	for _, p := range set {
		if !forceFull && p.HulySyncCursor != "" {
			cursored = append(cursored, p)
		} else {
			uncursored = append(uncursored, p)
		}
	}

	switch len(cursored) {
	case 0:
	case 1:
		// a singleton gets its own cursor and skips the bulk endpoint
		p := cursored[0]
		out[p.Identifier] = o.fetchOne(ctx, p.Identifier, p.HulySyncCursor, false)
	default:
		o.fetchGroup(ctx, cursored, oldestCursor(cursored), false, out)
	}

	switch len(uncursored) {
	case 0:
	case 1:
		p := uncursored[0]
		out[p.Identifier] = o.fetchOne(ctx, p.Identifier, "", true)
	default:
		o.fetchGroup(ctx, uncursored, "", true, out)
	}
	return out
}

func (o *Orchestrator) fetchGroup(ctx context.Context, group []*types.Project, since string, full bool, out map[string]fetch) {
	ids := make([]string, len(group))
	for i, p := range group {
		ids[i] = p.Identifier
	}

	pages, err := o.huly.ListIssuesBulk(ctx, ids, huly.ListOptions{
		ModifiedSince:   since,
		IncludeSyncMeta: true,
	})
	if err != nil {
		o.logger.Warn("bulk fetch failed, falling back to per-project",
			zap.Int("projects", len(ids)), zap.Error(err))
		if o.metrics != nil {
			o.metrics.CountError(ctx, "huly", "bulkFetch")
		}
		for _, p := range group {
			out[p.Identifier] = o.fetchOne(ctx, p.Identifier, groupCursor(p, full), full)
		}
		return
	}

	for _, p := range group {
		page := pages[p.Identifier]
		if page == nil {
			// the bulk response omitted the project; fetch it alone
			out[p.Identifier] = o.fetchOne(ctx, p.Identifier, groupCursor(p, full), full)
			continue
		}
		out[p.Identifier] = fetch{page: page, full: full}
	}
}

func (o *Orchestrator) fetchOne(ctx context.Context, project, cursor string, full bool) fetch {
	page, err := o.huly.ListIssues(ctx, project, huly.ListOptions{
		ModifiedSince:   cursor,
		IncludeSyncMeta: true,
	})
	if err != nil {
		return fetch{err: err}
	}
	return fetch{page: page, full: full}
}

func groupCursor(p *types.Project, full bool) string {
	if full {
		return ""
	}
	return p.HulySyncCursor
}

// oldestCursor returns the oldest cursor in the group. Cursors are
// ISO-8601 in server time, so the lexical minimum is the temporal minimum.
func oldestCursor(group []*types.Project) string {
	oldest := group[0].HulySyncCursor
	for _, p := range group[1:] {
		if p.HulySyncCursor < oldest {
			oldest = p.HulySyncCursor
		}
	}
	return oldest
}
