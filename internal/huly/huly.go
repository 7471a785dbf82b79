// Package huly is the typed client for the Huly issue server.
package huly

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/remote"
	"github.com/steveyegge/braid/internal/telemetry"
	"github.com/steveyegge/braid/internal/types"
)

// Project is a Huly project as returned by the server.
type Project struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Issue is a Huly issue. ModifiedOn is epoch milliseconds from the server
// clock; ParentIssue is the parent's identifier, empty at the root.
type Issue struct {
	Identifier  string             `json:"identifier"`
	Project     string             `json:"project,omitempty"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Status      types.HulyStatus   `json:"status"`
	Priority    types.HulyPriority `json:"priority"`
	ModifiedOn  int64              `json:"modifiedOn"`
	CreatedOn   int64              `json:"createdOn,omitempty"`
	ParentIssue string             `json:"parentIssue,omitempty"`
	SubIssues   int                `json:"subIssues,omitempty"`
}

// SyncMeta is the server-clock metadata attached to issue listings. The
// orchestrator writes LatestModified to the project cursor, so the cursor
// stays in server time and engine clock skew never matters.
type SyncMeta struct {
	LatestModified string `json:"latestModified"`
	ServerTime     string `json:"serverTime"`
}

// IssuePage is one listing response.
type IssuePage struct {
	Issues   []Issue   `json:"issues"`
	SyncMeta *SyncMeta `json:"syncMeta,omitempty"`
	Count    int       `json:"count"`
}

// ListOptions narrows an issue listing.
type ListOptions struct {
	ModifiedSince   string
	Limit           int
	IncludeSyncMeta bool
}

// CreateParams is the payload for issue creation.
type CreateParams struct {
	Title            string             `json:"title"`
	Description      string             `json:"description,omitempty"`
	Status           types.HulyStatus   `json:"status,omitempty"`
	Priority         types.HulyPriority `json:"priority,omitempty"`
	ParentIdentifier string             `json:"parentIdentifier,omitempty"`
}

// Patch is a partial issue update. Nil fields are left unchanged.
type Patch struct {
	Title       *string             `json:"title,omitempty"`
	Description *string             `json:"description,omitempty"`
	Status      *types.HulyStatus   `json:"status,omitempty"`
	Priority    *types.HulyPriority `json:"priority,omitempty"`
}

// Client calls the Huly HTTP API.
type Client struct {
	caller *remote.Caller
}

// NewClient builds a Huly client on the shared pooled HTTP transport.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger, metrics *telemetry.SyncMetrics) *Client {
	return &Client{
		caller: &remote.Caller{
			BaseURL:   baseURL,
			Component: "huly",
			HTTP:      httpClient,
			Logger:    logger,
			Metrics:   metrics,
		},
	}
}

// ListProjects returns every project on the server.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Projects []Project `json:"projects"`
	}
	if err := c.caller.Do(ctx, "listProjects", http.MethodGet, "/api/projects", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// ListIssues lists a single project's issues. With opts.ModifiedSince only
// issues with modifiedOn at or after the watermark come back; with
// opts.IncludeSyncMeta the page carries the server-clock SyncMeta.
func (c *Client) ListIssues(ctx context.Context, project string, opts ListOptions) (*IssuePage, error) {
	q := url.Values{}
	if opts.ModifiedSince != "" {
		q.Set("modifiedSince", opts.ModifiedSince)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.IncludeSyncMeta {
		q.Set("includeSyncMeta", "true")
	}
	path := "/api/projects/" + url.PathEscape(project) + "/issues"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page IssuePage
	if err := c.caller.Do(ctx, "listIssues", http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListIssuesBulk fetches several projects in one round trip, keyed by
// project identifier in the response. The orchestrator uses it to cover all
// cursored projects with a single modifiedSince call.
func (c *Client) ListIssuesBulk(ctx context.Context, projects []string, opts ListOptions) (map[string]*IssuePage, error) {
	body := struct {
		Projects        []string `json:"projects"`
		ModifiedSince   string   `json:"modifiedSince,omitempty"`
		Limit           int      `json:"limit,omitempty"`
		IncludeSyncMeta bool     `json:"includeSyncMeta,omitempty"`
	}{projects, opts.ModifiedSince, opts.Limit, opts.IncludeSyncMeta}

	var resp struct {
		Projects map[string]*IssuePage `json:"projects"`
	}
	if err := c.caller.Do(ctx, "listIssuesBulk", http.MethodPost, "/api/issues/bulk-fetch", body, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// GetIssue fetches one issue by identifier. A 404 returns (nil, nil).
func (c *Client) GetIssue(ctx context.Context, identifier string) (*Issue, error) {
	var issue Issue
	err := c.caller.Do(ctx, "getIssue", http.MethodGet, "/api/issues/"+url.PathEscape(identifier), nil, &issue)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// GetIssuesBulk fetches several issues by identifier. Unknown identifiers
// are simply absent from the result.
func (c *Client) GetIssuesBulk(ctx context.Context, identifiers []string) ([]Issue, error) {
	body := struct {
		Identifiers []string `json:"identifiers"`
	}{identifiers}

	var resp struct {
		Issues []Issue `json:"issues"`
	}
	if err := c.caller.Do(ctx, "getIssuesBulk", http.MethodPost, "/api/issues/bulk-get", body, &resp); err != nil {
		return nil, err
	}
	return resp.Issues, nil
}

// CreateIssue creates an issue in the project and returns the server's
// record, identifier included.
func (c *Client) CreateIssue(ctx context.Context, project string, params CreateParams) (*Issue, error) {
	if params.Title == "" {
		return nil, fmt.Errorf("huly createIssue: title cannot be empty")
	}
	var issue Issue
	path := "/api/projects/" + url.PathEscape(project) + "/issues"
	if err := c.caller.Do(ctx, "createIssue", http.MethodPost, path, params, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// updatableFields is the closed vocabulary accepted by UpdateIssue.
var updatableFields = map[string]bool{
	"title":       true,
	"description": true,
	"status":      true,
	"priority":    true,
}

// UpdateIssue sets a single field. Deleted issues surface as
// remote.ErrNotFound so the caller can tombstone the mapping.
func (c *Client) UpdateIssue(ctx context.Context, identifier, field, value string) error {
	if !updatableFields[field] {
		return fmt.Errorf("huly updateIssue: invalid field %q", field)
	}
	body := map[string]string{field: value}
	return c.caller.Do(ctx, "updateIssue", http.MethodPatch, "/api/issues/"+url.PathEscape(identifier), body, nil)
}

// PatchIssue applies a partial update in one call.
func (c *Client) PatchIssue(ctx context.Context, identifier string, patch Patch) error {
	return c.caller.Do(ctx, "patchIssue", http.MethodPatch, "/api/issues/"+url.PathEscape(identifier), patch, nil)
}

// DeleteIssue removes an issue. Deleting an already-gone issue returns
// remote.ErrNotFound, which most callers treat as success.
func (c *Client) DeleteIssue(ctx context.Context, identifier string) error {
	return c.caller.Do(ctx, "deleteIssue", http.MethodDelete, "/api/issues/"+url.PathEscape(identifier), nil, nil)
}

// DeleteIssuesBulk removes several issues in one call.
func (c *Client) DeleteIssuesBulk(ctx context.Context, identifiers []string) error {
	body := struct {
		Identifiers []string `json:"identifiers"`
	}{identifiers}
	return c.caller.Do(ctx, "deleteIssuesBulk", http.MethodPost, "/api/issues/bulk-delete", body, nil)
}

// SearchIssues runs a server-side title/description search, optionally
// scoped to one project.
func (c *Client) SearchIssues(ctx context.Context, project, query string) ([]Issue, error) {
	q := url.Values{}
	q.Set("q", query)
	if project != "" {
		q.Set("project", project)
	}

	var resp struct {
		Issues []Issue `json:"issues"`
	}
	err := c.caller.Do(ctx, "searchIssues", http.MethodGet, "/api/issues/search?"+q.Encode(), nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Issues, nil
}

// MoveIssue re-parents an issue. An empty parent moves it to the root.
func (c *Client) MoveIssue(ctx context.Context, identifier, parentIdentifier string) error {
	body := struct {
		Parent string `json:"parent"`
	}{parentIdentifier}
	return c.caller.Do(ctx, "moveIssue", http.MethodPost, "/api/issues/"+url.PathEscape(identifier)+"/move", body, nil)
}
