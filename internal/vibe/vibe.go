// Package vibe is the typed client for the Vibe task board. Every response
// arrives in a {success, data, message} envelope; this client unwraps it so
// callers only ever see domain types or a classified error.
package vibe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/remote"
	"github.com/steveyegge/braid/internal/telemetry"
	"github.com/steveyegge/braid/internal/types"
)

// Project is a Vibe project (one board).
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	GitRepoPath string `json:"git_repo_path,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Task is one card on a board. The engine's footer lives at the end of
// Description.
type Task struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Status      types.VibeStatus `json:"status"`
	CreatedAt   string           `json:"created_at,omitempty"`
	UpdatedAt   string           `json:"updated_at,omitempty"`
}

// TaskPatch is a partial task update. Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string           `json:"title,omitempty"`
	Description *string           `json:"description,omitempty"`
	Status      *types.VibeStatus `json:"status,omitempty"`
}

// TaskAttempt is one execution attempt on a task.
type TaskAttempt struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Executor  string `json:"executor,omitempty"`
	Branch    string `json:"branch,omitempty"`
	State     string `json:"state,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ExecutionProcess is the running process behind an attempt.
type ExecutionProcess struct {
	ID        string `json:"id"`
	AttemptID string `json:"task_attempt_id"`
	Status    string `json:"status"`
	ExitCode  *int   `json:"exit_code,omitempty"`
}

// envelope is the uniform wrapper around every Vibe response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Client calls the Vibe HTTP API.
type Client struct {
	caller *remote.Caller
}

// NewClient builds a Vibe client on the shared pooled HTTP transport.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger, metrics *telemetry.SyncMetrics) *Client {
	return &Client{
		caller: &remote.Caller{
			BaseURL:   baseURL,
			Component: "vibe",
			HTTP:      httpClient,
			Logger:    logger,
			Metrics:   metrics,
		},
	}
}

// call performs the request and unwraps the envelope. success=false with a
// 200 status still surfaces as an error carrying the server's message.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	var env envelope
	if err := c.caller.Do(ctx, op, method, path, body, &env); err != nil {
		return err
	}
	if !env.Success {
		return &remote.Error{
			Code:      "VIBE_ERROR",
			Component: "vibe",
			Op:        op,
			Retryable: false,
			Err:       errors.New(env.Message),
		}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("vibe %s: decoding data: %w", op, err)
		}
	}
	return nil
}

// ── Projects ────────────────────────────────────────────────────────────────

// ListProjects returns every board.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.call(ctx, "listProjects", http.MethodGet, "/api/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject fetches one board. A 404 returns (nil, nil).
func (c *Client) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := c.call(ctx, "getProject", http.MethodGet, "/api/projects/"+url.PathEscape(id), nil, &p)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProject creates a board.
func (c *Client) CreateProject(ctx context.Context, name, gitRepoPath string) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("vibe createProject: name cannot be empty")
	}
	body := struct {
		Name        string `json:"name"`
		GitRepoPath string `json:"git_repo_path,omitempty"`
	}{name, gitRepoPath}

	var p Project
	if err := c.call(ctx, "createProject", http.MethodPost, "/api/projects", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProject renames a board.
func (c *Client) UpdateProject(ctx context.Context, id, name string) (*Project, error) {
	body := struct {
		Name string `json:"name"`
	}{name}

	var p Project
	if err := c.call(ctx, "updateProject", http.MethodPut, "/api/projects/"+url.PathEscape(id), body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProject removes a board and its tasks.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.call(ctx, "deleteProject", http.MethodDelete, "/api/projects/"+url.PathEscape(id), nil, nil)
}

// ── Tasks ───────────────────────────────────────────────────────────────────

// ListTasks returns every task on a board.
func (c *Client) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	var tasks []Task
	path := "/api/projects/" + url.PathEscape(projectID) + "/tasks"
	if err := c.call(ctx, "listTasks", http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches one task. A 404 returns (nil, nil).
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := c.call(ctx, "getTask", http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &t)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask creates a card.
func (c *Client) CreateTask(ctx context.Context, projectID, title, description string, status types.VibeStatus) (*Task, error) {
	if title == "" {
		return nil, fmt.Errorf("vibe createTask: title cannot be empty")
	}
	body := struct {
		ProjectID   string           `json:"project_id"`
		Title       string           `json:"title"`
		Description string           `json:"description,omitempty"`
		Status      types.VibeStatus `json:"status,omitempty"`
	}{projectID, title, description, status}

	var t Task
	if err := c.call(ctx, "createTask", http.MethodPost, "/api/tasks", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask applies a partial update. Deleted tasks surface as
// remote.ErrNotFound.
func (c *Client) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	var t Task
	if err := c.call(ctx, "updateTask", http.MethodPut, "/api/tasks/"+url.PathEscape(id), patch, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTask removes a card.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.call(ctx, "deleteTask", http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

// ── Task attempts ───────────────────────────────────────────────────────────

// StartAttempt kicks off an execution attempt on a task.
func (c *Client) StartAttempt(ctx context.Context, taskID, executor, baseBranch string) (*TaskAttempt, error) {
	body := struct {
		Executor   string `json:"executor,omitempty"`
		BaseBranch string `json:"base_branch,omitempty"`
	}{executor, baseBranch}

	var a TaskAttempt
	path := "/api/tasks/" + url.PathEscape(taskID) + "/attempts"
	if err := c.call(ctx, "startAttempt", http.MethodPost, path, body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAttempts returns a task's attempts, newest first.
func (c *Client) ListAttempts(ctx context.Context, taskID string) ([]TaskAttempt, error) {
	var attempts []TaskAttempt
	path := "/api/tasks/" + url.PathEscape(taskID) + "/attempts"
	if err := c.call(ctx, "listAttempts", http.MethodGet, path, nil, &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}

// GetAttempt fetches one attempt. A 404 returns (nil, nil).
func (c *Client) GetAttempt(ctx context.Context, id string) (*TaskAttempt, error) {
	var a TaskAttempt
	err := c.call(ctx, "getAttempt", http.MethodGet, "/api/attempts/"+url.PathEscape(id), nil, &a)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// MergeAttempt merges the attempt's branch back to the base branch.
func (c *Client) MergeAttempt(ctx context.Context, id string) error {
	return c.call(ctx, "mergeAttempt", http.MethodPost, "/api/attempts/"+url.PathEscape(id)+"/merge", nil, nil)
}

// FollowUpAttempt sends a follow-up prompt to a finished attempt.
func (c *Client) FollowUpAttempt(ctx context.Context, id, prompt string) error {
	body := struct {
		Prompt string `json:"prompt"`
	}{prompt}
	return c.call(ctx, "followUpAttempt", http.MethodPost, "/api/attempts/"+url.PathEscape(id)+"/follow-up", body, nil)
}

// ── Execution processes ─────────────────────────────────────────────────────

// GetProcess fetches the process behind an attempt. A 404 returns (nil, nil).
func (c *Client) GetProcess(ctx context.Context, id string) (*ExecutionProcess, error) {
	var p ExecutionProcess
	err := c.call(ctx, "getProcess", http.MethodGet, "/api/processes/"+url.PathEscape(id), nil, &p)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// StopProcess kills a running process.
func (c *Client) StopProcess(ctx context.Context, id string) error {
	return c.call(ctx, "stopProcess", http.MethodPost, "/api/processes/"+url.PathEscape(id)+"/stop", nil, nil)
}

// GetProcessLogs returns the captured stdout/stderr of a process.
func (c *Client) GetProcessLogs(ctx context.Context, id string) (string, error) {
	var out struct {
		Logs string `json:"logs"`
	}
	err := c.call(ctx, "getProcessLogs", http.MethodGet, "/api/processes/"+url.PathEscape(id)+"/logs", nil, &out)
	if err != nil {
		return "", err
	}
	return out.Logs, nil
}

// ── Dev server ──────────────────────────────────────────────────────────────

// StartDevServer starts the attempt's dev server.
func (c *Client) StartDevServer(ctx context.Context, attemptID string) error {
	return c.call(ctx, "startDevServer", http.MethodPost, "/api/attempts/"+url.PathEscape(attemptID)+"/dev-server", nil, nil)
}

// StopDevServer stops the attempt's dev server.
func (c *Client) StopDevServer(ctx context.Context, attemptID string) error {
	return c.call(ctx, "stopDevServer", http.MethodDelete, "/api/attempts/"+url.PathEscape(attemptID)+"/dev-server", nil, nil)
}
