package okrbrainsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal okrbrain HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Goal represents the API goal model.
type Goal struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	ParentID  *string `json:"parent_id,omitempty"`
	Title     string  `json:"title"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
}

// Project represents a project or initiative.
type Project struct {
	ID                 string  `json:"id"`
	Type               string  `json:"type"`
	ParentID           *string `json:"parent_id,omitempty"`
	KrID               *string `json:"kr_id,omitempty"`
	Title              string  `json:"title"`
	Status             string  `json:"status"`
	DecompositionDepth int     `json:"decomposition_depth"`
	CreatedAt          string  `json:"created_at"`
}

// Task represents the API task model.
type Task struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status"`
	GoalID        *string `json:"goal_id,omitempty"`
	ProjectID     *string `json:"project_id,omitempty"`
	TaskType      string  `json:"task_type"`
	Priority      string  `json:"priority,omitempty"`
	TriggerSource string  `json:"trigger_source,omitempty"`
	PayloadJSON   string  `json:"payload_json,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}

// TickAction is one line of a decomposition report.
type TickAction struct {
	Check     string `json:"check"`
	Type      string `json:"type"`
	GoalID    string `json:"goal_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// TickSummary totals one decomposition report.
type TickSummary struct {
	TotalCreated  int    `json:"total_created"`
	TotalSkipped  int    `json:"total_skipped"`
	TotalRejected int    `json:"total_rejected"`
	TotalErrors   int    `json:"total_errors"`
	Error         string `json:"error,omitempty"`
}

// TickReport is the result of one decomposition scan.
type TickReport struct {
	Skipped bool         `json:"skipped,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	Actions []TickAction `json:"actions"`
	Summary TickSummary  `json:"summary"`
}

// Status is the pipeline scoreboard.
type Status struct {
	ManualMode        bool           `json:"manual_mode"`
	ActiveProjects    int            `json:"active_projects"`
	ActiveInitiatives int            `json:"active_initiatives"`
	QueuedTasks       int            `json:"queued_tasks"`
	TaskCounts        map[string]int `json:"task_counts"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RunDecomposition triggers one scan and returns its report.
func (c *Client) RunDecomposition(ctx context.Context) (TickReport, error) {
	var resp TickReport
	err := c.do(ctx, http.MethodPost, "v0/decomposition/run", nil, &resp)
	return resp, err
}

// GetStatus returns the pipeline scoreboard.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "v0/status", nil, &resp)
	return resp, err
}

// SetManualMode flips the kill switch.
func (c *Client) SetManualMode(ctx context.Context, enabled bool) error {
	body := map[string]any{"enabled": enabled}
	return c.do(ctx, http.MethodPut, "v0/decomposition/manual-mode", body, nil)
}

// CreateGoal creates a goal. parentID may be empty for global_okr.
func (c *Client) CreateGoal(ctx context.Context, goalType, parentID, title string) (Goal, error) {
	body := map[string]any{
		"type":  goalType,
		"title": title,
	}
	if parentID != "" {
		body["parent_id"] = parentID
	}
	var resp Goal
	err := c.do(ctx, http.MethodPost, "v0/goals", body, &resp)
	return resp, err
}

// ListGoals lists goals, optionally filtered by type and status.
func (c *Client) ListGoals(ctx context.Context, goalType, status string) ([]Goal, error) {
	q := url.Values{}
	if goalType != "" {
		q.Set("type", goalType)
	}
	if status != "" {
		q.Set("status", status)
	}
	var resp []Goal
	err := c.do(ctx, http.MethodGet, withQuery("v0/goals", q), nil, &resp)
	return resp, err
}

// CreateProject creates a project or initiative.
func (c *Client) CreateProject(ctx context.Context, projType, parentID, krID, title string) (Project, error) {
	body := map[string]any{
		"type":  projType,
		"title": title,
	}
	if parentID != "" {
		body["parent_id"] = parentID
	}
	if krID != "" {
		body["kr_id"] = krID
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// LinkProjectKr links a project to a key result.
func (c *Client) LinkProjectKr(ctx context.Context, projectID, krID string) error {
	body := map[string]any{"kr_id": krID}
	endpoint := fmt.Sprintf("v0/projects/%s/links", url.PathEscape(projectID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// ListTasks lists tasks, optionally filtered by status and trigger source.
func (c *Client) ListTasks(ctx context.Context, status, triggerSource string) ([]Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if triggerSource != "" {
		q.Set("trigger_source", triggerSource)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, withQuery("v0/tasks", q), nil, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task through its lifecycle.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	body := map[string]any{"status": status}
	endpoint := fmt.Sprintf("v0/tasks/%s/status", url.PathEscape(taskID))
	var resp Task
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
