package orglinesdk

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

// Client is a minimal Orgline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Message is an inter-role message.
type Message struct {
	ID        string         `json:"message_id,omitempty"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient,omitempty"`
	Type      string         `json:"message_type"`
	Content   map[string]any `json:"content,omitempty"`
	Priority  string         `json:"priority,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Routed is the routing decision for a message.
type Routed struct {
	Message       Message  `json:"message"`
	RoutedTo      string   `json:"routed_to"`
	NeedsApproval bool     `json:"needs_approval"`
	ApprovalPath  []string `json:"approval_path,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID                   string   `json:"task_id"`
	Title                string   `json:"title"`
	AssignedTo           string   `json:"assigned_to,omitempty"`
	AssignedBy           string   `json:"assigned_by"`
	Priority             string   `json:"priority"`
	Status               string   `json:"status"`
	Dependencies         []string `json:"dependencies,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// TaskRequest describes a task to execute.
type TaskRequest struct {
	ID                   string   `json:"task_id,omitempty"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	AssignedTo           string   `json:"assigned_to,omitempty"`
	AssignedBy           string   `json:"assigned_by,omitempty"`
	Priority             string   `json:"priority,omitempty"`
	Dependencies         []string `json:"dependencies,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	EstimatedWorkload    float64  `json:"estimated_workload,omitempty"`
}

type TaskResult struct {
	Task     Task   `json:"task"`
	Success  bool   `json:"success"`
	Pending  bool   `json:"pending,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Error    string `json:"error,omitempty"`
}

type TickReport struct {
	Tick      int `json:"tick"`
	Delivered int `json:"delivered"`
	Deferred  int `json:"deferred"`
	Dropped   int `json:"dropped"`
	Degraded  int `json:"degraded"`
	TasksRun  int `json:"tasks_run"`
	Released  int `json:"released"`
	Responses int `json:"responses"`
	Alerts    int `json:"alerts"`
	Anomalies int `json:"anomalies"`
	Remaining int `json:"remaining"`
}

// Status is the company status summary.
type Status struct {
	CompanyID       string         `json:"company_id"`
	Ticks           int            `json:"ticks"`
	Actors          int            `json:"actors"`
	ActiveActors    int            `json:"active_actors"`
	Tasks           map[string]int `json:"tasks"`
	QueueDepth      int            `json:"queue_depth"`
	QueueByPriority map[string]int `json:"queue_by_priority"`
	InFlight        map[string]int `json:"in_flight"`
	OpenBreakers    int            `json:"open_breakers"`
	Anomalies       int            `json:"anomalies"`
	Messages        int            `json:"messages"`
}

type TickResult struct {
	Reports []TickReport `json:"reports"`
	Status  Status       `json:"status"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	CompanyID  string         `json:"company_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type RestoreReport struct {
	Version  string `json:"version"`
	Actors   int    `json:"actors"`
	Tasks    int    `json:"tasks"`
	Messages int    `json:"messages"`
	Alerts   int    `json:"alerts"`
	Skipped  int    `json:"skipped"`
}

type SnapshotResult struct {
	Action  string         `json:"action"`
	Backend string         `json:"backend,omitempty"`
	Restore *RestoreReport `json:"restore,omitempty"`
	Status  Status         `json:"status"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "status", nil, &resp)
	return resp, err
}

// Send queues a message; it is delivered on a later tick.
func (c *Client) Send(ctx context.Context, msg Message) (Routed, error) {
	var resp Routed
	err := c.do(ctx, http.MethodPost, "messages", msg, &resp)
	return resp, err
}

// Route resolves where msg would go without queuing it.
func (c *Client) Route(ctx context.Context, msg Message) (Routed, error) {
	var resp Routed
	err := c.do(ctx, http.MethodPost, "route", msg, &resp)
	return resp, err
}

func (c *Client) ExecuteTask(ctx context.Context, req TaskRequest) (TaskResult, error) {
	var resp TaskResult
	err := c.do(ctx, http.MethodPost, "tasks", req, &resp)
	return resp, err
}

// Tasks lists tasks, optionally filtered by status.
func (c *Client) Tasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := "tasks"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Tick(ctx context.Context, steps int) (TickResult, error) {
	var resp TickResult
	err := c.do(ctx, http.MethodPost, "tick", map[string]int{"steps": steps}, &resp)
	return resp, err
}

// Snapshot saves or restores the company state. action is "save" or
// "restore"; backend is "file", "db" or empty for the server default.
func (c *Client) Snapshot(ctx context.Context, action, backend string) (SnapshotResult, error) {
	var resp SnapshotResult
	err := c.do(ctx, http.MethodPost, "snapshot", map[string]string{"action": action, "backend": backend}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}
