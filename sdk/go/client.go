package sitepilotsdk

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

// Client is a minimal SitePilot HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Reply is the agent's answer to one message.
type Reply struct {
	Text     string   `json:"text"`
	Executed bool     `json:"executed"`
	Action   string   `json:"action,omitempty"`
	Outcome  *Outcome `json:"outcome,omitempty"`
}

// Outcome is the result envelope of one executed action.
type Outcome struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message,omitempty"`
	Results     []map[string]any `json:"results,omitempty"`
	ExecutionMS int64            `json:"execution_time_ms"`
	Error       string           `json:"error,omitempty"`
}

// HistoryEntry is one remembered action.
type HistoryEntry struct {
	Action    string         `json:"action"`
	Data      map[string]any `json:"data,omitempty"`
	Modules   []string       `json:"modules,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// AuditEntry is one audit log row.
type AuditEntry struct {
	ID          int64  `json:"id"`
	UserID      string `json:"user_id"`
	CompanyID   string `json:"company_id"`
	ProjectID   string `json:"project_id,omitempty"`
	ActionType  string `json:"action_type"`
	Success     bool   `json:"success"`
	ExecutionMS int64  `json:"execution_time_ms"`
	CreatedAt   string `json:"created_at"`
}

// Task represents the API task model (partial).
type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SendMessage sends one chat message to the agent.
func (c *Client) SendMessage(ctx context.Context, message string) (Reply, error) {
	body := map[string]any{"message": message}
	if c.ProjectID != "" {
		body["context"] = map[string]any{"project_id": c.ProjectID}
	}
	var resp Reply
	err := c.do(ctx, http.MethodPost, "v1/agent/message", body, &resp)
	return resp, err
}

// ExecuteCommand runs one action descriptor directly, bypassing the model.
func (c *Client) ExecuteCommand(ctx context.Context, actionKind string, modules []string, data any) (Outcome, error) {
	body := map[string]any{
		"action":  actionKind,
		"modules": modules,
		"data":    data,
	}
	if c.ProjectID != "" {
		body["project_id"] = c.ProjectID
	}
	var resp Outcome
	err := c.do(ctx, http.MethodPost, "v1/agent/command", body, &resp)
	return resp, err
}

// Memory returns the remembered actions for the caller's scope.
func (c *Client) Memory(ctx context.Context) ([]HistoryEntry, error) {
	var resp struct {
		History []HistoryEntry `json:"history"`
	}
	endpoint := "v1/agent/memory"
	if c.ProjectID != "" {
		endpoint += "?project_id=" + url.QueryEscape(c.ProjectID)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.History, err
}

// Audit returns recent audit entries.
func (c *Client) Audit(ctx context.Context, limit int) ([]AuditEntry, error) {
	var resp struct {
		Items []AuditEntry `json:"items"`
	}
	endpoint := "v1/audit"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Tasks lists the tasks of the client's project.
func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	endpoint := fmt.Sprintf("v1/projects/%s/tasks", url.PathEscape(c.ProjectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
