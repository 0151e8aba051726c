// Package landflowsdk is a standalone HTTP client for the Landflow API. It
// defines its own wire types so embedders depend only on this package.
package landflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Landflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
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

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Workflow represents the API workflow model.
type Workflow struct {
	ID                string   `json:"id"`
	LandownerID       string   `json:"landowner_id"`
	Title             string   `json:"title"`
	LocationText      string   `json:"location_text,omitempty"`
	Latitude          *float64 `json:"latitude,omitempty"`
	Longitude         *float64 `json:"longitude,omitempty"`
	AreaAcres         float64  `json:"area_acres,omitempty"`
	LandType          string   `json:"land_type,omitempty"`
	EnergyCategory    string   `json:"energy_category,omitempty"`
	CapacityMW        float64  `json:"capacity_mw,omitempty"`
	PricePerMWh       float64  `json:"price_per_mwh,omitempty"`
	ContractTermYears int      `json:"contract_term_years,omitempty"`
	DeveloperName     string   `json:"developer_name,omitempty"`
	TimelineText      string   `json:"timeline_text,omitempty"`
	AdminNotes        string   `json:"admin_notes,omitempty"`
	State             string   `json:"state"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
}

// Task represents the API task model.
type Task struct {
	ID           string  `json:"id"`
	WorkflowID   string  `json:"workflow_id"`
	AssignedRole string  `json:"assigned_role"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status"`
	TimelineText string  `json:"timeline_text,omitempty"`
	Notes        string  `json:"notes,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// TaskPatch is a partial task update; nil fields are left untouched.
type TaskPatch struct {
	Status       *string `json:"status,omitempty"`
	TimelineText *string `json:"timeline_text,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// Ticket represents an escalation ticket.
type Ticket struct {
	ID          string `json:"id"`
	WorkflowID  string `json:"workflow_id"`
	TaskID      string `json:"task_id"`
	Subject     string `json:"subject"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority"`
	FromRole    string `json:"from_role"`
	ToRole      string `json:"to_role"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
}

// SLADocument represents an uploaded document record.
type SLADocument struct {
	ID         string  `json:"id"`
	WorkflowID string  `json:"workflow_id"`
	TaskID     *string `json:"task_id,omitempty"`
	FileName   string  `json:"file_name"`
	UploadedBy string  `json:"uploaded_by"`
	CreatedAt  string  `json:"created_at"`
}

// Event represents an event log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PortfolioSummary aggregates investor-committed projects.
type PortfolioSummary struct {
	ProjectCount       int     `json:"project_count"`
	TotalCapacityMW    float64 `json:"total_capacity_mw"`
	TotalContractValue float64 `json:"total_contract_value"`
}

// WhoAmI describes the authenticated caller.
type WhoAmI struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	Source string   `json:"source"`
}

// SubmitWorkflow registers a land parcel.
func (c *Client) SubmitWorkflow(ctx context.Context, req map[string]any) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "v0/workflows", req, &resp)
	return resp, err
}

// ListWorkflows returns all workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var resp []Workflow
	err := c.do(ctx, http.MethodGet, "v0/workflows", nil, &resp)
	return resp, err
}

// GetWorkflow fetches one workflow by id.
func (c *Client) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, "v0/workflows/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateWorkflowState advances a workflow along the lifecycle.
func (c *Client) UpdateWorkflowState(ctx context.Context, workflowID, state string) error {
	endpoint := fmt.Sprintf("v0/workflows/%s/state", url.PathEscape(workflowID))
	return c.do(ctx, http.MethodPatch, endpoint, map[string]any{"state": state}, nil)
}

// AssignTasks stamps out specialist tasks on a verified workflow.
func (c *Client) AssignTasks(ctx context.Context, workflowID string) ([]Task, error) {
	var resp []Task
	endpoint := fmt.Sprintf("v0/workflows/%s/tasks", url.PathEscape(workflowID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ListTasks returns tasks, optionally scoped to one workflow.
func (c *Client) ListTasks(ctx context.Context, workflowID string) ([]Task, error) {
	endpoint := "v0/tasks"
	if workflowID != "" {
		endpoint += "?workflow_id=" + url.QueryEscape(workflowID)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateTask applies a partial task update.
func (c *Client) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) error {
	endpoint := "v0/tasks/" + url.PathEscape(taskID)
	return c.do(ctx, http.MethodPatch, endpoint, patch, nil)
}

// CreateTicket opens an escalation ticket.
func (c *Client) CreateTicket(ctx context.Context, t Ticket) (Ticket, error) {
	body := map[string]any{
		"task_id":     t.TaskID,
		"subject":     t.Subject,
		"description": t.Description,
		"priority":    t.Priority,
		"from_role":   t.FromRole,
		"to_role":     t.ToRole,
	}
	var resp Ticket
	err := c.do(ctx, http.MethodPost, "v0/tickets", body, &resp)
	return resp, err
}

// ListTickets returns tickets, optionally scoped to one workflow.
func (c *Client) ListTickets(ctx context.Context, workflowID string) ([]Ticket, error) {
	endpoint := "v0/tickets"
	if workflowID != "" {
		endpoint += "?workflow_id=" + url.QueryEscape(workflowID)
	}
	var resp []Ticket
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UploadSLADocument uploads a document as multipart form data.
func (c *Client) UploadSLADocument(ctx context.Context, doc SLADocument, contents io.Reader) (SLADocument, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", doc.FileName)
	if err != nil {
		return SLADocument{}, err
	}
	if contents != nil {
		if _, err := io.Copy(part, contents); err != nil {
			return SLADocument{}, err
		}
	}
	if doc.TaskID != nil {
		if err := mw.WriteField("task_id", *doc.TaskID); err != nil {
			return SLADocument{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return SLADocument{}, err
	}
	endpoint := fmt.Sprintf("v0/workflows/%s/sla-documents", url.PathEscape(doc.WorkflowID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/"+endpoint, &buf)
	if err != nil {
		return SLADocument{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setAuth(req)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return SLADocument{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return SLADocument{}, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	var created SLADocument
	err = json.NewDecoder(resp.Body).Decode(&created)
	return created, err
}

// ListSLADocuments returns documents attached to a workflow.
func (c *Client) ListSLADocuments(ctx context.Context, workflowID string) ([]SLADocument, error) {
	endpoint := fmt.Sprintf("v0/workflows/%s/sla-documents", url.PathEscape(workflowID))
	var resp []SLADocument
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Portfolio returns the investor portfolio summary.
func (c *Client) Portfolio(ctx context.Context) (PortfolioSummary, error) {
	var resp PortfolioSummary
	err := c.do(ctx, http.MethodGet, "v0/portfolio", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Me returns the authenticated principal.
func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
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
	c.setAuth(req)
	resp, err := c.httpClient().Do(req)
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

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) setAuth(req *http.Request) {
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
}
