package cityworkssdk

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

// Client is a minimal Cityworks HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. "http://127.0.0.1:8080/v0".
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// Issue represents the API issue model with its optional impact signal.
type Issue struct {
	ID          int64   `json:"issue_id"`
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	Description string  `json:"description,omitempty"`
	Source      string  `json:"source"`
	Status      string  `json:"status"`
	Signal      *Signal `json:"signal,omitempty"`
}

// Signal quantifies an issue's impact.
type Signal struct {
	IssueID            int64   `json:"issue_id,omitempty"`
	PopulationAffected int64   `json:"population_affected"`
	ComplaintCount     int64   `json:"complaint_count"`
	SafetyRisk         bool    `json:"safety_risk"`
	LegalMandate       bool    `json:"legal_mandate"`
	EstimatedCost      float64 `json:"estimated_cost"`
	UrgencyDays        int     `json:"urgency_days,omitempty"`
}

// Candidate represents a formed project candidate.
type Candidate struct {
	ProjectID        int64   `json:"project_id"`
	IssueID          int64   `json:"issue_id"`
	Title            string  `json:"title"`
	Scope            string  `json:"scope,omitempty"`
	EstimatedCost    float64 `json:"estimated_cost"`
	EstimatedWeeks   int     `json:"estimated_weeks"`
	RequiredCrewType string  `json:"required_crew_type"`
	CrewSize         int     `json:"crew_size"`
	RiskScore        float64 `json:"risk_score"`
}

// Decision represents a funding decision.
type Decision struct {
	ProjectID       int64   `json:"project_id"`
	Title           string  `json:"title,omitempty"`
	Decision        string  `json:"decision"`
	AllocatedBudget float64 `json:"allocated_budget"`
	PriorityRank    *int    `json:"priority_rank,omitempty"`
	Rationale       string  `json:"rationale,omitempty"`
}

// Task represents a scheduled project task.
type Task struct {
	TaskID       int64    `json:"task_id"`
	ProjectID    int64    `json:"project_id"`
	Title        string   `json:"title,omitempty"`
	StartWeek    int      `json:"start_week"`
	EndWeek      int      `json:"end_week"`
	ResourceType string   `json:"resource_type"`
	CrewAssigned int      `json:"crew_assigned"`
	Status       string   `json:"status"`
	Weather      *Weather `json:"weather,omitempty"`
}

// Weather is a task's weather advisory.
type Weather struct {
	AdverseDays    int    `json:"adverse_days"`
	Risk           string `json:"risk"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Run represents a pipeline run.
type Run struct {
	RunID      string  `json:"run_id"`
	Stage      string  `json:"stage"`
	Budget     float64 `json:"budget"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
}

// RunOutput is the full pipeline output returned when a run executes.
type RunOutput struct {
	Run         Run         `json:"run"`
	Candidates  []Candidate `json:"candidates,omitempty"`
	Skipped     int         `json:"skipped,omitempty"`
	Approved    []Decision  `json:"approved,omitempty"`
	Rejected    []Decision  `json:"rejected,omitempty"`
	Tasks       []Task      `json:"tasks,omitempty"`
	Unscheduled []Decision  `json:"unscheduled,omitempty"`
}

// AuditEntry is a log line from the audit trail.
type AuditEntry struct {
	LogID     int64  `json:"log_id"`
	EventType string `json:"event_type"`
	AgentName string `json:"agent_name"`
	RunID     string `json:"run_id,omitempty"`
	Payload   string `json:"payload_json"`
	TS        string `json:"ts"`
}

// Summary is the plan overview.
type Summary struct {
	City                 string             `json:"city"`
	Budget               float64            `json:"budget"`
	OpenIssues           int                `json:"open_issues"`
	ProjectsFormed       int                `json:"projects_formed"`
	ProjectsApproved     int                `json:"projects_approved"`
	TasksScheduled       int                `json:"tasks_scheduled"`
	TotalBudgetAllocated float64            `json:"total_budget_allocated"`
	BudgetRemaining      float64            `json:"budget_remaining"`
	ResourceUtilization  map[string]float64 `json:"resource_utilization,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message are filled when the
// server returned its structured error envelope.
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

// CreateIssue reports an issue, optionally with its impact signal.
func (c *Client) CreateIssue(ctx context.Context, title, category, description string, signal *Signal) (Issue, error) {
	body := map[string]any{
		"title":       title,
		"category":    category,
		"description": description,
	}
	if signal != nil {
		body["signal"] = signal
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, "issues", body, &resp)
	return resp, err
}

// Issues lists all issues with their signals.
func (c *Client) Issues(ctx context.Context) ([]Issue, error) {
	var resp struct {
		Issues []Issue `json:"issues"`
	}
	err := c.do(ctx, http.MethodGet, "issues", nil, &resp)
	return resp.Issues, err
}

// RunPipeline executes the full planning pipeline and returns its output.
func (c *Client) RunPipeline(ctx context.Context) (RunOutput, error) {
	var resp RunOutput
	err := c.do(ctx, http.MethodPost, "pipeline/runs", nil, &resp)
	return resp, err
}

// Runs lists past pipeline runs.
func (c *Client) Runs(ctx context.Context, limit int) ([]Run, error) {
	endpoint := "pipeline/runs"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Runs []Run `json:"runs"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Runs, err
}

// GetRun fetches a run by id.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, "pipeline/runs/"+url.PathEscape(runID), nil, &resp)
	return resp, err
}

// Candidates lists active project candidates.
func (c *Client) Candidates(ctx context.Context) ([]Candidate, error) {
	var resp struct {
		Candidates []Candidate `json:"candidates"`
	}
	err := c.do(ctx, http.MethodGet, "candidates", nil, &resp)
	return resp.Candidates, err
}

// ProjectDetail joins a candidate with its funding decision and scheduled
// task, when they exist.
type ProjectDetail struct {
	Candidate Candidate `json:"candidate"`
	Decision  *Decision `json:"decision,omitempty"`
	Task      *Task     `json:"task,omitempty"`
}

// Project fetches the detail view for one project.
func (c *Client) Project(ctx context.Context, projectID int64) (ProjectDetail, error) {
	var resp ProjectDetail
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%d", projectID), nil, &resp)
	return resp, err
}

// Decisions lists funding decisions, approved first in rank order.
func (c *Client) Decisions(ctx context.Context) ([]Decision, error) {
	var resp struct {
		Decisions []Decision `json:"decisions"`
	}
	err := c.do(ctx, http.MethodGet, "decisions", nil, &resp)
	return resp.Decisions, err
}

// Schedule lists scheduled tasks in start-week order.
func (c *Client) Schedule(ctx context.Context) ([]Task, error) {
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, "schedule", nil, &resp)
	return resp.Tasks, err
}

// Reschedule moves a project to the earliest feasible window at or after
// fromWeek.
func (c *Client) Reschedule(ctx context.Context, projectID int64, fromWeek int, actor string) (Task, error) {
	body := map[string]any{
		"from_week": fromWeek,
		"actor":     actor,
	}
	var resp Task
	endpoint := fmt.Sprintf("schedule/%d/reschedule", projectID)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Audit returns recent audit entries, newest first.
func (c *Client) Audit(ctx context.Context, limit int, runID string) ([]AuditEntry, error) {
	endpoint := "audit"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if runID != "" {
		params.Set("run_id", runID)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Entries []AuditEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Entries, err
}

// GetSummary returns the plan overview.
func (c *Client) GetSummary(ctx context.Context) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, "summary", nil, &resp)
	return resp, err
}

// Seed loads the sample city dataset.
func (c *Client) Seed(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "admin/seed", nil, nil)
}

// Reset clears pipeline outputs while keeping issues and capacities.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "admin/reset", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
