package server

import (
	"cityworks/internal/domain"
	"cityworks/internal/engine"
	"cityworks/internal/validate"
)

// Request payloads

type CreateIssueRequest struct {
	Title       string       `json:"title"`
	Category    string       `json:"category"`
	Description string       `json:"description,omitempty"`
	Source      string       `json:"source,omitempty"`
	Signal      *SignalInput `json:"signal,omitempty"`
}

// SignalInput carries signal fields on intake. Every field is optional so
// callers can report only what they know.
type SignalInput struct {
	PopulationAffected int64   `json:"population_affected,omitempty"`
	ComplaintCount     int64   `json:"complaint_count,omitempty"`
	SafetyRisk         bool    `json:"safety_risk,omitempty"`
	LegalMandate       bool    `json:"legal_mandate,omitempty"`
	EstimatedCost      float64 `json:"estimated_cost,omitempty"`
	UrgencyDays        int     `json:"urgency_days,omitempty"`
}

type RescheduleRequest struct {
	FromWeek int    `json:"from_week" minimum:"1"`
	Actor    string `json:"actor,omitempty"`
}

// Response payloads

type IssueListResponse struct {
	Issues []domain.ScoredIssue `json:"issues"`
}

type CandidateListResponse struct {
	Candidates []domain.ProjectCandidate `json:"candidates"`
}

// ProjectDetailResponse joins a candidate with its decision and task.
type ProjectDetailResponse struct {
	Candidate domain.ProjectCandidate   `json:"candidate"`
	Decision  *domain.PortfolioDecision `json:"decision,omitempty"`
	Task      *domain.ScheduleTask      `json:"task,omitempty"`
}

type DecisionListResponse struct {
	Decisions []domain.PortfolioDecision `json:"decisions"`
}

type TaskListResponse struct {
	Tasks []domain.ScheduleTask `json:"tasks"`
}

type CalendarResponse struct {
	Year    int                    `json:"year"`
	Entries []domain.CalendarEntry `json:"entries"`
}

type AuditListResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

type RunListResponse struct {
	Runs []domain.PipelineRun `json:"runs"`
}

// RunResponse flattens a pipeline run's outputs for the API.
type RunResponse struct {
	Run         domain.PipelineRun         `json:"run"`
	Candidates  []domain.ProjectCandidate  `json:"candidates,omitempty"`
	Skipped     int                        `json:"skipped,omitempty"`
	Approved    []domain.PortfolioDecision `json:"approved,omitempty"`
	Rejected    []domain.PortfolioDecision `json:"rejected,omitempty"`
	Tasks       []domain.ScheduleTask      `json:"tasks,omitempty"`
	Unscheduled []domain.PortfolioDecision `json:"unscheduled,omitempty"`
	Validation  validate.Report            `json:"validation"`
}

func newRunResponse(res engine.RunResult) RunResponse {
	return RunResponse{
		Run:         res.Run,
		Candidates:  res.Formation.Candidates,
		Skipped:     res.Formation.Skipped,
		Approved:    res.Allocation.Approved,
		Rejected:    res.Allocation.Rejected,
		Tasks:       res.Schedule.Tasks,
		Unscheduled: res.Schedule.Unscheduled,
		Validation:  res.Schedule.Validation,
	}
}
