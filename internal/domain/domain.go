package domain

// Issue is a raw citizen demand: a complaint, inspection report, or mandate.
// Immutable once created except for status transitions.
type Issue struct {
	ID          int64  `json:"issue_id"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
	Status      string `json:"status" enum:"OPEN,CLOSED"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Signal quantifies the impact and risk of an issue. One per issue, immutable.
type Signal struct {
	IssueID            int64   `json:"issue_id"`
	PopulationAffected int64   `json:"population_affected"`
	ComplaintCount     int64   `json:"complaint_count"`
	SafetyRisk         bool    `json:"safety_risk"`
	LegalMandate       bool    `json:"legal_mandate"`
	EstimatedCost      float64 `json:"estimated_cost"`
	UrgencyDays        int     `json:"urgency_days"`
}

// ScoredIssue is an issue joined with its signal, as consumed by formation.
type ScoredIssue struct {
	Issue
	Signal *Signal `json:"signal,omitempty"`
}

// ProjectCandidate is a proposed capital project derived from a qualifying
// issue. Written once by formation, read-only after.
type ProjectCandidate struct {
	ProjectID        int64   `json:"project_id"`
	IssueID          int64   `json:"issue_id"`
	Title            string  `json:"title"`
	Scope            string  `json:"scope,omitempty"`
	EstimatedCost    float64 `json:"estimated_cost"`
	EstimatedWeeks   int     `json:"estimated_weeks"`
	RequiredCrewType string  `json:"required_crew_type"`
	CrewSize         int     `json:"crew_size"`
	RiskScore        float64 `json:"risk_score"`
	FeasibilityScore float64 `json:"feasibility_score"`
	Withdrawn        bool    `json:"withdrawn,omitempty"`
	CreatedBy        string  `json:"created_by"`
	CreatedAt        string  `json:"created_at" format:"date-time"`

	// LegalMandate is joined in from the candidate's signal for allocation.
	LegalMandate bool `json:"legal_mandate,omitempty"`
}

// Decision outcomes.
const (
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// PortfolioDecision records the funding outcome for one candidate.
// PriorityRank is nil for rejected projects; among approved projects the
// ranks form a dense sequence starting at 1.
type PortfolioDecision struct {
	DecisionID      int64   `json:"decision_id"`
	ProjectID       int64   `json:"project_id"`
	Decision        string  `json:"decision" enum:"APPROVED,REJECTED"`
	AllocatedBudget float64 `json:"allocated_budget"`
	PriorityRank    *int    `json:"priority_rank,omitempty"`
	Rationale       string  `json:"rationale,omitempty"`
	DecidedBy       string  `json:"decided_by"`
	DecidedAt       string  `json:"decided_at" format:"date-time"`

	// Joined candidate fields for scheduling and display.
	Title          string  `json:"title,omitempty"`
	EstimatedWeeks int     `json:"estimated_weeks,omitempty"`
	CrewType       string  `json:"required_crew_type,omitempty"`
	CrewSize       int     `json:"crew_size,omitempty"`
	EstimatedCost  float64 `json:"estimated_cost,omitempty"`
	Category       string  `json:"category,omitempty"`
}

// CalendarEntry is one (resource type, week, year) cell of the capacity
// ledger. allocated never exceeds capacity.
type CalendarEntry struct {
	ResourceID   int64  `json:"resource_id"`
	ResourceType string `json:"resource_type"`
	WeekNumber   int    `json:"week_number"`
	Year         int    `json:"year"`
	Capacity     int    `json:"capacity"`
	Allocated    int    `json:"allocated"`
}

// WeatherInfo is the advisory attached to an outdoor task scheduled into a
// window with high weather risk. Advisory only; never blocks scheduling.
type WeatherInfo struct {
	AdverseDays    int    `json:"adverse_days"`
	AdverseWeeks   []int  `json:"adverse_weeks,omitempty"`
	Risk           string `json:"risk" enum:"low,medium,high"`
	Recommendation string `json:"recommendation,omitempty"`
}

// ScheduleTask is a committed start/end week assignment for an approved
// project. One per approved project; deleted and recreated on reschedule.
type ScheduleTask struct {
	TaskID       int64        `json:"task_id"`
	ProjectID    int64        `json:"project_id"`
	StartWeek    int          `json:"start_week"`
	EndWeek      int          `json:"end_week"`
	ResourceType string       `json:"resource_type"`
	CrewAssigned int          `json:"crew_assigned"`
	Status       string       `json:"status"`
	Weather      *WeatherInfo `json:"weather,omitempty"`
	CreatedBy    string       `json:"created_by"`
	CreatedAt    string       `json:"created_at" format:"date-time"`

	Title string `json:"title,omitempty"`
}

// AuditEntry is one append-only row of the governance trail.
type AuditEntry struct {
	LogID     int64  `json:"log_id"`
	EventType string `json:"event_type"`
	AgentName string `json:"agent_name"`
	RunID     string `json:"run_id,omitempty"`
	Payload   string `json:"payload_json"`
	TS        string `json:"ts" format:"date-time"`
}

// Pipeline stages, in order. A run advances through them one legal
// transition at a time.
const (
	StageFormation  = "formation"
	StageGovernance = "governance"
	StageScheduling = "scheduling"
	StageDone       = "done"
	StageFailed     = "failed"
)

// PipelineRun is one execution of the three-stage pipeline.
type PipelineRun struct {
	RunID        string  `json:"run_id"`
	Stage        string  `json:"stage" enum:"formation,governance,scheduling,done,failed"`
	Budget       float64 `json:"budget"`
	HorizonWeeks int     `json:"horizon_weeks"`
	StartedAt    string  `json:"started_at" format:"date-time"`
	FinishedAt   *string `json:"finished_at,omitempty" format:"date-time"`
}

// Lease is the advisory exclusive lock a run holds on the shared state.
type Lease struct {
	Name       string `json:"name"`
	OwnerID    string `json:"owner_id"`
	AcquiredAt string `json:"acquired_at" format:"date-time"`
	ExpiresAt  string `json:"expires_at" format:"date-time"`
}

// RunSummary is derived from committed state after a full run; never stored.
type RunSummary struct {
	City                 string             `json:"city"`
	Budget               float64            `json:"budget"`
	HorizonWeeks         int                `json:"horizon_weeks"`
	OpenIssues           int                `json:"open_issues"`
	ProjectsFormed       int                `json:"projects_formed"`
	ProjectsApproved     int                `json:"projects_approved"`
	TasksScheduled       int                `json:"tasks_scheduled"`
	TotalBudgetAllocated float64            `json:"total_budget_allocated"`
	BudgetRemaining      float64            `json:"budget_remaining"`
	ResourceUtilization  map[string]float64 `json:"resource_utilization,omitempty"`
}
