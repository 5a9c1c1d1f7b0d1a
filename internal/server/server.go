package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"cityworks/internal/domain"
	"cityworks/internal/engine"
	"cityworks/internal/repo"
	"cityworks/internal/seed"
	"cityworks/internal/validate"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"lease_conflict"`
	Message string         `json:"message" example:"lease pipeline held by another owner"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the planning API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Cityworks API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerIssues(group, cfg.Engine)
	registerPipeline(group, cfg.Engine)
	registerCandidates(group, cfg.Engine)
	registerDecisions(group, cfg.Engine)
	registerSchedule(group, cfg.Engine)
	registerCalendar(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerSummary(group, cfg.Engine)
	registerAdmin(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrLeaseHeld) {
		return newAPIError(http.StatusConflict, "lease_conflict", err.Error(), nil)
	}
	var vf *validate.Failure
	if errors.As(err, &vf) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(),
			map[string]any{"violations": vf.Report.Violations})
	}
	var st *engine.StageTransitionError
	if errors.As(err, &st) {
		return newAPIError(http.StatusConflict, "stage_conflict", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrNoCandidates) {
		return newAPIError(http.StatusUnprocessableEntity, "no_candidates", err.Error(), nil)
	}
	var dup *engine.DuplicateCandidateError
	if errors.As(err, &dup) {
		return newAPIError(http.StatusConflict, "duplicate_candidate", err.Error(),
			map[string]any{"issue_id": dup.IssueID})
	}
	var ce *engine.CapacityExceededError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "capacity_exceeded", err.Error(),
			map[string]any{"resource_type": ce.ResourceType, "week": ce.Week})
	}
	var us *engine.UnschedulableProjectError
	if errors.As(err, &us) {
		return newAPIError(http.StatusUnprocessableEntity, "unschedulable", err.Error(),
			map[string]any{"project_id": us.ProjectID})
	}
	var sig *engine.InvalidSignalError
	if errors.As(err, &sig) {
		return newAPIError(http.StatusBadRequest, "invalid_signal", err.Error(),
			map[string]any{"issue_id": sig.IssueID})
	}
	var bc *engine.BudgetConfigError
	if errors.As(err, &bc) {
		return newAPIError(http.StatusBadRequest, "budget_config", err.Error(), nil)
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "invalid") || strings.Contains(strings.ToLower(msg), "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Cityworks API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        window.ui = SwaggerUIBundle({url: %q, dom_id: "#swagger-ui"});
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues with signals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body IssueListResponse `json:"body"`
	}, error) {
		issues, err := e.Repo.ListIssues(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueListResponse `json:"body"`
		}{Body: IssueListResponse{Issues: issues}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Report an issue",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest `json:"body"`
	}) (*struct {
		Body domain.ScoredIssue `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		if input.Body.Category == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "category is required", nil)
		}
		is, err := createIssue(ctx, e, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScoredIssue `json:"body"`
		}{Body: is}, nil
	})
}

func registerPipeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "run-pipeline",
		Method:        http.MethodPost,
		Path:          "/pipeline/runs",
		Summary:       "Execute the planning pipeline",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RunResponse `json:"body"`
	}, error) {
		res, err := e.Run(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunResponse `json:"body"`
		}{Body: newRunResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/pipeline/runs",
		Summary:     "List pipeline runs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*struct {
		Body RunListResponse `json:"body"`
	}, error) {
		runs, err := e.Repo.ListRuns(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunListResponse `json:"body"`
		}{Body: RunListResponse{Runs: runs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/pipeline/runs/{run_id}",
		Summary:     "Get one pipeline run",
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body domain.PipelineRun `json:"body"`
	}, error) {
		run, err := e.Repo.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PipelineRun `json:"body"`
		}{Body: run}, nil
	})
}

func registerCandidates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-candidates",
		Method:      http.MethodGet,
		Path:        "/candidates",
		Summary:     "List project candidates",
	}, func(ctx context.Context, input *struct {
		All bool `query:"all" doc:"Include withdrawn candidates"`
	}) (*struct {
		Body CandidateListResponse `json:"body"`
	}, error) {
		list := e.Repo.ListActiveCandidates
		if input.All {
			list = e.Repo.ListCandidates
		}
		candidates, err := list(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CandidateListResponse `json:"body"`
		}{Body: CandidateListResponse{Candidates: candidates}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Project detail",
		Description: "The candidate joined with its funding decision and scheduled task, when they exist.",
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
	}) (*struct {
		Body ProjectDetailResponse `json:"body"`
	}, error) {
		candidate, err := e.Repo.GetCandidate(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		detail := ProjectDetailResponse{Candidate: candidate}
		if decision, err := e.Repo.GetDecisionByProject(ctx, input.ProjectID); err == nil {
			detail.Decision = &decision
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		if task, err := e.Repo.GetTaskByProject(ctx, input.ProjectID); err == nil {
			detail.Task = &task
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectDetailResponse `json:"body"`
		}{Body: detail}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "List portfolio decisions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DecisionListResponse `json:"body"`
	}, error) {
		decisions, err := e.Repo.ListDecisions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecisionListResponse `json:"body"`
		}{Body: DecisionListResponse{Decisions: decisions}}, nil
	})
}

func registerSchedule(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-schedule",
		Method:      http.MethodGet,
		Path:        "/schedule",
		Summary:     "List scheduled tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Tasks: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-project",
		Method:      http.MethodPost,
		Path:        "/schedule/{project_id}/reschedule",
		Summary:     "Move a scheduled project to a later window",
	}, func(ctx context.Context, input *struct {
		ProjectID int64             `path:"project_id"`
		Body      RescheduleRequest `json:"body"`
	}) (*struct {
		Body domain.ScheduleTask `json:"body"`
	}, error) {
		task, err := e.Reschedule(ctx, input.ProjectID, input.Body.FromWeek, input.Body.Actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScheduleTask `json:"body"`
		}{Body: task}, nil
	})
}

func registerCalendar(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-calendar",
		Method:      http.MethodGet,
		Path:        "/calendar",
		Summary:     "Crew capacity ledger",
	}, func(ctx context.Context, input *struct {
		Year int `query:"year"`
	}) (*struct {
		Body CalendarResponse `json:"body"`
	}, error) {
		year := input.Year
		if year == 0 {
			year = e.Config.Planning.CalendarYear
		}
		entries, err := e.Repo.ListCalendar(ctx, year)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CalendarResponse `json:"body"`
		}{Body: CalendarResponse{Year: year, Entries: entries}}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Audit trail",
	}, func(ctx context.Context, input *struct {
		Limit int    `query:"limit" default:"100"`
		RunID string `query:"run_id"`
		Type  string `query:"type"`
		Agent string `query:"agent"`
	}) (*struct {
		Body AuditListResponse `json:"body"`
	}, error) {
		entries, err := e.Repo.LatestAuditEntries(ctx, input.Limit, input.RunID, input.Type, input.Agent)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditListResponse `json:"body"`
		}{Body: AuditListResponse{Entries: entries}}, nil
	})
}

func registerSummary(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "summary",
		Method:      http.MethodGet,
		Path:        "/summary",
		Summary:     "Plan summary",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.RunSummary `json:"body"`
	}, error) {
		s, err := e.Summary(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RunSummary `json:"body"`
		}{Body: s}, nil
	})
}

func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "seed",
		Method:      http.MethodPost,
		Path:        "/admin/seed",
		Summary:     "Load the sample dataset",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := seed.Load(ctx, e.DB, e.Config, e.Now); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "seeded"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset",
		Method:      http.MethodPost,
		Path:        "/admin/reset",
		Summary:     "Clear pipeline outputs",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := seed.Reset(ctx, e.DB); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "reset"}}, nil
	})
}

func createIssue(ctx context.Context, e engine.Engine, req CreateIssueRequest) (domain.ScoredIssue, error) {
	is := domain.Issue{
		Title:       req.Title,
		Category:    req.Category,
		Description: req.Description,
		Source:      req.Source,
		Status:      "OPEN",
		CreatedAt:   e.Now().UTC().Format(time.RFC3339),
	}
	if is.Source == "" {
		is.Source = "api"
	}
	id, err := e.Repo.InsertIssue(ctx, is)
	if err != nil {
		return domain.ScoredIssue{}, err
	}
	is.ID = id
	out := domain.ScoredIssue{Issue: is}
	if req.Signal != nil {
		sig := domain.Signal{
			IssueID:            id,
			PopulationAffected: req.Signal.PopulationAffected,
			ComplaintCount:     req.Signal.ComplaintCount,
			SafetyRisk:         req.Signal.SafetyRisk,
			LegalMandate:       req.Signal.LegalMandate,
			EstimatedCost:      req.Signal.EstimatedCost,
			UrgencyDays:        req.Signal.UrgencyDays,
		}
		if sig.EstimatedCost < 0 || sig.PopulationAffected < 0 || sig.ComplaintCount < 0 {
			return out, &engine.InvalidSignalError{IssueID: id, Reason: "negative values"}
		}
		if sig.UrgencyDays == 0 {
			sig.UrgencyDays = 90
		}
		if err := e.Repo.UpsertSignal(ctx, sig); err != nil {
			return out, err
		}
		out.Signal = &sig
	}
	return out, nil
}
