package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cityworks/internal/audit"
	"cityworks/internal/config"
	"cityworks/internal/domain"
	"cityworks/internal/repo"
	"cityworks/internal/weather"
)

const (
	leaseName = "pipeline"
	leaseTTL  = 10 * time.Minute
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Audit   audit.Writer
	Config  *config.Config
	Weather weather.Advisor
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Audit:   audit.Writer{DB: db},
		Config:  cfg,
		Weather: weather.NewCalendarAdvisor(cfg),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// stage transitions: formation -> governance -> scheduling -> done, and any
// live stage may move to failed.
func ensureStageTransition(from, to string) error {
	legal := map[string]string{
		domain.StageFormation:  domain.StageGovernance,
		domain.StageGovernance: domain.StageScheduling,
		domain.StageScheduling: domain.StageDone,
	}
	if to == domain.StageFailed {
		if from == domain.StageDone || from == domain.StageFailed {
			return &StageTransitionError{From: from, To: to}
		}
		return nil
	}
	if legal[from] != to {
		return &StageTransitionError{From: from, To: to}
	}
	return nil
}

// StartRun registers a new pipeline run in the formation stage and takes
// the advisory lease on the shared store.
func (e Engine) StartRun(ctx context.Context) (domain.PipelineRun, error) {
	run := domain.PipelineRun{
		RunID:        uuid.NewString(),
		Stage:        domain.StageFormation,
		Budget:       e.Config.City.QuarterlyBudget,
		HorizonWeeks: e.Config.Planning.HorizonWeeks,
		StartedAt:    e.nowRFC3339(),
	}
	now := e.now().UTC()
	expires := now.Add(leaseTTL).Format(time.RFC3339)
	if err := e.Repo.AcquireLease(ctx, leaseName, run.RunID, now.Format(time.RFC3339), expires); err != nil {
		return domain.PipelineRun{}, err
	}
	if err := e.Repo.InsertRun(ctx, run); err != nil {
		e.Repo.ReleaseLease(ctx, leaseName, run.RunID)
		return domain.PipelineRun{}, err
	}
	return run, nil
}

// advanceStage moves the run to its next stage inside the caller's
// transaction and records the move in the audit trail.
func (e Engine) advanceStage(ctx context.Context, tx *sql.Tx, runID, from, to string) error {
	if err := ensureStageTransition(from, to); err != nil {
		return err
	}
	var finished *string
	if to == domain.StageDone || to == domain.StageFailed {
		ts := e.nowRFC3339()
		finished = &ts
	}
	if err := e.Repo.UpdateRunStageTx(ctx, tx, runID, to, finished); err != nil {
		return fmt.Errorf("advance run %s: %w", runID, err)
	}
	return e.Audit.Append(ctx, tx, audit.PipelineStage, audit.AgentPipeline, runID, audit.Payload{"from": from, "to": to})
}

// FailRun marks a run failed and releases its lease. Safe to call for a run
// already past the point of failure.
func (e Engine) FailRun(ctx context.Context, runID, reason string) error {
	defer e.Repo.ReleaseLease(ctx, leaseName, runID)
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Stage == domain.StageDone || run.Stage == domain.StageFailed {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ts := e.nowRFC3339()
	if err := e.Repo.UpdateRunStageTx(ctx, tx, runID, domain.StageFailed, &ts); err != nil {
		return err
	}
	if err := e.Audit.Append(ctx, tx, audit.PipelineStage, audit.AgentPipeline, runID, audit.Payload{"from": run.Stage, "to": domain.StageFailed, "reason": reason}); err != nil {
		return err
	}
	return tx.Commit()
}

// RunResult aggregates the outputs of a full pipeline run.
type RunResult struct {
	Run        domain.PipelineRun
	Formation  FormationResult
	Allocation AllocationResult
	Schedule   ScheduleResult
}

// Run executes the full three-stage pipeline under one lease: candidate
// formation, budget allocation, then scheduling. Any stage error fails the
// run; state committed by earlier stages stays committed.
func (e Engine) Run(ctx context.Context) (RunResult, error) {
	run, err := e.StartRun(ctx)
	if err != nil {
		return RunResult{}, err
	}
	var res RunResult
	res.Run = run

	res.Formation, err = e.FormCandidates(ctx, run.RunID)
	if err != nil {
		e.FailRun(ctx, run.RunID, err.Error())
		return res, err
	}
	res.Allocation, err = e.AllocateBudget(ctx, run.RunID)
	if err != nil {
		e.FailRun(ctx, run.RunID, err.Error())
		return res, err
	}
	res.Schedule, err = e.ScheduleProjects(ctx, run.RunID)
	if err != nil {
		e.FailRun(ctx, run.RunID, err.Error())
		return res, err
	}
	e.Repo.ReleaseLease(ctx, leaseName, run.RunID)
	res.Run, err = e.Repo.GetRun(ctx, run.RunID)
	return res, err
}

// Summary derives the current plan overview from committed state.
func (e Engine) Summary(ctx context.Context) (domain.RunSummary, error) {
	s := domain.RunSummary{
		City:         e.Config.City.Name,
		Budget:       e.Config.City.QuarterlyBudget,
		HorizonWeeks: e.Config.Planning.HorizonWeeks,
	}
	var err error
	if s.OpenIssues, err = e.Repo.CountOpenIssues(ctx); err != nil {
		return s, err
	}
	candidates, err := e.Repo.ListActiveCandidates(ctx)
	if err != nil {
		return s, err
	}
	s.ProjectsFormed = len(candidates)
	approved, err := e.Repo.ListApprovedDecisions(ctx)
	if err != nil {
		return s, err
	}
	s.ProjectsApproved = len(approved)
	for _, d := range approved {
		s.TotalBudgetAllocated += d.AllocatedBudget
	}
	s.BudgetRemaining = s.Budget - s.TotalBudgetAllocated
	tasks, err := e.Repo.ListTasks(ctx)
	if err != nil {
		return s, err
	}
	s.TasksScheduled = len(tasks)

	entries, err := e.Repo.ListCalendar(ctx, e.Config.Planning.CalendarYear)
	if err != nil {
		return s, err
	}
	type tally struct{ used, capacity int }
	tallies := make(map[string]*tally)
	for _, entry := range entries {
		t := tallies[entry.ResourceType]
		if t == nil {
			t = &tally{}
			tallies[entry.ResourceType] = t
		}
		t.used += entry.Allocated
		t.capacity += entry.Capacity
	}
	if len(tallies) > 0 {
		s.ResourceUtilization = make(map[string]float64, len(tallies))
		for crew, t := range tallies {
			if t.capacity > 0 {
				s.ResourceUtilization[crew] = float64(t.used) / float64(t.capacity)
			}
		}
	}
	return s, nil
}
