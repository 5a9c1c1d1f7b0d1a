package engine

import (
	"context"
	"errors"
	"fmt"

	"cityworks/internal/audit"
	"cityworks/internal/domain"
	"cityworks/internal/repo"
	"cityworks/internal/validate"
	"cityworks/internal/weather"
)

// ScheduleResult reports one scheduling pass.
type ScheduleResult struct {
	Tasks       []domain.ScheduleTask
	Unscheduled []domain.PortfolioDecision
	Validation  validate.Report
}

// capacity ledger snapshot, keyed crew -> week.
type ledger map[string]map[int]*domain.CalendarEntry

func (l ledger) fits(crew string, start, end, size int) bool {
	weeks := l[crew]
	for w := start; w <= end; w++ {
		entry, ok := weeks[w]
		if !ok || entry.Allocated+size > entry.Capacity {
			return false
		}
	}
	return true
}

func (l ledger) book(crew string, start, end, size int) {
	for w := start; w <= end; w++ {
		l[crew][w].Allocated += size
	}
}

// findWindow returns the earliest start week whose whole window has crew
// headroom. With avoidHighRisk set, windows containing a week the advisor
// grades high are passed over.
func (e Engine) findWindow(led ledger, crew string, duration, size, fromWeek, horizon int, avoidHighRisk bool) (int, bool) {
	for start := fromWeek; start+duration-1 <= horizon; start++ {
		end := start + duration - 1
		if !led.fits(crew, start, end, size) {
			continue
		}
		if avoidHighRisk && e.hasHighRiskWeek(start, end) {
			continue
		}
		return start, true
	}
	return 0, false
}

func (e Engine) hasHighRiskWeek(start, end int) bool {
	for w := start; w <= end; w++ {
		if e.Weather.Assess(w, w).Risk == weather.RiskHigh {
			return true
		}
	}
	return false
}

// ScheduleProjects places every approved project into the earliest window
// where its crew has headroom for the full duration, walking projects in
// priority order. Outdoor projects first look for a window without high-risk
// weather and take the earliest feasible one with an advisory only when no
// clear window exists. Projects with no feasible window are reported, not
// fatal. The committed plan is validated before the stage is allowed to
// finish.
func (e Engine) ScheduleProjects(ctx context.Context, runID string) (ScheduleResult, error) {
	var res ScheduleResult

	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return res, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteTasksTx(ctx, tx); err != nil {
		return res, err
	}
	if err := e.Repo.ZeroAllocationsTx(ctx, tx); err != nil {
		return res, err
	}

	year := e.Config.Planning.CalendarYear
	entries, err := e.Repo.ListCalendarTx(ctx, tx, year)
	if err != nil {
		return res, err
	}
	led := make(ledger)
	for i := range entries {
		entry := &entries[i]
		if led[entry.ResourceType] == nil {
			led[entry.ResourceType] = make(map[int]*domain.CalendarEntry)
		}
		led[entry.ResourceType][entry.WeekNumber] = entry
	}

	approved, err := e.Repo.ListApprovedDecisionsTx(ctx, tx)
	if err != nil {
		return res, err
	}
	horizon := e.Config.Planning.HorizonWeeks
	now := e.nowRFC3339()
	for _, d := range approved {
		duration := d.EstimatedWeeks
		outdoor := weather.IsOutdoor(e.Config, d.Category, d.CrewType)
		// outdoor work holds out for a window clear of high-risk weather,
		// falling back to any feasible window when none exists
		start, placed := 0, false
		if outdoor {
			start, placed = e.findWindow(led, d.CrewType, duration, d.CrewSize, 1, horizon, true)
		}
		if !placed {
			start, placed = e.findWindow(led, d.CrewType, duration, d.CrewSize, 1, horizon, false)
		}
		if !placed {
			res.Unscheduled = append(res.Unscheduled, d)
			if err := e.Audit.Append(ctx, tx, audit.ProjectUnscheduled, audit.AgentScheduling, runID, audit.Payload{
				"project_id": d.ProjectID,
				"title":      d.Title,
				"crew":       d.CrewType,
				"weeks":      duration,
			}); err != nil {
				return res, err
			}
			continue
		}
		end := start + duration - 1
		for w := start; w <= end; w++ {
			if err := e.Repo.AllocateCalendarTx(ctx, tx, d.CrewType, w, year, d.CrewSize); err != nil {
				if errors.Is(err, repo.ErrCapacity) {
					return res, &CapacityExceededError{ResourceType: d.CrewType, Week: w}
				}
				return res, err
			}
		}
		led.book(d.CrewType, start, end, d.CrewSize)
		t := domain.ScheduleTask{
			ProjectID:    d.ProjectID,
			StartWeek:    start,
			EndWeek:      end,
			ResourceType: d.CrewType,
			CrewAssigned: d.CrewSize,
			Status:       "SCHEDULED",
			Title:        d.Title,
			CreatedBy:    audit.AgentScheduling,
			CreatedAt:    now,
		}
		if outdoor {
			info := e.Weather.Assess(start, end)
			if info.AdverseDays > 0 {
				t.Weather = &info
			}
		}
		t.TaskID, err = e.Repo.InsertTaskTx(ctx, tx, t)
		if err != nil {
			return res, fmt.Errorf("insert task for project %d: %w", d.ProjectID, err)
		}
		if err := e.Audit.Append(ctx, tx, audit.TaskScheduled, audit.AgentScheduling, runID, audit.Payload{
			"project_id": d.ProjectID,
			"start_week": start,
			"end_week":   end,
			"crew":       d.CrewType,
		}); err != nil {
			return res, err
		}
		res.Tasks = append(res.Tasks, t)
	}

	checker := validate.Checker{Repo: e.Repo, Config: e.Config}
	res.Validation, err = checker.CheckTx(ctx, tx)
	if err != nil {
		return res, err
	}
	for range res.Validation.Repaired {
		if err := e.Audit.Append(ctx, tx, audit.RanksRenumbered, audit.AgentValidator, runID, nil); err != nil {
			return res, err
		}
	}
	if !res.Validation.OK() {
		// drop the bad plan, keep only the failure entry
		tx.Rollback()
		atx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return res, err
		}
		defer atx.Rollback()
		if err := e.Audit.Append(ctx, atx, audit.ValidationFailed, audit.AgentValidator, runID, audit.Payload{
			"violations": res.Validation.Violations,
		}); err != nil {
			return res, err
		}
		if err := atx.Commit(); err != nil {
			return res, err
		}
		return res, &validate.Failure{Report: res.Validation}
	}

	if err := e.advanceStage(ctx, tx, runID, run.Stage, domain.StageDone); err != nil {
		return res, err
	}
	return res, tx.Commit()
}

// Reschedule moves one scheduled project to the earliest feasible window at
// or after fromWeek, releasing its previous allocations first. Outdoor
// projects get the same high-risk-weather preference as the scheduling pass.
func (e Engine) Reschedule(ctx context.Context, projectID int64, fromWeek int, actor string) (domain.ScheduleTask, error) {
	if actor == "" {
		actor = audit.AgentScheduling
	}
	decision, derr := e.Repo.GetDecisionByProject(ctx, projectID)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleTask{}, err
	}
	defer tx.Rollback()

	old, err := e.Repo.GetTaskByProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.ScheduleTask{}, err
	}
	year := e.Config.Planning.CalendarYear
	for w := old.StartWeek; w <= old.EndWeek; w++ {
		if err := e.Repo.ReleaseCalendarTx(ctx, tx, old.ResourceType, w, year, old.CrewAssigned); err != nil {
			return domain.ScheduleTask{}, err
		}
	}
	if err := e.Repo.DeleteTaskByProjectTx(ctx, tx, projectID); err != nil {
		return domain.ScheduleTask{}, err
	}

	entries, err := e.Repo.ListCalendarTx(ctx, tx, year)
	if err != nil {
		return domain.ScheduleTask{}, err
	}
	led := make(ledger)
	for i := range entries {
		entry := &entries[i]
		if led[entry.ResourceType] == nil {
			led[entry.ResourceType] = make(map[int]*domain.CalendarEntry)
		}
		led[entry.ResourceType][entry.WeekNumber] = entry
	}

	duration := old.EndWeek - old.StartWeek + 1
	if fromWeek < 1 {
		fromWeek = 1
	}
	horizon := e.Config.Planning.HorizonWeeks
	outdoor := derr == nil && weather.IsOutdoor(e.Config, decision.Category, old.ResourceType)
	start, placed := 0, false
	if outdoor {
		start, placed = e.findWindow(led, old.ResourceType, duration, old.CrewAssigned, fromWeek, horizon, true)
	}
	if !placed {
		start, placed = e.findWindow(led, old.ResourceType, duration, old.CrewAssigned, fromWeek, horizon, false)
	}
	if !placed {
		return domain.ScheduleTask{}, &UnschedulableProjectError{ProjectID: projectID, Title: old.Title}
	}
	end := start + duration - 1
	for w := start; w <= end; w++ {
		if err := e.Repo.AllocateCalendarTx(ctx, tx, old.ResourceType, w, year, old.CrewAssigned); err != nil {
			if errors.Is(err, repo.ErrCapacity) {
				return domain.ScheduleTask{}, &CapacityExceededError{ResourceType: old.ResourceType, Week: w}
			}
			return domain.ScheduleTask{}, err
		}
	}
	t := old
	t.TaskID = 0
	t.StartWeek = start
	t.EndWeek = end
	t.Weather = nil
	if outdoor {
		info := e.Weather.Assess(start, end)
		if info.AdverseDays > 0 {
			t.Weather = &info
		}
	}
	t.CreatedBy = actor
	t.CreatedAt = e.nowRFC3339()
	t.TaskID, err = e.Repo.InsertTaskTx(ctx, tx, t)
	if err != nil {
		return domain.ScheduleTask{}, err
	}
	if err := e.Audit.Append(ctx, tx, audit.TaskRescheduled, audit.AgentScheduling, "", audit.Payload{
		"project_id": projectID,
		"from_week":  old.StartWeek,
		"to_week":    start,
		"actor":      actor,
	}); err != nil {
		return domain.ScheduleTask{}, err
	}
	return t, tx.Commit()
}
