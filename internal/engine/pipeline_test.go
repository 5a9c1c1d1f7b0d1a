package engine_test

import (
	"errors"
	"math"
	"testing"

	"cityworks/internal/domain"
	"cityworks/internal/repo"
	"cityworks/internal/seed"
)

func seedEnv(t *testing.T) testEnv {
	t.Helper()
	env := newTestEnv(t)
	if err := seed.Load(env.Ctx, env.Engine.DB, env.Engine.Config, env.Engine.Now); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return env
}

func TestPipelineRunOverSampleCity(t *testing.T) {
	env := seedEnv(t)
	res, err := env.Engine.Run(env.Ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Run.Stage != domain.StageDone {
		t.Errorf("stage = %s, want done", res.Run.Stage)
	}
	// issues 1,2,3,6,7 clear the risk bar; 4 and 5 do not
	if len(res.Formation.Candidates) != 5 {
		t.Fatalf("formed %d candidates, want 5", len(res.Formation.Candidates))
	}
	// the 60M flood project exceeds what is left after the mandates
	if len(res.Allocation.Approved) != 4 || len(res.Allocation.Rejected) != 1 {
		t.Fatalf("approved %d rejected %d, want 4/1", len(res.Allocation.Approved), len(res.Allocation.Rejected))
	}
	if got := res.Allocation.Spent; math.Abs(got-58_300_000) > 1 {
		t.Errorf("spent %.0f, want 58.3M", got)
	}
	// mandates first, denser mandate first
	order := make([]string, 0, 4)
	for _, d := range res.Allocation.Approved {
		order = append(order, d.Title)
	}
	want := []string{
		"Capital project: Hospital Power Backup Failure",
		"Capital project: Major Water Pipeline Rupture",
		"Capital project: School Zone Safety Improvements",
		"Capital project: Street Light Outages",
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("approval order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	if len(res.Schedule.Tasks) != 4 || len(res.Schedule.Unscheduled) != 0 {
		t.Fatalf("tasks %d unscheduled %d, want 4/0", len(res.Schedule.Tasks), len(res.Schedule.Unscheduled))
	}
	// the 4-week pipeline job is outdoor and sidesteps the winter weeks;
	// everything else fits week 1
	for _, task := range res.Schedule.Tasks {
		wantStart := 1
		if task.ResourceType == "water_crew" {
			wantStart = 5
		}
		if task.StartWeek != wantStart {
			t.Errorf("%s starts week %d, want %d", task.Title, task.StartWeek, wantStart)
		}
	}
	// the shifted pipeline job still overlaps the rain weeks; nothing else
	// touches adverse weather
	for _, task := range res.Schedule.Tasks {
		if task.ResourceType == "water_crew" {
			if task.Weather == nil || task.Weather.Risk != "medium" || task.Weather.AdverseDays != 2 {
				t.Errorf("%s advisory = %+v, want medium with 2 adverse days", task.Title, task.Weather)
			}
		} else if task.Weather != nil {
			t.Errorf("%s on %s: advisory = %+v", task.Title, task.ResourceType, task.Weather)
		}
	}
	if !res.Schedule.Validation.OK() {
		t.Errorf("validation violations: %+v", res.Schedule.Validation.Violations)
	}

	s, err := env.Engine.Summary(env.Ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if s.OpenIssues != 7 || s.ProjectsFormed != 5 || s.ProjectsApproved != 4 || s.TasksScheduled != 4 {
		t.Errorf("summary = %+v", s)
	}
	if math.Abs(s.BudgetRemaining-16_700_000) > 1 {
		t.Errorf("budget remaining %.0f, want 16.7M", s.BudgetRemaining)
	}
	if u := s.ResourceUtilization["electrical_crew"]; math.Abs(u-8.0/24.0) > 1e-9 {
		t.Errorf("electrical utilization %.3f", u)
	}
}

func TestPipelineRunIsRepeatable(t *testing.T) {
	env := seedEnv(t)
	first, err := env.Engine.Run(env.Ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := env.Engine.Run(env.Ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second.Formation.Candidates) != 0 || second.Formation.Skipped != 5 {
		t.Errorf("second formation formed %d skipped %d", len(second.Formation.Candidates), second.Formation.Skipped)
	}
	if len(second.Allocation.Approved) != len(first.Allocation.Approved) {
		t.Errorf("approval counts differ: %d then %d", len(first.Allocation.Approved), len(second.Allocation.Approved))
	}
	for i := range first.Schedule.Tasks {
		f, s := first.Schedule.Tasks[i], second.Schedule.Tasks[i]
		if f.ProjectID != s.ProjectID || f.StartWeek != s.StartWeek || f.EndWeek != s.EndWeek {
			t.Errorf("task %d moved between identical runs: %+v vs %+v", i, f, s)
		}
	}
	decisions, err := env.Engine.Repo.ListDecisions(env.Ctx)
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	if len(decisions) != 5 {
		t.Errorf("store holds %d decisions, want 5", len(decisions))
	}
}

func TestRunLeaseExcludesConcurrentRuns(t *testing.T) {
	env := seedEnv(t)
	run, err := env.Engine.StartRun(env.Ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = env.Engine.StartRun(env.Ctx)
	if !errors.Is(err, repo.ErrLeaseHeld) {
		t.Fatalf("second start = %v, want lease conflict", err)
	}
	if err := env.Engine.Repo.ReleaseLease(env.Ctx, "pipeline", run.RunID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := env.Engine.StartRun(env.Ctx); err != nil {
		t.Fatalf("start after release: %v", err)
	}
}

func TestFailRunRecordsStage(t *testing.T) {
	env := seedEnv(t)
	run := env.startRun(t)
	if err := env.Engine.FailRun(env.Ctx, run.RunID, "operator abort"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, err := env.Engine.Repo.GetRun(env.Ctx, run.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Stage != domain.StageFailed || got.FinishedAt == nil {
		t.Errorf("run = %+v", got)
	}
	// failure released the lease
	if _, err := env.Engine.StartRun(env.Ctx); err != nil {
		t.Fatalf("start after failure: %v", err)
	}
}
