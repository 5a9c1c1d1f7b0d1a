package engine_test

import (
	"errors"
	"testing"

	"cityworks/internal/domain"
	"cityworks/internal/engine"
)

// runFormation starts a run and walks it through formation, returning the
// run id ready for the governance stage.
func runFormation(t *testing.T, env testEnv) string {
	t.Helper()
	run := env.startRun(t)
	if _, err := env.Engine.FormCandidates(env.Ctx, run.RunID); err != nil {
		t.Fatalf("form: %v", err)
	}
	return run.RunID
}

func TestAllocateBudgetDensityOrder(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.City.QuarterlyBudget = 100_000_000
	// score 5, density 5/60
	expensive := env.addIssue(t, "Stormwater tunnel", "Disaster Management", domain.Signal{
		SafetyRisk: true, PopulationAffected: 200_000, ComplaintCount: 100,
		EstimatedCost: 60_000_000, UrgencyDays: 30,
	})
	// score 5, density 5/50: denser, considered first
	dense := env.addIssue(t, "Flood barrier upgrade", "Disaster Management", domain.Signal{
		SafetyRisk: true, PopulationAffected: 300_000, ComplaintCount: 150,
		EstimatedCost: 50_000_000, UrgencyDays: 30,
	})
	runID := runFormation(t, env)
	res, err := env.Engine.AllocateBudget(env.Ctx, runID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(res.Approved) != 1 || len(res.Rejected) != 1 {
		t.Fatalf("approved %d rejected %d, want 1/1", len(res.Approved), len(res.Rejected))
	}
	approved, rejected := res.Approved[0], res.Rejected[0]
	if got := candidateIssue(t, env, approved.ProjectID); got != dense {
		t.Errorf("approved issue %d, want denser issue %d", got, dense)
	}
	if got := candidateIssue(t, env, rejected.ProjectID); got != expensive {
		t.Errorf("rejected issue %d, want %d", got, expensive)
	}
	// remaining 50M cannot take a 60M project whole
	if approved.AllocatedBudget != 50_000_000 {
		t.Errorf("allocated %.0f", approved.AllocatedBudget)
	}
	if rejected.AllocatedBudget != 0 || rejected.Rationale != "insufficient budget" {
		t.Errorf("rejected allocation %.0f rationale %q", rejected.AllocatedBudget, rejected.Rationale)
	}
	if approved.PriorityRank == nil || *approved.PriorityRank != 1 {
		t.Errorf("approved rank = %v, want 1", approved.PriorityRank)
	}
	if rejected.PriorityRank != nil {
		t.Errorf("rejected project carries rank %d", *rejected.PriorityRank)
	}
}

func TestAllocateBudgetMandatePrecedence(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.City.QuarterlyBudget = 60_000_000
	// mandate, poor density
	mandate := env.addIssue(t, "Court-ordered levee repair", "Disaster Management", domain.Signal{
		SafetyRisk: true, LegalMandate: true, EstimatedCost: 55_000_000, UrgencyDays: 20,
	})
	// much denser, but mandates are funded first
	env.addIssue(t, "Water treatment filter swap", "Water", domain.Signal{
		SafetyRisk: true, PopulationAffected: 250_000, ComplaintCount: 200,
		EstimatedCost: 10_000_000, UrgencyDays: 15,
	})
	runID := runFormation(t, env)
	res, err := env.Engine.AllocateBudget(env.Ctx, runID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(res.Approved) != 1 || len(res.Rejected) != 1 {
		t.Fatalf("approved %d rejected %d, want 1/1", len(res.Approved), len(res.Rejected))
	}
	if got := candidateIssue(t, env, res.Approved[0].ProjectID); got != mandate {
		t.Errorf("approved issue %d, want mandate issue %d", got, mandate)
	}
	if res.Approved[0].Rationale != "legal mandate" {
		t.Errorf("rationale = %q", res.Approved[0].Rationale)
	}
}

func TestAllocateBudgetReplacesDecisions(t *testing.T) {
	env := newTestEnv(t)
	env.addIssue(t, "Sinkhole on 3rd Ave", "Infrastructure", domain.Signal{
		SafetyRisk: true, EstimatedCost: 2_000_000, UrgencyDays: 14,
	})
	runID := runFormation(t, env)
	if _, err := env.Engine.AllocateBudget(env.Ctx, runID); err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	env.Engine.Repo.ReleaseLease(env.Ctx, "pipeline", runID)

	second := runFormation(t, env)
	res, err := env.Engine.AllocateBudget(env.Ctx, second)
	if err != nil {
		t.Fatalf("second allocate: %v", err)
	}
	if len(res.Approved) != 1 {
		t.Fatalf("approved %d, want 1", len(res.Approved))
	}
	all, err := env.Engine.Repo.ListDecisions(env.Ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("store holds %d decisions after re-run, want 1", len(all))
	}
}

func TestAllocateBudgetEmptyCandidateSet(t *testing.T) {
	env := newTestEnv(t)
	issue := env.addIssue(t, "Transit depot rewiring", "Transportation", domain.Signal{
		SafetyRisk: true, EstimatedCost: 4_000_000, UrgencyDays: 21,
	})
	runID := runFormation(t, env)
	first, err := env.Engine.AllocateBudget(env.Ctx, runID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(first.Approved) != 1 {
		t.Fatalf("approved %d, want 1", len(first.Approved))
	}
	env.Engine.Repo.ReleaseLease(env.Ctx, "pipeline", runID)

	// the issue resolves and its candidate is withdrawn, so the next
	// run reaches governance with nothing to decide on
	if err := env.Engine.Repo.UpdateIssueStatus(env.Ctx, issue, "CLOSED"); err != nil {
		t.Fatalf("close issue: %v", err)
	}
	if err := env.Engine.Repo.WithdrawCandidate(env.Ctx, first.Approved[0].ProjectID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	second := runFormation(t, env)
	if _, err := env.Engine.AllocateBudget(env.Ctx, second); !errors.Is(err, engine.ErrNoCandidates) {
		t.Fatalf("allocate on empty set = %v, want ErrNoCandidates", err)
	}
	// the aborted stage leaves the prior quarter's decisions in place
	all, err := env.Engine.Repo.ListDecisions(env.Ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("store holds %d decisions after abort, want 1", len(all))
	}
}

func TestAllocateBudgetDenseRanks(t *testing.T) {
	env := newTestEnv(t)
	for i, cost := range []float64{5_000_000, 3_000_000, 1_500_000} {
		env.addIssue(t, []string{"Pump station A", "Pump station B", "Pump station C"}[i], "Water", domain.Signal{
			SafetyRisk: true, EstimatedCost: cost, UrgencyDays: 30,
		})
	}
	runID := runFormation(t, env)
	res, err := env.Engine.AllocateBudget(env.Ctx, runID)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(res.Approved) != 3 {
		t.Fatalf("approved %d, want 3", len(res.Approved))
	}
	for i, d := range res.Approved {
		if d.PriorityRank == nil || *d.PriorityRank != i+1 {
			t.Errorf("approved[%d] rank = %v, want %d", i, d.PriorityRank, i+1)
		}
	}
}

func candidateIssue(t *testing.T, env testEnv, projectID int64) int64 {
	t.Helper()
	c, err := env.Engine.Repo.GetCandidate(env.Ctx, projectID)
	if err != nil {
		t.Fatalf("get candidate %d: %v", projectID, err)
	}
	return c.IssueID
}
