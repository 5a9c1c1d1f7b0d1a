package engine

import (
	"context"
	"fmt"
	"sort"

	"cityworks/internal/audit"
	"cityworks/internal/domain"
	"cityworks/internal/risk"
)

// AllocationResult reports the funding outcome of one governance pass.
type AllocationResult struct {
	Approved []domain.PortfolioDecision
	Rejected []domain.PortfolioDecision
	Budget   float64
	Spent    float64
}

// AllocateBudget decides funding for every active candidate. Legal mandates
// are considered first, then the rest in value-density order; each project
// is admitted whole or not at all. Prior decisions are replaced, so the
// stage can be repeated against a changed candidate set.
func (e Engine) AllocateBudget(ctx context.Context, runID string) (AllocationResult, error) {
	res := AllocationResult{Budget: e.Config.City.QuarterlyBudget}
	if res.Budget <= 0 {
		return res, &BudgetConfigError{Budget: res.Budget, Reason: "quarterly budget must be positive"}
	}

	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return res, err
	}
	if err := ensureStageTransition(run.Stage, domain.StageScheduling); err != nil {
		return res, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	candidates, err := e.Repo.ListActiveCandidatesTx(ctx, tx)
	if err != nil {
		return res, err
	}
	if len(candidates) == 0 {
		return res, ErrNoCandidates
	}
	if err := e.Repo.DeleteTasksTx(ctx, tx); err != nil {
		return res, err
	}
	if err := e.Repo.ZeroAllocationsTx(ctx, tx); err != nil {
		return res, err
	}
	if err := e.Repo.DeleteDecisionsTx(ctx, tx); err != nil {
		return res, err
	}

	var mandates, rest []domain.ProjectCandidate
	for _, c := range candidates {
		if c.LegalMandate {
			mandates = append(mandates, c)
		} else {
			rest = append(rest, c)
		}
	}
	byDensity := func(cs []domain.ProjectCandidate) {
		sort.SliceStable(cs, func(i, j int) bool {
			di := risk.Density(cs[i].RiskScore, cs[i].EstimatedCost)
			dj := risk.Density(cs[j].RiskScore, cs[j].EstimatedCost)
			if di != dj {
				return di > dj
			}
			return cs[i].ProjectID < cs[j].ProjectID
		})
	}
	byDensity(mandates)
	byDensity(rest)

	now := e.nowRFC3339()
	remaining := res.Budget
	rank := 0
	decide := func(c domain.ProjectCandidate, rationale string) error {
		d := domain.PortfolioDecision{
			ProjectID:      c.ProjectID,
			Rationale:      rationale,
			DecidedBy:      audit.AgentGovernance,
			DecidedAt:      now,
			Title:          c.Title,
			EstimatedWeeks: c.EstimatedWeeks,
			CrewType:       c.RequiredCrewType,
			CrewSize:       c.CrewSize,
			EstimatedCost:  c.EstimatedCost,
		}
		event := audit.ProjectRejected
		if c.EstimatedCost <= remaining {
			rank++
			r := rank
			d.Decision = domain.DecisionApproved
			d.AllocatedBudget = c.EstimatedCost
			d.PriorityRank = &r
			remaining -= c.EstimatedCost
			res.Spent += c.EstimatedCost
			event = audit.ProjectApproved
			res.Approved = append(res.Approved, d)
		} else {
			d.Decision = domain.DecisionRejected
			d.Rationale = "insufficient budget"
			res.Rejected = append(res.Rejected, d)
		}
		var err error
		d.DecisionID, err = e.Repo.InsertDecisionTx(ctx, tx, d)
		if err != nil {
			return fmt.Errorf("insert decision for project %d: %w", c.ProjectID, err)
		}
		return e.Audit.Append(ctx, tx, event, audit.AgentGovernance, runID, audit.Payload{
			"project_id": c.ProjectID,
			"decision":   d.Decision,
			"allocated":  d.AllocatedBudget,
			"rationale":  d.Rationale,
		})
	}

	for _, c := range mandates {
		if err := decide(c, "legal mandate"); err != nil {
			return res, err
		}
	}
	for _, c := range rest {
		rationale := fmt.Sprintf("value density %.2f", risk.Density(c.RiskScore, c.EstimatedCost))
		if err := decide(c, rationale); err != nil {
			return res, err
		}
	}

	if err := e.advanceStage(ctx, tx, runID, run.Stage, domain.StageScheduling); err != nil {
		return res, err
	}
	return res, tx.Commit()
}
