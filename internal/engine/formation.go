package engine

import (
	"context"
	"fmt"

	"cityworks/internal/audit"
	"cityworks/internal/domain"
	"cityworks/internal/repo"
	"cityworks/internal/risk"
	"cityworks/internal/weather"
)

// FormationResult reports what one formation pass produced.
type FormationResult struct {
	Scored     []domain.ScoredIssue
	Candidates []domain.ProjectCandidate
	Skipped    int
}

// FormCandidates scores every open issue and creates a project candidate
// for each one that clears the risk bar. Issues whose candidate already
// exists are skipped, so repeating the stage is a no-op. The whole pass
// commits atomically.
func (e Engine) FormCandidates(ctx context.Context, runID string) (FormationResult, error) {
	var res FormationResult

	issues, err := e.Repo.ListOpenIssues(ctx)
	if err != nil {
		return res, err
	}
	for _, is := range issues {
		if is.Signal != nil {
			if is.Signal.EstimatedCost <= 0 {
				return res, &InvalidSignalError{IssueID: is.ID, Reason: "non-positive estimated cost"}
			}
			if is.Signal.PopulationAffected < 0 || is.Signal.ComplaintCount < 0 {
				return res, &InvalidSignalError{IssueID: is.ID, Reason: "negative impact counts"}
			}
		}
	}

	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return res, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	for _, is := range issues {
		res.Scored = append(res.Scored, is)
		score := risk.Score(e.Config, is.Signal)
		if !risk.Qualifies(e.Config, score) {
			continue
		}
		exists, err := e.Repo.ActiveCandidateForIssueTx(ctx, tx, is.ID)
		if err != nil {
			return res, err
		}
		if exists {
			res.Skipped++
			continue
		}
		cost := is.Signal.EstimatedCost
		weeks, crewSize := e.Config.Estimate(cost)
		crew := e.Config.CrewType(is.Category)
		c := domain.ProjectCandidate{
			IssueID:          is.ID,
			Title:            fmt.Sprintf("Capital project: %s", is.Title),
			Scope:            e.formationScope(is, crew),
			EstimatedCost:    cost,
			EstimatedWeeks:   weeks,
			RequiredCrewType: crew,
			CrewSize:         crewSize,
			RiskScore:        score,
			FeasibilityScore: risk.Feasibility(e.Config, is.Signal),
			LegalMandate:     is.Signal.LegalMandate,
			CreatedBy:        audit.AgentFormation,
			CreatedAt:        now,
		}
		c.ProjectID, err = e.Repo.InsertCandidateTx(ctx, tx, c)
		if err != nil {
			// a concurrent writer can land a candidate between the
			// existence check and the insert
			if repo.IsUniqueViolation(err) {
				return res, &DuplicateCandidateError{IssueID: is.ID}
			}
			return res, fmt.Errorf("insert candidate for issue %d: %w", is.ID, err)
		}
		if err := e.Audit.Append(ctx, tx, audit.CandidateCreated, audit.AgentFormation, runID, audit.Payload{
			"project_id": c.ProjectID,
			"issue_id":   is.ID,
			"risk_score": score,
			"cost":       cost,
		}); err != nil {
			return res, err
		}
		res.Candidates = append(res.Candidates, c)
	}

	if err := e.advanceStage(ctx, tx, runID, run.Stage, domain.StageGovernance); err != nil {
		return res, err
	}
	return res, tx.Commit()
}

func (e Engine) formationScope(is domain.ScoredIssue, crew string) string {
	kind := "indoor"
	if weather.IsOutdoor(e.Config, is.Category, crew) {
		kind = "outdoor"
	}
	return fmt.Sprintf("%s %s work addressing: %s", kind, is.Category, is.Description)
}
