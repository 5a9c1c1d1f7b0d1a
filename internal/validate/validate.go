// Package validate cross-checks the committed plan: budget math, rank
// sequences, schedule durations, and the capacity ledger. Broken rank
// numbering is repaired in place; everything else is a hard failure.
package validate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"cityworks/internal/config"
	"cityworks/internal/domain"
	"cityworks/internal/repo"
)

type Violation struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

type Report struct {
	Violations []Violation `json:"violations,omitempty"`
	Repaired   []string    `json:"repaired,omitempty"`
}

func (r Report) OK() bool { return len(r.Violations) == 0 }

// Failure carries a failed report as an error.
type Failure struct {
	Report Report
}

func (f *Failure) Error() string {
	kinds := make([]string, 0, len(f.Report.Violations))
	for _, v := range f.Report.Violations {
		kinds = append(kinds, v.Kind)
	}
	return fmt.Sprintf("plan validation failed: %s", strings.Join(kinds, ", "))
}

type Checker struct {
	Repo   repo.Repo
	Config *config.Config
}

// CheckTx validates the plan inside the caller's transaction. Rank repairs
// are written through tx; the returned report lists them.
func (c Checker) CheckTx(ctx context.Context, tx *sql.Tx) (Report, error) {
	var rep Report

	decisions, err := c.Repo.ListDecisionsTx(ctx, tx)
	if err != nil {
		return rep, err
	}
	var approved []domain.PortfolioDecision
	var spent float64
	for _, d := range decisions {
		if d.AllocatedBudget < 0 {
			rep.Violations = append(rep.Violations, Violation{"negative_allocation",
				fmt.Sprintf("project %d allocated %.2f", d.ProjectID, d.AllocatedBudget)})
		}
		switch d.Decision {
		case domain.DecisionApproved:
			approved = append(approved, d)
			spent += d.AllocatedBudget
			if d.PriorityRank == nil {
				rep.Violations = append(rep.Violations, Violation{"missing_rank",
					fmt.Sprintf("approved project %d has no priority rank", d.ProjectID)})
			}
		case domain.DecisionRejected:
			if d.PriorityRank != nil {
				rep.Violations = append(rep.Violations, Violation{"rejected_rank",
					fmt.Sprintf("rejected project %d carries rank %d", d.ProjectID, *d.PriorityRank)})
			}
			if d.AllocatedBudget != 0 {
				rep.Violations = append(rep.Violations, Violation{"rejected_allocation",
					fmt.Sprintf("rejected project %d allocated %.2f", d.ProjectID, d.AllocatedBudget)})
			}
		}
	}
	if budget := c.Config.City.QuarterlyBudget; spent > budget {
		rep.Violations = append(rep.Violations, Violation{"budget_exceeded",
			fmt.Sprintf("allocated %.2f against budget %.2f", spent, budget)})
	}

	if repaired, err := c.repairRanks(ctx, tx, approved); err != nil {
		return rep, err
	} else if repaired {
		rep.Repaired = append(rep.Repaired, "priority ranks renumbered")
	}

	if err := c.checkSchedule(ctx, tx, decisions, &rep); err != nil {
		return rep, err
	}
	return rep, nil
}

// repairRanks renumbers approved ranks into a dense 1..N sequence when the
// stored sequence has gaps or duplicates. Ordering is preserved: existing
// rank ascending, project id breaking ties.
func (c Checker) repairRanks(ctx context.Context, tx *sql.Tx, approved []domain.PortfolioDecision) (bool, error) {
	ranked := make([]domain.PortfolioDecision, 0, len(approved))
	for _, d := range approved {
		if d.PriorityRank != nil {
			ranked = append(ranked, d)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if *ranked[i].PriorityRank != *ranked[j].PriorityRank {
			return *ranked[i].PriorityRank < *ranked[j].PriorityRank
		}
		return ranked[i].ProjectID < ranked[j].ProjectID
	})
	dense := true
	for i, d := range ranked {
		if *d.PriorityRank != i+1 {
			dense = false
			break
		}
	}
	if dense {
		return false, nil
	}
	for i, d := range ranked {
		if err := c.Repo.UpdateDecisionRankTx(ctx, tx, d.DecisionID, i+1); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (c Checker) checkSchedule(ctx context.Context, tx *sql.Tx, decisions []domain.PortfolioDecision, rep *Report) error {
	tasks, err := c.Repo.ListTasksTx(ctx, tx)
	if err != nil {
		return err
	}
	byProject := make(map[int64]domain.PortfolioDecision, len(decisions))
	for _, d := range decisions {
		byProject[d.ProjectID] = d
	}
	horizon := c.Config.Planning.HorizonWeeks
	used := make(map[string]map[int]int)
	for _, t := range tasks {
		d, ok := byProject[t.ProjectID]
		if !ok || d.Decision != domain.DecisionApproved {
			rep.Violations = append(rep.Violations, Violation{"unapproved_task",
				fmt.Sprintf("task %d schedules unapproved project %d", t.TaskID, t.ProjectID)})
			continue
		}
		if got := t.EndWeek - t.StartWeek + 1; got != d.EstimatedWeeks {
			rep.Violations = append(rep.Violations, Violation{"duration_mismatch",
				fmt.Sprintf("project %d scheduled for %d weeks, estimated %d", t.ProjectID, got, d.EstimatedWeeks)})
		}
		if t.StartWeek < 1 || t.EndWeek > horizon {
			rep.Violations = append(rep.Violations, Violation{"outside_horizon",
				fmt.Sprintf("project %d spans weeks %d-%d of a %d week horizon", t.ProjectID, t.StartWeek, t.EndWeek, horizon)})
		}
		weeks := used[t.ResourceType]
		if weeks == nil {
			weeks = make(map[int]int)
			used[t.ResourceType] = weeks
		}
		for w := t.StartWeek; w <= t.EndWeek; w++ {
			weeks[w] += t.CrewAssigned
		}
	}

	entries, err := c.Repo.ListCalendarTx(ctx, tx, c.Config.Planning.CalendarYear)
	if err != nil {
		return err
	}
	capacity := make(map[string]map[int]domain.CalendarEntry)
	for _, e := range entries {
		weeks := capacity[e.ResourceType]
		if weeks == nil {
			weeks = make(map[int]domain.CalendarEntry)
			capacity[e.ResourceType] = weeks
		}
		weeks[e.WeekNumber] = e
	}
	for crew, weeks := range used {
		for w, n := range weeks {
			entry, ok := capacity[crew][w]
			if !ok {
				rep.Violations = append(rep.Violations, Violation{"missing_capacity",
					fmt.Sprintf("%s week %d has tasks but no calendar entry", crew, w)})
				continue
			}
			if n > entry.Capacity {
				rep.Violations = append(rep.Violations, Violation{"capacity_exceeded",
					fmt.Sprintf("%s week %d books %d of %d", crew, w, n, entry.Capacity)})
			}
			if n != entry.Allocated {
				rep.Violations = append(rep.Violations, Violation{"ledger_drift",
					fmt.Sprintf("%s week %d ledger shows %d, tasks sum to %d", crew, w, entry.Allocated, n)})
			}
		}
	}
	for crew, weeks := range capacity {
		for w, entry := range weeks {
			if entry.Allocated > 0 && used[crew][w] == 0 {
				rep.Violations = append(rep.Violations, Violation{"ledger_drift",
					fmt.Sprintf("%s week %d ledger shows %d with no tasks", crew, w, entry.Allocated)})
			}
		}
	}
	return nil
}
