package repo

import (
	"context"
	"database/sql"

	"cityworks/internal/domain"
)

func (r Repo) InsertDecisionTx(ctx context.Context, tx *sql.Tx, d domain.PortfolioDecision) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO portfolio_decisions(project_id,decision,allocated_budget,priority_rank,rationale,decided_by,decided_at) VALUES (?,?,?,?,?,?,?)`,
		d.ProjectID, d.Decision, d.AllocatedBudget, nullableIntPtr(d.PriorityRank), d.Rationale, d.DecidedBy, d.DecidedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DeleteDecisionsTx clears all decisions so governance can re-run against
// the current candidate set.
func (r Repo) DeleteDecisionsTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM portfolio_decisions`)
	return err
}

const decisionCols = `d.decision_id,d.project_id,d.decision,d.allocated_budget,d.priority_rank,d.rationale,d.decided_by,d.decided_at,
	c.title,c.estimated_weeks,c.required_crew_type,c.crew_size,c.estimated_cost,i.category`

func scanDecision(rows *sql.Rows) (domain.PortfolioDecision, error) {
	var d domain.PortfolioDecision
	var rank sql.NullInt64
	err := rows.Scan(&d.DecisionID, &d.ProjectID, &d.Decision, &d.AllocatedBudget, &rank, &d.Rationale, &d.DecidedBy, &d.DecidedAt,
		&d.Title, &d.EstimatedWeeks, &d.CrewType, &d.CrewSize, &d.EstimatedCost, &d.Category)
	if rank.Valid {
		v := int(rank.Int64)
		d.PriorityRank = &v
	}
	return d, err
}

func (r Repo) listDecisions(ctx context.Context, query queryFn, where string) ([]domain.PortfolioDecision, error) {
	rows, err := query(ctx, `SELECT `+decisionCols+` FROM portfolio_decisions d JOIN project_candidates c ON c.project_id=d.project_id JOIN issues i ON i.issue_id=c.issue_id `+where+
		` ORDER BY d.priority_rank IS NULL, d.priority_rank ASC, d.project_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PortfolioDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListDecisions returns all portfolio decisions, approved first in rank
// order, then rejected by project id.
func (r Repo) ListDecisions(ctx context.Context) ([]domain.PortfolioDecision, error) {
	return r.listDecisions(ctx, r.DB.QueryContext, ``)
}

// ListApprovedDecisions returns approved decisions in priority order.
func (r Repo) ListApprovedDecisions(ctx context.Context) ([]domain.PortfolioDecision, error) {
	return r.listDecisions(ctx, r.DB.QueryContext, `WHERE d.decision='APPROVED'`)
}

func (r Repo) ListApprovedDecisionsTx(ctx context.Context, tx *sql.Tx) ([]domain.PortfolioDecision, error) {
	return r.listDecisions(ctx, tx.QueryContext, `WHERE d.decision='APPROVED'`)
}

func (r Repo) ListDecisionsTx(ctx context.Context, tx *sql.Tx) ([]domain.PortfolioDecision, error) {
	return r.listDecisions(ctx, tx.QueryContext, ``)
}

func (r Repo) GetDecisionByProject(ctx context.Context, projectID int64) (domain.PortfolioDecision, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+decisionCols+` FROM portfolio_decisions d JOIN project_candidates c ON c.project_id=d.project_id JOIN issues i ON i.issue_id=c.issue_id WHERE d.project_id=?`, projectID)
	if err != nil {
		return domain.PortfolioDecision{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.PortfolioDecision{}, ErrNotFound
	}
	return scanDecision(rows)
}

// UpdateDecisionRankTx rewrites a decision's priority rank in place. Used by
// the validator when repairing rank sequences.
func (r Repo) UpdateDecisionRankTx(ctx context.Context, tx *sql.Tx, decisionID int64, rank int) error {
	res, err := tx.ExecContext(ctx, `UPDATE portfolio_decisions SET priority_rank=? WHERE decision_id=?`, rank, decisionID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TotalAllocatedBudget sums allocated budget across approved decisions.
func (r Repo) TotalAllocatedBudget(ctx context.Context) (float64, error) {
	var total float64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(allocated_budget),0) FROM portfolio_decisions WHERE decision='APPROVED'`).Scan(&total)
	return total, err
}
