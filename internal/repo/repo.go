package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"cityworks/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IsUniqueViolation reports whether err is a sqlite unique-constraint
// failure. The driver exposes no typed error for it.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func (r Repo) InsertIssue(ctx context.Context, is domain.Issue) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO issues(title,category,description,source,status,created_at) VALUES (?,?,?,?,?,?)`,
		is.Title, is.Category, nullable(is.Description), is.Source, is.Status, is.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetIssue(ctx context.Context, id int64) (domain.Issue, error) {
	var is domain.Issue
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT issue_id,title,category,description,source,status,created_at FROM issues WHERE issue_id=?`, id).
		Scan(&is.ID, &is.Title, &is.Category, &desc, &is.Source, &is.Status, &is.CreatedAt)
	if err == sql.ErrNoRows {
		return is, ErrNotFound
	}
	if desc.Valid {
		is.Description = desc.String
	}
	return is, err
}

func (r Repo) UpdateIssueStatus(ctx context.Context, id int64, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE issues SET status=? WHERE issue_id=?`, status, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertSignal(ctx context.Context, s domain.Signal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO issue_signals(issue_id,population_affected,complaint_count,safety_risk,legal_mandate,estimated_cost,urgency_days) VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(issue_id) DO UPDATE SET population_affected=excluded.population_affected,complaint_count=excluded.complaint_count,safety_risk=excluded.safety_risk,legal_mandate=excluded.legal_mandate,estimated_cost=excluded.estimated_cost,urgency_days=excluded.urgency_days`,
		s.IssueID, s.PopulationAffected, s.ComplaintCount, boolInt(s.SafetyRisk), boolInt(s.LegalMandate), s.EstimatedCost, s.UrgencyDays)
	return err
}

// ListOpenIssues returns OPEN issues joined with their signals, ordered by
// issue id so every run sees the same sequence.
func (r Repo) ListOpenIssues(ctx context.Context) ([]domain.ScoredIssue, error) {
	return r.listIssues(ctx, `WHERE i.status='OPEN'`)
}

func (r Repo) ListIssues(ctx context.Context) ([]domain.ScoredIssue, error) {
	return r.listIssues(ctx, ``)
}

func (r Repo) listIssues(ctx context.Context, where string) ([]domain.ScoredIssue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT i.issue_id,i.title,i.category,COALESCE(i.description,'') AS description,i.source,i.status,i.created_at,
		s.issue_id,s.population_affected,s.complaint_count,s.safety_risk,s.legal_mandate,s.estimated_cost,s.urgency_days
		FROM issues i LEFT JOIN issue_signals s ON s.issue_id=i.issue_id `+where+` ORDER BY i.issue_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScoredIssue
	for rows.Next() {
		var si domain.ScoredIssue
		var sid sql.NullInt64
		var pop, complaints sql.NullInt64
		var safety, mandate sql.NullInt64
		var cost sql.NullFloat64
		var urgency sql.NullInt64
		if err := rows.Scan(&si.ID, &si.Title, &si.Category, &si.Description, &si.Source, &si.Status, &si.CreatedAt,
			&sid, &pop, &complaints, &safety, &mandate, &cost, &urgency); err != nil {
			return nil, err
		}
		if sid.Valid {
			si.Signal = &domain.Signal{
				IssueID:            sid.Int64,
				PopulationAffected: pop.Int64,
				ComplaintCount:     complaints.Int64,
				SafetyRisk:         safety.Int64 == 1,
				LegalMandate:       mandate.Int64 == 1,
				EstimatedCost:      cost.Float64,
				UrgencyDays:        int(urgency.Int64),
			}
		}
		res = append(res, si)
	}
	return res, rows.Err()
}

func (r Repo) InsertCandidateTx(ctx context.Context, tx *sql.Tx, c domain.ProjectCandidate) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO project_candidates(issue_id,title,scope,estimated_cost,estimated_weeks,required_crew_type,crew_size,risk_score,feasibility_score,withdrawn,created_by,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.IssueID, c.Title, c.Scope, c.EstimatedCost, c.EstimatedWeeks, c.RequiredCrewType, c.CrewSize, c.RiskScore, c.FeasibilityScore, boolInt(c.Withdrawn), c.CreatedBy, c.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ActiveCandidateForIssueTx reports whether the issue already has a live
// candidate, to keep re-runs from forming duplicates.
func (r Repo) ActiveCandidateForIssueTx(ctx context.Context, tx *sql.Tx, issueID int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM project_candidates WHERE issue_id=? AND withdrawn=0`, issueID).Scan(&n)
	return n > 0, err
}

func (r Repo) WithdrawCandidate(ctx context.Context, projectID int64) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE project_candidates SET withdrawn=1 WHERE project_id=? AND withdrawn=0`, projectID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const candidateCols = `c.project_id,c.issue_id,c.title,c.scope,c.estimated_cost,c.estimated_weeks,c.required_crew_type,c.crew_size,c.risk_score,c.feasibility_score,c.withdrawn,c.created_by,c.created_at,COALESCE(s.legal_mandate,0)`

func scanCandidate(rows *sql.Rows) (domain.ProjectCandidate, error) {
	var c domain.ProjectCandidate
	var withdrawn, mandate int
	err := rows.Scan(&c.ProjectID, &c.IssueID, &c.Title, &c.Scope, &c.EstimatedCost, &c.EstimatedWeeks, &c.RequiredCrewType, &c.CrewSize, &c.RiskScore, &c.FeasibilityScore, &withdrawn, &c.CreatedBy, &c.CreatedAt, &mandate)
	c.Withdrawn = withdrawn == 1
	c.LegalMandate = mandate == 1
	return c, err
}

func (r Repo) GetCandidate(ctx context.Context, projectID int64) (domain.ProjectCandidate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+candidateCols+` FROM project_candidates c LEFT JOIN issue_signals s ON s.issue_id=c.issue_id WHERE c.project_id=?`, projectID)
	if err != nil {
		return domain.ProjectCandidate{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.ProjectCandidate{}, ErrNotFound
	}
	return scanCandidate(rows)
}

// ListActiveCandidates returns non-withdrawn candidates with the mandate
// flag joined from signals, ordered by project id.
func (r Repo) ListActiveCandidates(ctx context.Context) ([]domain.ProjectCandidate, error) {
	return r.listCandidates(ctx, r.DB.QueryContext, `WHERE c.withdrawn=0`)
}

func (r Repo) ListActiveCandidatesTx(ctx context.Context, tx *sql.Tx) ([]domain.ProjectCandidate, error) {
	return r.listCandidates(ctx, tx.QueryContext, `WHERE c.withdrawn=0`)
}

func (r Repo) ListCandidates(ctx context.Context) ([]domain.ProjectCandidate, error) {
	return r.listCandidates(ctx, r.DB.QueryContext, ``)
}

type queryFn func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) listCandidates(ctx context.Context, query queryFn, where string) ([]domain.ProjectCandidate, error) {
	rows, err := query(ctx, `SELECT `+candidateCols+` FROM project_candidates c LEFT JOIN issue_signals s ON s.issue_id=c.issue_id `+where+` ORDER BY c.project_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CountOpenIssues(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM issues WHERE status='OPEN'`).Scan(&n)
	return n, err
}
