package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cityworks/internal/domain"
)

// ErrLeaseHeld marks a lease acquisition blocked by a live holder.
var ErrLeaseHeld = errors.New("lease held")

func (r Repo) InsertRun(ctx context.Context, run domain.PipelineRun) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO pipeline_runs(run_id,stage,budget,horizon_weeks,started_at) VALUES (?,?,?,?,?)`,
		run.RunID, run.Stage, run.Budget, run.HorizonWeeks, run.StartedAt)
	return err
}

func (r Repo) GetRun(ctx context.Context, runID string) (domain.PipelineRun, error) {
	var run domain.PipelineRun
	var finished sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT run_id,stage,budget,horizon_weeks,started_at,finished_at FROM pipeline_runs WHERE run_id=?`, runID).
		Scan(&run.RunID, &run.Stage, &run.Budget, &run.HorizonWeeks, &run.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if finished.Valid {
		run.FinishedAt = &finished.String
	}
	return run, err
}

func (r Repo) UpdateRunStageTx(ctx context.Context, tx *sql.Tx, runID, stage string, finishedAt *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE pipeline_runs SET stage=?, finished_at=? WHERE run_id=?`, stage, nullableStrPtr(finishedAt), runID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT run_id,stage,budget,horizon_weeks,started_at,finished_at FROM pipeline_runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PipelineRun
	for rows.Next() {
		var run domain.PipelineRun
		var finished sql.NullString
		if err := rows.Scan(&run.RunID, &run.Stage, &run.Budget, &run.HorizonWeeks, &run.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			run.FinishedAt = &finished.String
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func nullableStrPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// AcquireLease takes the named advisory lease for owner, stealing it only
// when the previous holder's lease has expired.
func (r Repo) AcquireLease(ctx context.Context, name, ownerID, now, expires string) error {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO run_leases(name,owner_id,acquired_at,expires_at) VALUES (?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET owner_id=excluded.owner_id,acquired_at=excluded.acquired_at,expires_at=excluded.expires_at
		WHERE run_leases.owner_id=excluded.owner_id OR run_leases.expires_at<excluded.acquired_at`,
		name, ownerID, now, expires)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("lease %s held by another owner: %w", name, ErrLeaseHeld)
	}
	return nil
}

func (r Repo) ReleaseLease(ctx context.Context, name, ownerID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM run_leases WHERE name=? AND owner_id=?`, name, ownerID)
	return err
}

func (r Repo) GetLease(ctx context.Context, name string) (domain.Lease, error) {
	var l domain.Lease
	err := r.DB.QueryRowContext(ctx, `SELECT name,owner_id,acquired_at,expires_at FROM run_leases WHERE name=?`, name).
		Scan(&l.Name, &l.OwnerID, &l.AcquiredAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

// LatestAuditEntries returns audit rows newest first, optionally filtered.
func (r Repo) LatestAuditEntries(ctx context.Context, limit int, runID, eventType, agentName string) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if runID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, runID)
	}
	if eventType != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, eventType)
	}
	if agentName != "" {
		clauses = append(clauses, "agent_name=?")
		args = append(args, agentName)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT log_id,event_type,agent_name,run_id,payload,ts FROM audit_log `+where+` ORDER BY log_id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.LogID, &e.EventType, &e.AgentName, &e.RunID, &e.Payload, &e.TS); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
