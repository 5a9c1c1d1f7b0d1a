package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cityworks/internal/domain"
)

// ErrCapacity marks a ledger update that would push an allocation past the
// week's capacity.
var ErrCapacity = errors.New("capacity exceeded")

func (r Repo) UpsertCalendarEntry(ctx context.Context, e domain.CalendarEntry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO resource_calendar(resource_type,week_number,year,capacity,allocated) VALUES (?,?,?,?,?)
		ON CONFLICT(resource_type,week_number,year) DO UPDATE SET capacity=excluded.capacity`,
		e.ResourceType, e.WeekNumber, e.Year, e.Capacity, e.Allocated)
	return err
}

func (r Repo) ListCalendar(ctx context.Context, year int) ([]domain.CalendarEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT resource_id,resource_type,week_number,year,capacity,allocated FROM resource_calendar WHERE year=? ORDER BY resource_type ASC, week_number ASC`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CalendarEntry
	for rows.Next() {
		var e domain.CalendarEntry
		if err := rows.Scan(&e.ResourceID, &e.ResourceType, &e.WeekNumber, &e.Year, &e.Capacity, &e.Allocated); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) ListCalendarTx(ctx context.Context, tx *sql.Tx, year int) ([]domain.CalendarEntry, error) {
	rows, err := tx.QueryContext(ctx, `SELECT resource_id,resource_type,week_number,year,capacity,allocated FROM resource_calendar WHERE year=? ORDER BY resource_type ASC, week_number ASC`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CalendarEntry
	for rows.Next() {
		var e domain.CalendarEntry
		if err := rows.Scan(&e.ResourceID, &e.ResourceType, &e.WeekNumber, &e.Year, &e.Capacity, &e.Allocated); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// AllocateCalendarTx adds crew to one week's allocation, guarded so the
// ledger can never exceed capacity.
func (r Repo) AllocateCalendarTx(ctx context.Context, tx *sql.Tx, resourceType string, week, year, crew int) error {
	res, err := tx.ExecContext(ctx, `UPDATE resource_calendar SET allocated=allocated+? WHERE resource_type=? AND week_number=? AND year=? AND allocated+?<=capacity`,
		crew, resourceType, week, year, crew)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("allocate %d on %s week %d: %w", crew, resourceType, week, ErrCapacity)
	}
	return nil
}

// ReleaseCalendarTx subtracts crew from one week's allocation, clamped at
// zero so a double release cannot drive the ledger negative.
func (r Repo) ReleaseCalendarTx(ctx context.Context, tx *sql.Tx, resourceType string, week, year, crew int) error {
	_, err := tx.ExecContext(ctx, `UPDATE resource_calendar SET allocated=MAX(0,allocated-?) WHERE resource_type=? AND week_number=? AND year=?`,
		crew, resourceType, week, year)
	return err
}

// ZeroAllocationsTx resets the whole ledger before a fresh scheduling pass.
func (r Repo) ZeroAllocationsTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `UPDATE resource_calendar SET allocated=0`)
	return err
}
