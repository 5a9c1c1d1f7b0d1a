package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"cityworks/internal/domain"
)

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.ScheduleTask) (int64, error) {
	var weather any
	if t.Weather != nil {
		data, err := json.Marshal(t.Weather)
		if err != nil {
			return 0, err
		}
		weather = string(data)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO schedule_tasks(project_id,start_week,end_week,resource_type,crew_assigned,status,weather_json,created_by,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ProjectID, t.StartWeek, t.EndWeek, t.ResourceType, t.CrewAssigned, t.Status, weather, t.CreatedBy, t.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) DeleteTasksTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM schedule_tasks`)
	return err
}

func (r Repo) DeleteTaskByProjectTx(ctx context.Context, tx *sql.Tx, projectID int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM schedule_tasks WHERE project_id=?`, projectID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const taskCols = `t.task_id,t.project_id,t.start_week,t.end_week,t.resource_type,t.crew_assigned,t.status,t.weather_json,t.created_by,t.created_at,c.title`

func scanTask(rows *sql.Rows) (domain.ScheduleTask, error) {
	var t domain.ScheduleTask
	var weather sql.NullString
	err := rows.Scan(&t.TaskID, &t.ProjectID, &t.StartWeek, &t.EndWeek, &t.ResourceType, &t.CrewAssigned, &t.Status, &weather, &t.CreatedBy, &t.CreatedAt, &t.Title)
	if err != nil {
		return t, err
	}
	if weather.Valid && weather.String != "" {
		var w domain.WeatherInfo
		if err := json.Unmarshal([]byte(weather.String), &w); err != nil {
			return t, err
		}
		t.Weather = &w
	}
	return t, nil
}

func (r Repo) listTasks(ctx context.Context, query queryFn, where string, args ...any) ([]domain.ScheduleTask, error) {
	rows, err := query(ctx, `SELECT `+taskCols+` FROM schedule_tasks t JOIN project_candidates c ON c.project_id=t.project_id `+where+` ORDER BY t.start_week ASC, t.project_id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduleTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListTasks(ctx context.Context) ([]domain.ScheduleTask, error) {
	return r.listTasks(ctx, r.DB.QueryContext, ``)
}

func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx) ([]domain.ScheduleTask, error) {
	return r.listTasks(ctx, tx.QueryContext, ``)
}

func (r Repo) GetTaskByProject(ctx context.Context, projectID int64) (domain.ScheduleTask, error) {
	tasks, err := r.listTasks(ctx, r.DB.QueryContext, `WHERE t.project_id=?`, projectID)
	if err != nil {
		return domain.ScheduleTask{}, err
	}
	if len(tasks) == 0 {
		return domain.ScheduleTask{}, ErrNotFound
	}
	return tasks[0], nil
}

func (r Repo) GetTaskByProjectTx(ctx context.Context, tx *sql.Tx, projectID int64) (domain.ScheduleTask, error) {
	tasks, err := r.listTasks(ctx, tx.QueryContext, `WHERE t.project_id=?`, projectID)
	if err != nil {
		return domain.ScheduleTask{}, err
	}
	if len(tasks) == 0 {
		return domain.ScheduleTask{}, ErrNotFound
	}
	return tasks[0], nil
}
