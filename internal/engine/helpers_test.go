package engine_test

import (
	"context"
	"testing"
	"time"

	"cityworks/internal/config"
	"cityworks/internal/db"
	"cityworks/internal/domain"
	"cityworks/internal/engine"
	"cityworks/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	clock := func() time.Time { return time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC) }
	eng.Now = clock
	eng.Audit.Now = clock
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// addIssue inserts an open issue with its signal and returns the issue id.
func (env testEnv) addIssue(t *testing.T, title, category string, sig domain.Signal) int64 {
	t.Helper()
	id, err := env.Engine.Repo.InsertIssue(env.Ctx, domain.Issue{
		Title:     title,
		Category:  category,
		Source:    "test_report",
		Status:    "OPEN",
		CreatedAt: "2025-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("insert issue: %v", err)
	}
	sig.IssueID = id
	if err := env.Engine.Repo.UpsertSignal(env.Ctx, sig); err != nil {
		t.Fatalf("insert signal: %v", err)
	}
	return id
}

// addCalendar provisions capacity for one crew across weeks 1..horizon.
func (env testEnv) addCalendar(t *testing.T, crew string, capacity int) {
	t.Helper()
	cfg := env.Engine.Config
	for week := 1; week <= cfg.Planning.HorizonWeeks; week++ {
		err := env.Engine.Repo.UpsertCalendarEntry(env.Ctx, domain.CalendarEntry{
			ResourceType: crew,
			WeekNumber:   week,
			Year:         cfg.Planning.CalendarYear,
			Capacity:     capacity,
		})
		if err != nil {
			t.Fatalf("seed calendar: %v", err)
		}
	}
}

func (env testEnv) startRun(t *testing.T) domain.PipelineRun {
	t.Helper()
	run, err := env.Engine.StartRun(env.Ctx)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	return run
}
