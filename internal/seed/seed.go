// Package seed loads the demonstration dataset: a quarter of Metroville
// issues with their impact signals and a fully provisioned crew calendar.
package seed

import (
	"context"
	"database/sql"
	"time"

	"cityworks/internal/config"
	"cityworks/internal/domain"
	"cityworks/internal/repo"
)

type seedIssue struct {
	issue  domain.Issue
	signal domain.Signal
}

var sampleIssues = []seedIssue{
	{
		issue:  domain.Issue{Title: "Major Water Pipeline Rupture", Category: "Water", Description: "Critical water main break affecting downtown area", Source: "emergency_report", Status: "OPEN"},
		signal: domain.Signal{PopulationAffected: 450_000, ComplaintCount: 1200, SafetyRisk: true, LegalMandate: true, EstimatedCost: 45_000_000, UrgencyDays: 7},
	},
	{
		issue:  domain.Issue{Title: "Hospital Power Backup Failure", Category: "Health", Description: "Primary backup generator at City Hospital non-functional", Source: "facility_inspection", Status: "OPEN"},
		signal: domain.Signal{PopulationAffected: 180_000, ComplaintCount: 300, SafetyRisk: true, LegalMandate: true, EstimatedCost: 12_000_000, UrgencyDays: 14},
	},
	{
		issue:  domain.Issue{Title: "Urban Flooding in Low-Lying Areas", Category: "Disaster Management", Description: "Recurring flooding in Districts 4 and 7 during monsoon", Source: "citizen_complaint", Status: "OPEN"},
		signal: domain.Signal{PopulationAffected: 600_000, ComplaintCount: 900, SafetyRisk: true, EstimatedCost: 60_000_000, UrgencyDays: 30},
	},
	{
		issue:  domain.Issue{Title: "Pothole Complaints in Residential Zones", Category: "Infrastructure", Description: "Multiple potholes reported on Main St and Oak Ave", Source: "citizen_complaint", Status: "OPEN"},
		signal: domain.Signal{PopulationAffected: 80_000, ComplaintCount: 40, EstimatedCost: 4_000_000, UrgencyDays: 60},
	},
	{
		issue:  domain.Issue{Title: "Public Park Renovation Delay", Category: "Recreation", Description: "Central Park playground equipment outdated", Source: "council_request", Status: "OPEN"},
		signal: domain.Signal{PopulationAffected: 15_000, ComplaintCount: 12, EstimatedCost: 2_500_000, UrgencyDays: 180},
	},
	{
		issue:  domain.Issue{Title: "Street Light Outages", Category: "Infrastructure", Description: "Multiple street lights non-functional in Sector 12", Source: "citizen_complaint", Status: "OPEN"},
		signal: domain.Signal{PopulationAffected: 25_000, ComplaintCount: 85, SafetyRisk: true, EstimatedCost: 800_000, UrgencyDays: 45},
	},
	{
		issue:  domain.Issue{Title: "School Zone Safety Improvements", Category: "Education", Description: "Need for crosswalks and speed bumps near Lincoln Elementary", Source: "citizen_complaint", Status: "OPEN"},
		signal: domain.Signal{PopulationAffected: 5_000, ComplaintCount: 150, SafetyRisk: true, EstimatedCost: 500_000, UrgencyDays: 30},
	},
}

// Load wipes the store and inserts the sample issues, signals, and crew
// calendar for the configured planning year.
func Load(ctx context.Context, db *sql.DB, cfg *config.Config, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	if err := wipe(ctx, db, true); err != nil {
		return err
	}
	r := repo.Repo{DB: db}
	createdAt := now().UTC().Format(time.RFC3339)
	for _, s := range sampleIssues {
		is := s.issue
		is.CreatedAt = createdAt
		id, err := r.InsertIssue(ctx, is)
		if err != nil {
			return err
		}
		sig := s.signal
		sig.IssueID = id
		if err := r.UpsertSignal(ctx, sig); err != nil {
			return err
		}
	}
	for week := 1; week <= cfg.Planning.HorizonWeeks; week++ {
		for crew, capacity := range cfg.Crews.Capacities {
			err := r.UpsertCalendarEntry(ctx, domain.CalendarEntry{
				ResourceType: crew,
				WeekNumber:   week,
				Year:         cfg.Planning.CalendarYear,
				Capacity:     capacity,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset clears everything the pipeline produced while keeping issues,
// signals, and the calendar's capacities.
func Reset(ctx context.Context, db *sql.DB) error {
	return wipe(ctx, db, false)
}

func wipe(ctx context.Context, db *sql.DB, full bool) error {
	stmts := []string{
		`DELETE FROM schedule_tasks`,
		`DELETE FROM portfolio_decisions`,
		`DELETE FROM project_candidates`,
		`UPDATE resource_calendar SET allocated=0`,
		`DELETE FROM audit_log`,
		`DELETE FROM pipeline_runs`,
		`DELETE FROM run_leases`,
	}
	if full {
		stmts = append(stmts,
			`DELETE FROM resource_calendar`,
			`DELETE FROM issue_signals`,
			`DELETE FROM issues`,
		)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}
