// Package weather provides scheduling advisories for outdoor work. The
// advisor is deterministic: adverse-day loads come from configuration, not
// a live forecast, so pipeline runs stay reproducible.
package weather

import (
	"fmt"

	"cityworks/internal/config"
	"cityworks/internal/domain"
)

// Risk levels for a scheduling window.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Advisor assesses weather risk for a span of weeks.
type Advisor interface {
	Assess(startWeek, endWeek int) domain.WeatherInfo
}

// CalendarAdvisor reads adverse-day loads from the planning config.
type CalendarAdvisor struct {
	spans        []config.AdverseSpan
	highRiskDays int
}

func NewCalendarAdvisor(cfg *config.Config) *CalendarAdvisor {
	return &CalendarAdvisor{spans: cfg.Weather.AdverseWeeks, highRiskDays: cfg.Weather.HighRiskDays}
}

// Assess intersects the window with each adverse span and grades the risk.
// A span's day load counts once per window however many of its weeks the
// window covers.
func (a *CalendarAdvisor) Assess(startWeek, endWeek int) domain.WeatherInfo {
	info := domain.WeatherInfo{Risk: RiskLow}
	for _, span := range a.spans {
		overlaps := false
		for _, w := range span.Weeks {
			if w >= startWeek && w <= endWeek {
				info.AdverseWeeks = append(info.AdverseWeeks, w)
				overlaps = true
			}
		}
		if overlaps {
			info.AdverseDays += span.AdverseDays
		}
	}
	switch {
	case info.AdverseDays > a.highRiskDays:
		info.Risk = RiskHigh
		info.Recommendation = fmt.Sprintf("consider shifting outside weeks %v; expect %d lost work days", info.AdverseWeeks, info.AdverseDays)
	case info.AdverseDays > 0:
		info.Risk = RiskMedium
		info.Recommendation = fmt.Sprintf("plan around %d adverse days in weeks %v", info.AdverseDays, info.AdverseWeeks)
	}
	return info
}

// IsOutdoor reports whether a project is weather sensitive, by issue
// category or by the crew doing the work.
func IsOutdoor(cfg *config.Config, category, crewType string) bool {
	for _, c := range cfg.Crews.OutdoorCategories {
		if c == category {
			return true
		}
	}
	for _, c := range cfg.Crews.Outdoor {
		if c == crewType {
			return true
		}
	}
	return false
}
