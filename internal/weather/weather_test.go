package weather

import (
	"reflect"
	"testing"

	"cityworks/internal/config"
)

func TestAssessRiskLevels(t *testing.T) {
	adv := NewCalendarAdvisor(config.Default())
	cases := []struct {
		name       string
		start, end int
		risk       string
		days       int
		weeks      []int
	}{
		{"clear window", 5, 7, RiskLow, 0, nil},
		{"single winter week", 3, 3, RiskHigh, 5, []int{3}},
		{"both winter weeks", 2, 5, RiskHigh, 5, []int{3, 4}},
		{"rain weeks only", 8, 9, RiskMedium, 2, []int{8, 9}},
		{"one rain week", 9, 10, RiskMedium, 2, []int{9}},
		{"winter and rain", 1, 12, RiskHigh, 7, []int{3, 4, 8, 9}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := adv.Assess(tc.start, tc.end)
			if info.Risk != tc.risk {
				t.Errorf("risk = %s, want %s", info.Risk, tc.risk)
			}
			if info.AdverseDays != tc.days {
				t.Errorf("adverse days = %d, want %d", info.AdverseDays, tc.days)
			}
			if !reflect.DeepEqual(info.AdverseWeeks, tc.weeks) {
				t.Errorf("adverse weeks = %v, want %v", info.AdverseWeeks, tc.weeks)
			}
			if tc.risk == RiskLow && info.Recommendation != "" {
				t.Errorf("low risk should carry no recommendation, got %q", info.Recommendation)
			}
			if tc.risk != RiskLow && info.Recommendation == "" {
				t.Error("elevated risk should carry a recommendation")
			}
		})
	}
}

func TestIsOutdoor(t *testing.T) {
	cfg := config.Default()
	cases := []struct {
		category, crew string
		want           bool
	}{
		{"Infrastructure", "construction_crew", true},
		{"Water", "water_crew", true},
		{"Health", "electrical_crew", false},
		{"Health", "general_crew", true},
		{"Education", "electrical_crew", false},
	}
	for _, tc := range cases {
		if got := IsOutdoor(cfg, tc.category, tc.crew); got != tc.want {
			t.Errorf("IsOutdoor(%s, %s) = %v, want %v", tc.category, tc.crew, got, tc.want)
		}
	}
}
