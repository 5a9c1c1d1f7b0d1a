package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.City.Name != "Metroville" {
		t.Errorf("city = %q", cfg.City.Name)
	}
	if cfg.City.QuarterlyBudget != 75_000_000 {
		t.Errorf("budget = %v", cfg.City.QuarterlyBudget)
	}
	if cfg.Planning.HorizonWeeks != 12 {
		t.Errorf("horizon = %d", cfg.Planning.HorizonWeeks)
	}
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		edit func(string) string
	}{
		{"missing city name", func(s string) string { return strings.Replace(s, "name: Metroville", `name: ""`, 1) }},
		{"zero budget", func(s string) string {
			return strings.Replace(s, "quarterly_budget: 75000000", "quarterly_budget: 0", 1)
		}},
		{"zero horizon", func(s string) string { return strings.Replace(s, "horizon_weeks: 12", "horizon_weeks: 0", 1) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromYAML([]byte(tc.edit(defaultTemplate))); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCrewType(t *testing.T) {
	cfg := Default()
	if got := cfg.CrewType("Water"); got != "water_crew" {
		t.Errorf("Water -> %s", got)
	}
	if got := cfg.CrewType("Health"); got != "electrical_crew" {
		t.Errorf("Health -> %s", got)
	}
	if got := cfg.CrewType("Transportation"); got != "general_crew" {
		t.Errorf("unmapped -> %s", got)
	}
}

func TestEstimateTiers(t *testing.T) {
	cfg := Default()
	cases := []struct {
		cost     float64
		weeks    int
		crewSize int
	}{
		{60_000_000, 8, 3},
		{50_000_000, 8, 3},
		{12_000_000, 4, 2},
		{2_500_000, 2, 2},
		{400_000, 1, 1},
	}
	for _, tc := range cases {
		weeks, crew := cfg.Estimate(tc.cost)
		if weeks != tc.weeks || crew != tc.crewSize {
			t.Errorf("Estimate(%v) = (%d, %d), want (%d, %d)", tc.cost, weeks, crew, tc.weeks, tc.crewSize)
		}
	}
}
