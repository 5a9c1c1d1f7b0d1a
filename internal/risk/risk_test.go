package risk

import (
	"testing"

	"cityworks/internal/config"
	"cityworks/internal/domain"
)

func TestScore(t *testing.T) {
	cfg := config.Default()
	cases := []struct {
		name   string
		signal *domain.Signal
		want   float64
	}{
		{"nil signal", nil, 0},
		{"no factors", &domain.Signal{}, 0},
		{"safety only", &domain.Signal{SafetyRisk: true}, 3},
		{"mandate only", &domain.Signal{LegalMandate: true}, 3},
		{"population at threshold", &domain.Signal{PopulationAffected: 100_000}, 1},
		{"population below threshold", &domain.Signal{PopulationAffected: 99_999}, 0},
		{"complaints at threshold", &domain.Signal{ComplaintCount: 75}, 1},
		{"complaints below threshold", &domain.Signal{ComplaintCount: 74}, 0},
		{"all factors", &domain.Signal{SafetyRisk: true, LegalMandate: true, PopulationAffected: 500_000, ComplaintCount: 200}, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(cfg, tc.signal); got != tc.want {
				t.Errorf("Score = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScoreClampedToScale(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.Weights.SafetyRisk = 7
	cfg.Risk.Weights.LegalMandate = 7
	over := &domain.Signal{SafetyRisk: true, LegalMandate: true}
	if got := Score(cfg, over); got != 8 {
		t.Errorf("inflated weights score %v, want clamp to 8", got)
	}
	cfg.Risk.Weights.SafetyRisk = -2
	under := &domain.Signal{SafetyRisk: true}
	if got := Score(cfg, under); got != 0 {
		t.Errorf("negative weight score %v, want clamp to 0", got)
	}
}

func TestQualifiesBoundary(t *testing.T) {
	cfg := config.Default()
	if Qualifies(cfg, 2.9) {
		t.Error("2.9 should not qualify")
	}
	if !Qualifies(cfg, 3) {
		t.Error("exactly 3 should qualify")
	}
	if !Qualifies(cfg, 8) {
		t.Error("8 should qualify")
	}
}

func TestFeasibility(t *testing.T) {
	cfg := config.Default()
	if got := Feasibility(cfg, &domain.Signal{UrgencyDays: 90}); got != 0.5 {
		t.Errorf("90 days = %v, want 0.5", got)
	}
	if got := Feasibility(cfg, &domain.Signal{UrgencyDays: 365}); got != 1 {
		t.Errorf("365 days = %v, want clamp to 1", got)
	}
	if got := Feasibility(cfg, nil); got != 0 {
		t.Errorf("nil signal = %v, want 0", got)
	}
}

func TestDensity(t *testing.T) {
	if got := Density(6, 2_000_000); got != 3 {
		t.Errorf("6/2M = %v, want 3", got)
	}
	if Density(3, 0) <= Density(8, 1_000_000) {
		t.Error("zero-cost candidate should sort densest")
	}
}
