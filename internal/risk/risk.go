// Package risk scores issues for project formation. Scoring is pure
// arithmetic over an issue's signal and the configured weights, so two runs
// over the same store always agree.
package risk

import (
	"cityworks/internal/config"
	"cityworks/internal/domain"
)

// Scores are reported on a fixed 0 to 8 scale whatever the configured
// weights sum to.
const maxScore = 8

// Score computes the composite risk score for a signal. Each factor
// contributes its weight when the signal crosses the configured threshold;
// the total is clamped to [0, 8]. A nil signal scores zero.
func Score(cfg *config.Config, s *domain.Signal) float64 {
	if s == nil {
		return 0
	}
	var score float64
	if s.SafetyRisk {
		score += cfg.Risk.Weights.SafetyRisk
	}
	if s.LegalMandate {
		score += cfg.Risk.Weights.LegalMandate
	}
	if s.PopulationAffected >= cfg.Risk.Thresholds.HighPopulation {
		score += cfg.Risk.Weights.PopulationImpact
	}
	if s.ComplaintCount >= cfg.Risk.Thresholds.HighComplaints {
		score += cfg.Risk.Weights.ComplaintVolume
	}
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// Qualifies reports whether a score clears the candidate-formation bar.
func Qualifies(cfg *config.Config, score float64) bool {
	return score >= cfg.Risk.Thresholds.HighRiskScore
}

// Feasibility maps urgency runway to a [0,1] score. More days of runway
// means more room to deliver, capped at 1.
func Feasibility(cfg *config.Config, s *domain.Signal) float64 {
	if s == nil {
		return 0
	}
	f := float64(s.UrgencyDays) / float64(cfg.Estimation.FeasibilityScaleDays)
	if f > 1 {
		return 1
	}
	return f
}

// Density is the allocation ordering key: risk score per million of cost.
// Zero-cost candidates sort as infinitely dense via a large sentinel.
func Density(riskScore, estimatedCost float64) float64 {
	millions := estimatedCost / 1_000_000
	if millions <= 0 {
		return riskScore * 1e9
	}
	return riskScore / millions
}
