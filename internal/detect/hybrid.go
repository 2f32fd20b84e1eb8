package detect

import (
	"fmt"
	"math"

	"pixelwatch/internal/domain"
)

// ScorerConfig controls how rule tiers and the learned probability are
// blended. RuleWeight=1 reproduces pure rule-based detection.
type ScorerConfig struct {
	RuleWeight         float64
	MLWeight           float64
	AlertThreshold     float64
	HighAlertThreshold float64
}

func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		RuleWeight:         0.6,
		MLWeight:           0.4,
		AlertThreshold:     0.5,
		HighAlertThreshold: 0.8,
	}
}

func (c ScorerConfig) Validate() error {
	if c.RuleWeight < 0 || c.MLWeight < 0 {
		return fmt.Errorf("weights must be >= 0 (rule=%.2f ml=%.2f)", c.RuleWeight, c.MLWeight)
	}
	if math.Abs(c.RuleWeight+c.MLWeight-1) > 1e-6 {
		return fmt.Errorf("rule weight %.2f + ml weight %.2f must equal 1", c.RuleWeight, c.MLWeight)
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 1 {
		return fmt.Errorf("alert threshold %.2f must be between 0 and 1", c.AlertThreshold)
	}
	if c.HighAlertThreshold < c.AlertThreshold || c.HighAlertThreshold > 1 {
		return fmt.Errorf("high alert threshold %.2f must be between alert threshold and 1", c.HighAlertThreshold)
	}
	return nil
}

// TierScore maps a confidence tier onto [0,1].
func TierScore(t domain.Tier) float64 {
	switch t {
	case domain.TierLow:
		return 0.33
	case domain.TierMedium:
		return 0.66
	case domain.TierHigh:
		return 1.0
	default:
		return 0
	}
}

// Score blends a rule verdict with the classifier probability. An untrained
// classifier contributes nothing: the rule score carries the full weight.
func Score(cfg ScorerConfig, v RuleVerdict, mlProbability float64, mlTrained bool) domain.DetectionResult {
	res := domain.DetectionResult{
		Excluded:        v.Excluded,
		Tier:            v.Tier,
		MatchedPatterns: append([]string(nil), v.Matched...),
		MLProbability:   clamp01(mlProbability),
		MLTrained:       mlTrained,
		AlertLevel:      domain.AlertNone,
	}
	if v.Excluded {
		res.Tier = domain.TierNone
		return res
	}

	ruleWeight, mlWeight := cfg.RuleWeight, cfg.MLWeight
	if !mlTrained {
		ruleWeight, mlWeight = 1, 0
	}
	res.HybridScore = clamp01(ruleWeight*TierScore(v.Tier) + mlWeight*res.MLProbability)
	res.IsMatch = res.HybridScore >= cfg.AlertThreshold
	switch {
	case !res.IsMatch:
		res.AlertLevel = domain.AlertNone
	case res.HybridScore >= cfg.HighAlertThreshold:
		res.AlertLevel = domain.AlertImmediate
	default:
		res.AlertLevel = domain.AlertDigest
	}
	return res
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
