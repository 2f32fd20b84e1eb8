package detect

import (
	"math"
	"testing"

	"pixelwatch/internal/domain"
)

func TestScore_RangeAndMonotonicity(t *testing.T) {
	cfg := DefaultScorerConfig()
	tiers := []domain.Tier{domain.TierNone, domain.TierLow, domain.TierMedium, domain.TierHigh}
	probs := []float64{-0.5, 0, 0.2, 0.5, 0.8, 1, 1.5, math.NaN()}

	for _, trained := range []bool{false, true} {
		for _, p := range probs {
			prev := -1.0
			for _, tier := range tiers {
				res := Score(cfg, RuleVerdict{Tier: tier}, p, trained)
				if res.HybridScore < 0 || res.HybridScore > 1 {
					t.Fatalf("score out of range: %v", res.HybridScore)
				}
				if res.MLProbability < 0 || res.MLProbability > 1 {
					t.Fatalf("probability out of range: %v", res.MLProbability)
				}
				if res.HybridScore < prev {
					t.Fatalf("score decreased with tier %s at p=%v trained=%v", tier, p, trained)
				}
				prev = res.HybridScore
			}
		}
	}
}

func TestScore_MonotonicInProbability(t *testing.T) {
	cfg := DefaultScorerConfig()
	prev := -1.0
	for p := 0.0; p <= 1.0; p += 0.05 {
		res := Score(cfg, RuleVerdict{Tier: domain.TierMedium}, p, true)
		if res.HybridScore < prev {
			t.Fatalf("score decreased at p=%v", p)
		}
		prev = res.HybridScore
	}
}

func TestScore_UntrainedIgnoresProbability(t *testing.T) {
	cfg := DefaultScorerConfig()
	for _, tier := range []domain.Tier{domain.TierNone, domain.TierLow, domain.TierMedium, domain.TierHigh} {
		a := Score(cfg, RuleVerdict{Tier: tier}, 0, false)
		b := Score(cfg, RuleVerdict{Tier: tier}, 1, false)
		if a.HybridScore != TierScore(tier) || b.HybridScore != TierScore(tier) {
			t.Fatalf("tier %s: expected %v, got %v and %v", tier, TierScore(tier), a.HybridScore, b.HybridScore)
		}
	}
}

func TestScore_RulesOnlyWeighting(t *testing.T) {
	cfg := ScorerConfig{RuleWeight: 1, MLWeight: 0, AlertThreshold: 0.5, HighAlertThreshold: 0.8}
	res := Score(cfg, RuleVerdict{Tier: domain.TierLow}, 1, true)
	if res.HybridScore != 0.33 || res.IsMatch {
		t.Fatalf("expected rules-only behaviour, got %+v", res)
	}
}

func TestScore_AlertLevels(t *testing.T) {
	cfg := DefaultScorerConfig()
	tests := []struct {
		tier  domain.Tier
		prob  float64
		level domain.AlertLevel
	}{
		{domain.TierHigh, 0.9, domain.AlertImmediate}, // 0.96
		{domain.TierHigh, 0.2, domain.AlertDigest},    // 0.68
		{domain.TierMedium, 0.9, domain.AlertDigest},  // 0.756
		{domain.TierLow, 0.9, domain.AlertDigest},     // 0.558
		{domain.TierLow, 0.3, domain.AlertNone},       // 0.318
		{domain.TierNone, 0.9, domain.AlertNone},      // 0.36
	}
	for _, tt := range tests {
		res := Score(cfg, RuleVerdict{Tier: tt.tier}, tt.prob, true)
		if res.AlertLevel != tt.level {
			t.Fatalf("tier=%s p=%v: expected %s, got %s (score %.3f)", tt.tier, tt.prob, tt.level, res.AlertLevel, res.HybridScore)
		}
		if (res.AlertLevel != domain.AlertNone) != res.IsMatch {
			t.Fatalf("alert level and match disagree: %+v", res)
		}
	}
}

func TestScorerConfig_Validate(t *testing.T) {
	if err := DefaultScorerConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := []ScorerConfig{
		{RuleWeight: 0.7, MLWeight: 0.7, AlertThreshold: 0.5, HighAlertThreshold: 0.8},
		{RuleWeight: -0.1, MLWeight: 1.1, AlertThreshold: 0.5, HighAlertThreshold: 0.8},
		{RuleWeight: 0.6, MLWeight: 0.4, AlertThreshold: 1.5, HighAlertThreshold: 0.8},
		{RuleWeight: 0.6, MLWeight: 0.4, AlertThreshold: 0.5, HighAlertThreshold: 0.4},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, c)
		}
	}
}
