package domain

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the rule engine's confidence category. Tiers are totally ordered,
// so comparisons like t >= TierMedium are meaningful.
type Tier int

const (
	TierNone Tier = iota
	TierLow
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "none"
	}
}

func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return TierNone, nil
	case "low":
		return TierLow, nil
	case "medium":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	}
	return TierNone, fmt.Errorf("unknown tier %q", s)
}

// AlertLevel routes a match: immediate alerts are posted right away, digest
// alerts wait for the next digest run.
type AlertLevel string

const (
	AlertNone      AlertLevel = "none"
	AlertDigest    AlertLevel = "digest"
	AlertImmediate AlertLevel = "immediate"
)

type DetectionResult struct {
	IsMatch         bool
	Excluded        bool
	Tier            Tier
	MatchedPatterns []string
	MLProbability   float64
	MLTrained       bool
	HybridScore     float64
	AlertLevel      AlertLevel
	ModelVersion    int
}

// Reason is the compact explanation persisted alongside detections and
// feedback, e.g. "high:pixel validation" or "combo:tracking_action,combo:javascript_code".
func (r DetectionResult) Reason() string {
	if len(r.MatchedPatterns) == 0 {
		return "no_match"
	}
	return strings.Join(r.MatchedPatterns, ",")
}

// Detection is one persisted evaluation of a ticket.
type Detection struct {
	ID            int64
	TicketID      string
	Summary       string
	Description   string
	Tier          Tier
	Reason        string
	MLProbability float64
	HybridScore   float64
	IsMatch       bool
	AlertLevel    AlertLevel
	ModelVersion  int
	EvaluatedAt   time.Time
}

type Alert struct {
	ID        int64
	TicketID  string
	Summary   string
	URL       string
	Level     AlertLevel
	Score     float64
	Reason    string
	Digested  bool
	SlackTS   string
	CreatedAt time.Time
}
