package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidLabel = errors.New("invalid feedback label")

type Label string

const (
	LabelTruePositive  Label = "true_positive"
	LabelFalsePositive Label = "false_positive"
	LabelFalseNegative Label = "false_negative"
	LabelTrueNegative  Label = "true_negative"
)

// ParseLabel accepts the canonical names plus the short forms used on the
// command line (tp, fp, fn, tn).
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true_positive", "tp":
		return LabelTruePositive, nil
	case "false_positive", "fp":
		return LabelFalsePositive, nil
	case "false_negative", "fn":
		return LabelFalseNegative, nil
	case "true_negative", "tn":
		return LabelTrueNegative, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLabel, s)
}

// IsPixelRelated reports the ground truth the label asserts about the ticket.
func (l Label) IsPixelRelated() bool {
	return l == LabelTruePositive || l == LabelFalseNegative
}

type FeedbackRecord struct {
	ID              int64
	TicketID        string
	Summary         string
	Description     string
	DetectionReason string
	Label           Label
	RecordedBy      string
	RecordedAt      time.Time
}

// FeedbackMetrics are computed from raw feedback counts; true negatives do
// not enter precision or recall.
type FeedbackMetrics struct {
	TruePositives  int
	FalsePositives int
	FalseNegatives int
	TrueNegatives  int
}

func (m FeedbackMetrics) Total() int {
	return m.TruePositives + m.FalsePositives + m.FalseNegatives + m.TrueNegatives
}

func (m FeedbackMetrics) Precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

func (m FeedbackMetrics) Recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

func (m FeedbackMetrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}
