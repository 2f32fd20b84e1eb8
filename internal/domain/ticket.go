package domain

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// ParsePriority maps Jira priority names onto the four known levels.
// Unknown names ("Highest", "P2", ...) are kept verbatim.
func ParsePriority(name string) Priority {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low", "lowest":
		return PriorityLow
	case "medium", "normal":
		return PriorityMedium
	case "high":
		return PriorityHigh
	case "critical", "highest", "blocker":
		return PriorityCritical
	default:
		return Priority(strings.TrimSpace(name))
	}
}

type Ticket struct {
	ID          string // Jira key, e.g. "PS-9074"
	Summary     string
	Description string
	Priority    Priority
	Status      string
	Created     time.Time
	URL         string
	Labels      []string
}

func (t Ticket) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}
