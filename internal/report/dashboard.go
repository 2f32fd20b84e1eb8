package report

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"pixelwatch/internal/domain"
	"pixelwatch/internal/storage/sqlite"
)

type DashboardTicket struct {
	TicketID    string
	Summary     string
	Category    Category
	Priority    PixelPriority
	Tier        domain.Tier
	Score       float64
	AlertLevel  domain.AlertLevel
	EvaluatedAt time.Time
}

// Dashboard is everything the periodic pixel dashboard shows for one window.
type Dashboard struct {
	From    time.Time
	To      time.Time
	Tickets []DashboardTicket
	Stats   sqlite.DetectionStats
	Metrics domain.FeedbackMetrics
	Runs    []sqlite.TrainingRun
}

// LoadDashboard gathers matched detections, detection stats, feedback
// metrics and recent training runs for [from, to).
func LoadDashboard(ctx context.Context, db *sql.DB, from, to time.Time) (Dashboard, error) {
	dets, err := sqlite.GetDetectionsByDateRange(ctx, db, from, to, true)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load detections: %w", err)
	}
	stats, err := sqlite.GetDetectionStats(ctx, db, from)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load detection stats: %w", err)
	}
	metrics, err := sqlite.GetFeedbackMetrics(ctx, db, from)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load feedback metrics: %w", err)
	}
	runs, err := sqlite.GetTrainingRuns(ctx, db, 5)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load training runs: %w", err)
	}
	return BuildDashboard(from, to, dets, stats, metrics, runs), nil
}

// BuildDashboard keeps the newest detection per ticket and sorts tickets by
// priority, then score.
func BuildDashboard(from, to time.Time, dets []domain.Detection, stats sqlite.DetectionStats, metrics domain.FeedbackMetrics, runs []sqlite.TrainingRun) Dashboard {
	latest := make(map[string]domain.Detection)
	for _, d := range dets {
		if prev, ok := latest[d.TicketID]; !ok || d.EvaluatedAt.After(prev.EvaluatedAt) {
			latest[d.TicketID] = d
		}
	}
	tickets := make([]DashboardTicket, 0, len(latest))
	for _, d := range latest {
		tickets = append(tickets, DashboardTicket{
			TicketID:    d.TicketID,
			Summary:     d.Summary,
			Category:    Categorize(d.Summary, d.Description),
			Priority:    DerivePriority(d.Summary, d.Description, ""),
			Tier:        d.Tier,
			Score:       d.HybridScore,
			AlertLevel:  d.AlertLevel,
			EvaluatedAt: d.EvaluatedAt,
		})
	}
	sort.Slice(tickets, func(i, j int) bool {
		pi, pj := priorityRank(tickets[i].Priority), priorityRank(tickets[j].Priority)
		if pi != pj {
			return pi > pj
		}
		if tickets[i].Score != tickets[j].Score {
			return tickets[i].Score > tickets[j].Score
		}
		return tickets[i].TicketID < tickets[j].TicketID
	})
	return Dashboard{From: from, To: to, Tickets: tickets, Stats: stats, Metrics: metrics, Runs: runs}
}

func priorityRank(p PixelPriority) int {
	switch p {
	case PixelPriorityHigh:
		return 2
	case PixelPriorityMedium:
		return 1
	}
	return 0
}

type CategoryCount struct {
	Category Category
	Count    int
	High     int
}

func (d Dashboard) CategoryBreakdown() []CategoryCount {
	idx := make(map[Category]int)
	var out []CategoryCount
	for _, t := range d.Tickets {
		i, ok := idx[t.Category]
		if !ok {
			i = len(out)
			idx[t.Category] = i
			out = append(out, CategoryCount{Category: t.Category})
		}
		out[i].Count++
		if t.Priority == PixelPriorityHigh {
			out[i].High++
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// RenderMarkdown formats the dashboard as GitHub-flavoured markdown.
func RenderMarkdown(d Dashboard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Pixel Ticket Dashboard\n\n")
	fmt.Fprintf(&b, "%s to %s\n\n", d.From.Format("2006-01-02"), d.To.Format("2006-01-02"))

	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "- **Tickets evaluated:** %d (%d evaluations)\n", d.Stats.Total, d.Stats.Evaluations)
	fmt.Fprintf(&b, "- **Pixel matches:** %d (%d immediate, %d digest)\n", len(d.Tickets), d.Stats.Immediate, d.Stats.Digest)
	fmt.Fprintf(&b, "- **Excluded by rules:** %d\n", d.Stats.Excluded)
	fmt.Fprintf(&b, "- **Average hybrid score:** %.2f\n\n", d.Stats.AvgScore)

	b.WriteString("## Categories\n\n")
	breakdown := d.CategoryBreakdown()
	if len(breakdown) == 0 {
		b.WriteString("No pixel tickets in this window.\n\n")
	} else {
		b.WriteString("| Category | Tickets | High priority |\n|---|---:|---:|\n")
		for _, c := range breakdown {
			fmt.Fprintf(&b, "| %s | %d | %d |\n", c.Category.Title(), c.Count, c.High)
		}
		b.WriteString("\n")
	}

	if len(d.Tickets) > 0 {
		b.WriteString("## Tickets\n\n")
		b.WriteString("| Ticket | Summary | Category | Priority | Tier | Score |\n|---|---|---|---|---|---:|\n")
		for _, t := range d.Tickets {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %.2f |\n",
				t.TicketID, tableCell(t.Summary), t.Category.Title(), t.Priority, t.Tier, t.Score)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Detection quality\n\n")
	if d.Metrics.Total() == 0 {
		b.WriteString("No feedback recorded in this window.\n\n")
	} else {
		fmt.Fprintf(&b, "- **Feedback:** %d (TP %d, FP %d, FN %d, TN %d)\n",
			d.Metrics.Total(), d.Metrics.TruePositives, d.Metrics.FalsePositives, d.Metrics.FalseNegatives, d.Metrics.TrueNegatives)
		fmt.Fprintf(&b, "- **Precision:** %.2f\n", d.Metrics.Precision())
		fmt.Fprintf(&b, "- **Recall:** %.2f\n", d.Metrics.Recall())
		fmt.Fprintf(&b, "- **F1:** %.2f\n\n", d.Metrics.F1())
	}

	if len(d.Runs) > 0 {
		b.WriteString("## Model training\n\n")
		b.WriteString("| When | Version | Samples | Accuracy | Result |\n|---|---:|---:|---:|---|\n")
		for _, r := range d.Runs {
			result := "trained"
			version := fmt.Sprintf("v%d", r.ModelVersion)
			accuracy := fmt.Sprintf("%.2f", r.TrainingAccuracy)
			if !r.Trained {
				result = "skipped: " + tableCell(r.Reason)
				version, accuracy = "-", "-"
			}
			fmt.Fprintf(&b, "| %s | %s | %d | %s | %s |\n", r.RunAt.Format("2006-01-02 15:04"), version, r.SampleCount, accuracy, result)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func tableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.Join(strings.Fields(s), " ")
}
