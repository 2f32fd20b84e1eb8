package slackbot

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"pixelwatch/internal/detect"
	"pixelwatch/internal/domain"
)

const (
	actionFeedbackTruePositive  = "feedback_true_positive"
	actionFeedbackFalsePositive = "feedback_false_positive"
)

const maxSummaryChars = 150

// AlertText is the plain-text fallback for an alert, also used in
// notifications and logs.
func AlertText(t domain.Ticket, res domain.DetectionResult) string {
	return fmt.Sprintf("Pixel ticket %s (%s, score %.2f): %s", t.ID, res.Tier, res.HybridScore, truncate(t.Summary, maxSummaryChars))
}

// AlertBlocks renders a single-ticket alert with feedback buttons whose value
// is the ticket id.
func AlertBlocks(t domain.Ticket, res domain.DetectionResult, similar []detect.SimilarTicket) []slack.Block {
	title := ":rotating_light: *Pixel-related ticket detected*"
	if res.AlertLevel == domain.AlertDigest {
		title = ":mag: *Possible pixel-related ticket*"
	}

	link := t.ID
	if t.URL != "" {
		link = fmt.Sprintf("<%s|%s>", t.URL, t.ID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n*%s*: %s\n", title, link, escape(truncate(t.Summary, maxSummaryChars)))
	if t.Priority != "" || t.Status != "" {
		fmt.Fprintf(&b, "Priority: %s | Status: %s\n", valueOr(string(t.Priority), "-"), valueOr(t.Status, "-"))
	}
	fmt.Fprintf(&b, "Tier: *%s* | Score: *%.2f*", res.Tier, res.HybridScore)
	if res.MLTrained {
		fmt.Fprintf(&b, " | Model v%d: %.0f%%", res.ModelVersion, res.MLProbability*100)
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, b.String(), false, false), nil, nil),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, "Matched: "+escape(res.Reason()), false, false),
		),
	}

	if len(similar) > 0 {
		var lines []string
		for _, s := range similar {
			lines = append(lines, fmt.Sprintf("%s (%s, %.0f%%) %s", s.TicketID, labelShort(s.Label), s.Score*100, escape(truncate(s.Summary, 60))))
		}
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, "Similar reviewed tickets:\n"+strings.Join(lines, "\n"), false, false),
		))
	}

	blocks = append(blocks, slack.NewActionBlock("",
		slack.NewButtonBlockElement(
			actionFeedbackTruePositive,
			t.ID,
			slack.NewTextBlockObject(slack.PlainTextType, "Pixel related", false, false),
		).WithStyle(slack.StylePrimary),
		slack.NewButtonBlockElement(
			actionFeedbackFalsePositive,
			t.ID,
			slack.NewTextBlockObject(slack.PlainTextType, "Not pixel related", false, false),
		).WithStyle(slack.StyleDanger),
	))
	return blocks
}

// DigestText renders pending digest alerts as one message, best score first.
func DigestText(alerts []domain.Alert) string {
	if len(alerts) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, ":clipboard: *Pixel ticket digest* (%d)\n", len(alerts))
	for _, a := range alerts {
		ref := a.TicketID
		if a.URL != "" {
			ref = fmt.Sprintf("<%s|%s>", a.URL, a.TicketID)
		}
		fmt.Fprintf(&b, "• %s %.2f %s\n", ref, a.Score, escape(truncate(a.Summary, 100)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func labelShort(label string) string {
	switch domain.Label(label) {
	case domain.LabelTruePositive:
		return "TP"
	case domain.LabelFalsePositive:
		return "FP"
	case domain.LabelFalseNegative:
		return "FN"
	case domain.LabelTrueNegative:
		return "TN"
	}
	return label
}

// escape neutralises the three characters Slack treats as markup.
func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
