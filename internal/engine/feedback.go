package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"pixelwatch/internal/detect"
	"pixelwatch/internal/domain"
)

// Feedback is a human verdict on one ticket. Summary, Description and
// DetectionReason default to the ticket's latest detection when empty.
type Feedback struct {
	TicketID        string
	Summary         string
	Description     string
	DetectionReason string
	Label           domain.Label
	RecordedBy      string
}

// SubmitFeedback appends a feedback record. It never trains; repeated
// feedback for a ticket accumulates as separate samples.
func (e *Engine) SubmitFeedback(ctx context.Context, fb Feedback) (domain.FeedbackRecord, error) {
	fb.TicketID = strings.TrimSpace(fb.TicketID)
	if fb.TicketID == "" {
		return domain.FeedbackRecord{}, fmt.Errorf("feedback: empty ticket id")
	}
	label, err := domain.ParseLabel(string(fb.Label))
	if err != nil {
		return domain.FeedbackRecord{}, err
	}

	det, found, err := e.store.LatestDetection(ctx, fb.TicketID)
	if err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("%w: lookup detection %s: %w", ErrPersistence, fb.TicketID, err)
	}
	if !found {
		return domain.FeedbackRecord{}, fmt.Errorf("%w: %s", ErrUnknownTicket, fb.TicketID)
	}

	rec := domain.FeedbackRecord{
		TicketID:        fb.TicketID,
		Summary:         firstNonEmpty(fb.Summary, det.Summary),
		Description:     firstNonEmpty(fb.Description, det.Description),
		DetectionReason: firstNonEmpty(fb.DetectionReason, det.Reason),
		Label:           label,
		RecordedBy:      fb.RecordedBy,
		RecordedAt:      e.now(),
	}
	id, err := e.store.InsertFeedback(ctx, rec)
	if err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("%w: insert feedback %s: %w", ErrPersistence, fb.TicketID, err)
	}
	rec.ID = id
	log.Printf("engine feedback ticket=%s label=%s by=%s id=%d", rec.TicketID, rec.Label, rec.RecordedBy, rec.ID)
	return rec, nil
}

// AnalyzePatterns summarises words common to misclassified tickets.
func (e *Engine) AnalyzePatterns(ctx context.Context) (detect.PatternAnalysis, error) {
	recs, err := e.store.ListFeedback(ctx)
	if err != nil {
		return detect.PatternAnalysis{}, fmt.Errorf("%w: list feedback: %w", ErrPersistence, err)
	}
	return detect.AnalyzeFeedback(recs), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
