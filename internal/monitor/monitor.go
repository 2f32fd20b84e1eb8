package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"pixelwatch/internal/detect"
	"pixelwatch/internal/domain"
	"pixelwatch/internal/engine"
)

type TicketSource interface {
	SearchRecent(ctx context.Context, since time.Time) ([]domain.Ticket, error)
	AddLabel(ctx context.Context, key, label string) error
}

type Detector interface {
	Evaluate(ctx context.Context, t domain.Ticket) (domain.DetectionResult, error)
	SimilarTickets(t domain.Ticket, k int) []detect.SimilarTicket
	RetrainIfDue(ctx context.Context) (engine.RetrainResult, bool, error)
}

type AlertStore interface {
	AlertExists(ctx context.Context, ticketID string) (bool, error)
	InsertAlert(ctx context.Context, a domain.Alert) (int64, bool, error)
	UpdateAlertSlackTS(ctx context.Context, id int64, ts string) error
	UpdateAlertLevel(ctx context.Context, id int64, level domain.AlertLevel) error
	PendingDigestAlerts(ctx context.Context) ([]domain.Alert, error)
	MarkAlertsDigested(ctx context.Context, ids []int64) error
}

type Notifier interface {
	PostAlert(ctx context.Context, t domain.Ticket, res domain.DetectionResult, similar []detect.SimilarTicket) (string, error)
	PostDigest(ctx context.Context, alerts []domain.Alert) error
	PostText(ctx context.Context, text string) error
}

type Options struct {
	Lookback time.Duration
	// Jira label added to alerted tickets; empty disables labelling.
	AlertLabel string
	// Similar labelled tickets attached to immediate alerts.
	SimilarK int
}

// CycleResult counts what one poll did with the tickets it fetched.
type CycleResult struct {
	Fetched        int
	Matched        int
	AlreadyAlerted int
	Immediate      int
	Digest         int
	Labelled       int
	Errors         []string
	Retrain        *engine.RetrainResult
}

type Monitor struct {
	source   TicketSource
	detector Detector
	alerts   AlertStore
	// nil when Slack is not configured; alerts are then only recorded.
	notifier Notifier
	opts     Options
	now      func() time.Time
}

func New(source TicketSource, detector Detector, alerts AlertStore, notifier Notifier, opts Options) *Monitor {
	if opts.Lookback <= 0 {
		opts.Lookback = 6 * time.Hour
	}
	if opts.SimilarK <= 0 {
		opts.SimilarK = 3
	}
	return &Monitor{
		source:   source,
		detector: detector,
		alerts:   alerts,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
	}
}

// RunCycle fetches tickets created within the lookback window, evaluates
// each one not already alerted, records and routes matches, then gives the
// engine a chance to retrain. Per-ticket failures are collected in
// CycleResult.Errors; only a failed search aborts the cycle.
func (m *Monitor) RunCycle(ctx context.Context) (CycleResult, error) {
	var result CycleResult
	since := m.now().Add(-m.opts.Lookback)

	tickets, err := m.source.SearchRecent(ctx, since)
	if err != nil {
		return result, fmt.Errorf("search tickets: %w", err)
	}
	result.Fetched = len(tickets)
	log.Printf("monitor fetched=%d since=%s", len(tickets), since.Format(time.RFC3339))

	for _, t := range tickets {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		m.processTicket(ctx, t, &result)
	}

	rr, ran, err := m.detector.RetrainIfDue(ctx)
	if err != nil {
		log.Printf("monitor retrain error: %v", err)
		result.Errors = append(result.Errors, fmt.Sprintf("retrain: %v", err))
	} else if ran {
		result.Retrain = &rr
	}
	return result, nil
}

func (m *Monitor) processTicket(ctx context.Context, t domain.Ticket, result *CycleResult) {
	exists, err := m.alerts.AlertExists(ctx, t.ID)
	if err != nil {
		log.Printf("monitor alert-exists ticket=%s err=%v", t.ID, err)
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", t.ID, err))
		return
	}
	if exists {
		result.AlreadyAlerted++
		return
	}

	res, err := m.detector.Evaluate(ctx, t)
	if err != nil {
		// The result is still valid when only the detection row failed to save.
		log.Printf("monitor evaluate ticket=%s err=%v", t.ID, err)
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", t.ID, err))
		if !errors.Is(err, engine.ErrPersistence) {
			return
		}
	}
	if !res.IsMatch {
		return
	}
	result.Matched++

	alert := domain.Alert{
		TicketID:  t.ID,
		Summary:   t.Summary,
		URL:       t.URL,
		Level:     res.AlertLevel,
		Score:     res.HybridScore,
		Reason:    res.Reason(),
		CreatedAt: m.now().UTC(),
	}
	id, inserted, err := m.alerts.InsertAlert(ctx, alert)
	if err != nil {
		log.Printf("monitor insert-alert ticket=%s err=%v", t.ID, err)
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", t.ID, err))
		return
	}
	if !inserted {
		result.AlreadyAlerted++
		return
	}
	log.Printf("monitor alert ticket=%s level=%s score=%.2f reason=%s", t.ID, res.AlertLevel, res.HybridScore, alert.Reason)

	switch res.AlertLevel {
	case domain.AlertImmediate:
		if m.postImmediate(ctx, t, res, id, result) {
			result.Immediate++
			break
		}
		// An immediate alert that never reached Slack goes out with the next digest.
		if err := m.alerts.UpdateAlertLevel(ctx, id, domain.AlertDigest); err != nil {
			log.Printf("monitor downgrade ticket=%s err=%v", t.ID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: downgrade: %v", t.ID, err))
			break
		}
		log.Printf("monitor alert ticket=%s level=%s->%s", t.ID, domain.AlertImmediate, domain.AlertDigest)
		result.Digest++
	default:
		result.Digest++
	}

	if m.opts.AlertLabel != "" && !t.HasLabel(m.opts.AlertLabel) {
		if err := m.source.AddLabel(ctx, t.ID, m.opts.AlertLabel); err != nil {
			log.Printf("monitor label ticket=%s err=%v", t.ID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: label: %v", t.ID, err))
		} else {
			result.Labelled++
		}
	}
}

// postImmediate posts an immediate alert and stores its Slack timestamp. It
// reports whether the alert reached Slack.
func (m *Monitor) postImmediate(ctx context.Context, t domain.Ticket, res domain.DetectionResult, id int64, result *CycleResult) bool {
	if m.notifier == nil {
		return false
	}
	ts, err := m.notifier.PostAlert(ctx, t, res, m.detector.SimilarTickets(t, m.opts.SimilarK))
	if err != nil {
		log.Printf("monitor post-alert ticket=%s err=%v", t.ID, err)
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", t.ID, err))
		return false
	}
	if err := m.alerts.UpdateAlertSlackTS(ctx, id, ts); err != nil {
		log.Printf("monitor slack-ts ticket=%s err=%v", t.ID, err)
	}
	return true
}

// RunDigest posts pending digest alerts and marks them digested. It returns
// how many alerts went out.
func (m *Monitor) RunDigest(ctx context.Context) (int, error) {
	if m.notifier == nil {
		return 0, fmt.Errorf("digest needs a Slack notifier")
	}
	pending, err := m.alerts.PendingDigestAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending digest alerts: %w", err)
	}
	if len(pending) == 0 {
		log.Printf("monitor digest pending=0")
		return 0, nil
	}
	if err := m.notifier.PostDigest(ctx, pending); err != nil {
		return 0, err
	}
	ids := make([]int64, len(pending))
	for i, a := range pending {
		ids[i] = a.ID
	}
	if err := m.alerts.MarkAlertsDigested(ctx, ids); err != nil {
		return len(pending), fmt.Errorf("mark digested: %w", err)
	}
	log.Printf("monitor digest sent=%d", len(pending))
	return len(pending), nil
}

// FormatCycleSummary returns a one-line, human-readable summary of a cycle.
func FormatCycleSummary(r CycleResult) string {
	if r.Fetched == 0 && len(r.Errors) == 0 {
		return "No new tickets in the lookback window."
	}
	var parts []string
	parts = append(parts, fmt.Sprintf("%d matched", r.Matched))
	if r.Immediate > 0 {
		parts = append(parts, fmt.Sprintf("%d immediate", r.Immediate))
	}
	if r.Digest > 0 {
		parts = append(parts, fmt.Sprintf("%d for digest", r.Digest))
	}
	if r.AlreadyAlerted > 0 {
		parts = append(parts, fmt.Sprintf("%d already alerted", r.AlreadyAlerted))
	}
	if r.Labelled > 0 {
		parts = append(parts, fmt.Sprintf("%d labelled", r.Labelled))
	}
	msg := fmt.Sprintf("Checked %d tickets: %s.", r.Fetched, strings.Join(parts, ", "))
	if r.Retrain != nil {
		if r.Retrain.Trained {
			msg += fmt.Sprintf(" Retrained model v%d on %d samples.", r.Retrain.ModelVersion, r.Retrain.SampleCount)
		} else {
			msg += fmt.Sprintf(" Retrain skipped: %s.", r.Retrain.Reason)
		}
	}
	if len(r.Errors) > 0 {
		msg += fmt.Sprintf("\nWarnings:\n%s", strings.Join(r.Errors, "\n"))
	}
	return msg
}
