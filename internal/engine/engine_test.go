package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"pixelwatch/internal/classifier"
	"pixelwatch/internal/domain"
	"pixelwatch/internal/storage/sqlite"
)

var pixelTickets = [][2]string{
	{"Conversion pixel not firing", "advertiser reports the conversion pixel stopped firing on the confirmation page"},
	{"Pixel validation request", "please validate the tracking pixel"},
	{"Tracking pixel missing on checkout", "the pixel does not fire after purchase, can you check the tag"},
	{"Universal tag pixel troubleshooting", "client says pixels are not firing"},
	{"Need help with pixel implementation", "advertiser wants to implement a conversion pixel on their website and validate it fires"},
}

var genericTickets = [][2]string{
	{"Implement reporting setup for campaign", "add the new dashboard to the campaign workspace"},
	{"Website integration for billing portal", ""},
	{"JS code snippet for creative preview", "creative team needs a javascript snippet for the preview page"},
	{"Configure tracking of campaign budget", "set up budget tracking in the planner"},
	{"Install tag manager container for reporting", "deploy the container for the weekly report page"},
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "engine-test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestEngine(t *testing.T, store Store) *Engine {
	t.Helper()
	e, err := New(store, DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// seed evaluates n tickets from templates and labels each one.
func seed(t *testing.T, e *Engine, prefix string, templates [][2]string, n int, label domain.Label) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		tk := templates[i%len(templates)]
		ticket := domain.Ticket{
			ID:          fmt.Sprintf("%s-%d", prefix, i),
			Summary:     fmt.Sprintf("%s %d", tk[0], i),
			Description: tk[1],
		}
		if _, err := e.Evaluate(ctx, ticket); err != nil {
			t.Fatalf("Evaluate %s: %v", ticket.ID, err)
		}
		if _, err := e.SubmitFeedback(ctx, Feedback{TicketID: ticket.ID, Label: label, RecordedBy: "tester"}); err != nil {
			t.Fatalf("SubmitFeedback %s: %v", ticket.ID, err)
		}
	}
}

// trainBaseline seeds 15 positives and 10 negatives and trains model v1.
func trainBaseline(t *testing.T, e *Engine) {
	t.Helper()
	seed(t, e, "TP", pixelTickets, 15, domain.LabelTruePositive)
	seed(t, e, "FP", genericTickets, 10, domain.LabelFalsePositive)
	res, err := e.Retrain(context.Background())
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	if !res.Trained {
		t.Fatalf("expected baseline model to train, reason: %s", res.Reason)
	}
}

func hasPattern(res domain.DetectionResult, want string) bool {
	for _, p := range res.MatchedPatterns {
		if p == want {
			return true
		}
	}
	return false
}

func TestClassifyUntrainedUsesRulesOnly(t *testing.T) {
	e := newTestEngine(t, newTestStore(t))

	res := e.Classify(domain.Ticket{ID: "PS-1", Summary: "Ministry of Supply Pixel Validation Request"})
	if !res.IsMatch || res.Tier != domain.TierHigh || res.MLTrained {
		t.Fatalf("expected rules-only high match, got %+v", res)
	}
	if res.MLProbability != 0.5 || res.HybridScore != 1.0 || res.AlertLevel != domain.AlertImmediate {
		t.Fatalf("unexpected scores: %+v", res)
	}
	if !hasPattern(res, "high:pixel validation") {
		t.Fatalf("expected high:pixel validation in %v", res.MatchedPatterns)
	}

	res = e.Classify(domain.Ticket{ID: "PS-2", Summary: "Grant UDW access for user"})
	if !res.Excluded || res.IsMatch {
		t.Fatalf("expected exclusion, got %+v", res)
	}
}

func TestFeedbackLoopTrainsModel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := newTestEngine(t, store)

	seed(t, e, "TP", pixelTickets, 15, domain.LabelTruePositive)
	seed(t, e, "FP", genericTickets, 10, domain.LabelFalsePositive)

	res, err := e.Retrain(ctx)
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	if !res.Trained {
		t.Fatalf("expected model to train, reason: %s", res.Reason)
	}
	if res.SampleCount != 25 || res.Positives != 15 || res.Negatives != 10 || res.ModelVersion != 1 {
		t.Fatalf("unexpected retrain result: %+v", res)
	}

	ticket := domain.Ticket{
		ID:          "PS-NEW",
		Summary:     "Pixel not firing on landing page",
		Description: "customer says the tracking pixel does not fire",
	}
	got := e.Classify(ticket)
	if !got.MLTrained || got.MLProbability <= 0.5 || got.ModelVersion != 1 {
		t.Fatalf("expected trained model to favour the pixel ticket, got %+v", got)
	}

	// A fresh engine on the same database picks the model up.
	reloaded := newTestEngine(t, store)
	if err := reloaded.LoadModel(ctx); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if m := reloaded.ActiveModel(); m == nil || m.Version != 1 {
		t.Fatalf("expected model v1 after reload, got %+v", m)
	}
	again := reloaded.Classify(ticket)
	if diff := got.MLProbability - again.MLProbability; diff > 1e-12 || diff < -1e-12 {
		t.Fatalf("reloaded model disagrees: %v vs %v", got.MLProbability, again.MLProbability)
	}

	similar := reloaded.SimilarTickets(domain.Ticket{ID: "PS-NEW", Summary: "conversion pixel not firing"}, 3)
	if len(similar) == 0 || similar[0].Label != string(domain.LabelTruePositive) {
		t.Fatalf("expected a true positive as the nearest ticket, got %+v", similar)
	}
}

func TestRetrainDegenerateData(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestStore(t))

	res, err := e.Retrain(ctx)
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	if res.Trained || res.Reason == "" {
		t.Fatalf("expected skipped retrain with a reason, got %+v", res)
	}

	seed(t, e, "TP", pixelTickets, 22, domain.LabelTruePositive)
	res, err = e.Retrain(ctx)
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	if res.Trained || !strings.Contains(res.Reason, "single label class") || res.SampleCount != 22 {
		t.Fatalf("expected single-class skip, got %+v", res)
	}
	if e.ActiveModel() != nil {
		t.Fatalf("expected no active model")
	}
}

func TestRetrainDegenerateKeepsActiveModel(t *testing.T) {
	ctx := context.Background()

	t.Run("below minimum", func(t *testing.T) {
		store := newTestStore(t)
		trainBaseline(t, newTestEngine(t, store))

		opts := DefaultOptions()
		opts.Training.MinSamples = 1000
		e, err := New(store, opts)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := e.LoadModel(ctx); err != nil {
			t.Fatalf("LoadModel: %v", err)
		}
		before := e.ActiveModel()
		if before == nil {
			t.Fatalf("expected persisted model to load")
		}

		res, err := e.Retrain(ctx)
		if err != nil {
			t.Fatalf("Retrain: %v", err)
		}
		if res.Trained {
			t.Fatalf("expected retrain below the minimum to be skipped, got %+v", res)
		}
		if e.ActiveModel() != before {
			t.Fatalf("active model changed after a skipped retrain")
		}
	})

	t.Run("single class", func(t *testing.T) {
		store := &failingStore{Store: newTestStore(t)}
		e := newTestEngine(t, store)
		trainBaseline(t, e)
		before := e.ActiveModel()
		seed(t, e, "TP2", pixelTickets, 10, domain.LabelTruePositive)

		store.positivesOnly = true
		res, err := e.Retrain(ctx)
		if err != nil {
			t.Fatalf("Retrain: %v", err)
		}
		if res.Trained || !strings.Contains(res.Reason, "single label class") {
			t.Fatalf("expected single-class skip, got %+v", res)
		}
		if e.ActiveModel() != before {
			t.Fatalf("active model changed after a skipped retrain")
		}
		if got := e.Classify(domain.Ticket{ID: "PS-1", Summary: "tracking pixel"}); got.ModelVersion != before.Version {
			t.Fatalf("expected classification on v%d, got v%d", before.Version, got.ModelVersion)
		}
	})
}

func TestClassifyIsDeterministicForOneModel(t *testing.T) {
	e := newTestEngine(t, newTestStore(t))
	trainBaseline(t, e)

	tickets := []domain.Ticket{
		{ID: "PS-1", Summary: "Conversion pixel not firing", Description: "confirmation page shows nothing"},
		{ID: "PS-2", Summary: "Implement tracking code for website", Description: "need to add JS snippet"},
		{ID: "PS-3", Summary: "ACR delivery report", Description: ""},
		{ID: "PS-4", Summary: "Weekly sync", Description: ""},
	}
	for _, tk := range tickets {
		a := e.Classify(tk)
		b := e.Classify(tk)
		if !a.MLTrained {
			t.Fatalf("%s: expected the trained model to be used", tk.ID)
		}
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("%s: classify is not deterministic:\n%+v\n%+v", tk.ID, a, b)
		}
	}
}

func TestRetrainIfDueCadence(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestStore(t))

	seed(t, e, "TP", pixelTickets, 9, domain.LabelTruePositive)
	if _, ran, err := e.RetrainIfDue(ctx); err != nil || ran {
		t.Fatalf("expected no retrain at 9 feedback, ran=%v err=%v", ran, err)
	}

	seed(t, e, "TPX", pixelTickets, 1, domain.LabelTruePositive)
	res, ran, err := e.RetrainIfDue(ctx)
	if err != nil || !ran {
		t.Fatalf("expected retrain attempt at 10 feedback, ran=%v err=%v", ran, err)
	}
	if res.Trained {
		t.Fatalf("10 samples is below the minimum, got %+v", res)
	}

	// The failed attempt resets the cadence.
	seed(t, e, "FP", genericTickets, 5, domain.LabelFalsePositive)
	if _, ran, err := e.RetrainIfDue(ctx); err != nil || ran {
		t.Fatalf("expected cadence reset, ran=%v err=%v", ran, err)
	}

	seed(t, e, "FPX", genericTickets, 5, domain.LabelFalsePositive)
	res, ran, err = e.RetrainIfDue(ctx)
	if err != nil || !ran {
		t.Fatalf("expected retrain at 20 feedback, ran=%v err=%v", ran, err)
	}
	if !res.Trained || res.SampleCount != 20 {
		t.Fatalf("expected model on 20 samples, got %+v", res)
	}

	st, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.ModelTrained || st.FeedbackCount != 20 || st.PendingFeedback != 0 || st.RuleWeight != 0.6 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestSubmitFeedbackValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestStore(t))

	if _, err := e.SubmitFeedback(ctx, Feedback{TicketID: "PS-404", Label: domain.LabelTruePositive}); !errors.Is(err, ErrUnknownTicket) {
		t.Fatalf("expected ErrUnknownTicket, got %v", err)
	}

	if _, err := e.Evaluate(ctx, domain.Ticket{ID: "PS-1", Summary: "Pixel firing issue", Description: "details"}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if _, err := e.SubmitFeedback(ctx, Feedback{TicketID: "PS-1", Label: "maybe"}); !errors.Is(err, domain.ErrInvalidLabel) {
		t.Fatalf("expected ErrInvalidLabel, got %v", err)
	}

	rec, err := e.SubmitFeedback(ctx, Feedback{TicketID: "PS-1", Label: domain.LabelTruePositive})
	if err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if rec.Summary != "Pixel firing issue" || rec.Description != "details" || rec.DetectionReason != "high:pixel firing" {
		t.Fatalf("feedback should copy the detection, got %+v", rec)
	}

	if _, err := e.SubmitFeedback(ctx, Feedback{TicketID: "PS-1", Label: domain.LabelFalsePositive}); err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	st, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.FeedbackCount != 2 {
		t.Fatalf("feedback for the same ticket accumulates, got %d", st.FeedbackCount)
	}
}

type failingStore struct {
	*sqlite.Store
	failSave      bool
	failDetection bool
	positivesOnly bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) SaveModel(ctx context.Context, m *classifier.Model) error {
	if s.failSave {
		return errDiskFull
	}
	return s.Store.SaveModel(ctx, m)
}

func (s *failingStore) InsertDetection(ctx context.Context, d domain.Detection) (int64, error) {
	if s.failDetection {
		return 0, errDiskFull
	}
	return s.Store.InsertDetection(ctx, d)
}

func (s *failingStore) ListFeedback(ctx context.Context) ([]domain.FeedbackRecord, error) {
	recs, err := s.Store.ListFeedback(ctx)
	if err != nil || !s.positivesOnly {
		return recs, err
	}
	var out []domain.FeedbackRecord
	for _, r := range recs {
		if r.Label == domain.LabelTruePositive {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestPersistenceFailureKeepsActiveModel(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: newTestStore(t)}
	e := newTestEngine(t, store)
	trainBaseline(t, e)
	before := e.ActiveModel()

	seed(t, e, "TP2", pixelTickets, 5, domain.LabelTruePositive)
	store.failSave = true
	_, err := e.Retrain(ctx)
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, errDiskFull) {
		t.Fatalf("expected wrapped persistence error, got %v", err)
	}
	if e.ActiveModel() != before {
		t.Fatalf("active model changed after a failed save")
	}

	store.failDetection = true
	got, err := e.Evaluate(ctx, domain.Ticket{ID: "PS-9", Summary: "tracking pixel"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if !got.IsMatch || got.ModelVersion != before.Version {
		t.Fatalf("classification still succeeds on v%d, got %+v", before.Version, got)
	}
}

func TestClassifyDuringRetrainSeesWholeModels(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newTestStore(t))
	seed(t, e, "TP", pixelTickets, 15, domain.LabelTruePositive)
	seed(t, e, "FP", genericTickets, 10, domain.LabelFalsePositive)

	ticket := domain.Ticket{ID: "PS-X", Summary: "Conversion pixel not firing", Description: "confirmation page"}
	var wg sync.WaitGroup
	results := make(chan domain.DetectionResult, 400)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				results <- e.Classify(ticket)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		if _, err := e.Retrain(ctx); err != nil {
			t.Fatalf("Retrain: %v", err)
		}
	}
	wg.Wait()
	close(results)

	for res := range results {
		if res.MLTrained {
			if res.ModelVersion < 1 || res.ModelVersion > 3 {
				t.Fatalf("unexpected model version %d", res.ModelVersion)
			}
		} else if res.ModelVersion != 0 || res.MLProbability != 0.5 {
			t.Fatalf("untrained result mixes in model state: %+v", res)
		}
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Scorer.RuleWeight = 0.9
	if _, err := New(newTestStore(t), opts); err == nil {
		t.Fatalf("expected error for weights not summing to 1")
	}
	if _, err := New(nil, DefaultOptions()); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
