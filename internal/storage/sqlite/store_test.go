package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pixelwatch/internal/classifier"
	"pixelwatch/internal/detect"
	"pixelwatch/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "pixelwatch-test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testModel(version int, lastFeedbackID int64) *classifier.Model {
	m := &classifier.Model{
		Version:        version,
		SchemaVersion:  detect.FeatureSchemaVersion,
		Weights:        make([]float64, detect.NumFeatures),
		Means:          make([]float64, detect.NumFeatures),
		Scales:         make([]float64, detect.NumFeatures),
		Bias:           0.25,
		SampleCount:    20,
		Positives:      12,
		Negatives:      8,
		LastFeedbackID: lastFeedbackID,
		TrainedAt:      time.Now().UTC().Truncate(time.Second),
	}
	for i := range m.Scales {
		m.Scales[i] = 1
	}
	m.Weights[2] = 1.5
	return m
}

func TestInitDBAddsRecordedByColumn(t *testing.T) {
	store := newTestStore(t)

	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM pragma_table_info('feedback') WHERE name = 'recorded_by'`).Scan(&count); err != nil {
		t.Fatalf("query pragma_table_info failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected recorded_by column to exist, count=%d", count)
	}
}

func TestInitDBIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	db, err := InitDB(path)
	if err != nil {
		t.Fatalf("first InitDB: %v", err)
	}
	db.Close()
	db, err = InitDB(path)
	if err != nil {
		t.Fatalf("second InitDB: %v", err)
	}
	db.Close()
}

func TestFeedbackAppendAndQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	labels := []domain.Label{
		domain.LabelTruePositive,
		domain.LabelTruePositive,
		domain.LabelFalsePositive,
		domain.LabelFalseNegative,
		domain.LabelTruePositive,
	}
	var ids []int64
	for i, l := range labels {
		id, err := store.InsertFeedback(ctx, domain.FeedbackRecord{
			TicketID:   "PS-1",
			Summary:    "Pixel firing",
			Label:      l,
			RecordedBy: "U1",
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("InsertFeedback: %v", err)
		}
		ids = append(ids, id)
	}

	recs, err := store.ListFeedback(ctx)
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	if len(recs) != len(labels) {
		t.Fatalf("expected %d records (duplicates accumulate), got %d", len(labels), len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].ID <= recs[i-1].ID {
			t.Fatalf("records not ordered by id")
		}
	}
	if recs[0].RecordedBy != "U1" || recs[2].Label != domain.LabelFalsePositive {
		t.Fatalf("unexpected record contents: %+v", recs[2])
	}

	n, err := store.CountFeedbackAfter(ctx, ids[1])
	if err != nil || n != 3 {
		t.Fatalf("CountFeedbackAfter = %d, %v; want 3", n, err)
	}

	fps, err := ListFeedbackByLabel(ctx, store.DB(), domain.LabelFalsePositive)
	if err != nil || len(fps) != 1 {
		t.Fatalf("ListFeedbackByLabel = %d, %v", len(fps), err)
	}

	m, err := GetFeedbackMetrics(ctx, store.DB(), base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetFeedbackMetrics: %v", err)
	}
	if m.TruePositives != 3 || m.FalsePositives != 1 || m.FalseNegatives != 1 || m.TrueNegatives != 0 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestDetectionsLatestAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	if _, found, err := store.LatestDetection(ctx, "PS-9"); err != nil || found {
		t.Fatalf("expected no detection yet, found=%v err=%v", found, err)
	}

	rows := []domain.Detection{
		{TicketID: "PS-9", Tier: domain.TierMedium, Reason: "combo:tracking_action", HybridScore: 0.66, IsMatch: true, AlertLevel: domain.AlertDigest, EvaluatedAt: base},
		{TicketID: "PS-9", Tier: domain.TierHigh, Reason: "high:pixel firing", HybridScore: 0.95, IsMatch: true, AlertLevel: domain.AlertImmediate, ModelVersion: 2, EvaluatedAt: base.Add(time.Minute)},
		{TicketID: "PS-10", Tier: domain.TierNone, Reason: "excluded:acr", AlertLevel: domain.AlertNone, EvaluatedAt: base.Add(2 * time.Minute)},
	}
	for _, d := range rows {
		if _, err := store.InsertDetection(ctx, d); err != nil {
			t.Fatalf("InsertDetection: %v", err)
		}
	}

	d, found, err := store.LatestDetection(ctx, "PS-9")
	if err != nil || !found {
		t.Fatalf("LatestDetection: found=%v err=%v", found, err)
	}
	if d.Tier != domain.TierHigh || d.AlertLevel != domain.AlertImmediate || !d.IsMatch || d.ModelVersion != 2 {
		t.Fatalf("expected latest detection, got %+v", d)
	}

	stats, err := GetDetectionStats(ctx, store.DB(), base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetDetectionStats: %v", err)
	}
	// PS-9 counts once, by its latest evaluation.
	if stats.Total != 2 || stats.Matches != 1 || stats.Excluded != 1 || stats.Immediate != 1 || stats.Digest != 0 || stats.TierHigh != 1 || stats.TierMedium != 0 || stats.Evaluations != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	matches, err := GetDetectionsByDateRange(ctx, store.DB(), base.Add(-time.Hour), base.Add(time.Hour), true)
	if err != nil {
		t.Fatalf("GetDetectionsByDateRange: %v", err)
	}
	if len(matches) != 2 || matches[0].HybridScore != 0.95 {
		t.Fatalf("unexpected matches: %+v", matches)
	}
}

func TestAlertsDedupeAndDigest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, inserted, err := store.InsertAlert(ctx, domain.Alert{TicketID: "PS-1", Level: domain.AlertDigest, Score: 0.6})
	if err != nil || !inserted {
		t.Fatalf("InsertAlert: inserted=%v err=%v", inserted, err)
	}
	if _, inserted, err := store.InsertAlert(ctx, domain.Alert{TicketID: "PS-1", Level: domain.AlertImmediate}); err != nil || inserted {
		t.Fatalf("expected duplicate alert to be ignored, inserted=%v err=%v", inserted, err)
	}
	if _, _, err := store.InsertAlert(ctx, domain.Alert{TicketID: "PS-2", Level: domain.AlertDigest, Score: 0.7}); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	if _, _, err := store.InsertAlert(ctx, domain.Alert{TicketID: "PS-3", Level: domain.AlertImmediate, Score: 0.9}); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	exists, err := store.AlertExists(ctx, "PS-1")
	if err != nil || !exists {
		t.Fatalf("AlertExists = %v, %v", exists, err)
	}
	if err := store.UpdateAlertSlackTS(ctx, id, "123.456"); err != nil {
		t.Fatalf("UpdateAlertSlackTS: %v", err)
	}

	pending, err := store.PendingDigestAlerts(ctx)
	if err != nil {
		t.Fatalf("PendingDigestAlerts: %v", err)
	}
	if len(pending) != 2 || pending[0].TicketID != "PS-2" {
		t.Fatalf("expected two digest alerts ordered by score, got %+v", pending)
	}

	if err := store.MarkAlertsDigested(ctx, []int64{pending[0].ID, pending[1].ID}); err != nil {
		t.Fatalf("MarkAlertsDigested: %v", err)
	}
	pending, err = store.PendingDigestAlerts(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending alerts, got %d (%v)", len(pending), err)
	}
}

func TestUpdateAlertLevelQueuesForDigest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _, err := store.InsertAlert(ctx, domain.Alert{TicketID: "PS-7", Level: domain.AlertImmediate, Score: 0.95})
	if err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	pending, err := store.PendingDigestAlerts(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("immediate alerts are not digest material, got %+v (%v)", pending, err)
	}

	if err := store.UpdateAlertLevel(ctx, id, domain.AlertDigest); err != nil {
		t.Fatalf("UpdateAlertLevel: %v", err)
	}
	pending, err = store.PendingDigestAlerts(ctx)
	if err != nil {
		t.Fatalf("PendingDigestAlerts: %v", err)
	}
	if len(pending) != 1 || pending[0].TicketID != "PS-7" || pending[0].Level != domain.AlertDigest {
		t.Fatalf("expected PS-7 pending at digest level, got %+v", pending)
	}
}

func TestModelPersistence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m, err := store.LoadLatestModel(ctx)
	if err != nil || m != nil {
		t.Fatalf("expected no model, got %v, %v", m, err)
	}

	if err := store.SaveModel(ctx, testModel(1, 20)); err != nil {
		t.Fatalf("SaveModel v1: %v", err)
	}
	if err := store.SaveModel(ctx, testModel(2, 30)); err != nil {
		t.Fatalf("SaveModel v2: %v", err)
	}
	if err := store.SaveModel(ctx, testModel(2, 31)); err == nil {
		t.Fatalf("expected duplicate version to fail")
	}

	m, err = store.LoadLatestModel(ctx)
	if err != nil {
		t.Fatalf("LoadLatestModel: %v", err)
	}
	if m == nil || m.Version != 2 || m.LastFeedbackID != 30 || !m.Trained() {
		t.Fatalf("unexpected latest model: %+v", m)
	}
	if v, err := store.MaxModelVersion(ctx); err != nil || v != 2 {
		t.Fatalf("MaxModelVersion = %d, %v", v, err)
	}

	if err := store.RecordSkippedRetrain(ctx, "single label class", 5, time.Now().UTC()); err != nil {
		t.Fatalf("RecordSkippedRetrain: %v", err)
	}
	runs, err := GetTrainingRuns(ctx, store.DB(), 10)
	if err != nil {
		t.Fatalf("GetTrainingRuns: %v", err)
	}
	if len(runs) != 3 || runs[0].Trained || runs[0].Reason != "single label class" || !runs[1].Trained {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}
