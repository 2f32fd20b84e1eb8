package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"pixelwatch/internal/classifier"
)

// RetrainResult describes one retrain attempt. Trained is false when the
// data did not support a fit; Reason says why.
type RetrainResult struct {
	Trained          bool
	Reason           string
	SampleCount      int
	Positives        int
	Negatives        int
	ModelVersion     int
	TrainingAccuracy float64
}

// Retrain fits a new model on all feedback and swaps it in. Degenerate data
// is not an error: the result reports Trained=false and the active model is
// untouched.
func (e *Engine) Retrain(ctx context.Context) (RetrainResult, error) {
	e.retrainMu.Lock()
	defer e.retrainMu.Unlock()
	return e.retrainLocked(ctx)
}

// RetrainIfDue retrains when at least RetrainEvery feedback records arrived
// since the active model (or the last unsuccessful attempt) was fitted.
func (e *Engine) RetrainIfDue(ctx context.Context) (RetrainResult, bool, error) {
	e.retrainMu.Lock()
	defer e.retrainMu.Unlock()

	since := e.lastAttemptID
	if m := e.model.Load(); m != nil && m.LastFeedbackID > since {
		since = m.LastFeedbackID
	}
	pending, err := e.store.CountFeedbackAfter(ctx, since)
	if err != nil {
		return RetrainResult{}, false, fmt.Errorf("%w: count feedback: %w", ErrPersistence, err)
	}
	if pending < e.retrainEvery {
		return RetrainResult{}, false, nil
	}
	res, err := e.retrainLocked(ctx)
	return res, true, err
}

func (e *Engine) retrainLocked(ctx context.Context) (RetrainResult, error) {
	recs, err := e.store.ListFeedback(ctx)
	if err != nil {
		return RetrainResult{}, fmt.Errorf("%w: list feedback: %w", ErrPersistence, err)
	}

	samples := make([]classifier.Sample, 0, len(recs))
	for _, rec := range recs {
		samples = append(samples, classifier.SampleFromFeedback(rec))
		if rec.ID > e.lastAttemptID {
			e.lastAttemptID = rec.ID
		}
	}
	e.refreshSimilarFrom(recs)

	m, err := classifier.Train(samples, e.training)
	if err != nil {
		if !errors.Is(err, classifier.ErrInsufficientSamples) &&
			!errors.Is(err, classifier.ErrSingleClass) &&
			!errors.Is(err, classifier.ErrNonFinite) {
			return RetrainResult{}, fmt.Errorf("train: %w", err)
		}
		res := RetrainResult{Trained: false, Reason: err.Error(), SampleCount: len(samples)}
		log.Printf("engine retrain-skipped samples=%d reason=%q", len(samples), res.Reason)
		if rerr := e.store.RecordSkippedRetrain(ctx, res.Reason, len(samples), e.now()); rerr != nil {
			log.Printf("engine retrain-skipped record err=%v", rerr)
		}
		return res, nil
	}

	version, err := e.store.MaxModelVersion(ctx)
	if err != nil {
		return RetrainResult{}, fmt.Errorf("%w: model version: %w", ErrPersistence, err)
	}
	m.Version = version + 1
	m.TrainedAt = e.now()
	if err := e.store.SaveModel(ctx, m); err != nil {
		return RetrainResult{}, fmt.Errorf("%w: save model v%d: %w", ErrPersistence, m.Version, err)
	}
	e.model.Store(m)

	log.Printf("engine retrained version=%d samples=%d pos=%d neg=%d accuracy=%.3f",
		m.Version, m.SampleCount, m.Positives, m.Negatives, m.TrainingAccuracy)
	return RetrainResult{
		Trained:          true,
		SampleCount:      m.SampleCount,
		Positives:        m.Positives,
		Negatives:        m.Negatives,
		ModelVersion:     m.Version,
		TrainingAccuracy: m.TrainingAccuracy,
	}, nil
}

// Status is a snapshot of the engine for the stats command and logs.
type Status struct {
	ModelTrained     bool
	ModelVersion     int
	SampleCount      int
	LastFeedbackID   int64
	TrainingAccuracy float64
	TrainedAt        time.Time
	FeedbackCount    int
	PendingFeedback  int
	RetrainEvery     int
	MinSamples       int
	RuleWeight       float64
	MLWeight         float64
	AlertThreshold   float64
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	m := e.model.Load()
	st := Status{
		RetrainEvery:   e.retrainEvery,
		MinSamples:     e.training.MinSamples,
		RuleWeight:     1,
		MLWeight:       0,
		AlertThreshold: e.scorer.AlertThreshold,
	}
	var since int64
	if m.Trained() {
		st.ModelTrained = true
		st.ModelVersion = m.Version
		st.SampleCount = m.SampleCount
		st.LastFeedbackID = m.LastFeedbackID
		st.TrainingAccuracy = m.TrainingAccuracy
		st.TrainedAt = m.TrainedAt
		st.RuleWeight = e.scorer.RuleWeight
		st.MLWeight = e.scorer.MLWeight
		since = m.LastFeedbackID
	}

	total, err := e.store.CountFeedback(ctx)
	if err != nil {
		return st, fmt.Errorf("%w: count feedback: %w", ErrPersistence, err)
	}
	st.FeedbackCount = total
	pending, err := e.store.CountFeedbackAfter(ctx, since)
	if err != nil {
		return st, fmt.Errorf("%w: count feedback: %w", ErrPersistence, err)
	}
	st.PendingFeedback = pending
	return st, nil
}
