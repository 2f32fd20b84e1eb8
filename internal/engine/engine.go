package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"pixelwatch/internal/classifier"
	"pixelwatch/internal/detect"
	"pixelwatch/internal/domain"
)

var (
	ErrPersistence   = errors.New("persistence failure")
	ErrUnknownTicket = errors.New("ticket has no recorded detection")
)

// Store is the persistence the engine needs. internal/storage/sqlite.Store
// satisfies it.
type Store interface {
	InsertDetection(ctx context.Context, d domain.Detection) (int64, error)
	LatestDetection(ctx context.Context, ticketID string) (domain.Detection, bool, error)
	InsertFeedback(ctx context.Context, rec domain.FeedbackRecord) (int64, error)
	ListFeedback(ctx context.Context) ([]domain.FeedbackRecord, error)
	CountFeedback(ctx context.Context) (int, error)
	CountFeedbackAfter(ctx context.Context, afterID int64) (int, error)
	SaveModel(ctx context.Context, m *classifier.Model) error
	LoadLatestModel(ctx context.Context) (*classifier.Model, error)
	MaxModelVersion(ctx context.Context) (int, error)
	RecordSkippedRetrain(ctx context.Context, reason string, sampleCount int, at time.Time) error
}

type Options struct {
	Rules        detect.RuleSet
	Scorer       detect.ScorerConfig
	Training     classifier.TrainOptions
	RetrainEvery int
}

func DefaultOptions() Options {
	return Options{
		Rules:        detect.DefaultRuleSet(),
		Scorer:       detect.DefaultScorerConfig(),
		Training:     classifier.DefaultTrainOptions(),
		RetrainEvery: 10,
	}
}

// Engine ties rule evaluation, the learned classifier and feedback storage
// together. Classify is safe to call while a retrain is running: it sees
// either the previous model or the new one, never a mix.
type Engine struct {
	rules        *detect.RuleEngine
	scorer       detect.ScorerConfig
	training     classifier.TrainOptions
	retrainEvery int
	store        Store

	model   atomic.Pointer[classifier.Model]
	similar atomic.Pointer[detect.SimilarityIndex]

	retrainMu sync.Mutex
	// highest feedback id seen by the last retrain attempt, trained or not.
	lastAttemptID int64

	now func() time.Time
}

func New(store Store, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: nil store")
	}
	rules, err := detect.NewRuleEngine(opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	if err := opts.Scorer.Validate(); err != nil {
		return nil, fmt.Errorf("scorer: %w", err)
	}
	if opts.RetrainEvery <= 0 {
		opts.RetrainEvery = 10
	}
	e := &Engine{
		rules:        rules,
		scorer:       opts.Scorer,
		training:     opts.Training,
		retrainEvery: opts.RetrainEvery,
		store:        store,
		now:          func() time.Time { return time.Now().UTC() },
	}
	e.similar.Store(detect.BuildSimilarityIndex(nil, nil))
	return e, nil
}

// LoadModel activates the latest persisted model. A model saved under a
// different feature schema is skipped and the engine stays on rules only.
func (e *Engine) LoadModel(ctx context.Context) error {
	m, err := e.store.LoadLatestModel(ctx)
	if errors.Is(err, classifier.ErrSchemaMismatch) {
		log.Printf("engine model-skip err=%v", err)
		m, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("%w: load model: %w", ErrPersistence, err)
	}
	if m != nil {
		e.model.Store(m)
		log.Printf("engine model-loaded version=%d samples=%d last_feedback_id=%d", m.Version, m.SampleCount, m.LastFeedbackID)
	}
	e.refreshSimilar(ctx)
	return nil
}

// ActiveModel returns the model classification currently uses; nil means
// untrained.
func (e *Engine) ActiveModel() *classifier.Model {
	return e.model.Load()
}

// Classify scores a ticket without persisting anything.
func (e *Engine) Classify(t domain.Ticket) domain.DetectionResult {
	verdict := e.rules.Evaluate(t.Summary, t.Description)
	m := e.model.Load()
	prob := m.Predict(detect.ExtractFeatures(t.Summary, t.Description))
	res := detect.Score(e.scorer, verdict, prob, m.Trained())
	if m.Trained() {
		res.ModelVersion = m.Version
	}
	return res
}

// Evaluate classifies t and records the detection. On a storage error the
// result is still returned alongside an error wrapping ErrPersistence.
func (e *Engine) Evaluate(ctx context.Context, t domain.Ticket) (domain.DetectionResult, error) {
	res := e.Classify(t)
	_, err := e.store.InsertDetection(ctx, domain.Detection{
		TicketID:      t.ID,
		Summary:       t.Summary,
		Description:   t.Description,
		Tier:          res.Tier,
		Reason:        res.Reason(),
		MLProbability: res.MLProbability,
		HybridScore:   res.HybridScore,
		IsMatch:       res.IsMatch,
		AlertLevel:    res.AlertLevel,
		ModelVersion:  res.ModelVersion,
		EvaluatedAt:   e.now(),
	})
	if err != nil {
		return res, fmt.Errorf("%w: record detection %s: %w", ErrPersistence, t.ID, err)
	}
	return res, nil
}

// SimilarTickets returns labelled tickets resembling t, best first.
func (e *Engine) SimilarTickets(t domain.Ticket, k int) []detect.SimilarTicket {
	return e.similar.Load().TopK(t.Summary+" "+t.Description, t.ID, k)
}

func (e *Engine) refreshSimilar(ctx context.Context) {
	recs, err := e.store.ListFeedback(ctx)
	if err != nil {
		log.Printf("engine similar-index err=%v", err)
		return
	}
	e.refreshSimilarFrom(recs)
}

func (e *Engine) refreshSimilarFrom(recs []domain.FeedbackRecord) {
	items := make([]detect.LabelledTicket, 0, len(recs))
	texts := make([]string, 0, len(recs))
	for _, rec := range recs {
		items = append(items, detect.LabelledTicket{TicketID: rec.TicketID, Summary: rec.Summary, Label: string(rec.Label)})
		texts = append(texts, rec.Summary+" "+rec.Description)
	}
	e.similar.Store(detect.BuildSimilarityIndex(items, texts))
}
