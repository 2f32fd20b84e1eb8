package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"pixelwatch/internal/detect"
)

var (
	ErrInsufficientSamples = errors.New("not enough labelled samples")
	ErrSingleClass         = errors.New("training data has a single label class")
	ErrNonFinite           = errors.New("training produced non-finite parameters")
	ErrSchemaMismatch      = errors.New("model feature schema does not match")
)

// Model is a logistic regression over standardised FeatureVector values.
// A nil or zero Model is untrained and predicts 0.5 for everything.
type Model struct {
	Version          int       `json:"version"`
	SchemaVersion    int       `json:"schema_version"`
	Weights          []float64 `json:"weights"`
	Bias             float64   `json:"bias"`
	Means            []float64 `json:"means"`
	Scales           []float64 `json:"scales"`
	SampleCount      int       `json:"sample_count"`
	Positives        int       `json:"positives"`
	Negatives        int       `json:"negatives"`
	LastFeedbackID   int64     `json:"last_feedback_id"`
	TrainingAccuracy float64   `json:"training_accuracy"`
	TrainedAt        time.Time `json:"trained_at"`
}

func (m *Model) Trained() bool {
	return m != nil &&
		m.SchemaVersion == detect.FeatureSchemaVersion &&
		len(m.Weights) == detect.NumFeatures &&
		len(m.Means) == detect.NumFeatures &&
		len(m.Scales) == detect.NumFeatures
}

// Predict returns P(pixel-related | fv).
func (m *Model) Predict(fv detect.FeatureVector) float64 {
	if !m.Trained() {
		return 0.5
	}
	return sigmoid(m.logit(fv.Values()))
}

func (m *Model) logit(x []float64) float64 {
	z := m.Bias
	for j, v := range x {
		z += m.Weights[j] * (v - m.Means[j]) / m.Scales[j]
	}
	return z
}

// Explain returns each feature's contribution to the logit, keyed by
// feature name. Untrained models return nil.
func (m *Model) Explain(fv detect.FeatureVector) map[string]float64 {
	if !m.Trained() {
		return nil
	}
	out := make(map[string]float64, detect.NumFeatures)
	for j, v := range fv.Values() {
		c := m.Weights[j] * (v - m.Means[j]) / m.Scales[j]
		if c != 0 {
			out[detect.FeatureNames[j]] = c
		}
	}
	return out
}

func (m *Model) MarshalJSONParams() ([]byte, error) {
	if !m.Trained() {
		return nil, fmt.Errorf("marshal untrained model")
	}
	return json.Marshal(m)
}

// UnmarshalModel decodes persisted parameters. A model saved under another
// feature schema is rejected with ErrSchemaMismatch.
func UnmarshalModel(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if m.SchemaVersion != detect.FeatureSchemaVersion {
		return nil, fmt.Errorf("%w: model has v%d, extractor has v%d", ErrSchemaMismatch, m.SchemaVersion, detect.FeatureSchemaVersion)
	}
	if !m.Trained() {
		return nil, fmt.Errorf("%w: expected %d weights, got %d", ErrSchemaMismatch, detect.NumFeatures, len(m.Weights))
	}
	if !finite(m.Bias) || !allFinite(m.Weights) || !allFinite(m.Means) || !allFinite(m.Scales) {
		return nil, ErrNonFinite
	}
	return &m, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(vs []float64) bool {
	for _, v := range vs {
		if !finite(v) {
			return false
		}
	}
	return true
}
