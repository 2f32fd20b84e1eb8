package classifier

import (
	"fmt"
	"math"
	"time"

	"pixelwatch/internal/detect"
	"pixelwatch/internal/domain"
)

// Sample is one labelled training example.
type Sample struct {
	FeedbackID int64
	Features   detect.FeatureVector
	Positive   bool
}

// SampleFromFeedback extracts features from a feedback record's text.
func SampleFromFeedback(rec domain.FeedbackRecord) Sample {
	return Sample{
		FeedbackID: rec.ID,
		Features:   detect.ExtractFeatures(rec.Summary, rec.Description),
		Positive:   rec.Label.IsPixelRelated(),
	}
}

type TrainOptions struct {
	MinSamples   int
	Epochs       int
	LearningRate float64
	L2           float64
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		MinSamples:   20,
		Epochs:       500,
		LearningRate: 0.3,
		L2:           0.01,
	}
}

// Train fits a new model with full-batch gradient descent from zero weights.
// The same samples always produce the same model.
func Train(samples []Sample, opts TrainOptions) (*Model, error) {
	if opts.Epochs <= 0 || opts.LearningRate <= 0 || opts.L2 < 0 {
		return nil, fmt.Errorf("invalid train options: %+v", opts)
	}
	n := len(samples)
	if n == 0 || n < opts.MinSamples {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, n, opts.MinSamples)
	}

	positives := 0
	var lastID int64
	for _, s := range samples {
		if s.Positive {
			positives++
		}
		if s.FeedbackID > lastID {
			lastID = s.FeedbackID
		}
	}
	negatives := n - positives
	if positives == 0 || negatives == 0 {
		return nil, fmt.Errorf("%w: %d positive, %d negative", ErrSingleClass, positives, negatives)
	}

	d := detect.NumFeatures
	raw := make([][]float64, n)
	y := make([]float64, n)
	for i, s := range samples {
		raw[i] = s.Features.Values()
		if s.Positive {
			y[i] = 1
		}
	}
	means, scales := standardisation(raw, d)
	x := make([][]float64, n)
	for i := range raw {
		x[i] = make([]float64, d)
		for j := 0; j < d; j++ {
			x[i][j] = (raw[i][j] - means[j]) / scales[j]
		}
	}

	w := make([]float64, d)
	var b float64
	grad := make([]float64, d)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		var gb float64
		for i := 0; i < n; i++ {
			z := b
			for j := 0; j < d; j++ {
				z += w[j] * x[i][j]
			}
			diff := sigmoid(z) - y[i]
			for j := 0; j < d; j++ {
				grad[j] += diff * x[i][j]
			}
			gb += diff
		}
		for j := 0; j < d; j++ {
			w[j] -= opts.LearningRate * (grad[j]/float64(n) + opts.L2*w[j])
		}
		b -= opts.LearningRate * gb / float64(n)
	}

	if !finite(b) || !allFinite(w) {
		return nil, ErrNonFinite
	}

	m := &Model{
		SchemaVersion:  detect.FeatureSchemaVersion,
		Weights:        w,
		Bias:           b,
		Means:          means,
		Scales:         scales,
		SampleCount:    n,
		Positives:      positives,
		Negatives:      negatives,
		LastFeedbackID: lastID,
		TrainedAt:      time.Now().UTC(),
	}
	correct := 0
	for i := range raw {
		p := sigmoid(m.logit(raw[i]))
		if (p >= 0.5) == (y[i] == 1) {
			correct++
		}
	}
	m.TrainingAccuracy = float64(correct) / float64(n)
	return m, nil
}

// standardisation returns per-feature means and standard deviations.
// Constant features get scale 1 so they contribute nothing.
func standardisation(x [][]float64, d int) ([]float64, []float64) {
	n := float64(len(x))
	means := make([]float64, d)
	scales := make([]float64, d)
	for _, row := range x {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= n
	}
	for _, row := range x {
		for j, v := range row {
			dv := v - means[j]
			scales[j] += dv * dv
		}
	}
	for j := range scales {
		sd := math.Sqrt(scales[j] / n)
		if sd < 1e-9 {
			sd = 1
		}
		scales[j] = sd
	}
	return means, scales
}
