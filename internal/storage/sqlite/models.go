package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pixelwatch/internal/classifier"
)

// SaveModel persists m and its training run in one transaction.
func SaveModel(ctx context.Context, db *sql.DB, m *classifier.Model) error {
	params, err := m.MarshalJSONParams()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO classifier_models (version, schema_version, params, sample_count, last_feedback_id, trained_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.Version, m.SchemaVersion, string(params), m.SampleCount, m.LastFeedbackID, m.TrainedAt,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO model_training_runs (model_version, trained, reason, sample_count, positives, negatives, training_accuracy, run_at)
		 VALUES (?, 1, '', ?, ?, ?, ?, ?)`,
		m.Version, m.SampleCount, m.Positives, m.Negatives, m.TrainingAccuracy, m.TrainedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadLatestModel returns the highest-version model, or nil if none was saved.
func LoadLatestModel(ctx context.Context, db *sql.DB) (*classifier.Model, error) {
	var params string
	err := db.QueryRowContext(ctx,
		`SELECT params FROM classifier_models ORDER BY version DESC LIMIT 1`,
	).Scan(&params)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return classifier.UnmarshalModel([]byte(params))
}

func MaxModelVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM classifier_models`).Scan(&v)
	return v, err
}

type TrainingRun struct {
	ID               int64
	ModelVersion     int
	Trained          bool
	Reason           string
	SampleCount      int
	Positives        int
	Negatives        int
	TrainingAccuracy float64
	RunAt            time.Time
}

// InsertSkippedRun records a retrain attempt that did not produce a model.
func InsertSkippedRun(ctx context.Context, db *sql.DB, reason string, sampleCount int, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO model_training_runs (model_version, trained, reason, sample_count, run_at)
		 VALUES (0, 0, ?, ?, ?)`,
		reason, sampleCount, at,
	)
	return err
}

func GetTrainingRuns(ctx context.Context, db *sql.DB, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, model_version, trained, reason, sample_count, positives, negatives, training_accuracy, run_at
		 FROM model_training_runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrainingRun
	for rows.Next() {
		var r TrainingRun
		var trained int
		if err := rows.Scan(&r.ID, &r.ModelVersion, &trained, &r.Reason, &r.SampleCount, &r.Positives, &r.Negatives, &r.TrainingAccuracy, &r.RunAt); err != nil {
			return nil, err
		}
		r.Trained = trained == 1
		out = append(out, r)
	}
	return out, rows.Err()
}
