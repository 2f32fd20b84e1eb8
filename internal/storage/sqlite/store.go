package sqlite

import (
	"context"
	"database/sql"
	"time"

	"pixelwatch/internal/classifier"
	"pixelwatch/internal/domain"
)

// Store binds the package functions to one database handle so it can be
// handed to the engine and the monitor as an interface.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open initialises the database at path and wraps it.
func Open(path string) (*Store, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) InsertDetection(ctx context.Context, d domain.Detection) (int64, error) {
	return InsertDetection(ctx, s.db, d)
}

func (s *Store) LatestDetection(ctx context.Context, ticketID string) (domain.Detection, bool, error) {
	return LatestDetection(ctx, s.db, ticketID)
}

func (s *Store) InsertFeedback(ctx context.Context, rec domain.FeedbackRecord) (int64, error) {
	return InsertFeedback(ctx, s.db, rec)
}

func (s *Store) ListFeedback(ctx context.Context) ([]domain.FeedbackRecord, error) {
	return ListFeedback(ctx, s.db)
}

func (s *Store) CountFeedback(ctx context.Context) (int, error) {
	return CountFeedback(ctx, s.db)
}

func (s *Store) CountFeedbackAfter(ctx context.Context, afterID int64) (int, error) {
	return CountFeedbackAfter(ctx, s.db, afterID)
}

func (s *Store) SaveModel(ctx context.Context, m *classifier.Model) error {
	return SaveModel(ctx, s.db, m)
}

func (s *Store) LoadLatestModel(ctx context.Context) (*classifier.Model, error) {
	return LoadLatestModel(ctx, s.db)
}

func (s *Store) MaxModelVersion(ctx context.Context) (int, error) {
	return MaxModelVersion(ctx, s.db)
}

func (s *Store) RecordSkippedRetrain(ctx context.Context, reason string, sampleCount int, at time.Time) error {
	return InsertSkippedRun(ctx, s.db, reason, sampleCount, at)
}

func (s *Store) AlertExists(ctx context.Context, ticketID string) (bool, error) {
	return AlertExists(ctx, s.db, ticketID)
}

func (s *Store) InsertAlert(ctx context.Context, a domain.Alert) (int64, bool, error) {
	return InsertAlert(ctx, s.db, a)
}

func (s *Store) UpdateAlertSlackTS(ctx context.Context, id int64, ts string) error {
	return UpdateAlertSlackTS(ctx, s.db, id, ts)
}

func (s *Store) UpdateAlertLevel(ctx context.Context, id int64, level domain.AlertLevel) error {
	return UpdateAlertLevel(ctx, s.db, id, level)
}

func (s *Store) PendingDigestAlerts(ctx context.Context) ([]domain.Alert, error) {
	return GetPendingDigestAlerts(ctx, s.db)
}

func (s *Store) MarkAlertsDigested(ctx context.Context, ids []int64) error {
	return MarkAlertsDigested(ctx, s.db, ids)
}
