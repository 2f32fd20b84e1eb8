package sqlite

import (
	"context"
	"database/sql"
	"time"

	"pixelwatch/internal/domain"
)

func InsertFeedback(ctx context.Context, db *sql.DB, rec domain.FeedbackRecord) (int64, error) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO feedback (ticket_id, summary, description, detection_reason, label, recorded_by, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TicketID, rec.Summary, rec.Description, rec.DetectionReason, string(rec.Label), rec.RecordedBy, rec.RecordedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListFeedback returns every feedback record ordered by id.
func ListFeedback(ctx context.Context, db *sql.DB) ([]domain.FeedbackRecord, error) {
	return queryFeedback(ctx, db,
		`SELECT id, ticket_id, summary, description, detection_reason, label, recorded_by, recorded_at
		 FROM feedback ORDER BY id`)
}

func ListFeedbackByLabel(ctx context.Context, db *sql.DB, label domain.Label) ([]domain.FeedbackRecord, error) {
	return queryFeedback(ctx, db,
		`SELECT id, ticket_id, summary, description, detection_reason, label, recorded_by, recorded_at
		 FROM feedback WHERE label = ? ORDER BY id`, string(label))
}

func queryFeedback(ctx context.Context, db *sql.DB, query string, args ...any) ([]domain.FeedbackRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FeedbackRecord
	for rows.Next() {
		var rec domain.FeedbackRecord
		var label string
		if err := rows.Scan(
			&rec.ID, &rec.TicketID, &rec.Summary, &rec.Description,
			&rec.DetectionReason, &label, &rec.RecordedBy, &rec.RecordedAt,
		); err != nil {
			return nil, err
		}
		rec.Label = domain.Label(label)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func CountFeedback(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&n)
	return n, err
}

// CountFeedbackAfter counts records with id greater than afterID.
func CountFeedbackAfter(ctx context.Context, db *sql.DB, afterID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback WHERE id > ?`, afterID).Scan(&n)
	return n, err
}

func GetFeedbackMetrics(ctx context.Context, db *sql.DB, since time.Time) (domain.FeedbackMetrics, error) {
	var m domain.FeedbackMetrics
	err := db.QueryRowContext(ctx,
		`SELECT
		    COALESCE(SUM(CASE WHEN label = 'true_positive' THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN label = 'false_positive' THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN label = 'false_negative' THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN label = 'true_negative' THEN 1 ELSE 0 END), 0)
		 FROM feedback WHERE recorded_at >= ?`,
		since,
	).Scan(&m.TruePositives, &m.FalsePositives, &m.FalseNegatives, &m.TrueNegatives)
	return m, err
}
