package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pixelwatch/internal/domain"
)

func InsertDetection(ctx context.Context, db *sql.DB, d domain.Detection) (int64, error) {
	if d.EvaluatedAt.IsZero() {
		d.EvaluatedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO detections (ticket_id, summary, description, tier, reason, ml_probability, hybrid_score, is_match, alert_level, model_version, evaluated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.TicketID, d.Summary, d.Description, d.Tier.String(), d.Reason, d.MLProbability,
		d.HybridScore, boolToInt(d.IsMatch), string(d.AlertLevel), d.ModelVersion, d.EvaluatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestDetection returns the most recent evaluation of ticketID. found is
// false when the ticket was never evaluated.
func LatestDetection(ctx context.Context, db *sql.DB, ticketID string) (domain.Detection, bool, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, ticket_id, summary, description, tier, reason, ml_probability, hybrid_score, is_match, alert_level, model_version, evaluated_at
		 FROM detections WHERE ticket_id = ? ORDER BY id DESC LIMIT 1`,
		ticketID,
	)
	d, err := scanDetection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Detection{}, false, nil
	}
	if err != nil {
		return domain.Detection{}, false, err
	}
	return d, true, nil
}

// GetDetectionsByDateRange returns detections evaluated in [from, to), newest first.
func GetDetectionsByDateRange(ctx context.Context, db *sql.DB, from, to time.Time, matchesOnly bool) ([]domain.Detection, error) {
	query := `SELECT id, ticket_id, summary, description, tier, reason, ml_probability, hybrid_score, is_match, alert_level, model_version, evaluated_at
		 FROM detections WHERE evaluated_at >= ? AND evaluated_at < ?`
	if matchesOnly {
		query += ` AND is_match = 1`
	}
	query += ` ORDER BY evaluated_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDetection(r rowScanner) (domain.Detection, error) {
	var d domain.Detection
	var tier, level string
	var isMatch int
	err := r.Scan(
		&d.ID, &d.TicketID, &d.Summary, &d.Description, &tier, &d.Reason,
		&d.MLProbability, &d.HybridScore, &isMatch, &level, &d.ModelVersion, &d.EvaluatedAt,
	)
	if err != nil {
		return d, err
	}
	d.Tier, _ = domain.ParseTier(tier)
	d.AlertLevel = domain.AlertLevel(level)
	d.IsMatch = isMatch == 1
	return d, nil
}

type DetectionStats struct {
	Total      int
	Matches    int
	Excluded   int
	Immediate  int
	Digest     int
	TierHigh   int
	TierMedium int
	TierLow    int
	AvgScore   float64
	AvgMLProb  float64

	// Evaluations counts every stored detection row, including re-evaluations
	// of the same ticket on later polls.
	Evaluations int
}

// GetDetectionStats summarises the latest detection of each ticket evaluated
// since the given time, so repeated polls of one ticket count once.
func GetDetectionStats(ctx context.Context, db *sql.DB, since time.Time) (DetectionStats, error) {
	var s DetectionStats
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(is_match), 0),
		        COALESCE(SUM(CASE WHEN reason LIKE 'excluded:%' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN alert_level = 'immediate' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN alert_level = 'digest' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN tier = 'high' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN tier = 'medium' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN tier = 'low' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(hybrid_score), 0),
		        COALESCE(AVG(ml_probability), 0),
		        (SELECT COUNT(*) FROM detections WHERE evaluated_at >= ?)
		 FROM detections
		 WHERE id IN (SELECT MAX(id) FROM detections WHERE evaluated_at >= ? GROUP BY ticket_id)`,
		since, since,
	).Scan(&s.Total, &s.Matches, &s.Excluded, &s.Immediate, &s.Digest,
		&s.TierHigh, &s.TierMedium, &s.TierLow, &s.AvgScore, &s.AvgMLProb, &s.Evaluations)
	return s, err
}
