package sqlite

import (
	"context"
	"database/sql"
	"time"

	"pixelwatch/internal/domain"
)

// InsertAlert records an alert for a ticket. It returns false without error
// when the ticket already has one.
func InsertAlert(ctx context.Context, db *sql.DB, a domain.Alert) (int64, bool, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerts (ticket_id, summary, url, level, score, reason, digested, slack_ts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TicketID, a.Summary, a.URL, string(a.Level), a.Score, a.Reason, boolToInt(a.Digested), a.SlackTS, a.CreatedAt,
	)
	if err != nil {
		return 0, false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return 0, false, err
	}
	id, err := res.LastInsertId()
	return id, true, err
}

func AlertExists(ctx context.Context, db *sql.DB, ticketID string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE ticket_id = ?`, ticketID).Scan(&count)
	return count > 0, err
}

func UpdateAlertSlackTS(ctx context.Context, db *sql.DB, id int64, ts string) error {
	_, err := db.ExecContext(ctx, `UPDATE alerts SET slack_ts = ? WHERE id = ?`, ts, id)
	return err
}

// UpdateAlertLevel moves an alert to another level, e.g. an immediate alert
// that could not be posted is handed to the digest.
func UpdateAlertLevel(ctx context.Context, db *sql.DB, id int64, level domain.AlertLevel) error {
	_, err := db.ExecContext(ctx, `UPDATE alerts SET level = ? WHERE id = ?`, string(level), id)
	return err
}

// GetPendingDigestAlerts returns digest-level alerts not yet included in a digest.
func GetPendingDigestAlerts(ctx context.Context, db *sql.DB) ([]domain.Alert, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, ticket_id, summary, url, level, score, reason, digested, slack_ts, created_at
		 FROM alerts WHERE level = 'digest' AND digested = 0
		 ORDER BY score DESC, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var level string
		var digested int
		if err := rows.Scan(&a.ID, &a.TicketID, &a.Summary, &a.URL, &level, &a.Score, &a.Reason, &digested, &a.SlackTS, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Level = domain.AlertLevel(level)
		a.Digested = digested == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

func MarkAlertsDigested(ctx context.Context, db *sql.DB, ids []int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE alerts SET digested = 1 WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}
