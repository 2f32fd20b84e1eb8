package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// One connection serialises writers; feedback appends never interleave.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS detections (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id      TEXT NOT NULL,
		summary        TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		tier           TEXT NOT NULL DEFAULT 'none',
		reason         TEXT NOT NULL DEFAULT '',
		ml_probability REAL NOT NULL DEFAULT 0.5,
		hybrid_score   REAL NOT NULL DEFAULT 0,
		is_match       INTEGER NOT NULL DEFAULT 0,
		alert_level    TEXT NOT NULL DEFAULT 'none',
		model_version  INTEGER NOT NULL DEFAULT 0,
		evaluated_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_detections_ticket ON detections(ticket_id);
	CREATE INDEX IF NOT EXISTS idx_detections_evaluated_at ON detections(evaluated_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id        TEXT NOT NULL,
		summary          TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		detection_reason TEXT NOT NULL DEFAULT '',
		label            TEXT NOT NULL,
		recorded_at      DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_ticket ON feedback(ticket_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_label ON feedback(label);

	CREATE TABLE IF NOT EXISTS alerts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id  TEXT NOT NULL,
		summary    TEXT NOT NULL DEFAULT '',
		url        TEXT NOT NULL DEFAULT '',
		level      TEXT NOT NULL,
		score      REAL NOT NULL DEFAULT 0,
		reason     TEXT NOT NULL DEFAULT '',
		digested   INTEGER NOT NULL DEFAULT 0,
		slack_ts   TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_ticket ON alerts(ticket_id);

	CREATE TABLE IF NOT EXISTS classifier_models (
		version          INTEGER PRIMARY KEY,
		schema_version   INTEGER NOT NULL,
		params           TEXT NOT NULL,
		sample_count     INTEGER NOT NULL,
		last_feedback_id INTEGER NOT NULL DEFAULT 0,
		trained_at       DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_training_runs (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		model_version     INTEGER NOT NULL DEFAULT 0,
		trained           INTEGER NOT NULL,
		reason            TEXT NOT NULL DEFAULT '',
		sample_count      INTEGER NOT NULL DEFAULT 0,
		positives         INTEGER NOT NULL DEFAULT 0,
		negatives         INTEGER NOT NULL DEFAULT 0,
		training_accuracy REAL NOT NULL DEFAULT 0,
		run_at            DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_training_runs_run_at ON model_training_runs(run_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	// Migration: add recorded_by column if missing.
	var colCount int
	_ = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('feedback') WHERE name = 'recorded_by'`).Scan(&colCount)
	if colCount == 0 {
		if _, err := db.Exec(`ALTER TABLE feedback ADD COLUMN recorded_by TEXT NOT NULL DEFAULT ''`); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate feedback.recorded_by: %w", err)
		}
	}

	return db, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
