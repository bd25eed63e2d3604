package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teslashibe/stairguard/pkg/detection"
)

// SQLiteJournal stores entries in an alerts table.
type SQLiteJournal struct {
	conn *sql.DB
}

// OpenSQLite opens (creating if needed) the journal at path.
func OpenSQLite(path string) (*SQLiteJournal, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: open journal: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	j := &SQLiteJournal{conn: conn}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: migrate journal: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		kind TEXT NOT NULL,
		category TEXT NOT NULL,
		distance_m REAL DEFAULT 0,
		confidence REAL DEFAULT 0,
		phrase TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts);
	CREATE INDEX IF NOT EXISTS idx_alerts_kind ON alerts(kind);
	`
	_, err := j.conn.Exec(schema)
	return err
}

// Record inserts e.
func (j *SQLiteJournal) Record(ctx context.Context, e Entry) error {
	_, err := j.conn.ExecContext(ctx,
		`INSERT INTO alerts (id, ts, kind, category, distance_m, confidence, phrase)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.At.UnixMilli(), string(e.Kind), e.Category.String(), e.Distance, e.Confidence, e.Phrase)
	if err != nil {
		return fmt.Errorf("history: insert alert: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	rows, err := j.conn.QueryContext(ctx,
		`SELECT id, ts, kind, category, distance_m, confidence, phrase
		 FROM alerts ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query alerts: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			ts       int64
			kind     string
			category string
		)
		if err := rows.Scan(&e.ID, &ts, &kind, &category, &e.Distance, &e.Confidence, &e.Phrase); err != nil {
			return nil, fmt.Errorf("history: scan alert: %w", err)
		}
		e.At = time.UnixMilli(ts).UTC()
		e.Kind = Kind(kind)
		e.Category = detection.ParseCategory(category)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of journaled entries.
func (j *SQLiteJournal) Count(ctx context.Context) (int, error) {
	var n int
	err := j.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n)
	return n, err
}

// Close closes the database.
func (j *SQLiteJournal) Close() error {
	return j.conn.Close()
}

var _ Journal = (*SQLiteJournal)(nil)
