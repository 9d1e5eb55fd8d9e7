// Package journal records capture and database-lifecycle events in a
// local SQLite file. Journal writes are advisory: a failed insert never
// fails the operation that produced the event.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds.
const (
	KindCapture   = "capture"
	KindIdentify  = "identify"
	KindEnroll    = "enroll"
	KindCalibrate = "calibrate"
	KindClear     = "clear"
	KindRebuild   = "rebuild"
)

// Event is one journal row to insert.
type Event struct {
	Kind      string
	PersonID  string
	File      string
	MatchedID string
	Score     float64
	Threshold float64
	Detail    string
}

// StoredEvent is one journal row as read back.
type StoredEvent struct {
	ID        int64   `json:"id"`
	CreatedAt string  `json:"created_at"`
	Kind      string  `json:"kind"`
	PersonID  string  `json:"person_id,omitempty"`
	File      string  `json:"file,omitempty"`
	MatchedID string  `json:"matched_id,omitempty"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Detail    string  `json:"detail,omitempty"`
}

// Journal is the SQLite-backed event log.
type Journal struct {
	db *sql.DB
}

// Open initializes or connects to the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: apply pragma %q: %w", pragma, execErr)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS events (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        created_at TEXT NOT NULL,
        kind TEXT NOT NULL,
        person_id TEXT NOT NULL DEFAULT '',
        file TEXT NOT NULL DEFAULT '',
        matched_id TEXT NOT NULL DEFAULT '',
        score REAL NOT NULL DEFAULT 0,
        threshold REAL NOT NULL DEFAULT 0,
        detail TEXT NOT NULL DEFAULT ''
    );
    CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record inserts one event.
func (j *Journal) Record(ctx context.Context, ev Event) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (created_at, kind, person_id, file, matched_id, score, threshold, detail)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		ev.Kind, ev.PersonID, ev.File, ev.MatchedID, ev.Score, ev.Threshold, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("journal: insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]StoredEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, created_at, kind, person_id, file, matched_id, score, threshold, detail
         FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		if err := rows.Scan(&ev.ID, &ev.CreatedAt, &ev.Kind, &ev.PersonID, &ev.File,
			&ev.MatchedID, &ev.Score, &ev.Threshold, &ev.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountByKind returns event totals grouped by kind.
func (j *Journal) CountByKind(ctx context.Context) (map[string]int64, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("journal: count events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("journal: scan count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}
