// Package stats provides an append-only SQLite store for operational
// counters — emission counts, poll latencies, send failures. It never
// stores payload content or destinations, preserving the client core's
// "no message persistence" non-goal: only the fact and timing of an
// event is recorded, never what was sent or received.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// EventKind enumerates the operational events counted.
type EventKind string

const (
	EventLoopCoverSent  EventKind = "loop_cover_sent"
	EventRealSent       EventKind = "real_sent"
	EventSendFailed     EventKind = "send_failed"
	EventProviderPoll   EventKind = "provider_poll"
	EventProviderFailed EventKind = "provider_failed"
	EventBufferDrained  EventKind = "buffer_drained"
)

// Store is an append-only SQLite store for operational counters. All
// public methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open creates or opens a counters store at dbPath. The schema is
// created automatically on first use.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open stats database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate stats schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp   TEXT NOT NULL,
		kind        TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends a single occurrence of kind. duration records an
// optional latency (e.g. time spent retrieving from the provider); pass
// 0 for events with no associated duration.
func (s *Store) Record(ctx context.Context, kind EventKind, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (timestamp, kind, duration_ms) VALUES (?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(kind), duration.Milliseconds(),
	)
	return err
}

// Counts holds a per-kind occurrence count.
type Counts map[EventKind]int64

// Summarize returns total occurrence counts per event kind.
func (s *Store) Summarize(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("summarize stats: %w", err)
	}
	defer rows.Close()

	counts := make(Counts)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		counts[EventKind(kind)] = n
	}
	return counts, rows.Err()
}
