// ABOUTME: SQLite-backed audit ledger for coordination events using modernc.org/sqlite
// ABOUTME: Records debate messages and delegation transitions; never a restore source

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Scope identifies which registry produced an event.
type Scope string

const (
	ScopeCollab     Scope = "collab"
	ScopeDelegation Scope = "delegation"
)

// Event is one immutable ledger row. Key is the session key for collab
// events and the delegation id for delegation events; RefID carries the
// decision id when one applies.
type Event struct {
	ID        string
	Scope     Scope
	Key       string
	Kind      string
	Actor     string
	RefID     string
	Body      string
	CreatedAt time.Time
}

// Ledger persists coordination events to a SQLite database.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a ledger at the given path. The schema is created if it
// does not exist, and parent directories are created if needed.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	// WAL keeps readers from blocking the fire-and-forget writers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Ledger{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS coordination_events (
			event_id   TEXT PRIMARY KEY,
			scope      TEXT NOT NULL,
			key        TEXT NOT NULL,
			kind       TEXT NOT NULL,
			actor      TEXT NOT NULL,
			ref_id     TEXT,
			body       TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_coordination_events_key
			ON coordination_events(key, created_at);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("creating ledger schema: %w", err)
	}
	return nil
}

// Record inserts an event.
func (l *Ledger) Record(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO coordination_events (event_id, scope, key, kind, actor, ref_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.ID,
		string(event.Scope),
		event.Key,
		event.Kind,
		event.Actor,
		event.RefID,
		event.Body,
		event.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting coordination event: %w", err)
	}

	l.logger.Debug("recorded coordination event",
		"event_id", event.ID,
		"scope", event.Scope,
		"key", event.Key,
		"kind", event.Kind,
	)
	return nil
}

// ListByKey retrieves events for one session key or delegation id,
// ordered oldest first.
func (l *Ledger) ListByKey(ctx context.Context, key string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT event_id, scope, key, kind, actor, ref_id, body, created_at
		FROM coordination_events
		WHERE key = ?
		ORDER BY created_at ASC
		LIMIT ?
	`
	rows, err := l.db.QueryContext(ctx, query, key, limit)
	if err != nil {
		return nil, fmt.Errorf("querying coordination events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var scope, createdAt string
		if err := rows.Scan(
			&event.ID,
			&scope,
			&event.Key,
			&event.Kind,
			&event.Actor,
			&event.RefID,
			&event.Body,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		event.Scope = Scope(scope)
		event.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
