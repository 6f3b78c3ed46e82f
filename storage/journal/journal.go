package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"coinfort/core/events"
)

// Journal is an append-only SQLite record of emitted events and API calls. It
// implements events.Emitter so it can sit in the engine's fan-out.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// Entry is a stored event.
type Entry struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// AuditEntry captures a single API call.
type AuditEntry struct {
	RequestID string
	Principal string
	Method    string
	Path      string
	Status    int
	Duration  time.Duration
}

// Open opens (and initialises) the journal at path. ":memory:" is accepted for
// tests.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)
	j := &Journal{db: db, logger: slog.Default(), nowFn: time.Now}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            attributes TEXT NOT NULL,
            recorded_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_type ON events(type);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            request_id TEXT NOT NULL,
            principal TEXT,
            method TEXT NOT NULL,
            path TEXT NOT NULL,
            status INTEGER NOT NULL,
            duration_ms INTEGER NOT NULL,
            occurred_at TIMESTAMP NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) SetLogger(logger *slog.Logger) {
	if logger != nil {
		j.logger = logger
	}
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Emit stores evt. Failures are logged and never reach the emitting engine.
func (j *Journal) Emit(evt events.Event) {
	if _, err := j.Append(context.Background(), evt); err != nil {
		j.logger.Error("journal append failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append stores evt and returns its sequence number.
func (j *Journal) Append(ctx context.Context, evt events.Event) (int64, error) {
	rendered := events.Render(evt)
	if rendered == nil {
		return 0, fmt.Errorf("journal: nil event")
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return 0, err
	}
	const stmt = `INSERT INTO events(type, attributes, recorded_at) VALUES (?, ?, ?)`
	res, err := j.db.ExecContext(ctx, stmt, rendered.Type, string(attrs), j.nowFn().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List returns up to limit events with a sequence greater than after, oldest
// first. An empty eventType matches every type.
func (j *Journal) List(ctx context.Context, after int64, eventType string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT sequence, type, attributes, recorded_at FROM events WHERE sequence > ?`
	args := []any{after}
	if eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY sequence ASC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry Entry
			raw   string
		)
		if err := rows.Scan(&entry.Sequence, &entry.Type, &raw, &entry.RecordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("journal: decode attributes of %d: %w", entry.Sequence, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// InsertAudit records an API call.
func (j *Journal) InsertAudit(ctx context.Context, entry AuditEntry) error {
	const stmt = `INSERT INTO audit_log(request_id, principal, method, path, status, duration_ms, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, stmt, entry.RequestID, entry.Principal, entry.Method, entry.Path, entry.Status, entry.Duration.Milliseconds(), j.nowFn().UTC())
	return err
}

// AuditCount returns the number of audit rows, optionally filtered by principal.
func (j *Journal) AuditCount(ctx context.Context, principal string) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_log`
	var args []any
	if principal != "" {
		query += ` WHERE principal = ?`
		args = append(args, principal)
	}
	var count int64
	if err := j.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
