package audit

import (
	"context"
	"database/sql"
	"strings"

	"github.com/agnt-run/agentfs/internal/store"
)

// Event is one row of the unified event log.
type Event struct {
	ID         int64
	SessionID  sql.NullString
	EventType  string
	Path       sql.NullString
	Detail     sql.NullString
	Tags       []string
	RecordedAt string
}

// Events records and queries the unified event log. The tags column is a
// supplement over the bare event log: a small set of free-form labels
// (e.g. "memory", "fs", "compaction") that callers use to filter events
// orthogonally to event_type without needing a new column per facet.
type Events struct {
	sub *store.Substrate
}

// NewEvents constructs an Events recorder over an already-open substrate.
func NewEvents(sub *store.Substrate) *Events { return &Events{sub: sub} }

// Log appends one event.
func (e *Events) Log(ctx context.Context, sessionID, eventType, path, detail string, tags []string) error {
	return e.sub.Writer.WithConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO events (session_id, event_type, path, detail, tags, recorded_at)
			VALUES (?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%f','now'))
		`, sessionID, eventType, path, detail, strings.Join(tags, ","))
		return err
	})
}

func scanEvent(row rowScanner) (Event, error) {
	var ev Event
	var tags sql.NullString
	if err := row.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &ev.Path, &ev.Detail, &tags, &ev.RecordedAt); err != nil {
		return Event{}, err
	}
	if tags.Valid && tags.String != "" {
		ev.Tags = strings.Split(tags.String, ",")
	}
	return ev, nil
}

const eventColumns = `id, session_id, event_type, path, detail, tags, recorded_at`

// Recent returns the most recent limit events.
func (e *Events) Recent(ctx context.Context, limit int) ([]Event, error) {
	return e.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY recorded_at DESC LIMIT ?`, limit)
}

// ByType returns the most recent limit events of the given event_type.
func (e *Events) ByType(ctx context.Context, eventType string, limit int) ([]Event, error) {
	return e.query(ctx, `SELECT `+eventColumns+` FROM events WHERE event_type = ? ORDER BY recorded_at DESC LIMIT ?`, eventType, limit)
}

// BySession returns the most recent limit events for the given session_id.
func (e *Events) BySession(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	return e.query(ctx, `SELECT `+eventColumns+` FROM events WHERE session_id = ? ORDER BY recorded_at DESC LIMIT ?`, sessionID, limit)
}

func (e *Events) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	guard, err := e.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	rows, err := guard.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EventTypeCount is one row of CountByType.
type EventTypeCount struct {
	EventType string
	Count     int
}

// CountByType aggregates event counts grouped by event_type.
func (e *Events) CountByType(ctx context.Context) ([]EventTypeCount, error) {
	guard, err := e.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	rows, err := guard.DB().QueryContext(ctx, `SELECT event_type, count(*) FROM events GROUP BY event_type ORDER BY count(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventTypeCount
	for rows.Next() {
		var c EventTypeCount
		if err := rows.Scan(&c.EventType, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
