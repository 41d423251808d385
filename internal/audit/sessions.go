// Package audit implements the append-only audit subsystem: sessions,
// tool-call records, per-session token analytics, and the unified event
// log. None of these mutate the filesystem or KV store.
package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agnt-run/agentfs/internal/store"
)

// Session describes one agent session row.
type Session struct {
	ID        int64
	SessionID string
	AgentName string
	Provider  string
	Status    string
	Metadata  string
	StartedAt string
	EndedAt   sql.NullString
}

// Sessions records and queries session lifecycle events.
type Sessions struct {
	sub *store.Substrate
}

// NewSessions constructs a Sessions recorder over an already-open substrate.
func NewSessions(sub *store.Substrate) *Sessions { return &Sessions{sub: sub} }

// Start records the beginning of a session.
func (s *Sessions) Start(ctx context.Context, sessionID, agentName, provider, metadata string) error {
	return s.sub.Writer.WithConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (session_id, agent_name, provider, status, metadata, started_at)
			VALUES (?, ?, ?, 'active', ?, strftime('%Y-%m-%dT%H:%M:%f','now'))
		`, sessionID, agentName, provider, metadata)
		if err != nil {
			return fmt.Errorf("start session %s: %w", sessionID, err)
		}
		return nil
	})
}

// End marks a session as finished with the given terminal status.
func (s *Sessions) End(ctx context.Context, sessionID, status string) error {
	return s.sub.Writer.WithConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE sessions SET status = ?, ended_at = strftime('%Y-%m-%dT%H:%M:%f','now')
			WHERE session_id = ?
		`, status, sessionID)
		if err != nil {
			return fmt.Errorf("end session %s: %w", sessionID, err)
		}
		return nil
	})
}

// ErrSessionNotFound is returned by Get when session_id does not exist.
var ErrSessionNotFound = fmt.Errorf("agentfs: session not found")

// Get returns the session row for session_id.
func (s *Sessions) Get(ctx context.Context, sessionID string) (Session, error) {
	guard, err := s.sub.Readers.Acquire(ctx)
	if err != nil {
		return Session{}, err
	}
	defer guard.Release()

	row := guard.DB().QueryRowContext(ctx, `
		SELECT id, session_id, agent_name, provider, status, metadata, started_at, ended_at
		FROM sessions WHERE session_id = ?
	`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, ErrSessionNotFound
	}
	return sess, err
}

// ListActive returns every session currently in status 'active'.
func (s *Sessions) ListActive(ctx context.Context) ([]Session, error) {
	return s.query(ctx, `
		SELECT id, session_id, agent_name, provider, status, metadata, started_at, ended_at
		FROM sessions WHERE status = 'active' ORDER BY started_at DESC
	`)
}

// ListRecent returns the most recent limit sessions regardless of status.
func (s *Sessions) ListRecent(ctx context.Context, limit int) ([]Session, error) {
	return s.query(ctx, `
		SELECT id, session_id, agent_name, provider, status, metadata, started_at, ended_at
		FROM sessions ORDER BY started_at DESC LIMIT ?
	`, limit)
}

func (s *Sessions) query(ctx context.Context, query string, args ...any) ([]Session, error) {
	guard, err := s.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	rows, err := guard.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (Session, error) {
	return scanSessionRows(row)
}

func scanSessionRows(row rowScanner) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.SessionID, &sess.AgentName, &sess.Provider, &sess.Status,
		&sess.Metadata, &sess.StartedAt, &sess.EndedAt)
	return sess, err
}
