package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agnt-run/agentfs/internal/store"
)

// ToolCall describes one recorded tool invocation.
type ToolCall struct {
	ID        int64
	ToolName  string
	Status    string
	Input     sql.NullString
	Output    sql.NullString
	ErrorMsg  sql.NullString
	StartedAt string
	EndedAt   sql.NullString
	SessionID sql.NullString
}

// ToolCalls records and queries the tool-call audit trail.
type ToolCalls struct {
	sub *store.Substrate
}

// NewToolCalls constructs a ToolCalls recorder over an already-open substrate.
func NewToolCalls(sub *store.Substrate) *ToolCalls { return &ToolCalls{sub: sub} }

// Start records the beginning of a tool call and returns its id.
func (t *ToolCalls) Start(ctx context.Context, toolName, sessionID, input string) (int64, error) {
	var id int64
	err := t.sub.Writer.WithConn(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO tool_calls (tool_name, status, input, started_at, session_id)
			VALUES (?, 'started', ?, strftime('%Y-%m-%dT%H:%M:%f','now'), ?)
		`, toolName, input, sessionID)
		if err != nil {
			return fmt.Errorf("start tool call %s: %w", toolName, err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// Success marks tool call id as succeeded with the given output.
func (t *ToolCalls) Success(ctx context.Context, id int64, output string) error {
	return t.sub.Writer.WithConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE tool_calls SET status = 'success', output = ?, ended_at = strftime('%Y-%m-%dT%H:%M:%f','now')
			WHERE id = ?
		`, output, id)
		if err != nil {
			return fmt.Errorf("complete tool call %d: %w", id, err)
		}
		return nil
	})
}

// Error marks tool call id as failed with the given error message.
func (t *ToolCalls) Error(ctx context.Context, id int64, msg string) error {
	return t.sub.Writer.WithConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE tool_calls SET status = 'error', error_msg = ?, ended_at = strftime('%Y-%m-%dT%H:%M:%f','now')
			WHERE id = ?
		`, msg, id)
		if err != nil {
			return fmt.Errorf("fail tool call %d: %w", id, err)
		}
		return nil
	})
}

// Record is a one-shot convenience that inserts an already-completed tool
// call (useful when the caller already has the full input/output pair and
// does not need the start/success split).
func (t *ToolCalls) Record(ctx context.Context, toolName, sessionID, input, output, errMsg string) (int64, error) {
	status := "success"
	if errMsg != "" {
		status = "error"
	}
	var id int64
	err := t.sub.Writer.WithConn(func(db *sql.DB) error {
		now := ""
		if err := db.QueryRowContext(ctx, `SELECT strftime('%Y-%m-%dT%H:%M:%f','now')`).Scan(&now); err != nil {
			return err
		}
		res, err := db.ExecContext(ctx, `
			INSERT INTO tool_calls (tool_name, status, input, output, error_msg, started_at, ended_at, session_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, toolName, status, input, output, errMsg, now, now, sessionID)
		if err != nil {
			return fmt.Errorf("record tool call %s: %w", toolName, err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// Recent returns the most recent limit tool calls, optionally filtered by
// session_id (empty string means unfiltered).
func (t *ToolCalls) Recent(ctx context.Context, sessionID string, limit int) ([]ToolCall, error) {
	guard, err := t.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	query := `SELECT id, tool_name, status, input, output, error_msg, started_at, ended_at, session_id FROM tool_calls`
	var rows *sql.Rows
	if sessionID != "" {
		query += ` WHERE session_id = ? ORDER BY started_at DESC LIMIT ?`
		rows, err = guard.DB().QueryContext(ctx, query, sessionID, limit)
	} else {
		query += ` ORDER BY started_at DESC LIMIT ?`
		rows, err = guard.DB().QueryContext(ctx, query, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolCall
	for rows.Next() {
		var tc ToolCall
		if err := rows.Scan(&tc.ID, &tc.ToolName, &tc.Status, &tc.Input, &tc.Output, &tc.ErrorMsg,
			&tc.StartedAt, &tc.EndedAt, &tc.SessionID); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ToolStats summarizes call counts and outcomes for one tool name.
type ToolStats struct {
	ToolName     string
	TotalCalls   int
	SuccessCalls int
	ErrorCalls   int
}

// Stats aggregates call counts per tool name.
func (t *ToolCalls) Stats(ctx context.Context) ([]ToolStats, error) {
	guard, err := t.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	rows, err := guard.DB().QueryContext(ctx, `
		SELECT tool_name,
			count(*) AS total,
			sum(CASE WHEN status = 'success' THEN 1 ELSE 0 END) AS successes,
			sum(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS errors
		FROM tool_calls
		GROUP BY tool_name
		ORDER BY total DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolStats
	for rows.Next() {
		var s ToolStats
		if err := rows.Scan(&s.ToolName, &s.TotalCalls, &s.SuccessCalls, &s.ErrorCalls); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
