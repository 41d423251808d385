package audit

import (
	"context"
	"database/sql"

	"github.com/agnt-run/agentfs/internal/store"
)

// Analytics aggregates token_usage rows recorded per session/model.
type Analytics struct {
	sub *store.Substrate
}

// NewAnalytics constructs an Analytics reader/writer over an already-open substrate.
func NewAnalytics(sub *store.Substrate) *Analytics { return &Analytics{sub: sub} }

// Record appends one token_usage row. cost_microcents is the caller's
// pre-computed cost at microcent (1e-6 cent) resolution, avoiding floating
// point drift across millions of recorded calls.
func (a *Analytics) Record(ctx context.Context, sessionID string, toolCallID *int64, model string, inputTok, outputTok, cacheReadTok, cacheWriteTok int, costMicrocents int64) error {
	return a.sub.Writer.WithConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO token_usage (session_id, tool_call_id, model, input_tokens, output_tokens,
				cache_read_tokens, cache_write_tokens, cost_microcents, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%f','now'))
		`, sessionID, toolCallID, model, inputTok, outputTok, cacheReadTok, cacheWriteTok, costMicrocents)
		return err
	})
}

// Summary aggregates totals across every recorded row.
type Summary struct {
	TotalCalls        int
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalCostMicros   int64
}

// CostCents returns the summary's total cost in cents (1/100 dollar).
func (s Summary) CostCents() float64 { return float64(s.TotalCostMicros) / 1000000.0 }

// Summary returns aggregate totals across all recorded token usage.
func (a *Analytics) Summary(ctx context.Context) (Summary, error) {
	guard, err := a.sub.Readers.Acquire(ctx)
	if err != nil {
		return Summary{}, err
	}
	defer guard.Release()

	var s Summary
	row := guard.DB().QueryRowContext(ctx, `
		SELECT count(*), coalesce(sum(input_tokens), 0), coalesce(sum(output_tokens), 0), coalesce(sum(cost_microcents), 0)
		FROM token_usage
	`)
	err = row.Scan(&s.TotalCalls, &s.TotalInputTokens, &s.TotalOutputTokens, &s.TotalCostMicros)
	return s, err
}

// ModelUsage aggregates totals for one model.
type ModelUsage struct {
	Model             string
	Calls             int
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalCostMicros   int64
}

// ByModel aggregates token usage grouped by model.
func (a *Analytics) ByModel(ctx context.Context) ([]ModelUsage, error) {
	guard, err := a.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	rows, err := guard.DB().QueryContext(ctx, `
		SELECT model, count(*), coalesce(sum(input_tokens), 0), coalesce(sum(output_tokens), 0), coalesce(sum(cost_microcents), 0)
		FROM token_usage GROUP BY model ORDER BY count(*) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Model, &m.Calls, &m.TotalInputTokens, &m.TotalOutputTokens, &m.TotalCostMicros); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SessionUsage aggregates totals for one session.
type SessionUsage struct {
	SessionID         string
	Calls             int
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalCostMicros   int64
}

// BySession aggregates token usage grouped by session_id.
func (a *Analytics) BySession(ctx context.Context) ([]SessionUsage, error) {
	guard, err := a.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	rows, err := guard.DB().QueryContext(ctx, `
		SELECT session_id, count(*), coalesce(sum(input_tokens), 0), coalesce(sum(output_tokens), 0), coalesce(sum(cost_microcents), 0)
		FROM token_usage GROUP BY session_id ORDER BY count(*) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionUsage
	for rows.Next() {
		var s SessionUsage
		if err := rows.Scan(&s.SessionID, &s.Calls, &s.TotalInputTokens, &s.TotalOutputTokens, &s.TotalCostMicros); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UsageRow is one raw token_usage record.
type UsageRow struct {
	ID            int64
	SessionID     sql.NullString
	Model         string
	InputTokens   int
	OutputTokens  int
	CostMicrocents int64
	RecordedAt    string
}

// RecentUsage returns the most recent limit token_usage rows.
func (a *Analytics) RecentUsage(ctx context.Context, limit int) ([]UsageRow, error) {
	guard, err := a.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	rows, err := guard.DB().QueryContext(ctx, `
		SELECT id, session_id, model, input_tokens, output_tokens, cost_microcents, recorded_at
		FROM token_usage ORDER BY recorded_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageRow
	for rows.Next() {
		var u UsageRow
		if err := rows.Scan(&u.ID, &u.SessionID, &u.Model, &u.InputTokens, &u.OutputTokens, &u.CostMicrocents, &u.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
