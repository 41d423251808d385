// Package search implements the FTS5 BM25 search engine over memory_fts,
// including query sanitization, snippet extraction, and optional combined
// scoring against the tier manager's relevance scores.
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agnt-run/agentfs/internal/store"
)

// Engine is the FTS5-backed search index.
type Engine struct {
	sub *store.Substrate
}

// New constructs an Engine over an already-open substrate.
func New(sub *store.Substrate) *Engine { return &Engine{sub: sub} }

// Sanitize converts arbitrary user text into a safe FTS5 phrase query:
// split on whitespace, keep only alphanumeric/_/- per word, wrap each word
// in double quotes, join with spaces. Words that sanitize to empty are
// dropped.
func Sanitize(query string) string {
	fields := strings.Fields(query)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		var b strings.Builder
		for _, r := range f {
			if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-' {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			words = append(words, `"`+b.String()+`"`)
		}
	}
	return strings.Join(words, " ")
}

// Index upserts key's searchable content, deleting any prior row first —
// FTS5 has no native UPDATE-by-rowid-match, so delete-then-insert is the
// engine's update primitive.
func (e *Engine) Index(ctx context.Context, key, provider, content string) error {
	return e.sub.Writer.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_fts WHERE key = ?`, key); err != nil {
			return fmt.Errorf("clear fts row %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO memory_fts (key, provider, content) VALUES (?, ?, ?)`, key, provider, content); err != nil {
			return fmt.Errorf("index %s: %w", key, err)
		}
		return tx.Commit()
	})
}

// Remove deletes key's FTS row, if any.
func (e *Engine) Remove(ctx context.Context, key string) error {
	return e.sub.Writer.WithConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM memory_fts WHERE key = ?`, key)
		return err
	})
}

// Result is one BM25 search hit.
type Result struct {
	Key      string
	Provider string
	Snippet  string
	BM25     float64
	Combined float64
}

// SearchBM25 runs a BM25 full-text search. An empty sanitized query
// returns no rows, matching the engine's convention that a query with no
// indexable words is not a search at all.
func (e *Engine) SearchBM25(ctx context.Context, query, provider string, limit int) ([]Result, error) {
	sanitized := Sanitize(query)
	if sanitized == "" {
		return nil, nil
	}

	guard, err := e.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	sqlQuery := `
		SELECT key, provider, snippet(memory_fts, 2, '»', '«', '…', 32), -bm25(memory_fts) AS rank
		FROM memory_fts WHERE memory_fts MATCH ?`
	args := []any{sanitized}
	if provider != "" {
		sqlQuery += ` AND provider = ?`
		args = append(args, provider)
	}
	sqlQuery += ` ORDER BY rank DESC LIMIT ?`
	args = append(args, limit)

	rows, err := guard.DB().QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search_bm25: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Key, &r.Provider, &r.Snippet, &r.BM25); err != nil {
			return nil, err
		}
		r.Combined = r.BM25
		out = append(out, r)
	}
	return out, rows.Err()
}

// clamp01 restricts v to the [0, 1] range.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ApplyCombinedScore re-scores and re-sorts results using each key's
// memory-relevance score: combined = bm25 * (0.3 + 0.7 * clamp(score, 0, 1)).
func ApplyCombinedScore(results []Result, memoryScores map[string]float64) {
	for i := range results {
		score, ok := memoryScores[results[i].Key]
		if !ok {
			continue
		}
		results[i].Combined = results[i].BM25 * (0.3 + 0.7*clamp01(score))
	}
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j-1].Combined < results[j].Combined; j-- {
			results[j-1], results[j] = results[j], results[j-1]
		}
	}
}

// Rebuild clears the FTS table and re-indexes every kv_store row prefixed
// "memory:", extracting the provider from the key (memory:<provider>:<id>)
// and searchable content from a fixed set of JSON fields.
func (e *Engine) Rebuild(ctx context.Context) (int, error) {
	var indexed int
	err := e.sub.Writer.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_fts`); err != nil {
			return fmt.Errorf("clear fts: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `SELECT key, value FROM kv_store WHERE key LIKE 'memory:%' ESCAPE '\'`)
		if err != nil {
			return fmt.Errorf("scan memory kv rows: %w", err)
		}
		type kvRow struct{ key, value string }
		var all []kvRow
		for rows.Next() {
			var r kvRow
			if err := rows.Scan(&r.key, &r.value); err != nil {
				rows.Close()
				return err
			}
			all = append(all, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, r := range all {
			provider := providerFromKey(r.key)
			content := extractSearchableContent(r.value)
			if content == "" {
				continue
			}
			if _, err := tx.Exec(`INSERT INTO memory_fts (key, provider, content) VALUES (?, ?, ?)`, r.key, provider, content); err != nil {
				return fmt.Errorf("reindex %s: %w", r.key, err)
			}
			indexed++
		}

		return tx.Commit()
	})
	return indexed, err
}

// providerFromKey extracts <provider> from a "memory:<provider>:<id>" key.
func providerFromKey(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// extractSearchableContent pulls out the fields the compaction/rebuild
// pipeline considers searchable: content, summary, outcome, category,
// patterns[].pattern, key_decisions[], common_errors[].error.
func extractSearchableContent(value string) string {
	var doc map[string]any
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return ""
	}
	var parts []string
	for _, field := range []string{"content", "summary", "outcome", "category"} {
		if s, ok := doc[field].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	if patterns, ok := doc["patterns"].([]any); ok {
		for _, p := range patterns {
			if m, ok := p.(map[string]any); ok {
				if s, ok := m["pattern"].(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
		}
	}
	if decisions, ok := doc["key_decisions"].([]any); ok {
		for _, d := range decisions {
			if s, ok := d.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
	}
	if errs, ok := doc["common_errors"].([]any); ok {
		for _, e := range errs {
			if m, ok := e.(map[string]any); ok {
				if s, ok := m["error"].(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}
