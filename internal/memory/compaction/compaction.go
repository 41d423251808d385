// Package compaction implements the compaction engine: duplicate removal,
// cold-episode compression into meta-episodes, and tier rebalancing — all
// driven by one run_cycle call.
package compaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agnt-run/agentfs/internal/checksum"
	"github.com/agnt-run/agentfs/internal/dbconfig"
	"github.com/agnt-run/agentfs/internal/memory/search"
	"github.com/agnt-run/agentfs/internal/memory/tiers"
	"github.com/agnt-run/agentfs/internal/store"
	. "github.com/agnt-run/agentfs/internal/logging"
)

// Engine runs compaction cycles over the memory subsystem.
type Engine struct {
	sub    *store.Substrate
	tiers  *tiers.Manager
	search *search.Engine
	cfg    dbconfig.CompactionConfig
}

// New constructs a compaction Engine over the shared substrate and memory
// subsystem components.
func New(sub *store.Substrate, tierMgr *tiers.Manager, searchEngine *search.Engine, cfg dbconfig.CompactionConfig) *Engine {
	return &Engine{sub: sub, tiers: tierMgr, search: searchEngine, cfg: cfg}
}

// ContentHash returns the XXH3-64 content hash of value, 16 lowercase hex
// digits, used for dedup across memory entries.
func ContentHash(value []byte) string { return checksum.ContentHash(value) }

// Result summarizes one compaction cycle.
type Result struct {
	DuplicatesRemoved  int
	EpisodesCompressed int
	TiersRebalanced    int
}

// RunCycle performs, in order: duplicate removal (if enabled), cold-episode
// compression (only under High memory pressure), then rebalancing.
func (e *Engine) RunCycle(ctx context.Context) (Result, error) {
	var result Result

	if e.cfg.DedupEnabled {
		n, err := e.dedupScan(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("dedup scan: %w", err)
		}
		result.DuplicatesRemoved = n
	}

	pressure, err := e.tiers.MemoryPressure(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("check memory pressure: %w", err)
	}
	if pressure == tiers.PressureHigh {
		n, err := e.compressColdEpisodes(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("compress cold episodes: %w", err)
		}
		result.EpisodesCompressed = n
	}

	changed, err := e.tiers.Rebalance(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("rebalance: %w", err)
	}
	result.TiersRebalanced = changed

	L_info("compaction: cycle complete", "duplicates", result.DuplicatesRemoved,
		"episodes_compressed", result.EpisodesCompressed, "tiers_rebalanced", result.TiersRebalanced)
	return result, nil
}

// dedupScan groups memory_metadata by non-null content_hash, keeps the
// first (oldest) key of every group with more than one member, and deletes
// the KV row, metadata row, and FTS row for every other member.
func (e *Engine) dedupScan(ctx context.Context) (int, error) {
	var removed int
	err := e.sub.Writer.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, `
			SELECT key, content_hash FROM memory_metadata
			WHERE content_hash IS NOT NULL AND content_hash IN (
				SELECT content_hash FROM memory_metadata
				WHERE content_hash IS NOT NULL
				GROUP BY content_hash HAVING count(*) > 1
			)
			ORDER BY content_hash, created ASC
		`)
		if err != nil {
			return fmt.Errorf("scan dup groups: %w", err)
		}
		type row struct{ key, hash string }
		var all []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.key, &r.hash); err != nil {
				rows.Close()
				return err
			}
			all = append(all, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		seen := make(map[string]bool)
		for _, r := range all {
			if !seen[r.hash] {
				seen[r.hash] = true
				continue
			}
			if _, err := tx.Exec(`DELETE FROM kv_store WHERE key = ?`, r.key); err != nil {
				return fmt.Errorf("delete dup kv %s: %w", r.key, err)
			}
			if _, err := tx.Exec(`DELETE FROM memory_metadata WHERE key = ?`, r.key); err != nil {
				return fmt.Errorf("delete dup metadata %s: %w", r.key, err)
			}
			if _, err := tx.Exec(`DELETE FROM memory_fts WHERE key = ?`, r.key); err != nil {
				return fmt.Errorf("delete dup fts %s: %w", r.key, err)
			}
			removed++
		}

		return tx.Commit()
	})
	return removed, err
}

type episodeEntry struct {
	key     string
	summary string
	tools   []string
	outcome string
}

// compressColdEpisodes selects cold episodes ordered by created ascending
// and, in batches of cold_batch_size, concatenates them into meta-episodes.
func (e *Engine) compressColdEpisodes(ctx context.Context) (int, error) {
	var compressed int
	err := e.sub.Writer.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx, `
			SELECT mm.key, kv.value FROM memory_metadata mm
			JOIN kv_store kv ON kv.key = mm.key
			WHERE mm.provider = 'episodes' AND mm.tier = 'cold'
			ORDER BY mm.created ASC
		`)
		if err != nil {
			return fmt.Errorf("scan cold episodes: %w", err)
		}
		var entries []episodeEntry
		for rows.Next() {
			var key, value string
			if err := rows.Scan(&key, &value); err != nil {
				rows.Close()
				return err
			}
			entries = append(entries, parseEpisode(key, value))
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		batchSize := e.cfg.ColdBatchSize
		if batchSize < 1 {
			batchSize = 1
		}
		if len(entries) < batchSize {
			return tx.Commit()
		}

		for start := 0; start+batchSize <= len(entries); start += batchSize {
			batch := entries[start : start+batchSize]
			if err := e.compressBatch(ctx, tx, batch); err != nil {
				return err
			}
			compressed += len(batch)
		}

		return tx.Commit()
	})
	return compressed, err
}

func (e *Engine) compressBatch(ctx context.Context, tx *sql.Tx, batch []episodeEntry) error {
	var summaries []string
	toolSet := make(map[string]bool)
	for _, ep := range batch {
		summaries = append(summaries, ep.summary)
		for _, t := range ep.tools {
			toolSet[t] = true
		}
		if _, err := tx.Exec(`DELETE FROM kv_store WHERE key = ?`, ep.key); err != nil {
			return fmt.Errorf("delete compressed episode kv %s: %w", ep.key, err)
		}
		if _, err := tx.Exec(`DELETE FROM memory_metadata WHERE key = ?`, ep.key); err != nil {
			return fmt.Errorf("delete compressed episode metadata %s: %w", ep.key, err)
		}
		if _, err := tx.Exec(`DELETE FROM memory_fts WHERE key = ?`, ep.key); err != nil {
			return fmt.Errorf("delete compressed episode fts %s: %w", ep.key, err)
		}
	}

	var now string
	if err := tx.QueryRow(`SELECT strftime('%Y-%m-%dT%H:%M:%f','now')`).Scan(&now); err != nil {
		return err
	}
	tools := make([]string, 0, len(toolSet))
	for t := range toolSet {
		tools = append(tools, t)
	}

	metaSessionID := "meta-" + strings.ReplaceAll(now, ":", "")
	metaKey := "memory:episode:" + metaSessionID
	doc := map[string]any{
		"session_id": metaSessionID,
		"summary":    "Compressed " + fmt.Sprintf("%d", len(batch)) + " sessions: " + strings.Join(summaries, "; "),
		"tools_used": tools,
		"outcome":    "compressed",
		"created":    now,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal meta-episode: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO kv_store (key, value, created, updated) VALUES (?, ?, ?, ?)
	`, metaKey, string(payload), now, now); err != nil {
		return fmt.Errorf("persist meta-episode: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO memory_metadata (key, provider, tier, access_count, last_accessed, content_hash, byte_size, created)
		VALUES (?, 'episodes', 'warm', 0, NULL, NULL, ?, ?)
	`, metaKey, len(payload), now); err != nil {
		return fmt.Errorf("persist meta-episode metadata: %w", err)
	}
	content := doc["summary"].(string)
	if _, err := tx.Exec(`INSERT INTO memory_fts (key, provider, content) VALUES (?, 'episodes', ?)`, metaKey, content); err != nil {
		return fmt.Errorf("persist meta-episode fts: %w", err)
	}
	return nil
}

func parseEpisode(key, value string) episodeEntry {
	var doc struct {
		Summary string   `json:"summary"`
		Tools   []string `json:"tools_used"`
		Outcome string   `json:"outcome"`
	}
	_ = json.Unmarshal([]byte(value), &doc)
	return episodeEntry{key: key, summary: doc.Summary, tools: doc.Tools, outcome: doc.Outcome}
}
