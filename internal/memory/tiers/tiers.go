// Package tiers implements the memory tier manager: scoring, hot/warm/cold
// classification, and pressure-driven rebalancing over memory_metadata.
package tiers

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/agnt-run/agentfs/internal/dbconfig"
	"github.com/agnt-run/agentfs/internal/store"
)

// Tier is one of the three classification buckets.
type Tier string

const (
	Hot  Tier = "hot"
	Warm Tier = "warm"
	Cold Tier = "cold"
)

// Pressure reflects how close the memory store is to its total budget.
type Pressure string

const (
	PressureLow    Pressure = "low"
	PressureMedium Pressure = "medium"
	PressureHigh   Pressure = "high"
)

// Manager maintains memory_metadata: scoring, tier assignment, and access
// bookkeeping. It holds no in-memory state beyond the shared substrate and
// the configured scoring parameters.
type Manager struct {
	sub *store.Substrate
	cfg dbconfig.TierConfig
}

// New constructs a Manager over an already-open substrate.
func New(sub *store.Substrate, cfg dbconfig.TierConfig) *Manager {
	return &Manager{sub: sub, cfg: cfg}
}

// EnsureMetadata upserts the metadata row for key, preserving access_count
// and last_accessed across an existing row and only ever updating the
// content hash and byte size.
func (m *Manager) EnsureMetadata(ctx context.Context, key, provider string, contentHash string, byteSize int) error {
	return m.sub.Writer.WithConn(func(db *sql.DB) error {
		var now string
		if err := db.QueryRowContext(ctx, `SELECT strftime('%Y-%m-%dT%H:%M:%f','now')`).Scan(&now); err != nil {
			return err
		}
		var hash any
		if contentHash != "" {
			hash = contentHash
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO memory_metadata (key, provider, tier, access_count, last_accessed, content_hash, byte_size, created)
			VALUES (?, ?, 'warm', 0, NULL, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				content_hash = excluded.content_hash,
				byte_size = excluded.byte_size
		`, key, provider, hash, byteSize, now)
		if err != nil {
			return fmt.Errorf("ensure metadata %s: %w", key, err)
		}
		return nil
	})
}

// RecordAccess atomically increments access_count and stamps last_accessed
// for key.
func (m *Manager) RecordAccess(ctx context.Context, key string) error {
	return m.sub.Writer.WithConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE memory_metadata
			SET access_count = access_count + 1, last_accessed = strftime('%Y-%m-%dT%H:%M:%f','now')
			WHERE key = ?
		`, key)
		if err != nil {
			return fmt.Errorf("record access %s: %w", key, err)
		}
		return nil
	})
}

// RemoveMetadata deletes the metadata row for key, if any.
func (m *Manager) RemoveMetadata(ctx context.Context, key string) error {
	return m.sub.Writer.WithConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM memory_metadata WHERE key = ?`, key)
		return err
	})
}

// HasContentHash returns the key already holding hash, for dedup, or ("",
// false) if no row carries it.
func (m *Manager) HasContentHash(ctx context.Context, hash string) (string, bool, error) {
	guard, err := m.sub.Readers.Acquire(ctx)
	if err != nil {
		return "", false, err
	}
	defer guard.Release()

	var key string
	err = guard.DB().QueryRowContext(ctx, `SELECT key FROM memory_metadata WHERE content_hash = ? LIMIT 1`, hash).Scan(&key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}

// TierCounts returns the number of entries in each tier.
func (m *Manager) TierCounts(ctx context.Context) (hot, warm, cold int, err error) {
	guard, err := m.sub.Readers.Acquire(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	defer guard.Release()

	rows, err := guard.DB().QueryContext(ctx, `SELECT tier, count(*) FROM memory_metadata GROUP BY tier`)
	if err != nil {
		return 0, 0, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return 0, 0, 0, err
		}
		switch Tier(tier) {
		case Hot:
			hot = count
		case Warm:
			warm = count
		case Cold:
			cold = count
		}
	}
	return hot, warm, cold, rows.Err()
}

// MemoryPressure classifies the current load against the configured total
// budget: High at or above 100%, Medium at or above 75%, Low otherwise.
func (m *Manager) MemoryPressure(ctx context.Context) (Pressure, error) {
	hot, warm, cold, err := m.TierCounts(ctx)
	if err != nil {
		return "", err
	}
	total := hot + warm + cold
	if m.cfg.TotalBudget <= 0 {
		return PressureLow, nil
	}
	ratio := float64(total) / float64(m.cfg.TotalBudget)
	switch {
	case ratio >= 1.0:
		return PressureHigh, nil
	case ratio >= 0.75:
		return PressureMedium, nil
	default:
		return PressureLow, nil
	}
}

type scoredEntry struct {
	key  string
	tier Tier
	score float64
}

// scoreRow computes the score for one memory_metadata row plus the
// provider-sourced helpful/harmful counters (0 for non-playbook providers).
func scoreRow(helpful, harmful float64, ageDays, daysSinceAccess float64, accessCount int, halfLifeDays float64) float64 {
	base := helpful - harmful
	relevance := base * math.Pow(0.5, ageDays/halfLifeDays)
	recency := 0.3 * math.Pow(0.5, daysSinceAccess/halfLifeDays)
	frequency := 0.2 * math.Log1p(float64(accessCount))
	return relevance + recency + frequency
}

// Rebalance recomputes scores for every memory_metadata row, assigns tiers
// (top hot_budget entries -> hot; of the remainder, score >= cold_threshold
// -> warm, else -> cold), and updates only the rows whose tier changed.
// Returns the number of rows changed.
func (m *Manager) Rebalance(ctx context.Context) (int, error) {
	var changed int
	err := m.sub.Writer.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		now := time.Now().UTC()

		rows, err := tx.QueryContext(ctx, `
			SELECT mm.key, mm.provider, mm.tier, mm.access_count, mm.last_accessed, mm.created,
				coalesce(json_extract(kv.value, '$.helpful'), 0),
				coalesce(json_extract(kv.value, '$.harmful'), 0)
			FROM memory_metadata mm
			LEFT JOIN kv_store kv ON kv.key = mm.key
		`)
		if err != nil {
			return fmt.Errorf("scan metadata for rebalance: %w", err)
		}

		type row struct {
			key         string
			provider    string
			tier        Tier
			accessCount int
			lastAccessed sql.NullString
			created     string
			helpful     float64
			harmful     float64
		}
		var all []row
		for rows.Next() {
			var r row
			var tier string
			if err := rows.Scan(&r.key, &r.provider, &tier, &r.accessCount, &r.lastAccessed, &r.created, &r.helpful, &r.harmful); err != nil {
				rows.Close()
				return err
			}
			r.tier = Tier(tier)
			all = append(all, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		scored := make([]scoredEntry, 0, len(all))
		for _, r := range all {
			ageDays := daysSince(r.created, now)
			daysSinceAccess := 0.0
			if r.lastAccessed.Valid {
				daysSinceAccess = daysSince(r.lastAccessed.String, now)
			}
			score := scoreRow(r.helpful, r.harmful, ageDays, daysSinceAccess, r.accessCount, m.cfg.HalfLifeDays)
			scored = append(scored, scoredEntry{key: r.key, tier: r.tier, score: score})
		}

		newTier := make(map[string]Tier, len(scored))
		sortByScoreDesc(scored)
		for i, e := range scored {
			switch {
			case i < m.cfg.HotBudget:
				newTier[e.key] = Hot
			case e.score >= m.cfg.ColdThreshold:
				newTier[e.key] = Warm
			default:
				newTier[e.key] = Cold
			}
		}

		for _, e := range scored {
			target := newTier[e.key]
			if target == e.tier {
				continue
			}
			if _, err := tx.Exec(`UPDATE memory_metadata SET tier = ? WHERE key = ?`, string(target), e.key); err != nil {
				return fmt.Errorf("update tier for %s: %w", e.key, err)
			}
			changed++
		}

		return tx.Commit()
	})
	return changed, err
}

// ScoresForProvider computes the current score for every memory_metadata
// row belonging to provider, for use by a provider's own context-assembly
// ranking (distinct from Rebalance, which scores and re-tiers everything).
func (m *Manager) ScoresForProvider(ctx context.Context, provider string) (map[string]float64, error) {
	guard, err := m.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	rows, err := guard.DB().QueryContext(ctx, `
		SELECT mm.key, mm.access_count, mm.last_accessed, mm.created,
			coalesce(json_extract(kv.value, '$.helpful'), 0),
			coalesce(json_extract(kv.value, '$.harmful'), 0)
		FROM memory_metadata mm
		LEFT JOIN kv_store kv ON kv.key = mm.key
		WHERE mm.provider = ?
	`, provider)
	if err != nil {
		return nil, fmt.Errorf("scan scores for provider %s: %w", provider, err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	scores := make(map[string]float64)
	for rows.Next() {
		var key string
		var accessCount int
		var lastAccessed sql.NullString
		var created string
		var helpful, harmful float64
		if err := rows.Scan(&key, &accessCount, &lastAccessed, &created, &helpful, &harmful); err != nil {
			return nil, err
		}
		ageDays := daysSince(created, now)
		daysSinceAccess := 0.0
		if lastAccessed.Valid {
			daysSinceAccess = daysSince(lastAccessed.String, now)
		}
		scores[key] = scoreRow(helpful, harmful, ageDays, daysSinceAccess, accessCount, m.cfg.HalfLifeDays)
	}
	return scores, rows.Err()
}

func sortByScoreDesc(entries []scoredEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].score < entries[j].score; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

// daysSince parses an RFC-3339 or fractional-seconds ISO timestamp and
// returns the number of days between it and now; unparseable timestamps
// are treated as fresh (0 days).
func daysSince(ts string, now time.Time) float64 {
	layouts := []string{
		"2006-01-02T15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return now.Sub(t.UTC()).Hours() / 24.0
		}
	}
	return 0
}
