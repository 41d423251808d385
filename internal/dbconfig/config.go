// Package dbconfig holds the engine's typed configuration and the pragma
// statements derived from it.
package dbconfig

import (
	"fmt"

	"dario.cat/mergo"
)

// Durability maps to SQLite's synchronous pragma.
type Durability string

const (
	DurabilityOff    Durability = "off"
	DurabilityNormal Durability = "normal"
	// DurabilityFull sets synchronous=FULL; the engine has no fsync path of
	// its own, so durability beyond that is left to SQLite.
	DurabilityFull Durability = "full"
)

// Pragma returns the SQLite synchronous pragma value for d.
func (d Durability) Pragma() string {
	switch d {
	case DurabilityOff:
		return "OFF"
	case DurabilityFull:
		return "FULL"
	default:
		return "NORMAL"
	}
}

// TierConfig configures the memory tier manager's scoring and budgets.
type TierConfig struct {
	HotBudget     int     `toml:"hot_budget"`
	TotalBudget   int     `toml:"total_budget"`
	HalfLifeDays  float64 `toml:"half_life_days"`
	ColdThreshold float64 `toml:"cold_threshold"`
}

// CompactionConfig configures the compaction engine.
type CompactionConfig struct {
	ColdBatchSize int  `toml:"cold_batch_size"`
	DedupEnabled  bool `toml:"dedup_enabled"`
}

// PlaybookConfig configures the playbook memory provider.
type PlaybookConfig struct {
	MaxEntries        int `toml:"max_entries"`
	PromptBudgetChars int `toml:"prompt_budget_chars"`
}

// EpisodesConfig configures the episodes memory provider.
type EpisodesConfig struct {
	MaxEpisodes       int `toml:"max_episodes"`
	PromptBudgetChars int `toml:"prompt_budget_chars"`
}

// ToolPatternsConfig configures the tool-patterns memory provider.
type ToolPatternsConfig struct {
	PromptBudgetChars int `toml:"prompt_budget_chars"`
}

// Config is the engine's full typed configuration, covering every key
// named in the external interface section of the specification.
type Config struct {
	DBPath string `toml:"db_path"`

	Durability Durability `toml:"durability"`
	ReaderCount int       `toml:"reader_count"`

	ChunkSize        int  `toml:"chunk_size"`
	VerifyChecksums  bool `toml:"verify_checksums"`

	CheckpointIntervalSecs int `toml:"checkpoint_interval_secs"`
	WALTruncateThreshold   int `toml:"wal_truncate_threshold"`

	BusyTimeoutMS int `toml:"busy_timeout_ms"`

	Tiers        TierConfig         `toml:"tiers"`
	Compaction   CompactionConfig   `toml:"compaction"`
	Playbook     PlaybookConfig     `toml:"playbook"`
	Episodes     EpisodesConfig     `toml:"episodes"`
	ToolPatterns ToolPatternsConfig `toml:"tool_patterns"`
}

// DefaultConfig returns a Config with every default from the specification.
func DefaultConfig() Config {
	return Config{
		Durability: DurabilityNormal,
		ReaderCount: 4,

		ChunkSize:       65536,
		VerifyChecksums: false,

		CheckpointIntervalSecs: 30,
		WALTruncateThreshold:   4000,

		BusyTimeoutMS: 5000,

		Tiers: TierConfig{
			HotBudget:     30,
			TotalBudget:   200,
			HalfLifeDays:  14.0,
			ColdThreshold: 0.1,
		},
		Compaction: CompactionConfig{
			ColdBatchSize: 5,
			DedupEnabled:  true,
		},
		Playbook: PlaybookConfig{
			MaxEntries:        100,
			PromptBudgetChars: 2000,
		},
		Episodes: EpisodesConfig{
			MaxEpisodes:       20,
			PromptBudgetChars: 1000,
		},
		ToolPatterns: ToolPatternsConfig{
			PromptBudgetChars: 500,
		},
	}
}

// Merge overlays non-zero fields of override onto the defaults, returning
// the merged configuration. Zero-valued fields in override (an unset int,
// an empty string) fall back to the default.
func Merge(override Config) (Config, error) {
	merged := DefaultConfig()
	if err := mergo.Merge(&merged, override, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("merge config: %w", err)
	}
	return merged, nil
}

// Validate rejects out-of-range configuration values before the engine
// attempts to open a database with them.
func Validate(cfg Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if cfg.ReaderCount < 1 {
		return fmt.Errorf("reader_count must be at least 1, got %d", cfg.ReaderCount)
	}
	if cfg.ChunkSize < 4096 {
		return fmt.Errorf("chunk_size must be at least 4096, got %d", cfg.ChunkSize)
	}
	switch cfg.Durability {
	case DurabilityOff, DurabilityNormal, DurabilityFull:
	default:
		return fmt.Errorf("durability must be one of off/normal/full, got %q", cfg.Durability)
	}
	if cfg.Tiers.HotBudget < 0 || cfg.Tiers.TotalBudget < 0 {
		return fmt.Errorf("tier budgets must be non-negative")
	}
	if cfg.Tiers.HalfLifeDays <= 0 {
		return fmt.Errorf("tiers.half_life_days must be positive, got %v", cfg.Tiers.HalfLifeDays)
	}
	if cfg.Compaction.ColdBatchSize < 1 {
		return fmt.Errorf("compaction.cold_batch_size must be at least 1")
	}
	if cfg.Playbook.MaxEntries < 1 {
		return fmt.Errorf("playbook.max_entries must be at least 1")
	}
	if cfg.Episodes.MaxEpisodes < 1 {
		return fmt.Errorf("episodes.max_episodes must be at least 1")
	}
	return nil
}

// ReaderPragmas returns the pragma statements applied to every reader
// connection, in order. Readers additionally set query_only=ON so no
// reader can accidentally mutate the database.
func ReaderPragmas(cfg Config) []string {
	return append(commonPragmas(cfg), "PRAGMA query_only=ON")
}

// WriterPragmas returns the pragma statements applied to the single
// writer connection, in order.
func WriterPragmas(cfg Config) []string {
	return commonPragmas(cfg)
}

func commonPragmas(cfg Config) []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA synchronous=%s", cfg.Durability.Pragma()),
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeoutMS),
		"PRAGMA mmap_size=268435456",
		"PRAGMA cache_size=-20000",
		// The engine drives checkpoints itself; auto-checkpoint is disabled.
		"PRAGMA wal_autocheckpoint=0",
	}
}
