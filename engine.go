// Package agentfs is the top-level facade over the persistent state
// engine: a single SQLite file backing a virtual filesystem, a KV store,
// an audit trail, and a tiered semantic memory subsystem, for a
// long-running agent process that is the database's only writer.
package agentfs

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/agnt-run/agentfs/internal/audit"
	"github.com/agnt-run/agentfs/internal/dbconfig"
	"github.com/agnt-run/agentfs/internal/fs"
	"github.com/agnt-run/agentfs/internal/kv"
	"github.com/agnt-run/agentfs/internal/memory/compaction"
	"github.com/agnt-run/agentfs/internal/memory/providers"
	"github.com/agnt-run/agentfs/internal/memory/search"
	"github.com/agnt-run/agentfs/internal/memory/tiers"
	"github.com/agnt-run/agentfs/internal/store"

	. "github.com/agnt-run/agentfs/internal/logging"
)

// Engine bundles every subsystem over one open database. All subsystems
// share the connection substrate (sub), so closing the engine closes
// everything beneath it.
type Engine struct {
	cfg dbconfig.Config
	sub *store.Substrate

	FS    *fs.FS
	KV    *kv.Store
	Audit AuditSubsystems

	Tiers      *tiers.Manager
	Search     *search.Engine
	Compaction *compaction.Engine

	Playbook     *providers.Playbook
	Episodes     *providers.Episodes
	ToolPatterns *providers.ToolPatterns
}

// AuditSubsystems groups the four audit-trail components.
type AuditSubsystems struct {
	Sessions  *audit.Sessions
	ToolCalls *audit.ToolCalls
	Analytics *audit.Analytics
	Events    *audit.Events
}

// ErrAlreadyExists is returned by Create when a file already exists at
// the requested database path.
var ErrAlreadyExists = fmt.Errorf("agentfs: database file already exists")

// Create opens a new database at cfg.DBPath, failing if a file already
// exists there. Use Open to attach to an existing (or possibly-absent)
// database.
func Create(override dbconfig.Config) (*Engine, error) {
	cfg, err := dbconfig.Merge(override)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.DBPath); err == nil {
		return nil, ErrAlreadyExists
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("agentfs: create: stat db path: %w", err)
	}
	return Open(override)
}

// Open opens (or creates, if absent) the database at cfg.DBPath, running
// any necessary forward migrations, and wires every subsystem over it.
// Equivalent to the "create" operation when the file does not yet exist.
func Open(override dbconfig.Config) (*Engine, error) {
	cfg, err := dbconfig.Merge(override)
	if err != nil {
		return nil, err
	}
	if err := dbconfig.Validate(cfg); err != nil {
		return nil, fmt.Errorf("agentfs: invalid config: %w", err)
	}

	sub, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("agentfs: open substrate: %w", err)
	}

	if err := store.EnsureSchema(sub.Writer, cfg.ChunkSize); err != nil {
		sub.Close()
		return nil, fmt.Errorf("agentfs: ensure schema: %w", err)
	}

	chunkSize, err := store.ChunkSize(sub.Writer)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("agentfs: read persisted chunk size: %w", err)
	}

	kvStore := kv.New(sub)
	tierMgr := tiers.New(sub, cfg.Tiers)
	searchEngine := search.New(sub)

	e := &Engine{
		cfg: cfg,
		sub: sub,

		FS: fs.New(sub, chunkSize, cfg.VerifyChecksums, 0),
		KV: kvStore,
		Audit: AuditSubsystems{
			Sessions:  audit.NewSessions(sub),
			ToolCalls: audit.NewToolCalls(sub),
			Analytics: audit.NewAnalytics(sub),
			Events:    audit.NewEvents(sub),
		},

		Tiers:      tierMgr,
		Search:     searchEngine,
		Compaction: compaction.New(sub, tierMgr, searchEngine, cfg.Compaction),

		Playbook:     providers.NewPlaybook(kvStore, tierMgr, searchEngine, cfg.Playbook),
		Episodes:     providers.NewEpisodes(kvStore, tierMgr, searchEngine, cfg.Episodes),
		ToolPatterns: providers.NewToolPatterns(kvStore, tierMgr, searchEngine, cfg.ToolPatterns),
	}

	L_info("agentfs: engine opened", "path", cfg.DBPath, "chunk_size", chunkSize)
	return e, nil
}

// Close stops the background checkpoint task (performing one final
// TRUNCATE checkpoint) and closes every connection.
func (e *Engine) Close() error {
	return e.sub.Close()
}

// Info describes the engine's current on-disk state.
type Info struct {
	DBPath        string
	SchemaVersion int
	ChunkSize     int
	HotCount      int
	WarmCount     int
	ColdCount     int
	Pressure      tiers.Pressure
}

// Info reports the engine's schema version, chunk size, and memory tier
// occupancy, per spec's "info()" facade operation.
func (e *Engine) Info(ctx context.Context) (Info, error) {
	chunkSize, err := store.ChunkSize(e.sub.Writer)
	if err != nil {
		return Info{}, fmt.Errorf("agentfs: info: read chunk size: %w", err)
	}
	hot, warm, cold, err := e.Tiers.TierCounts(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("agentfs: info: tier counts: %w", err)
	}
	pressure, err := e.Tiers.MemoryPressure(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("agentfs: info: memory pressure: %w", err)
	}
	return Info{
		DBPath:        e.cfg.DBPath,
		SchemaVersion: store.CurrentSchemaVersion,
		ChunkSize:     chunkSize,
		HotCount:      hot,
		WarmCount:     warm,
		ColdCount:     cold,
		Pressure:      pressure,
	}, nil
}

// Checkpoint forces an immediate WAL checkpoint, independent of the
// background ticker's interval. truncate selects PRAGMA wal_checkpoint
// mode: PASSIVE when false, TRUNCATE when true.
func (e *Engine) Checkpoint(truncate bool) error {
	mode := "PASSIVE"
	if truncate {
		mode = "TRUNCATE"
	}
	return e.sub.Writer.WithConn(func(db *sql.DB) error {
		_, err := db.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode))
		return err
	})
}

// Scrub runs a full integrity scan: SQLite's own integrity_check plus a
// checksum verification of every stored chunk.
func (e *Engine) Scrub() (store.ScrubResult, error) {
	return store.Scrub(e.sub.Writer)
}

// GC removes orphaned inodes, chunk rows, and symlink rows left behind by
// unlink operations that dropped an inode's link count to zero.
func (e *Engine) GC() (store.GCResult, error) {
	return store.GC(e.sub.Writer)
}

// Snapshot copies the live database file to destPath. It first runs a
// TRUNCATE checkpoint so the main file holds the WAL's contents, then
// copies the main file byte for byte; it does not use SQLite's online
// backup API.
func (e *Engine) Snapshot(destPath string) error {
	if err := e.Checkpoint(true); err != nil {
		return fmt.Errorf("agentfs: snapshot: pre-checkpoint: %w", err)
	}

	src, err := os.Open(e.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("agentfs: snapshot: open source: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("agentfs: snapshot: create destination: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("agentfs: snapshot: copy: %w", err)
	}
	return dst.Close()
}

// Migrate re-runs schema migration against the already-open database.
// EnsureSchema is idempotent, so this is a no-op when the schema is
// already current; it exists as an explicit facade operation for callers
// (notably the CLI's migrate subcommand) that want to force the check
// without a full Open/Close cycle.
func (e *Engine) Migrate() error {
	chunkSize, err := store.ChunkSize(e.sub.Writer)
	if err != nil {
		return fmt.Errorf("agentfs: migrate: read chunk size: %w", err)
	}
	return store.EnsureSchema(e.sub.Writer, chunkSize)
}
