package store

import (
	"database/sql"
	"fmt"

	. "github.com/agnt-run/agentfs/internal/logging"
)

// CurrentSchemaVersion is the schema version this engine build produces
// and expects on open.
const CurrentSchemaVersion = 3

// ErrSchemaMismatch is returned when an on-disk schema version is newer
// than this build understands.
type ErrSchemaMismatch struct {
	Expected int
	Found    int
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("agentfs: schema mismatch: expected version <= %d, found %d", e.Expected, e.Found)
}

// EnsureSchema creates the schema from scratch (v3, in one transaction) if
// the database is new, or runs forward migrations if it is older. It is
// idempotent: calling it again on an already-current database is a no-op.
// chunkSize is persisted into agentfs_meta only on first creation; on an
// existing database the persisted value always wins (see ChunkSize).
func EnsureSchema(w *Writer, chunkSize int) error {
	return w.WithConn(func(db *sql.DB) error {
		version, err := readSchemaVersion(db)
		if err != nil {
			return err
		}

		if version == 0 {
			return createFresh(db, chunkSize)
		}
		if version > CurrentSchemaVersion {
			return &ErrSchemaMismatch{Expected: CurrentSchemaVersion, Found: version}
		}
		if version == CurrentSchemaVersion {
			L_debug("store: schema up to date", "version", version)
			return nil
		}
		return migrate(db, version)
	})
}

// ChunkSize reads the chunk_size persisted in agentfs_meta at creation.
func ChunkSize(w *Writer) (int, error) {
	var size int
	err := w.WithConn(func(db *sql.DB) error {
		var value string
		if err := db.QueryRow(`SELECT value FROM agentfs_meta WHERE key = 'chunk_size'`).Scan(&value); err != nil {
			return fmt.Errorf("read chunk_size: %w", err)
		}
		_, err := fmt.Sscanf(value, "%d", &size)
		return err
	})
	return size, err
}

func readSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='agentfs_meta'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check agentfs_meta existence: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var value string
	err = db.QueryRow(`SELECT value FROM agentfs_meta WHERE key = 'schema_version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	var version int
	if _, err := fmt.Sscanf(value, "%d", &version); err != nil {
		return 0, fmt.Errorf("parse schema_version %q: %w", value, err)
	}
	return version, nil
}

func createFresh(db *sql.DB, chunkSize int) error {
	L_info("store: creating fresh schema", "version", CurrentSchemaVersion)
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range append(append(v1DDL(), v2DDL()...), v3DDL()...) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	if err := setMeta(tx, "schema_version", fmt.Sprintf("%d", CurrentSchemaVersion)); err != nil {
		return err
	}
	if err := setMeta(tx, "chunk_size", fmt.Sprintf("%d", chunkSize)); err != nil {
		return err
	}
	var createdAt string
	if err := tx.QueryRow(`SELECT strftime('%Y-%m-%dT%H:%M:%f','now')`).Scan(&createdAt); err != nil {
		return fmt.Errorf("read creation timestamp: %w", err)
	}
	if err := setMeta(tx, "created_at", createdAt); err != nil {
		return err
	}

	return tx.Commit()
}

func migrate(db *sql.DB, from int) error {
	L_info("store: migrating schema", "from", from, "to", CurrentSchemaVersion)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if from < 1 {
		for _, stmt := range v1DDL() {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("migrate v1: %w", err)
			}
		}
	}
	if from < 2 {
		for _, stmt := range v2DDL() {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("migrate v2: %w", err)
			}
		}
	}
	if from < 3 {
		for _, stmt := range v3DDL() {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("migrate v3: %w", err)
			}
		}
	}

	if err := setMeta(tx, "schema_version", fmt.Sprintf("%d", CurrentSchemaVersion)); err != nil {
		return err
	}

	return tx.Commit()
}

func setMeta(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`
		INSERT INTO agentfs_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// v1DDL creates agentfs_meta, the filesystem tables, and the KV store.
func v1DDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS agentfs_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS fs_inode (
			ino INTEGER PRIMARY KEY AUTOINCREMENT,
			mode INTEGER NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			nlink INTEGER NOT NULL DEFAULT 1,
			ctime TEXT NOT NULL,
			mtime TEXT NOT NULL,
			atime TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS fs_dentry (
			parent_ino INTEGER NOT NULL,
			name TEXT NOT NULL,
			ino INTEGER NOT NULL,
			PRIMARY KEY (parent_ino, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fs_dentry_ino ON fs_dentry(ino)`,

		`CREATE TABLE IF NOT EXISTS fs_data (
			ino INTEGER NOT NULL,
			chunk_index INTEGER NOT NULL,
			data BLOB NOT NULL,
			checksum INTEGER NOT NULL,
			PRIMARY KEY (ino, chunk_index)
		)`,

		`CREATE TABLE IF NOT EXISTS fs_symlink (
			ino INTEGER PRIMARY KEY,
			target TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			created TEXT NOT NULL,
			updated TEXT NOT NULL
		)`,

		// Root inode: ino=1, directory, created once and never deleted.
		`INSERT OR IGNORE INTO fs_inode (ino, mode, size, nlink, ctime, mtime, atime)
			VALUES (1, 16877, 0, 2, strftime('%Y-%m-%dT%H:%M:%f','now'), strftime('%Y-%m-%dT%H:%M:%f','now'), strftime('%Y-%m-%dT%H:%M:%f','now'))`,
	}
}

// v2DDL adds sessions, tool_calls, token_usage, and events.
func v2DDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			agent_name TEXT,
			provider TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			metadata TEXT,
			started_at TEXT NOT NULL,
			ended_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,

		`CREATE TABLE IF NOT EXISTS tool_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'started',
			input TEXT,
			output TEXT,
			error_msg TEXT,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			session_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool_name)`,

		`CREATE TABLE IF NOT EXISTS token_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			tool_call_id INTEGER,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0,
			cache_write_tokens INTEGER NOT NULL DEFAULT 0,
			cost_microcents INTEGER NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_token_usage_session ON token_usage(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_token_usage_model ON token_usage(model)`,

		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			event_type TEXT NOT NULL,
			path TEXT,
			detail TEXT,
			tags TEXT,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
	}
}

// v3DDL adds the memory tier metadata table and the FTS5 search index.
func v3DDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS memory_metadata (
			key TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT 'warm',
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed TEXT,
			content_hash TEXT,
			byte_size INTEGER NOT NULL DEFAULT 0,
			created TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_metadata_provider ON memory_metadata(provider)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_metadata_tier ON memory_metadata(tier)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_metadata_hash ON memory_metadata(content_hash)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(key UNINDEXED, provider UNINDEXED, content)`,
	}
}
