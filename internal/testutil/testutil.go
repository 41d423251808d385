// Package testutil centralizes scratch-database setup used by every
// package's _test.go files, following the teacher's setupTestDB pattern
// (internal/memorygraph/store_test.go) generalized to this engine's own
// substrate and schema.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/agnt-run/agentfs/internal/dbconfig"
	"github.com/agnt-run/agentfs/internal/store"
)

// NewConfig returns a valid Config pointed at a fresh database path
// inside t.TempDir(), with every default from dbconfig.DefaultConfig().
func NewConfig(t *testing.T) dbconfig.Config {
	t.Helper()
	cfg, err := dbconfig.Merge(dbconfig.Config{
		DBPath:      filepath.Join(t.TempDir(), "test.db"),
		ReaderCount: 2,
	})
	if err != nil {
		t.Fatalf("testutil: merge config: %v", err)
	}
	return cfg
}

// NewSubstrate opens a fresh Substrate with a current schema over a temp
// database, registering t.Cleanup to close it.
func NewSubstrate(t *testing.T) *store.Substrate {
	t.Helper()
	cfg := NewConfig(t)

	sub, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("testutil: open substrate: %v", err)
	}
	t.Cleanup(func() { sub.Close() })

	if err := store.EnsureSchema(sub.Writer, cfg.ChunkSize); err != nil {
		t.Fatalf("testutil: ensure schema: %v", err)
	}
	return sub
}

// NewSubstrateWithConfig is like NewSubstrate but lets the caller tune
// cfg (e.g. a smaller chunk size) before opening.
func NewSubstrateWithConfig(t *testing.T, cfg dbconfig.Config) *store.Substrate {
	t.Helper()
	sub, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("testutil: open substrate: %v", err)
	}
	t.Cleanup(func() { sub.Close() })

	if err := store.EnsureSchema(sub.Writer, cfg.ChunkSize); err != nil {
		t.Fatalf("testutil: ensure schema: %v", err)
	}
	return sub
}
