package compaction

import (
	"context"
	"testing"

	"github.com/agnt-run/agentfs/internal/dbconfig"
	"github.com/agnt-run/agentfs/internal/kv"
	"github.com/agnt-run/agentfs/internal/memory/search"
	"github.com/agnt-run/agentfs/internal/memory/tiers"
	"github.com/agnt-run/agentfs/internal/store"
	"github.com/agnt-run/agentfs/internal/testutil"
)

func newTestEngine(t *testing.T, cfg dbconfig.CompactionConfig) (*Engine, *store.Substrate, *tiers.Manager) {
	t.Helper()
	sub := testutil.NewSubstrate(t)
	tierMgr := tiers.New(sub, dbconfig.DefaultConfig().Tiers)
	searchEngine := search.New(sub)
	return New(sub, tierMgr, searchEngine, cfg), sub, tierMgr
}

func TestContentHashDeterministic(t *testing.T) {
	h1 := ContentHash([]byte("hello world"))
	h2 := ContentHash([]byte("hello world"))
	if h1 != h2 {
		t.Errorf("ContentHash not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 16 {
		t.Errorf("ContentHash length = %d, want 16", len(h1))
	}
}

func TestDedupScanRemovesDuplicateContent(t *testing.T) {
	ctx := context.Background()
	cfg := dbconfig.DefaultConfig().Compaction
	e, sub, tierMgr := newTestEngine(t, cfg)
	kvStore := kv.New(sub)

	content := `{"content":"duplicate entry"}`
	hash := ContentHash([]byte(content))

	if err := kvStore.Set(ctx, "memory:playbook:a", content); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tierMgr.EnsureMetadata(ctx, "memory:playbook:a", "playbook", hash, len(content)); err != nil {
		t.Fatalf("EnsureMetadata: %v", err)
	}
	if err := kvStore.Set(ctx, "memory:playbook:b", content); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tierMgr.EnsureMetadata(ctx, "memory:playbook:b", "playbook", hash, len(content)); err != nil {
		t.Fatalf("EnsureMetadata: %v", err)
	}

	result, err := e.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.DuplicatesRemoved != 1 {
		t.Errorf("DuplicatesRemoved = %d, want 1", result.DuplicatesRemoved)
	}

	if _, err := kvStore.Get(ctx, "memory:playbook:a"); err != nil {
		t.Errorf("first (oldest) duplicate should survive: Get err = %v", err)
	}
	if _, err := kvStore.Get(ctx, "memory:playbook:b"); err != kv.ErrKeyNotFound {
		t.Errorf("second duplicate should have been removed: Get err = %v", err)
	}
}

func TestRunCycleRebalancesTiers(t *testing.T) {
	ctx := context.Background()
	cfg := dbconfig.DefaultConfig().Compaction
	cfg.DedupEnabled = false
	e, _, tierMgr := newTestEngine(t, cfg)

	if err := tierMgr.EnsureMetadata(ctx, "k1", "playbook", "h1", 1); err != nil {
		t.Fatalf("EnsureMetadata: %v", err)
	}

	result, err := e.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.EpisodesCompressed != 0 {
		t.Errorf("EpisodesCompressed = %d, want 0 (pressure not high)", result.EpisodesCompressed)
	}
}
