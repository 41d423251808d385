package providers

import (
	"context"
	"strings"
	"testing"

	"github.com/agnt-run/agentfs/internal/dbconfig"
	"github.com/agnt-run/agentfs/internal/kv"
	"github.com/agnt-run/agentfs/internal/memory/memtypes"
	"github.com/agnt-run/agentfs/internal/memory/search"
	"github.com/agnt-run/agentfs/internal/memory/tiers"
	"github.com/agnt-run/agentfs/internal/testutil"
)

func newTestPlaybook(t *testing.T, cfg dbconfig.PlaybookConfig) *Playbook {
	t.Helper()
	sub := testutil.NewSubstrate(t)
	kvStore := kv.New(sub)
	tierMgr := tiers.New(sub, dbconfig.DefaultConfig().Tiers)
	searchEngine := search.New(sub)
	return NewPlaybook(kvStore, tierMgr, searchEngine, cfg)
}

func TestPlaybookStoreAndReload(t *testing.T) {
	ctx := context.Background()
	cfg := dbconfig.DefaultConfig().Playbook
	p := newTestPlaybook(t, cfg)

	entry := memtypes.PlaybookEntry{ID: "abc", Category: "strategy", Content: "always verify before writing"}
	if err := p.Store(ctx, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if err := p.OnSessionStart(ctx, "sess-1"); err != nil {
		t.Fatalf("OnSessionStart: %v", err)
	}
	p.mu.RLock()
	_, ok := p.entries["memory:playbook:abc"]
	p.mu.RUnlock()
	if !ok {
		t.Fatal("entry not reloaded after OnSessionStart")
	}
}

func TestPlaybookContextForPromptRequiresPositiveScore(t *testing.T) {
	ctx := context.Background()
	cfg := dbconfig.DefaultConfig().Playbook
	p := newTestPlaybook(t, cfg)

	entry := memtypes.PlaybookEntry{ID: "abc", Category: "strategy", Content: "use retries"}
	if err := p.Store(ctx, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := p.OnSessionStart(ctx, "sess-1"); err != nil {
		t.Fatalf("OnSessionStart: %v", err)
	}

	// Fresh entry with zero helpful/harmful counters has a positive
	// relevance score from the recency term alone.
	out, err := p.ContextForPrompt(ctx, "")
	if err != nil {
		t.Fatalf("ContextForPrompt: %v", err)
	}
	if !strings.Contains(out, "use retries") {
		t.Errorf("ContextForPrompt = %q, want it to contain the entry content", out)
	}
	if !strings.Contains(out, "STRATEGIES") {
		t.Errorf("ContextForPrompt = %q, want STRATEGIES header", out)
	}
}

func TestPlaybookOnReflectionAddsLearningsAndBumpsCounters(t *testing.T) {
	ctx := context.Background()
	cfg := dbconfig.DefaultConfig().Playbook
	p := newTestPlaybook(t, cfg)

	entry := memtypes.PlaybookEntry{ID: "abc", Category: "mistake", Content: "do not overwrite configs blindly"}
	if err := p.Store(ctx, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := p.OnSessionStart(ctx, "sess-1"); err != nil {
		t.Fatalf("OnSessionStart: %v", err)
	}

	reflection := memtypes.Reflection{
		HelpfulIDs: []string{"abc"},
		Learnings: []memtypes.Learning{
			{Category: "pattern", Content: "batch writes together", Confidence: 0.9},
			{Category: "pattern", Content: "low confidence idea", Confidence: 0.1},
		},
	}
	if err := p.OnReflection(ctx, reflection); err != nil {
		t.Fatalf("OnReflection: %v", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.entries["memory:playbook:abc"].Helpful != 1 {
		t.Errorf("Helpful = %d, want 1", p.entries["memory:playbook:abc"].Helpful)
	}
	foundNewLearning := false
	for _, e := range p.entries {
		if e.Content == "batch writes together" {
			foundNewLearning = true
		}
		if e.Content == "low confidence idea" {
			t.Error("low-confidence learning should have been skipped")
		}
	}
	if !foundNewLearning {
		t.Error("high-confidence learning was not persisted")
	}
}

func TestPlaybookOnReflectionSkipsDuplicateContent(t *testing.T) {
	ctx := context.Background()
	cfg := dbconfig.DefaultConfig().Playbook
	p := newTestPlaybook(t, cfg)

	entry := memtypes.PlaybookEntry{ID: "abc", Category: "strategy", Content: "verify inputs"}
	if err := p.Store(ctx, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := p.OnSessionStart(ctx, "sess-1"); err != nil {
		t.Fatalf("OnSessionStart: %v", err)
	}

	reflection := memtypes.Reflection{
		Learnings: []memtypes.Learning{
			{Category: "strategy", Content: "verify inputs", Confidence: 0.9},
		},
	}
	if err := p.OnReflection(ctx, reflection); err != nil {
		t.Fatalf("OnReflection: %v", err)
	}

	p.mu.RLock()
	count := len(p.entries)
	p.mu.RUnlock()
	if count != 1 {
		t.Errorf("entries = %d, want 1 (duplicate should not be added)", count)
	}
}

func TestPlaybookEvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	cfg := dbconfig.DefaultConfig().Playbook
	cfg.MaxEntries = 1
	p := newTestPlaybook(t, cfg)

	entry := memtypes.PlaybookEntry{ID: "abc", Category: "strategy", Content: "first entry"}
	if err := p.Store(ctx, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := p.OnSessionStart(ctx, "sess-1"); err != nil {
		t.Fatalf("OnSessionStart: %v", err)
	}

	reflection := memtypes.Reflection{
		Learnings: []memtypes.Learning{
			{Category: "strategy", Content: "second entry that evicts the first", Confidence: 0.9},
		},
	}
	if err := p.OnReflection(ctx, reflection); err != nil {
		t.Fatalf("OnReflection: %v", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.entries) != 1 {
		t.Errorf("entries = %d, want 1 after eviction", len(p.entries))
	}
}
