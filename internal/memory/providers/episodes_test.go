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

func newTestEpisodes(t *testing.T, cfg dbconfig.EpisodesConfig) *Episodes {
	t.Helper()
	sub := testutil.NewSubstrate(t)
	kvStore := kv.New(sub)
	tierMgr := tiers.New(sub, dbconfig.DefaultConfig().Tiers)
	searchEngine := search.New(sub)
	return NewEpisodes(kvStore, tierMgr, searchEngine, cfg)
}

func TestEpisodesSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newTestEpisodes(t, dbconfig.DefaultConfig().Episodes)

	if err := e.OnSessionStart(ctx, "sess-1"); err != nil {
		t.Fatalf("OnSessionStart: %v", err)
	}
	e.NoteToolUse("sess-1", "read_file")
	e.NoteToolUse("sess-1", "write_file")

	if err := e.OnSessionEnd(ctx, "sess-1"); err != nil {
		t.Fatalf("OnSessionEnd: %v", err)
	}

	out, err := e.ContextForPrompt(ctx, "")
	if err != nil {
		t.Fatalf("ContextForPrompt: %v", err)
	}
	if !strings.Contains(out, "read_file") || !strings.Contains(out, "write_file") {
		t.Errorf("ContextForPrompt = %q, want it to mention both tools", out)
	}
}

func TestEpisodesSessionEndWithNoToolUseIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newTestEpisodes(t, dbconfig.DefaultConfig().Episodes)

	if err := e.OnSessionStart(ctx, "sess-1"); err != nil {
		t.Fatalf("OnSessionStart: %v", err)
	}
	if err := e.OnSessionEnd(ctx, "sess-1"); err != nil {
		t.Fatalf("OnSessionEnd: %v", err)
	}

	out, err := e.ContextForPrompt(ctx, "")
	if err != nil {
		t.Fatalf("ContextForPrompt: %v", err)
	}
	if out != "" {
		t.Errorf("ContextForPrompt = %q, want empty (no episode stored)", out)
	}
}

func TestEpisodesPruneOverLimit(t *testing.T) {
	ctx := context.Background()
	cfg := dbconfig.DefaultConfig().Episodes
	cfg.MaxEpisodes = 2
	e := newTestEpisodes(t, cfg)

	for i := 0; i < 3; i++ {
		sessID := "sess-" + string(rune('a'+i))
		if err := e.OnSessionStart(ctx, sessID); err != nil {
			t.Fatalf("OnSessionStart: %v", err)
		}
		e.NoteToolUse(sessID, "ls")
		if err := e.OnSessionEnd(ctx, sessID); err != nil {
			t.Fatalf("OnSessionEnd: %v", err)
		}
	}

	rows, err := e.kv.ListPrefix(ctx, episodeKeyPrefix)
	if err != nil {
		t.Fatalf("ListPrefix: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d episodes, want 2 after pruning", len(rows))
	}
}

func TestEpisodesContextForPromptLimitsToFive(t *testing.T) {
	ctx := context.Background()
	cfg := dbconfig.DefaultConfig().Episodes
	cfg.MaxEpisodes = 100
	e := newTestEpisodes(t, cfg)

	for i := 0; i < 7; i++ {
		ep := memtypes.Episode{SessionID: "s" + string(rune('a'+i)), Summary: "did something", Tools: []string{"ls"}, Outcome: "completed"}
		if err := e.Store(ctx, ep); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	out, err := e.ContextForPrompt(ctx, "")
	if err != nil {
		t.Fatalf("ContextForPrompt: %v", err)
	}
	if got := strings.Count(out, "did something"); got != 5 {
		t.Errorf("episode lines shown = %d, want 5", got)
	}
}
