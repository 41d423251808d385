package search

import (
	"context"
	"testing"

	"github.com/agnt-run/agentfs/internal/kv"
	"github.com/agnt-run/agentfs/internal/testutil"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		name, query, want string
	}{
		{"plain words", "hello world", `"hello" "world"`},
		{"strips punctuation", "foo! bar?", `"foo" "bar"`},
		{"keeps underscore and dash", "snake_case kebab-case", `"snake_case" "kebab-case"`},
		{"drops empty tokens", "-- ** ok", `"--" "ok"`},
		{"empty input", "", ""},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.query); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestIndexAndSearchBM25(t *testing.T) {
	ctx := context.Background()
	e := New(testutil.NewSubstrate(t))

	if err := e.Index(ctx, "memory:playbook:1", "playbook", "always check for nil pointers before dereferencing"); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := e.Index(ctx, "memory:episodes:1", "episodes", "deployed the service and monitored latency"); err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := e.SearchBM25(ctx, "nil pointers", "", 10)
	if err != nil {
		t.Fatalf("SearchBM25: %v", err)
	}
	if len(results) != 1 || results[0].Key != "memory:playbook:1" {
		t.Fatalf("SearchBM25 = %+v, want one playbook hit", results)
	}
}

func TestSearchBM25EmptyQueryReturnsNoRows(t *testing.T) {
	ctx := context.Background()
	e := New(testutil.NewSubstrate(t))

	if err := e.Index(ctx, "k1", "playbook", "some content"); err != nil {
		t.Fatalf("Index: %v", err)
	}
	results, err := e.SearchBM25(ctx, "!!! ***", "", 10)
	if err != nil {
		t.Fatalf("SearchBM25: %v", err)
	}
	if results != nil {
		t.Errorf("SearchBM25(empty) = %+v, want nil", results)
	}
}

func TestSearchBM25FiltersByProvider(t *testing.T) {
	ctx := context.Background()
	e := New(testutil.NewSubstrate(t))

	if err := e.Index(ctx, "a", "playbook", "shared keyword appears here"); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := e.Index(ctx, "b", "episodes", "shared keyword appears here too"); err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := e.SearchBM25(ctx, "shared keyword", "playbook", 10)
	if err != nil {
		t.Fatalf("SearchBM25: %v", err)
	}
	if len(results) != 1 || results[0].Key != "a" {
		t.Fatalf("SearchBM25 filtered = %+v, want only [a]", results)
	}
}

func TestRemoveDropsFromIndex(t *testing.T) {
	ctx := context.Background()
	e := New(testutil.NewSubstrate(t))

	if err := e.Index(ctx, "k1", "playbook", "unique searchable phrase"); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := e.Remove(ctx, "k1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	results, err := e.SearchBM25(ctx, "unique searchable", "", 10)
	if err != nil {
		t.Fatalf("SearchBM25: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("SearchBM25 after Remove = %+v, want empty", results)
	}
}

func TestApplyCombinedScoreResorts(t *testing.T) {
	results := []Result{
		{Key: "a", BM25: 1.0},
		{Key: "b", BM25: 1.0},
	}
	scores := map[string]float64{"a": 0.1, "b": 0.9}
	ApplyCombinedScore(results, scores)
	if results[0].Key != "b" {
		t.Errorf("top result = %s, want b (higher memory score)", results[0].Key)
	}
}

func TestRebuildIndexesMemoryPrefixedKeys(t *testing.T) {
	ctx := context.Background()
	sub := testutil.NewSubstrate(t)
	e := New(sub)
	kvStore := kv.New(sub)

	if err := kvStore.Set(ctx, "memory:playbook:1", `{"content":"retry transient network errors with backoff"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kvStore.Set(ctx, "other:unrelated", `{"content":"should not be indexed"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	indexed, err := e.Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if indexed != 1 {
		t.Fatalf("Rebuild indexed = %d, want 1", indexed)
	}

	results, err := e.SearchBM25(ctx, "transient network", "", 10)
	if err != nil {
		t.Fatalf("SearchBM25: %v", err)
	}
	if len(results) != 1 || results[0].Key != "memory:playbook:1" || results[0].Provider != "playbook" {
		t.Fatalf("SearchBM25 after Rebuild = %+v", results)
	}
}
