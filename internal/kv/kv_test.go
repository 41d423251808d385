package kv

import (
	"context"
	"testing"

	"github.com/agnt-run/agentfs/internal/testutil"
)

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	store := New(testutil.NewSubstrate(t))

	if _, err := store.Get(ctx, "missing"); err != ErrKeyNotFound {
		t.Fatalf("Get(missing) err = %v, want ErrKeyNotFound", err)
	}

	if err := store.Set(ctx, "greeting", "hello"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, err := store.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if value != "hello" {
		t.Errorf("Get = %q, want hello", value)
	}

	if err := store.Set(ctx, "greeting", "goodbye"); err != nil {
		t.Fatalf("Set (overwrite): %v", err)
	}
	value, err = store.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if value != "goodbye" {
		t.Errorf("Get after overwrite = %q, want goodbye", value)
	}

	if err := store.Delete(ctx, "greeting"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "greeting"); err != ErrKeyNotFound {
		t.Fatalf("Get after delete: err = %v, want ErrKeyNotFound", err)
	}
}

func TestDeleteMissingKeyReturnsKeyNotFound(t *testing.T) {
	store := New(testutil.NewSubstrate(t))
	if err := store.Delete(context.Background(), "never-existed"); err != ErrKeyNotFound {
		t.Fatalf("Delete missing key: err = %v, want ErrKeyNotFound", err)
	}
}

func TestListPrefix(t *testing.T) {
	ctx := context.Background()
	store := New(testutil.NewSubstrate(t))

	entries := map[string]string{
		"memory:playbook:a": "1",
		"memory:playbook:b": "2",
		"memory:episodes:c": "3",
		"other:d":           "4",
	}
	for k, v := range entries {
		if err := store.Set(ctx, k, v); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}

	results, err := store.ListPrefix(ctx, "memory:playbook:")
	if err != nil {
		t.Fatalf("ListPrefix: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d entries, want 2", len(results))
	}
	if results[0].Key != "memory:playbook:a" || results[1].Key != "memory:playbook:b" {
		t.Errorf("got %+v", results)
	}
}

func TestListPrefixEscapesLikeMetacharacters(t *testing.T) {
	ctx := context.Background()
	store := New(testutil.NewSubstrate(t))

	if err := store.Set(ctx, "a%b_c", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "axbyc", "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	results, err := store.ListPrefix(ctx, "a%b_c")
	if err != nil {
		t.Fatalf("ListPrefix: %v", err)
	}
	if len(results) != 1 || results[0].Key != "a%b_c" {
		t.Fatalf("got %+v, want exactly the literal key", results)
	}
}
