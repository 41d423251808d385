package fs

import (
	"context"
	"testing"

	"github.com/agnt-run/agentfs/internal/testutil"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	sub := testutil.NewSubstrate(t)
	return New(sub, 65536, true, 0)
}

func TestWriteReadFile(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)

	if err := f.WriteFile(ctx, "/a/b.txt", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := f.ReadFile(ctx, "/a/b.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadFile = %q, want hello", data)
	}

	st, err := f.Stat(ctx, "/a")
	if err != nil {
		t.Fatalf("Stat(/a): %v", err)
	}
	if !st.IsDir() {
		t.Errorf("Stat(/a).IsDir() = false, want true (auto-created parent)")
	}
}

func TestWriteFileTruncatesExisting(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)

	if err := f.WriteFile(ctx, "/x.txt", []byte("first version is longer")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := f.WriteFile(ctx, "/x.txt", []byte("short")); err != nil {
		t.Fatalf("WriteFile (overwrite): %v", err)
	}
	data, err := f.ReadFile(ctx, "/x.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "short" {
		t.Errorf("ReadFile = %q, want short", data)
	}
}

func TestAppendFileCreatesThenAppends(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)

	if err := f.AppendFile(ctx, "/log.txt", []byte("line1\n")); err != nil {
		t.Fatalf("AppendFile (create): %v", err)
	}
	if err := f.AppendFile(ctx, "/log.txt", []byte("line2\n")); err != nil {
		t.Fatalf("AppendFile (append): %v", err)
	}
	data, err := f.ReadFile(ctx, "/log.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "line1\nline2\n" {
		t.Errorf("ReadFile = %q, want line1\\nline2\\n", data)
	}
}

func TestAppendAcrossChunkBoundary(t *testing.T) {
	ctx := context.Background()
	sub := testutil.NewSubstrate(t)
	f := New(sub, 8, true, 0) // tiny chunk size to force multi-chunk append

	if err := f.WriteFile(ctx, "/c.bin", []byte("1234567")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := f.AppendFile(ctx, "/c.bin", []byte("890ABCDEFGHI")); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}
	data, err := f.ReadFile(ctx, "/c.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "1234567890ABCDEFGHI" {
		t.Errorf("ReadFile = %q, want 1234567890ABCDEFGHI", data)
	}
}

func TestRemoveFile(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)

	if err := f.WriteFile(ctx, "/a.txt", []byte("data")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := f.RemoveFile(ctx, "/a.txt"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if _, err := f.ReadFile(ctx, "/a.txt"); err == nil {
		t.Fatal("ReadFile after RemoveFile: want error")
	}
}

func TestMkdirReadDirRmdir(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)

	if err := f.Mkdir(ctx, "/dir"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := f.Mkdir(ctx, "/dir"); err != nil {
		t.Fatalf("Mkdir duplicate: want idempotent success, got %v", err)
	}

	if err := f.WriteFile(ctx, "/dir/f.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := f.Mkdir(ctx, "/dir/f.txt"); err == nil {
		t.Fatal("Mkdir over existing file: want error")
	} else if _, ok := err.(*AlreadyExists); !ok {
		t.Fatalf("Mkdir over existing file err type = %T, want *AlreadyExists", err)
	}

	entries, err := f.ReadDir(ctx, "/dir")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "f.txt" {
		t.Fatalf("ReadDir = %+v, want [f.txt]", entries)
	}

	if err := f.Rmdir(ctx, "/dir"); err == nil {
		t.Fatal("Rmdir non-empty: want DirectoryNotEmpty error")
	}
	if err := f.RemoveFile(ctx, "/dir/f.txt"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if err := f.Rmdir(ctx, "/dir"); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
}

func TestRenameFile(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)

	if err := f.WriteFile(ctx, "/a.txt", []byte("data")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := f.Rename(ctx, "/a.txt", "/nested/b.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := f.ReadFile(ctx, "/a.txt"); err == nil {
		t.Fatal("ReadFile(/a.txt) after rename: want error")
	}
	data, err := f.ReadFile(ctx, "/nested/b.txt")
	if err != nil {
		t.Fatalf("ReadFile(/nested/b.txt): %v", err)
	}
	if string(data) != "data" {
		t.Errorf("ReadFile = %q, want data", data)
	}
}

func TestRenameRefusesDirOverFile(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)

	if err := f.Mkdir(ctx, "/d"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := f.WriteFile(ctx, "/f.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := f.Rename(ctx, "/d", "/f.txt"); err == nil {
		t.Fatal("Rename dir over file: want error")
	}
}

func TestRemoveTree(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)

	if err := f.WriteFile(ctx, "/tree/a/b.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := f.WriteFile(ctx, "/tree/c.txt", []byte("y")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := f.RemoveTree(ctx, "/tree"); err != nil {
		t.Fatalf("RemoveTree: %v", err)
	}
	if exists, _ := f.Exists(ctx, "/tree"); exists {
		t.Error("RemoveTree: /tree still exists")
	}
}

func TestRemoveTreeRefusesRoot(t *testing.T) {
	f := newTestFS(t)
	if err := f.RemoveTree(context.Background(), "/"); err == nil {
		t.Fatal("RemoveTree(/): want error")
	}
}

func TestSymlink(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)

	if err := f.WriteFile(ctx, "/target.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := f.Symlink(ctx, "/link", "/target.txt"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	target, err := f.ReadLink(ctx, "/link")
	if err != nil {
		t.Fatalf("ReadLink: %v", err)
	}
	if target != "/target.txt" {
		t.Errorf("ReadLink = %q, want /target.txt", target)
	}
	st, err := f.Stat(ctx, "/link")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !st.IsSymlink() {
		t.Error("Stat(/link).IsSymlink() = false, want true")
	}
}

func TestSearchGlob(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)

	for _, p := range []string{"/a/x.txt", "/a/y.txt", "/a/b/z.txt", "/a/note.md"} {
		if err := f.WriteFile(ctx, p, []byte("x")); err != nil {
			t.Fatalf("WriteFile(%q): %v", p, err)
		}
	}

	results, err := f.Search(ctx, "/a", "*.txt")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3: %+v", len(results), results)
	}
}

func TestTreeStructure(t *testing.T) {
	ctx := context.Background()
	f := newTestFS(t)

	if err := f.WriteFile(ctx, "/a/b.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	tree, err := f.Tree(ctx, "/")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if len(tree.Children) != 1 || tree.Children[0].Name != "a" {
		t.Fatalf("Tree = %+v", tree)
	}
	if len(tree.Children[0].Children) != 1 || tree.Children[0].Children[0].Name != "b.txt" {
		t.Fatalf("Tree children = %+v", tree.Children[0].Children)
	}
}
