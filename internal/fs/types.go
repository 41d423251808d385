// Package fs implements the POSIX-ish virtual filesystem: inodes,
// dentries, fixed-size chunks keyed by (inode, chunk index), and symlinks, all backed
// by the shared SQLite substrate.
package fs

import (
	"fmt"
	"sync"
	"time"

	"github.com/agnt-run/agentfs/internal/store"
)

// Mode bits, POSIX type bits only — this filesystem does not enforce
// permission bits, it merely stores them.
const (
	ModeDir     uint32 = 0o040000
	ModeFile    uint32 = 0o100000
	ModeSymlink uint32 = 0o120000

	DefaultDirPerm  uint32 = ModeDir | 0o755
	DefaultFilePerm uint32 = ModeFile | 0o644
)

// RootIno is the inode number of the filesystem root. It is created once
// at schema initialization and is never removed.
const RootIno int64 = 1

// Stat describes an inode's metadata.
type Stat struct {
	Ino   int64
	Mode  uint32
	Size  int64
	Nlink int
	Ctime time.Time
	Mtime time.Time
	Atime time.Time
}

// IsDir reports whether the stat describes a directory.
func (s Stat) IsDir() bool { return s.Mode&0o170000 == ModeDir }

// IsFile reports whether the stat describes a regular file.
func (s Stat) IsFile() bool { return s.Mode&0o170000 == ModeFile }

// IsSymlink reports whether the stat describes a symlink.
func (s Stat) IsSymlink() bool { return s.Mode&0o170000 == ModeSymlink }

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	Name string
	Stat Stat
}

// TreeNode is one node of a recursive Tree() traversal.
type TreeNode struct {
	Name     string
	Stat     Stat
	Children []TreeNode
}

// Sentinel errors. Structured errors below additionally carry the
// offending path/value.
var (
	ErrPoolShutDown = store.ErrPoolShutDown
)

// FileNotFound is returned when a path component, or the path itself,
// does not resolve to an existing dentry.
type FileNotFound struct{ Path string }

func (e *FileNotFound) Error() string { return fmt.Sprintf("agentfs: file not found: %s", e.Path) }

// NotADirectory is returned when an operation that requires a directory
// is given a path that resolves to a non-directory inode.
type NotADirectory struct{ Path string }

func (e *NotADirectory) Error() string { return fmt.Sprintf("agentfs: not a directory: %s", e.Path) }

// NotAFile is returned when an operation that requires a regular file is
// given a path that resolves to a non-file inode.
type NotAFile struct{ Path string }

func (e *NotAFile) Error() string { return fmt.Sprintf("agentfs: not a file: %s", e.Path) }

// DirectoryNotEmpty is returned by rmdir and rename operations that
// refuse to remove or replace a directory with children.
type DirectoryNotEmpty struct{ Path string }

func (e *DirectoryNotEmpty) Error() string {
	return fmt.Sprintf("agentfs: directory not empty: %s", e.Path)
}

// InvalidPath is returned for malformed paths and for operations refused
// on the root ("/").
type InvalidPath struct {
	Path   string
	Reason string
}

func (e *InvalidPath) Error() string {
	return fmt.Sprintf("agentfs: invalid path %q: %s", e.Path, e.Reason)
}

// AlreadyExists is returned when a create-only operation targets a path
// that already exists as an incompatible kind.
type AlreadyExists struct{ Path string }

func (e *AlreadyExists) Error() string { return fmt.Sprintf("agentfs: already exists: %s", e.Path) }

// FS is the virtual filesystem, sharing the engine's connection substrate.
type FS struct {
	sub             *store.Substrate
	chunkSize       int
	verifyChecksums bool

	cacheMu sync.Mutex
	cache   map[dentryKey]int64
	cacheCap int
}

type dentryKey struct {
	parent int64
	name   string
}

// New constructs an FS over an already-open substrate. chunkSize must match
// the value persisted in agentfs_meta at database creation.
func New(sub *store.Substrate, chunkSize int, verifyChecksums bool, cacheCap int) *FS {
	if cacheCap <= 0 {
		cacheCap = 4096
	}
	return &FS{
		sub:             sub,
		chunkSize:       chunkSize,
		verifyChecksums: verifyChecksums,
		cache:           make(map[dentryKey]int64, cacheCap),
		cacheCap:        cacheCap,
	}
}
