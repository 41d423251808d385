package fs

import (
	"context"
	"database/sql"
	"strings"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// splitPath validates and splits an absolute POSIX-ish path into its
// non-empty components. "/" splits to an empty slice (the root itself).
// "." and ".." are not supported as path components.
func splitPath(path string) ([]string, error) {
	if path == "" || path[0] != '/' {
		return nil, &InvalidPath{Path: path, Reason: "path must be absolute"}
	}
	if path == "/" {
		return nil, nil
	}
	raw := strings.Split(strings.TrimPrefix(path, "/"), "/")
	segments := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" {
			return nil, &InvalidPath{Path: path, Reason: "empty path component"}
		}
		if seg == "." || seg == ".." {
			return nil, &InvalidPath{Path: path, Reason: "relative path components are not supported"}
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// resolve walks path from the root, consulting the dentry cache before
// falling back to fs_dentry, and returns the inode number it names.
func (f *FS) resolve(ctx context.Context, q queryer, path string) (int64, error) {
	segments, err := splitPath(path)
	if err != nil {
		return 0, err
	}
	ino := RootIno
	for _, seg := range segments {
		next, ok := f.cacheLookup(ino, seg)
		if !ok {
			next, err = lookupDentry(ctx, q, ino, seg)
			if err != nil {
				return 0, err
			}
			f.cacheStore(ino, seg, next)
		}
		ino = next
	}
	return ino, nil
}

// ensureParentDirs walks dirPath from the root, creating any missing
// directory components (mkdir -p semantics), and returns the final
// directory's inode. An existing non-directory component blocking the
// path is an error.
func (f *FS) ensureParentDirs(ctx context.Context, tx *sql.Tx, dirPath string) (int64, error) {
	segments, err := splitPath(dirPath)
	if err != nil {
		return 0, err
	}
	ino := RootIno
	for _, seg := range segments {
		next, lookupErr := lookupDentry(ctx, tx, ino, seg)
		if lookupErr == nil {
			st, err := loadStat(ctx, tx, next)
			if err != nil {
				return 0, err
			}
			if !st.IsDir() {
				return 0, &NotADirectory{Path: dirPath}
			}
			f.cacheStore(ino, seg, next)
			ino = next
			continue
		}
		if _, ok := lookupErr.(*FileNotFound); !ok {
			return 0, lookupErr
		}
		now, err := nowSQL(tx)
		if err != nil {
			return 0, err
		}
		childIno, err := createInode(tx, DefaultDirPerm, 0, now)
		if err != nil {
			return 0, err
		}
		if err := insertDentry(tx, ino, seg, childIno); err != nil {
			return 0, err
		}
		f.cacheStore(ino, seg, childIno)
		ino = childIno
	}
	return ino, nil
}

// dirOf returns the parent directory path of an already-validated
// non-root path's segments.
func dirOf(segments []string) string {
	return "/" + strings.Join(segments[:len(segments)-1], "/")
}

// resolveParent resolves path's parent directory inode and returns it
// along with the final path component. The root itself cannot be passed.
// The parent directory must already exist.
func (f *FS) resolveParent(ctx context.Context, q queryer, path string) (parentIno int64, name string, err error) {
	segments, err := splitPath(path)
	if err != nil {
		return 0, "", err
	}
	if len(segments) == 0 {
		return 0, "", &InvalidPath{Path: path, Reason: "operation not permitted on root"}
	}
	parentIno, err = f.resolve(ctx, q, dirOf(segments))
	if err != nil {
		return 0, "", err
	}
	return parentIno, segments[len(segments)-1], nil
}

// resolveParentCreating is like resolveParent but creates any missing
// parent directory components (mkdir -p semantics), as write_file and
// rename's destination side require.
func (f *FS) resolveParentCreating(ctx context.Context, tx *sql.Tx, path string) (parentIno int64, name string, err error) {
	segments, err := splitPath(path)
	if err != nil {
		return 0, "", err
	}
	if len(segments) == 0 {
		return 0, "", &InvalidPath{Path: path, Reason: "operation not permitted on root"}
	}
	parentIno, err = f.ensureParentDirs(ctx, tx, dirOf(segments))
	if err != nil {
		return 0, "", err
	}
	return parentIno, segments[len(segments)-1], nil
}

func lookupDentry(ctx context.Context, q queryer, parent int64, name string) (int64, error) {
	var ino int64
	err := q.QueryRowContext(ctx, `SELECT ino FROM fs_dentry WHERE parent_ino = ? AND name = ?`, parent, name).Scan(&ino)
	if err == sql.ErrNoRows {
		return 0, &FileNotFound{Path: name}
	}
	if err != nil {
		return 0, err
	}
	return ino, nil
}
