package fs

import (
	"context"
	"database/sql"
	"sort"
)

// Mkdir creates a directory at path. The parent must already exist and be
// a directory. If path already exists as a directory, Mkdir succeeds
// idempotently; if it exists as anything else, it fails.
func (f *FS) Mkdir(ctx context.Context, path string) error {
	return f.sub.Writer.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		parentIno, name, err := f.resolveParent(ctx, tx, path)
		if err != nil {
			return err
		}
		parentStat, err := loadStat(ctx, tx, parentIno)
		if err != nil {
			return err
		}
		if !parentStat.IsDir() {
			return &NotADirectory{Path: path}
		}

		if existingIno, err := lookupDentry(ctx, tx, parentIno, name); err == nil {
			existingStat, err := loadStat(ctx, tx, existingIno)
			if err != nil {
				return err
			}
			if !existingStat.IsDir() {
				return &AlreadyExists{Path: path}
			}
			return tx.Commit()
		} else if _, ok := err.(*FileNotFound); !ok {
			return err
		}

		now, err := nowSQL(tx)
		if err != nil {
			return err
		}
		ino, err := createInode(tx, DefaultDirPerm, 0, now)
		if err != nil {
			return err
		}
		if err := insertDentry(tx, parentIno, name, ino); err != nil {
			return err
		}
		f.cacheStore(parentIno, name, ino)

		return tx.Commit()
	})
}

// ReadDir lists the direct children of the directory at path.
func (f *FS) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	guard, err := f.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()
	db := guard.DB()

	var ino int64
	if path == "/" {
		ino = RootIno
	} else {
		ino, err = f.resolve(ctx, db, path)
		if err != nil {
			return nil, err
		}
	}
	st, err := loadStat(ctx, db, ino)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, &NotADirectory{Path: path}
	}

	rows, err := db.QueryContext(ctx, `SELECT name, ino FROM fs_dentry WHERE parent_ino = ? ORDER BY name`, ino)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DirEntry
	for rows.Next() {
		var name string
		var childIno int64
		if err := rows.Scan(&name, &childIno); err != nil {
			return nil, err
		}
		childStat, err := loadStat(ctx, db, childIno)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{Name: name, Stat: childStat})
	}
	return entries, rows.Err()
}

// Rmdir removes the empty directory at path.
func (f *FS) Rmdir(ctx context.Context, path string) error {
	return f.sub.Writer.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		parentIno, name, err := f.resolveParent(ctx, tx, path)
		if err != nil {
			return err
		}
		ino, err := lookupDentry(ctx, tx, parentIno, name)
		if err != nil {
			return err
		}
		st, err := loadStat(ctx, tx, ino)
		if err != nil {
			return err
		}
		if !st.IsDir() {
			return &NotADirectory{Path: path}
		}
		empty, err := dirIsEmpty(ctx, tx, ino)
		if err != nil {
			return err
		}
		if !empty {
			return &DirectoryNotEmpty{Path: path}
		}

		if _, err := tx.Exec(`DELETE FROM fs_dentry WHERE parent_ino = ? AND name = ?`, parentIno, name); err != nil {
			return err
		}
		if _, err := unlinkInode(tx, ino); err != nil {
			return err
		}
		f.cacheInvalidate(parentIno, name)

		return tx.Commit()
	})
}

func dirIsEmpty(ctx context.Context, q queryer, ino int64) (bool, error) {
	var count int
	if err := q.QueryRowContext(ctx, `SELECT count(*) FROM fs_dentry WHERE parent_ino = ?`, ino).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

// Rename moves the entry at oldPath to newPath. If newPath names an
// existing empty directory or an existing file it is replaced; a
// non-empty target directory is refused.
func (f *FS) Rename(ctx context.Context, oldPath, newPath string) error {
	return f.sub.Writer.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		oldParent, oldName, err := f.resolveParent(ctx, tx, oldPath)
		if err != nil {
			return err
		}
		srcIno, err := lookupDentry(ctx, tx, oldParent, oldName)
		if err != nil {
			return err
		}
		srcStat, err := loadStat(ctx, tx, srcIno)
		if err != nil {
			return err
		}

		newParent, newName, err := f.resolveParentCreating(ctx, tx, newPath)
		if err != nil {
			return err
		}

		if dstIno, err := lookupDentry(ctx, tx, newParent, newName); err == nil {
			dstStat, err := loadStat(ctx, tx, dstIno)
			if err != nil {
				return err
			}
			if dstStat.IsDir() {
				if !srcStat.IsDir() {
					return &NotADirectory{Path: newPath}
				}
				empty, err := dirIsEmpty(ctx, tx, dstIno)
				if err != nil {
					return err
				}
				if !empty {
					return &DirectoryNotEmpty{Path: newPath}
				}
			} else if srcStat.IsDir() {
				return &NotADirectory{Path: newPath}
			}
			if _, err := tx.Exec(`DELETE FROM fs_dentry WHERE parent_ino = ? AND name = ?`, newParent, newName); err != nil {
				return err
			}
			if _, err := unlinkInode(tx, dstIno); err != nil {
				return err
			}
		} else if _, ok := err.(*FileNotFound); !ok {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM fs_dentry WHERE parent_ino = ? AND name = ?`, oldParent, oldName); err != nil {
			return err
		}
		if err := insertDentry(tx, newParent, newName, srcIno); err != nil {
			return err
		}
		now, err := nowSQL(tx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE fs_inode SET mtime = ? WHERE ino = ?`, now, srcIno); err != nil {
			return err
		}

		f.cacheInvalidate(oldParent, oldName)
		f.cacheInvalidateAll()

		return tx.Commit()
	})
}

// RemoveTree recursively removes path and everything beneath it. Removing
// the root itself is refused.
func (f *FS) RemoveTree(ctx context.Context, path string) error {
	return f.sub.Writer.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		parentIno, name, err := f.resolveParent(ctx, tx, path)
		if err != nil {
			return err
		}
		ino, err := lookupDentry(ctx, tx, parentIno, name)
		if err != nil {
			return err
		}
		if err := removeTreeRecursive(ctx, tx, ino); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM fs_dentry WHERE parent_ino = ? AND name = ?`, parentIno, name); err != nil {
			return err
		}
		if _, err := unlinkInode(tx, ino); err != nil {
			return err
		}
		f.cacheInvalidateAll()

		return tx.Commit()
	})
}

func removeTreeRecursive(ctx context.Context, tx *sql.Tx, ino int64) error {
	st, err := loadStat(ctx, tx, ino)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT name, ino FROM fs_dentry WHERE parent_ino = ?`, ino)
	if err != nil {
		return err
	}
	type child struct {
		name string
		ino  int64
	}
	var children []child
	for rows.Next() {
		var c child
		if err := rows.Scan(&c.name, &c.ino); err != nil {
			rows.Close()
			return err
		}
		children = append(children, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range children {
		if err := removeTreeRecursive(ctx, tx, c.ino); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM fs_dentry WHERE parent_ino = ? AND name = ?`, ino, c.name); err != nil {
			return err
		}
		if _, err := unlinkInode(tx, c.ino); err != nil {
			return err
		}
	}
	return nil
}

// Tree returns a recursive listing of path and its descendants.
func (f *FS) Tree(ctx context.Context, path string) (TreeNode, error) {
	guard, err := f.sub.Readers.Acquire(ctx)
	if err != nil {
		return TreeNode{}, err
	}
	defer guard.Release()
	db := guard.DB()

	var ino int64
	if path == "/" {
		ino = RootIno
	} else {
		ino, err = f.resolve(ctx, db, path)
		if err != nil {
			return TreeNode{}, err
		}
	}
	name := path
	if idx := lastSlash(path); idx >= 0 {
		name = path[idx+1:]
	}
	if name == "" {
		name = "/"
	}
	return buildTree(ctx, db, name, ino)
}

func buildTree(ctx context.Context, db *sql.DB, name string, ino int64) (TreeNode, error) {
	st, err := loadStat(ctx, db, ino)
	if err != nil {
		return TreeNode{}, err
	}
	node := TreeNode{Name: name, Stat: st}
	if !st.IsDir() {
		return node, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT name, ino FROM fs_dentry WHERE parent_ino = ? ORDER BY name`, ino)
	if err != nil {
		return TreeNode{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var childName string
		var childIno int64
		if err := rows.Scan(&childName, &childIno); err != nil {
			return TreeNode{}, err
		}
		childNode, err := buildTree(ctx, db, childName, childIno)
		if err != nil {
			return TreeNode{}, err
		}
		node.Children = append(node.Children, childNode)
	}
	sort.Slice(node.Children, func(i, j int) bool { return node.Children[i].Name < node.Children[j].Name })
	return node, nil
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}
