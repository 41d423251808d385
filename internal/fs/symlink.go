package fs

import (
	"context"
	"database/sql"
)

// Symlink creates a symbolic link at path pointing at target. target is
// stored verbatim and is not resolved or validated against the tree.
func (f *FS) Symlink(ctx context.Context, path, target string) error {
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
		if _, err := lookupDentry(ctx, tx, parentIno, name); err == nil {
			return &AlreadyExists{Path: path}
		} else if _, ok := err.(*FileNotFound); !ok {
			return err
		}

		now, err := nowSQL(tx)
		if err != nil {
			return err
		}
		ino, err := createInode(tx, ModeSymlink|0o777, int64(len(target)), now)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO fs_symlink (ino, target) VALUES (?, ?)`, ino, target); err != nil {
			return err
		}
		if err := insertDentry(tx, parentIno, name, ino); err != nil {
			return err
		}
		f.cacheStore(parentIno, name, ino)

		return tx.Commit()
	})
}

// ReadLink resolves path (without following the final symlink) and returns
// its stored target.
func (f *FS) ReadLink(ctx context.Context, path string) (string, error) {
	guard, err := f.sub.Readers.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer guard.Release()
	db := guard.DB()

	ino, err := f.resolve(ctx, db, path)
	if err != nil {
		return "", err
	}
	st, err := loadStat(ctx, db, ino)
	if err != nil {
		return "", err
	}
	if !st.IsSymlink() {
		return "", &NotAFile{Path: path}
	}

	var target string
	if err := db.QueryRowContext(ctx, `SELECT target FROM fs_symlink WHERE ino = ?`, ino).Scan(&target); err != nil {
		return "", err
	}
	return target, nil
}
