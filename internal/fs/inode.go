package fs

import (
	"context"
	"database/sql"
	"fmt"
)

func scanStat(row *sql.Row) (Stat, error) {
	var s Stat
	var ctime, mtime, atime string
	if err := row.Scan(&s.Ino, &s.Mode, &s.Size, &s.Nlink, &ctime, &mtime, &atime); err != nil {
		return Stat{}, err
	}
	var err error
	if s.Ctime, err = parseTimestamp(ctime); err != nil {
		return Stat{}, err
	}
	if s.Mtime, err = parseTimestamp(mtime); err != nil {
		return Stat{}, err
	}
	if s.Atime, err = parseTimestamp(atime); err != nil {
		return Stat{}, err
	}
	return s, nil
}

func loadStat(ctx context.Context, q queryer, ino int64) (Stat, error) {
	row := q.QueryRowContext(ctx, `SELECT ino, mode, size, nlink, ctime, mtime, atime FROM fs_inode WHERE ino = ?`, ino)
	s, err := scanStat(row)
	if err == sql.ErrNoRows {
		return Stat{}, &FileNotFound{Path: fmt.Sprintf("ino:%d", ino)}
	}
	return s, err
}

// Stat resolves path and returns its inode metadata.
func (f *FS) Stat(ctx context.Context, path string) (Stat, error) {
	guard, err := f.sub.Readers.Acquire(ctx)
	if err != nil {
		return Stat{}, err
	}
	defer guard.Release()

	if path == "/" {
		return loadStat(ctx, guard.DB(), RootIno)
	}
	ino, err := f.resolve(ctx, guard.DB(), path)
	if err != nil {
		return Stat{}, err
	}
	return loadStat(ctx, guard.DB(), ino)
}

// Exists reports whether path resolves to an existing entry.
func (f *FS) Exists(ctx context.Context, path string) (bool, error) {
	_, err := f.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if _, ok := err.(*FileNotFound); ok {
		return false, nil
	}
	return false, err
}

func nowSQL(tx *sql.Tx) (string, error) {
	var now string
	if err := tx.QueryRow(`SELECT strftime('%Y-%m-%dT%H:%M:%f','now')`).Scan(&now); err != nil {
		return "", fmt.Errorf("read timestamp: %w", err)
	}
	return now, nil
}

func createInode(tx *sql.Tx, mode uint32, size int64, now string) (int64, error) {
	res, err := tx.Exec(`INSERT INTO fs_inode (mode, size, nlink, ctime, mtime, atime) VALUES (?, ?, 1, ?, ?, ?)`,
		mode, size, now, now, now)
	if err != nil {
		return 0, fmt.Errorf("create inode: %w", err)
	}
	return res.LastInsertId()
}

func touchMtime(tx *sql.Tx, ino int64, size int64, now string) error {
	_, err := tx.Exec(`UPDATE fs_inode SET size = ?, mtime = ?, atime = ? WHERE ino = ?`, size, now, now, ino)
	if err != nil {
		return fmt.Errorf("touch inode %d: %w", ino, err)
	}
	return nil
}

func insertDentry(tx *sql.Tx, parent int64, name string, ino int64) error {
	_, err := tx.Exec(`INSERT INTO fs_dentry (parent_ino, name, ino) VALUES (?, ?, ?)`, parent, name, ino)
	if err != nil {
		return fmt.Errorf("create dentry %s: %w", name, err)
	}
	return nil
}

// unlinkInode decrements nlink and, if it drops to zero, deletes the inode
// along with its fs_data/fs_symlink rows. Returns whether the inode was
// deleted.
func unlinkInode(tx *sql.Tx, ino int64) (bool, error) {
	_, err := tx.Exec(`UPDATE fs_inode SET nlink = nlink - 1 WHERE ino = ?`, ino)
	if err != nil {
		return false, fmt.Errorf("decrement nlink %d: %w", ino, err)
	}
	var nlink int
	if err := tx.QueryRow(`SELECT nlink FROM fs_inode WHERE ino = ?`, ino).Scan(&nlink); err != nil {
		return false, fmt.Errorf("read nlink %d: %w", ino, err)
	}
	if nlink > 0 {
		return false, nil
	}
	if _, err := tx.Exec(`DELETE FROM fs_data WHERE ino = ?`, ino); err != nil {
		return false, fmt.Errorf("delete data %d: %w", ino, err)
	}
	if _, err := tx.Exec(`DELETE FROM fs_symlink WHERE ino = ?`, ino); err != nil {
		return false, fmt.Errorf("delete symlink %d: %w", ino, err)
	}
	if _, err := tx.Exec(`DELETE FROM fs_inode WHERE ino = ?`, ino); err != nil {
		return false, fmt.Errorf("delete inode %d: %w", ino, err)
	}
	return true, nil
}
