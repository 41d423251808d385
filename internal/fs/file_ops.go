package fs

import (
	"context"
	"database/sql"
)

// WriteFile creates or truncates the file at path and writes data, creating
// the inode and dentry if the path does not already exist. Missing parent
// directories are created along the way (mkdir -p semantics).
func (f *FS) WriteFile(ctx context.Context, path string, data []byte) error {
	return f.sub.Writer.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		parentIno, name, err := f.resolveParentCreating(ctx, tx, path)
		if err != nil {
			return err
		}

		now, err := nowSQL(tx)
		if err != nil {
			return err
		}

		existingIno, lookupErr := lookupDentry(ctx, tx, parentIno, name)
		var ino int64
		if lookupErr == nil {
			st, err := loadStat(ctx, tx, existingIno)
			if err != nil {
				return err
			}
			if !st.IsFile() {
				return &NotAFile{Path: path}
			}
			ino = existingIno
		} else if _, ok := lookupErr.(*FileNotFound); ok {
			ino, err = createInode(tx, DefaultFilePerm, 0, now)
			if err != nil {
				return err
			}
			if err := insertDentry(tx, parentIno, name, ino); err != nil {
				return err
			}
			f.cacheStore(parentIno, name, ino)
		} else {
			return lookupErr
		}

		if err := f.writeChunksFromScratch(tx, ino, data); err != nil {
			return err
		}
		if err := touchMtime(tx, ino, int64(len(data)), now); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// AppendFile appends data to the file at path, creating it (and its
// parent-relative dentry) if it does not already exist.
func (f *FS) AppendFile(ctx context.Context, path string, data []byte) error {
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

		now, err := nowSQL(tx)
		if err != nil {
			return err
		}

		existingIno, lookupErr := lookupDentry(ctx, tx, parentIno, name)
		if _, ok := lookupErr.(*FileNotFound); ok {
			ino, err := createInode(tx, DefaultFilePerm, 0, now)
			if err != nil {
				return err
			}
			if err := insertDentry(tx, parentIno, name, ino); err != nil {
				return err
			}
			f.cacheStore(parentIno, name, ino)
			if err := f.writeChunksFromScratch(tx, ino, data); err != nil {
				return err
			}
			if err := touchMtime(tx, ino, int64(len(data)), now); err != nil {
				return err
			}
			return tx.Commit()
		}
		if lookupErr != nil {
			return lookupErr
		}

		ino := existingIno
		st, err := loadStat(ctx, tx, ino)
		if err != nil {
			return err
		}
		if !st.IsFile() {
			return &NotAFile{Path: path}
		}

		if err := f.appendChunks(tx, ino, st.Size, data); err != nil {
			return err
		}
		if err := touchMtime(tx, ino, st.Size+int64(len(data)), now); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// appendChunks fills the remaining room of the current last chunk (if any)
// before writing the rest of data as new full-size chunks.
func (f *FS) appendChunks(tx *sql.Tx, ino int64, size int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if size == 0 {
		return f.writeChunksFromScratch(tx, ino, data)
	}

	lastIndex := int((size - 1) / int64(f.chunkSize))
	offsetInLast := int(size - int64(lastIndex)*int64(f.chunkSize))

	lastChunk, err := f.readChunk(tx, ino, lastIndex, false)
	if err != nil {
		return err
	}

	room := f.chunkSize - offsetInLast
	pos := 0
	if room > 0 {
		n := room
		if n > len(data) {
			n = len(data)
		}
		merged := append(lastChunk, data[:n]...)
		if err := f.upsertChunk(tx, ino, lastIndex, merged); err != nil {
			return err
		}
		pos = n
	}

	idx := lastIndex + 1
	for pos < len(data) {
		end := pos + f.chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := f.upsertChunk(tx, ino, idx, data[pos:end]); err != nil {
			return err
		}
		pos = end
		idx++
	}
	return nil
}

// ReadFile resolves path and returns its full contents, verifying chunk
// checksums when the engine is configured to do so.
func (f *FS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	guard, err := f.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	db := guard.DB()
	ino, err := f.resolve(ctx, db, path)
	if err != nil {
		return nil, err
	}
	st, err := loadStat(ctx, db, ino)
	if err != nil {
		return nil, err
	}
	if !st.IsFile() {
		return nil, &NotAFile{Path: path}
	}
	return f.readAllChunks(db, ino, st.Size, f.verifyChecksums)
}

// RemoveFile unlinks path, deleting its inode once no dentry references it.
func (f *FS) RemoveFile(ctx context.Context, path string) error {
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
		if !st.IsFile() {
			return &NotAFile{Path: path}
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
