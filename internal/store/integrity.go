package store

import (
	"database/sql"
	"fmt"

	"github.com/agnt-run/agentfs/internal/checksum"
	. "github.com/agnt-run/agentfs/internal/logging"
)

// ChecksumMismatch is returned by chunk reads when verification is enabled
// and a chunk's stored checksum does not match its recomputed checksum.
type ChecksumMismatch struct {
	Ino        int64
	ChunkIndex int
	Expected   int64
	Actual     int64
}

func (e *ChecksumMismatch) Error() string {
	return fmt.Sprintf("agentfs: checksum mismatch at ino=%d chunk=%d expected=%d actual=%d",
		e.Ino, e.ChunkIndex, e.Expected, e.Actual)
}

// ScrubResult summarizes a full integrity scan.
type ScrubResult struct {
	Total    int
	Verified int
	Corrupt  []ChecksumMismatch
	SQLiteOK bool
}

// IsClean reports whether the scrub found no corruption and SQLite's own
// integrity_check passed.
func (r ScrubResult) IsClean() bool {
	return r.SQLiteOK && len(r.Corrupt) == 0
}

// Scrub runs PRAGMA integrity_check plus a full scan of fs_data, verifying
// every chunk's XXH3-64 checksum.
func Scrub(w *Writer) (ScrubResult, error) {
	var result ScrubResult

	err := w.WithConn(func(db *sql.DB) error {
		var status string
		if err := db.QueryRow("PRAGMA integrity_check").Scan(&status); err != nil {
			return fmt.Errorf("integrity_check: %w", err)
		}
		result.SQLiteOK = status == "ok"

		rows, err := db.Query("SELECT ino, chunk_index, data, checksum FROM fs_data ORDER BY ino, chunk_index")
		if err != nil {
			return fmt.Errorf("scan fs_data: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var ino int64
			var chunkIndex int
			var data []byte
			var expected int64
			if err := rows.Scan(&ino, &chunkIndex, &data, &expected); err != nil {
				return fmt.Errorf("scan chunk row: %w", err)
			}
			result.Total++
			actual := checksum.Chunk(data)
			if actual == expected {
				result.Verified++
			} else {
				result.Corrupt = append(result.Corrupt, ChecksumMismatch{
					Ino: ino, ChunkIndex: chunkIndex, Expected: expected, Actual: actual,
				})
			}
		}
		return rows.Err()
	})

	if err != nil {
		return ScrubResult{}, err
	}

	L_info("store: scrub complete", "total", result.Total, "verified", result.Verified,
		"corrupt", len(result.Corrupt), "sqliteOK", result.SQLiteOK)
	return result, nil
}

// GCResult reports how many rows were removed by each GC phase.
type GCResult struct {
	OrphanInodes  int
	OrphanData    int
	OrphanSymlink int
}

// GC deletes, in one transaction: non-root inodes with nlink<=0 and no
// dentry references, fs_data rows whose inode no longer exists, and
// fs_symlink rows whose inode no longer exists.
func GC(w *Writer) (GCResult, error) {
	var result GCResult

	err := w.WithConn(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin gc transaction: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(`
			DELETE FROM fs_inode
			WHERE ino != 1
			  AND nlink <= 0
			  AND NOT EXISTS (SELECT 1 FROM fs_dentry WHERE fs_dentry.ino = fs_inode.ino)
		`)
		if err != nil {
			return fmt.Errorf("delete orphan inodes: %w", err)
		}
		n, _ := res.RowsAffected()
		result.OrphanInodes = int(n)

		res, err = tx.Exec(`
			DELETE FROM fs_data
			WHERE NOT EXISTS (SELECT 1 FROM fs_inode WHERE fs_inode.ino = fs_data.ino)
		`)
		if err != nil {
			return fmt.Errorf("delete orphan data: %w", err)
		}
		n, _ = res.RowsAffected()
		result.OrphanData = int(n)

		res, err = tx.Exec(`
			DELETE FROM fs_symlink
			WHERE NOT EXISTS (SELECT 1 FROM fs_inode WHERE fs_inode.ino = fs_symlink.ino)
		`)
		if err != nil {
			return fmt.Errorf("delete orphan symlinks: %w", err)
		}
		n, _ = res.RowsAffected()
		result.OrphanSymlink = int(n)

		return tx.Commit()
	})

	if err != nil {
		return GCResult{}, err
	}

	L_info("store: gc complete", "inodes", result.OrphanInodes, "data", result.OrphanData, "symlinks", result.OrphanSymlink)
	return result, nil
}
