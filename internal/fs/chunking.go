package fs

import (
	"database/sql"
	"fmt"

	"github.com/agnt-run/agentfs/internal/checksum"
)

// writeChunksFromScratch deletes any existing chunks for ino and writes
// data split into f.chunkSize-sized pieces starting at chunk_index 0.
func (f *FS) writeChunksFromScratch(tx *sql.Tx, ino int64, data []byte) error {
	if _, err := tx.Exec(`DELETE FROM fs_data WHERE ino = ?`, ino); err != nil {
		return fmt.Errorf("clear chunks for ino %d: %w", ino, err)
	}
	for idx := 0; ; idx++ {
		start := idx * f.chunkSize
		if start >= len(data) && idx > 0 {
			break
		}
		end := start + f.chunkSize
		if end > len(data) {
			end = len(data)
		}
		if start >= end && idx > 0 {
			break
		}
		if start == end && len(data) == 0 {
			// Zero-length file: no chunk rows at all.
			break
		}
		if err := f.upsertChunk(tx, ino, idx, data[start:end]); err != nil {
			return err
		}
		if end >= len(data) {
			break
		}
	}
	return nil
}

func (f *FS) upsertChunk(tx *sql.Tx, ino int64, index int, data []byte) error {
	// Copy so later callers that mutate their buffer don't corrupt this chunk.
	buf := append([]byte(nil), data...)
	sum := checksum.Chunk(buf)
	_, err := tx.Exec(`
		INSERT INTO fs_data (ino, chunk_index, data, checksum) VALUES (?, ?, ?, ?)
		ON CONFLICT(ino, chunk_index) DO UPDATE SET data = excluded.data, checksum = excluded.checksum
	`, ino, index, buf, sum)
	if err != nil {
		return fmt.Errorf("write chunk ino=%d index=%d: %w", ino, index, err)
	}
	return nil
}

func (f *FS) readChunk(tx queryTxer, ino int64, index int, verify bool) ([]byte, error) {
	var data []byte
	var sum int64
	err := tx.QueryRow(`SELECT data, checksum FROM fs_data WHERE ino = ? AND chunk_index = ?`, ino, index).Scan(&data, &sum)
	if err != nil {
		return nil, fmt.Errorf("read chunk ino=%d index=%d: %w", ino, index, err)
	}
	if verify && !checksum.Verify(data, sum) {
		return nil, &ChecksumMismatch{Ino: ino, ChunkIndex: index, Expected: sum, Actual: checksum.Chunk(data)}
	}
	return data, nil
}

// queryTxer is satisfied by both *sql.Tx and *sql.DB for single-statement reads.
type queryTxer interface {
	QueryRow(query string, args ...any) *sql.Row
}

// ChecksumMismatch mirrors store.ChecksumMismatch but is raised from the fs
// layer when a read_file operation detects corruption.
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

func (f *FS) readAllChunks(tx queryTxer, ino int64, size int64, verify bool) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	numChunks := int((size + int64(f.chunkSize) - 1) / int64(f.chunkSize))
	out := make([]byte, 0, size)
	for idx := 0; idx < numChunks; idx++ {
		chunk, err := f.readChunk(tx, ino, idx, verify)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}
