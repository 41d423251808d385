package store

import (
	"database/sql"
	"sync"
	"time"

	"github.com/agnt-run/agentfs/internal/dbconfig"
	. "github.com/agnt-run/agentfs/internal/logging"
)

// checkpointTask periodically drives WAL checkpoints so the engine never
// relies on SQLite's own auto-checkpoint (disabled via wal_autocheckpoint=0).
type checkpointTask struct {
	writer   *Writer
	interval time.Duration
	truncateAt int
	stopCh   chan struct{}
	doneCh   chan struct{}
	once     sync.Once
}

func newCheckpointTask(w *Writer, cfg dbconfig.Config) *checkpointTask {
	return &checkpointTask{
		writer:     w,
		interval:   time.Duration(cfg.CheckpointIntervalSecs) * time.Second,
		truncateAt: cfg.WALTruncateThreshold,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

func (t *checkpointTask) start() {
	if t.interval <= 0 {
		close(t.doneCh)
		return
	}
	go t.run()
}

func (t *checkpointTask) run() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.tick()
		case <-t.stopCh:
			t.finalCheckpoint()
			return
		}
	}
}

func (t *checkpointTask) tick() {
	pages, err := t.passiveCheckpoint()
	if err != nil {
		L_warn("store: passive checkpoint failed", "error", err)
		return
	}
	if t.truncateAt > 0 && pages > t.truncateAt {
		L_info("store: wal page count exceeds threshold, truncating", "pages", pages, "threshold", t.truncateAt)
		if err := t.truncateCheckpoint(); err != nil {
			L_warn("store: truncate checkpoint failed", "error", err)
		}
	}
}

func (t *checkpointTask) finalCheckpoint() {
	if err := t.truncateCheckpoint(); err != nil {
		L_warn("store: final truncate checkpoint failed", "error", err)
	}
}

func (t *checkpointTask) passiveCheckpoint() (int, error) {
	var pages int
	err := t.writer.WithConn(func(db *sql.DB) error {
		var busy, checkpointed int
		row := db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)")
		return row.Scan(&busy, &pages, &checkpointed)
	})
	return pages, err
}

func (t *checkpointTask) truncateCheckpoint() error {
	return t.writer.WithConn(func(db *sql.DB) error {
		var busy, pages, checkpointed int
		row := db.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)")
		return row.Scan(&busy, &pages, &checkpointed)
	})
}

// stop signals the checkpoint task to perform one final TRUNCATE checkpoint
// and waits for it to finish. Safe to call multiple times.
func (t *checkpointTask) stop() {
	t.once.Do(func() {
		close(t.stopCh)
	})
	<-t.doneCh
}
