// Package store implements the connection substrate: one serialized writer
// connection, a bounded reader pool, and the background checkpoint task.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/semaphore"

	"github.com/agnt-run/agentfs/internal/dbconfig"
	. "github.com/agnt-run/agentfs/internal/logging"
)

// ErrPoolShutDown is returned by reader acquisition after Close.
var ErrPoolShutDown = fmt.Errorf("agentfs: connection pool shut down")

// Writer serializes all mutating access through a single SQLite connection.
type Writer struct {
	mu sync.Mutex
	db *sql.DB
}

// WithConn runs fn with exclusive access to the writer connection. Callers
// may use synchronous database/sql APIs inside fn; the call blocks until
// any concurrent writer is done.
func (w *Writer) WithConn(fn func(*sql.DB) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn(w.db)
}

// DB returns the underlying *sql.DB. Only for use by code that already
// holds the writer lock (e.g. a nested helper called from inside WithConn).
func (w *Writer) DB() *sql.DB { return w.db }

func (w *Writer) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.Close()
}

// ReaderGuard wraps a reader connection checked out from the pool. Callers
// must call Release when done.
type ReaderGuard struct {
	db   *sql.DB
	pool *ReaderPool
}

// DB returns the guarded reader connection.
func (g *ReaderGuard) DB() *sql.DB { return g.db }

// Release returns the reader connection to the pool.
func (g *ReaderGuard) Release() {
	g.pool.sem.Release(1)
}

// ReaderPool is a bounded pool of read-only SQLite connections.
type ReaderPool struct {
	sem   *semaphore.Weighted
	mu    sync.Mutex
	conns []*sql.DB
	path  string
	cfg   dbconfig.Config
	shut  bool
}

// Acquire blocks until a reader permit is available (bounded by
// reader_count) and returns a connection guard. Returns ErrPoolShutDown
// after Close.
func (p *ReaderPool) Acquire(ctx context.Context) (*ReaderGuard, error) {
	p.mu.Lock()
	if p.shut {
		p.mu.Unlock()
		return nil, ErrPoolShutDown
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire reader permit: %w", err)
	}

	p.mu.Lock()
	if p.shut {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolShutDown
	}
	db := p.pick()
	p.mu.Unlock()

	if db == nil {
		p.sem.Release(1)
		return nil, ErrPoolShutDown
	}

	return &ReaderGuard{db: db, pool: p}, nil
}

// pick returns a reader connection round-robin-ish; on a previous error the
// connection is lazily reopened.
func (p *ReaderPool) pick() *sql.DB {
	if len(p.conns) == 0 {
		return nil
	}
	idx := time.Now().UnixNano() % int64(len(p.conns))
	db := p.conns[idx]
	if err := db.Ping(); err != nil {
		L_warn("store: reader connection unhealthy, reopening", "error", err)
		if reopened, rerr := openConn(p.path, dbconfig.ReaderPragmas(p.cfg)); rerr == nil {
			db.Close()
			p.conns[idx] = reopened
			return reopened
		}
	}
	return db
}

func (p *ReaderPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shut = true
	var firstErr error
	for _, c := range p.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Substrate bundles the writer, reader pool, and checkpoint task that
// every other subsystem shares.
type Substrate struct {
	Writer     *Writer
	Readers    *ReaderPool
	checkpoint *checkpointTask
}

// Open opens (creating parent directories as needed) the writer connection
// and reader_count reader connections, applying the pragmas derived from
// cfg, and starts the background checkpoint task.
func Open(cfg dbconfig.Config) (*Substrate, error) {
	dir := filepath.Dir(cfg.DBPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	writerDB, err := openConn(cfg.DBPath, dbconfig.WriterPragmas(cfg))
	if err != nil {
		return nil, fmt.Errorf("open writer connection: %w", err)
	}
	writerDB.SetMaxOpenConns(1)

	readers := &ReaderPool{
		sem:  semaphore.NewWeighted(int64(cfg.ReaderCount)),
		path: cfg.DBPath,
		cfg:  cfg,
	}
	for i := 0; i < cfg.ReaderCount; i++ {
		rdb, err := openConn(cfg.DBPath, dbconfig.ReaderPragmas(cfg))
		if err != nil {
			writerDB.Close()
			readers.close()
			return nil, fmt.Errorf("open reader connection %d: %w", i, err)
		}
		readers.conns = append(readers.conns, rdb)
	}

	sub := &Substrate{
		Writer:  &Writer{db: writerDB},
		Readers: readers,
	}
	sub.checkpoint = newCheckpointTask(sub.Writer, cfg)
	sub.checkpoint.start()

	L_info("store: substrate opened", "path", cfg.DBPath, "readers", cfg.ReaderCount)
	return sub, nil
}

// Close stops the checkpoint task (performing one final TRUNCATE
// checkpoint) and closes every connection.
func (s *Substrate) Close() error {
	s.checkpoint.stop()

	var firstErr error
	if err := s.Writer.close(); err != nil {
		firstErr = err
	}
	if err := s.Readers.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func openConn(path string, pragmas []string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return db, nil
}
