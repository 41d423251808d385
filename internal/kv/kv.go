// Package kv implements the flat key-value store: get, set, delete, and
// prefix scan over the shared SQLite substrate.
package kv

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/agnt-run/agentfs/internal/store"
)

// ErrKeyNotFound is returned by Get and Delete when key does not exist.
var ErrKeyNotFound = fmt.Errorf("agentfs: key not found")

// Store is the key-value store.
type Store struct {
	sub *store.Substrate
}

// New constructs a Store over an already-open substrate.
func New(sub *store.Substrate) *Store {
	return &Store{sub: sub}
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	guard, err := s.sub.Readers.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer guard.Release()

	var value string
	err = guard.DB().QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Set upserts key to value, touching its created timestamp only on first
// insert.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.sub.Writer.WithConn(func(db *sql.DB) error {
		var now string
		if err := db.QueryRowContext(ctx, `SELECT strftime('%Y-%m-%dT%H:%M:%f','now')`).Scan(&now); err != nil {
			return fmt.Errorf("read timestamp: %w", err)
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO kv_store (key, value, created, updated) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated = excluded.updated
		`, key, value, now, now)
		if err != nil {
			return fmt.Errorf("set %q: %w", key, err)
		}
		return nil
	})
}

// Delete removes key. Deleting a key that does not exist returns
// ErrKeyNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.sub.Writer.WithConn(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
		if n == 0 {
			return ErrKeyNotFound
		}
		return nil
	})
}

// Entry is one key/value pair returned by ListPrefix.
type Entry struct {
	Key   string
	Value string
}

// ListPrefix returns every key (and its value) whose key starts with
// prefix, ordered lexicographically.
func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	guard, err := s.sub.Readers.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	like := escapeLikePrefix(prefix) + "%"
	rows, err := guard.DB().QueryContext(ctx, `SELECT key, value FROM kv_store WHERE key LIKE ? ESCAPE '\' ORDER BY key`, like)
	if err != nil {
		return nil, fmt.Errorf("list prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func escapeLikePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}
