// Package sqlitecache implements a persistent cachemw.Backend backed by
// SQLite, for callers that want cache entries to survive process restarts
// (spec C2's "any thread-safe key-value store with TTL support" extended
// to a durable one). It follows the teacher's writer/reader connection
// split: a single-connection writer serialises writes under WAL, while a
// small reader pool serves concurrent lookups.
package sqlitecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Backend is a SQLite-backed cachemw.Backend.
type Backend struct {
	writer    *sql.DB
	reader    *sql.DB
	path      string
	closeOnce sync.Once
}

// Open creates or opens a SQLite database at path and ensures the cache
// table exists.
func Open(path string) (*Backend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlitecache: create directory %s: %w", dir, err)
		}
	}

	writerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitecache: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)
	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlitecache: ping writer: %w", err)
	}

	readerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=query_only(ON)"
	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("sqlitecache: open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)
	if err := reader.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("sqlitecache: ping reader: %w", err)
	}

	b := &Backend{writer: writer, reader: reader, path: path}
	if err := b.migrate(); err != nil {
		b.Close()
		return nil, fmt.Errorf("sqlitecache: migrate: %w", err)
	}
	return b, nil
}

func (b *Backend) migrate() error {
	_, err := b.writer.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)`)
	return err
}

// Close closes both connections. Safe to call multiple times.
func (b *Backend) Close() error {
	var firstErr error
	b.closeOnce.Do(func() {
		if b.writer != nil {
			if err := b.writer.Close(); err != nil {
				firstErr = err
			}
		}
		if b.reader != nil {
			if err := b.reader.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// Add implements cachemw.Backend.
func (b *Backend) Add(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ctx.Err() != nil {
		return nil
	}
	expiresAt := time.Now().Add(ttl).Unix()
	_, err := b.writer.ExecContext(ctx, `
		INSERT OR REPLACE INTO cache_entries (key, payload, expires_at)
		VALUES (?, ?, ?)`, key, payload, expiresAt)
	if err != nil {
		return fmt.Errorf("sqlitecache: add: %w", err)
	}
	return nil
}

// TryGet implements cachemw.Backend.
func (b *Backend) TryGet(ctx context.Context, key string) (bool, []byte, error) {
	if ctx.Err() != nil {
		return false, nil, nil
	}

	var payload []byte
	var expiresAt int64
	err := b.reader.QueryRowContext(ctx, `
		SELECT payload, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("sqlitecache: try_get: %w", err)
	}

	if time.Now().Unix() >= expiresAt {
		b.deleteExpiredAsync(key)
		return false, nil, nil
	}
	return true, payload, nil
}

// deleteExpiredAsync removes a lazily-discovered expired row. Best effort:
// a failure here just leaves a stale row for a later TryGet/Clear to find.
func (b *Backend) deleteExpiredAsync(key string) {
	_, _ = b.writer.Exec("DELETE FROM cache_entries WHERE key = ?", key)
}

// Clear implements cachemw.Backend.
func (b *Backend) Clear(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	_, err := b.writer.ExecContext(ctx, "DELETE FROM cache_entries")
	if err != nil {
		return fmt.Errorf("sqlitecache: clear: %w", err)
	}
	return nil
}

// Purge removes every row whose TTL has lapsed. Intended to be called
// periodically by a maintenance loop (internal/daemon), not on the read
// path, which already expires entries lazily.
func (b *Backend) Purge(ctx context.Context) (int64, error) {
	result, err := b.writer.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlitecache: purge: %w", err)
	}
	return result.RowsAffected()
}

var _ interface {
	Add(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	TryGet(ctx context.Context, key string) (bool, []byte, error)
	Clear(ctx context.Context) error
} = (*Backend)(nil)
