package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"angelscout/internal/logging"
	"angelscout/internal/store"
)

const purgeEvery = 64

// SQLiteKV shares cache entries and the job lock between local processes
// through one sqlite file.
type SQLiteKV struct {
	db     *sql.DB
	now    func() time.Time
	writes atomic.Int64
}

// NewSQLiteKV opens (creating if needed) the kv table at path.
func NewSQLiteKV(ctx context.Context, path string) (*SQLiteKV, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := store.OpenSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &SQLiteKV{db: db, now: time.Now}, nil
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	if expiresAt > 0 && s.now().UnixNano() >= expiresAt {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ? AND expires_at = ?`, key, expiresAt); err != nil {
			logging.CacheWarn("kv expire %s: %v", key, err)
		}
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv(key, value, expires_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	if s.writes.Add(1)%purgeEvery == 0 {
		s.purge(ctx)
	}
	return nil
}

func (s *SQLiteKV) purge(ctx context.Context) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at > 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		logging.CacheWarn("kv purge: %v", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.CacheDebug("kv purged %d expired entries", n)
	}
}

func (s *SQLiteKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	q := `DELETE FROM kv WHERE key IN (` + strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",") + `)`
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Close() error { return s.db.Close() }

// Open builds the configured KV backend.
func Open(ctx context.Context, driver Driver, path string) (KV, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryKV(), nil
	case DriverSQLite:
		kv, err := NewSQLiteKV(ctx, path)
		if err != nil {
			return nil, err
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", driver)
	}
}
