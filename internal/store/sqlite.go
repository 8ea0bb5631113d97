package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"angelscout/internal/logging"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLite persists investors in an embedded sqlite file.
type SQLite struct {
	sqlStore
	path string
}

// NewSQLite opens (and migrates) the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "angelscout.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := OpenSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	s := &SQLite{sqlStore: sqlStore{db: db, dialect: sqliteDialect}, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Store("sqlite record store ready at %s", path)
	return s, nil
}

// OpenSQLiteDB opens a sqlite handle with the pragmas every angelscout
// database uses. A single connection keeps ":memory:" databases coherent and
// avoids writer contention.
func OpenSQLiteDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("sqlite %q failed: %v", pragma, err)
		}
	}
	return db, nil
}

// Path returns the configured database path.
func (s *SQLite) Path() string { return s.path }
