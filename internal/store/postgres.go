package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"angelscout/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const postgresDriver = "pgx"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Postgres persists investors in a PostgreSQL table with JSONB payloads.
type Postgres struct {
	sqlStore
}

// NewPostgres connects, pings and migrates.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	openMu.Lock()
	db, err := sqlOpen(postgresDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{sqlStore{db: db, dialect: postgresDialect}}
	if err := p.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Store("postgres record store ready")
	return p, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
