package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"angelscout/internal/investor"
	"angelscout/internal/logging"
)

// dialect captures the few places sqlite and postgres disagree.
type dialect struct {
	name        string
	payloadType string
	// seqColumn is an extra insertion-sequence column; sqlite uses its rowid.
	seqColumn   string
	orderBy     string
	placeholder func(n int) string
}

var (
	sqliteDialect = dialect{
		name:        "sqlite",
		payloadType: "TEXT",
		orderBy:     "rowid",
		placeholder: func(int) string { return "?" },
	}
	postgresDialect = dialect{
		name:        "postgres",
		payloadType: "JSONB",
		seqColumn:   "seq BIGSERIAL NOT NULL,",
		orderBy:     "seq",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

func (d dialect) schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS investors (
		id TEXT PRIMARY KEY,
		%s
		name_key TEXT NOT NULL,
		payload %s NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`, d.seqColumn, d.payloadType)
}

func (d dialect) indexes() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_investors_name_key ON investors(name_key)`,
	}
}

func (d dialect) placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = d.placeholder(i + 1)
	}
	return strings.Join(ps, ",")
}

func (d dialect) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO investors(id,name_key,payload,created_at,updated_at) VALUES(%s)
		ON CONFLICT(id) DO UPDATE SET name_key=excluded.name_key, payload=excluded.payload, updated_at=excluded.updated_at`,
		d.placeholders(5))
}

func (d dialect) selectByIDSQL() string {
	return fmt.Sprintf(`SELECT payload FROM investors WHERE id = %s`, d.placeholder(1))
}

func (d dialect) deleteSQL() string {
	return fmt.Sprintf(`DELETE FROM investors WHERE id = %s`, d.placeholder(1))
}

// Upserts keep a row's rowid/seq, so this is first-insertion order.
func (d dialect) selectAllSQL() string {
	return `SELECT payload FROM investors ORDER BY ` + d.orderBy
}

// sqlStore stores each record as a JSON payload row keyed by id.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema()); err != nil {
		return fmt.Errorf("create investors table: %w", err)
	}
	for _, stmt := range s.dialect.indexes() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) GetAll(ctx context.Context) ([]investor.Record, error) {
	timer := logging.StartTimer(logging.CategoryStore, s.dialect.name+".GetAll")
	defer timer.Stop()

	rows, err := s.db.QueryContext(ctx, s.dialect.selectAllSQL())
	if err != nil {
		return nil, fmt.Errorf("select investors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []investor.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan investor: %w", err)
		}
		var r investor.Record
		if err := json.Unmarshal(payload, &r); err != nil {
			// A corrupt row must not hide the rest of the set.
			logging.StoreWarn("skipping undecodable investor row: %v", err)
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investors: %w", err)
	}
	return out, nil
}

func (s *sqlStore) GetByID(ctx context.Context, id string) (investor.Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.dialect.selectByIDSQL(), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return investor.Record{}, ErrNotFound
	}
	if err != nil {
		return investor.Record{}, fmt.Errorf("select investor %s: %w", id, err)
	}
	var r investor.Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return investor.Record{}, fmt.Errorf("decode investor %s: %w", id, err)
	}
	return r, nil
}

func (s *sqlStore) UpsertMany(ctx context.Context, records []investor.Record) (retErr error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, s.dialect.upsertSQL())
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode investor %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.NameKey(), payload,
			r.ScrapedAt.UnixNano(), r.LastUpdated.UnixNano()); err != nil {
			return fmt.Errorf("upsert investor %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logging.StoreDebug("%s upserted %d investors", s.dialect.name, len(records))
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.deleteSQL(), id); err != nil {
		return fmt.Errorf("delete investor %s: %w", id, err)
	}
	return nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *sqlStore) DB() *sql.DB { return s.db }
