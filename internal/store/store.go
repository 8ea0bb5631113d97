// Package store persists the canonical investor set.
//
// Backends (memory, sqlite, postgres, s3) share one contract. Cached wraps
// any of them with a short-lived read-through copy of GetAll. Stores never
// touch the shared cache; refreshing it after a write is the caller's job.
package store

import (
	"context"
	"errors"

	"angelscout/internal/investor"
)

// ErrNotFound is returned by GetByID for unknown ids.
var ErrNotFound = errors.New("investor not found")

// Driver identifies a concrete record store implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-process only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
	DriverS3       Driver = "s3"       // single JSON object in S3 / MinIO
)

// Store is the durable canonical record set.
type Store interface {
	// GetAll returns every persisted record in first-insertion order; an
	// update keeps the record where it was.
	GetAll(ctx context.Context) ([]investor.Record, error)
	// GetByID returns ErrNotFound when no record has the id.
	GetByID(ctx context.Context, id string) (investor.Record, error)
	// UpsertMany replaces records sharing an id and appends the rest.
	UpsertMany(ctx context.Context, records []investor.Record) error
	// Delete removes a record; unknown ids are not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}

// upsertOrdered applies upsert semantics to an ordered slice in place of a
// table: matching ids are replaced where they sit, new ids are appended.
func upsertOrdered(existing, incoming []investor.Record) []investor.Record {
	pos := make(map[string]int, len(existing))
	for i, r := range existing {
		pos[r.ID] = i
	}
	for _, r := range incoming {
		if i, ok := pos[r.ID]; ok {
			existing[i] = r.Clone()
			continue
		}
		pos[r.ID] = len(existing)
		existing = append(existing, r.Clone())
	}
	return existing
}

func removeID(records []investor.Record, id string) []investor.Record {
	for i, r := range records {
		if r.ID == id {
			return append(records[:i], records[i+1:]...)
		}
	}
	return records
}

func findID(records []investor.Record, id string) (investor.Record, error) {
	for _, r := range records {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return investor.Record{}, ErrNotFound
}
