// Package enrich deepens a single stored investor with a detailed profile
// from a ProfileSource, using the same merge rules as accumulation.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"angelscout/internal/cache"
	"angelscout/internal/investor"
	"angelscout/internal/logging"
	"angelscout/internal/store"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("enrich: investor not found")

// ProfileSource looks up a detailed profile for a named investor.
type ProfileSource interface {
	FetchProfile(ctx context.Context, name string) (investor.Candidate, error)
}

// Enricher merges fetched profiles into stored records.
type Enricher struct {
	store  store.Store
	cache  *cache.Shared
	source ProfileSource
	now    func() time.Time
}

// New builds an Enricher.
func New(st store.Store, shared *cache.Shared, src ProfileSource) *Enricher {
	return &Enricher{store: st, cache: shared, source: src, now: time.Now}
}

// Enrich fetches and merges a profile for the record with id, then persists
// it. The returned record is the merged one.
func (e *Enricher) Enrich(ctx context.Context, id string) (investor.Record, error) {
	existing, err := e.load(ctx, id)
	if err != nil {
		return investor.Record{}, err
	}

	c, err := e.source.FetchProfile(ctx, existing.Name)
	if err != nil {
		return investor.Record{}, fmt.Errorf("fetch profile for %s: %w", existing.Name, err)
	}
	merged := investor.MergeCandidate(existing, c, e.now())

	if err := e.store.UpsertMany(ctx, []investor.Record{merged}); err != nil {
		return investor.Record{}, fmt.Errorf("persist %s: %w", id, err)
	}
	e.cache.InvalidateAll(ctx)
	if all, err := e.store.GetAll(ctx); err != nil {
		// Left invalidated; the next search warms it from the store.
		logging.EnrichWarn("re-reading canonical set after enriching %s: %v", id, err)
	} else {
		e.cache.SetCachedAll(ctx, all)
	}
	e.cache.SetCachedByID(ctx, merged)
	logging.Enrich("enriched %s (%s): completeness %d -> %d",
		merged.Name, id, investor.Completeness(existing), investor.Completeness(merged))
	return merged, nil
}

func (e *Enricher) load(ctx context.Context, id string) (investor.Record, error) {
	if r, ok := e.cache.GetCachedByID(ctx, id); ok {
		return r, nil
	}
	r, err := e.store.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return investor.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		logging.EnrichWarn("load %s: %v", id, err)
		return investor.Record{}, fmt.Errorf("load %s: %w", id, err)
	}
	return r, nil
}
