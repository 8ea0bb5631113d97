// Package search answers investor queries from the cheapest source that has
// an answer: the per-query cache, a keyword match over the cached canonical
// set, and finally an accumulation run.
package search

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"angelscout/internal/cache"
	"angelscout/internal/investor"
	"angelscout/internal/logging"
	"angelscout/internal/metrics"
	"angelscout/internal/store"
)

// DefaultPageSize bounds every Search result.
const DefaultPageSize = 50

// Paths reported to metrics and logs.
const (
	PathQueryCache = "query_cache"
	PathCanonical  = "canonical_match"
	PathAccumulate = "accumulate"
	PathEmpty      = "empty"
)

const backgroundTimeout = 5 * time.Minute

// DefaultRefreshAfter is how old a per-query entry must be before a hit on it
// triggers a background refresh.
const DefaultRefreshAfter = 10 * time.Minute

// Accumulator runs (or joins) an accumulation for a query.
type Accumulator interface {
	Accumulate(ctx context.Context, query string) []investor.Record
}

// Result is the response shape of Search.
type Result struct {
	Records         []investor.Record `json:"records"`
	Total           int               `json:"total"`
	ServedFromCache bool              `json:"servedFromCache"`
}

// Options tunes an Orchestrator.
type Options struct {
	PageSize     int
	RefreshStale bool
	RefreshAfter time.Duration
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Orchestrator implements the search policy.
type Orchestrator struct {
	cache        *cache.Shared
	store        store.Store
	acc          Accumulator
	pageSize     int
	refreshStale bool
	refreshAfter time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
	log          *logging.Logger

	wg         sync.WaitGroup
	mu         sync.Mutex
	refreshing map[string]bool // normalized queries with a refresh in flight
}

// New builds an Orchestrator.
func New(shared *cache.Shared, st store.Store, acc Accumulator, opts Options) *Orchestrator {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.RefreshAfter <= 0 {
		opts.RefreshAfter = DefaultRefreshAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		cache:        shared,
		store:        st,
		acc:          acc,
		pageSize:     opts.PageSize,
		refreshStale: opts.RefreshStale,
		refreshAfter: opts.RefreshAfter,
		metrics:      opts.Metrics,
		now:          opts.Now,
		log:          logging.Get(logging.CategorySearch),
		refreshing:   make(map[string]bool),
	}
}

// Search never fails; an empty Result means nothing was found.
func (o *Orchestrator) Search(ctx context.Context, query string) Result {
	if cache.NormalizeQuery(query) == "" {
		return o.served(query, PathEmpty, Result{Records: []investor.Record{}})
	}

	if entry, ok := o.cache.GetQuery(ctx, query); ok && len(entry.Investors) > 0 {
		if o.refreshStale && o.now().Sub(entry.StoredAt) >= o.refreshAfter {
			o.startRefresh(ctx, query)
		}
		return o.served(query, PathQueryCache, o.page(entry.Investors, true))
	}

	all, canonical := o.cache.GetCachedAll(ctx)
	if canonical {
		if matches := Match(query, all); len(matches) > 0 {
			o.cache.SetQuery(ctx, query, o.bound(matches), PathCanonical)
			return o.served(query, PathCanonical, o.page(matches, true))
		}
	}

	found := o.acc.Accumulate(ctx, query)
	if !canonical {
		// A successful run repopulates the canonical cache itself; warming
		// afterwards keeps an older store read from overwriting it.
		o.background(ctx, "warm canonical cache", o.warmCanonical)
	}
	if len(found) > 0 {
		unique := investor.Deduplicate(found).Unique
		o.cache.SetQuery(ctx, query, o.bound(unique), PathAccumulate)
		return o.served(query, PathAccumulate, o.page(unique, false))
	}
	return o.served(query, PathEmpty, Result{Records: []investor.Record{}})
}

// Wait blocks until background work spawned by Search has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) served(query, path string, res Result) Result {
	o.metrics.SearchServed(path)
	o.log.Zap().Info("search served",
		zap.String("query", query), zap.String("path", path),
		zap.Int("returned", len(res.Records)), zap.Int("total", res.Total))
	return res
}

func (o *Orchestrator) bound(records []investor.Record) []investor.Record {
	if len(records) > o.pageSize {
		return records[:o.pageSize]
	}
	return records
}

func (o *Orchestrator) page(records []investor.Record, fromCache bool) Result {
	return Result{Records: o.bound(records), Total: len(records), ServedFromCache: fromCache}
}

// background runs fn detached from the caller's cancellation and logs panics.
func (o *Orchestrator) background(ctx context.Context, what string, fn func(context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("background %s panicked: %v", what, r)
			}
		}()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		fn(bctx)
	}()
}

// startRefresh re-runs the accumulation for query in the background and
// replaces its per-query entry. At most one refresh per query is in flight.
func (o *Orchestrator) startRefresh(ctx context.Context, query string) {
	key := cache.NormalizeQuery(query)
	o.mu.Lock()
	if o.refreshing[key] {
		o.mu.Unlock()
		return
	}
	o.refreshing[key] = true
	o.mu.Unlock()

	o.background(ctx, "refresh "+query, func(ctx context.Context) {
		defer func() {
			o.mu.Lock()
			delete(o.refreshing, key)
			o.mu.Unlock()
		}()
		found := o.acc.Accumulate(ctx, query)
		if len(found) == 0 {
			o.log.Debug("background refresh for %q found nothing; keeping cached entry", query)
			return
		}
		unique := investor.Deduplicate(found).Unique
		o.cache.SetQuery(ctx, query, o.bound(unique), PathAccumulate)
		o.log.Debug("background refresh for %q cached %d records", query, len(unique))
	})
}

func (o *Orchestrator) warmCanonical(ctx context.Context) {
	if o.store == nil {
		return
	}
	if _, ok := o.cache.GetCachedAll(ctx); ok {
		return
	}
	all, err := o.store.GetAll(ctx)
	if err != nil {
		o.log.Zap().Warn("canonical cache warm-up failed", zap.Error(err))
		return
	}
	o.cache.SetCachedAll(ctx, all)
	o.log.Debug("canonical cache warmed with %d records", len(all))
}
