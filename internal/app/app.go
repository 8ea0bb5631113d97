// Package app assembles the angelscout components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"angelscout/internal/accumulate"
	"angelscout/internal/cache"
	"angelscout/internal/config"
	"angelscout/internal/enrich"
	"angelscout/internal/investor"
	"angelscout/internal/logging"
	"angelscout/internal/metrics"
	"angelscout/internal/progress"
	"angelscout/internal/search"
	"angelscout/internal/source"
	"angelscout/internal/store"
)

// Options adjusts how New builds the source.
type Options struct {
	// Offline replaces Gemini with a static source.
	Offline bool
	// CandidatesFile seeds the static source with a JSON candidate list.
	CandidatesFile string
	// Adapter overrides the source entirely (tests).
	Adapter source.Adapter
}

// App holds the wired components.
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Store    *store.Cached
	KV       cache.KV
	Cache    *cache.Shared
	Progress *progress.Channel
	Source   source.Adapter
	Job      *accumulate.Job
	Search   *search.Orchestrator
	Enricher *enrich.Enricher // nil when the source cannot fetch profiles
}

// New opens backends and wires everything. Close releases them.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "app.New")
	defer timer.Stop()

	requireKey := !opts.Offline && opts.Adapter == nil
	if err := cfg.Validate(requireKey); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	a := &App{Config: cfg, Registry: reg, Metrics: m}

	st, err := store.Open(ctx, store.Options{
		Driver:      store.Driver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
		S3: store.S3Config{
			Bucket:    cfg.Storage.S3.Bucket,
			Key:       cfg.Storage.S3.Key,
			Region:    cfg.Storage.S3.Region,
			Endpoint:  cfg.Storage.S3.Endpoint,
			PathStyle: cfg.Storage.S3.PathStyle,
		},
		ReadCacheTTL: cfg.GetReadCacheTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	a.Store = st

	kv, err := cache.Open(ctx, cache.Driver(cfg.Cache.Driver), cfg.Cache.Path)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open shared cache: %w", err)
	}
	a.KV = kv
	a.Cache = cache.NewShared(kv, cache.Options{
		QueryTTL: cfg.GetQueryTTL(),
		LockTTL:  cfg.GetLockTTL(),
		Metrics:  m,
	})
	a.Progress = progress.NewChannel(kv)

	a.Source, err = buildSource(ctx, cfg, opts, m)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if ps, ok := a.Source.(enrich.ProfileSource); ok {
		a.Enricher = enrich.New(a.Store, a.Cache, ps)
	}

	a.Job = accumulate.New(a.Store, a.Cache, a.Source, accumulate.Options{
		StaleAfter:   cfg.GetStaleAfter(),
		PollInterval: cfg.GetPollInterval(),
		MaxWait:      cfg.GetMaxWait(),
		Progress:     a.Progress,
		Metrics:      m,
	})
	a.Search = search.New(a.Cache, a.Store, a.Job, search.Options{
		PageSize:     cfg.Search.PageSize,
		RefreshStale: cfg.Search.RefreshStale,
		RefreshAfter: cfg.GetRefreshAfter(),
		Metrics:      m,
	})
	logging.Boot("angelscout ready: store=%s cache=%s", cfg.Storage.Driver, cfg.Cache.Driver)
	return a, nil
}

func buildSource(ctx context.Context, cfg *config.Config, opts Options, m *metrics.Metrics) (source.Adapter, error) {
	if opts.Adapter != nil {
		return opts.Adapter, nil
	}
	if opts.Offline {
		static := source.NewStatic()
		if opts.CandidatesFile != "" {
			data, err := os.ReadFile(opts.CandidatesFile)
			if err != nil {
				return nil, fmt.Errorf("read candidates file: %w", err)
			}
			parsed, err := source.ParseCandidates(string(data))
			if err != nil {
				return nil, fmt.Errorf("parse candidates file: %w", err)
			}
			candidates, _ := source.Sanitize(parsed, "file:"+opts.CandidatesFile)
			static = source.NewStatic(candidates...)
		}
		return static, nil
	}
	return source.NewGemini(ctx, source.GeminiConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxResults:  cfg.LLM.MaxResults,
		Timeout:     cfg.GetLLMTimeout(),
	}, m)
}

// Close drains background work and closes the backends.
func (a *App) Close() error {
	if a.Search != nil {
		a.Search.Wait()
	}
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.KV != nil {
		errs = append(errs, a.KV.Close())
	}
	return errors.Join(errs...)
}

// Dedupe runs a deduplication pass over the whole store and rewrites it.
func (a *App) Dedupe(ctx context.Context) (investor.DedupResult, error) {
	all, err := a.Store.GetAll(ctx)
	if err != nil {
		return investor.DedupResult{}, fmt.Errorf("load store: %w", err)
	}
	res := investor.Deduplicate(all)
	if res.DuplicatesRemoved == 0 && res.InvalidRemoved == 0 {
		return res, nil
	}
	if err := a.Store.UpsertMany(ctx, res.Unique); err != nil {
		return res, fmt.Errorf("rewrite store: %w", err)
	}
	keep := make(map[string]struct{}, len(res.Unique))
	for _, r := range res.Unique {
		keep[r.ID] = struct{}{}
	}
	for _, r := range all {
		if _, ok := keep[r.ID]; !ok {
			if err := a.Store.Delete(ctx, r.ID); err != nil {
				return res, fmt.Errorf("delete %s: %w", r.ID, err)
			}
		}
	}
	a.Cache.InvalidateAll(ctx)
	a.Cache.SetCachedAll(ctx, res.Unique)
	logging.Store("dedupe removed %d duplicates and %d invalid records", res.DuplicatesRemoved, res.InvalidRemoved)
	return res, nil
}

// StatusReport summarizes the shared state.
type StatusReport struct {
	Locked         bool               `json:"locked"`
	LastRun        *time.Time         `json:"lastRun,omitempty"`
	Records        int                `json:"records"`
	CachedRecords  int                `json:"cachedRecords"`
	CanonicalCache bool               `json:"canonicalCached"`
	Job            accumulate.Status  `json:"job"`
	Progress       *progress.Progress `json:"progress,omitempty"`
}

// Status reads the store and the shared cache concurrently.
func (a *App) Status(ctx context.Context) (StatusReport, error) {
	var rep StatusReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		all, err := a.Store.GetAll(gctx)
		if err != nil {
			return fmt.Errorf("count records: %w", err)
		}
		rep.Records = len(all)
		return nil
	})
	g.Go(func() error {
		rep.Locked = a.Cache.IsLocked(gctx)
		if t, ok := a.Cache.GetLastRunTime(gctx); ok {
			rep.LastRun = &t
		}
		if cached, ok := a.Cache.GetCachedAll(gctx); ok {
			rep.CanonicalCache = true
			rep.CachedRecords = len(cached)
		}
		if p, ok := a.Progress.Get(gctx); ok {
			rep.Progress = &p
		}
		return nil
	})
	err := g.Wait()
	rep.Job = a.Job.Status()
	return rep, err
}
