// Package accumulate runs the query-scoped accumulation: fetch candidates,
// resolve them against the canonical set, merge, persist and re-cache.
//
// One Job runs at most one query at a time. Concurrent callers for the same
// query share the in-flight run; callers for a different query get an empty
// result immediately. Across processes the shared cache lock keeps runs
// apart, and a lock whose holder went quiet is broken after StaleAfter.
package accumulate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"angelscout/internal/cache"
	"angelscout/internal/investor"
	"angelscout/internal/logging"
	"angelscout/internal/metrics"
	"angelscout/internal/progress"
	"angelscout/internal/search"
	"angelscout/internal/source"
	"angelscout/internal/store"
)

// Defaults for lock handling.
const (
	DefaultStaleAfter   = 2 * time.Minute
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 60 * time.Second

	// cleanupTimeout bounds the writes that must land after the caller's
	// context is gone: lock release, cache refresh, final progress.
	cleanupTimeout = 10 * time.Second
)

// Options tunes a Job. Zero values select defaults.
type Options struct {
	StaleAfter   time.Duration
	PollInterval time.Duration
	MaxWait      time.Duration
	Progress     *progress.Channel
	Metrics      *metrics.Metrics
	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Status is a snapshot of the in-process state.
type Status struct {
	Running bool   `json:"running"`
	Query   string `json:"query,omitempty"`
}

// Job owns the accumulation state machine.
type Job struct {
	store    store.Store
	cache    *cache.Shared
	adapter  source.Adapter
	progress *progress.Channel
	metrics  *metrics.Metrics
	log      *logging.Logger

	staleAfter   time.Duration
	pollInterval time.Duration
	maxWait      time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running string // normalized query of the active run, "" when idle
	group   singleflight.Group
	pending atomic.Int32 // callers inside group.Do
}

// New builds a Job.
func New(st store.Store, shared *cache.Shared, adapter source.Adapter, opts Options) *Job {
	j := &Job{
		store:        st,
		cache:        shared,
		adapter:      adapter,
		progress:     opts.Progress,
		metrics:      opts.Metrics,
		log:          logging.Get(logging.CategoryJob),
		staleAfter:   opts.StaleAfter,
		pollInterval: opts.PollInterval,
		maxWait:      opts.MaxWait,
		now:          opts.Now,
		sleep:        opts.Sleep,
	}
	if j.staleAfter <= 0 {
		j.staleAfter = DefaultStaleAfter
	}
	if j.pollInterval <= 0 {
		j.pollInterval = DefaultPollInterval
	}
	if j.maxWait <= 0 {
		j.maxWait = DefaultMaxWait
	}
	if j.now == nil {
		j.now = time.Now
	}
	if j.sleep == nil {
		j.sleep = sleepCtx
	}
	return j
}

// detached returns a context that survives cancellation of ctx but not
// cleanupTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Status reports whether a run is active in this process.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Status{Running: j.running != "", Query: j.running}
}

// busyWith reports whether a run for a query other than key is active.
func (j *Job) busyWith(key string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running, j.running != "" && j.running != key
}

// Accumulate returns the records added or updated by the run for query.
// It never fails; every problem yields an empty result.
func (j *Job) Accumulate(ctx context.Context, query string) []investor.Record {
	key := cache.NormalizeQuery(query)
	if key == "" {
		return []investor.Record{}
	}
	if other, busy := j.busyWith(key); busy {
		j.reject(query, other)
		return []investor.Record{}
	}

	led := false
	j.pending.Add(1)
	defer j.pending.Add(-1)
	v, _, shared := j.group.Do(key, func() (interface{}, error) {
		led = true
		j.mu.Lock()
		if j.running != "" && j.running != key {
			other := j.running
			j.mu.Unlock()
			j.reject(query, other)
			return []investor.Record{}, nil
		}
		j.running = key
		j.mu.Unlock()
		defer func() {
			j.mu.Lock()
			j.running = ""
			j.mu.Unlock()
		}()
		return j.run(ctx, query), nil
	})
	if shared && !led {
		j.metrics.Coalesced()
	}
	return v.([]investor.Record)
}

func (j *Job) reject(query, running string) {
	j.metrics.Rejected()
	j.log.Zap().Info("accumulation rejected: another query is running",
		zap.String("query", query), zap.String("running", running))
}

// run executes one accumulation while holding the shared lock.
func (j *Job) run(ctx context.Context, query string) (result []investor.Record) {
	start := j.now()
	outcome := metrics.OutcomeFailed
	tracker := j.progress.Begin(query)
	defer func() {
		if r := recover(); r != nil {
			j.log.Zap().Error("accumulation panicked", zap.String("query", query), zap.Any("panic", r))
			fctx, cancel := detached(ctx)
			tracker.Set(fctx, progress.StageFailed, fmt.Sprint(r), progress.Counters{})
			cancel()
			outcome = metrics.OutcomeFailed
			result = []investor.Record{}
		}
		j.metrics.JobRun(outcome)
		j.metrics.ObserveRun(j.now().Sub(start))
	}()

	if j.cache.IsLocked(ctx) {
		if !j.lockIsStale(ctx) {
			records, ok := j.waitForHolder(ctx, query)
			if ok {
				outcome = metrics.OutcomeWaited
			} else {
				outcome = metrics.OutcomeTimedOut
			}
			return records
		}
		j.metrics.StaleLockCleared()
		j.cache.SetLocked(ctx, false)
	}

	j.cache.SetLocked(ctx, true)
	defer func() {
		rctx, cancel := detached(ctx)
		defer cancel()
		j.cache.SetLocked(rctx, false)
	}()

	tracker.Set(ctx, progress.StageFetching, "asking source for candidates", progress.Counters{})
	candidates := j.adapter.FetchCandidates(ctx, query)
	if len(candidates) == 0 {
		outcome = metrics.OutcomeEmpty
		j.log.Info("no candidates for %q", query)
		cctx, cancel := detached(ctx)
		tracker.Clear(cctx)
		cancel()
		return []investor.Record{}
	}

	touched, err := j.apply(ctx, tracker, candidates)
	if err != nil {
		j.log.Zap().Error("accumulation failed", zap.String("query", query), zap.Error(err))
		// The failed entry stays for `status` until its TTL runs out.
		fctx, cancel := detached(ctx)
		tracker.Set(fctx, progress.StageFailed, err.Error(), progress.Counters{Candidates: len(candidates)})
		cancel()
		return []investor.Record{}
	}
	outcome = metrics.OutcomeSuccess
	cctx, cancel := detached(ctx)
	tracker.Clear(cctx)
	cancel()
	return touched
}

func (j *Job) lockIsStale(ctx context.Context) bool {
	last, ok := j.cache.GetLastRunTime(ctx)
	if !ok {
		j.log.Warn("job lock held without a last-run time; treating it as stale")
		return true
	}
	age := j.now().Sub(last)
	if age >= j.staleAfter {
		j.log.Zap().Warn("breaking stale job lock", zap.Duration("age", age), zap.Duration("threshold", j.staleAfter))
		return true
	}
	return false
}

// waitForHolder polls until the other holder releases the lock, then answers
// the query from the canonical set it left behind.
func (j *Job) waitForHolder(ctx context.Context, query string) ([]investor.Record, bool) {
	attempts := int(j.maxWait / j.pollInterval)
	if attempts < 1 {
		attempts = 1
	}
	j.log.Info("job lock held elsewhere; waiting up to %s for %q", j.maxWait, query)
	for i := 0; i < attempts; i++ {
		if err := j.sleep(ctx, j.pollInterval); err != nil {
			return []investor.Record{}, false
		}
		if p, ok := j.progress.Get(ctx); ok {
			j.log.Debug("holder progress: run %s %s %s", p.RunID, p.Stage, p.Message)
		}
		if j.cache.IsLocked(ctx) {
			continue
		}
		all, ok := j.cache.GetCachedAll(ctx)
		if !ok {
			var err error
			if all, err = j.store.GetAll(ctx); err != nil {
				j.log.Warn("reading store after wait: %v", err)
				return []investor.Record{}, true
			}
		}
		return investor.Deduplicate(search.Match(query, all)).Unique, true
	}
	j.log.Warn("gave up waiting for job lock after %s", j.maxWait)
	return []investor.Record{}, false
}

// apply merges candidates into the canonical set, persists it and refreshes
// the shared cache. It returns the records touched by this batch.
func (j *Job) apply(ctx context.Context, tracker *progress.Run, candidates []investor.Candidate) ([]investor.Record, error) {
	existing, err := j.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load canonical set: %w", err)
	}

	tracker.Set(ctx, progress.StageMerging, "resolving candidates", progress.Counters{Candidates: len(candidates)})
	b := resolve(existing, candidates, j.now())
	j.log.Zap().Debug("batch resolved",
		zap.Int("candidates", len(candidates)), zap.Int("added", b.added),
		zap.Int("updated", b.updated), zap.Int("invalid", b.invalid))

	final := investor.Deduplicate(b.all)
	if final.DuplicatesRemoved > 0 || final.InvalidRemoved > 0 {
		j.log.Warn("final dedup removed %d duplicates and %d invalid records",
			final.DuplicatesRemoved, final.InvalidRemoved)
	}
	counters := progress.Counters{
		Candidates: len(candidates), Added: b.added, Updated: b.updated, Total: len(final.Unique),
	}

	if b.added+b.updated > 0 || final.DuplicatesRemoved+final.InvalidRemoved > 0 {
		tracker.Set(ctx, progress.StageSaving, "persisting canonical set", counters)
		if err := j.store.UpsertMany(ctx, final.Unique); err != nil {
			return nil, fmt.Errorf("persist canonical set: %w", err)
		}
		for _, id := range droppedIDs(b.all, final.Unique) {
			if err := j.store.Delete(ctx, id); err != nil {
				return nil, fmt.Errorf("delete duplicate %s: %w", id, err)
			}
		}
	}

	// The store now holds the new set; publish it even if the caller gave up.
	cctx, cancel := detached(ctx)
	defer cancel()
	tracker.Set(cctx, progress.StageCaching, "refreshing canonical cache", counters)
	persisted, err := j.store.GetAll(cctx)
	if err != nil {
		j.log.Warn("re-reading canonical set failed, caching merged copy: %v", err)
		persisted = final.Unique
	}
	j.cache.InvalidateAll(cctx)
	j.cache.SetCachedAll(cctx, persisted)
	j.metrics.CanonicalSize(len(persisted))

	kept := make(map[string]investor.Record, len(final.Unique))
	for _, r := range final.Unique {
		kept[r.ID] = r
	}
	out := make([]investor.Record, 0, len(b.touched))
	for _, id := range b.touched {
		if r, ok := kept[id]; ok {
			out = append(out, r)
		}
	}
	result := investor.Deduplicate(out).Unique
	tracker.Set(cctx, progress.StageDone, fmt.Sprintf("%d records added or updated", len(result)), counters)
	j.log.Info("accumulated %d records (%d new, %d updated), canonical set now %d",
		len(result), b.added, b.updated, len(persisted))
	return result, nil
}

func droppedIDs(before, after []investor.Record) []string {
	keep := make(map[string]struct{}, len(after))
	for _, r := range after {
		keep[r.ID] = struct{}{}
	}
	var out []string
	for _, r := range before {
		if _, ok := keep[r.ID]; !ok && r.ID != "" {
			out = append(out, r.ID)
		}
	}
	return out
}
