package accumulate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"angelscout/internal/cache"
	"angelscout/internal/investor"
	"angelscout/internal/metrics"
	"angelscout/internal/progress"
	"angelscout/internal/source"
	"angelscout/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store  *store.Memory
	kv     *cache.MemoryKV
	shared *cache.Shared
	job    *Job
	now    time.Time
}

func newHarness(t *testing.T, adapter source.Adapter, seed ...investor.Record) *harness {
	t.Helper()
	h := &harness{store: store.NewMemory(seed...), kv: cache.NewMemoryKV(), now: t0}
	clock := func() time.Time { return h.now }
	h.kv.SetClock(clock)
	h.shared = cache.NewShared(h.kv, cache.Options{Now: clock})
	h.job = New(h.store, h.shared, adapter, Options{
		Progress: progress.NewChannel(h.kv),
		Now:      clock,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})
	return h
}

func (h *harness) all(t *testing.T) []investor.Record {
	t.Helper()
	all, err := h.store.GetAll(context.Background())
	require.NoError(t, err)
	return all
}

// blockingAdapter holds every call until release is closed.
type blockingAdapter struct {
	calls      atomic.Int32
	started    chan struct{}
	release    chan struct{}
	candidates []investor.Candidate
	once       sync.Once
}

func newBlockingAdapter(c ...investor.Candidate) *blockingAdapter {
	return &blockingAdapter{started: make(chan struct{}), release: make(chan struct{}), candidates: c}
}

func (b *blockingAdapter) FetchCandidates(context.Context, string) []investor.Candidate {
	b.calls.Add(1)
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.candidates
}

func TestScenarioAMergesCaseVariantsInOneBatch(t *testing.T) {
	adapter := source.NewStatic().Add("seed investors",
		investor.Candidate{Name: "Alice Smith", Bio: "angel", Interests: []string{"SaaS"}, Source: "X"},
		investor.Candidate{Name: "alice smith", Bio: "angel investor in B2B software", Interests: []string{"B2B", "SaaS"}, Source: "Y"},
	)
	h := newHarness(t, adapter)

	got := h.job.Accumulate(context.Background(), "seed investors")
	require.Len(t, got, 1)

	all := h.all(t)
	require.Len(t, all, 1)
	alice := all[0]
	assert.Equal(t, "Alice Smith", alice.Name)
	assert.Equal(t, investor.MakeID("Alice Smith", "X"), alice.ID)
	assert.Equal(t, "angel investor in B2B software", alice.Bio)
	assert.ElementsMatch(t, []string{"SaaS", "B2B"}, alice.Interests)

	cached, ok := h.shared.GetCachedAll(context.Background())
	require.True(t, ok)
	assert.Equal(t, all, cached)
	assert.False(t, h.shared.IsLocked(context.Background()))
}

func TestScenarioBMergesIntoExistingByID(t *testing.T) {
	bob, _ := investor.FromCandidate(investor.Candidate{Name: "Bob", Bio: "short", Interests: []string{"SaaS"}, Source: "src"}, t0)
	adapter := source.NewStatic(investor.Candidate{
		Name: "Bob", Bio: "a much longer and more detailed biography", Interests: []string{"FinTech"}, Source: "src",
	})
	h := newHarness(t, adapter, bob)
	h.now = t0.Add(time.Hour)

	got := h.job.Accumulate(context.Background(), "fintech")
	require.Len(t, got, 1)
	merged := got[0]
	assert.Equal(t, bob.ID, merged.ID)
	assert.Equal(t, "a much longer and more detailed biography", merged.Bio)
	assert.Equal(t, []string{"SaaS", "FinTech"}, merged.Interests)
	assert.True(t, merged.ScrapedAt.Equal(t0))
	assert.True(t, merged.LastUpdated.Equal(t0.Add(time.Hour)))
	assert.Len(t, h.all(t), 1)
}

func TestFallbackNameMatchAcrossSources(t *testing.T) {
	jane, _ := investor.FromCandidate(investor.Candidate{Name: "Jane Doe", Source: "old"}, t0)
	adapter := source.NewStatic(investor.Candidate{Name: "  jane doe  ", Location: "Berlin", Source: "new"})
	h := newHarness(t, adapter, jane)

	got := h.job.Accumulate(context.Background(), "berlin")
	require.Len(t, got, 1)
	assert.Equal(t, jane.ID, got[0].ID)
	assert.Equal(t, "Jane Doe", got[0].Name)
	assert.Equal(t, "Berlin", got[0].Location)
}

func TestReturnsOnlyTouchedRecords(t *testing.T) {
	var seed []investor.Record
	for _, n := range []string{"Ann", "Ben", "Cid"} {
		r, _ := investor.FromCandidate(investor.Candidate{Name: n, Source: "s"}, t0)
		seed = append(seed, r)
	}
	adapter := source.NewStatic(
		investor.Candidate{Name: "Ben", Bio: "new bio", Source: "s"},
		investor.Candidate{Name: "Dee", Source: "s"},
		investor.Candidate{Name: "   "},
	)
	h := newHarness(t, adapter, seed...)

	got := h.job.Accumulate(context.Background(), "q")
	names := []string{}
	for _, r := range got {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"Ben", "Dee"}, names)
	assert.Len(t, h.all(t), 4)
}

func TestFinalDedupRemovesStoredDuplicates(t *testing.T) {
	a, _ := investor.FromCandidate(investor.Candidate{Name: "Jane Doe", Source: "a"}, t0)
	b, _ := investor.FromCandidate(investor.Candidate{Name: "jane doe ", Bio: "longer profile", Source: "b"}, t0)
	adapter := source.NewStatic(investor.Candidate{Name: "Zed", Source: "c"})
	h := newHarness(t, adapter, a, b)

	h.job.Accumulate(context.Background(), "q")
	all := h.all(t)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID, "the more complete duplicate wins")
	assert.Equal(t, "Zed", all[1].Name)
}

func TestSingleFlightCoalescesSameQuery(t *testing.T) {
	adapter := newBlockingAdapter(investor.Candidate{Name: "Alice", Source: "s"})
	h := newHarness(t, adapter)
	reg := prometheus.NewRegistry()
	h.job.metrics = metrics.New(reg)
	ctx := context.Background()

	const callers = 5
	results := make([][]investor.Record, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = h.job.Accumulate(ctx, "fintech")
	}()
	<-adapter.started
	assert.Equal(t, Status{Running: true, Query: "fintech"}, h.job.Status())

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.job.Accumulate(ctx, "  FinTech ")
		}(i)
	}
	require.Eventually(t, func() bool { return h.job.pending.Load() == callers },
		time.Second, time.Millisecond, "followers never joined the flight")
	close(adapter.release)
	wg.Wait()

	assert.EqualValues(t, 1, adapter.calls.Load())
	assert.EqualValues(t, 0, h.job.pending.Load())
	// the leader is not counted
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP angelscout_accumulate_coalesced_total Callers that joined another caller's in-flight run for the same query
# TYPE angelscout_accumulate_coalesced_total counter
angelscout_accumulate_coalesced_total 4
`), "angelscout_accumulate_coalesced_total"))
	require.Len(t, results[0], 1)
	for i := 1; i < callers; i++ {
		require.Len(t, results[i], 1)
		assert.Same(t, &results[0][0], &results[i][0])
	}
	assert.Equal(t, Status{}, h.job.Status())
}

func TestDifferentQueryRejectedWhileRunning(t *testing.T) {
	adapter := newBlockingAdapter(investor.Candidate{Name: "Alice", Source: "s"})
	h := newHarness(t, adapter)
	ctx := context.Background()

	done := make(chan []investor.Record)
	go func() { done <- h.job.Accumulate(ctx, "fintech") }()
	<-adapter.started

	got := h.job.Accumulate(ctx, "biotech")
	assert.Empty(t, got)
	assert.EqualValues(t, 1, adapter.calls.Load())

	close(adapter.release)
	assert.Len(t, <-done, 1)
}

func TestStaleLockIsBroken(t *testing.T) {
	adapter := source.NewStatic(investor.Candidate{Name: "Alice", Source: "s"})
	h := newHarness(t, adapter)
	ctx := context.Background()

	h.shared.SetLocked(ctx, true) // holder "crashed" at t0
	h.now = t0.Add(DefaultStaleAfter)

	got := h.job.Accumulate(ctx, "q")
	assert.Len(t, got, 1)
	assert.Equal(t, 1, adapter.Calls())
	assert.False(t, h.shared.IsLocked(ctx))
	last, ok := h.shared.GetLastRunTime(ctx)
	require.True(t, ok)
	assert.True(t, last.Equal(h.now), "lock re-stamped by the new holder")
}

func TestWaitsForLiveHolderAndReusesCanonicalSet(t *testing.T) {
	adapter := source.NewStatic(investor.Candidate{Name: "Never", Source: "s"})
	h := newHarness(t, adapter)
	ctx := context.Background()

	h.shared.SetLocked(ctx, true)
	h.now = t0.Add(30 * time.Second)

	dana, _ := investor.FromCandidate(investor.Candidate{Name: "Dana", Interests: []string{"AI/ML"}, Source: "s"}, t0)
	other, _ := investor.FromCandidate(investor.Candidate{Name: "Omar", Interests: []string{"Retail"}, Source: "s"}, t0)
	polls := 0
	h.job.sleep = func(context.Context, time.Duration) error {
		polls++
		if polls == 3 {
			// the other process finishes
			h.shared.SetCachedAll(ctx, []investor.Record{dana, other})
			h.shared.SetLocked(ctx, false)
		}
		return nil
	}

	got := h.job.Accumulate(ctx, "ai")
	require.Len(t, got, 1)
	assert.Equal(t, "Dana", got[0].Name)
	assert.Equal(t, 3, polls)
	assert.Zero(t, adapter.Calls())
}

func TestWaitGivesUpAfterMaxWait(t *testing.T) {
	adapter := source.NewStatic(investor.Candidate{Name: "Never", Source: "s"})
	h := newHarness(t, adapter)
	ctx := context.Background()
	h.shared.SetLocked(ctx, true)

	polls := 0
	h.job.sleep = func(context.Context, time.Duration) error {
		polls++
		return nil
	}
	got := h.job.Accumulate(ctx, "q")
	assert.Empty(t, got)
	assert.Equal(t, int(DefaultMaxWait/DefaultPollInterval), polls)
	assert.Zero(t, adapter.Calls())
	assert.True(t, h.shared.IsLocked(ctx), "a live foreign lock is left alone")
}

func TestWaitStopsOnCancel(t *testing.T) {
	h := newHarness(t, source.NewStatic())
	ctx, cancel := context.WithCancel(context.Background())
	h.shared.SetLocked(ctx, true)
	h.job.sleep = sleepCtx
	cancel()

	start := time.Now()
	assert.Empty(t, h.job.Accumulate(ctx, "q"))
	assert.Less(t, time.Since(start), time.Second)
}

type failingStore struct {
	*store.Memory
	upsertErr error
}

func (f *failingStore) UpsertMany(ctx context.Context, r []investor.Record) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.Memory.UpsertMany(ctx, r)
}

func TestFailureReleasesLockAndKeepsStore(t *testing.T) {
	seed, _ := investor.FromCandidate(investor.Candidate{Name: "Old", Source: "s"}, t0)
	fs := &failingStore{Memory: store.NewMemory(seed), upsertErr: errors.New("disk full")}
	kv := cache.NewMemoryKV()
	shared := cache.NewShared(kv, cache.Options{})
	job := New(fs, shared, source.NewStatic(investor.Candidate{Name: "New", Source: "s"}), Options{})
	ctx := context.Background()

	assert.Empty(t, job.Accumulate(ctx, "q"))
	assert.False(t, shared.IsLocked(ctx))
	assert.Equal(t, Status{}, job.Status())
	all, err := fs.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Old", all[0].Name)

	fs.upsertErr = nil
	assert.Len(t, job.Accumulate(ctx, "q"), 1, "the job is usable after a failure")
}

func TestPanicInSourceIsContained(t *testing.T) {
	adapter := source.Func(func(context.Context, string) []investor.Candidate { panic("boom") })
	h := newHarness(t, adapter)
	ctx := context.Background()

	assert.Empty(t, h.job.Accumulate(ctx, "q"))
	assert.False(t, h.shared.IsLocked(ctx))
	assert.Equal(t, Status{}, h.job.Status())
	p, ok := progress.NewChannel(h.kv).Get(ctx)
	require.True(t, ok)
	assert.Equal(t, progress.StageFailed, p.Stage)
}

func TestEmptySourceLeavesNoTrace(t *testing.T) {
	h := newHarness(t, source.NewStatic())
	ctx := context.Background()

	assert.Empty(t, h.job.Accumulate(ctx, "q"))
	assert.Empty(t, h.all(t))
	_, ok := h.shared.GetCachedAll(ctx)
	assert.False(t, ok)
	assert.False(t, h.shared.IsLocked(ctx))
}

func TestBlankQuery(t *testing.T) {
	h := newHarness(t, source.NewStatic(investor.Candidate{Name: "A"}))
	assert.Empty(t, h.job.Accumulate(context.Background(), "   "))
}

func sqliteShared(t *testing.T) (*cache.SQLiteKV, *cache.Shared) {
	t.Helper()
	kv, err := cache.NewSQLiteKV(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv, cache.NewShared(kv, cache.Options{})
}

func TestCancelledCallerStillReleasesLock(t *testing.T) {
	_, shared := sqliteShared(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	adapter := source.Func(func(context.Context, string) []investor.Candidate {
		cancel()
		return nil
	})
	job := New(store.NewMemory(), shared, adapter, Options{})

	assert.Empty(t, job.Accumulate(ctx, "q"))
	assert.False(t, shared.IsLocked(context.Background()), "lock held after the run returned")
}

func TestCancelledCallerStillPublishesCanonicalSet(t *testing.T) {
	kv, shared := sqliteShared(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	adapter := source.Func(func(context.Context, string) []investor.Candidate {
		cancel()
		return []investor.Candidate{{Name: "Alice", Source: "s"}}
	})
	st := store.NewMemory()
	job := New(st, shared, adapter, Options{Progress: progress.NewChannel(kv)})

	assert.Len(t, job.Accumulate(ctx, "q"), 1)

	bg := context.Background()
	assert.False(t, shared.IsLocked(bg))
	cached, ok := shared.GetCachedAll(bg)
	require.True(t, ok, "canonical cache not published")
	require.Len(t, cached, 1)
	assert.Equal(t, "Alice", cached[0].Name)
	_, ok = progress.NewChannel(kv).Get(bg)
	assert.False(t, ok, "a finished run clears its progress")
}

func TestSuccessfulRunClearsProgress(t *testing.T) {
	h := newHarness(t, source.NewStatic(investor.Candidate{Name: "Alice", Source: "s"}))
	ctx := context.Background()

	assert.Len(t, h.job.Accumulate(ctx, "q"), 1)
	_, ok := progress.NewChannel(h.kv).Get(ctx)
	assert.False(t, ok)
}
