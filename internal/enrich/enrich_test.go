package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"angelscout/internal/cache"
	"angelscout/internal/investor"
	"angelscout/internal/store"
)

type fakeProfiles struct {
	candidate investor.Candidate
	err       error
	asked     []string
}

func (f *fakeProfiles) FetchProfile(_ context.Context, name string) (investor.Candidate, error) {
	f.asked = append(f.asked, name)
	return f.candidate, f.err
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, src ProfileSource) (*Enricher, *store.Memory, *cache.Shared, investor.Record) {
	t.Helper()
	r, _ := investor.FromCandidate(investor.Candidate{
		Name: "Alice Smith", Bio: "angel", Interests: []string{"SaaS"}, Source: "s",
		Profile: &investor.Profile{Stages: []string{"pre-seed"}},
	}, t0)
	st := store.NewMemory(r)
	shared := cache.NewShared(cache.NewMemoryKV(), cache.Options{})
	e := New(st, shared, src)
	e.now = func() time.Time { return t0.Add(time.Hour) }
	return e, st, shared, r
}

func TestEnrichMergesProfile(t *testing.T) {
	ctx := context.Background()
	src := &fakeProfiles{candidate: investor.Candidate{
		Name:        "Alice Smith",
		ExtendedBio: "Twenty years in enterprise software.",
		Interests:   []string{"DevTools"},
		Profile: &investor.Profile{
			CheckSize: &investor.CheckSize{Min: 25000, Max: 100000, Currency: "USD"},
			Network:   "YC alumni",
		},
	}}
	e, st, shared, orig := setup(t, src)
	shared.SetCachedAll(ctx, []investor.Record{orig})

	got, err := e.Enrich(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice Smith"}, src.asked)

	want := orig.Clone()
	want.ExtendedBio = "Twenty years in enterprise software."
	want.Interests = []string{"SaaS", "DevTools"}
	want.Profile = &investor.Profile{
		Stages:    []string{"pre-seed"},
		CheckSize: &investor.CheckSize{Min: 25000, Max: 100000, Currency: "USD"},
		Network:   "YC alumni",
	}
	want.LastUpdated = t0.Add(time.Hour)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Enrich() mismatch (-want +got):\n%s", diff)
	}

	stored, err := st.GetByID(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	canonical, ok := shared.GetCachedAll(ctx)
	require.True(t, ok, "canonical cache repopulated")
	require.Len(t, canonical, 1)
	if diff := cmp.Diff(got, canonical[0]); diff != "" {
		t.Errorf("canonical cache mismatch (-want +got):\n%s", diff)
	}
	cached, ok := shared.GetCachedByID(ctx, orig.ID)
	require.True(t, ok)
	assert.Equal(t, got.ExtendedBio, cached.ExtendedBio)
}

func TestEnrichUnknownID(t *testing.T) {
	e, _, _, _ := setup(t, &fakeProfiles{})
	_, err := e.Enrich(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnrichSourceFailureLeavesRecord(t *testing.T) {
	ctx := context.Background()
	e, st, _, orig := setup(t, &fakeProfiles{err: errors.New("quota")})
	_, err := e.Enrich(ctx, orig.ID)
	require.Error(t, err)

	stored, err := st.GetByID(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, orig, stored)
}

type unreadableStore struct{ *store.Memory }

func (unreadableStore) GetAll(context.Context) ([]investor.Record, error) {
	return nil, errors.New("replica lagging")
}

func TestEnrichLeavesCanonicalInvalidatedWhenStoreUnreadable(t *testing.T) {
	ctx := context.Background()
	_, st, shared, orig := setup(t, nil)
	e := New(unreadableStore{st}, shared, &fakeProfiles{candidate: investor.Candidate{Name: "Alice Smith", Location: "Austin"}})
	shared.SetCachedAll(ctx, []investor.Record{orig})

	got, err := e.Enrich(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, "Austin", got.Location)
	_, ok := shared.GetCachedAll(ctx)
	assert.False(t, ok, "a stale canonical set must not survive the write")
}
