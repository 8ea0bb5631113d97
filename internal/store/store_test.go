package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"angelscout/internal/investor"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(name, bio string, offset time.Duration) investor.Record {
	r, _ := investor.FromCandidate(investor.Candidate{Name: name, Bio: bio, Source: "test"}, t0.Add(offset))
	return r
}

// fakeS3 is an in-memory ObjectAPI.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	getErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "investors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
		"s3":     NewS3WithClient(newFakeS3(), "bucket", ""),
		"cached": NewCached(NewMemory(), time.Minute),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			all, err := s.GetAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)

			_, err = s.GetByID(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			a := rec("Alice Ng", "angel", 0)
			b := rec("Bob Li", "seed investor", time.Second)
			require.NoError(t, s.UpsertMany(ctx, []investor.Record{a, b}))

			all, err = s.GetAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, a.ID, all[0].ID)
			assert.Equal(t, b.ID, all[1].ID)

			updated := a.Clone()
			updated.Bio = "angel investor in fintech"
			updated.LastUpdated = t0.Add(time.Hour)
			require.NoError(t, s.UpsertMany(ctx, []investor.Record{updated}))

			got, err := s.GetByID(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, updated, got)

			all, err = s.GetAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2, "upsert by id must not duplicate")
			assert.Equal(t, a.ID, all[0].ID, "updated row keeps its position")

			require.NoError(t, s.Delete(ctx, b.ID))
			require.NoError(t, s.Delete(ctx, "never-existed"))
			all, err = s.GetAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "angel investor in fintech", all[0].Bio)
		})
	}
}

func TestGetAllKeepsBatchOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// Same creation time, so only insertion order can separate them.
			batch := []investor.Record{
				rec("Zoe Park", "", 0), rec("Amy Chen", "", 0), rec("Mia Ross", "", 0), rec("Ben Ortiz", "", 0),
			}
			require.NoError(t, s.UpsertMany(ctx, batch))
			later := rec("Carl Diaz", "", 0)
			moved := batch[1].Clone()
			moved.Bio = "updated"
			require.NoError(t, s.UpsertMany(ctx, []investor.Record{later, moved}))

			all, err := s.GetAll(ctx)
			require.NoError(t, err)
			var ids []string
			for _, r := range all {
				ids = append(ids, r.ID)
			}
			want := []string{batch[0].ID, batch[1].ID, batch[2].ID, batch[3].ID, later.ID}
			assert.Equal(t, want, ids)
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := rec("Alice Ng", "angel", 0)
	r.Interests = []string{"fintech"}
	m := NewMemory(r)

	all, err := m.GetAll(ctx)
	require.NoError(t, err)
	all[0].Interests[0] = "mutated"

	again, err := m.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fintech"}, again[0].Interests)
}

type countingStore struct {
	Store
	getAll int
}

func (c *countingStore) GetAll(ctx context.Context) ([]investor.Record, error) {
	c.getAll++
	return c.Store.GetAll(ctx)
}

func TestCachedServesWithinTTL(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: NewMemory(rec("Alice Ng", "angel", 0))}
	c := NewCached(inner, 5*time.Second)
	now := t0
	c.now = func() time.Time { return now }

	_, err := c.GetAll(ctx)
	require.NoError(t, err)
	_, err = c.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.getAll)

	now = now.Add(6 * time.Second)
	_, err = c.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.getAll)
}

func TestCachedWriteInvalidates(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: NewMemory()}
	c := NewCached(inner, time.Hour)

	all, err := c.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, c.UpsertMany(ctx, []investor.Record{rec("Alice Ng", "", 0)}))
	all, err = c.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 2, inner.getAll)

	c.Invalidate()
	_, err = c.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.getAll)
}

func TestS3MissingObjectIsEmpty(t *testing.T) {
	fake := newFakeS3()
	s := NewS3WithClient(fake, "bucket", "set.json")
	all, err := s.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, s.Delete(context.Background(), "nope"))
	assert.Zero(t, fake.puts, "deleting an unknown id must not rewrite the object")
}

func TestS3PropagatesErrors(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = errors.New("access denied")
	s := NewS3WithClient(fake, "bucket", "")
	_, err := s.GetAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Error(t, s.UpsertMany(context.Background(), []investor.Record{rec("A", "", 0)}))
}

func TestSQLiteSkipsCorruptRows(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.UpsertMany(ctx, []investor.Record{rec("Alice Ng", "", 0)}))
	_, err = s.DB().ExecContext(ctx,
		`INSERT INTO investors(id,name_key,payload,created_at,updated_at) VALUES('bad','bad','{not json',0,0)`)
	require.NoError(t, err)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestNewPostgresRequiresDSN(t *testing.T) {
	_, err := NewPostgres(context.Background(), "")
	assert.Error(t, err)
}

func TestNewPostgresOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return nil, errors.New("boom")
	})
	defer restore()
	_, err := NewPostgres(context.Background(), "postgres://x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Driver: DriverMemory})
	require.NoError(t, err)
	_, ok := s.Unwrap().(*Memory)
	assert.True(t, ok)

	s, err = Open(ctx, Options{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	defer s.Close()
	_, ok = s.Unwrap().(*SQLite)
	assert.True(t, ok)

	_, err = Open(ctx, Options{Driver: "cassandra"})
	assert.Error(t, err)
}
