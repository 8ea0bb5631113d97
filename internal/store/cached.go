package store

import (
	"context"
	"sync"
	"time"

	"angelscout/internal/investor"
)

// DefaultReadCacheTTL bounds how long Cached serves GetAll from memory.
const DefaultReadCacheTTL = 5 * time.Second

// Cached is a read-through cache in front of a Store. Writes go through the
// same mutex as reads and drop the cached copy, so a GetAll issued after a
// write always observes it.
type Cached struct {
	inner Store
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	all      []investor.Record
	loadedAt time.Time
	valid    bool
}

// NewCached wraps inner. A non-positive ttl selects DefaultReadCacheTTL.
func NewCached(inner Store, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultReadCacheTTL
	}
	return &Cached{inner: inner, ttl: ttl, now: time.Now}
}

// Unwrap returns the wrapped store.
func (c *Cached) Unwrap() Store { return c.inner }

func (c *Cached) fresh() bool {
	return c.valid && c.now().Sub(c.loadedAt) < c.ttl
}

func (c *Cached) GetAll(ctx context.Context) ([]investor.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fresh() {
		return investor.CloneAll(c.all), nil
	}
	all, err := c.inner.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	c.all = all
	c.loadedAt = c.now()
	c.valid = true
	return investor.CloneAll(all), nil
}

func (c *Cached) GetByID(ctx context.Context, id string) (investor.Record, error) {
	c.mu.Lock()
	if c.fresh() {
		defer c.mu.Unlock()
		return findID(c.all, id)
	}
	c.mu.Unlock()
	return c.inner.GetByID(ctx, id)
}

func (c *Cached) UpsertMany(ctx context.Context, records []investor.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	return c.inner.UpsertMany(ctx, records)
}

func (c *Cached) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	return c.inner.Delete(ctx, id)
}

// Invalidate drops the cached copy.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

func (c *Cached) Close() error { return c.inner.Close() }
