// Package cache is the shared best-effort key/value layer: the canonical set,
// per-query results and the accumulation job lock. Nothing here is a source
// of truth; every failure degrades to a miss.
package cache

import (
	"context"
	"sync"
	"time"
)

// KV is the minimal backend the shared cache needs.
type KV interface {
	// Get reports found=false for absent or expired keys.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Driver names a KV backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverSQLite Driver = "sqlite"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means never
}

// MemoryKV is a process-local KV with per-entry expiry.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memEntry), now: time.Now}
}

// SetClock replaces the clock used for expiry checks.
func (m *MemoryKV) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryKV) Close() error { return nil }
