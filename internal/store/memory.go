package store

import (
	"context"
	"sync"

	"angelscout/internal/investor"
)

// Memory is an in-process Store. The zero value is not usable; call NewMemory.
type Memory struct {
	mu      sync.RWMutex
	records []investor.Record
}

// NewMemory returns a Memory store seeded with records.
func NewMemory(seed ...investor.Record) *Memory {
	m := &Memory{}
	m.records = upsertOrdered(nil, seed)
	return m
}

func (m *Memory) GetAll(_ context.Context) ([]investor.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return investor.CloneAll(m.records), nil
}

func (m *Memory) GetByID(_ context.Context, id string) (investor.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return findID(m.records, id)
}

func (m *Memory) UpsertMany(_ context.Context, records []investor.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = upsertOrdered(m.records, records)
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = removeID(m.records, id)
	return nil
}

func (m *Memory) Close() error { return nil }
