package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"angelscout/internal/investor"
	"angelscout/internal/logging"
	"angelscout/internal/metrics"
)

// Keys and metric namespaces.
const (
	KeyAll       = "investors:all"
	KeyLock      = "accumulate:lock"
	KeyLastRun   = "accumulate:last_run"
	idPrefix     = "investor:"
	queryPrefix  = "search:"
	nsCanonical  = "canonical"
	nsQuery      = "query"
	nsID         = "id"
	lockedMarker = "1"
)

// Default TTLs.
const (
	DefaultQueryTTL = time.Hour
	DefaultLockTTL  = 5 * time.Minute
)

// QueryEntry is a cached per-query view. Raw carries freeform provenance.
type QueryEntry struct {
	Investors []investor.Record `json:"investors"`
	Raw       string            `json:"raw,omitempty"`
	// StoredAt is zero for entries written in the legacy bare-array shape.
	StoredAt time.Time `json:"storedAt"`
}

// Options configures Shared. Zero values select defaults.
type Options struct {
	QueryTTL time.Duration
	LockTTL  time.Duration
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Shared exposes the canonical-set, per-query and job-lock namespaces over
// one KV. A nil KV is allowed and behaves as a permanently empty cache.
type Shared struct {
	kv       KV
	queryTTL time.Duration
	lockTTL  time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
	log      *logging.Logger
}

// NewShared wraps kv.
func NewShared(kv KV, opts Options) *Shared {
	s := &Shared{
		kv:       kv,
		queryTTL: opts.QueryTTL,
		lockTTL:  opts.LockTTL,
		metrics:  opts.Metrics,
		now:      opts.Now,
		log:      logging.Get(logging.CategoryCache),
	}
	if s.queryTTL <= 0 {
		s.queryTTL = DefaultQueryTTL
	}
	if s.lockTTL <= 0 {
		s.lockTTL = DefaultLockTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// KV returns the backend, for collaborators that keep their own keys.
func (s *Shared) KV() KV { return s.kv }

// NormalizeQuery lower-cases, trims and collapses internal whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// QueryKey is the per-query cache key for q.
func QueryKey(q string) string { return queryPrefix + NormalizeQuery(q) }

func idKey(id string) string { return idPrefix + id }

func (s *Shared) get(ctx context.Context, key string) ([]byte, bool) {
	if s.kv == nil {
		return nil, false
	}
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.log.Zap().Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return v, ok
}

func (s *Shared) set(ctx context.Context, key string, v any, ttl time.Duration) {
	if s.kv == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Zap().Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, key, data, ttl); err != nil {
		s.log.Zap().Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Shared) del(ctx context.Context, keys ...string) {
	if s.kv == nil || len(keys) == 0 {
		return
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		s.log.Zap().Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// GetCachedAll returns the cached canonical set.
func (s *Shared) GetCachedAll(ctx context.Context) ([]investor.Record, bool) {
	data, ok := s.get(ctx, KeyAll)
	if !ok {
		s.metrics.CacheLookup(nsCanonical, false)
		return nil, false
	}
	var records []investor.Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.Warn("discarding undecodable canonical cache: %v", err)
		s.metrics.CacheLookup(nsCanonical, false)
		return nil, false
	}
	s.metrics.CacheLookup(nsCanonical, true)
	return records, true
}

// SetCachedAll stores the canonical set without expiry.
func (s *Shared) SetCachedAll(ctx context.Context, records []investor.Record) {
	if records == nil {
		records = []investor.Record{}
	}
	s.set(ctx, KeyAll, records, 0)
}

// InvalidateAll drops the canonical set and every per-id entry it names.
func (s *Shared) InvalidateAll(ctx context.Context) {
	keys := []string{KeyAll}
	if data, ok := s.get(ctx, KeyAll); ok {
		var ids []struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(data, &ids) == nil {
			for _, r := range ids {
				if r.ID != "" {
					keys = append(keys, idKey(r.ID))
				}
			}
		}
	}
	s.del(ctx, keys...)
}

// GetCachedByID returns a single cached record.
func (s *Shared) GetCachedByID(ctx context.Context, id string) (investor.Record, bool) {
	data, ok := s.get(ctx, idKey(id))
	if ok {
		var r investor.Record
		if err := json.Unmarshal(data, &r); err == nil {
			s.metrics.CacheLookup(nsID, true)
			return r, true
		}
	}
	s.metrics.CacheLookup(nsID, false)
	return investor.Record{}, false
}

// SetCachedByID caches r under its id for the query TTL.
func (s *Shared) SetCachedByID(ctx context.Context, r investor.Record) {
	if r.ID == "" {
		return
	}
	s.set(ctx, idKey(r.ID), r, s.queryTTL)
}

// GetQuery reads a per-query entry. Entries written as a bare JSON array by
// older builds are accepted as the investors list.
func (s *Shared) GetQuery(ctx context.Context, query string) (QueryEntry, bool) {
	data, ok := s.get(ctx, QueryKey(query))
	if !ok {
		s.metrics.CacheLookup(nsQuery, false)
		return QueryEntry{}, false
	}
	entry, err := decodeQueryEntry(data)
	if err != nil {
		s.log.Warn("discarding undecodable query cache for %q: %v", query, err)
		s.metrics.CacheLookup(nsQuery, false)
		return QueryEntry{}, false
	}
	s.metrics.CacheLookup(nsQuery, true)
	return entry, true
}

func decodeQueryEntry(data []byte) (QueryEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var legacy []investor.Record
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return QueryEntry{}, err
		}
		return QueryEntry{Investors: legacy}, nil
	}
	var entry QueryEntry
	if err := json.Unmarshal(trimmed, &entry); err != nil {
		return QueryEntry{}, err
	}
	return entry, nil
}

// SetQuery caches records for query with the query TTL.
func (s *Shared) SetQuery(ctx context.Context, query string, records []investor.Record, raw string) {
	if records == nil {
		records = []investor.Record{}
	}
	entry := QueryEntry{Investors: records, Raw: raw, StoredAt: s.now().UTC()}
	s.set(ctx, QueryKey(query), entry, s.queryTTL)
}

// IsLocked reports whether the job lock flag is present.
func (s *Shared) IsLocked(ctx context.Context) bool {
	_, ok := s.get(ctx, KeyLock)
	return ok
}

// SetLocked sets the TTL'd lock flag and stamps the last run time, or clears
// the flag.
func (s *Shared) SetLocked(ctx context.Context, locked bool) {
	if !locked {
		s.del(ctx, KeyLock)
		return
	}
	s.set(ctx, KeyLock, lockedMarker, s.lockTTL)
	s.set(ctx, KeyLastRun, s.now().UTC().Format(time.RFC3339Nano), 0)
}

// GetLastRunTime returns when the lock was last taken.
func (s *Shared) GetLastRunTime(ctx context.Context) (time.Time, bool) {
	data, ok := s.get(ctx, KeyLastRun)
	if !ok {
		return time.Time{}, false
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
