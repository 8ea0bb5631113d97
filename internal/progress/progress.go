// Package progress publishes the state of the running accumulation so other
// callers (possibly in other processes) can watch it. It carries no control
// flow; losing an update is harmless.
package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"angelscout/internal/cache"
	"angelscout/internal/logging"
)

// Key and TTL of the progress entry.
const (
	Key = "accumulate:progress"
	TTL = 10 * time.Minute
)

// Stage is a coarse phase of an accumulation run.
type Stage string

const (
	StageFetching Stage = "fetching"
	StageMerging  Stage = "merging"
	StageSaving   Stage = "saving"
	StageCaching  Stage = "caching"
	StageDone     Stage = "done"
	StageFailed   Stage = "failed"
)

// Terminal reports whether no further updates follow this stage.
func (s Stage) Terminal() bool { return s == StageDone || s == StageFailed }

// Counters are the numeric details attached to an update.
type Counters struct {
	Candidates int `json:"candidates,omitempty"`
	Added      int `json:"added,omitempty"`
	Updated    int `json:"updated,omitempty"`
	Total      int `json:"total,omitempty"`
}

// Progress is one published update.
type Progress struct {
	RunID     string    `json:"runId"`
	Query     string    `json:"query,omitempty"`
	Stage     Stage     `json:"stage"`
	Message   string    `json:"message,omitempty"`
	Counters  Counters  `json:"counters"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Channel writes progress through a KV. A nil KV makes every call a no-op.
type Channel struct {
	kv  cache.KV
	now func() time.Time
	log *logging.Logger
}

// NewChannel wraps kv.
func NewChannel(kv cache.KV) *Channel {
	return &Channel{kv: kv, now: time.Now, log: logging.Get(logging.CategoryProgress)}
}

// Run is a handle for one run's updates; all share a run id.
type Run struct {
	ch    *Channel
	id    string
	query string
}

// Begin starts a run with a fresh id.
func (c *Channel) Begin(query string) *Run {
	return &Run{ch: c, id: uuid.NewString(), query: query}
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Set publishes an update for this run.
func (r *Run) Set(ctx context.Context, stage Stage, message string, counters Counters) {
	r.ch.Set(ctx, Progress{RunID: r.id, Query: r.query, Stage: stage, Message: message, Counters: counters})
}

// Clear removes the published update if it still belongs to this run, so a
// finished run does not wipe a newer run's progress.
func (r *Run) Clear(ctx context.Context) {
	if r.ch == nil || r.ch.kv == nil {
		return
	}
	if p, ok := r.ch.Get(ctx); ok && p.RunID != r.id {
		return
	}
	r.ch.Clear(ctx)
}

// Set publishes p, stamping UpdatedAt.
func (c *Channel) Set(ctx context.Context, p Progress) {
	if c == nil || c.kv == nil {
		return
	}
	p.UpdatedAt = c.now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		c.log.Warn("encode progress: %v", err)
		return
	}
	if err := c.kv.Set(ctx, Key, data, TTL); err != nil {
		c.log.Warn("publish progress: %v", err)
		return
	}
	c.log.Debug("run %s %s: %s", p.RunID, p.Stage, p.Message)
}

// Get returns the latest update, if any.
func (c *Channel) Get(ctx context.Context) (Progress, bool) {
	if c == nil || c.kv == nil {
		return Progress{}, false
	}
	data, ok, err := c.kv.Get(ctx, Key)
	if err != nil {
		c.log.Warn("read progress: %v", err)
		return Progress{}, false
	}
	if !ok {
		return Progress{}, false
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		c.log.Warn("decode progress: %v", err)
		return Progress{}, false
	}
	return p, true
}

// Clear removes the published update.
func (c *Channel) Clear(ctx context.Context) {
	if c == nil || c.kv == nil {
		return
	}
	if err := c.kv.Delete(ctx, Key); err != nil {
		c.log.Warn("clear progress: %v", err)
	}
}
