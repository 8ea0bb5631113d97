// Package metrics holds the prometheus collectors for accumulation runs,
// shared-cache traffic and search paths. A nil *Metrics is valid and records
// nothing, so components can be built without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeEmpty    = "empty"
	OutcomeFailed   = "failed"
	OutcomeWaited   = "waited"
	OutcomeTimedOut = "timed_out"
)

// Metrics groups every collector the core exports.
type Metrics struct {
	jobRuns           *prometheus.CounterVec
	jobCoalesced      prometheus.Counter
	jobRejected       prometheus.Counter
	staleLocksCleared prometheus.Counter
	candidates        prometheus.Counter
	runDuration       prometheus.Histogram
	cacheLookups      *prometheus.CounterVec
	searches          *prometheus.CounterVec
	canonicalSize     prometheus.Gauge
}

// New registers the collectors on reg. A nil reg builds unregistered
// collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "angelscout_accumulate_runs_total",
			Help: "Accumulation runs by outcome",
		}, []string{"outcome"}),
		jobCoalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "angelscout_accumulate_coalesced_total",
			Help: "Callers that joined another caller's in-flight run for the same query",
		}),
		jobRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "angelscout_accumulate_rejected_total",
			Help: "Callers rejected because a different query was running",
		}),
		staleLocksCleared: f.NewCounter(prometheus.CounterOpts{
			Name: "angelscout_accumulate_stale_locks_cleared_total",
			Help: "Job locks force-cleared after their holder went quiet",
		}),
		candidates: f.NewCounter(prometheus.CounterOpts{
			Name: "angelscout_source_candidates_total",
			Help: "Candidates returned by the generative source",
		}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "angelscout_accumulate_duration_seconds",
			Help:    "Wall time of accumulation runs",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "angelscout_cache_lookups_total",
			Help: "Shared cache lookups by namespace and result",
		}, []string{"namespace", "result"}),
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "angelscout_searches_total",
			Help: "Searches by the path that produced the answer",
		}, []string{"path"}),
		canonicalSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "angelscout_canonical_records",
			Help: "Records in the canonical set after the last persisted run",
		}),
	}
}

func (m *Metrics) JobRun(outcome string) {
	if m != nil {
		m.jobRuns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Coalesced() {
	if m != nil {
		m.jobCoalesced.Inc()
	}
}

func (m *Metrics) Rejected() {
	if m != nil {
		m.jobRejected.Inc()
	}
}

func (m *Metrics) StaleLockCleared() {
	if m != nil {
		m.staleLocksCleared.Inc()
	}
}

func (m *Metrics) CandidatesFetched(n int) {
	if m != nil && n > 0 {
		m.candidates.Add(float64(n))
	}
}

func (m *Metrics) ObserveRun(d time.Duration) {
	if m != nil {
		m.runDuration.Observe(d.Seconds())
	}
}

// CacheLookup records a hit or miss in a cache namespace.
func (m *Metrics) CacheLookup(namespace string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(namespace, result).Inc()
}

func (m *Metrics) SearchServed(path string) {
	if m != nil {
		m.searches.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) CanonicalSize(n int) {
	if m != nil {
		m.canonicalSize.Set(float64(n))
	}
}
