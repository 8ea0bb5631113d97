// Package source produces investor candidates for a query. Adapters never
// fail: any upstream problem is logged and reported as zero candidates.
package source

import (
	"context"
	"strings"
	"sync"

	"angelscout/internal/investor"
)

// Adapter is the generative capability "query in, candidates out".
type Adapter interface {
	FetchCandidates(ctx context.Context, query string) []investor.Candidate
}

// Func adapts a plain function to Adapter.
type Func func(ctx context.Context, query string) []investor.Candidate

func (f Func) FetchCandidates(ctx context.Context, query string) []investor.Candidate {
	return f(ctx, query)
}

// Static serves fixed candidates per normalized query. Unknown queries get
// the fallback list, which may be empty.
type Static struct {
	mu       sync.Mutex
	byQuery  map[string][]investor.Candidate
	fallback []investor.Candidate
	calls    int
}

// NewStatic returns an adapter answering every query with fallback.
func NewStatic(fallback ...investor.Candidate) *Static {
	return &Static{byQuery: make(map[string][]investor.Candidate), fallback: fallback}
}

// Add registers candidates for query.
func (s *Static) Add(query string, candidates ...investor.Candidate) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeQuery(query)
	s.byQuery[key] = append(s.byQuery[key], candidates...)
	return s
}

func (s *Static) FetchCandidates(_ context.Context, query string) []investor.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	found, ok := s.byQuery[normalizeQuery(query)]
	if !ok {
		found = s.fallback
	}
	out := make([]investor.Candidate, len(found))
	copy(out, found)
	return out
}

// Calls returns how many times FetchCandidates ran.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
