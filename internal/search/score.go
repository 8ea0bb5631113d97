package search

import (
	"sort"
	"strings"
	"unicode"

	"angelscout/internal/cache"
	"angelscout/internal/investor"
)

// Score weights.
const (
	WeightExactName     = 100
	WeightNameSubstring = 50
	WeightKeywordHit    = 10
	WeightInterest      = 20
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "or": {}, "for": {}, "in": {},
	"of": {}, "to": {}, "with": {}, "on": {}, "at": {}, "by": {}, "who": {},
	"investor": {}, "investors": {}, "angel": {}, "angels": {},
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range tokens(s) {
		set[t] = struct{}{}
	}
	return set
}

// Keywords splits a query into distinct lower-case search terms, dropping
// stopwords and generic words like "investor".
func Keywords(query string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, t := range tokens(query) {
		if _, stop := stopwords[t]; stop {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Score rates how well r answers query. Zero means no match.
func Score(query string, r investor.Record) int {
	q := cache.NormalizeQuery(query)
	if q == "" {
		return 0
	}
	score := 0
	name := r.NameKey()
	switch {
	case name == q:
		score += WeightExactName
	case name != "" && strings.Contains(name, q):
		score += WeightNameSubstring
	}

	keywords := Keywords(query)
	if len(keywords) == 0 {
		return score
	}
	for _, field := range []string{r.Name, r.Bio, r.ExtendedBio, r.Location} {
		if field == "" {
			continue
		}
		set := tokenSet(field)
		for _, kw := range keywords {
			if _, ok := set[kw]; ok {
				score += WeightKeywordHit
			}
		}
	}
	for _, interest := range r.Interests {
		set := tokenSet(interest)
		for _, kw := range keywords {
			if _, ok := set[kw]; ok {
				score += WeightInterest
				break
			}
		}
	}
	return score
}

type scored struct {
	record investor.Record
	score  int
}

// Match returns the records with a positive Score, best first. Equal scores
// are ordered by name.
func Match(query string, records []investor.Record) []investor.Record {
	hits := make([]scored, 0)
	for _, r := range records {
		if s := Score(query, r); s > 0 {
			hits = append(hits, scored{record: r, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].record.NameKey() < hits[j].record.NameKey()
	})
	out := make([]investor.Record, len(hits))
	for i, h := range hits {
		out[i] = h.record
	}
	return out
}
