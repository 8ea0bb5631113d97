package accumulate

import (
	"time"

	"angelscout/internal/investor"
)

// batch is the working copy of the canonical set during one run.
type batch struct {
	all     []investor.Record
	touched []string // ids added or updated, first-touch order
	added   int
	updated int
	invalid int
}

// resolve applies candidates one at a time so later candidates see earlier
// insertions. Identity is tried by id, then by normalized name among the
// existing records, then by normalized name among records added in this
// batch.
func resolve(existing []investor.Record, candidates []investor.Candidate, now time.Time) *batch {
	b := &batch{all: investor.CloneAll(existing)}
	byID := make(map[string]int, len(b.all))
	byName := make(map[string]int, len(b.all))
	for i, r := range b.all {
		byID[r.ID] = i
		if k := r.NameKey(); k != "" {
			if _, dup := byName[k]; !dup {
				byName[k] = i
			}
		}
	}
	inBatch := make(map[string]int)
	seen := make(map[string]bool)
	touch := func(id string) {
		if !seen[id] {
			seen[id] = true
			b.touched = append(b.touched, id)
		}
	}
	isNew := make(map[string]bool)

	for _, c := range candidates {
		key := investor.NormalizeName(c.Name)
		if key == "" {
			b.invalid++
			continue
		}
		pos, found := byID[c.ID()]
		if !found {
			pos, found = byName[key]
		}
		if !found {
			pos, found = inBatch[key]
		}
		if found {
			b.all[pos] = investor.MergeCandidate(b.all[pos], c, now)
			id := b.all[pos].ID
			if !isNew[id] && !seen[id] {
				b.updated++
			}
			touch(id)
			continue
		}
		r, ok := investor.FromCandidate(c, now)
		if !ok {
			b.invalid++
			continue
		}
		pos = len(b.all)
		b.all = append(b.all, r)
		byID[r.ID] = pos
		inBatch[key] = pos
		isNew[r.ID] = true
		b.added++
		touch(r.ID)
	}
	return b
}
