package investor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Jane Doe", "jane doe"},
		{"  jane doe  ", "jane doe"},
		{"", ""},
		{"   \t", ""},
		{"José  Núñez", "josé  núñez"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "input %q", tt.in)
	}
	assert.Equal(t, NormalizeName("Jane Doe"), NormalizeName("  jane doe  "))
}

func TestMakeID(t *testing.T) {
	a := MakeID("Bob", "gemini")
	assert.Len(t, a, idLength)
	assert.Equal(t, a, MakeID("Bob", "gemini"), "same inputs must give same id")
	assert.NotEqual(t, a, MakeID("Bob", "crunchbase"))
	assert.NotEqual(t, a, MakeID("Bobby", "gemini"))
}

func TestCompleteness(t *testing.T) {
	r := Record{Bio: "abc", ExtendedBio: "de"}
	assert.Equal(t, 5, Completeness(r))

	r.Profile = &Profile{Stages: []string{"seed"}, Philosophy: "founders first", CheckSize: &CheckSize{Min: 1}}
	assert.Equal(t, 8, Completeness(r))

	r.Profile.CheckSize = &CheckSize{}
	assert.Equal(t, 7, Completeness(r), "empty check size does not count")
	assert.Equal(t, 0, Completeness(Record{}))
}

func TestFromCandidate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	_, ok := FromCandidate(Candidate{Name: "   "}, now)
	assert.False(t, ok)

	rec, ok := FromCandidate(Candidate{
		Name:      "  Alice Smith ",
		Bio:       " angel ",
		Interests: []string{"AI", " AI", "", "Fintech"},
		Source:    "X",
	}, now)
	require.True(t, ok)
	assert.Equal(t, "Alice Smith", rec.Name)
	assert.Equal(t, "angel", rec.Bio)
	assert.Equal(t, []string{"AI", "Fintech"}, rec.Interests)
	assert.Equal(t, MakeID("  Alice Smith ", "X"), rec.ID)
	assert.Equal(t, now, rec.ScrapedAt)
	assert.Equal(t, now, rec.LastUpdated)
}

func TestRecordCloneIsDeep(t *testing.T) {
	orig := Record{
		Interests: []string{"AI"},
		Contact:   Contact{Other: []string{"x"}},
		Profile:   &Profile{Stages: []string{"seed"}, CheckSize: &CheckSize{Min: 1}},
	}
	cp := orig.Clone()
	cp.Interests[0] = "changed"
	cp.Contact.Other[0] = "changed"
	cp.Profile.Stages[0] = "changed"
	cp.Profile.CheckSize.Min = 99

	assert.Equal(t, "AI", orig.Interests[0])
	assert.Equal(t, "x", orig.Contact.Other[0])
	assert.Equal(t, "seed", orig.Profile.Stages[0])
	assert.Equal(t, int64(1), orig.Profile.CheckSize.Min)
}
