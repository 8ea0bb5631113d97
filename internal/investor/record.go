// Package investor defines the canonical investor record and the identity and
// merge rules that keep one record per normalized name.
//
// Every function here is total: malformed input is filtered or ignored, never
// reported as an error, because records originate from a generative model
// whose output cannot be fully trusted.
package investor

import "time"

// Contact holds optional ways to reach an investor.
type Contact struct {
	Email    string   `json:"email,omitempty"`
	LinkedIn string   `json:"linkedin,omitempty"`
	Twitter  string   `json:"twitter,omitempty"`
	Website  string   `json:"website,omitempty"`
	Other    []string `json:"other,omitempty"`
}

// CheckSize is a typical investment range.
type CheckSize struct {
	Min      int64  `json:"min,omitempty"`
	Max      int64  `json:"max,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// IsEmpty reports whether the range carries no information.
func (c *CheckSize) IsEmpty() bool {
	return c == nil || (c.Min == 0 && c.Max == 0)
}

// Profile is the nested investment profile. All twelve fields are optional
// and merge independently.
type Profile struct {
	Stages               []string   `json:"stages,omitempty"`
	CheckSize            *CheckSize `json:"checkSize,omitempty"`
	GeographicFocus      []string   `json:"geographicFocus,omitempty"`
	PortfolioCompanies   []string   `json:"portfolioCompanies,omitempty"`
	Philosophy           string     `json:"investmentPhilosophy,omitempty"`
	FundingSource        string     `json:"fundingSource,omitempty"`
	ExitExpectations     string     `json:"exitExpectations,omitempty"`
	DecisionProcess      string     `json:"decisionProcess,omitempty"`
	Reputation           string     `json:"reputation,omitempty"`
	Network              string     `json:"network,omitempty"`
	TractionRequirements string     `json:"tractionRequirements,omitempty"`
	BoardParticipation   string     `json:"boardParticipation,omitempty"`
}

// FieldCount returns the number of non-empty profile fields.
func (p *Profile) FieldCount() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, l := range [][]string{p.Stages, p.GeographicFocus, p.PortfolioCompanies} {
		if len(l) > 0 {
			n++
		}
	}
	if !p.CheckSize.IsEmpty() {
		n++
	}
	for _, s := range p.textFields() {
		if s != "" {
			n++
		}
	}
	return n
}

// IsEmpty reports whether no field is set.
func (p *Profile) IsEmpty() bool { return p.FieldCount() == 0 }

func (p *Profile) textFields() []string {
	return []string{
		p.Philosophy, p.FundingSource, p.ExitExpectations, p.DecisionProcess,
		p.Reputation, p.Network, p.TractionRequirements, p.BoardParticipation,
	}
}

// Clone deep-copies the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Stages = cloneStrings(p.Stages)
	cp.GeographicFocus = cloneStrings(p.GeographicFocus)
	cp.PortfolioCompanies = cloneStrings(p.PortfolioCompanies)
	if p.CheckSize != nil {
		cs := *p.CheckSize
		cp.CheckSize = &cs
	}
	return &cp
}

// Record is the canonical investor entity.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Bio         string    `json:"bio,omitempty"`
	ExtendedBio string    `json:"extendedBio,omitempty"`
	Location    string    `json:"location,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Interests   []string  `json:"interests,omitempty"`
	Contact     Contact   `json:"contact"`
	Profile     *Profile  `json:"profile,omitempty"`
	Source      string    `json:"source,omitempty"`
	ScrapedAt   time.Time `json:"scrapedAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// NameKey returns the identity key of the record.
func (r Record) NameKey() string { return NormalizeName(r.Name) }

// Clone deep-copies the record so callers can mutate it freely.
func (r Record) Clone() Record {
	cp := r
	cp.Interests = cloneStrings(r.Interests)
	cp.Contact.Other = cloneStrings(r.Contact.Other)
	cp.Profile = r.Profile.Clone()
	return cp
}

// CloneAll deep-copies a slice of records.
func CloneAll(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// Candidate is one investor as returned by a generative source. Every field
// is optional; the zero value means absent.
type Candidate struct {
	Name        string   `json:"name"`
	Bio         string   `json:"bio,omitempty"`
	ExtendedBio string   `json:"extendedBio,omitempty"`
	Location    string   `json:"location,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	Interests   []string `json:"interests,omitempty"`
	Contact     Contact  `json:"contact"`
	Profile     *Profile `json:"profile,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// ID returns the storage id this candidate maps to.
func (c Candidate) ID() string { return MakeID(c.Name, c.Source) }

// FromCandidate builds a fresh record. It reports false when the candidate
// has no usable name.
func FromCandidate(c Candidate, now time.Time) (Record, bool) {
	name := trimmed(c.Name)
	if name == "" {
		return Record{}, false
	}
	return Record{
		ID:          MakeID(c.Name, c.Source),
		Name:        name,
		Bio:         trimmed(c.Bio),
		ExtendedBio: trimmed(c.ExtendedBio),
		Location:    trimmed(c.Location),
		ImageURL:    trimmed(c.ImageURL),
		Interests:   MergeInterests(nil, c.Interests),
		Contact:     MergeContact(Contact{}, c.Contact),
		Profile:     c.Profile.Clone(),
		Source:      c.Source,
		ScrapedAt:   now,
		LastUpdated: now,
	}, true
}

// Partial returns the scalar fields of the candidate as a record suitable for
// MergeRecord.
func (c Candidate) Partial() Record {
	return Record{
		Name:        trimmed(c.Name),
		Bio:         trimmed(c.Bio),
		ExtendedBio: trimmed(c.ExtendedBio),
		Location:    trimmed(c.Location),
		ImageURL:    trimmed(c.ImageURL),
		Contact:     c.Contact,
		Source:      c.Source,
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
