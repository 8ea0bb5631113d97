package investor

import (
	"time"
	"unicode/utf8"
)

// MergeContact takes each incoming field only when present. The existing
// auxiliary list is always preserved; incoming extras are appended.
func MergeContact(existing, incoming Contact) Contact {
	return Contact{
		Email:    preferPresent(existing.Email, incoming.Email),
		LinkedIn: preferPresent(existing.LinkedIn, incoming.LinkedIn),
		Twitter:  preferPresent(existing.Twitter, incoming.Twitter),
		Website:  preferPresent(existing.Website, incoming.Website),
		Other:    union(existing.Other, incoming.Other),
	}
}

// MergeInterests returns existing unchanged when incoming is empty, otherwise
// the order-preserving set union. Interests never shrink.
func MergeInterests(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	return union(existing, incoming)
}

// MergeProfile merges field by field: list fields take incoming only when
// non-empty, scalar fields only when set. Neither input is modified.
func MergeProfile(existing, incoming *Profile) *Profile {
	if incoming.IsEmpty() {
		return existing
	}
	if existing == nil {
		return incoming
	}
	merged := existing.Clone()
	if len(incoming.Stages) > 0 {
		merged.Stages = cloneStrings(incoming.Stages)
	}
	if len(incoming.GeographicFocus) > 0 {
		merged.GeographicFocus = cloneStrings(incoming.GeographicFocus)
	}
	if len(incoming.PortfolioCompanies) > 0 {
		merged.PortfolioCompanies = cloneStrings(incoming.PortfolioCompanies)
	}
	if !incoming.CheckSize.IsEmpty() {
		cs := *incoming.CheckSize
		merged.CheckSize = &cs
	}
	merged.Philosophy = preferPresent(merged.Philosophy, incoming.Philosophy)
	merged.FundingSource = preferPresent(merged.FundingSource, incoming.FundingSource)
	merged.ExitExpectations = preferPresent(merged.ExitExpectations, incoming.ExitExpectations)
	merged.DecisionProcess = preferPresent(merged.DecisionProcess, incoming.DecisionProcess)
	merged.Reputation = preferPresent(merged.Reputation, incoming.Reputation)
	merged.Network = preferPresent(merged.Network, incoming.Network)
	merged.TractionRequirements = preferPresent(merged.TractionRequirements, incoming.TractionRequirements)
	merged.BoardParticipation = preferPresent(merged.BoardParticipation, incoming.BoardParticipation)
	return merged
}

// MergeRecord folds a partial incoming record into existing.
//
// Bio and extended bio take the incoming text only when it is strictly longer.
// Location and image take incoming when present. Name, id, source and
// ScrapedAt are left untouched; the caller owns id preservation.
func MergeRecord(existing, incoming Record, incomingInterests []string, incomingProfile *Profile, now time.Time) Record {
	merged := existing.Clone()
	merged.Bio = preferLonger(existing.Bio, incoming.Bio)
	merged.ExtendedBio = preferLonger(existing.ExtendedBio, incoming.ExtendedBio)
	merged.Location = preferPresent(existing.Location, incoming.Location)
	merged.ImageURL = preferPresent(existing.ImageURL, incoming.ImageURL)
	merged.Contact = MergeContact(existing.Contact, incoming.Contact)
	merged.Interests = MergeInterests(merged.Interests, incomingInterests)
	merged.Profile = MergeProfile(merged.Profile, incomingProfile.Clone())
	merged.LastUpdated = now
	return merged
}

// MergeCandidate is MergeRecord fed from a candidate.
func MergeCandidate(existing Record, c Candidate, now time.Time) Record {
	return MergeRecord(existing, c.Partial(), c.Interests, c.Profile, now)
}

func preferPresent(existing, incoming string) string {
	if t := trimmed(incoming); t != "" {
		return t
	}
	return existing
}

func preferLonger(existing, incoming string) string {
	incoming = trimmed(incoming)
	if utf8.RuneCountInString(incoming) > utf8.RuneCountInString(existing) {
		return incoming
	}
	return existing
}

// union appends every non-blank element of b not already in a. Elements of a
// are kept as they are.
func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range b {
		s = trimmed(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
