package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"angelscout/internal/investor"
)

// ErrNoJSON is returned when the text holds no JSON array or object.
var ErrNoJSON = errors.New("no json payload in model output")

// ParseCandidates decodes model output into candidates. It accepts a bare
// array, an {"investors": [...]} wrapper or a single investor object, and
// ignores surrounding markdown code fences.
func ParseCandidates(text string) ([]investor.Candidate, error) {
	body := stripCodeFences(text)
	if body == "" {
		return nil, ErrNoJSON
	}
	switch body[0] {
	case '[':
		var list []investor.Candidate
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return nil, fmt.Errorf("decode candidate array: %w", err)
		}
		return list, nil
	case '{':
		var wrapped struct {
			Investors []investor.Candidate `json:"investors"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
			return nil, fmt.Errorf("decode candidate object: %w", err)
		}
		if wrapped.Investors != nil {
			return wrapped.Investors, nil
		}
		var single investor.Candidate
		if err := json.Unmarshal([]byte(body), &single); err != nil {
			return nil, fmt.Errorf("decode candidate: %w", err)
		}
		if strings.TrimSpace(single.Name) == "" {
			return nil, nil
		}
		return []investor.Candidate{single}, nil
	default:
		return nil, ErrNoJSON
	}
}

func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		if nl := strings.Index(trimmed, "\n"); nl != -1 {
			if end := strings.LastIndex(trimmed, "```"); end > nl {
				return strings.TrimSpace(trimmed[nl+1 : end])
			}
		}
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
	}
	return strings.TrimSpace(trimmed)
}

// Sanitize trims fields, de-duplicates interests and labels each candidate
// with defaultSource when it has none. Candidates without a name are kept
// for the caller to drop; the count is returned for logging.
func Sanitize(candidates []investor.Candidate, defaultSource string) ([]investor.Candidate, int) {
	out := make([]investor.Candidate, 0, len(candidates))
	missing := 0
	for _, c := range candidates {
		c.Name = strings.TrimSpace(c.Name)
		c.Bio = strings.TrimSpace(c.Bio)
		c.ExtendedBio = strings.TrimSpace(c.ExtendedBio)
		c.Location = strings.TrimSpace(c.Location)
		c.ImageURL = strings.TrimSpace(c.ImageURL)
		c.Interests = investor.MergeInterests(nil, c.Interests)
		c.Source = strings.TrimSpace(c.Source)
		if c.Source == "" {
			c.Source = defaultSource
		}
		if c.Profile != nil && c.Profile.IsEmpty() {
			c.Profile = nil
		}
		if c.Name == "" {
			missing++
		}
		out = append(out, c)
	}
	return out, missing
}
