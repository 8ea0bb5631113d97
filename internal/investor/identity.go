package investor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// idLength is the number of hex characters kept from the content hash.
const idLength = 16

// NormalizeName lower-cases and trims a display name. It is the only identity
// key used across sources; no accent folding or punctuation stripping is done.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// MakeID derives a deterministic id from name and source.
func MakeID(name, source string) string {
	sum := sha256.Sum256([]byte(name + source))
	return hex.EncodeToString(sum[:])[:idLength]
}

// Completeness scores how much data a record carries. It only breaks ties
// between records claiming the same identity.
func Completeness(r Record) int {
	return utf8.RuneCountInString(r.Bio) + utf8.RuneCountInString(r.ExtendedBio) + r.Profile.FieldCount()
}

func trimmed(s string) string { return strings.TrimSpace(s) }
