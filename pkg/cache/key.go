package cache

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Key derives a stable cache key from a (subject, qualifier, kind) triple.
// Logically equal inputs produce identical keys regardless of case,
// surrounding whitespace, or comma placement, so "Bakery", " Pune " and
// "bakery", "pune," address the same entry. The derivation is pure: no
// time, no randomness.
func Key(subject, qualifier, kind string) string {
	joined := normalizeSegment(subject) + "_" + normalizeSegment(qualifier) + "_" + normalizeSegment(kind)
	sum := md5.Sum([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// normalizeSegment lowercases, trims, strips commas, and collapses runs of
// internal whitespace into single underscores. Empty input normalizes to an
// empty segment.
func normalizeSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ",", "")
	return strings.Join(strings.Fields(s), "_")
}
