// Package fingerprint derives the stable dedup key for a lead.
//
// The fingerprint is a pure function of the normalized (title, url) pair:
// no randomness, no clock, no external state. It is the sole dedup key for
// the whole pipeline and must survive process restarts unchanged.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Compute returns the dedup key for a lead, or "" when both title and url
// normalize to blank. Two leads with the same normalized pair always share
// a fingerprint.
func Compute(title, url string) string {
	t := normalizeTitle(title)
	u := normalizeURL(url)
	if t == "" && u == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(t + "\x1f" + u))
	return hex.EncodeToString(sum[:])
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// normalizeURL strips scheme, www prefix, query string, fragment and
// trailing slashes, then lowercases the remainder.
func normalizeURL(raw string) string {
	u := strings.TrimSpace(strings.ToLower(raw))
	if u == "" {
		return ""
	}
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimPrefix(u, "www.")
	u = strings.TrimRight(u, "/")
	return u
}
