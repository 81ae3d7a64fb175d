package cache

import (
	"strings"
	"time"
)

// GenerateKey composes a cache key from (type, owner, repo, user-key) per
// spec.md §3's Cache-Entry key composition, so callers never hand-build
// key strings inconsistently across call sites.
func GenerateKey(entryType, owner, repo, userKey string) string {
	return strings.Join([]string{entryType, owner, repo, userKey}, ":")
}

// DefaultTTLFor returns the per-entry-type default TTL named in spec.md
// §4.B. Unrecognized types fall back to fallback.
func DefaultTTLFor(entryType string, fallback time.Duration) time.Duration {
	if ttl, ok := defaultTTLs[entryType]; ok {
		return ttl
	}
	return fallback
}

var defaultTTLs = map[string]time.Duration{
	"branch-list":       60 * time.Second,
	"branch":            60 * time.Second,
	"branch-protection": 300 * time.Second,
	"issue-list":        30 * time.Second,
	"issue":             120 * time.Second,
	"repo-info":         600 * time.Second,
}
