package cache

import (
	"time"
)

// CacheEntry represents a cached search response.
type CacheEntry struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match).
	ETag string `json:"etag,omitempty"`

	// Expires is when the entry stops being served without revalidation.
	Expires time.Time `json:"expires"`

	// LastModified from the Last-Modified header, if any.
	LastModified time.Time `json:"last_modified,omitempty"`

	// StatusCode of the cached response.
	StatusCode int `json:"status_code"`

	// CachedAt is when the entry was written.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Revalidatable reports whether a stale entry can be checked with a
// conditional request instead of a full fetch.
func (e *CacheEntry) Revalidatable() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}
