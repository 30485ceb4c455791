package client

import "time"

// DefaultCacheDuration is how long a loaded collection is trusted before
// EnsureLoaded refetches it.
const DefaultCacheDuration = 5 * time.Minute

// ShouldRefresh is the lazy-load policy: refetch when forced, when the
// collection has never been loaded (or loaded empty), or when the last fetch
// is older than cacheDuration. Pure so it can be tested without a transport.
func ShouldRefresh(size int, lastFetch time.Time, now time.Time, force bool, cacheDuration time.Duration) bool {
	if force {
		return true
	}
	if size == 0 || lastFetch.IsZero() {
		return true
	}
	return now.Sub(lastFetch) >= cacheDuration
}
