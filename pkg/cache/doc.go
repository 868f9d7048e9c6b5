// Package cache stores search responses in Redis so that re-running a unit
// does not spend quota on queries answered moments ago.
//
// Entries carry a freshness deadline (Expires) and are kept in Redis for an
// additional revalidation window. A fresh entry is served without touching
// the network. A stale entry that carries an ETag or Last-Modified value is
// revalidated with a conditional request; a 304 answer extends the entry and
// its body is served again.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, cache.DefaultStaleFor)
//
//	key := cache.CacheKey{
//		Endpoint:    "/search/code",
//		QueryParams: url.Values{"q": []string{q}, "page": []string{"1"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API
//	}
//
// Credential parameters never become part of a key; see CacheKey.String.
//
// # Metrics
//
//   - reposcrape_cache_hits_total{layer="redis"}
//   - reposcrape_cache_misses_total
//   - reposcrape_cache_stale_total
//   - reposcrape_cache_size_bytes{layer="redis"}
//   - reposcrape_304_responses_total
//   - reposcrape_cache_errors_total{operation}
package cache
