// Package pagination follows paginated search results.
//
// The search endpoint reports total_count on every page and serves at most
// MaxResults hits per query. The fetcher reads page 1, derives how many pages
// remain from total_count and the page size, and fetches the rest in parallel
// with a small worker pool. Results are returned in page order.
//
// Example usage:
//
//	cfg := pagination.DefaultConfig()
//	cfg.MaxPages = 10
//	fetcher := pagination.NewBatchFetcher[client.Record](searchClient, cfg)
//	res, err := fetcher.FetchAllPages(ctx, payload)
//
// Unlike a best-effort crawler, a failed page fails the whole call: the
// caller retries the query as a unit rather than writing partial results.
package pagination
