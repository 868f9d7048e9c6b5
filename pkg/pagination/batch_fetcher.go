package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxResults is the number of hits the search endpoint serves per query.
const MaxResults = 1000

// Config holds batch fetcher configuration
type Config struct {
	// MaxPages caps the pages fetched per query. 1 fetches only the first page.
	MaxPages int

	// PerPage is the page size requested from the API.
	PerPage int

	// MaxConcurrency is the maximum number of parallel page requests.
	MaxConcurrency int

	// Timeout per page fetch. Zero leaves the caller's deadline in charge.
	Timeout time.Duration
}

// DefaultConfig returns a configuration that fetches only the first page.
func DefaultConfig() Config {
	return Config{
		MaxPages:       1,
		PerPage:        100,
		MaxConcurrency: 2,
	}
}

// Page is one page of results.
type Page[T any] struct {
	Number     int
	Items      []T
	TotalCount int
	Incomplete bool
}

// PageFetcher fetches a single page of a query.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, query string, page int) (Page[T], error)
}

// Result is the merged outcome of all fetched pages.
type Result[T any] struct {
	// Items holds every page's items in page order.
	Items []T

	// Pages is the number of pages fetched.
	Pages int

	// TotalCount is the total_count reported by the first page.
	TotalCount int

	// Incomplete is true if any page was flagged incomplete by the API.
	Incomplete bool
}

type pageResult[T any] struct {
	page Page[T]
	err  error
}

// BatchFetcher handles parallel fetching of multiple pages
type BatchFetcher[T any] struct {
	fetcher PageFetcher[T]
	config  Config
	logger  zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher[T any](fetcher PageFetcher[T], config Config) *BatchFetcher[T] {
	if config.MaxPages <= 0 {
		config.MaxPages = 1
	}
	if config.PerPage <= 0 {
		config.PerPage = 100
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 2
	}

	return &BatchFetcher[T]{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "pagination").Logger(),
	}
}

// TotalPages returns how many pages to fetch for totalCount hits.
func (bf *BatchFetcher[T]) TotalPages(totalCount int) int {
	if totalCount > MaxResults {
		totalCount = MaxResults
	}
	pages := (totalCount + bf.config.PerPage - 1) / bf.config.PerPage
	if pages < 1 {
		pages = 1
	}
	if pages > bf.config.MaxPages {
		pages = bf.config.MaxPages
	}
	return pages
}

// FetchAllPages fetches page 1 of query and then every further page up to
// the configured cap. Any page error cancels the remaining fetches and is
// returned; no partial result is produced.
func (bf *BatchFetcher[T]) FetchAllPages(ctx context.Context, query string) (Result[T], error) {
	start := time.Now()

	first, err := bf.fetch(ctx, query, 1)
	if err != nil {
		return Result[T]{}, fmt.Errorf("fetch page 1: %w", err)
	}

	totalPages := bf.TotalPages(first.TotalCount)
	if totalPages == 1 {
		return Result[T]{
			Items:      first.Items,
			Pages:      1,
			TotalCount: first.TotalCount,
			Incomplete: first.Incomplete,
		}, nil
	}

	bf.logger.Debug().
		Int("total_count", first.TotalCount).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pageQueue := make(chan int, totalPages-1)
	for page := 2; page <= totalPages; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	results := make(chan pageResult[T], totalPages-1)

	workers := bf.config.MaxConcurrency
	if workers > totalPages-1 {
		workers = totalPages - 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, query, pageQueue, results, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	pages := make([]Page[T], totalPages+1)
	pages[1] = first
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
				cancel()
			}
			continue
		}
		pages[r.page.Number] = r.page
	}
	if firstErr != nil {
		return Result[T]{}, firstErr
	}
	if err := ctx.Err(); err != nil {
		return Result[T]{}, err
	}

	out := Result[T]{Pages: totalPages, TotalCount: first.TotalCount}
	for _, p := range pages[1:] {
		out.Items = append(out.Items, p.Items...)
		out.Incomplete = out.Incomplete || p.Incomplete
	}

	bf.logger.Debug().
		Int("pages", totalPages).
		Int("items", len(out.Items)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return out, nil
}

func (bf *BatchFetcher[T]) fetch(ctx context.Context, query string, page int) (Page[T], error) {
	if bf.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bf.config.Timeout)
		defer cancel()
	}
	p, err := bf.fetcher.FetchPage(ctx, query, page)
	if err != nil {
		return Page[T]{}, err
	}
	p.Number = page
	return p, nil
}

// worker processes pages from the queue until it is drained, a fetch fails,
// or ctx is cancelled.
func (bf *BatchFetcher[T]) worker(ctx context.Context, query string, pageQueue <-chan int, results chan<- pageResult[T], wg *sync.WaitGroup) {
	defer wg.Done()

	for pageNum := range pageQueue {
		if ctx.Err() != nil {
			return
		}

		p, err := bf.fetch(ctx, query, pageNum)
		if err != nil {
			results <- pageResult[T]{err: fmt.Errorf("fetch page %d: %w", pageNum, err)}
			return
		}
		results <- pageResult[T]{page: p}
	}
}
