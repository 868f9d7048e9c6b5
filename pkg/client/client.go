// Package client provides the code search HTTP client with credential
// rotation, request pacing, optional response caching, and error
// classification. The retry governor in this package wraps whole queries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/reposcrape/pkg/cache"
	"github.com/Sternrassler/reposcrape/pkg/pagination"
	"github.com/Sternrassler/reposcrape/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for search client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reposcrape_requests_total",
		Help: "Total search requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reposcrape_request_duration_seconds",
		Help:    "Search request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reposcrape_errors_total",
		Help: "Total search errors by class",
	}, []string{"class"})

	incompleteResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reposcrape_incomplete_results_total",
		Help: "Total responses flagged incomplete_results by the API",
	})
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.github.com"

	// SearchPath is the code search endpoint below BaseURL.
	SearchPath = "/search/code"

	// DefaultFilter is the static query clause every request starts with.
	DefaultFilter = "ResultSet+language:Java+in:file+fork:false"

	// DefaultSort orders hits by index time.
	DefaultSort = "indexed"

	// DefaultCredentialParam carries the credential on the query string.
	DefaultCredentialParam = "access_token"

	// DefaultUserAgent identifies the client to the API.
	DefaultUserAgent = "reposcrape"

	// maxBodySize caps a response body read into memory.
	maxBodySize = 32 << 20
)

// Record is one repository hit from a search response.
type Record struct {
	ID       string
	FullName string
}

// Result is the parsed outcome of one search request.
type Result struct {
	// Records are the hits in response order, duplicates removed.
	Records []Record

	// TotalCount is the total_count reported by the API.
	TotalCount int

	// Incomplete mirrors incomplete_results.
	Incomplete bool

	// Duplicates is the number of hits dropped because their ID repeated.
	Duplicates int

	// Cached is true when the result was served from the response cache.
	Cached bool
}

// Client is the code search client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *cache.Manager
	tracker    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
	intn       func(n int) int
}

// Config holds the client configuration.
type Config struct {
	// Credentials is the pool of API tokens. One is chosen at random per request.
	Credentials []string

	// BaseURL is the API root (no trailing slash).
	BaseURL string

	// Filter is the static query clause, already in query-string form
	// ('+' separates terms). Batched fragments are appended to it.
	Filter string

	// Sort is the sort key sent with every request.
	Sort string

	// PerPage is the page size. Zero leaves the API default.
	PerPage int

	// CredentialParam names the query parameter carrying the credential.
	// Empty sends the credential only in the Authorization header.
	CredentialParam string

	// AuthHeader also sends the credential as an Authorization header.
	AuthHeader bool

	// UserAgent header.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration

	// RequestsPerSecond paces requests across all goroutines. Zero disables pacing.
	RequestsPerSecond float64

	// Cache, if set, serves repeated queries without spending quota.
	Cache *cache.Manager

	// CacheTTL is the freshness window for cached responses.
	CacheTTL time.Duration

	// RateLimiter, if set, skips credentials known to be exhausted.
	RateLimiter *ratelimit.Tracker
}

// DefaultConfig returns a configuration matching the public search API.
func DefaultConfig(credentials []string) Config {
	return Config{
		Credentials:     credentials,
		BaseURL:         DefaultBaseURL,
		Filter:          DefaultFilter,
		Sort:            DefaultSort,
		CredentialParam: DefaultCredentialParam,
		AuthHeader:      true,
		UserAgent:       DefaultUserAgent,
		Timeout:         60 * time.Second,
		CacheTTL:        cache.DefaultTTL,
	}
}

// New creates a new search client.
func New(cfg Config) (*Client, error) {
	if len(cfg.Credentials) == 0 {
		return nil, fmt.Errorf("at least one credential is required")
	}
	for i, c := range cfg.Credentials {
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("credential %d is empty", i)
		}
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PerPage < 0 || cfg.PerPage > 100 {
		return nil, fmt.Errorf("per_page must be between 0 and 100 (got %d)", cfg.PerPage)
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests_per_second must not be negative")
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cfg.Cache,
		tracker:    cfg.RateLimiter,
		config:     cfg,
		logger:     log.With().Str("component", "search-client").Logger(),
		intn:       rand.IntN,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return c, nil
}

// Search runs the static filter plus payload against the search endpoint and
// returns page of the result. page values below 2 request the first page.
func (c *Client) Search(ctx context.Context, payload string, page int) (*Result, error) {
	rawQuery, key := c.buildQuery(payload, page)

	var stale *cache.CacheEntry
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil && !entry.IsExpired():
			res, perr := parseSearch(entry.Data)
			if perr == nil {
				res.Cached = true
				return res, nil
			}
			c.logger.Warn().Err(perr).Msg("Discarding unreadable cache entry")
			_ = c.cache.Delete(ctx, key)
		case err == nil:
			stale = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Msg("Cache get error")
		}
	}

	credential, err := c.pickCredential(ctx)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := c.config.BaseURL + SearchPath
	target := endpoint + "?"
	if c.config.CredentialParam != "" {
		target += c.config.CredentialParam + "=" + url.QueryEscape(credential) + "&"
	}
	target += rawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.config.AuthHeader {
		req.Header.Set("Authorization", "token "+credential)
	}
	if stale != nil {
		cache.AddConditionalHeaders(req, stale)
	}

	c.logger.Debug().
		Str("url", endpoint+"?"+rawQuery).
		Str("credential", ratelimit.Fingerprint(credential)).
		Int("page", page).
		Bool("conditional", stale != nil).
		Msg("Executing search request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if isContextErr(ctx, err) {
			return nil, err
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if c.tracker != nil {
		if err := c.tracker.UpdateFromHeaders(ctx, credential, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	if resp.StatusCode == http.StatusNotModified && stale != nil {
		cache.NotModifiedResponses.Inc()
		if _, err := c.cache.Refresh(ctx, key, time.Now().Add(c.config.CacheTTL)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
		}
		res, err := parseSearch(stale.Data)
		if err != nil {
			return nil, c.malformed(err)
		}
		res.Cached = true
		return res, nil
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := classifyResponse(resp)
		errorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.Class)).
			Str("message", apiErr.Message).
			Msg("Search request error")
		return nil, apiErr
	}

	var (
		body  []byte
		entry *cache.CacheEntry
	)
	if c.cache != nil {
		entry, err = cache.ResponseToEntry(resp, c.config.CacheTTL)
		if err == nil {
			body = entry.Data
		}
	} else {
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	}
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Message: "read body", Err: err}
	}

	res, err := parseSearch(body)
	if err != nil {
		return nil, c.malformed(err)
	}

	if res.Incomplete {
		incompleteResultsTotal.Inc()
		c.logger.Warn().
			Int("page", page).
			Int("total_count", res.TotalCount).
			Int("records", len(res.Records)).
			Msg("Search results incomplete")
	}
	if res.Duplicates > 0 {
		c.logger.Debug().Int("duplicates", res.Duplicates).Msg("Dropped duplicate hits within response")
	}

	// Partial answers are not worth replaying from cache.
	if entry != nil && !res.Incomplete {
		if err := c.cache.Set(ctx, key, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return res, nil
}

// FetchPage adapts Search to pagination.PageFetcher.
func (c *Client) FetchPage(ctx context.Context, payload string, page int) (pagination.Page[Record], error) {
	res, err := c.Search(ctx, payload, page)
	if err != nil {
		return pagination.Page[Record]{}, err
	}
	return pagination.Page[Record]{
		Number:     page,
		Items:      res.Records,
		TotalCount: res.TotalCount,
		Incomplete: res.Incomplete,
	}, nil
}

// buildQuery returns the credential-free query string and its cache key.
// Filter and payload are already query-string encoded and are sent verbatim.
func (c *Client) buildQuery(payload string, page int) (string, cache.CacheKey) {
	q := c.config.Filter + payload
	params := url.Values{"q": []string{q}}

	var b strings.Builder
	if c.config.Sort != "" {
		b.WriteString("sort=" + url.QueryEscape(c.config.Sort) + "&")
		params.Set("sort", c.config.Sort)
	}
	b.WriteString("q=" + q)
	if c.config.PerPage > 0 {
		pp := strconv.Itoa(c.config.PerPage)
		b.WriteString("&per_page=" + pp)
		params.Set("per_page", pp)
	}
	if page > 1 {
		p := strconv.Itoa(page)
		b.WriteString("&page=" + p)
		params.Set("page", p)
	}

	return b.String(), cache.CacheKey{Endpoint: SearchPath, QueryParams: params}
}

// pickCredential chooses a credential uniformly at random. With a rate limit
// tracker it walks the pool from the random start and skips credentials
// known to be exhausted.
func (c *Client) pickCredential(ctx context.Context) (string, error) {
	creds := c.config.Credentials
	start := c.intn(len(creds))
	if c.tracker == nil {
		return creds[start], nil
	}

	var shortest time.Duration
	for i := range creds {
		cred := creds[(start+i)%len(creds)]
		allowed, wait, err := c.tracker.ShouldAllowRequest(ctx, cred)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Rate limit check failed, using credential anyway")
			return cred, nil
		}
		if allowed {
			return cred, nil
		}
		if shortest == 0 || wait < shortest {
			shortest = wait
		}
	}

	errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
	return "", &APIError{
		Class:   ErrorClassRateLimit,
		Message: fmt.Sprintf("all %d credentials exhausted, next reset in %s", len(creds), shortest.Round(time.Second)),
		Err:     ErrRateLimited,
	}
}

func (c *Client) malformed(err error) error {
	errorsTotal.WithLabelValues(string(ErrorClassMalformed)).Inc()
	return &APIError{
		StatusCode: http.StatusOK,
		Class:      ErrorClassMalformed,
		Message:    err.Error(),
		Err:        ErrMalformedResponse,
	}
}

// classifyResponse turns a non-200 response into an *APIError.
func classifyResponse(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := resp.Status
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		msg = payload.Message
	}

	e := &APIError{StatusCode: resp.StatusCode, Message: msg}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Class = ErrorClassRateLimit
	case resp.StatusCode == http.StatusForbidden &&
		(resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != ""):
		e.Class = ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		e.Class = ErrorClassClient
	default:
		e.Class = ErrorClassServer
	}
	if e.Class == ErrorClassRateLimit {
		e.Err = ErrRateLimited
	}
	return e
}

type searchResponse struct {
	TotalCount        *int          `json:"total_count"`
	IncompleteResults *bool         `json:"incomplete_results"`
	Items             *[]searchItem `json:"items"`
}

type searchItem struct {
	Repository *struct {
		ID       json.RawMessage `json:"id"`
		FullName *string         `json:"full_name"`
	} `json:"repository"`
}

// parseSearch validates and decodes a search response body. Every item must
// carry repository.id (string or number) and repository.full_name.
func parseSearch(body []byte) (*Result, error) {
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if sr.IncompleteResults == nil {
		return nil, errors.New("missing incomplete_results")
	}
	if sr.Items == nil {
		return nil, errors.New("missing items")
	}

	items := *sr.Items
	res := &Result{
		Incomplete: *sr.IncompleteResults,
		Records:    make([]Record, 0, len(items)),
	}
	if sr.TotalCount != nil {
		res.TotalCount = *sr.TotalCount
	} else {
		res.TotalCount = len(items)
	}

	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		if it.Repository == nil {
			return nil, fmt.Errorf("item %d: missing repository", i)
		}
		id, err := parseID(it.Repository.ID)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if it.Repository.FullName == nil {
			return nil, fmt.Errorf("item %d: missing repository.full_name", i)
		}
		if _, dup := seen[id]; dup {
			res.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		res.Records = append(res.Records, Record{ID: id, FullName: *it.Repository.FullName})
	}

	return res, nil
}

// parseID renders a JSON string or number as its textual form.
func parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("missing repository.id")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("repository.id: %w", err)
		}
		if s == "" {
			return "", errors.New("empty repository.id")
		}
		return s, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("repository.id: %w", err)
	}
	n, ok := v.(json.Number)
	if !ok {
		return "", fmt.Errorf("repository.id has unsupported type %T", v)
	}
	return n.String(), nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Config returns the effective client configuration.
func (c *Client) Config() Config {
	return c.config
}
