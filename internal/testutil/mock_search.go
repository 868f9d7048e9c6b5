// Package testutil provides a mock code search server for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Hit is one search hit served by the mock.
type Hit struct {
	ID       any
	FullName string
}

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSearch is a configurable mock search server. By default it answers
// every query with the registered hits whose repository is named by a
// repo: qualifier in q.
type MockSearch struct {
	server *httptest.Server

	mu         sync.Mutex
	handler    func(w http.ResponseWriter, r *http.Request)
	queue      []MockResponse
	repos      map[string]any
	extra      map[string][]Hit
	incomplete bool

	requestCount     int
	conditionalCount int
	queries          []string
	credentials      []string
	lastHeader       http.Header
}

// NewMockSearch starts a mock server.
func NewMockSearch() *MockSearch {
	m := &MockSearch{
		repos: make(map[string]any),
		extra: make(map[string][]Hit),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requestCount++
		m.lastHeader = r.Header.Clone()
		m.queries = append(m.queries, RawParam(r, "q"))
		m.credentials = append(m.credentials, RawParam(r, "access_token"))
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			m.conditionalCount++
		}
		handler := m.handler
		var queued *MockResponse
		if len(m.queue) > 0 {
			queued = &m.queue[0]
			m.queue = m.queue[1:]
		}
		m.mu.Unlock()

		switch {
		case queued != nil:
			writeResponse(w, *queued)
		case handler != nil:
			handler(w, r)
		default:
			m.defaultHandler(w, r)
		}
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockSearch) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSearch) Close() {
	m.server.Close()
}

// AddRepo registers a repository the default handler returns when a query
// names it with repo:fullName.
func (m *MockSearch) AddRepo(id any, fullName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[fullName] = id
}

// AddExtraHits makes the default handler append hits whenever a query
// names fullName, e.g. to return the same repository for several batches.
func (m *MockSearch) AddExtraHits(fullName string, hits ...Hit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extra[fullName] = append(m.extra[fullName], hits...)
}

// SetIncomplete makes the default handler flag responses incomplete.
func (m *MockSearch) SetIncomplete(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incomplete = v
}

// SetHandler replaces the default handler.
func (m *MockSearch) SetHandler(handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// Enqueue makes the next requests receive resps, in order, before falling
// back to the handler.
func (m *MockSearch) Enqueue(resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resps...)
}

// RequestCount returns the number of requests made to the server.
func (m *MockSearch) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// ConditionalCount returns the number of conditional requests.
func (m *MockSearch) ConditionalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditionalCount
}

// Queries returns the raw q parameter of every request so far.
func (m *MockSearch) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// Credentials returns the access_token parameter of every request so far.
func (m *MockSearch) Credentials() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.credentials...)
}

// LastHeader returns the headers of the most recent request.
func (m *MockSearch) LastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

func (m *MockSearch) defaultHandler(w http.ResponseWriter, r *http.Request) {
	q := RawParam(r, "q")

	m.mu.Lock()
	var hits []Hit
	for _, term := range strings.Split(q, "+") {
		name, ok := strings.CutPrefix(term, "repo:")
		if !ok {
			continue
		}
		if id, found := m.repos[name]; found {
			hits = append(hits, Hit{ID: id, FullName: name})
		}
		hits = append(hits, m.extra[name]...)
	}
	incomplete := m.incomplete
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-RateLimit-Limit", "30")
	w.Header().Set("X-RateLimit-Remaining", "29")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(SearchBody(incomplete, hits...)))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// RawParam returns a query parameter without form decoding, so '+' term
// separators survive.
func RawParam(r *http.Request, name string) string {
	for _, part := range strings.Split(r.URL.RawQuery, "&") {
		if v, ok := strings.CutPrefix(part, name+"="); ok {
			return v
		}
	}
	return ""
}

// SearchBody renders a search response body.
func SearchBody(incomplete bool, hits ...Hit) string {
	type repo struct {
		ID       any    `json:"id"`
		FullName string `json:"full_name"`
	}
	type item struct {
		Repository repo `json:"repository"`
	}
	body := struct {
		TotalCount        int    `json:"total_count"`
		IncompleteResults bool   `json:"incomplete_results"`
		Items             []item `json:"items"`
	}{
		TotalCount:        len(hits),
		IncompleteResults: incomplete,
		Items:             make([]item, 0, len(hits)),
	}
	for _, h := range hits {
		body.Items = append(body.Items, item{Repository: repo{ID: h.ID, FullName: h.FullName}})
	}
	b, _ := json.Marshal(body)
	return string(b)
}

// NewHealthyResponse creates a 200 OK response carrying hits.
func NewHealthyResponse(hits ...Hit) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       SearchBody(false, hits...),
		Headers: map[string]string{
			"Content-Type":          "application/json; charset=utf-8",
			"X-RateLimit-Remaining": "29",
			"X-RateLimit-Reset":     strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10),
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Server Error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 403 response with an exhausted quota.
func NewRateLimitResponse(resetAt time.Time) MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message": "API rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type":          "application/json; charset=utf-8",
			"X-RateLimit-Limit":     "30",
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     strconv.FormatInt(resetAt.Unix(), 10),
		},
	}
}

// NewMalformedResponse creates a 200 response whose body is not a search result.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"items": "nope"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
