package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeFetcher struct {
	mu         sync.Mutex
	total      int
	perPage    int
	failPage   int
	incomplete map[int]bool
	calls      []int
	inFlight   atomic.Int32
	maxSeen    atomic.Int32
}

func (f *fakeFetcher) FetchPage(ctx context.Context, query string, page int) (Page[string], error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()

	if page == f.failPage {
		return Page[string]{}, errors.New("boom")
	}

	var items []string
	for i := (page - 1) * f.perPage; i < page*f.perPage && i < f.total; i++ {
		items = append(items, fmt.Sprintf("%s-%d", query, i))
	}
	return Page[string]{Items: items, TotalCount: f.total, Incomplete: f.incomplete[page]}, nil
}

func TestTotalPages(t *testing.T) {
	bf := NewBatchFetcher[string](&fakeFetcher{}, Config{MaxPages: 50, PerPage: 100})

	tests := []struct {
		total int
		want  int
	}{
		{0, 1},
		{1, 1},
		{100, 1},
		{101, 2},
		{999, 10},
		{250000, 10},
	}
	for _, tt := range tests {
		if got := bf.TotalPages(tt.total); got != tt.want {
			t.Errorf("TotalPages(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}

	capped := NewBatchFetcher[string](&fakeFetcher{}, Config{MaxPages: 3, PerPage: 100})
	if got := capped.TotalPages(999); got != 3 {
		t.Errorf("capped TotalPages = %d, want 3", got)
	}
}

func TestFetchAllPages_DefaultFirstPageOnly(t *testing.T) {
	f := &fakeFetcher{total: 450, perPage: 100}
	bf := NewBatchFetcher[string](f, DefaultConfig())

	res, err := bf.FetchAllPages(context.Background(), "q")
	if err != nil {
		t.Fatalf("FetchAllPages() error = %v", err)
	}
	if res.Pages != 1 || len(res.Items) != 100 || res.TotalCount != 450 {
		t.Errorf("res = pages %d items %d total %d", res.Pages, len(res.Items), res.TotalCount)
	}
	if len(f.calls) != 1 {
		t.Errorf("calls = %v, want only page 1", f.calls)
	}
}

func TestFetchAllPages_InPageOrder(t *testing.T) {
	f := &fakeFetcher{total: 450, perPage: 100, incomplete: map[int]bool{4: true}}
	bf := NewBatchFetcher[string](f, Config{MaxPages: 10, PerPage: 100, MaxConcurrency: 3})

	res, err := bf.FetchAllPages(context.Background(), "q")
	if err != nil {
		t.Fatalf("FetchAllPages() error = %v", err)
	}
	if res.Pages != 5 {
		t.Errorf("Pages = %d, want 5", res.Pages)
	}
	if len(res.Items) != 450 {
		t.Fatalf("items = %d, want 450", len(res.Items))
	}
	for i, it := range res.Items {
		if want := fmt.Sprintf("q-%d", i); it != want {
			t.Fatalf("item %d = %q, want %q", i, it, want)
		}
	}
	if !res.Incomplete {
		t.Error("Incomplete should propagate from any page")
	}
	if got := f.maxSeen.Load(); got > 3 {
		t.Errorf("max concurrent fetches = %d, want <= 3", got)
	}
}

func TestFetchAllPages_PageErrorFailsBatch(t *testing.T) {
	f := &fakeFetcher{total: 500, perPage: 100, failPage: 3}
	bf := NewBatchFetcher[string](f, Config{MaxPages: 10, PerPage: 100, MaxConcurrency: 2})

	res, err := bf.FetchAllPages(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(res.Items) != 0 {
		t.Errorf("partial items returned: %d", len(res.Items))
	}
}

func TestFetchAllPages_FirstPageError(t *testing.T) {
	f := &fakeFetcher{total: 10, perPage: 100, failPage: 1}
	bf := NewBatchFetcher[string](f, DefaultConfig())

	if _, err := bf.FetchAllPages(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFetchAllPages_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeFetcher{total: 300, perPage: 100}
	bf := NewBatchFetcher[string](f, Config{MaxPages: 3, PerPage: 100})

	// Page 1 succeeds because the fake ignores ctx; the remaining pages see
	// the cancellation.
	if _, err := bf.FetchAllPages(ctx, "q"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
