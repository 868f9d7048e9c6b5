package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newStartedPool(t *testing.T, workers, capacity int) *Pool {
	t.Helper()
	p, err := New(Config{Workers: workers, QueueCapacity: capacity, Name: t.Name()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p.Start(context.Background())
	return p
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Workers: 1, QueueCapacity: 1}, false},
		{"zero workers", Config{Workers: 0, QueueCapacity: 1}, true},
		{"zero capacity", Config{Workers: 1, QueueCapacity: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPool_RunsEveryTask(t *testing.T) {
	p := newStartedPool(t, 4, 8)

	var ran atomic.Int64
	for i := 0; i < 200; i++ {
		if err := p.Submit(context.Background(), func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	p.Close()
	p.Wait()

	if ran.Load() != 200 {
		t.Errorf("ran = %d, want 200", ran.Load())
	}
	s := p.Stats()
	if s.Submitted != 200 || s.Completed != 200 || s.Failed != 0 || s.Finished() != 200 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestPool_ConcurrencyBound(t *testing.T) {
	const workers = 3
	p := newStartedPool(t, workers, 2)

	var inFlight, maxSeen atomic.Int64
	for i := 0; i < 30; i++ {
		_ = p.Submit(context.Background(), func(ctx context.Context) error {
			n := inFlight.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		})
	}
	p.Close()
	p.Wait()

	if got := maxSeen.Load(); got > workers {
		t.Errorf("max concurrent tasks = %d, want <= %d", got, workers)
	}
}

func TestPool_SubmitBlocksWhenFull(t *testing.T) {
	p := newStartedPool(t, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}
	noop := func(ctx context.Context) error { return nil }

	if err := p.Submit(context.Background(), blocker); err != nil {
		t.Fatal(err)
	}
	<-started
	// Worker busy, queue takes one more.
	if err := p.Submit(context.Background(), noop); err != nil {
		t.Fatal(err)
	}

	admitted := make(chan error, 1)
	go func() { admitted <- p.Submit(context.Background(), noop) }()

	select {
	case err := <-admitted:
		t.Fatalf("Submit returned %v while queue was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-admitted:
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not unblock after the queue drained")
	}

	p.Close()
	p.Wait()
	if s := p.Stats(); s.Completed != 3 {
		t.Errorf("Completed = %d, want 3", s.Completed)
	}
}

func TestPool_SubmitHonoursContext(t *testing.T) {
	p := newStartedPool(t, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	_ = p.Submit(context.Background(), func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() error = %v, want DeadlineExceeded", err)
	}

	close(release)
	p.Close()
	p.Wait()
	if s := p.Stats(); s.Submitted != 2 {
		t.Errorf("Submitted = %d, want 2", s.Submitted)
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := newStartedPool(t, 1, 1)
	p.Close()
	p.Close()

	if err := p.Submit(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() error = %v, want ErrClosed", err)
	}
	p.Wait()
}

func TestPool_FailuresAndPanicsAreIsolated(t *testing.T) {
	p := newStartedPool(t, 2, 4)

	var mu sync.Mutex
	var ok []int
	for i := 0; i < 9; i++ {
		i := i
		_ = p.Submit(context.Background(), func(ctx context.Context) error {
			switch i % 3 {
			case 0:
				panic("boom")
			case 1:
				return errors.New("local io")
			}
			mu.Lock()
			ok = append(ok, i)
			mu.Unlock()
			return nil
		})
	}
	p.Close()
	p.Wait()

	s := p.Stats()
	if s.Panicked != 3 || s.Failed != 6 || s.Completed != 3 {
		t.Errorf("Stats() = %+v", s)
	}
	if len(ok) != 3 {
		t.Errorf("successful tasks = %v", ok)
	}
}

func TestPool_Shutdown(t *testing.T) {
	p := newStartedPool(t, 1, 1)

	release := make(chan struct{})
	_ = p.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want DeadlineExceeded while task runs", err)
	}

	close(release)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestPool_TasksSeeStartContext(t *testing.T) {
	p, _ := New(Config{Workers: 1, QueueCapacity: 1})
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "run-1")
	p.Start(ctx)

	got := make(chan any, 1)
	_ = p.Submit(context.Background(), func(ctx context.Context) error {
		got <- ctx.Value(key{})
		return nil
	})
	p.Close()
	p.Wait()

	if v := <-got; v != "run-1" {
		t.Errorf("task ctx value = %v", v)
	}
}
