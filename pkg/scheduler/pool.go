// Package scheduler runs tasks on a fixed number of workers behind a bounded
// admission queue. Submit blocks while the queue is full, so producers never
// outrun the workers by more than the queue capacity and nothing is dropped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for the scheduler.
var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reposcrape_scheduler_queue_depth",
		Help: "Tasks waiting in the admission queue",
	}, []string{"pool"})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reposcrape_scheduler_tasks_total",
		Help: "Finished tasks by outcome",
	}, []string{"pool", "outcome"})
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("scheduler closed")

// Task is one unit of work. The context is the one passed to Start.
type Task func(ctx context.Context) error

// Config holds pool sizing.
type Config struct {
	// Workers is the number of tasks that run at once.
	Workers int

	// QueueCapacity is how many admitted tasks may wait for a worker.
	QueueCapacity int

	// Name labels logs and metrics.
	Name string

	// Logger is the parent logger. Nil uses the global logger.
	Logger *zerolog.Logger
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Panicked  int64
}

// Finished returns the number of tasks that have run to an outcome.
func (s Stats) Finished() int64 {
	return s.Completed + s.Failed
}

// Pool is a fixed-size worker pool fed by a bounded channel.
type Pool struct {
	cfg    Config
	queue  chan Task
	logger zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool

	wg sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
}

// New creates a pool. Workers and QueueCapacity must be at least 1.
func New(cfg Config) (*Pool, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be >= 1 (got %d)", cfg.Workers)
	}
	if cfg.QueueCapacity < 1 {
		return nil, fmt.Errorf("queue capacity must be >= 1 (got %d)", cfg.QueueCapacity)
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	parent := log.Logger
	if cfg.Logger != nil {
		parent = *cfg.Logger
	}
	return &Pool{
		cfg:    cfg,
		queue:  make(chan Task, cfg.QueueCapacity),
		logger: parent.With().Str("component", "scheduler").Str("pool", cfg.Name).Logger(),
	}, nil
}

// Start launches the workers. Tasks receive ctx; cancelling it does not stop
// the workers, which keep draining the queue until Close.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Debug().
		Int("workers", p.cfg.Workers).
		Int("queue_capacity", p.cfg.QueueCapacity).
		Msg("Scheduler started")
}

// Submit admits task, blocking while the queue is full. It returns ErrClosed
// after Close and ctx.Err() if ctx ends while waiting for room.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}

	// The read lock keeps Close from closing the channel under a pending send.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		queueDepth.WithLabelValues(p.cfg.Name).Set(float64(len(p.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops admission. Queued tasks still run. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// Wait blocks until every admitted task has finished. Call Close first or
// Wait never returns.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown closes the pool and waits for it to drain, or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for task := range p.queue {
		queueDepth.WithLabelValues(p.cfg.Name).Set(float64(len(p.queue)))
		p.run(ctx, id, task)
	}
}

// run executes one task, converting a panic into a failure.
func (p *Pool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.failed.Add(1)
			tasksTotal.WithLabelValues(p.cfg.Name, "panic").Inc()
			p.logger.Error().
				Int("worker_id", id).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Task panicked")
		}
	}()

	if err := task(ctx); err != nil {
		p.failed.Add(1)
		tasksTotal.WithLabelValues(p.cfg.Name, "failed").Inc()
		p.logger.Warn().Err(err).Int("worker_id", id).Msg("Task failed")
		return
	}

	p.completed.Add(1)
	tasksTotal.WithLabelValues(p.cfg.Name, "completed").Inc()
}
