package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/reposcrape/internal/config"
	"github.com/Sternrassler/reposcrape/pkg/client"
	"github.com/Sternrassler/reposcrape/pkg/output"
	"github.com/Sternrassler/reposcrape/pkg/pagination"
	"github.com/Sternrassler/reposcrape/pkg/query"
	"github.com/Sternrassler/reposcrape/pkg/scheduler"
	"github.com/Sternrassler/reposcrape/pkg/units"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for the retrieval pipeline.
var (
	unitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reposcrape_units_total",
		Help: "Finished retrieval units by outcome",
	}, []string{"outcome"})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reposcrape_batches_total",
		Help: "Query batches fetched successfully",
	})

	recordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reposcrape_records_written_total",
		Help: "Records written to committed result sets",
	})

	recordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reposcrape_records_dropped_total",
		Help: "Duplicate records dropped within a unit",
	})
)

// DefaultProgressEvery is how many finished units pass between progress logs.
const DefaultProgressEvery = 100

type outcome string

const (
	outcomeCommitted outcome = "committed"
	outcomeSkipped   outcome = "skipped"
	outcomeFailed    outcome = "failed"
	outcomeCancelled outcome = "cancelled"
)

// Fetcher fetches every wanted page of one batch payload.
// *pagination.BatchFetcher[client.Record] implements it.
type Fetcher interface {
	FetchAllPages(ctx context.Context, query string) (pagination.Result[client.Record], error)
}

// Governor repeats fn until it succeeds or gives up. *client.Governor
// implements it.
type Governor interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config holds the retrieval settings. Struct tags name the command line flag
// each field comes from.
type Config struct {
	InputDir      string `flag:"input" validate:"required"`
	OutputDir     string `flag:"output" validate:"required"`
	Workers       int    `flag:"threads" validate:"min=1"`
	QueueCapacity int    `flag:"queue" validate:"min=1"`
	Budget        int    `flag:"budget" validate:"min=1"`
	Overhead      int    `flag:"overhead" validate:"min=0,ltfield=Budget"`
	ProgressEvery int    `flag:"progress" validate:"min=0"`
}

// DefaultConfig returns the baseline sizing for the given directories.
func DefaultConfig(inputDir, outputDir string) Config {
	return Config{
		InputDir:      inputDir,
		OutputDir:     outputDir,
		Workers:       4,
		QueueCapacity: 50,
		Budget:        query.DefaultBudget,
		Overhead:      query.DefaultOverhead,
		ProgressEvery: DefaultProgressEvery,
	}
}

// Summary reports one run.
type Summary struct {
	RunID      string
	Units      int
	Committed  int64
	Skipped    int64
	Failed     int64
	Cancelled  int64
	Records    int64
	Duplicates int64
	Duration   time.Duration
}

// Runner executes the retrieval pipeline. A Runner is good for one Run.
type Runner struct {
	cfg      Config
	fetcher  Fetcher
	governor Governor
	runID    string
	logger   zerolog.Logger

	finished   atomic.Int64
	committed  atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
	cancelled  atomic.Int64
	records    atomic.Int64
	duplicates atomic.Int64
}

// New validates cfg and creates a Runner.
func New(cfg Config, fetcher Fetcher, governor Governor) (*Runner, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if governor == nil {
		return nil, errors.New("governor is required")
	}

	runID := uuid.NewString()
	return &Runner{
		cfg:      cfg,
		fetcher:  fetcher,
		governor: governor,
		runID:    runID,
		logger: log.With().
			Str("component", "retrieval").
			Str("run_id", runID).
			Logger(),
	}, nil
}

// RunID returns the identifier attached to every log line of this run.
func (r *Runner) RunID() string { return r.runID }

// Run processes every unit in the input directory and blocks until all of
// them have finished. Unit failures are counted in the Summary, not returned.
// The returned error is non-nil only when the run could not start or ctx
// ended before every unit was admitted.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	list, err := units.Enumerate(r.cfg.InputDir, units.RepositoriesPattern)
	if err != nil {
		return Summary{RunID: r.runID}, err
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return Summary{RunID: r.runID}, fmt.Errorf("create output dir: %w", err)
	}

	pool, err := scheduler.New(scheduler.Config{
		Workers:       r.cfg.Workers,
		QueueCapacity: r.cfg.QueueCapacity,
		Name:          "retrieval",
		Logger:        &r.logger,
	})
	if err != nil {
		return Summary{RunID: r.runID}, err
	}

	r.logger.Info().
		Int("units", len(list)).
		Int("workers", r.cfg.Workers).
		Str("input", r.cfg.InputDir).
		Str("output", r.cfg.OutputDir).
		Msg("Starting retrieval")

	pool.Start(ctx)

	var submitErr error
	for _, u := range list {
		if err := pool.Submit(ctx, r.task(u)); err != nil {
			submitErr = err
			break
		}
	}

	pool.Close()
	pool.Wait()

	sum := r.summary(len(list), time.Since(start))
	r.logger.Info().
		Int("units", sum.Units).
		Int64("committed", sum.Committed).
		Int64("skipped", sum.Skipped).
		Int64("failed", sum.Failed).
		Int64("cancelled", sum.Cancelled).
		Int64("records", sum.Records).
		Int64("duplicates", sum.Duplicates).
		Dur("duration", sum.Duration).
		Msg("Retrieval finished")

	if submitErr != nil {
		return sum, fmt.Errorf("submit units: %w", submitErr)
	}
	return sum, nil
}

func (r *Runner) task(u units.Unit) scheduler.Task {
	return func(ctx context.Context) error {
		o, err := r.process(ctx, u)
		r.finish(o)
		if err != nil {
			return fmt.Errorf("unit %s: %w", u.Name, err)
		}
		return nil
	}
}

// process runs one unit to an outcome.
func (r *Runner) process(ctx context.Context, u units.Unit) (outcome, error) {
	logger := r.logger.With().Str("unit", u.Name).Logger()
	finalPath := output.Path(r.cfg.OutputDir, u.Name)

	done, err := output.Done(finalPath)
	if err != nil {
		return outcomeFailed, err
	}
	if done {
		logger.Debug().Str("path", finalPath).Msg("Output exists, skipping unit")
		return outcomeSkipped, nil
	}

	w, err := output.Stage(r.cfg.OutputDir)
	if err != nil {
		return outcomeFailed, err
	}
	defer func() {
		if err := w.Abort(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove staging file")
		}
	}()

	logger.Info().Msg("Processing unit")

	batcher := query.New(query.Config{Budget: r.cfg.Budget, Overhead: r.cfg.Overhead})
	forks := 0
	batches := 0
	send := func(b query.Batch) error {
		batches++
		return r.fetchBatch(ctx, logger, w, b)
	}

	err = units.ReadRepositories(u.Path, func(repo units.Repository) error {
		if repo.Fork {
			forks++
			return nil
		}
		if b, ok := batcher.Add(query.RepoFragment(repo.FullName)); ok {
			return send(b)
		}
		return nil
	})
	if err == nil {
		if b, ok := batcher.Flush(); ok {
			err = send(b)
		}
	}
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, client.ErrContextCancelled) {
			return outcomeCancelled, err
		}
		return outcomeFailed, err
	}

	if err := w.Commit(finalPath); err != nil {
		return outcomeFailed, err
	}

	r.records.Add(int64(w.Written()))
	r.duplicates.Add(int64(w.Dropped()))

	logger.Info().
		Int("batches", batches).
		Int("records", w.Written()).
		Int("duplicates", w.Dropped()).
		Int("forks", forks).
		Str("path", finalPath).
		Msg("Unit committed")

	return outcomeCommitted, nil
}

// fetchBatch fetches one batch under the governor and stages its records.
func (r *Runner) fetchBatch(ctx context.Context, logger zerolog.Logger, w *output.Writer, b query.Batch) error {
	var res pagination.Result[client.Record]
	err := r.governor.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.fetcher.FetchAllPages(ctx, b.Payload)
		return err
	})
	if err != nil {
		return fmt.Errorf("batch %d: %w", b.Index, err)
	}
	batchesTotal.Inc()

	written, dropped, err := w.Append(res.Items)
	if err != nil {
		return fmt.Errorf("batch %d: %w", b.Index, err)
	}
	recordsWritten.Add(float64(written))
	recordsDropped.Add(float64(dropped))

	logger.Debug().
		Int("batch", b.Index).
		Int("fragments", len(b.Fragments)).
		Int("pages", res.Pages).
		Int("written", written).
		Int("dropped", dropped).
		Bool("incomplete", res.Incomplete).
		Msg("Batch fetched")

	return nil
}

func (r *Runner) finish(o outcome) {
	switch o {
	case outcomeCommitted:
		r.committed.Add(1)
	case outcomeSkipped:
		r.skipped.Add(1)
	case outcomeCancelled:
		r.cancelled.Add(1)
	default:
		r.failed.Add(1)
	}
	unitsTotal.WithLabelValues(string(o)).Inc()

	n := r.finished.Add(1)
	if every := int64(r.cfg.ProgressEvery); every > 0 && n%every == 0 {
		r.logger.Info().
			Int64("finished", n).
			Int64("committed", r.committed.Load()).
			Int64("skipped", r.skipped.Load()).
			Int64("failed", r.failed.Load()).
			Msg("Progress")
	}
}

func (r *Runner) summary(total int, d time.Duration) Summary {
	return Summary{
		RunID:      r.runID,
		Units:      total,
		Committed:  r.committed.Load(),
		Skipped:    r.skipped.Load(),
		Failed:     r.failed.Load(),
		Cancelled:  r.cancelled.Load(),
		Records:    r.records.Load(),
		Duplicates: r.duplicates.Load(),
		Duration:   d,
	}
}
