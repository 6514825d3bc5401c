// Package dispatcher coordinates bounded-concurrency image acquisition: a
// fixed pool of workers pulls records from a shared queue and a single owner
// folds their outcomes into the AcquisitionReport.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/animal-gallery/internal/crawler"
	"github.com/JakeFAU/animal-gallery/internal/progress"
	"github.com/JakeFAU/animal-gallery/internal/queue/memory"
	"github.com/JakeFAU/animal-gallery/internal/worker"
)

// DefaultConcurrency is the worker count used when none is configured.
const DefaultConcurrency = 8

// Config tunes the Coordinator.
type Config struct {
	// Concurrency is the maximum number of fetch-chains in flight.
	Concurrency int
	// ChainTimeout bounds each record's fetch-chain. Zero disables it.
	ChainTimeout time.Duration
	// BaseURL resolves host-relative detail references.
	BaseURL string
	// QueueSize is the pending-record buffer. Defaults to Concurrency.
	QueueSize int
}

// Coordinator acquires images for a batch of records.
type Coordinator struct {
	fetcher crawler.Fetcher
	store   crawler.BlobStore
	retry   crawler.RetryPolicy
	emitter progress.Emitter
	cfg     Config
	logger  *zap.Logger
}

// New creates a Coordinator. A nil retry policy disables retries and a nil
// emitter discards progress events.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	store crawler.BlobStore,
	retry crawler.RetryPolicy,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Coordinator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		fetcher: fetcher,
		store:   store,
		retry:   retry,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Acquire runs one fetch-chain per record and returns once every record has
// an outcome. Canceling ctx stops records that have not started; chains in
// flight finish or hit their own timeout, and records left without an
// outcome are reported as timed out with crawler.ErrAborted. A deadline on
// ctx bounds the whole batch.
func (c *Coordinator) Acquire(ctx context.Context, records []crawler.Record) crawler.AcquisitionReport {
	start := time.Now()
	records, dups := crawler.DedupeRecords(records)
	for _, dup := range dups {
		c.logger.Warn("duplicate record skipped",
			zap.String("record", dup.Name),
			zap.String("classification", dup.Classification),
		)
	}

	runID := c.newRunID()
	logger := c.logger.With(zap.Stringer("run_id", uuid.UUID(runID)))
	c.emitter.Emit(progress.Event{
		RunID:   runID,
		TS:      start.UTC(),
		Stage:   progress.StageBatchStart,
		Records: len(records),
	})
	logger.Info("acquisition started",
		zap.Int("records", len(records)),
		zap.Int("concurrency", c.cfg.Concurrency),
		zap.Duration("chain_timeout", c.cfg.ChainTimeout),
	)

	report := crawler.NewAcquisitionReport(len(records))
	if len(records) > 0 {
		c.run(ctx, runID, records, &report, logger)
	}
	c.markAborted(records, &report, logger)

	dur := time.Since(start)
	c.emitter.Emit(progress.Event{
		RunID: runID,
		TS:    time.Now().UTC(),
		Stage: progress.StageBatchDone,
		Dur:   dur,
	})
	logger.Info("acquisition finished",
		zap.Int("success", report.Counts.Success),
		zap.Int("not_found", report.Counts.NotFound),
		zap.Int("fetch_error", report.Counts.FetchError),
		zap.Int("timed_out", report.Counts.TimedOut),
		zap.Duration("dur", dur),
	)
	return report
}

func (c *Coordinator) run(
	ctx context.Context,
	runID [16]byte,
	records []crawler.Record,
	report *crawler.AcquisitionReport,
	logger *zap.Logger,
) {
	workers := min(c.cfg.Concurrency, len(records))
	queueSize := c.cfg.QueueSize
	if queueSize < 1 {
		queueSize = workers
	}
	queue := memory.NewQueue(queueSize)
	results := make(chan crawler.Outcome, workers)

	var g errgroup.Group
	g.Go(func() error {
		defer queue.Close()
		for _, rec := range records {
			if err := queue.Enqueue(ctx, rec); err != nil {
				return fmt.Errorf("submit %q: %w", rec.Name, err)
			}
		}
		return nil
	})
	for i := 0; i < workers; i++ {
		w := worker.New(c.fetcher, c.store, c.retry, c.emitter, worker.Config{
			BaseURL:      c.cfg.BaseURL,
			ChainTimeout: c.cfg.ChainTimeout,
			RunID:        runID,
		}, logger.Named("worker").With(zap.Int("worker", i)))
		g.Go(func() error {
			w.Run(ctx, queue, results)
			return nil
		})
	}
	go func() {
		if err := g.Wait(); err != nil {
			logger.Info("stopped submitting records", zap.Error(err))
		}
		close(results)
	}()

	for out := range results {
		if !report.Record(out) {
			logger.Error("duplicate outcome dropped", zap.String("record", out.RecordName))
		}
	}
}

func (c *Coordinator) markAborted(records []crawler.Record, report *crawler.AcquisitionReport, logger *zap.Logger) {
	for _, rec := range records {
		if _, ok := report.Lookup(rec.Name); ok {
			continue
		}
		report.Record(crawler.Outcome{
			RecordName: rec.Name,
			Kind:       crawler.OutcomeTimedOut,
			Cause:      crawler.ErrAborted,
		})
		logger.Debug("record never started", zap.String("record", rec.Name))
	}
}

func (c *Coordinator) newRunID() [16]byte {
	id, err := progress.NewRunID()
	if err != nil {
		c.logger.Warn("falling back to random run id", zap.Error(err))
		return progress.UUIDToBytes(uuid.New())
	}
	return id
}

// Aborted reports whether an outcome belongs to a record that never ran to
// completion because its batch was stopped.
func Aborted(o crawler.Outcome) bool {
	return o.Kind == crawler.OutcomeTimedOut && errors.Is(o.Cause, crawler.ErrAborted)
}
