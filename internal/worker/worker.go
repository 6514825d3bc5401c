// Package worker implements the fetch-chain execution loop: one Worker per
// concurrency slot pulls records from the shared queue and produces exactly
// one Outcome per record it dequeues.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/animal-gallery/internal/crawler"
	"github.com/JakeFAU/animal-gallery/internal/progress"
	"github.com/JakeFAU/animal-gallery/internal/wiki"
)

const defaultContentType = "image/jpeg"

// Config controls Worker behavior.
type Config struct {
	// BaseURL resolves host-relative detail references.
	BaseURL string
	// ChainTimeout bounds one record's whole fetch-chain. Zero disables it.
	ChainTimeout time.Duration
	// ContentType is used when the image response carries none.
	ContentType string
	// RunID tags progress events with the batch they belong to.
	RunID [16]byte
}

// Worker consumes queued records and executes the fetch-chain.
type Worker struct {
	fetcher crawler.Fetcher
	store   crawler.BlobStore
	retry   crawler.RetryPolicy
	emitter progress.Emitter
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker. A nil retry policy disables retries and a nil
// emitter discards progress events.
func New(
	fetcher crawler.Fetcher,
	store crawler.BlobStore,
	retry crawler.RetryPolicy,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if retry == nil {
		retry = crawler.NoRetry()
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	return &Worker{
		fetcher: fetcher,
		store:   store,
		retry:   retry,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming records until the queue is drained and closed or the
// context finishes. Every record it starts yields one Outcome on results;
// records dequeued after the batch ended are dropped unstarted.
func (w *Worker) Run(ctx context.Context, queue crawler.Queue, results chan<- crawler.Outcome) {
	for {
		rec, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("queue drained", zap.Error(err))
			}
			return
		}
		if batchOver(ctx) {
			w.logger.Debug("batch over, record not started", zap.String("record", rec.Name))
			return
		}
		w.logger.Debug("dequeued record", zap.String("record", rec.Name))
		results <- w.Process(ctx, rec)
	}
}

// batchOver reports whether ctx is done or its deadline has passed. The
// deadline is checked directly since a chain's copy of it can fire before
// ctx itself reports DeadlineExceeded.
func batchOver(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}

// Process runs the fetch-chain for one record under its own deadline. A
// canceled batch context does not interrupt a chain that already started;
// a batch deadline does.
func (w *Worker) Process(ctx context.Context, rec crawler.Record) (out crawler.Outcome) {
	start := time.Now()
	chainCtx, cancel := w.chainContext(ctx)
	defer cancel()

	w.emitter.Emit(progress.Event{
		RunID:  w.cfg.RunID,
		TS:     start.UTC(),
		Stage:  progress.StageChainStart,
		Record: rec.Name,
	})

	st := &chainState{}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("fetch-chain panicked", zap.String("record", rec.Name), zap.Any("panic", r))
			out = crawler.Outcome{
				RecordName: rec.Name,
				Kind:       crawler.OutcomeFetchError,
				Cause:      fmt.Errorf("fetch-chain panic: %v", r),
			}
		}
		out.Attempts = st.attempts
		out.Duration = time.Since(start)
		w.finish(rec, st, out)
	}()

	return w.runChain(chainCtx, rec, st)
}

type chainState struct {
	attempts int
	site     string
}

func (w *Worker) chainContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	cancels := make([]context.CancelFunc, 0, 2)
	if deadline, ok := parent.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		cancels = append(cancels, cancel)
	}
	if w.cfg.ChainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.ChainTimeout)
		cancels = append(cancels, cancel)
	}
	return ctx, func() {
		for i := len(cancels) - 1; i >= 0; i-- {
			cancels[i]()
		}
	}
}

func (w *Worker) runChain(ctx context.Context, rec crawler.Record, st *chainState) crawler.Outcome {
	detailURL, err := crawler.ResolveURL(w.cfg.BaseURL, rec.DetailRef)
	if err != nil {
		return failure(rec, fmt.Errorf("resolve detail url: %w", err))
	}

	detail, err := w.fetchWithRetry(ctx, detailURL, st)
	if err != nil {
		return w.classify(ctx, rec, fmt.Errorf("fetch detail page: %w", err))
	}

	src, found, err := wiki.FindInfoBoxImage(detail.Body)
	if err != nil {
		return failure(rec, fmt.Errorf("parse detail page: %w", err))
	}
	if !found {
		w.logger.Info("no info box image", zap.String("record", rec.Name), zap.String("url", detailURL))
		return crawler.Outcome{RecordName: rec.Name, Kind: crawler.OutcomeNotFound}
	}

	pageURL := detail.URL
	if pageURL == "" {
		pageURL = detailURL
	}
	imageURL, err := crawler.ResolveURL(pageURL, src)
	if err != nil {
		return failure(rec, fmt.Errorf("resolve image url: %w", err))
	}
	st.site = crawler.SiteOf(imageURL)

	image, err := w.fetchWithRetry(ctx, imageURL, st)
	if err != nil {
		return w.classify(ctx, rec, fmt.Errorf("fetch image: %w", err))
	}

	contentType := image.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = w.cfg.ContentType
	}
	uri, err := w.store.PutObject(ctx, crawler.ImageFileName(rec.Name), contentType, bytes.NewReader(image.Body))
	if err != nil {
		return w.classify(ctx, rec, fmt.Errorf("put object: %w", err))
	}
	return crawler.Outcome{
		RecordName: rec.Name,
		Kind:       crawler.OutcomeSuccess,
		Path:       uri,
		Bytes:      int64(len(image.Body)),
	}
}

func (w *Worker) fetchWithRetry(ctx context.Context, url string, st *chainState) (crawler.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := w.fetcher.Fetch(ctx, url)
		st.attempts++
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !w.retry.ShouldRetry(err, attempt) {
			return crawler.FetchResponse{}, err
		}
		wait := w.retry.Backoff(attempt)
		w.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := sleep(ctx, wait); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("retry backoff: %w", err)
		}
	}
}

func (w *Worker) classify(ctx context.Context, rec crawler.Record, err error) crawler.Outcome {
	switch {
	case crawler.IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return crawler.Outcome{RecordName: rec.Name, Kind: crawler.OutcomeTimedOut, Cause: err}
	case errors.Is(err, context.Canceled):
		return crawler.Outcome{
			RecordName: rec.Name,
			Kind:       crawler.OutcomeTimedOut,
			Cause:      fmt.Errorf("%w: %w", crawler.ErrAborted, err),
		}
	default:
		return failure(rec, err)
	}
}

func (w *Worker) finish(rec crawler.Record, st *chainState, out crawler.Outcome) {
	fields := []zap.Field{
		zap.String("record", rec.Name),
		zap.String("outcome", string(out.Kind)),
		zap.Int("attempts", out.Attempts),
		zap.Duration("dur", out.Duration),
	}
	switch out.Kind {
	case crawler.OutcomeSuccess:
		w.logger.Info("image saved", append(fields, zap.String("path", out.Path))...)
	case crawler.OutcomeNotFound:
		w.logger.Debug("fetch-chain finished", fields...)
	default:
		w.logger.Warn("fetch-chain failed", append(fields, zap.Error(out.Cause))...)
	}
	w.emitter.Emit(progress.Event{
		RunID:    w.cfg.RunID,
		TS:       time.Now().UTC(),
		Stage:    progress.StageChainDone,
		Record:   rec.Name,
		Site:     st.site,
		Outcome:  string(out.Kind),
		Attempts: out.Attempts,
		Bytes:    out.Bytes,
		Dur:      out.Duration,
		Note:     out.CauseText(),
	})
}

func failure(rec crawler.Record, err error) crawler.Outcome {
	return crawler.Outcome{RecordName: rec.Name, Kind: crawler.OutcomeFetchError, Cause: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
