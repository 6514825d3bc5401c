// Package app wires the scraper's long-lived services and runs the
// listing -> acquisition -> report pipeline.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/animal-gallery/internal/config"
	"github.com/JakeFAU/animal-gallery/internal/crawler"
	"github.com/JakeFAU/animal-gallery/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/animal-gallery/internal/fetcher/colly"
	"github.com/JakeFAU/animal-gallery/internal/progress"
	"github.com/JakeFAU/animal-gallery/internal/progress/sinks"
	"github.com/JakeFAU/animal-gallery/internal/report"
	"github.com/JakeFAU/animal-gallery/internal/storage"
	"github.com/JakeFAU/animal-gallery/internal/wiki"
)

const (
	htmlContentType = "text/html; charset=utf-8"
	jsonContentType = "application/json"
	closeTimeout    = 10 * time.Second
)

// App holds the shared services for one scrape run.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	fetcher     crawler.Fetcher
	store       crawler.BlobStore
	closeStore  storage.CloseFunc
	hub         *progress.Hub
	registry    *prometheus.Registry
	coordinator *dispatcher.Coordinator
	builder     *report.Builder
}

// Summary describes a finished run.
type Summary struct {
	Records      int
	Duplicates   int
	SkippedRows  int
	Counts       crawler.OutcomeCounts
	ReportPath   string
	ManifestPath string
	Duration     time.Duration
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	fetcher  crawler.Fetcher
	store    crawler.BlobStore
	registry *prometheus.Registry
}

// WithFetcher replaces the Colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithStore replaces the store selected from output.location.
func WithStore(s crawler.BlobStore) Option {
	return func(o *options) { o.store = s }
}

// WithRegistry registers progress metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New creates and initializes the services needed by Run.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, closeStore: func() error { return nil }}

	a.fetcher = o.fetcher
	if a.fetcher == nil {
		a.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:    cfg.HTTP.UserAgent,
			Timeout:      cfg.HTTP.Timeout,
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		})
	}

	a.store = o.store
	if a.store == nil {
		store, closeFn, err := storage.Open(ctx, cfg.Output.Location)
		if err != nil {
			return nil, fmt.Errorf("open output store: %w", err)
		}
		a.store, a.closeStore = store, closeFn
	}

	a.registry = o.registry
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		_ = a.closeStore()
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		Logger:         logger.Named("progress"),
	}, promSink, sinks.NewLogSink(logger.Named("progress")))

	a.builder, err = report.NewBuilder(cfg.Output.Title)
	if err != nil {
		_ = a.hub.Close(ctx)
		_ = a.closeStore()
		return nil, fmt.Errorf("init report builder: %w", err)
	}

	a.coordinator = dispatcher.New(dispatcher.Config{
		Concurrency:  cfg.Crawler.Concurrency,
		ChainTimeout: cfg.Crawler.ChainTimeout,
		BaseURL:      cfg.Source.BaseURL,
		QueueSize:    cfg.Crawler.QueueDepth,
	}, a.fetcher, a.store, crawler.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries), a.hub, logger.Named("coordinator"))

	return a, nil
}

// Run scrapes the listing, acquires every image and writes the report and
// manifest. Only a listing that cannot be fetched or parsed fails the run;
// per-record failures are counted in the Summary.
func (a *App) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var summary Summary

	records, err := a.loadListing(ctx, &summary)
	if err != nil {
		return summary, err
	}
	unique, dups := crawler.DedupeRecords(records)
	for _, dup := range dups {
		a.logger.Warn("duplicate record name", zap.String("record", dup.Name))
	}
	summary.Records = len(unique)
	summary.Duplicates = len(dups)
	groups := crawler.GroupRecords(unique)

	acquireCtx := ctx
	if a.cfg.Crawler.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, a.cfg.Crawler.GlobalTimeout)
		defer cancel()
	}
	acquired := a.coordinator.Acquire(acquireCtx, unique)
	summary.Counts = acquired.Counts

	// The report is written even when the run was interrupted.
	writeCtx := context.WithoutCancel(ctx)
	page, err := a.builder.Render(groups, acquired)
	if err != nil {
		return summary, fmt.Errorf("render report: %w", err)
	}
	summary.ReportPath, err = a.store.PutObject(writeCtx, a.cfg.Output.Report, htmlContentType, bytes.NewReader(page))
	if err != nil {
		return summary, fmt.Errorf("write report: %w", err)
	}

	manifest, err := report.EncodeManifest(report.Manifest(groups, acquired))
	if err != nil {
		return summary, err
	}
	summary.ManifestPath, err = a.store.PutObject(writeCtx, a.cfg.Output.Manifest, jsonContentType, bytes.NewReader(manifest))
	if err != nil {
		return summary, fmt.Errorf("write manifest: %w", err)
	}

	summary.Duration = time.Since(start)
	a.logger.Info("scrape finished",
		zap.Int("records", summary.Records),
		zap.Int("success", summary.Counts.Success),
		zap.Int("not_found", summary.Counts.NotFound),
		zap.Int("fetch_error", summary.Counts.FetchError),
		zap.Int("timed_out", summary.Counts.TimedOut),
		zap.String("report", summary.ReportPath),
		zap.Duration("dur", summary.Duration),
	)
	return summary, nil
}

func (a *App) loadListing(ctx context.Context, summary *Summary) ([]crawler.Record, error) {
	listingURL := a.cfg.Source.ListingURL
	resp, err := a.fetcher.Fetch(ctx, listingURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrListingFetch, err)
	}
	records, stats, err := wiki.ParseListing(resp.Body)
	summary.SkippedRows = stats.Skipped
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", listingURL, err)
	}
	a.logger.Info("listing parsed",
		zap.String("url", listingURL),
		zap.Int("tables", stats.Tables),
		zap.Int("rows", stats.Rows),
		zap.Int("skipped", stats.Skipped),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// Registry exposes the registry holding the progress metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Close flushes progress sinks, writes the metrics textfile when configured
// and releases the output store.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if dropped := a.hub.Dropped(); dropped > 0 {
		a.logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
	}
	if path := a.cfg.Progress.MetricsFile; path != "" {
		if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics file: %w", err))
		} else {
			a.logger.Info("metrics written", zap.String("path", path))
		}
	}
	if err := a.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
