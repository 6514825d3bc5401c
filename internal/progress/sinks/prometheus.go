package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/animal-gallery/internal/progress"
)

// PrometheusSink exports acquisition progress via Prometheus. It owns the
// collectors for batches and fetch-chains.
type PrometheusSink struct {
	batchesStarted prometheus.Counter
	batchesRunning prometheus.Gauge
	batchRuntime   prometheus.Histogram

	chainsInFlight prometheus.Gauge
	chainOutcomes  *prometheus.CounterVec
	chainDuration  *prometheus.HistogramVec
	chainAttempts  prometheus.Counter
	imageBytes     *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gallery_batches_started_total",
			Help: "Total image acquisition batches started.",
		}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gallery_batches_running",
			Help: "Current number of running acquisition batches.",
		}),
		batchRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gallery_batch_runtime_seconds",
			Help:    "Wall time per completed acquisition batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		chainsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gallery_chains_in_flight",
			Help: "Fetch-chains currently running.",
		}),
		chainOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gallery_chain_outcomes_total",
			Help: "Finished fetch-chains partitioned by outcome.",
		}, []string{"outcome"}),
		chainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gallery_chain_duration_seconds",
			Help:    "Fetch-chain duration partitioned by outcome.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		chainAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gallery_fetch_attempts_total",
			Help: "Fetch attempts made by fetch-chains, retries included.",
		}),
		imageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gallery_image_bytes_total",
			Help: "Image bytes persisted per site.",
		}, []string{"site"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesRunning,
		s.batchRuntime,
		s.chainsInFlight,
		s.chainOutcomes,
		s.chainDuration,
		s.chainAttempts,
		s.imageBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageBatchStart:
		s.batchesStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.batchesRunning.Inc()
		}
	case progress.StageBatchDone:
		if evt.Dur > 0 {
			s.batchRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.batchesRunning.Dec()
		}
	case progress.StageChainStart:
		s.chainsInFlight.Inc()
	case progress.StageChainDone:
		s.handleChainDone(evt)
	}
}

func (s *PrometheusSink) handleChainDone(evt progress.Event) {
	s.chainsInFlight.Dec()
	s.chainOutcomes.WithLabelValues(evt.Outcome).Inc()
	if evt.Dur > 0 {
		s.chainDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
	}
	if evt.Attempts > 0 {
		s.chainAttempts.Add(float64(evt.Attempts))
	}
	if evt.Bytes > 0 {
		site := evt.Site
		if site == "" {
			site = "unknown"
		}
		s.imageBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
