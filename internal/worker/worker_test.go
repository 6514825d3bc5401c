package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/animal-gallery/internal/crawler"
	"github.com/JakeFAU/animal-gallery/internal/progress"
	queuemem "github.com/JakeFAU/animal-gallery/internal/queue/memory"
	"github.com/JakeFAU/animal-gallery/internal/storage"
	storemem "github.com/JakeFAU/animal-gallery/internal/storage/memory"
)

const (
	baseURL  = "https://en.wikipedia.org"
	lionPage = "https://en.wikipedia.org/wiki/Lion"
	lionJPG  = "https://upload.example.org/lion.jpg"
)

var lionRecord = crawler.Record{Name: "Lion", Classification: "leonine", DetailRef: "/wiki/Lion"}

func TestWorkerProcessSuccess(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(map[string]crawler.FetchResponse{
		lionPage: page(`<table class="infobox"><tr><td><img src="//upload.example.org/lion.jpg"></td></tr></table>`),
		lionJPG:  image("JPEGDATA", "image/png"),
	})
	store := storemem.NewBlobStore()
	events := &recordingEmitter{}
	w := New(fetcher, store, nil, events, Config{BaseURL: baseURL, RunID: [16]byte{1}}, zap.NewNop())

	out := w.Process(context.Background(), lionRecord)

	require.Equal(t, crawler.OutcomeSuccess, out.Kind, out.CauseText())
	assert.Equal(t, "Lion", out.RecordName)
	assert.Equal(t, "memory://Lion.jpg", out.Path)
	assert.Equal(t, 2, out.Attempts)
	assert.EqualValues(t, 8, out.Bytes)
	assert.Equal(t, []string{lionPage, lionJPG}, fetcher.Calls())

	data, ok := store.Get("Lion.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("JPEGDATA"), data)

	got := events.Events()
	require.Len(t, got, 2)
	assert.Equal(t, progress.StageChainStart, got[0].Stage)
	assert.Equal(t, progress.StageChainDone, got[1].Stage)
	assert.Equal(t, "success", got[1].Outcome)
	assert.Equal(t, "upload.example.org", got[1].Site)
	assert.EqualValues(t, 8, got[1].Bytes)
	assert.NoError(t, got[1].Validate())
}

func TestWorkerProcessNoInfoBoxIsNotFound(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(map[string]crawler.FetchResponse{
		lionPage: page(`<p>No box here <img src="//upload.example.org/other.jpg"></p>`),
	})
	store := storemem.NewBlobStore()
	w := New(fetcher, store, nil, nil, Config{BaseURL: baseURL}, zap.NewNop())

	out := w.Process(context.Background(), lionRecord)

	assert.Equal(t, crawler.OutcomeNotFound, out.Kind)
	assert.NoError(t, out.Cause)
	assert.Empty(t, out.Path)
	assert.Equal(t, []string{lionPage}, fetcher.Calls())
	assert.Empty(t, store.Paths())
}

func TestWorkerProcessInfoBoxWithoutImageIsNotFound(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(map[string]crawler.FetchResponse{
		lionPage: page(`<table class="infobox"><tr><td>text only</td></tr></table>`),
	})
	w := New(fetcher, storemem.NewBlobStore(), nil, nil, Config{BaseURL: baseURL}, zap.NewNop())

	out := w.Process(context.Background(), lionRecord)
	assert.Equal(t, crawler.OutcomeNotFound, out.Kind)
}

func TestWorkerProcessHTTPErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(nil)
	fetcher.failures[lionPage] = []error{&crawler.HTTPStatusError{URL: lionPage, StatusCode: http.StatusNotFound}}
	w := New(fetcher, storemem.NewBlobStore(), instantRetry{maxAttempts: 3}, nil, Config{BaseURL: baseURL}, zap.NewNop())

	out := w.Process(context.Background(), lionRecord)

	assert.Equal(t, crawler.OutcomeFetchError, out.Kind)
	var statusErr *crawler.HTTPStatusError
	require.ErrorAs(t, out.Cause, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, 1, out.Attempts)
}

func TestWorkerProcessOversizedImageIsFetchError(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(map[string]crawler.FetchResponse{
		lionPage: page(`<table class="infobox"><tr><td><img src="https://upload.example.org/lion.jpg"></td></tr></table>`),
		lionJPG:  image("JPEG", ""),
	})
	fetcher.failures[lionJPG] = []error{fmt.Errorf("GET %s: %w", lionJPG, crawler.ErrBodyTooLarge)}
	store := storemem.NewBlobStore()
	w := New(fetcher, store, instantRetry{maxAttempts: 3}, nil, Config{BaseURL: baseURL}, zap.NewNop())

	out := w.Process(context.Background(), lionRecord)

	assert.Equal(t, crawler.OutcomeFetchError, out.Kind)
	assert.ErrorIs(t, out.Cause, crawler.ErrBodyTooLarge)
	assert.Equal(t, 2, out.Attempts)
	_, ok := store.Get("Lion.jpg")
	assert.False(t, ok)
}

func TestWorkerProcessRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(map[string]crawler.FetchResponse{
		lionPage: page(`<table class="infobox"><tr><td><img src="https://upload.example.org/lion.jpg"></td></tr></table>`),
		lionJPG:  image("JPEG", ""),
	})
	fetcher.failures[lionJPG] = []error{
		&crawler.HTTPStatusError{URL: lionJPG, StatusCode: http.StatusServiceUnavailable},
		&crawler.NetworkError{URL: lionJPG, Err: errors.New("connection reset")},
	}
	w := New(fetcher, storemem.NewBlobStore(), instantRetry{maxAttempts: 3}, nil, Config{BaseURL: baseURL}, zap.NewNop())

	out := w.Process(context.Background(), lionRecord)

	require.Equal(t, crawler.OutcomeSuccess, out.Kind, out.CauseText())
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, "memory://Lion.jpg", out.Path)
}

func TestWorkerProcessRetriesAreBounded(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(nil)
	for i := 0; i < 5; i++ {
		fetcher.failures[lionPage] = append(fetcher.failures[lionPage],
			&crawler.HTTPStatusError{URL: lionPage, StatusCode: http.StatusBadGateway})
	}
	w := New(fetcher, storemem.NewBlobStore(), instantRetry{maxAttempts: 3}, nil, Config{BaseURL: baseURL}, zap.NewNop())

	out := w.Process(context.Background(), lionRecord)

	assert.Equal(t, crawler.OutcomeFetchError, out.Kind)
	assert.Equal(t, 3, out.Attempts)
	assert.Len(t, fetcher.Calls(), 3)
}

func TestWorkerProcessChainTimeout(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(map[string]crawler.FetchResponse{
		lionPage: page(`<table class="infobox"><tr><td><img src="//upload.example.org/lion.jpg"></td></tr></table>`),
	})
	fetcher.block[lionJPG] = true
	w := New(fetcher, storemem.NewBlobStore(), nil, nil, Config{BaseURL: baseURL, ChainTimeout: 50 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	out := w.Process(context.Background(), lionRecord)

	assert.Equal(t, crawler.OutcomeTimedOut, out.Kind)
	assert.True(t, crawler.IsTimeout(out.Cause))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWorkerProcessStartedChainSurvivesCancel(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(map[string]crawler.FetchResponse{
		lionPage: page(`<table class="infobox"><tr><td><img src="//upload.example.org/lion.jpg"></td></tr></table>`),
		lionJPG:  image("JPEG", "image/jpeg"),
	})
	w := New(fetcher, storemem.NewBlobStore(), nil, nil, Config{BaseURL: baseURL, ChainTimeout: time.Second}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := w.Process(ctx, lionRecord)

	assert.Equal(t, crawler.OutcomeSuccess, out.Kind, out.CauseText())
}

func TestWorkerProcessHonorsBatchDeadline(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(nil)
	fetcher.block[lionPage] = true
	w := New(fetcher, storemem.NewBlobStore(), nil, nil, Config{BaseURL: baseURL, ChainTimeout: time.Minute}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	out := w.Process(ctx, lionRecord)

	assert.Equal(t, crawler.OutcomeTimedOut, out.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWorkerProcessRecoversPanic(t *testing.T) {
	t.Parallel()

	fetcher := fetcherFunc(func(context.Context, string) (crawler.FetchResponse, error) {
		panic("boom")
	})
	events := &recordingEmitter{}
	w := New(fetcher, storemem.NewBlobStore(), nil, events, Config{BaseURL: baseURL, RunID: [16]byte{1}}, zap.NewNop())

	out := w.Process(context.Background(), lionRecord)

	assert.Equal(t, crawler.OutcomeFetchError, out.Kind)
	assert.Contains(t, out.CauseText(), "boom")
	got := events.Events()
	require.Len(t, got, 2)
	assert.Equal(t, "fetch_error", got[1].Outcome)
}

func TestWorkerProcessPersistFailure(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(map[string]crawler.FetchResponse{
		lionPage: page(`<table class="infobox"><tr><td><img src="//upload.example.org/lion.jpg"></td></tr></table>`),
		lionJPG:  image("JPEG", ""),
	})
	store := &storage.MockBlobStore{}
	store.On("PutObject", mock.Anything, "Lion.jpg", "image/jpeg", []byte("JPEG")).
		Return("", errors.New("disk full")).Once()
	w := New(fetcher, store, nil, nil, Config{BaseURL: baseURL}, zap.NewNop())

	out := w.Process(context.Background(), lionRecord)

	assert.Equal(t, crawler.OutcomeFetchError, out.Kind)
	assert.Contains(t, out.CauseText(), "disk full")
	store.AssertExpectations(t)
}

func TestWorkerProcessRejectsEmptyDetailRef(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(nil)
	w := New(fetcher, storemem.NewBlobStore(), nil, nil, Config{BaseURL: baseURL}, zap.NewNop())

	out := w.Process(context.Background(), crawler.Record{Name: "Ghost"})

	assert.Equal(t, crawler.OutcomeFetchError, out.Kind)
	assert.Empty(t, fetcher.Calls())
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(map[string]crawler.FetchResponse{
		lionPage: page(`<p>none</p>`),
		"https://en.wikipedia.org/wiki/Wolf": page(`<p>none</p>`),
	})
	q := queuemem.NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), lionRecord))
	require.NoError(t, q.Enqueue(context.Background(), crawler.Record{Name: "Wolf", DetailRef: "/wiki/Wolf"}))
	q.Close()

	results := make(chan crawler.Outcome, 2)
	w := New(fetcher, storemem.NewBlobStore(), nil, nil, Config{BaseURL: baseURL}, zap.NewNop())
	w.Run(context.Background(), q, results)
	close(results)

	var names []string
	for out := range results {
		assert.Equal(t, crawler.OutcomeNotFound, out.Kind)
		names = append(names, out.RecordName)
	}
	assert.Equal(t, []string{"Lion", "Wolf"}, names)
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(nil)
	q := queuemem.NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), lionRecord))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := make(chan crawler.Outcome, 1)
	New(fetcher, storemem.NewBlobStore(), nil, nil, Config{BaseURL: baseURL}, zap.NewNop()).Run(ctx, q, results)

	assert.Empty(t, results)
	assert.Empty(t, fetcher.Calls())
}

func TestWorkerRunSkipsRecordsAfterDeadlinePassed(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher(map[string]crawler.FetchResponse{lionPage: page(`<p>none</p>`)})
	q := queuemem.NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), lionRecord))
	q.Close()

	// The deadline has passed but Err has not caught up yet.
	ctx := pastDeadlineContext{Context: context.Background(), deadline: time.Now().Add(-time.Millisecond)}
	results := make(chan crawler.Outcome, 1)
	New(fetcher, storemem.NewBlobStore(), nil, nil, Config{BaseURL: baseURL}, zap.NewNop()).Run(ctx, q, results)

	assert.Empty(t, results)
	assert.Empty(t, fetcher.Calls())
}

type pastDeadlineContext struct {
	context.Context
	deadline time.Time
}

func (c pastDeadlineContext) Deadline() (time.Time, bool) {
	return c.deadline, true
}

// siteFetcher serves canned responses keyed by URL. Queued failures are
// returned first; blocked URLs wait for the context to end.
type siteFetcher struct {
	mu        sync.Mutex
	responses map[string]crawler.FetchResponse
	failures  map[string][]error
	block     map[string]bool
	calls     []string
}

func newSiteFetcher(responses map[string]crawler.FetchResponse) *siteFetcher {
	if responses == nil {
		responses = map[string]crawler.FetchResponse{}
	}
	return &siteFetcher{
		responses: responses,
		failures:  map[string][]error{},
		block:     map[string]bool{},
	}
}

func (f *siteFetcher) Fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	if errs := f.failures[rawURL]; len(errs) > 0 {
		f.failures[rawURL] = errs[1:]
		f.mu.Unlock()
		return crawler.FetchResponse{}, errs[0]
	}
	blocked := f.block[rawURL]
	resp, ok := f.responses[rawURL]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return crawler.FetchResponse{}, fmt.Errorf("%w: %w", crawler.ErrTimeout, ctx.Err())
	}
	if !ok {
		return crawler.FetchResponse{}, &crawler.HTTPStatusError{URL: rawURL, StatusCode: http.StatusNotFound}
	}
	resp.URL = rawURL
	return resp, nil
}

func (f *siteFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fetcherFunc func(ctx context.Context, rawURL string) (crawler.FetchResponse, error)

func (f fetcherFunc) Fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	return f(ctx, rawURL)
}

type instantRetry struct {
	maxAttempts int
}

func (r instantRetry) ShouldRetry(err error, attempt int) bool {
	return attempt < r.maxAttempts && crawler.IsTransient(err)
}

func (instantRetry) Backoff(int) time.Duration { return 0 }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) Events() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Event(nil), e.events...)
}

func page(html string) crawler.FetchResponse {
	return crawler.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte("<html><body>" + html + "</body></html>"),
	}
}

func image(body, contentType string) crawler.FetchResponse {
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	return crawler.FetchResponse{StatusCode: http.StatusOK, Headers: headers, Body: []byte(body)}
}
