package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher performs exactly one blocking GET and returns the body plus
// metadata. Implementations must honor ctx deadlines and must not retry.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
}

// BlobStore writes artifacts under a relative path and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RetryPolicy decides whether a failed fetch attempt is repeated.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Queue hands records from the producer to acquisition workers.
type Queue interface {
	Enqueue(ctx context.Context, rec Record) error
	Dequeue(ctx context.Context) (Record, error)
	Close()
}
