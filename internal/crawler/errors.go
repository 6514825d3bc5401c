package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrListingFetch marks a failure to download the listing page. Fatal.
	ErrListingFetch = errors.New("listing fetch failed")
	// ErrListingParse marks a listing page that yielded no usable records. Fatal.
	ErrListingParse = errors.New("listing parse failed")
	// ErrTimeout is returned by fetchers when a request deadline expires.
	ErrTimeout = errors.New("request timed out")
	// ErrBodyTooLarge is returned by fetchers when a response exceeds the
	// configured body limit. Not transient.
	ErrBodyTooLarge = errors.New("response body exceeds limit")
	// ErrAborted marks records whose chain never ran or never finished
	// because the batch was canceled.
	ErrAborted = errors.New("acquisition aborted")
)

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// NetworkError wraps a transport-level failure.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err stems from a deadline rather than a failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsTransient reports whether a fetch error may succeed on a repeat attempt.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, ErrTimeout)
}
