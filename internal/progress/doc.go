// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that acquisition workers use to report batch and fetch-chain
// progress. Events are batched on a background goroutine and fanned out to
// pluggable sinks such as Prometheus metrics or structured logs.
package progress
