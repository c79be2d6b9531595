package gateway

import (
	"errors"
	"sync"
	"time"
)

// Default per-client limits applied when the config leaves them unset.
const (
	defaultRequestsPerMinute = 60
	defaultMaxConcurrent     = 10
)

// slidingWindow is the span over which requests per minute are counted.
const slidingWindow = time.Minute

// Admission errors returned by Admit. The server maps them to distinct
// JSON-RPC error codes.
var (
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrTooManyConcurrent = errors.New("too many concurrent requests")
)

// ClientRateLimiter enforces per-client request budgets: a sliding window
// over the last minute plus a cap on requests in flight.
type ClientRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	requests          []time.Time
	inFlight          int
}

// NewClientRateLimiter creates a rate limiter. Non-positive limits fall
// back to the defaults.
func NewClientRateLimiter(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
	}
}

// Admit reserves a slot for one request, checking both limits and
// recording the request in a single step. On success the caller must
// release the slot with Done once the request finishes.
func (r *ClientRateLimiter) Admit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxConcurrent {
		return ErrTooManyConcurrent
	}

	now := time.Now()
	r.pruneLocked(now)
	if len(r.requests) >= r.requestsPerMinute {
		return ErrRateLimited
	}

	r.requests = append(r.requests, now)
	r.inFlight++
	return nil
}

// Done releases the concurrency slot taken by Admit.
func (r *ClientRateLimiter) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight > 0 {
		r.inFlight--
	}
}

// GetStats returns the request count inside the sliding window and the
// number of requests in flight.
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(time.Now())
	return len(r.requests), r.inFlight
}

// pruneLocked drops requests that fell out of the sliding window. Entries
// are appended in time order, so the expired ones form a prefix. Caller
// holds r.mu.
func (r *ClientRateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-slidingWindow)
	expired := 0
	for expired < len(r.requests) && !r.requests[expired].After(cutoff) {
		expired++
	}
	if expired > 0 {
		r.requests = append(r.requests[:0], r.requests[expired:]...)
	}
}
