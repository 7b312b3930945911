package gateway

import (
	"sync"
	"time"
)

// Reasons returned by CheckRequestAllowed
const (
	ReasonTooManyConcurrent = "too many concurrent requests"
	ReasonRateLimited       = "rate limit exceeded"
)

const rateWindow = time.Minute

// ClientRateLimiter bounds one client's requests per sliding minute and its
// in-flight requests. A limit of zero disables that check.
type ClientRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	requests          []time.Time
	inFlight          int
	now               func() time.Time
}

// NewClientRateLimiter creates a rate limiter with the given limits
func NewClientRateLimiter(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// prune drops requests older than the window. Caller holds mu.
func (r *ClientRateLimiter) prune() {
	cutoff := r.now().Add(-rateWindow)
	keep := r.requests[:0]
	for _, at := range r.requests {
		if at.After(cutoff) {
			keep = append(keep, at)
		}
	}
	r.requests = keep
}

// CheckRequestAllowed checks if a request is allowed under rate limits
func (r *ClientRateLimiter) CheckRequestAllowed() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConcurrent > 0 && r.inFlight >= r.maxConcurrent {
		return false, ReasonTooManyConcurrent
	}

	r.prune()
	if r.requestsPerMinute > 0 && len(r.requests) >= r.requestsPerMinute {
		return false, ReasonRateLimited
	}

	return true, ""
}

// RecordRequestStart records the start of a request
func (r *ClientRateLimiter) RecordRequestStart() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests = append(r.requests, r.now())
	r.inFlight++
}

// RecordRequestEnd records the end of a request
func (r *ClientRateLimiter) RecordRequestEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight > 0 {
		r.inFlight--
	}
}

// GetStats returns requests in the current window and requests in flight
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()
	return len(r.requests), r.inFlight
}
