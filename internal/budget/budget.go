// Package budget bounds vendor request volume with a token bucket.
package budget

import (
	"time"

	"golang.org/x/time/rate"
)

// Budget is a token bucket sized in vendor HTTP calls. One token covers one
// request regardless of how many events the request batches.
type Budget struct {
	limiter *rate.Limiter
}

// New creates a budget with the given bucket capacity and steady refill rate
// in tokens per second.
func New(capacity int, refillPerSecond float64) *Budget {
	return &Budget{
		limiter: rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
	}
}

// PerMinute creates a budget that admits at most requestsPerMinute calls in a
// burst and refills at the matching steady rate.
func PerMinute(requestsPerMinute int) *Budget {
	return New(requestsPerMinute, float64(requestsPerMinute)/60.0)
}

// Allow consumes one token if available. It never blocks; the planner simply
// stops batching for the cycle when the budget is exhausted.
func (b *Budget) Allow() bool {
	return b.limiter.Allow()
}

// AllowAt consumes one token against the bucket state at an explicit time.
func (b *Budget) AllowAt(t time.Time) bool {
	return b.limiter.AllowN(t, 1)
}
