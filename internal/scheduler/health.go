package scheduler

import (
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryBackoff configures the delay before a generic task failure becomes
// executable again. The zero value retries immediately, which is what the
// scenario tests in scenarios_test.go rely on for determinism; production
// callers can widen it the same way the teacher configured RetryConfig for
// backend retries.
type RetryBackoff struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

func (r RetryBackoff) newPolicy() backoff.BackOff {
	if r.InitialInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialInterval
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	if r.Multiplier > 0 {
		b.Multiplier = r.Multiplier
	}
	if r.RandomizationFactor > 0 {
		b.RandomizationFactor = r.RandomizationFactor
	}
	return b
}

var errWorkerFailed = errors.New("worker marked failed")

// workerHealth tracks per-worker failure state. A typical circuit breaker
// recovers after its Timeout; spec.md §3 makes workers_failed monotonic
// for the run, so each breaker is configured to trip permanently on its
// first qualifying failure rather than auto-recover. Unlike the teacher's
// CircuitBreakerRegistry, nothing here retries through Execute — allowed()
// is called directly by the driver loop and the readiness tracker as the
// actual gate on whether a worker may receive more work; OnStateChange
// still produces the transition log line as a side effect of that same
// state change.
type workerHealth struct {
	breakers map[WorkerName]*gobreaker.CircuitBreaker
}

func newWorkerHealth() *workerHealth {
	return &workerHealth{breakers: make(map[WorkerName]*gobreaker.CircuitBreaker)}
}

func (h *workerHealth) breaker(w WorkerName) *gobreaker.CircuitBreaker {
	if cb, ok := h.breakers[w]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(w),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("scheduler: worker %q health %s -> %s", name, from, to)
		},
	})
	h.breakers[w] = cb
	return cb
}

// markFailed trips the breaker for w, producing exactly one log line per
// worker via OnStateChange and flipping allowed(w) to false from this point
// on.
func (h *workerHealth) markFailed(w WorkerName) {
	cb := h.breaker(w)
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errWorkerFailed })
}

// allowed reports whether w's breaker currently permits dispatch. Called by
// the driver loop before handing a popped slot a task and by the readiness
// tracker before re-admitting a worker to a task's candidate list.
func (h *workerHealth) allowed(w WorkerName) bool {
	return h.breaker(w).State() != gobreaker.StateOpen
}
