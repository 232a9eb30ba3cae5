// Package queue bounds the number of queries processed at once. Admission
// is reject-on-full rather than wait: an overloaded gateway tells the
// caller to retry instead of stacking requests behind the limit.
package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// DefaultRetryAfter is the backoff hint returned when admission fails.
const DefaultRetryAfter = 2 * time.Second

// Limiter admits up to a fixed number of concurrent requests and tracks
// the cancel registry for in-flight queries.
type Limiter struct {
	max int

	mu       sync.Mutex
	inflight map[string]func() // query id -> cancel
	rejected int64
	admitted int64
}

// NewLimiter builds a limiter with the given concurrency cap.
func NewLimiter(maxConcurrent int) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limiter{
		max:      maxConcurrent,
		inflight: make(map[string]func()),
	}
}

// Admit reserves a slot for the query and registers its cancel function.
// When the limiter is full it fails BACKEND_UNAVAILABLE without blocking.
// The caller must Release the query id when processing ends.
func (l *Limiter) Admit(queryID string, cancel func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.inflight) >= l.max {
		l.rejected++
		slog.Warn("Admission rejected, limiter full",
			"query_id", queryID, "in_flight", len(l.inflight), "max", l.max)
		return models.Ef(models.KindBackendUnavailable,
			"at capacity (%d in flight), retry in %s", len(l.inflight), DefaultRetryAfter)
	}
	if _, ok := l.inflight[queryID]; ok {
		return models.Ef(models.KindInvalidInput, "query %s already in flight", queryID)
	}
	l.inflight[queryID] = cancel
	l.admitted++
	return nil
}

// Release frees the query's slot. Unknown ids are ignored.
func (l *Limiter) Release(queryID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, queryID)
}

// Cancel triggers the cancel function of an in-flight query. Returns
// false when the query is not running here.
func (l *Limiter) Cancel(queryID string) bool {
	l.mu.Lock()
	cancel, ok := l.inflight[queryID]
	l.mu.Unlock()
	if ok && cancel != nil {
		cancel()
	}
	return ok
}

// Depth returns the number of in-flight queries.
func (l *Limiter) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inflight)
}

// Health is the limiter section of /v1/status.
type Health struct {
	InFlight      int   `json:"in_flight"`
	MaxConcurrent int   `json:"max_concurrent"`
	Admitted      int64 `json:"admitted"`
	Rejected      int64 `json:"rejected"`
}

// Stats returns admission counters.
func (l *Limiter) Stats() Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Health{
		InFlight:      len(l.inflight),
		MaxConcurrent: l.max,
		Admitted:      l.admitted,
		Rejected:      l.rejected,
	}
}
