// Package ratelimit tracks the upstream code-forge's per-resource-class
// rate-limit budget from response headers and throttles outgoing requests
// before the upstream ever returns 429, the way
// other_examples/.../swearjar-backend-internal-adapters-ingest-github-client.go.go's
// Do() loop parses X-RateLimit-* and Retry-After off every response and
// backs off proactively rather than purely reactively.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"forgehand/internal/safemap"
)

// Budget is the most recently observed rate-limit state for one resource
// class (e.g. "core", "search", "graphql" on a GitHub-shaped forge).
type Budget struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	RetryAfter time.Duration
	observedAt time.Time
}

// Limiter tracks one Budget per resource class and throttles callers
// proactively once remaining budget crosses a configured threshold.
type Limiter struct {
	budgets *safemap.Map[Budget]

	// QueueThreshold is the Remaining count at/below which callers start
	// being spread out rather than let through immediately.
	QueueThreshold int
	// MaxQueueWait bounds how long Wait will block before giving up.
	MaxQueueWait time.Duration

	now func() time.Time
}

// New builds a Limiter. queueThreshold and maxQueueWait come from
// config.RateLimitConfig.
func New(queueThreshold int, maxQueueWait time.Duration) *Limiter {
	return &Limiter{
		budgets:        safemap.New[Budget](),
		QueueThreshold: queueThreshold,
		MaxQueueWait:   maxQueueWait,
		now:            time.Now,
	}
}

// Observe updates the tracked budget for resourceClass from an HTTP
// response's headers, mirroring parseRateHeaders in the swearjar client:
// X-RateLimit-Remaining/Limit/Reset plus a standalone Retry-After.
func (l *Limiter) Observe(resourceClass string, h http.Header) {
	b := Budget{observedAt: l.now()}

	if v := h.Get("X-RateLimit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			b.Limit = n
		}
	}
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			b.Remaining = n
		}
	} else {
		b.Remaining = -1 // unknown, not zero
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			b.ResetAt = time.Unix(n, 0)
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			b.RetryAfter = time.Duration(secs) * time.Second
		} else if when, err := http.ParseTime(v); err == nil {
			b.RetryAfter = time.Until(when)
		}
	}

	if b.Remaining < 0 {
		// no header this round; keep whatever we already had, only refresh
		// the retry-after/reset fields when present.
		l.budgets.GetOrInsert(resourceClass, func() Budget { return Budget{Remaining: -1} })
		l.budgets.Update(resourceClass, func(prev Budget) Budget {
			if b.RetryAfter > 0 {
				prev.RetryAfter = b.RetryAfter
			}
			if !b.ResetAt.IsZero() {
				prev.ResetAt = b.ResetAt
			}
			prev.observedAt = b.observedAt
			return prev
		})
		return
	}
	l.budgets.Set(resourceClass, b)
}

// ObserveRetryAfter records an explicit Retry-After without a full header
// set, for transports that only surface the one header (e.g. a 429 with no
// X-RateLimit-* at all).
func (l *Limiter) ObserveRetryAfter(resourceClass string, d time.Duration) {
	l.budgets.GetOrInsert(resourceClass, func() Budget { return Budget{Remaining: -1} })
	l.budgets.Update(resourceClass, func(prev Budget) Budget {
		prev.RetryAfter = d
		prev.observedAt = l.now()
		return prev
	})
}

// Wait blocks until resourceClass's budget is no longer in backoff, up to
// MaxQueueWait, spreading concurrent callers out proportionally to how
// depleted the budget is rather than releasing them all the instant the
// window resets.
func (l *Limiter) Wait(ctx context.Context, resourceClass string) error {
	delay := l.delayFor(resourceClass)
	if delay <= 0 {
		return nil
	}
	if l.MaxQueueWait > 0 && delay > l.MaxQueueWait {
		delay = l.MaxQueueWait
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// delayFor computes how long a caller should wait before issuing a request
// against resourceClass, combining an explicit Retry-After with a
// proportional spread once Remaining drops under QueueThreshold.
func (l *Limiter) delayFor(resourceClass string) time.Duration {
	b, ok := l.budgets.Get(resourceClass)
	if !ok {
		return 0
	}

	now := l.now()
	if b.RetryAfter > 0 {
		deadline := b.observedAt.Add(b.RetryAfter)
		if d := deadline.Sub(now); d > 0 {
			return d
		}
	}

	if l.QueueThreshold <= 0 || b.Limit <= 0 || b.Remaining > l.QueueThreshold {
		return 0
	}
	if b.ResetAt.IsZero() {
		return 0
	}

	// Proportional spread: the closer to exhaustion, the larger the slice
	// of the remaining window each caller is asked to wait out. The window
	// runs one second past the reset instant, and the delay is capped at 5 s.
	window := b.ResetAt.Sub(now) + time.Second
	if window <= 0 {
		return 0
	}
	used := float64(l.QueueThreshold-b.Remaining) / float64(l.QueueThreshold)
	if used < 0 {
		used = 0
	}
	if used > 1 {
		used = 1
	}
	d := time.Duration(float64(window) * used)
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// Snapshot returns the last observed Budget for resourceClass, for
// diagnostics and metrics export.
func (l *Limiter) Snapshot(resourceClass string) (Budget, bool) {
	return l.budgets.Get(resourceClass)
}
