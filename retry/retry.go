// Package retry implements exponential backoff with jitter and per-failure-
// type policies, directly adapted from app/shared/retry_policy.go: the same
// RetryPolicy shape and CalculateDelay formula, here keyed by
// forgeerrors.Kind instead of shared.FailureType, and operating over
// generic operations instead of LLM provider calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"forgehand/forgeerrors"
)

// Policy defines how retries should be executed for operations that fail
// with a particular forgeerrors.Kind.
type Policy struct {
	Name              string
	MaxAttempts       int
	MaxTotalTime      time.Duration
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
	JitterEnabled     bool
	JitterFactor      float64
	RespectRetryAfter bool
}

// PolicyRateLimited backs off based on Retry-After, generously, mirroring
// PolicyRateLimit.
var PolicyRateLimited = Policy{
	Name:              "rate_limited",
	MaxAttempts:       5,
	MaxTotalTime:      5 * time.Minute,
	InitialDelay:      time.Second,
	MaxDelay:          60 * time.Second,
	Multiplier:        2.0,
	JitterEnabled:     true,
	JitterFactor:      0.2,
	RespectRetryAfter: true,
}

// PolicyServerError retries quickly since server errors are often
// transient, mirroring PolicyServerError.
var PolicyServerError = Policy{
	Name:         "server_error",
	MaxAttempts:  3,
	MaxTotalTime: 2 * time.Minute,
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
	Multiplier:   2.0,
	JitterEnabled: true,
	JitterFactor:  0.2,
}

// PolicyTimeout retries immediately, mirroring PolicyTimeout.
var PolicyTimeout = Policy{
	Name:         "timeout",
	MaxAttempts:  2,
	MaxTotalTime: time.Minute,
	InitialDelay: 0,
	Multiplier:   1.0,
}

// PolicyNetwork gives the network a brief moment to recover, mirroring
// PolicyConnectionError.
var PolicyNetwork = Policy{
	Name:          "network",
	MaxAttempts:   3,
	MaxTotalTime:  30 * time.Second,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	Multiplier:    2.0,
	JitterEnabled: true,
	JitterFactor:  0.1,
}

// DefaultPolicy is used for any other retryable kind.
var DefaultPolicy = Policy{
	Name:              "default",
	MaxAttempts:       3,
	MaxTotalTime:      2 * time.Minute,
	InitialDelay:      time.Second,
	MaxDelay:          30 * time.Second,
	Multiplier:        2.0,
	JitterEnabled:     true,
	JitterFactor:      0.2,
	RespectRetryAfter: true,
}

var policyByKind = map[forgeerrors.Kind]Policy{
	forgeerrors.KindRateLimited: PolicyRateLimited,
	forgeerrors.KindServerError: PolicyServerError,
	forgeerrors.KindTimeout:     PolicyTimeout,
	forgeerrors.KindNetwork:     PolicyNetwork,
}

// PolicyFor returns the configured policy for kind, or DefaultPolicy if
// kind has no dedicated policy. Non-retryable kinds still get a policy
// back; callers should check kind.Retryable() before consulting it.
func PolicyFor(kind forgeerrors.Kind) Policy {
	if p, ok := policyByKind[kind]; ok {
		return p
	}
	return DefaultPolicy
}

// CalculateDelay computes the delay before attempt (1-indexed: attempt 1 is
// the first retry), honoring retryAfterHint when the policy respects it,
// otherwise exponential backoff with jitter. Identical formula to
// RetryPolicy.CalculateDelay.
func (p Policy) CalculateDelay(attempt int, retryAfterHint time.Duration) time.Duration {
	if p.RespectRetryAfter && retryAfterHint > 0 {
		delay := retryAfterHint
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		if p.JitterEnabled {
			delay += time.Duration(float64(delay) * p.JitterFactor * rand.Float64())
		}
		return delay
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		delay = float64(p.MaxDelay)
	}
	if p.JitterEnabled && delay > 0 {
		jitterRange := delay * p.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitterRange
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}

// Attempt records one try within a Do() sequence, for dead-letter context
// and diagnostics.
type Attempt struct {
	Number    int
	Timestamp time.Time
	Delay     time.Duration
	Err       error
	Kind      forgeerrors.Kind
	WillRetry bool
}

// Result captures the outcome of a Do() sequence.
type Result struct {
	Success   bool
	FinalErr  error
	Attempts  []Attempt
	Duration  time.Duration
	PolicyUsed string
}

// RetryAfterHint lets an operation report a server-supplied Retry-After
// duration for the attempt that just failed.
type RetryAfterHint func(err error) time.Duration

// Do executes op, retrying according to the policy selected by the
// forgeerrors.Kind of each returned error, until success, a non-retryable
// error, or the policy's attempt/time budget is exhausted.
func Do(ctx context.Context, op func(ctx context.Context) error, hint RetryAfterHint) Result {
	start := time.Now()
	result := Result{Attempts: make([]Attempt, 0, 4)}

	attemptNum := 0
	for {
		attemptNum++
		err := op(ctx)
		if err == nil {
			result.Success = true
			result.Attempts = append(result.Attempts, Attempt{Number: attemptNum, Timestamp: time.Now()})
			result.Duration = time.Since(start)
			return result
		}

		kind, _ := forgeerrors.KindOf(err)
		retryable := kind.Retryable()
		policy := PolicyFor(kind)
		result.PolicyUsed = policy.Name

		willRetry := retryable &&
			attemptNum < policy.MaxAttempts &&
			(policy.MaxTotalTime == 0 || time.Since(start) < policy.MaxTotalTime)

		var delay time.Duration
		if willRetry {
			var retryAfter time.Duration
			if hint != nil {
				retryAfter = hint(err)
			}
			delay = policy.CalculateDelay(attemptNum, retryAfter)
		}

		result.Attempts = append(result.Attempts, Attempt{
			Number:    attemptNum,
			Timestamp: time.Now(),
			Delay:     delay,
			Err:       err,
			Kind:      kind,
			WillRetry: willRetry,
		})

		if !willRetry {
			result.FinalErr = err
			result.Duration = time.Since(start)
			return result
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.FinalErr = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-timer.C:
		}
	}
}
