package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"forgehand/forgeerrors"
)

func TestCalculateDelayExponential(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}
	d1 := p.CalculateDelay(1, 0)
	d2 := p.CalculateDelay(2, 0)
	if d1 != 100*time.Millisecond {
		t.Fatalf("expected first delay 100ms, got %v", d1)
	}
	if d2 != 200*time.Millisecond {
		t.Fatalf("expected second delay 200ms, got %v", d2)
	}
}

func TestCalculateDelayRespectsRetryAfter(t *testing.T) {
	p := Policy{RespectRetryAfter: true, MaxDelay: 10 * time.Second}
	d := p.CalculateDelay(1, 5*time.Second)
	if d < 5*time.Second || d > 6*time.Second {
		t.Fatalf("expected delay close to the retry-after hint, got %v", d)
	}
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	res := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, nil)
	if !res.Success || calls != 1 {
		t.Fatalf("expected single successful call, got success=%v calls=%d", res.Success, calls)
	}
}

func TestDoRetriesRetryableKind(t *testing.T) {
	calls := 0
	res := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return forgeerrors.New(forgeerrors.KindNetwork, "connection reset")
		}
		return nil
	}, nil)
	if !res.Success || calls != 3 {
		t.Fatalf("expected success after 3 calls, got success=%v calls=%d", res.Success, calls)
	}
}

func TestDoStopsOnNonRetryableKind(t *testing.T) {
	calls := 0
	res := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return forgeerrors.New(forgeerrors.KindValidation, "bad payload")
	}, nil)
	if res.Success || calls != 1 {
		t.Fatalf("expected single attempt for non-retryable error, got success=%v calls=%d", res.Success, calls)
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	res := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return forgeerrors.New(forgeerrors.KindTimeout, "timed out")
	}, nil)
	if res.Success {
		t.Fatalf("expected exhausted retries to fail")
	}
	if calls != PolicyTimeout.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", PolicyTimeout.MaxAttempts, calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	res := Do(ctx, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return forgeerrors.New(forgeerrors.KindNetwork, "boom")
	}, nil)
	if res.Success {
		t.Fatalf("expected cancellation to prevent success")
	}
	if !errors.Is(res.FinalErr, context.Canceled) {
		t.Fatalf("expected final error to be context.Canceled, got %v", res.FinalErr)
	}
}
