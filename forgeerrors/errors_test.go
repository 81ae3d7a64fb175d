package forgeerrors

import (
	"errors"
	"testing"
)

func TestKindRetryable(t *testing.T) {
	cases := map[Kind]bool{
		KindRateLimited:      true,
		KindServerError:      true,
		KindNetwork:          true,
		KindTimeout:          true,
		KindAuthFailed:       false,
		KindPermissionDenied: false,
		KindNotFound:         false,
		KindConflict:         false,
		KindCircuitOpen:      false,
		KindValidation:       false,
	}
	for kind, want := range cases {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestWrapPreservesKindAndChain(t *testing.T) {
	root := errors.New("connection reset")
	first := Wrap(root, KindNetwork, "branch.create", "/repos/x/y/git/refs", "x/y", "cid-1", "clone")

	if first.Kind != KindNetwork {
		t.Fatalf("expected KindNetwork, got %s", first.Kind)
	}
	if !errors.Is(first, root) {
		t.Fatalf("expected wrapped error to unwrap to root cause")
	}

	second := Wrap(first, KindServerError, "branch.create.retry", "", "x/y", "cid-1", "clone")
	if second.Kind != KindNetwork {
		t.Fatalf("re-wrap should preserve original kind, got %s", second.Kind)
	}
	if !errors.Is(second, root) {
		t.Fatalf("expected double-wrapped error to still unwrap to root cause")
	}
}

func TestKindOfAndIs(t *testing.T) {
	err := New(KindValidation, "bad payload")
	if !Is(err, KindValidation) {
		t.Fatalf("expected Is to match KindValidation")
	}
	if Is(err, KindTimeout) {
		t.Fatalf("did not expect Is to match KindTimeout")
	}

	plain := errors.New("boom")
	if _, ok := KindOf(plain); ok {
		t.Fatalf("expected KindOf to fail for a plain error")
	}
}
