package breaker

import (
	"testing"
	"time"

	"forgehand/forgeerrors"
)

func testConfig() Config {
	return Config{
		FailureThreshold:      3,
		SuccessThreshold:      2,
		OpenDuration:          20 * time.Millisecond,
		HalfOpenMaxRequests:   2,
		FailureWindowDuration: time.Minute,
		FailureWindowMax:      10,
		ExcludedKinds:         []forgeerrors.Kind{forgeerrors.KindValidation},
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure("acme/widgets", forgeerrors.KindServerError, "boom")
	}
	if !b.IsOpen("acme/widgets") {
		t.Fatalf("expected circuit to be open after threshold failures")
	}
}

func TestExcludedKindNeverOpensCircuit(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 10; i++ {
		b.RecordFailure("acme/widgets", forgeerrors.KindValidation, "bad input")
	}
	if b.IsOpen("acme/widgets") {
		t.Fatalf("excluded kind should never open the circuit")
	}
}

func TestHalfOpenThenClosed(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure("acme/widgets", forgeerrors.KindNetwork, "boom")
	}
	if !b.IsOpen("acme/widgets") {
		t.Fatalf("expected open circuit")
	}

	time.Sleep(30 * time.Millisecond)
	if b.IsOpen("acme/widgets") {
		t.Fatalf("expected circuit to allow a probe after OpenDuration elapses")
	}

	b.RecordSuccess("acme/widgets")
	b.RecordSuccess("acme/widgets")

	st := b.State("acme/widgets")
	if st.State != Closed {
		t.Fatalf("expected circuit to close after SuccessThreshold successes in half-open, got %s", st.State)
	}
}

func TestFailureDuringHalfOpenReopens(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure("acme/widgets", forgeerrors.KindNetwork, "boom")
	}
	time.Sleep(30 * time.Millisecond)
	b.IsOpen("acme/widgets") // no transition side effect expected from a read

	b.RecordFailure("acme/widgets", forgeerrors.KindNetwork, "still broken")
	st := b.State("acme/widgets")
	if st.State != Open {
		t.Fatalf("expected circuit to reopen on half-open failure, got %s", st.State)
	}
}

func TestResetForcesClosed(t *testing.T) {
	b := New(testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure("acme/widgets", forgeerrors.KindNetwork, "boom")
	}
	b.Reset("acme/widgets")
	if b.IsOpen("acme/widgets") {
		t.Fatalf("expected reset circuit to be closed")
	}
}

func TestMetricsAggregation(t *testing.T) {
	b := New(testConfig())
	b.RecordSuccess("acme/widgets")
	b.RecordFailure("acme/widgets", forgeerrors.KindTimeout, "slow")

	m := b.Metrics()
	if m.TotalResources != 1 {
		t.Fatalf("expected 1 tracked resource, got %d", m.TotalResources)
	}
	rm := m.Resources["acme/widgets"]
	if rm.TotalRequests != 2 || rm.TotalFailures != 1 || rm.TotalSuccesses != 1 {
		t.Fatalf("unexpected metrics: %+v", rm)
	}
}
