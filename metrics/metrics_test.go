package metrics

import (
	"context"
	"testing"
	"time"
)

func TestRecordCompletionTracksSuccessRateAndAvgDuration(t *testing.T) {
	r, err := New(ExporterStdout)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown(context.Background())

	r.RecordCompletion(true, 100*time.Millisecond)
	r.RecordCompletion(true, 300*time.Millisecond)
	r.RecordCompletion(false, 200*time.Millisecond)

	snap := r.Snapshot()
	if snap.Completed != 2 || snap.Failed != 1 {
		t.Fatalf("expected 2 completed / 1 failed, got %+v", snap)
	}
	if snap.TotalProcessed != 3 {
		t.Fatalf("expected total processed 3, got %d", snap.TotalProcessed)
	}
	wantAvg := float64(200) // (100+300+200)/3
	if diff := snap.AvgTaskDurationMs - wantAvg; diff > 1 || diff < -1 {
		t.Fatalf("avg duration = %.2fms, want ~%.2fms", snap.AvgTaskDurationMs, wantAvg)
	}
	wantRate := 100.0 * 2 / 3
	if diff := snap.SuccessRatePercent - wantRate; diff > 0.01 || diff < -0.01 {
		t.Fatalf("success rate = %.2f, want %.2f", snap.SuccessRatePercent, wantRate)
	}
}

func TestSetGaugesTracksPeakConcurrency(t *testing.T) {
	r, err := New(ExporterStdout)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown(context.Background())

	r.SetGauges(2, 10)
	r.SetGauges(5, 3)
	r.SetGauges(1, 0)

	snap := r.Snapshot()
	if snap.ActiveWorkers != 1 {
		t.Fatalf("expected latest active_workers=1, got %d", snap.ActiveWorkers)
	}
	if snap.PeakConcurrency != 5 {
		t.Fatalf("expected peak concurrency 5, got %d", snap.PeakConcurrency)
	}
}

func TestRecordAPICallAggregatesPerResource(t *testing.T) {
	r, err := New(ExporterStdout)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown(context.Background())

	r.RecordAPICall("branches", false, false, false, 50*time.Millisecond)
	r.RecordAPICall("branches", true, true, true, 150*time.Millisecond)

	snap := r.Snapshot()
	got, ok := snap.APIs["branches"]
	if !ok {
		t.Fatalf("expected an entry for resource 'branches'")
	}
	if got.Requests != 2 || got.Failures != 1 || got.RateLimited != 1 || got.Retried != 1 {
		t.Fatalf("unexpected API counters: %+v", got)
	}
	if got.AvgResponseTimeMs != 100 {
		t.Fatalf("expected avg latency 100ms, got %.2f", got.AvgResponseTimeMs)
	}
}
