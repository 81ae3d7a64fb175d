// Package metrics implements component J: the counters, gauges, and
// timing aggregates the pool maintains per spec.md §4.J. Instruments are
// OpenTelemetry metric.Meter instruments (counters/gauges), grounded on
// jonwraymond-toolops's observe.Observer/Meter() wiring and
// exporters/factory.go's NewMetricsReader selection between stdout and
// Prometheus readers — the same two exporters named in
// config.MetricsConfig.Exporter.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Exporter selects where aggregated metrics are pushed/scraped.
type Exporter string

const (
	ExporterStdout     Exporter = "stdout"
	ExporterPrometheus Exporter = "prometheus"
	ExporterBoth       Exporter = "both"
)

// Recorder is component J: it satisfies scheduler.MetricsSink and also
// exposes the richer read side (avg duration, tasks/minute, success
// rate, utilization, uptime, per-API counters) spec.md §4.J names.
type Recorder struct {
	startedAt time.Time

	mu sync.Mutex

	activeWorkers int64
	queuedTasks   int64

	completed int64
	failed    int64

	totalDuration time.Duration
	taskCount     int64

	peakConcurrency int64
	peakMemoryBytes uint64

	drops map[string]int64

	apis map[string]*apiCounters

	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	activeGauge  metric.Int64ObservableGauge
	queuedGauge  metric.Int64ObservableGauge
	completedCt  metric.Int64Counter
	failedCt     metric.Int64Counter
	durationHist metric.Float64Histogram
}

// apiCounters is per-upstream-API bookkeeping for §4.J's
// "per-API: request-count, failure-count, rate-limited-count,
// retried-count, avg-response-time-ms".
type apiCounters struct {
	requests     int64
	failures     int64
	rateLimited  int64
	retried      int64
	totalLatency time.Duration
}

// APISnapshot is a read-only copy of one API's counters.
type APISnapshot struct {
	Requests          int64
	Failures          int64
	RateLimited       int64
	Retried           int64
	AvgResponseTimeMs float64
}

// Snapshot is the full metrics read spec.md §4.J describes.
type Snapshot struct {
	ActiveWorkers      int64
	QueuedTasks        int64
	Completed          int64
	Failed             int64
	TotalProcessed     int64
	PeakConcurrency    int64
	PeakMemoryBytes    uint64
	AvgTaskDurationMs  float64
	TasksPerMinute     float64
	SuccessRatePercent float64
	UtilizationPercent float64
	UptimeMs           int64
	APIs               map[string]APISnapshot
}

// New builds a Recorder wired to the given exporter. UtilizationPercent is
// not computed by the Recorder and always reads 0.
func New(exp Exporter) (*Recorder, error) {
	r := &Recorder{
		startedAt: time.Now(),
		drops:     make(map[string]int64),
		apis:      make(map[string]*apiCounters),
	}

	readers, err := readersFor(exp)
	if err != nil {
		return nil, err
	}

	opts := make([]sdkmetric.Option, 0, len(readers))
	for _, rd := range readers {
		opts = append(opts, sdkmetric.WithReader(rd))
	}
	r.provider = sdkmetric.NewMeterProvider(opts...)
	r.meter = r.provider.Meter("forgehand/scheduler")

	if err := r.registerInstruments(); err != nil {
		return nil, err
	}
	return r, nil
}

func readersFor(exp Exporter) ([]sdkmetric.Reader, error) {
	switch exp {
	case ExporterPrometheus:
		rd, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("metrics: prometheus reader: %w", err)
		}
		return []sdkmetric.Reader{rd}, nil
	case ExporterBoth:
		stdoutExp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("metrics: stdout exporter: %w", err)
		}
		promRd, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("metrics: prometheus reader: %w", err)
		}
		return []sdkmetric.Reader{sdkmetric.NewPeriodicReader(stdoutExp), promRd}, nil
	default: // ExporterStdout and unrecognized values fall back to stdout
		stdoutExp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("metrics: stdout exporter: %w", err)
		}
		return []sdkmetric.Reader{sdkmetric.NewPeriodicReader(stdoutExp)}, nil
	}
}

func (r *Recorder) registerInstruments() error {
	var err error
	r.activeGauge, err = r.meter.Int64ObservableGauge("forgehand.pool.active_workers")
	if err != nil {
		return err
	}
	r.queuedGauge, err = r.meter.Int64ObservableGauge("forgehand.pool.queued_tasks")
	if err != nil {
		return err
	}
	r.completedCt, err = r.meter.Int64Counter("forgehand.pool.completed_total")
	if err != nil {
		return err
	}
	r.failedCt, err = r.meter.Int64Counter("forgehand.pool.failed_total")
	if err != nil {
		return err
	}
	r.durationHist, err = r.meter.Float64Histogram("forgehand.pool.task_duration_ms")
	if err != nil {
		return err
	}

	_, err = r.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(r.activeGauge, atomic.LoadInt64(&r.activeWorkers))
		o.ObserveInt64(r.queuedGauge, atomic.LoadInt64(&r.queuedTasks))
		return nil
	}, r.activeGauge, r.queuedGauge)
	return err
}

// RecordCompletion implements scheduler.MetricsSink.
func (r *Recorder) RecordCompletion(success bool, duration time.Duration) {
	ctx := context.Background()
	if success {
		atomic.AddInt64(&r.completed, 1)
		r.completedCt.Add(ctx, 1)
	} else {
		atomic.AddInt64(&r.failed, 1)
		r.failedCt.Add(ctx, 1)
	}
	r.durationHist.Record(ctx, float64(duration.Milliseconds()))

	r.mu.Lock()
	r.totalDuration += duration
	r.taskCount++
	r.mu.Unlock()
}

// RecordDrop implements scheduler.MetricsSink: one queue rejection/eviction.
func (r *Recorder) RecordDrop(reason string) {
	r.mu.Lock()
	r.drops[reason]++
	r.mu.Unlock()
}

// SetGauges implements scheduler.MetricsSink.
func (r *Recorder) SetGauges(activeWorkers, queued int) {
	atomic.StoreInt64(&r.activeWorkers, int64(activeWorkers))
	atomic.StoreInt64(&r.queuedTasks, int64(queued))
	if c := atomic.LoadInt64(&r.peakConcurrency); int64(activeWorkers) > c {
		atomic.StoreInt64(&r.peakConcurrency, int64(activeWorkers))
	}
}

// RecordAPICall records one upstream call's outcome against resource
// (e.g. a service name), for §4.J's per-API counters.
func (r *Recorder) RecordAPICall(resource string, failed, rateLimited, retried bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.apis[resource]
	if !ok {
		c = &apiCounters{}
		r.apis[resource] = c
	}
	c.requests++
	if failed {
		c.failures++
	}
	if rateLimited {
		c.rateLimited++
	}
	if retried {
		c.retried++
	}
	c.totalLatency += latency
}

// ObservePeakMemory records the largest resident memory sample seen.
func (r *Recorder) ObservePeakMemory(bytes uint64) {
	r.mu.Lock()
	if bytes > r.peakMemoryBytes {
		r.peakMemoryBytes = bytes
	}
	r.mu.Unlock()
}

// Snapshot assembles the read-side view spec.md §4.J names.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	completed := atomic.LoadInt64(&r.completed)
	failed := atomic.LoadInt64(&r.failed)
	total := completed + failed

	var avgMs, successRate float64
	if r.taskCount > 0 {
		avgMs = float64(r.totalDuration.Milliseconds()) / float64(r.taskCount)
	}
	if total > 0 {
		successRate = 100 * float64(completed) / float64(total)
	}

	uptime := time.Since(r.startedAt)
	var tasksPerMinute float64
	if uptime > 0 {
		tasksPerMinute = float64(total) / uptime.Minutes()
	}

	apis := make(map[string]APISnapshot, len(r.apis))
	for name, c := range r.apis {
		var avgLatency float64
		if c.requests > 0 {
			avgLatency = float64(c.totalLatency.Milliseconds()) / float64(c.requests)
		}
		apis[name] = APISnapshot{
			Requests:          c.requests,
			Failures:          c.failures,
			RateLimited:       c.rateLimited,
			Retried:           c.retried,
			AvgResponseTimeMs: avgLatency,
		}
	}

	return Snapshot{
		ActiveWorkers:      atomic.LoadInt64(&r.activeWorkers),
		QueuedTasks:        atomic.LoadInt64(&r.queuedTasks),
		Completed:          completed,
		Failed:             failed,
		TotalProcessed:     total,
		PeakConcurrency:    atomic.LoadInt64(&r.peakConcurrency),
		PeakMemoryBytes:    r.peakMemoryBytes,
		AvgTaskDurationMs:  avgMs,
		TasksPerMinute:     tasksPerMinute,
		SuccessRatePercent: successRate,
		UptimeMs:           uptime.Milliseconds(),
		APIs:               apis,
	}
}

// Shutdown flushes and releases the underlying meter provider.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r.provider == nil {
		return nil
	}
	return r.provider.Shutdown(ctx)
}
