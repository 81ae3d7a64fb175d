// Package scheduler implements the worker pool: a single-threaded control
// loop (component I) that orchestrates queue.Queue and worker.Worker,
// dynamically scales capacity, tracks graceful degradation, and persists
// state across restarts. Its event-driven completion loop is grounded on
// app/cli/progress/tracker.go's Start() select loop (tick channel, update
// channel, done channel — never opaque timers, never Promise.race-style
// polling of N futures); active-worker bookkeeping reuses
// internal/safemap.Map the way app/server/types/safe_map.go is reused
// across the teacher's own concurrent trackers. Concurrency across worker
// goroutines is bounded with golang.org/x/sync/errgroup's SetLimit, grounded
// on jonwraymond-toolops's direct dependency on the same package.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"forgehand/breaker"
	"forgehand/deadletter"
	"forgehand/forgeerrors"
	"forgehand/internal/safemap"
	"forgehand/queue"
	"forgehand/worker"
)

// Config configures a Pool's capacity and optional behaviors, mirroring
// spec.md §6's Pool/Scaling surface.
type Config struct {
	MinWorkers int
	MaxWorkers int
	WorkDir    string

	EnableDynamicScaling      bool
	EnableGracefulDegradation bool
	EnableExecutionHistory    bool

	ScaleCheckInterval time.Duration
	CPUHigh, CPULow    float64
	MemHigh, MemLow    float64

	DegradationCheckInterval time.Duration
	MemoryCheckInterval      time.Duration
	MemoryCleanupMinGap      time.Duration

	FailureThreshold int

	ShutdownTimeout time.Duration

	HistoryCap  int
	EventLogCap int

	// OnTaskComplete, if set, is invoked synchronously on the control
	// goroutine after every terminal completion (success or failure) has
	// updated breaker/dead-letter/metrics state. Used by forgehand-worker
	// to report the outcome back to the upstream code-forge (PR creation,
	// status checks) without the pool importing the upstream package.
	OnTaskComplete func(CompletionEvent)
}

// DefaultConfig matches the defaults named across spec.md §4.I and §6.
var DefaultConfig = Config{
	MinWorkers:                1,
	MaxWorkers:                4,
	EnableDynamicScaling:      false,
	EnableGracefulDegradation: false,
	EnableExecutionHistory:    false,
	ScaleCheckInterval:        10 * time.Second,
	CPUHigh:                   0.80,
	CPULow:                    0.40,
	MemHigh:                   0.85,
	MemLow:                    0.50,
	DegradationCheckInterval:  5 * time.Second,
	MemoryCheckInterval:       30 * time.Second,
	MemoryCleanupMinGap:       10 * time.Second,
	FailureThreshold:          5,
	ShutdownTimeout:           30 * time.Second,
	HistoryCap:                500,
	EventLogCap:               500,
}

// CompletionEvent is what one worker publishes to the pool's single
// completion channel on exit, per spec.md §4.I: "each worker signals
// {task-id, worker-id, success, duration, group-id, result} through a
// single completion channel/queue." Workers never call back into the
// pool directly — see DESIGN.md's note on breaking the cyclic
// pool<->worker reference from the source.
type CompletionEvent struct {
	TaskID   string
	WorkerID string
	GroupID  string
	Success  bool
	Duration time.Duration
	Result   *worker.Result
	Task     *queue.Task
}

// HistoryEntry records one task's terminal outcome, kept only when
// EnableExecutionHistory is set.
type HistoryEntry struct {
	TaskID    string
	Success   bool
	Dropped   bool
	Error     string
	Timestamp time.Time
}

// OverflowEvent records one rejected/evicted submission.
type OverflowEvent struct {
	TaskID    string
	Reason    string
	Timestamp time.Time
}

// Pool is the worker pool / scheduler. Its state — active workers, queue,
// current worker limit, degradation status — is mutated by the control
// loop in ExecuteTasks and by its monitors; callers observe it through
// Status, History and OverflowLog, which copy under lock.
type Pool struct {
	cfg Config

	queue      *queue.Queue
	queueStore *queue.FileStore
	workerCfg  worker.Config
	breaker    *breaker.Breaker
	deadLetter *deadletter.Queue
	metrics    MetricsSink

	mu                 sync.Mutex
	currentWorkerLimit int
	active             *safemap.Map[activeHandle]
	degraded           bool
	degradedSince      time.Time
	affectedServices   []string
	consecutiveFails   int32

	history     []HistoryEntry
	overflowLog []OverflowEvent
	lastCleanup time.Time

	completions chan CompletionEvent
	submitMu    sync.Mutex

	shuttingDown atomic.Bool
	stopMonitors chan struct{}
	monitorsOnce sync.Once
	monitorWG    sync.WaitGroup

	totalProcessed  atomic.Int64
	totalCompleted  atomic.Int64
	totalFailed     atomic.Int64
	peakConcurrency atomic.Int32
}

type activeHandle struct {
	task      *queue.Task
	startedAt time.Time
	cancel    context.CancelFunc
}

// MetricsSink receives pool lifecycle events to feed component J. Any
// method may be nil-safe: Pool checks before calling.
type MetricsSink interface {
	RecordCompletion(success bool, duration time.Duration)
	RecordDrop(reason string)
	SetGauges(activeWorkers, queued int)
}

// New constructs a Pool. A nil deadLetter or breaker disables their
// respective integrations (tasks are never captured, circuits are never
// consulted for degradation).
func New(cfg Config, q *queue.Queue, queueStore *queue.FileStore, workerCfg worker.Config, br *breaker.Breaker, dl *deadletter.Queue, sink MetricsSink) *Pool {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	return &Pool{
		cfg:                cfg,
		queue:              q,
		queueStore:         queueStore,
		workerCfg:          workerCfg,
		breaker:            br,
		deadLetter:         dl,
		metrics:            sink,
		currentWorkerLimit: cfg.MaxWorkers,
		active:             safemap.New[activeHandle](),
		completions:        make(chan CompletionEvent, cfg.MaxWorkers*2+8),
		stopMonitors:       make(chan struct{}),
		lastCleanup:        time.Time{},
	}
}

// Submit admits tasks to the queue under its overflow policy, recording
// every rejected task and every task evicted by drop-lowest in the overflow
// log. It never blocks on execution — ExecuteTasks's control loop drains
// the queue (and loads any persisted prefix before its first Submit).
func (p *Pool) Submit(tasks []*queue.Task) (accepted, rejected int) {
	if p.shuttingDown.Load() {
		return 0, len(tasks)
	}
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	for _, t := range tasks {
		var before []*queue.Task
		if p.queue.Len() >= p.queue.Config().MaxSize {
			before = p.queue.Snapshot()
		}
		if err := p.queue.Submit(t); err != nil {
			rejected++
			p.recordOverflow(t.ID, err.Error())
			continue
		}
		accepted++
		if before != nil {
			present := make(map[string]bool)
			for _, qt := range p.queue.Snapshot() {
				present[qt.ID] = true
			}
			for _, bt := range before {
				if !present[bt.ID] {
					p.recordOverflow(bt.ID, "evicted by drop-lowest")
				}
			}
		}
	}
	return accepted, rejected
}

func (p *Pool) recordOverflow(taskID, reason string) {
	p.mu.Lock()
	p.overflowLog = append(p.overflowLog, OverflowEvent{TaskID: taskID, Reason: reason, Timestamp: time.Now()})
	if len(p.overflowLog) > p.cfg.EventLogCap {
		p.overflowLog = p.overflowLog[len(p.overflowLog)-p.cfg.EventLogCap:]
	}
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.RecordDrop(reason)
	}
	log.Printf("[scheduler] rejected task=%s reason=%s", taskID, reason)
}

// CanAcceptTasks reports whether the pool is willing to admit more work
// right now, per spec.md §4.I: while degraded, admission continues but
// only under 90% queue utilization.
func (p *Pool) CanAcceptTasks() bool {
	if p.shuttingDown.Load() {
		return false
	}
	if p.queue.Paused() {
		return false
	}
	p.mu.Lock()
	degraded := p.degraded
	p.mu.Unlock()
	if !degraded {
		return true
	}
	util := p.queueUtilization()
	return util < 0.90
}

func (p *Pool) queueUtilization() float64 {
	max := p.queue.Config().MaxSize
	if max <= 0 {
		return 0
	}
	return float64(p.queue.Len()) / float64(max)
}

// ExecuteTasks runs the scheduling loop described in spec.md §4.I:
//
//	while (queue nonempty or active nonempty) and not shutting-down:
//	  while |active| < current-worker-limit and queue nonempty:
//	    task = select-next(preferred-group-id?)
//	    start-worker(task)
//	  event = await next worker completion
//	  on-complete(event)
//
// It blocks until the queue and all active workers drain, or until ctx is
// cancelled. Dynamic scaling, degradation, and memory monitors (if
// enabled) run concurrently and are stopped when ExecuteTasks returns.
func (p *Pool) ExecuteTasks(ctx context.Context, tasks []*queue.Task) ([]*HistoryEntry, error) {
	if n, err := p.queue.LoadPersisted(p.queueStore); err == nil && n > 0 {
		log.Printf("[scheduler] loaded %d persisted tasks ahead of new submissions", n)
	}
	p.Submit(tasks)

	p.startMonitors(ctx)
	defer p.stopAllMonitors()

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.MaxWorkers)

	var preferredGroup string
	seq := 0

	for {
		if p.shuttingDown.Load() {
			break
		}
		if p.queue.Len() == 0 && p.active.Len() == 0 {
			break
		}

		for p.active.Len() < p.currentLimit() && p.queue.Len() > 0 {
			t := p.queue.PopAffinity(preferredGroup)
			if t == nil {
				break
			}
			preferredGroup = ""
			seq++
			p.startWorker(gctx, group, t, fmt.Sprintf("w%d", seq%p.cfg.MaxWorkers))
		}

		if p.queue.Len() == 0 && p.active.Len() == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return p.Shutdown(p.cfg.ShutdownTimeout)
		case ev := <-p.completions:
			preferredGroup = p.onComplete(ev)
		}
	}

	_ = group.Wait()
	p.mu.Lock()
	out := make([]*HistoryEntry, len(p.history))
	for i := range p.history {
		e := p.history[i]
		out[i] = &e
	}
	p.mu.Unlock()
	return out, nil
}

func (p *Pool) currentLimit() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentWorkerLimit
}

func (p *Pool) startWorker(ctx context.Context, group *errgroup.Group, t *queue.Task, workerID string) {
	runCtx, cancel := context.WithCancel(ctx)
	p.active.Set(t.ID, activeHandle{task: t, startedAt: time.Now(), cancel: cancel})
	if n := int32(p.active.Len()); n > p.peakConcurrency.Load() {
		p.peakConcurrency.Store(n)
	}

	group.Go(func() error {
		defer cancel()
		w := worker.New(workerID, p.workerCfg)
		start := time.Now()
		result := w.Run(runCtx, t)

		ev := CompletionEvent{
			TaskID:   t.ID,
			WorkerID: workerID,
			GroupID:  t.GroupID,
			Success:  result.Success,
			Duration: time.Since(start),
			Result:   result,
			Task:     t,
		}
		select {
		case p.completions <- ev:
		case <-ctx.Done():
		}
		return nil
	})
}

// onComplete updates metrics, circuit state, dead-letter capture and
// history for one finished task, and returns the group-id the scheduler
// should prefer for its next dequeue — spec.md §4.I's affinity rule.
func (p *Pool) onComplete(ev CompletionEvent) string {
	p.active.Delete(ev.TaskID)
	p.totalProcessed.Add(1)

	if ev.Success {
		p.totalCompleted.Add(1)
		atomic.StoreInt32(&p.consecutiveFails, 0)
		if p.breaker != nil {
			p.breaker.RecordSuccess(repositoryOf(ev.Task))
		}
	} else {
		p.totalFailed.Add(1)
		atomic.AddInt32(&p.consecutiveFails, 1)
		kind := forgeerrors.KindServerError
		if k, ok := forgeerrors.KindOf(ev.Result.Error); ok {
			kind = k
		}
		if p.breaker != nil {
			p.breaker.RecordFailure(repositoryOf(ev.Task), kind, ev.Result.Error.Error())
		}
		if !p.retryTask(ev) {
			p.maybeDeadLetter(ev, kind)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordCompletion(ev.Success, ev.Duration)
		p.metrics.SetGauges(p.active.Len(), p.queue.Len())
	}

	if p.cfg.EnableExecutionHistory {
		p.appendHistory(HistoryEntry{
			TaskID:    ev.TaskID,
			Success:   ev.Success,
			Timestamp: time.Now(),
			Error:     errString(ev.Result.Error),
		})
	}

	if p.cfg.OnTaskComplete != nil {
		p.cfg.OnTaskComplete(ev)
	}

	return ev.GroupID
}

// retryTask requeues ev.Task for another attempt if it has retries left,
// incrementing RetryCount so queue.Duration's progressive-timeout term
// (worker.go's w.Run) sees the new count and onComplete's next failure for
// this task-id knows retries are exhausted. The task-id and branch name
// are unchanged (spec.md §4.H: "branch-name never changes across retries
// of the same task"); only the workspace is recreated, which worker.Run
// already does on every attempt. Requeued via Prepend, not Submit, so a
// retry is never dropped by the overflow policy the way a brand-new
// submission can be. Reports true if the task was requeued.
func (p *Pool) retryTask(ev CompletionEvent) bool {
	if ev.Task == nil || ev.Task.RetryCount >= ev.Task.MaxRetries {
		return false
	}
	ev.Task.RetryCount++
	p.queue.Prepend([]*queue.Task{ev.Task})
	log.Printf("[scheduler] retrying task=%s retry=%d/%d", ev.Task.ID, ev.Task.RetryCount, ev.Task.MaxRetries)
	return true
}

// maybeDeadLetter captures ev.Task once onComplete has already determined
// (via retryTask) that it has no retries left.
func (p *Pool) maybeDeadLetter(ev CompletionEvent, kind forgeerrors.Kind) {
	if p.deadLetter == nil || ev.Task == nil {
		return
	}
	payload, _ := json.Marshal(ev.Task.Payload)
	_, err := p.deadLetter.Add(ev.Task.ID, "worker.run", repositoryOf(ev.Task), payload, kind, errString(ev.Result.Error), ev.Task.RetryCount+1, nil)
	if err != nil {
		log.Printf("[scheduler] dead-letter capture failed for task=%s: %v", ev.Task.ID, err)
	}
}

func (p *Pool) appendHistory(e HistoryEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, e)
	if len(p.history) > p.cfg.HistoryCap {
		p.history = p.history[len(p.history)-p.cfg.HistoryCap:]
	}
}

// Shutdown stops the monitors, refuses new submissions, waits up to
// timeout for active workers, persists the remaining queue, and marks
// every still-queued task dropped in history, per spec.md §4.I's
// graceful-shutdown contract.
func (p *Pool) Shutdown(timeout time.Duration) ([]*HistoryEntry, error) {
	p.shuttingDown.Store(true)
	p.stopAllMonitors()

	deadline := time.Now().Add(timeout)
	for p.active.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	remaining := p.queue.Snapshot()
	for _, t := range remaining {
		p.queue.Pop()
		p.appendHistory(HistoryEntry{TaskID: t.ID, Success: false, Dropped: true, Timestamp: time.Now()})
	}
	if len(remaining) > 0 && p.queueStore != nil {
		if err := p.queueStore.Save(remaining); err != nil {
			return nil, fmt.Errorf("scheduler: persist remaining queue: %w", err)
		}
	}

	p.mu.Lock()
	out := make([]*HistoryEntry, len(p.history))
	for i := range p.history {
		e := p.history[i]
		out[i] = &e
	}
	p.mu.Unlock()
	return out, nil
}

func (p *Pool) stopAllMonitors() {
	p.monitorsOnce.Do(func() {
		close(p.stopMonitors)
	})
	p.monitorWG.Wait()
}

func repositoryOf(t *queue.Task) string {
	if t == nil {
		return ""
	}
	return t.Payload.Repository
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
