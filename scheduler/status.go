package scheduler

import "time"

// Status is a point-in-time read-only view of Pool-State (spec.md §3),
// safe to copy and hand to callers outside the control loop.
type Status struct {
	ActiveWorkers      int
	QueuedTasks        int
	CurrentWorkerLimit int
	MinWorkers         int
	MaxWorkers         int
	PeakConcurrency    int
	TotalProcessed     int64
	Completed          int64
	Failed             int64
	Degraded           bool
	AffectedServices   []string
	OverflowEvents     int
	HistoryEntries     int
}

// Status returns a snapshot of the pool's current state, assembled under
// lock the way the teacher's circuit_breaker.go builds its own Metrics
// snapshot by-hand rather than returning a live pointer.
func (p *Pool) Status() Status {
	p.mu.Lock()
	degraded := p.degraded
	services := append([]string(nil), p.affectedServices...)
	limit := p.currentWorkerLimit
	overflow := len(p.overflowLog)
	history := len(p.history)
	p.mu.Unlock()

	return Status{
		ActiveWorkers:      p.active.Len(),
		QueuedTasks:        p.queue.Len(),
		CurrentWorkerLimit: limit,
		MinWorkers:         p.cfg.MinWorkers,
		MaxWorkers:         p.cfg.MaxWorkers,
		PeakConcurrency:    int(p.peakConcurrency.Load()),
		TotalProcessed:     p.totalProcessed.Load(),
		Completed:          p.totalCompleted.Load(),
		Failed:             p.totalFailed.Load(),
		Degraded:           degraded,
		AffectedServices:   services,
		OverflowEvents:     overflow,
		HistoryEntries:     history,
	}
}

// History returns a copy of the retained execution history (only
// populated when EnableExecutionHistory is set).
func (p *Pool) History() []HistoryEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]HistoryEntry, len(p.history))
	copy(out, p.history)
	return out
}

// OverflowLog returns a copy of the retained overflow/rejection events.
func (p *Pool) OverflowLog() []OverflowEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OverflowEvent, len(p.overflowLog))
	copy(out, p.overflowLog)
	return out
}

// Uptime reports the time elapsed since the given start time; it reads no
// pool state.
func (p *Pool) Uptime(since time.Time) time.Duration {
	return time.Since(since)
}
