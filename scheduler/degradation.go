package scheduler

import (
	"context"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"forgehand/breaker"
)

// DegradationStatus is the pool-wide degraded-mode snapshot spec.md §3
// calls Pool-State.degradation-status.
type DegradationStatus struct {
	IsDegraded       bool
	AffectedServices []string
	Breakers         breaker.Metrics
	StartedAt        time.Time
	RecoveryActions  []string
}

// runDegradationMonitor aggregates circuit-breaker snapshots and recent
// error statistics every DegradationCheckInterval, entering degraded mode
// when any breaker is open or consecutive-failures reaches the
// configured threshold, per spec.md §4.I.
func (p *Pool) runDegradationMonitor(ctx context.Context) {
	defer p.monitorWG.Done()

	interval := p.cfg.DegradationCheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopMonitors:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkDegradation()
		}
	}
}

func (p *Pool) checkDegradation() {
	var anyOpen bool
	var affected []string
	var snapshot breaker.Metrics
	if p.breaker != nil {
		snapshot = p.breaker.Metrics()
		for name, rm := range snapshot.Resources {
			if rm.State == breaker.Open {
				anyOpen = true
				affected = append(affected, name)
			}
		}
	}

	fails := atomic.LoadInt32(&p.consecutiveFails)
	shouldDegrade := anyOpen || int(fails) >= p.cfg.FailureThreshold

	p.mu.Lock()
	wasDegraded := p.degraded
	if shouldDegrade && !wasDegraded {
		p.degraded = true
		p.degradedSince = time.Now()
		p.affectedServices = affected
	} else if !shouldDegrade && wasDegraded {
		p.degraded = false
		p.affectedServices = nil
	} else if shouldDegrade {
		p.affectedServices = affected
	}
	nowDegraded := p.degraded
	p.mu.Unlock()

	if nowDegraded != wasDegraded {
		if nowDegraded {
			log.Printf("[scheduler] entering degraded mode: open_circuits=%v consecutive_failures=%d", affected, fails)
		} else {
			log.Printf("[scheduler] exiting degraded mode")
		}
	}
}

// DegradationStatus returns the pool's current degradation snapshot.
func (p *Pool) DegradationStatus() DegradationStatus {
	p.mu.Lock()
	degraded := p.degraded
	since := p.degradedSince
	services := append([]string(nil), p.affectedServices...)
	p.mu.Unlock()

	var snapshot breaker.Metrics
	if p.breaker != nil {
		snapshot = p.breaker.Metrics()
	}

	actions := recoveryActions(degraded, services)
	return DegradationStatus{
		IsDegraded:       degraded,
		AffectedServices: services,
		Breakers:         snapshot,
		StartedAt:        since,
		RecoveryActions:  actions,
	}
}

func recoveryActions(degraded bool, services []string) []string {
	if !degraded {
		return nil
	}
	actions := []string{"reduce submission rate until breakers close"}
	if len(services) > 0 {
		actions = append(actions, "inspect upstream health for: "+joinStrings(services))
	}
	return actions
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// runMemoryMonitor calls maybeCleanupMemory every MemoryCheckInterval,
// which trims the overflow-event log and execution-history to their
// configured caps, never running two cleanups closer together than
// MemoryCleanupMinGap. No memory threshold is checked: the trim depends
// only on the caps.
func (p *Pool) runMemoryMonitor(ctx context.Context) {
	defer p.monitorWG.Done()

	interval := p.cfg.MemoryCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopMonitors:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.maybeCleanupMemory()
		}
	}
}

func (p *Pool) maybeCleanupMemory() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// The heap figure is only reported in the log line; whether a trim
	// happens depends solely on the history/overflow slices exceeding
	// their caps.
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastCleanup.IsZero() && time.Since(p.lastCleanup) < p.cfg.MemoryCleanupMinGap {
		return
	}

	trimmed := false
	if len(p.history) > p.cfg.HistoryCap {
		p.history = p.history[len(p.history)-p.cfg.HistoryCap:]
		trimmed = true
	}
	if len(p.overflowLog) > p.cfg.EventLogCap {
		p.overflowLog = p.overflowLog[len(p.overflowLog)-p.cfg.EventLogCap:]
		trimmed = true
	}
	if trimmed {
		p.lastCleanup = time.Now()
		log.Printf("[scheduler] memory cleanup: trimmed history/overflow logs to caps (heap_inuse=%d bytes)", m.HeapInuse)
	}
}
