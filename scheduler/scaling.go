package scheduler

import (
	"context"
	"log"
	"runtime"
	"time"
)

// resourceSample is a point-in-time CPU/memory reading, grounded on
// app/shared/debug_mode.go's runtime.MemStats + runtime.NumCPU/NumGoroutine
// sampling (also used by app/server/handlers/doctor.go) — stdlib-only,
// since no example repo imports a host-metrics library (gopsutil appears
// only as an indirect transitive dependency in unrelated manifests, never
// a direct import anywhere in the pack) for this kind of process-local
// sampling.
type resourceSample struct {
	cpuFraction float64 // approximated from goroutine pressure, see sampleResources
	memFraction float64
}

// sampleResources approximates CPU load as active-worker saturation against
// GOMAXPROCS (the process has no portable stdlib CPU-percent API) and
// memory pressure as heap-in-use against a soft ceiling derived from
// runtime.MemStats.Sys. Both are intentionally coarse: the scaling monitor
// only needs high/low bucketing, not precise utilization.
func sampleResources(activeWorkers int) resourceSample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	procs := runtime.GOMAXPROCS(0)
	cpuFraction := 0.0
	if procs > 0 {
		cpuFraction = float64(activeWorkers) / float64(procs)
	}
	if cpuFraction > 1 {
		cpuFraction = 1
	}

	memFraction := 0.0
	if m.Sys > 0 {
		memFraction = float64(m.HeapInuse) / float64(m.Sys)
	}

	return resourceSample{cpuFraction: cpuFraction, memFraction: memFraction}
}

// startMonitors launches the dynamic-scaling, degradation, and memory
// monitors as independent goroutines, each a tick-channel/stop-channel
// select loop per app/cli/progress/tracker.go's Start() pattern — never an
// opaque timer.Sleep loop, never racing N futures.
func (p *Pool) startMonitors(ctx context.Context) {
	if p.cfg.EnableDynamicScaling {
		p.monitorWG.Add(1)
		go p.runScalingMonitor(ctx)
	}
	if p.cfg.EnableGracefulDegradation {
		p.monitorWG.Add(1)
		go p.runDegradationMonitor(ctx)
	}
	p.monitorWG.Add(1)
	go p.runMemoryMonitor(ctx)
}

// runScalingMonitor recomputes currentWorkerLimit every
// ScaleCheckInterval, per spec.md §4.I's dynamic-scaling rule: high
// pressure shrinks to MinWorkers, low pressure grows toward
// min(core-count, MaxWorkers), otherwise linear interpolation on the
// tighter factor.
func (p *Pool) runScalingMonitor(ctx context.Context) {
	defer p.monitorWG.Done()

	interval := p.cfg.ScaleCheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
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
			p.rescale()
		}
	}
}

func (p *Pool) rescale() {
	sample := sampleResources(p.active.Len())
	target := p.computeTarget(sample)

	p.mu.Lock()
	prev := p.currentWorkerLimit
	p.currentWorkerLimit = target
	p.mu.Unlock()

	if target != prev {
		log.Printf("[scheduler] rescale: %d -> %d (cpu=%.2f mem=%.2f)", prev, target, sample.cpuFraction, sample.memFraction)
	}
}

func (p *Pool) computeTarget(sample resourceSample) int {
	cfg := p.cfg
	core := runtime.NumCPU()
	grownCeiling := core
	if grownCeiling > cfg.MaxWorkers {
		grownCeiling = cfg.MaxWorkers
	}

	switch {
	case sample.cpuFraction >= cfg.CPUHigh || sample.memFraction >= cfg.MemHigh:
		return cfg.MinWorkers
	case sample.cpuFraction <= cfg.CPULow && sample.memFraction <= cfg.MemLow:
		return grownCeiling
	default:
		// Interpolate linearly on whichever factor is closer to its high
		// threshold (the "tighter" one), per spec.md §4.I.
		cpuTightness := normalize(sample.cpuFraction, cfg.CPULow, cfg.CPUHigh)
		memTightness := normalize(sample.memFraction, cfg.MemLow, cfg.MemHigh)
		tightness := cpuTightness
		if memTightness > tightness {
			tightness = memTightness
		}
		span := float64(grownCeiling - cfg.MinWorkers)
		target := grownCeiling - int(tightness*span)
		if target < cfg.MinWorkers {
			target = cfg.MinWorkers
		}
		if target > grownCeiling {
			target = grownCeiling
		}
		return target
	}
}

// normalize maps v from [low, high] onto [0, 1], clamped.
func normalize(v, low, high float64) float64 {
	if high <= low {
		return 0
	}
	f := (v - low) / (high - low)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
