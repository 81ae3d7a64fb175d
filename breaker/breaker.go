// Package breaker implements a three-state circuit breaker per upstream
// resource (repository or endpoint class), directly adapted from
// app/server/model/circuit_breaker.go's CircuitBreaker/ProviderCircuit:
// the same closed/open/half-open state machine, consecutive-failure and
// sliding-failure-window thresholds, and excluded-failure-type list, here
// keyed by resource name and forgeerrors.Kind instead of provider name and
// shared.FailureType.
package breaker

import (
	"log"
	"sync"
	"time"

	"forgehand/forgeerrors"
)

// State represents a circuit's position in the closed/open/half-open cycle.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Failure records a single tripped request for sliding-window analysis.
type Failure struct {
	Timestamp time.Time
	Kind      forgeerrors.Kind
	Message   string
}

// Circuit tracks one resource's breaker state.
type Circuit struct {
	Resource string
	State    State

	ConsecutiveFailures int
	TotalFailures       int
	TotalRequests       int
	TotalSuccesses      int

	LastFailure *time.Time
	LastSuccess *time.Time
	OpenedAt    *time.Time
	ClosedAt    *time.Time

	HalfOpenRequests  int
	HalfOpenSuccesses int

	RecentFailures []Failure
}

// Config configures breaker behavior, mirroring CircuitBreakerConfig.
type Config struct {
	FailureThreshold      int
	SuccessThreshold      int
	OpenDuration          time.Duration
	HalfOpenMaxRequests   int
	FailureWindowDuration time.Duration
	FailureWindowMax      int
	ExcludedKinds         []forgeerrors.Kind
}

// DefaultConfig mirrors DefaultCircuitBreakerConfig, with
// forgeerrors.KindValidation/KindAuthFailed/KindPermissionDenied/KindNotFound
// excluded the way context_too_long/invalid_request/auth_invalid/
// permission_denied are excluded upstream: they're caller errors, not
// upstream instability.
var DefaultConfig = Config{
	FailureThreshold:      5,
	SuccessThreshold:      3,
	OpenDuration:          30 * time.Second,
	HalfOpenMaxRequests:   3,
	FailureWindowDuration: 60 * time.Second,
	FailureWindowMax:      10,
	ExcludedKinds: []forgeerrors.Kind{
		forgeerrors.KindValidation,
		forgeerrors.KindAuthFailed,
		forgeerrors.KindPermissionDenied,
		forgeerrors.KindNotFound,
	},
}

// Breaker tracks a Circuit per resource.
type Breaker struct {
	mu        sync.RWMutex
	resources map[string]*Circuit
	config    Config
}

// New creates a Breaker. A zero-value config falls back to DefaultConfig.
func New(config Config) *Breaker {
	if config.FailureThreshold == 0 {
		config = DefaultConfig
	}
	return &Breaker{resources: make(map[string]*Circuit), config: config}
}

// IsOpen reports whether resource's circuit should currently reject
// requests.
func (b *Breaker) IsOpen(resource string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.resources[resource]
	if !ok {
		return false
	}

	switch c.State {
	case Open:
		if c.OpenedAt != nil && time.Since(*c.OpenedAt) > b.config.OpenDuration {
			return false
		}
		return true
	case HalfOpen:
		return c.HalfOpenRequests >= b.config.HalfOpenMaxRequests
	default:
		return false
	}
}

// State returns a copy of resource's circuit, or nil if untracked.
func (b *Breaker) State(resource string) *Circuit {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.resources[resource]
	if !ok {
		return nil
	}
	cp := *c
	cp.RecentFailures = append([]Failure(nil), c.RecentFailures...)
	return &cp
}

// RecordSuccess records a success, potentially closing the circuit.
func (b *Breaker) RecordSuccess(resource string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.getOrCreate(resource)
	c.TotalRequests++
	c.TotalSuccesses++
	c.ConsecutiveFailures = 0
	now := time.Now()
	c.LastSuccess = &now

	old := c.State
	switch c.State {
	case HalfOpen:
		c.HalfOpenSuccesses++
		if c.HalfOpenSuccesses >= b.config.SuccessThreshold {
			b.transitionToClosed(c)
		}
	case Open:
		if c.OpenedAt != nil && time.Since(*c.OpenedAt) > b.config.OpenDuration {
			b.transitionToHalfOpen(c)
			c.HalfOpenSuccesses++
		}
	}

	if old != c.State {
		log.Printf("[breaker] %s: %s -> %s (success)", resource, old, c.State)
	}
}

// RecordFailure records a failed request of the given kind, potentially
// opening the circuit. Excluded kinds are not counted.
func (b *Breaker) RecordFailure(resource string, kind forgeerrors.Kind, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isExcluded(kind) {
		return
	}

	c := b.getOrCreate(resource)
	c.TotalRequests++
	c.TotalFailures++
	c.ConsecutiveFailures++
	now := time.Now()
	c.LastFailure = &now
	c.RecentFailures = append(c.RecentFailures, Failure{Timestamp: now, Kind: kind, Message: message})
	b.pruneOldFailures(c)

	old := c.State
	switch c.State {
	case Closed:
		if c.ConsecutiveFailures >= b.config.FailureThreshold {
			b.transitionToOpen(c, "consecutive failures threshold exceeded")
		} else if len(c.RecentFailures) >= b.config.FailureWindowMax {
			b.transitionToOpen(c, "failure window threshold exceeded")
		}
	case HalfOpen:
		b.transitionToOpen(c, "failure during half-open testing")
	case Open:
		if c.OpenedAt != nil && time.Since(*c.OpenedAt) > b.config.OpenDuration {
			b.transitionToHalfOpen(c)
			b.transitionToOpen(c, "failure during half-open testing")
		}
	}

	if old != c.State {
		log.Printf("[breaker] %s: %s -> %s (failure: %s)", resource, old, c.State, kind)
	}
}

// Reset forces resource's circuit back to closed.
func (b *Breaker) Reset(resource string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.resources[resource]
	if !ok {
		return
	}
	now := time.Now()
	c.State = Closed
	c.ConsecutiveFailures = 0
	c.HalfOpenRequests = 0
	c.HalfOpenSuccesses = 0
	c.OpenedAt = nil
	c.ClosedAt = &now
	c.RecentFailures = nil
}

func (b *Breaker) getOrCreate(resource string) *Circuit {
	c, ok := b.resources[resource]
	if !ok {
		c = &Circuit{Resource: resource, State: Closed}
		b.resources[resource] = c
	}
	return c
}

func (b *Breaker) transitionToOpen(c *Circuit, reason string) {
	now := time.Now()
	c.State = Open
	c.OpenedAt = &now
	c.HalfOpenRequests = 0
	c.HalfOpenSuccesses = 0
	log.Printf("[breaker] %s: OPENED - %s (consecutive=%d, recent=%d)",
		c.Resource, reason, c.ConsecutiveFailures, len(c.RecentFailures))
}

func (b *Breaker) transitionToHalfOpen(c *Circuit) {
	c.State = HalfOpen
	c.HalfOpenRequests = 0
	c.HalfOpenSuccesses = 0
	log.Printf("[breaker] %s: HALF-OPEN - testing recovery", c.Resource)
}

func (b *Breaker) transitionToClosed(c *Circuit) {
	now := time.Now()
	c.State = Closed
	c.ClosedAt = &now
	c.ConsecutiveFailures = 0
	c.HalfOpenRequests = 0
	c.HalfOpenSuccesses = 0
	c.RecentFailures = nil
	log.Printf("[breaker] %s: CLOSED - recovered", c.Resource)
}

func (b *Breaker) pruneOldFailures(c *Circuit) {
	cutoff := time.Now().Add(-b.config.FailureWindowDuration)
	recent := c.RecentFailures[:0:0]
	for _, f := range c.RecentFailures {
		if f.Timestamp.After(cutoff) {
			recent = append(recent, f)
		}
	}
	c.RecentFailures = recent
}

func (b *Breaker) isExcluded(kind forgeerrors.Kind) bool {
	for _, k := range b.config.ExcludedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Metrics aggregates breaker state across every tracked resource.
type Metrics struct {
	TotalResources int
	OpenCircuits   int
	HalfOpen       int
	ClosedCircuits int
	Resources      map[string]ResourceMetrics
}

// ResourceMetrics is one resource's aggregate view.
type ResourceMetrics struct {
	Resource            string
	State               State
	TotalRequests       int
	TotalFailures       int
	TotalSuccesses      int
	FailureRate         float64
	ConsecutiveFailures int
	RecentFailureCount  int
}

// Metrics returns aggregate circuit breaker metrics, for export by the
// metrics package.
func (b *Breaker) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m := Metrics{TotalResources: len(b.resources), Resources: make(map[string]ResourceMetrics)}
	for name, c := range b.resources {
		switch c.State {
		case Open:
			m.OpenCircuits++
		case HalfOpen:
			m.HalfOpen++
		case Closed:
			m.ClosedCircuits++
		}
		var rate float64
		if c.TotalRequests > 0 {
			rate = float64(c.TotalFailures) / float64(c.TotalRequests)
		}
		m.Resources[name] = ResourceMetrics{
			Resource:            name,
			State:               c.State,
			TotalRequests:       c.TotalRequests,
			TotalFailures:       c.TotalFailures,
			TotalSuccesses:      c.TotalSuccesses,
			FailureRate:         rate,
			ConsecutiveFailures: c.ConsecutiveFailures,
			RecentFailureCount:  len(c.RecentFailures),
		}
	}
	return m
}
