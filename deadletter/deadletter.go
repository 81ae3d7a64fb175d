// Package deadletter stores tasks that exhausted their retry budget for
// later inspection and explicit reprocessing. Adapted from
// app/server/model/dead_letter_queue.go's DeadLetterQueue/DeadLetterItem:
// the same identity/status/failure-history shape, generalized from LLM
// provider failures to forgeerrors.Kind, and with one deliberate behavior
// change the rest of the queue keeps: an item is only ever retried when an
// operator calls MarkReprocessable, never on an automatic timer.
// DeadLetterQueue's AutoRetryEnabled/AutoRetryDelay scheduling loop is
// dropped entirely rather than adapted, because an unattended auto-retry of
// a code-change task risks repeating a destructive operation against a live
// repository without a human in the loop.
package deadletter

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"forgehand/forgeerrors"
	"forgehand/ids"
)

// Status is the lifecycle state of a dead-letter Item.
type Status string

const (
	StatusPending       Status = "pending"       // awaiting operator decision
	StatusReprocessable Status = "reprocessable" // explicitly cleared for retry
	StatusReprocessing  Status = "reprocessing"  // retry in flight
	StatusResolved      Status = "resolved"
	StatusDiscarded     Status = "discarded"
	StatusExpired       Status = "expired"
)

// FailureRecord is one failed attempt recorded against an Item.
type FailureRecord struct {
	Timestamp  time.Time        `json:"timestamp"`
	Kind       forgeerrors.Kind `json:"kind"`
	Error      string           `json:"error"`
	AttemptNum int              `json:"attemptNum"`
}

// Item is a task that exhausted its retry budget.
type Item struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	TaskID     string `json:"taskId"`
	Operation  string `json:"operation"`
	Repository string `json:"repository,omitempty"`

	// Payload is the original task payload, serialized, so a reprocess can
	// resubmit it without the operator having to reconstruct it by hand.
	Payload json.RawMessage `json:"payload,omitempty"`

	Kind           forgeerrors.Kind `json:"kind"`
	LastError      string           `json:"lastError"`
	TotalAttempts  int              `json:"totalAttempts"`
	FailureHistory []FailureRecord  `json:"failureHistory"`

	Status        Status     `json:"status"`
	Reprocessable bool       `json:"reprocessable"`
	ReprocessCount int       `json:"reprocessCount"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`

	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`

	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Config configures queue capacity and retention, mirroring DLQConfig
// minus every auto-retry field.
type Config struct {
	MaxItems          int
	DefaultTTL        time.Duration
	CleanupInterval   time.Duration
	KeepResolved      time.Duration
	NotifyOnThreshold int
}

// DefaultConfig mirrors DefaultDLQConfig's non-auto-retry fields.
var DefaultConfig = Config{
	MaxItems:          1000,
	DefaultTTL:        7 * 24 * time.Hour,
	CleanupInterval:   time.Hour,
	KeepResolved:      24 * time.Hour,
	NotifyOnThreshold: 100,
}

// Stats summarizes queue activity.
type Stats struct {
	TotalAdded     int64
	TotalResolved  int64
	TotalDiscarded int64
	TotalExpired   int64
	TotalReprocessed int64
	CurrentSize    int
	OldestItem     time.Time
}

// Store persists dead-letter items. FileStore and the optional Postgres
// backend both implement it.
type Store interface {
	Append(item *Item) error
	Update(item *Item) error
	LoadAll() ([]*Item, error)
}

// Queue is the in-memory dead-letter queue, durable via Store.
type Queue struct {
	mu    sync.RWMutex
	items map[string]*Item
	store Store
	config Config
	stats Stats

	onItemAdded func(item *Item)
}

// New creates a Queue backed by store, loading any previously persisted
// items. A nil config falls back to DefaultConfig.
func New(store Store, config *Config) (*Queue, error) {
	cfg := DefaultConfig
	if config != nil {
		cfg = *config
	}
	q := &Queue{
		items:  make(map[string]*Item),
		store:  store,
		config: cfg,
	}

	if store != nil {
		loaded, err := store.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("deadletter: load persisted items: %w", err)
		}
		for _, item := range loaded {
			q.items[item.ID] = item
		}
		q.stats.CurrentSize = len(q.items)
	}

	return q, nil
}

// SetItemAddedCallback registers a hook invoked (in its own goroutine) each
// time Add stores a new item, the same fire-and-forget shape as
// DeadLetterQueue.onItemAdded.
func (q *Queue) SetItemAddedCallback(cb func(item *Item)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onItemAdded = cb
}

// Add records a task that exhausted retries.
func (q *Queue) Add(taskID, operation, repository string, payload json.RawMessage, kind forgeerrors.Kind, lastErr string, totalAttempts int, history []FailureRecord) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.config.MaxItems {
		q.evictOldestLocked()
	}

	now := time.Now()
	expiresAt := now.Add(q.config.DefaultTTL)

	item := &Item{
		ID:             ids.NewDeadLetterID(),
		CreatedAt:      now,
		UpdatedAt:      now,
		TaskID:         taskID,
		Operation:      operation,
		Repository:     repository,
		Payload:        payload,
		Kind:           kind,
		LastError:      lastErr,
		TotalAttempts:  totalAttempts,
		FailureHistory: history,
		Status:         StatusPending,
		ExpiresAt:      &expiresAt,
		Metadata:       make(map[string]string),
	}

	q.items[item.ID] = item
	q.stats.TotalAdded++
	q.stats.CurrentSize = len(q.items)

	if q.store != nil {
		if err := q.store.Append(item); err != nil {
			return nil, fmt.Errorf("deadletter: persist item %s: %w", item.ID, err)
		}
	}

	log.Printf("[deadletter] added id=%s task=%s op=%s kind=%s", item.ID, taskID, operation, kind)

	if q.config.NotifyOnThreshold > 0 && len(q.items) >= q.config.NotifyOnThreshold {
		log.Printf("[deadletter] WARNING: queue size (%d) exceeds threshold (%d)", len(q.items), q.config.NotifyOnThreshold)
	}

	if q.onItemAdded != nil {
		cb := q.onItemAdded
		itemCopy := *item
		go cb(&itemCopy)
	}

	return item, nil
}

// Get returns a copy of item id, or nil if absent.
func (q *Queue) Get(id string) *Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[id]
	if !ok {
		return nil
	}
	cp := *item
	return &cp
}

// Filter selects items for List.
type Filter struct {
	Status     *Status
	Repository string
	Operation  string
	Kind       *forgeerrors.Kind
	Limit      int
}

func (f Filter) matches(item *Item) bool {
	if f.Status != nil && item.Status != *f.Status {
		return false
	}
	if f.Repository != "" && item.Repository != f.Repository {
		return false
	}
	if f.Operation != "" && item.Operation != f.Operation {
		return false
	}
	if f.Kind != nil && item.Kind != *f.Kind {
		return false
	}
	return true
}

// List returns items matching filter.
func (q *Queue) List(filter Filter) []*Item {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var results []*Item
	for _, item := range q.items {
		if filter.matches(item) {
			cp := *item
			results = append(results, &cp)
		}
	}
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results
}

// MarkReprocessable is the only way an item becomes eligible for retry.
// There is no automatic equivalent: a human (via forgehandctl) or an
// explicit upstream-recovery signal must call this.
func (q *Queue) MarkReprocessable(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("deadletter: item not found: %s", id)
	}
	if item.Status == StatusResolved || item.Status == StatusDiscarded {
		return fmt.Errorf("deadletter: cannot mark resolved/discarded item reprocessable")
	}

	item.Reprocessable = true
	item.Status = StatusReprocessable
	item.UpdatedAt = time.Now()
	item.Metadata["reprocessableReason"] = reason

	return q.persistLocked(item)
}

// StartReprocess claims item id for an in-flight retry. Returns an error if
// the item was never explicitly marked reprocessable.
func (q *Queue) StartReprocess(id string) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil, fmt.Errorf("deadletter: item not found: %s", id)
	}
	if !item.Reprocessable {
		return nil, fmt.Errorf("deadletter: item %s was never marked reprocessable", id)
	}
	if item.Status == StatusReprocessing {
		return nil, fmt.Errorf("deadletter: item %s is already reprocessing", id)
	}

	item.Status = StatusReprocessing
	item.ReprocessCount++
	item.UpdatedAt = time.Now()
	if err := q.persistLocked(item); err != nil {
		return nil, err
	}

	cp := *item
	return &cp, nil
}

// CompleteReprocess records the outcome of a reprocess attempt started via
// StartReprocess. On failure, Reprocessable is cleared: another explicit
// MarkReprocessable call is required before it can be retried again.
func (q *Queue) CompleteReprocess(id string, success bool, newErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("deadletter: item not found: %s", id)
	}

	now := time.Now()
	item.UpdatedAt = now

	if success {
		item.Status = StatusResolved
		item.ResolvedAt = &now
		item.Resolution = "reprocessed_success"
		item.ResolvedBy = "operator"
		q.stats.TotalResolved++
	} else {
		item.FailureHistory = append(item.FailureHistory, FailureRecord{
			Timestamp:  now,
			Error:      newErr,
			AttemptNum: item.TotalAttempts + item.ReprocessCount,
		})
		item.LastError = newErr
		item.Reprocessable = false
		item.Status = StatusPending
	}

	return q.persistLocked(item)
}

// Resolve manually resolves item, e.g. after confirming the change landed
// through some other path.
func (q *Queue) Resolve(id, resolution, resolvedBy string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("deadletter: item not found: %s", id)
	}
	now := time.Now()
	item.Status = StatusResolved
	item.ResolvedAt = &now
	item.Resolution = resolution
	item.ResolvedBy = resolvedBy
	item.UpdatedAt = now
	q.stats.TotalResolved++

	return q.persistLocked(item)
}

// Discard marks item as permanently abandoned.
func (q *Queue) Discard(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("deadletter: item not found: %s", id)
	}
	now := time.Now()
	item.Status = StatusDiscarded
	item.ResolvedAt = &now
	item.Resolution = "discarded: " + reason
	item.ResolvedBy = "operator"
	item.UpdatedAt = now
	q.stats.TotalDiscarded++

	return q.persistLocked(item)
}

func (q *Queue) persistLocked(item *Item) error {
	if q.store == nil {
		return nil
	}
	if err := q.store.Update(item); err != nil {
		return fmt.Errorf("deadletter: persist update for %s: %w", item.ID, err)
	}
	return nil
}

func (q *Queue) evictOldestLocked() {
	var oldestID string
	var oldestTime time.Time
	for id, item := range q.items {
		if item.Status == StatusReprocessing {
			continue
		}
		if oldestID == "" || item.CreatedAt.Before(oldestTime) {
			oldestID = id
			oldestTime = item.CreatedAt
		}
	}
	if oldestID != "" {
		delete(q.items, oldestID)
		log.Printf("[deadletter] evicted oldest item id=%s", oldestID)
	}
}

// CleanupLoop runs cleanup on an interval until stopCh is closed.
func (q *Queue) CleanupLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(q.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.cleanup()
		case <-stopCh:
			return
		}
	}
}

func (q *Queue) cleanup() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	resolvedCutoff := now.Add(-q.config.KeepResolved)

	var toDelete []string
	for id, item := range q.items {
		if item.ExpiresAt != nil && now.After(*item.ExpiresAt) && item.Status == StatusPending {
			item.Status = StatusExpired
			item.ResolvedAt = &now
			item.Resolution = "expired"
			q.stats.TotalExpired++
		}

		if (item.Status == StatusResolved || item.Status == StatusDiscarded || item.Status == StatusExpired) &&
			item.ResolvedAt != nil && item.ResolvedAt.Before(resolvedCutoff) {
			toDelete = append(toDelete, id)
		}
	}

	for _, id := range toDelete {
		delete(q.items, id)
	}
	q.stats.CurrentSize = len(q.items)
}

// Stats returns a snapshot of queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := q.stats
	stats.CurrentSize = len(q.items)
	for _, item := range q.items {
		if stats.OldestItem.IsZero() || item.CreatedAt.Before(stats.OldestItem) {
			stats.OldestItem = item.CreatedAt
		}
	}
	return stats
}
