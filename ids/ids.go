// Package ids generates the opaque identifiers used for tasks, workers, and
// workspaces. Grounded on app/shared/idempotency.go's GenerateIdWithPrefix,
// upgraded from a truncated sha256-of-timestamp to a real UUID.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// New generates an id of the form "<prefix>_<uuid>", e.g. "task_3fa9...".
func New(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// NewTaskID generates a task identifier.
func NewTaskID() string { return New("task") }

// NewWorkerID generates a worker identifier.
func NewWorkerID() string { return New("worker") }

// NewDeadLetterID generates a dead-letter entry identifier.
func NewDeadLetterID() string { return New("dlq") }

// NewCorrelationID generates a correlation id for tracing one submission
// through the upstream client and retry engine.
func NewCorrelationID() string { return New("cid") }
