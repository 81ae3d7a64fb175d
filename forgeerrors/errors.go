// Package forgeerrors defines the typed error kinds shared across forgehand
// and the layered-context wrapping used to propagate them.
package forgeerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way app/shared/provider_failures.go
// classifies provider failures, but over upstream-code-forge operations
// instead of LLM provider calls.
type Kind string

const (
	KindAuthFailed       Kind = "auth-failed"
	KindPermissionDenied Kind = "permission-denied"
	KindNotFound         Kind = "not-found"
	KindRateLimited      Kind = "rate-limited"
	KindServerError      Kind = "server-error"
	KindNetwork          Kind = "network"
	KindTimeout          Kind = "timeout"
	KindConflict         Kind = "conflict"
	KindCircuitOpen      Kind = "circuit-open"
	KindValidation       Kind = "validation"
)

// Retryable reports whether errors of this kind may succeed if retried,
// mirroring the retryable/non-retryable/conditional split in spec.md §7.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindServerError, KindNetwork, KindTimeout:
		return true
	default:
		// conflict, circuit-open, validation, auth-failed, permission-denied,
		// not-found are all non-retryable at this layer.
		return false
	}
}

// Error is a structured error carrying a Kind plus layered context. Each
// call to Wrap adds one Context frame and preserves the cause chain via
// errors.Unwrap, the same way the teacher chains fmt.Errorf("...: %w", err)
// through workspace/manager.go and lib/apply_transactional.go.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	Op            string // operation name, e.g. "branch.create"
	Endpoint      string // upstream endpoint, if applicable
	Repository    string // "owner/repo", if applicable
	CorrelationID string
	Phase         string // worker phase: "clone", "commit", ...
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	parts := make([]string, 0, 4)
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Phase != "" {
		parts = append(parts, "phase="+e.Phase)
	}
	if e.Repository != "" {
		parts = append(parts, "repo="+e.Repository)
	}
	if e.CorrelationID != "" {
		parts = append(parts, "cid="+e.CorrelationID)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("[%s] %s", e.Kind, msg)
	}
	return fmt.Sprintf("[%s] %s (%s)", e.Kind, msg, joinParts(parts))
}

func (e *Error) Unwrap() error { return e.Cause }

func joinParts(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// New creates a fresh Error with no cause, for validation/boundary failures.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap adds one layer of operational context to cause, preserving its
// Kind if cause is already a *Error, otherwise defaulting to fallback.
func Wrap(cause error, fallback Kind, op, endpoint, repo, correlationID, phase string) *Error {
	if cause == nil {
		return nil
	}
	kind := fallback
	var existing *Error
	if errors.As(cause, &existing) {
		kind = existing.Kind
	}
	return &Error{
		Kind:          kind,
		Message:       cause.Error(),
		Cause:         cause,
		Op:            op,
		Endpoint:      endpoint,
		Repository:    repo,
		CorrelationID: correlationID,
		Phase:         phase,
	}
}

// KindOf extracts the Kind from err, walking the cause chain, returning
// ok=false if no *Error is found anywhere in the chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind (anywhere in its chain) equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
