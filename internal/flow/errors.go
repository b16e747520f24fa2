// Package flow defines the error kinds surfaced by workflow operations.
// Every operation exposed to the HTTP layer returns either a plain wrapped
// error (treated as internal) or a *flow.Error carrying a machine-readable
// kind that callers can branch on.
package flow

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow failure for callers.
type Kind string

const (
	// KindAuthRequired means the credential is missing or revoked and the
	// user must reconnect the provider.
	KindAuthRequired Kind = "auth_required"

	// KindBusy means a duplicate in-flight workflow exists for the same
	// (user, source) or (user, plan).
	KindBusy Kind = "busy"

	// KindRateLimited means the provider or LLM throttled us and the
	// internal retry budget is exhausted.
	KindRateLimited Kind = "rate_limited"

	// KindTransient means a retryable network or 5xx failure survived the
	// backoff budget.
	KindTransient Kind = "transient"

	// KindInvalidRequest means a schema violation from the caller or the
	// provider; never retried.
	KindInvalidRequest Kind = "invalid_request"

	// KindConflict means a sync conflict is awaiting user resolution.
	KindConflict Kind = "conflict"

	// KindDegraded means the operation completed but an optional stage
	// (encoding, email) failed.
	KindDegraded Kind = "degraded"
)

// Error is a workflow error with a machine-readable kind and an optional
// human-readable cause.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// E builds a *Error. Op names the failing operation ("ingest.fetch").
func E(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Errorf builds a *Error from a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Cause: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err (or any error in its chain) has the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
