// Package memerr classifies failures raised anywhere in the memory engine
// into a small set of abstract kinds that callers can branch on with
// [errors.Is], independent of which subsystem produced the error.
package memerr

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error categories the engine distinguishes.
type Kind int

const (
	// KindValidation marks malformed input: empty dialogues, unknown roles,
	// chunks that vanish after cleaning. Never retried.
	KindValidation Kind = iota

	// KindExternalTransient marks timeouts, 429/503 responses, and broken
	// connections from an LLM, Embedder, Reranker, or GraphStore. Retried
	// with capped exponential backoff.
	KindExternalTransient

	// KindExternalPermanent marks auth failures, invalid model ids, or
	// schema-violating LLM responses that survive retry. Surfaces as a
	// failure of the enclosing operation.
	KindExternalPermanent

	// KindConcurrencyConflict marks a node expected during a merge that has
	// already been deleted by concurrent work. Treated as skip, not failure.
	KindConcurrencyConflict

	// KindInvariantViolated marks a broken data-model invariant (e.g. a
	// Statement left without a Chunk reference after dedup). Aborts the
	// write; nothing partial is persisted.
	KindInvariantViolated

	// KindCancelled marks a cancelled or deadline-exceeded context.
	KindCancelled
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindExternalTransient:
		return "external_transient"
	case KindExternalPermanent:
		return "external_permanent"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindInvariantViolated:
		return "invariant_violated"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed
// (e.g. "ingest", "write_dialogue_batch"); Err is the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is one of the sentinel Err* values matching e's
// Kind, so callers can write errors.Is(err, memerr.ErrValidation).
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	if !ok {
		return false
	}
	return sentinel.Kind == e.Kind && sentinel.Op == "" && sentinel.Err == nil
}

// Sentinel values for use with errors.Is. They carry no Op/Err of their own
// — match by Kind only.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrExternalTransient   = &Error{Kind: KindExternalTransient}
	ErrExternalPermanent   = &Error{Kind: KindExternalPermanent}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
	ErrInvariantViolated   = &Error{Kind: KindInvariantViolated}
	ErrCancelled           = &Error{Kind: KindCancelled}
)

// Wrap classifies err as kind, attaching op for context. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation wraps err as a [KindValidation] failure.
func Validation(op string, err error) error { return Wrap(KindValidation, op, err) }

// Transient wraps err as a [KindExternalTransient] failure.
func Transient(op string, err error) error { return Wrap(KindExternalTransient, op, err) }

// Permanent wraps err as a [KindExternalPermanent] failure.
func Permanent(op string, err error) error { return Wrap(KindExternalPermanent, op, err) }

// Conflict wraps err as a [KindConcurrencyConflict] failure.
func Conflict(op string, err error) error { return Wrap(KindConcurrencyConflict, op, err) }

// Invariant wraps err as a [KindInvariantViolated] failure.
func Invariant(op string, err error) error { return Wrap(KindInvariantViolated, op, err) }

// FromContext classifies a context error (context.Canceled or
// context.DeadlineExceeded) as [KindCancelled]. Returns nil if ctxErr is nil.
func FromContext(op string, ctxErr error) error { return Wrap(KindCancelled, op, ctxErr) }

// KindOf returns the classified Kind of err and true if err (or something it
// wraps) is a *Error. Otherwise returns (0, false).
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Retryable reports whether err is classified as [KindExternalTransient].
func Retryable(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindExternalTransient
}
