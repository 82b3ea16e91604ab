package optimization

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors into the taxonomy the hub acts on.
type ErrorKind string

const (
	// KindInvalidProblem marks malformed input rejected at submit time.
	KindInvalidProblem ErrorKind = "invalid_problem"
	// KindSolverFailure marks a fault during algorithm execution,
	// recovered by the classical fallback when enabled.
	KindSolverFailure ErrorKind = "solver_failure"
	// KindTimeout marks execution exceeding the configured cap. The hub
	// treats it as a solver failure.
	KindTimeout ErrorKind = "timeout"
	// KindCacheWrite marks a non-fatal cache store failure; the result is
	// still returned to the caller.
	KindCacheWrite ErrorKind = "cache_write"
	// KindShutdown marks operations rejected because the hub is stopped.
	KindShutdown ErrorKind = "shutdown"
	// KindQueueFull marks submissions rejected by the queue capacity bound.
	KindQueueFull ErrorKind = "queue_full"
)

// Error is the engine's error type: a kind for taxonomy decisions, an
// operation for context, and an optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by kind, so callers can write
// errors.Is(err, &Error{Kind: KindTimeout}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// NewError creates an engine error of the given kind.
func NewError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps a cause with engine error context. Returns nil for a nil
// cause so call sites can wrap unconditionally.
func WrapError(err error, kind ErrorKind, op, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf reports the taxonomy kind of an error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
