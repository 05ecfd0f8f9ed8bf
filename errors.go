package taskpoll

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a [PollingError].
type ErrorKind int

const (
	// KindWork indicates that the work function returned an error, panicked,
	// or exceeded the configured work timeout.
	KindWork ErrorKind = iota + 1

	// KindCapacity indicates that an argument request was rejected because
	// the pending-request buffer was full. The rejected request is carried
	// on the error; it was not stored and will not be retried.
	KindCapacity
)

// String returns a short stable name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindWork:
		return "work_error"
	case KindCapacity:
		return "request_capacity_reached"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Sentinel errors carried as causes inside a [PollingError], or returned by
// [Poller.Enqueue] and [Poller.Nudge].
var (
	// ErrWorkTimeout is the cause of a [KindWork] error emitted when a work
	// invocation did not settle within the configured timeout. Match with
	// errors.Is on PollingError.
	ErrWorkTimeout = errors.New("work invocation timed out")

	// ErrStopped is returned by request methods after the poller stopped.
	ErrStopped = errors.New("poller is stopped")
)

// PollingError is the error half of a [Result]. It is always delivered as a
// value on the results channel, never returned or panicked across the
// poller's public surface.
type PollingError[T any] struct {
	// Kind tags the error as a work failure or a capacity rejection.
	Kind ErrorKind

	// Request is the rejected request for [KindCapacity] errors. It is nil
	// for work failures and timeouts, which are aggregate: they relate to
	// the whole cycle, not any single request.
	Request *Request[T]

	// Reason is a human-readable description embedding the underlying cause.
	Reason string

	// Cause is the underlying error: the work function's error, a recovered
	// panic, or [ErrWorkTimeout]. It is nil for capacity rejections.
	Cause error
}

// Error implements the error interface.
func (e *PollingError[T]) Error() string {
	return e.Reason
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *PollingError[T]) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the error is a work timeout.
func (e *PollingError[T]) Timeout() bool {
	return e.Kind == KindWork && errors.Is(e.Cause, ErrWorkTimeout)
}

// newWorkError wraps a work invocation failure.
func newWorkError[T any](cause error) *PollingError[T] {
	return &PollingError[T]{
		Kind:   KindWork,
		Reason: fmt.Sprintf("work invocation failed: %v", cause),
		Cause:  cause,
	}
}

// newTimeoutError marks a work invocation that exceeded its timeout.
func newTimeoutError[T any](timeout time.Duration) *PollingError[T] {
	return &PollingError[T]{
		Kind:   KindWork,
		Reason: fmt.Sprintf("work invocation timed out after %s", timeout),
		Cause:  ErrWorkTimeout,
	}
}

// newCapacityError marks a rejected argument request.
func newCapacityError[T any](req Request[T], capacity int) *PollingError[T] {
	return &PollingError[T]{
		Kind:    KindCapacity,
		Request: &req,
		Reason:  fmt.Sprintf("request buffer capacity reached (%d pending)", capacity),
	}
}
