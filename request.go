package taskpoll

// Request is a single poll request pushed to a [Poller] between cycles.
//
// A Request is one of two variants:
//
//   - argument: carries a payload to be included in the next work
//     invocation's argument list, created with [Argument]. Argument
//     requests are buffered in arrival order, up to the poller's buffer
//     capacity.
//   - nudge: carries no payload and asks the poller to attempt a cycle
//     immediately, created with [Nudge]. Nudges are never buffered; one
//     that cannot be serviced right away is dropped without error.
//
// The zero value of Request is a nudge.
type Request[T any] struct {
	payload    T
	hasPayload bool
}

// Argument creates a payload-carrying [Request].
func Argument[T any](v T) Request[T] {
	return Request[T]{payload: v, hasPayload: true}
}

// Nudge creates a payload-less [Request] that asks the poller to attempt a
// cycle immediately rather than waiting for the next timer tick.
func Nudge[T any]() Request[T] {
	return Request[T]{}
}

// IsNudge reports whether the request is a nudge (carries no payload).
func (r Request[T]) IsNudge() bool {
	return !r.hasPayload
}

// Payload returns the request's payload. The boolean is false for nudges,
// in which case the payload is the zero value of T.
func (r Request[T]) Payload() (T, bool) {
	return r.payload, r.hasPayload
}
