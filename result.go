package taskpoll

import "time"

// Result is one emitted outcome on a [Poller]'s results channel.
//
// A Result corresponds either to one completed cycle (successful, failed,
// or timed out) or to one rejected argument request. Exactly one Result is
// emitted per cycle, and exactly one per rejection; no abnormal condition
// is silently dropped.
type Result[T, R any] struct {
	// Value is the work function's return value. Only meaningful when Err
	// is nil.
	Value R

	// Err is non-nil for work failures, timeouts, and capacity rejections.
	Err *PollingError[T]

	// Args are the argument payloads delivered to the work function for
	// this cycle, in arrival order. Empty for a bare tick or lone nudge,
	// nil for capacity rejections (no cycle ran).
	Args []T

	// Cycle is the 1-based sequence number of the cycle this result belongs
	// to. Zero for capacity rejections, which happen outside any cycle.
	Cycle uint64

	// StartedAt is when the work invocation began. Zero for capacity
	// rejections.
	StartedAt time.Time

	// Elapsed is the time between the invocation starting and the outcome
	// being determined. For timeouts this is the configured work timeout,
	// not the (unknown) eventual settlement time.
	Elapsed time.Duration
}

// Ok reports whether the result is a success.
func (r Result[T, R]) Ok() bool {
	return r.Err == nil
}
