package taskpoll

import (
	"sync"
	"time"
)

// DurationVar is a live duration value: a thread-safe latest-value cell with
// a coalesced change notification channel.
//
// DurationVar backs the poller's reconfigurable poll interval and
// interval-change delay. The producer calls [DurationVar.Set] at any time;
// the poller reads the current value with [DurationVar.Get] and wakes on
// [DurationVar.Changed]. Notifications are coalesced: several rapid Set
// calls may produce a single wakeup, with Get always returning the newest
// value.
type DurationVar struct {
	mu      sync.Mutex
	d       time.Duration
	changed chan struct{}
}

// NewDurationVar creates a DurationVar holding d.
func NewDurationVar(d time.Duration) *DurationVar {
	return &DurationVar{
		d:       d,
		changed: make(chan struct{}, 1),
	}
}

// Get returns the current value.
func (v *DurationVar) Get() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.d
}

// Set updates the value and notifies watchers. Setting the same value again
// is a no-op and does not notify.
func (v *DurationVar) Set(d time.Duration) {
	v.mu.Lock()
	if v.d == d {
		v.mu.Unlock()
		return
	}
	v.d = d
	v.mu.Unlock()

	// coalesced: a pending notification already covers this change
	select {
	case v.changed <- struct{}{}:
	default:
	}
}

// Changed returns the channel that receives a (coalesced) notification after
// each value change. Intended for use in a select; after receiving, call
// [DurationVar.Get] for the current value.
func (v *DurationVar) Changed() <-chan struct{} {
	return v.changed
}
