// Package history keeps a bounded in-memory log of recent poll cycle
// outcomes, with pub/sub for streaming consumers.
//
// This package is internal to taskpoll and backs the runner's status API.
// It is intentionally ephemeral: the poller contract has no persistence,
// so the log holds only the most recent outcomes, oldest evicted first.
package history

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// Outcome classification values stored on an [Entry].
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "work_error"
	OutcomeTimeout  = "work_timeout"
	OutcomeRejected = "request_capacity_reached"
)

// Entry is one recorded outcome, shaped for JSON serialization by the
// status API.
type Entry struct {
	// Cycle is the cycle sequence number; zero for capacity rejections.
	Cycle uint64 `json:"cycle"`

	// Outcome is one of the Outcome* values.
	Outcome string `json:"outcome"`

	// Args are the payloads delivered to the work function for this cycle.
	Args []string `json:"args,omitempty"`

	// Error is the error message for non-success outcomes.
	Error *string `json:"error,omitempty"`

	// StartedAt is when the work invocation began.
	StartedAt time.Time `json:"started_at"`

	// ElapsedMs is the cycle duration in milliseconds.
	ElapsedMs int64 `json:"elapsed_ms"`
}

// Log is a thread-safe bounded outcome log with a publish-subscribe
// mechanism for real-time updates.
//
// Subscribers receive updates via buffered channels (buffer size 100).
// Updates are sent non-blocking; if a subscriber's buffer is full, the
// update is dropped for that subscriber to prevent blocking the recorder.
type Log struct {
	mu      sync.RWMutex
	entries *queue.Queue
	limit   int

	subMu       sync.RWMutex
	subscribers map[chan Entry]struct{}
}

// NewLog creates a [Log] retaining at most limit entries. A non-positive
// limit falls back to 1.
func NewLog(limit int) *Log {
	if limit < 1 {
		limit = 1
	}
	return &Log{
		entries:     queue.New(),
		limit:       limit,
		subscribers: make(map[chan Entry]struct{}),
	}
}

// Record appends an entry, evicting the oldest once the limit is reached,
// and notifies all subscribers.
func (l *Log) Record(e Entry) {
	l.mu.Lock()
	l.entries.Add(e)
	for l.entries.Length() > l.limit {
		l.entries.Remove()
	}
	l.mu.Unlock()

	l.notifySubscribers(e)
}

// Recent returns a snapshot of the retained entries, oldest first.
func (l *Log) Recent() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, l.entries.Length())
	for i := 0; i < l.entries.Length(); i++ {
		out = append(out, l.entries.Get(i).(Entry))
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.Length()
}

// Subscribe creates a new subscription and returns a channel for receiving
// future entries.
//
// The returned channel has a buffer of 100 entries. If the buffer fills
// (slow consumer), new entries are dropped for this subscriber.
//
// Caller must call [Log.Unsubscribe] when done to prevent resource leaks.
func (l *Log) Subscribe() <-chan Entry {
	ch := make(chan Entry, 100)

	l.subMu.Lock()
	l.subscribers[ch] = struct{}{}
	l.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// multiple times or with an unknown channel.
func (l *Log) Unsubscribe(ch <-chan Entry) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	for subCh := range l.subscribers {
		if subCh == ch {
			delete(l.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the entry to all active subscribers without
// blocking; slow subscribers miss entries rather than stalling the recorder.
func (l *Log) notifySubscribers(e Entry) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()

	for ch := range l.subscribers {
		select {
		case ch <- e:
		default:
			// subscriber is slow, drop the entry
		}
	}
}
