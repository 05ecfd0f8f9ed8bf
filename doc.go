// Package taskpoll provides a back-pressure-aware, timeout-bounded task
// poller: a reconfigurable timer merged with an on-demand request stream,
// driving a single serialized work function.
//
// taskpoll is designed as an SDK-first library. A [Poller] is constructed
// with a work function and functional options, started with a context, and
// consumed through a results channel. Every cycle outcome - success, work
// failure, timeout, or capacity rejection - is delivered as a value; the
// poller never panics or returns errors across its public surface because
// of a failed work invocation.
//
// # Quick Start
//
// Create a poller, start it, and consume outcomes:
//
//	p, err := taskpoll.New(work,
//	    taskpoll.WithInterval(5*time.Second),
//	    taskpoll.WithBufferCapacity(16),
//	    taskpoll.WithWorkTimeout(10*time.Second),
//	    taskpoll.WithCapacityFunc(func() int { return 1 }),
//	)
//	if err != nil {
//	    slog.Error("failed to create poller", "error", err)
//	    os.Exit(1)
//	}
//
//	p.Start(ctx)
//	defer p.Stop()
//
//	for res := range p.Results() {
//	    if !res.Ok() {
//	        slog.Warn("cycle failed", "error", res.Err)
//	    }
//	}
//
// # Requests
//
// Between timer ticks, callers may push work arguments or nudges:
//
//	_ = p.Enqueue(ctx, "job-123") // buffered until the next cycle
//	_ = p.Nudge(ctx)              // attempt a cycle now, never buffered
//
// Argument requests accumulate in arrival order up to the configured buffer
// capacity; an overflowing request is rejected with a [PollingError] of kind
// [KindCapacity] carrying that exact request. Nudges that cannot be serviced
// immediately are dropped without error.
//
// # Live Reconfiguration
//
// The poll interval and the post-change delay are live values. Share a
// [DurationVar] with the poller and update it at runtime:
//
//	interval := taskpoll.NewDurationVar(5 * time.Second)
//	p, err := taskpoll.New(work,
//	    taskpoll.WithIntervalVar(interval),
//	    // ...
//	)
//	// later, from a settings watcher:
//	interval.Set(30 * time.Second)
//
// # Architecture
//
// The library ships with a standalone runner (cmd/taskpoll) and supporting
// internal packages:
//
//   - internal/httpwork: HTTP work executor used by the runner
//   - internal/history: bounded in-memory outcome log with pub/sub
//   - internal/server: status API, SSE stream, and Prometheus metrics
//
// The internal packages are not part of the public API and may change
// without notice.
package taskpoll
