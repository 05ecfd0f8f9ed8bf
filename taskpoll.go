package taskpoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
)

// WorkFunc is the asynchronous work function driven by a [Poller].
//
// It receives the ordered argument payloads accumulated since the previous
// cycle (possibly empty, for a bare timer tick or lone nudge) and returns a
// result or an error. The context is never cancelled by the poller: neither
// a timeout nor [Poller.Stop] interrupts an invocation already started, so
// implementations own their full lifecycle.
type WorkFunc[T, R any] func(ctx context.Context, args []T) (R, error)

// CapacityFunc is the capacity oracle consulted at every tick opportunity.
// A value of zero or less means "skip this tick entirely". The poller
// treats it as a pure read; it must not block.
type CapacityFunc func() int

// Poller merges a periodic timer with an on-demand request stream, gates
// cycle starts on available capacity, and drives a single serialized work
// function with the accumulated arguments. One [Result] is emitted per
// cycle (success, failure, or timeout) and one per capacity-rejected
// request.
//
// Poller must be constructed with [New]. All lifecycle methods (Start,
// Stop) are safe for concurrent use; the results channel assumes a single
// active consumer.
type Poller[T, R any] struct {
	work           WorkFunc[T, R]
	interval       *DurationVar
	intervalDelay  *DurationVar
	bufferCapacity int
	workTimeout    time.Duration
	capacity       CapacityFunc
	logger         *slog.Logger
	metrics        *Metrics
	lateSettlement func(cycle uint64, elapsed time.Duration, err error)

	requests chan Request[T]
	results  chan Result[T, R]
	done     chan struct{}

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	doneOnce  sync.Once
	closeOnce sync.Once
}

// settlement carries a work invocation's outcome back to the scheduling loop.
type settlement[R any] struct {
	value R
	err   error
}

// New creates a [Poller] driving the given work function.
//
// The core scheduling inputs are required and validated here, with no
// silent defaults: the poll interval ([WithInterval] or [WithIntervalVar]),
// the buffer capacity ([WithBufferCapacity]), the work timeout
// ([WithWorkTimeout]), and the capacity oracle ([WithCapacityFunc]).
// The interval-change delay is optional; omitting it means interval changes
// take effect without an extra delay period.
func New[T, R any](work WorkFunc[T, R], opts ...Option) (*Poller[T, R], error) {
	if work == nil {
		return nil, errors.New("work function is required")
	}

	cfg := &settings{resultsBuffer: 1}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.interval == nil {
		return nil, errors.New("poll interval is required: use WithInterval or WithIntervalVar")
	}
	if cfg.bufferCapacity == 0 {
		return nil, errors.New("buffer capacity is required: use WithBufferCapacity")
	}
	if cfg.workTimeout == 0 {
		return nil, errors.New("work timeout is required: use WithWorkTimeout")
	}
	if cfg.capacity == nil {
		return nil, errors.New("capacity function is required: use WithCapacityFunc")
	}
	if cfg.intervalDelay == nil {
		cfg.intervalDelay = NewDurationVar(0)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller[T, R]{
		work:           work,
		interval:       cfg.interval,
		intervalDelay:  cfg.intervalDelay,
		bufferCapacity: cfg.bufferCapacity,
		workTimeout:    cfg.workTimeout,
		capacity:       cfg.capacity,
		logger:         logger,
		metrics:        cfg.metrics,
		lateSettlement: cfg.lateSettlement,
		requests:       make(chan Request[T], cfg.bufferCapacity),
		results:        make(chan Result[T, R], cfg.resultsBuffer),
		done:           make(chan struct{}),
	}, nil
}

// Results returns the receive-only channel of cycle outcomes.
//
// The channel is closed when the poller stops. It is intended for exactly
// one consumer; outcomes are emitted in cycle order, and the scheduling
// loop blocks (back-pressuring new cycles) if the consumer falls behind.
func (p *Poller[T, R]) Results() <-chan Result[T, R] {
	return p.results
}

// Start begins the scheduling loop in a background goroutine.
//
// Start is non-blocking and idempotent; subsequent calls after the first
// are no-ops, as is Start after Stop. If ctx is nil, context.Background()
// is used. Cancelling ctx halts scheduling the same way Stop does, but does
// not wait for the loop to exit.
func (p *Poller[T, R]) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.closeOnce.Do(func() { close(p.results) })
		defer p.doneOnce.Do(func() { close(p.done) })
		p.run(runCtx)
	}()
}

// Stop halts scheduling and waits for the loop to exit.
//
// Stop closes the results channel once the loop is down. It does not cancel
// a work invocation already started; such an invocation runs to its own
// settlement, which is then discarded. Stop is idempotent and safe to call
// before Start.
func (p *Poller[T, R]) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		if p.cancel != nil {
			p.cancel()
		}
	}
	p.mu.Unlock()

	p.wg.Wait()

	// cover the Stop-before-Start case, where no loop ever ran
	p.doneOnce.Do(func() { close(p.done) })
	p.closeOnce.Do(func() { close(p.results) })
}

// Enqueue pushes an argument request. The payload is buffered in arrival
// order and delivered with the next cycle's argument list, or rejected with
// a [KindCapacity] outcome if the buffer is full at the time the loop
// accepts it.
//
// Returns [ErrStopped] after the poller stopped, or the context error if
// ctx is done first.
func (p *Poller[T, R]) Enqueue(ctx context.Context, v T) error {
	return p.submit(ctx, Argument(v))
}

// Nudge asks the poller to attempt a cycle immediately. Nudges are never
// buffered: one arriving while a cycle is in flight, or while capacity is
// zero, is dropped without error.
//
// Returns [ErrStopped] after the poller stopped, or the context error if
// ctx is done first.
func (p *Poller[T, R]) Nudge(ctx context.Context) error {
	return p.submit(ctx, Nudge[T]())
}

func (p *Poller[T, R]) submit(ctx context.Context, req Request[T]) error {
	// fast path: already stopped
	select {
	case <-p.done:
		return ErrStopped
	default:
	}

	select {
	case p.requests <- req:
		return nil
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the scheduling loop. It owns all scheduling state: the steady
// timer, the pending-request buffer, and the in-flight slot. Work runs in
// its own goroutine and reports back over a buffered settlement channel, so
// the loop stays responsive to requests and reconfiguration while a cycle
// is outstanding.
func (p *Poller[T, R]) run(ctx context.Context) {
	pending := queue.New()
	timer := time.NewTimer(p.interval.Get())
	defer timer.Stop()

	var (
		inFlight     bool
		cycle        uint64
		curArgs      []T
		startedAt    time.Time
		settleCh     chan settlement[R]
		timeoutCh    <-chan time.Time
		timeoutTimer *time.Timer
		timedOut     *atomic.Bool
		tickPending  bool
	)

	clearSlot := func() {
		inFlight = false
		p.metrics.setInFlight(false)
		if timeoutTimer != nil {
			timeoutTimer.Stop()
			timeoutTimer = nil
		}
		timeoutCh = nil
		settleCh = nil
	}

	// emit blocks until the consumer takes the outcome; returns false only
	// when the run context is cancelled.
	emit := func(res Result[T, R]) bool {
		select {
		case p.results <- res:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// tryStart begins a cycle if the slot is free and capacity allows,
	// draining all buffered argument requests in arrival order.
	tryStart := func() {
		if inFlight {
			return
		}
		if c := p.capacity(); c <= 0 {
			p.metrics.observeSkipped()
			p.logger.Debug("tick skipped, no capacity", "buffered", pending.Length())
			return
		}

		args := make([]T, 0, pending.Length())
		for pending.Length() > 0 {
			req := pending.Remove().(Request[T])
			v, _ := req.Payload()
			args = append(args, v)
		}
		p.metrics.setBuffered(0)

		cycle++
		inFlight = true
		curArgs = args
		startedAt = time.Now()
		settleCh = make(chan settlement[R], 1)
		timedOut = new(atomic.Bool)
		timeoutTimer = time.NewTimer(p.workTimeout)
		timeoutCh = timeoutTimer.C
		p.metrics.setInFlight(true)

		// the work context is never cancelled by the poller: timeouts free
		// the slot without interrupting the invocation
		go p.invoke(context.WithoutCancel(ctx), cycle, args, settleCh, timedOut, startedAt)
	}

	// finishCycle emits the outcome, frees the slot, and starts the next
	// cycle if a tick or buffered requests accumulated in the meantime.
	finishCycle := func(res Result[T, R]) bool {
		clearSlot()
		if !emit(res) {
			return false
		}
		if tickPending || pending.Length() > 0 {
			tickPending = false
			tryStart()
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-p.requests:
			if req.IsNudge() {
				// nudges are transient: serviced now or dropped
				if !inFlight {
					tryStart()
				}
				continue
			}
			if pending.Length() >= p.bufferCapacity {
				p.metrics.observeRejected()
				p.logger.Debug("argument request rejected", "capacity", p.bufferCapacity)
				if !emit(Result[T, R]{Err: newCapacityError(req, p.bufferCapacity)}) {
					return
				}
				continue
			}
			pending.Add(req)
			p.metrics.setBuffered(pending.Length())
			if !inFlight {
				tryStart()
			}

		case <-timer.C:
			timer.Reset(p.interval.Get())
			if inFlight {
				// collapse ticks arriving while a cycle is outstanding
				tickPending = true
				continue
			}
			tryStart()

		case <-p.interval.Changed():
			// stop and drain, then insert one delay period before ticking
			// resumes at the new cadence
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			next := p.intervalDelay.Get() + p.interval.Get()
			timer.Reset(next)
			p.logger.Debug("poll interval changed",
				"interval", p.interval.Get().String(),
				"next_tick_in", next.String(),
			)

		case s := <-settleCh:
			elapsed := time.Since(startedAt)
			res := Result[T, R]{
				Args:      curArgs,
				Cycle:     cycle,
				StartedAt: startedAt,
				Elapsed:   elapsed,
			}
			if s.err != nil {
				res.Err = newWorkError[T](s.err)
				p.metrics.observeCycle(outcomeError, elapsed)
			} else {
				res.Value = s.value
				p.metrics.observeCycle(outcomeSuccess, elapsed)
			}
			if !finishCycle(res) {
				return
			}

		case <-timeoutCh:
			timedOut.Store(true)
			p.metrics.observeCycle(outcomeTimeout, p.workTimeout)
			p.logger.Debug("work invocation timed out",
				"cycle", cycle,
				"timeout", p.workTimeout.String(),
			)
			res := Result[T, R]{
				Args:      curArgs,
				Cycle:     cycle,
				StartedAt: startedAt,
				Elapsed:   p.workTimeout,
				Err:       newTimeoutError[T](p.workTimeout),
			}
			if !finishCycle(res) {
				return
			}
		}
	}
}

// invoke runs one work invocation in its own goroutine and reports the
// settlement. If the loop already timed the cycle out, the settlement is
// discarded for scheduling and surfaced only via log and callback.
func (p *Poller[T, R]) invoke(ctx context.Context, cycle uint64, args []T, settle chan<- settlement[R], timedOut *atomic.Bool, startedAt time.Time) {
	var s settlement[R]
	s.value, s.err = p.callWork(ctx, args)

	settle <- s // buffered, never blocks

	if timedOut.Load() {
		elapsed := time.Since(startedAt)
		p.logger.Debug("late settlement discarded",
			"cycle", cycle,
			"elapsed", elapsed.String(),
			"error", s.err,
		)
		if p.lateSettlement != nil {
			p.lateSettlement(cycle, elapsed, s.err)
		}
	}
}

// callWork calls the work function with panic recovery.
// If the work function panics, the full stack trace is logged with a
// correlation ID and the cycle fails with an error containing the ID.
func (p *Poller[T, R]) callWork(ctx context.Context, args []T) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			p.logger.Error("work function panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)

			err = fmt.Errorf("work function panic (correlation_id: %s)", correlationID)
		}
	}()
	return p.work(ctx, args)
}
