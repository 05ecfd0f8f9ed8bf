package taskpoll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPoller builds a poller with sensible test defaults, overridable via
// extra options (later options win for scalar settings).
func newTestPoller(t *testing.T, work WorkFunc[string, string], opts ...Option) *Poller[string, string] {
	t.Helper()

	base := []Option{
		WithInterval(50 * time.Millisecond),
		WithBufferCapacity(8),
		WithWorkTimeout(time.Second),
		WithCapacityFunc(func() int { return 1 }),
		WithLogger(testLogger()),
	}
	p, err := New(work, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

// waitResult reads one outcome from the poller or fails the test.
func waitResult(t *testing.T, p *Poller[string, string], timeout time.Duration) Result[string, string] {
	t.Helper()

	select {
	case res, ok := <-p.Results():
		if !ok {
			t.Fatal("results channel closed unexpectedly")
		}
		return res
	case <-time.After(timeout):
		t.Fatal("timeout waiting for result")
	}
	panic("unreachable")
}

func TestNew_RequiredInputs(t *testing.T) {
	work := func(ctx context.Context, args []string) (string, error) { return "", nil }
	capacity := func() int { return 1 }

	tests := []struct {
		name    string
		work    WorkFunc[string, string]
		opts    []Option
		wantErr string
	}{
		{
			name:    "nil work",
			work:    nil,
			wantErr: "work function is required",
		},
		{
			name:    "missing interval",
			work:    work,
			opts:    []Option{WithBufferCapacity(1), WithWorkTimeout(time.Second), WithCapacityFunc(capacity)},
			wantErr: "poll interval is required",
		},
		{
			name:    "missing buffer capacity",
			work:    work,
			opts:    []Option{WithInterval(time.Second), WithWorkTimeout(time.Second), WithCapacityFunc(capacity)},
			wantErr: "buffer capacity is required",
		},
		{
			name:    "missing work timeout",
			work:    work,
			opts:    []Option{WithInterval(time.Second), WithBufferCapacity(1), WithCapacityFunc(capacity)},
			wantErr: "work timeout is required",
		},
		{
			name:    "missing capacity func",
			work:    work,
			opts:    []Option{WithInterval(time.Second), WithBufferCapacity(1), WithWorkTimeout(time.Second)},
			wantErr: "capacity function is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.work, tt.opts...)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

// TestPoller_BareTick verifies that a steady interval tick with no buffered
// requests still invokes the work function, with an empty argument list.
func TestPoller_BareTick(t *testing.T) {
	var gotArgs atomic.Value
	work := func(ctx context.Context, args []string) (string, error) {
		gotArgs.Store(append([]string(nil), args...))
		return "ok", nil
	}

	p := newTestPoller(t, work, WithInterval(30*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop()

	res := waitResult(t, p, time.Second)
	if !res.Ok() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Value != "ok" {
		t.Errorf("value = %q, want %q", res.Value, "ok")
	}
	if len(res.Args) != 0 {
		t.Errorf("args = %v, want empty", res.Args)
	}
	if res.Cycle != 1 {
		t.Errorf("cycle = %d, want 1", res.Cycle)
	}
	if args, _ := gotArgs.Load().([]string); len(args) != 0 {
		t.Errorf("work received args %v, want none", args)
	}
}

// TestPoller_TickThenArgument runs the basic end-to-end flow: a bare tick
// with no arguments, then an enqueued argument delivered on the next tick.
func TestPoller_TickThenArgument(t *testing.T) {
	work := func(ctx context.Context, args []string) (string, error) {
		return fmt.Sprintf("n=%d", len(args)), nil
	}

	p := newTestPoller(t, work, WithInterval(100*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop()

	first := waitResult(t, p, time.Second)
	if !first.Ok() || len(first.Args) != 0 {
		t.Fatalf("first result: ok=%v args=%v, want success with no args", first.Ok(), first.Args)
	}

	if err := p.Enqueue(context.Background(), "A"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	second := waitResult(t, p, time.Second)
	if !second.Ok() {
		t.Fatalf("second result: %v", second.Err)
	}
	if len(second.Args) != 1 || second.Args[0] != "A" {
		t.Errorf("second args = %v, want [A]", second.Args)
	}
	if second.Cycle != first.Cycle+1 {
		t.Errorf("cycle = %d, want %d", second.Cycle, first.Cycle+1)
	}
}

// TestPoller_FailureRecovery verifies that a failed work invocation is
// reported as a value and does not terminate the sequence: the expected
// outcome pattern is success, error, success.
func TestPoller_FailureRecovery(t *testing.T) {
	var calls atomic.Int64
	boom := errors.New("boom")
	work := func(ctx context.Context, args []string) (string, error) {
		if calls.Add(1) == 2 {
			return "", boom
		}
		return "ok", nil
	}

	p := newTestPoller(t, work, WithInterval(20*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop()

	first := waitResult(t, p, time.Second)
	if !first.Ok() {
		t.Fatalf("first result: %v", first.Err)
	}

	second := waitResult(t, p, time.Second)
	if second.Ok() {
		t.Fatal("second result: expected error")
	}
	if second.Err.Kind != KindWork {
		t.Errorf("kind = %v, want KindWork", second.Err.Kind)
	}
	if !errors.Is(second.Err, boom) {
		t.Errorf("cause = %v, want wrapped boom", second.Err.Cause)
	}

	third := waitResult(t, p, time.Second)
	if !third.Ok() {
		t.Fatalf("third result: %v, sequence should recover after an error", third.Err)
	}
}

// TestPoller_Serialization verifies that at most one work invocation is
// outstanding at any time, regardless of tick and request pressure.
func TestPoller_Serialization(t *testing.T) {
	var inFlight, maxInFlight atomic.Int64
	work := func(ctx context.Context, args []string) (string, error) {
		n := inFlight.Add(1)
		for {
			old := maxInFlight.Load()
			if n <= old || maxInFlight.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	}

	p := newTestPoller(t, work, WithInterval(5*time.Millisecond), WithResultsBuffer(64))
	p.Start(context.Background())

	// pile on nudges and arguments while short ticks fire
	for i := 0; i < 5; i++ {
		_ = p.Nudge(context.Background())
		_ = p.Enqueue(context.Background(), "x")
		time.Sleep(30 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	p.Stop()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent invocations = %d, want 1", got)
	}
}

// TestPoller_ArgumentOrder verifies that arguments buffered during an
// in-flight cycle are delivered together on the next cycle, in arrival order.
func TestPoller_ArgumentOrder(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls atomic.Int64
	var mu sync.Mutex
	var seen [][]string

	work := func(ctx context.Context, args []string) (string, error) {
		mu.Lock()
		seen = append(seen, append([]string(nil), args...))
		mu.Unlock()
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			<-gate
		}
		return "ok", nil
	}

	p := newTestPoller(t, work, WithInterval(20*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop()
	defer close(gate)

	<-entered // first cycle is now in flight

	for _, v := range []string{"a", "b", "c"} {
		if err := p.Enqueue(context.Background(), v); err != nil {
			t.Fatalf("Enqueue(%q) failed: %v", v, err)
		}
	}
	// let the loop buffer all three before releasing the cycle
	time.Sleep(30 * time.Millisecond)
	gate <- struct{}{}

	first := waitResult(t, p, time.Second)
	if !first.Ok() {
		t.Fatalf("first result: %v", first.Err)
	}

	second := waitResult(t, p, time.Second)
	if !second.Ok() {
		t.Fatalf("second result: %v", second.Err)
	}
	want := []string{"a", "b", "c"}
	if len(second.Args) != len(want) {
		t.Fatalf("second args = %v, want %v", second.Args, want)
	}
	for i := range want {
		if second.Args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, second.Args[i], want[i])
		}
	}
}

// TestPoller_CapacityGate verifies that zero capacity skips ticks entirely
// while buffered argument requests remain queued for a future tick.
func TestPoller_CapacityGate(t *testing.T) {
	var capacity atomic.Int64
	work := func(ctx context.Context, args []string) (string, error) {
		return fmt.Sprintf("n=%d", len(args)), nil
	}

	p := newTestPoller(t, work,
		WithInterval(20*time.Millisecond),
		WithCapacityFunc(func() int { return int(capacity.Load()) }),
	)
	p.Start(context.Background())
	defer p.Stop()

	if err := p.Enqueue(context.Background(), "queued"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// several ticks pass with zero capacity: nothing may be emitted
	select {
	case res := <-p.Results():
		t.Fatalf("unexpected result while capacity is zero: %+v", res)
	case <-time.After(150 * time.Millisecond):
	}

	capacity.Store(1)

	res := waitResult(t, p, time.Second)
	if !res.Ok() {
		t.Fatalf("result after capacity restored: %v", res.Err)
	}
	if len(res.Args) != 1 || res.Args[0] != "queued" {
		t.Errorf("args = %v, want the request buffered through the gate", res.Args)
	}
}

// TestPoller_BufferOverflow verifies that with bufferCapacity=2 and a cycle
// in flight, a third argument request is rejected with the exact request on
// the error, while the first two are delivered together on the next cycle.
func TestPoller_BufferOverflow(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls atomic.Int64

	work := func(ctx context.Context, args []string) (string, error) {
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			<-gate
		}
		return "ok", nil
	}

	p := newTestPoller(t, work,
		WithInterval(20*time.Millisecond),
		WithBufferCapacity(2),
	)
	p.Start(context.Background())
	defer p.Stop()
	defer close(gate)

	<-entered

	for _, v := range []string{"one", "two"} {
		if err := p.Enqueue(context.Background(), v); err != nil {
			t.Fatalf("Enqueue(%q) failed: %v", v, err)
		}
	}
	if err := p.Enqueue(context.Background(), "three"); err != nil {
		t.Fatalf("Enqueue(three) failed: %v", err)
	}

	// the rejection is emitted while the first cycle is still in flight
	rejected := waitResult(t, p, time.Second)
	if rejected.Ok() {
		t.Fatal("expected a capacity rejection outcome")
	}
	if rejected.Err.Kind != KindCapacity {
		t.Fatalf("kind = %v, want KindCapacity", rejected.Err.Kind)
	}
	if rejected.Err.Request == nil {
		t.Fatal("capacity error must carry the rejected request")
	}
	if v, ok := rejected.Err.Request.Payload(); !ok || v != "three" {
		t.Errorf("rejected payload = %q (ok=%v), want %q", v, ok, "three")
	}
	if rejected.Cycle != 0 {
		t.Errorf("rejection cycle = %d, want 0 (outside any cycle)", rejected.Cycle)
	}

	gate <- struct{}{}

	first := waitResult(t, p, time.Second)
	if !first.Ok() {
		t.Fatalf("first cycle result: %v", first.Err)
	}

	second := waitResult(t, p, time.Second)
	if !second.Ok() {
		t.Fatalf("second cycle result: %v", second.Err)
	}
	if len(second.Args) != 2 || second.Args[0] != "one" || second.Args[1] != "two" {
		t.Errorf("second cycle args = %v, want [one two]", second.Args)
	}
}

// TestPoller_WorkTimeout verifies that a slow work invocation produces a
// timeout outcome when the configured timeout elapses, not a success when
// the invocation eventually settles, and that the late settlement is
// surfaced via the callback only.
func TestPoller_WorkTimeout(t *testing.T) {
	late := make(chan uint64, 1)
	work := func(ctx context.Context, args []string) (string, error) {
		time.Sleep(300 * time.Millisecond)
		return "too late", nil
	}

	p := newTestPoller(t, work,
		WithInterval(10*time.Millisecond),
		WithWorkTimeout(60*time.Millisecond),
		WithLateSettlement(func(cycle uint64, elapsed time.Duration, err error) {
			select {
			case late <- cycle:
			default:
			}
		}),
	)
	p.Start(context.Background())

	start := time.Now()
	res := waitResult(t, p, time.Second)
	elapsed := time.Since(start)

	if res.Ok() {
		t.Fatalf("expected timeout outcome, got success %q", res.Value)
	}
	if !res.Err.Timeout() {
		t.Errorf("Timeout() = false, want true (err: %v)", res.Err)
	}
	if !errors.Is(res.Err, ErrWorkTimeout) {
		t.Error("errors.Is(err, ErrWorkTimeout) = false, want true")
	}
	// the outcome must be determined by the timeout, not the 300ms settlement
	if elapsed >= 250*time.Millisecond {
		t.Errorf("timeout outcome took %s, should fire around the 60ms timeout", elapsed)
	}

	p.Stop()

	select {
	case cycle := <-late:
		if cycle != res.Cycle {
			t.Errorf("late settlement cycle = %d, want %d", cycle, res.Cycle)
		}
	case <-time.After(time.Second):
		t.Error("late settlement callback never fired")
	}
}

// TestPoller_IntervalReconfigure verifies that changing the live interval
// reschedules the next tick at the new cadence.
func TestPoller_IntervalReconfigure(t *testing.T) {
	interval := NewDurationVar(60 * time.Millisecond)
	work := func(ctx context.Context, args []string) (string, error) {
		return "ok", nil
	}

	p := newTestPoller(t, work, WithIntervalVar(interval))
	p.Start(context.Background())
	defer p.Stop()

	first := waitResult(t, p, time.Second)
	if !first.Ok() {
		t.Fatalf("first result: %v", first.Err)
	}
	interval.Set(200 * time.Millisecond)
	firstAt := time.Now()

	second := waitResult(t, p, time.Second)
	if !second.Ok() {
		t.Fatalf("second result: %v", second.Err)
	}
	gap := time.Since(firstAt)

	// next tick should follow the new 200ms cadence, not the old 60ms one
	if gap < 150*time.Millisecond {
		t.Errorf("gap after reconfiguration = %s, want ~200ms", gap)
	}
	if gap > 500*time.Millisecond {
		t.Errorf("gap after reconfiguration = %s, next tick should still arrive", gap)
	}
}

// TestPoller_IntervalDelay verifies that a configured delay is inserted once
// after an interval change before steady-cadence ticking resumes.
func TestPoller_IntervalDelay(t *testing.T) {
	interval := NewDurationVar(40 * time.Millisecond)
	work := func(ctx context.Context, args []string) (string, error) {
		return "ok", nil
	}

	p := newTestPoller(t, work,
		WithIntervalVar(interval),
		WithIntervalDelay(120*time.Millisecond),
	)
	p.Start(context.Background())
	defer p.Stop()

	first := waitResult(t, p, time.Second)
	if !first.Ok() {
		t.Fatalf("first result: %v", first.Err)
	}
	interval.Set(60 * time.Millisecond)
	changedAt := time.Now()

	second := waitResult(t, p, time.Second)
	if !second.Ok() {
		t.Fatalf("second result: %v", second.Err)
	}
	gap := time.Since(changedAt)

	// delay (120ms) + new interval (60ms)
	if gap < 140*time.Millisecond {
		t.Errorf("gap after change = %s, want at least delay+interval", gap)
	}
}

// TestPoller_NudgeTriggersImmediateCycle verifies that a nudge starts a
// cycle out of band, well before the steady interval elapses.
func TestPoller_NudgeTriggersImmediateCycle(t *testing.T) {
	work := func(ctx context.Context, args []string) (string, error) {
		return "ok", nil
	}

	p := newTestPoller(t, work, WithInterval(10*time.Second))
	p.Start(context.Background())
	defer p.Stop()

	if err := p.Nudge(context.Background()); err != nil {
		t.Fatalf("Nudge failed: %v", err)
	}

	res := waitResult(t, p, time.Second)
	if !res.Ok() {
		t.Fatalf("result: %v", res.Err)
	}
	if len(res.Args) != 0 {
		t.Errorf("args = %v, want empty for a lone nudge", res.Args)
	}
}

// TestPoller_NudgeDroppedWhileInFlight verifies that nudges arriving during
// an in-flight cycle are dropped rather than deferred: no extra cycle runs
// on their behalf.
func TestPoller_NudgeDroppedWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls atomic.Int64

	work := func(ctx context.Context, args []string) (string, error) {
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			<-gate
		}
		return "ok", nil
	}

	p := newTestPoller(t, work, WithInterval(10*time.Second))
	p.Start(context.Background())
	defer p.Stop()
	defer close(gate)

	_ = p.Nudge(context.Background()) // starts cycle 1
	<-entered

	for i := 0; i < 3; i++ {
		_ = p.Nudge(context.Background()) // in flight: all dropped
	}
	time.Sleep(30 * time.Millisecond)
	gate <- struct{}{}

	res := waitResult(t, p, time.Second)
	if !res.Ok() || res.Cycle != 1 {
		t.Fatalf("result = %+v, want cycle 1 success", res)
	}

	// the dropped nudges must not have scheduled further cycles
	select {
	case res := <-p.Results():
		t.Fatalf("unexpected extra cycle: %+v", res)
	case <-time.After(150 * time.Millisecond):
	}
}

// TestPoller_PanicInWork verifies that a panicking work function produces a
// work-error outcome with a correlation ID and the poller keeps running.
func TestPoller_PanicInWork(t *testing.T) {
	var calls atomic.Int64
	work := func(ctx context.Context, args []string) (string, error) {
		if calls.Add(1) == 1 {
			panic("kaboom")
		}
		return "ok", nil
	}

	p := newTestPoller(t, work, WithInterval(20*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop()

	first := waitResult(t, p, time.Second)
	if first.Ok() {
		t.Fatal("expected work-error outcome from panic")
	}
	if first.Err.Kind != KindWork {
		t.Errorf("kind = %v, want KindWork", first.Err.Kind)
	}
	if !strings.Contains(first.Err.Reason, "correlation_id") {
		t.Errorf("reason = %q, want a correlation ID", first.Err.Reason)
	}

	second := waitResult(t, p, time.Second)
	if !second.Ok() {
		t.Fatalf("second result: %v, poller should survive a panic", second.Err)
	}
}

func TestPoller_StopBeforeStart(t *testing.T) {
	p := newTestPoller(t, func(ctx context.Context, args []string) (string, error) {
		return "ok", nil
	})

	// this must not panic
	p.Stop()

	if _, ok := <-p.Results(); ok {
		t.Error("expected results channel to be closed after Stop()")
	}
	if err := p.Enqueue(context.Background(), "x"); !errors.Is(err, ErrStopped) {
		t.Errorf("Enqueue after Stop = %v, want ErrStopped", err)
	}
}

func TestPoller_StopTwice(t *testing.T) {
	p := newTestPoller(t, func(ctx context.Context, args []string) (string, error) {
		return "ok", nil
	})
	p.Start(context.Background())

	// both calls must complete without panic or deadlock
	p.Stop()
	p.Stop()
}

func TestPoller_StartTwice(t *testing.T) {
	p := newTestPoller(t, func(ctx context.Context, args []string) (string, error) {
		return "ok", nil
	}, WithInterval(30*time.Millisecond), WithResultsBuffer(64))

	p.Start(context.Background())
	p.Start(context.Background()) // second call should be no-op

	time.Sleep(150 * time.Millisecond)
	p.Stop()

	// a duplicate scheduling loop would emit out-of-order cycle numbers
	var last uint64
	for res := range p.Results() {
		if res.Cycle != last+1 {
			t.Errorf("cycle = %d after %d, want strictly sequential", res.Cycle, last)
		}
		last = res.Cycle
	}
	if last == 0 {
		t.Error("expected at least one cycle before Stop")
	}
}

func TestPoller_ResultsClosedAfterStop(t *testing.T) {
	p := newTestPoller(t, func(ctx context.Context, args []string) (string, error) {
		return "ok", nil
	}, WithInterval(time.Minute))
	p.Start(context.Background())
	p.Stop()

	select {
	case _, ok := <-p.Results():
		if ok {
			t.Error("expected results channel to be closed after Stop()")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for results channel to close")
	}
}

// TestPoller_ConcurrentStartStop verifies that calling Start() and Stop()
// concurrently does not cause a race condition or panic.
// Run with: go test -race .
func TestPoller_ConcurrentStartStop(t *testing.T) {
	for i := 0; i < 100; i++ {
		p := newTestPoller(t, func(ctx context.Context, args []string) (string, error) {
			return "ok", nil
		}, WithInterval(time.Minute))

		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			p.Start(context.Background())
		}()

		go func() {
			defer wg.Done()
			p.Stop()
		}()

		wg.Wait()
		p.Stop()

		// drain any remaining results
		for range p.Results() {
		}
	}
}
