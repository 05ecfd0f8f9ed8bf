package taskpoll

import (
	"errors"
	"log/slog"
	"time"
)

// settings holds mutable state during [Poller] construction.
type settings struct {
	interval       *DurationVar
	intervalDelay  *DurationVar
	bufferCapacity int
	workTimeout    time.Duration
	capacity       CapacityFunc
	logger         *slog.Logger
	metrics        *Metrics
	lateSettlement func(cycle uint64, elapsed time.Duration, err error)
	resultsBuffer  int
}

// Option is a function that configures a [Poller] during construction.
//
// Option implements the functional options pattern. Options return an error
// if validation fails. The core scheduling inputs have no silent defaults;
// [New] returns an error unless [WithInterval] (or [WithIntervalVar]),
// [WithBufferCapacity], [WithWorkTimeout], and [WithCapacityFunc] are all
// provided.
type Option func(*settings) error

// WithInterval sets a fixed initial poll interval.
//
// The interval remains live: it is stored in an internal [DurationVar]. To
// reconfigure the interval at runtime, share a var with the poller via
// [WithIntervalVar] instead. One of the two is required.
//
// Returns an error if the duration is zero or negative.
func WithInterval(d time.Duration) Option {
	return func(cfg *settings) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.interval = NewDurationVar(d)
		return nil
	}
}

// WithIntervalVar supplies the poll interval as a shared live value.
//
// The poller observes the var for its entire lifetime and reschedules its
// timer whenever the value changes. The var's current value must be
// positive at construction time.
func WithIntervalVar(v *DurationVar) Option {
	return func(cfg *settings) error {
		if v == nil {
			return errors.New("interval var cannot be nil")
		}
		if v.Get() <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.interval = v
		return nil
	}
}

// WithIntervalDelay sets a fixed delay applied once after each interval
// change, before steady-cadence ticking resumes at the new interval. This
// dampens re-fire storms when a controller rapidly adjusts the interval.
//
// If neither WithIntervalDelay nor [WithIntervalDelayVar] is used, interval
// changes take effect with no extra delay period.
//
// Returns an error if the duration is negative.
func WithIntervalDelay(d time.Duration) Option {
	return func(cfg *settings) error {
		if d < 0 {
			return errors.New("interval delay cannot be negative")
		}
		cfg.intervalDelay = NewDurationVar(d)
		return nil
	}
}

// WithIntervalDelayVar supplies the interval-change delay as a shared live
// value. The delay is read at the moment an interval change is observed.
func WithIntervalDelayVar(v *DurationVar) Option {
	return func(cfg *settings) error {
		if v == nil {
			return errors.New("interval delay var cannot be nil")
		}
		if v.Get() < 0 {
			return errors.New("interval delay cannot be negative")
		}
		cfg.intervalDelay = v
		return nil
	}
}

// WithBufferCapacity sets the maximum number of argument requests buffered
// between work invocations. An argument request arriving while the buffer
// is full is rejected with a [KindCapacity] error carrying that request.
// Required.
//
// Returns an error if the value is zero or negative.
func WithBufferCapacity(n int) Option {
	return func(cfg *settings) error {
		if n <= 0 {
			return errors.New("buffer capacity must be positive")
		}
		cfg.bufferCapacity = n
		return nil
	}
}

// WithWorkTimeout bounds a single work invocation. An invocation that does
// not settle within the timeout produces a [KindWork] outcome wrapping
// [ErrWorkTimeout], and the scheduling slot is freed; a late settlement is
// discarded (see [WithLateSettlement]). Required.
//
// Returns an error if the duration is zero or negative.
func WithWorkTimeout(d time.Duration) Option {
	return func(cfg *settings) error {
		if d <= 0 {
			return errors.New("work timeout must be positive")
		}
		cfg.workTimeout = d
		return nil
	}
}

// WithCapacityFunc sets the capacity oracle, evaluated fresh at every tick
// opportunity. A return value of zero or less skips the tick entirely:
// buffered argument requests stay queued and nudges are dropped.
//
// The function must be cheap, non-blocking, and safe to call from the
// poller's scheduling goroutine. Required.
func WithCapacityFunc(f CapacityFunc) Option {
	return func(cfg *settings) error {
		if f == nil {
			return errors.New("capacity function cannot be nil")
		}
		cfg.capacity = f
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *settings) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithMetrics attaches Prometheus instruments created with [NewMetrics].
// Without this option the poller records no metrics.
func WithMetrics(m *Metrics) Option {
	return func(cfg *settings) error {
		cfg.metrics = m
		return nil
	}
}

// WithLateSettlement registers a callback invoked when a work invocation
// settles after its timeout already produced a timeout outcome. The
// settlement itself is discarded for scheduling and never reaches the
// results channel; the callback is the only way to observe it.
//
// The callback runs on the (abandoned) work goroutine and must not block.
// err is nil if the late invocation ultimately succeeded. Nil callbacks are
// ignored.
func WithLateSettlement(f func(cycle uint64, elapsed time.Duration, err error)) Option {
	return func(cfg *settings) error {
		cfg.lateSettlement = f
		return nil
	}
}

// WithResultsBuffer sets the capacity of the results channel. Defaults to 1.
// A larger buffer decouples a bursty consumer from the scheduling loop; the
// loop blocks on emission once the buffer is full, which back-pressures
// scheduling rather than dropping outcomes.
//
// Returns an error if the value is negative.
func WithResultsBuffer(n int) Option {
	return func(cfg *settings) error {
		if n < 0 {
			return errors.New("results buffer cannot be negative")
		}
		cfg.resultsBuffer = n
		return nil
	}
}
