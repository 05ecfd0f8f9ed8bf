package taskpoll

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for the cycles counter.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// Metrics holds the Prometheus instruments for a single poller instance.
//
// Construct with [NewMetrics] against the registerer of your choice and
// attach with [WithMetrics]. The library never registers anything with the
// default registry on its own. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// CyclesTotal counts completed cycles by outcome (success, error, timeout).
	CyclesTotal *prometheus.CounterVec

	// RejectedTotal counts argument requests rejected due to a full buffer.
	RejectedTotal prometheus.Counter

	// SkippedTotal counts tick opportunities skipped because capacity was zero.
	SkippedTotal prometheus.Counter

	// Buffered tracks the current number of buffered argument requests.
	Buffered prometheus.Gauge

	// InFlight is 1 while a work invocation is outstanding, else 0.
	InFlight prometheus.Gauge

	// WorkDuration observes the wall time of settled work invocations.
	// Timed-out cycles observe the configured timeout.
	WorkDuration prometheus.Histogram
}

// NewMetrics creates and registers the poller instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpoll_cycles_total",
				Help: "Total number of completed poll cycles by outcome",
			},
			[]string{"outcome"},
		),
		RejectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskpoll_requests_rejected_total",
				Help: "Total number of argument requests rejected at capacity",
			},
		),
		SkippedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskpoll_ticks_skipped_total",
				Help: "Total number of ticks skipped due to zero capacity",
			},
		),
		Buffered: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskpoll_buffered_requests",
				Help: "Current number of buffered argument requests",
			},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskpoll_in_flight",
				Help: "Whether a work invocation is currently outstanding",
			},
		),
		WorkDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskpoll_work_duration_seconds",
				Help:    "Duration of work invocations",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (m *Metrics) observeCycle(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.WorkDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeRejected() {
	if m == nil {
		return
	}
	m.RejectedTotal.Inc()
}

func (m *Metrics) observeSkipped() {
	if m == nil {
		return
	}
	m.SkippedTotal.Inc()
}

func (m *Metrics) setBuffered(n int) {
	if m == nil {
		return
	}
	m.Buffered.Set(float64(n))
}

func (m *Metrics) setInFlight(inFlight bool) {
	if m == nil {
		return
	}
	if inFlight {
		m.InFlight.Set(1)
	} else {
		m.InFlight.Set(0)
	}
}
