package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for session execution. All metrics are
// namespaced "flowkit_".
//
// Exposed series:
//   - steps_total (counter): executed steps, labeled step and status.
//   - step_latency_ms (histogram): step execution duration, labeled step
//     and status.
//   - interrupts_total (counter): pauses, labeled interrupt type.
//   - revisions_total (counter): revise-label routings, labeled phase.
//   - errors_total (counter): recorded error entries, labeled type.
//   - sessions_inflight (gauge): sessions currently inside Run or Resume.
//
// Attach via Options.Metrics; a nil *Metrics disables collection.
type Metrics struct {
	stepsTotal       *prometheus.CounterVec
	stepLatency      *prometheus.HistogramVec
	interruptsTotal  *prometheus.CounterVec
	revisionsTotal   *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	sessionsInflight prometheus.Gauge
}

// NewMetrics creates and registers the metric set with the given registerer.
// Pass prometheus.DefaultRegisterer for the process-global registry, or a
// dedicated registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowkit",
			Name:      "steps_total",
			Help:      "Total workflow steps executed.",
		}, []string{"step", "status"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowkit",
			Name:      "step_latency_ms",
			Help:      "Step execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"step", "status"}),
		interruptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowkit",
			Name:      "interrupts_total",
			Help:      "Total interrupt pauses, by interrupt type.",
		}, []string{"type"}),
		revisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowkit",
			Name:      "revisions_total",
			Help:      "Total revise-label routings, by phase.",
		}, []string{"phase"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowkit",
			Name:      "errors_total",
			Help:      "Total error entries recorded, by type.",
		}, []string{"type"}),
		sessionsInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowkit",
			Name:      "sessions_inflight",
			Help:      "Sessions currently executing.",
		}),
	}
}

// Nil-safe observation helpers; the engine calls these unconditionally.

func (m *Metrics) observeStep(step, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(step, status).Inc()
	m.stepLatency.WithLabelValues(step, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) observeInterrupt(interruptType string) {
	if m == nil {
		return
	}
	m.interruptsTotal.WithLabelValues(interruptType).Inc()
}

func (m *Metrics) observeRevision(phase string) {
	if m == nil {
		return
	}
	m.revisionsTotal.WithLabelValues(phase).Inc()
}

func (m *Metrics) observeError(errType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(errType).Inc()
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsInflight.Inc()
}

func (m *Metrics) sessionFinished() {
	if m == nil {
		return
	}
	m.sessionsInflight.Dec()
}
