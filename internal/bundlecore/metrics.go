package bundlecore

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mintbot"

// Metrics are the scheduler's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	cycles      prometheus.Counter
	submissions *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	state       prometheus.Gauge
	waitSeconds prometheus.Gauge
	bundleTxs   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submission_cycles_total",
			Help:      "Submission cycles started.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bundle_submissions_total",
			Help:      "eth_sendBundle calls by result.",
		}, []string{"result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "attempt_resolutions_total",
			Help:      "Resolved submission attempts by outcome.",
		}, []string{"outcome"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "scheduler_state",
			Help:      "Current scheduler state (see State).",
		}),
		waitSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pre_execution_wait_seconds",
			Help:      "Seconds slept before building the bundle.",
		}),
		bundleTxs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "bundle_transactions",
			Help:      "Transactions in the signed bundle.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.submissions, m.resolutions, m.state, m.waitSeconds, m.bundleTxs)
	}
	return m
}

func (m *Metrics) recordCycle() {
	if m != nil {
		m.cycles.Inc()
	}
}

func (m *Metrics) recordSubmission(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) recordResolution(outcome string) {
	if m != nil {
		m.resolutions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) recordState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *Metrics) recordWait(secs int64) {
	if m != nil {
		m.waitSeconds.Set(float64(secs))
	}
}

func (m *Metrics) recordBundle(b *Bundle) {
	if m != nil && b != nil {
		m.bundleTxs.Set(float64(b.Len()))
	}
}
