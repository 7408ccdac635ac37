// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "watchkeeper_"

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics is the engine's counter set. A nil *Metrics records nothing.
type Metrics struct {
	batches         *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	matches         *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	motion          *prometheus.CounterVec
	attached        prometheus.Gauge
	rulesLoaded     prometheus.Gauge
	rulesRejected   prometheus.Gauge
}

// New creates the counters and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on the default /metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "detection_batches_total",
				Help: "Detection batches processed by device",
			},
			[]string{"device"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "candidates_dropped_total",
				Help: "Detections dropped before evaluation by device",
			},
			[]string{"device"},
		),
		matches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_matches_total",
				Help: "Rule matches by rule and class",
			},
			[]string{"rule", "class"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rate_limited_total",
				Help: "Matches suppressed by the per-identity delay",
			},
			[]string{"rule"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatches_total",
				Help: "Notifier deliveries by notifier and result",
			},
			[]string{"notifier", "result"},
		),
		dispatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "dispatch_latency_seconds",
				Help:    "Fan-out latency per dispatch",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"device"},
		),
		motion: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "motion_transitions_total",
				Help: "Motion state transitions by device and state",
			},
			[]string{"device", "state"},
		),
		attached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "devices_attached",
			Help: "Devices with an active event subscription",
		}),
		rulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "rules_loaded",
			Help: "Rules in the current configuration snapshot",
		}),
		rulesRejected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "rules_rejected",
			Help: "Rules rejected from the current configuration snapshot",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.batches, m.dropped, m.matches, m.rateLimited,
			m.dispatches, m.dispatchLatency, m.motion,
			m.attached, m.rulesLoaded, m.rulesRejected,
		)
	}
	return m
}

// Batch counts one processed batch and the candidates it dropped.
func (m *Metrics) Batch(device string, dropped int) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(device).Inc()
	if dropped > 0 {
		m.dropped.WithLabelValues(device).Add(float64(dropped))
	}
}

// Match counts a rule match that passed every gate.
func (m *Metrics) Match(rule, class string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(rule, class).Inc()
}

// RateLimited counts a match suppressed by the delay ledger.
func (m *Metrics) RateLimited(rule string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(rule).Inc()
}

// Dispatch counts one notifier outcome.
func (m *Metrics) Dispatch(notifier string, ok bool) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !ok {
		result = ResultError
	}
	m.dispatches.WithLabelValues(notifier, result).Inc()
}

// DispatchDuration observes one full fan-out.
func (m *Metrics) DispatchDuration(device string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.WithLabelValues(device).Observe(d.Seconds())
}

// Motion counts a state transition.
func (m *Metrics) Motion(device string, active bool) {
	if m == nil {
		return
	}
	state := "inactive"
	if active {
		state = "active"
	}
	m.motion.WithLabelValues(device, state).Inc()
}

// Attached sets the attached device gauge.
func (m *Metrics) Attached(n int) {
	if m == nil {
		return
	}
	m.attached.Set(float64(n))
}

// Rules sets the loaded and rejected rule gauges.
func (m *Metrics) Rules(loaded, rejected int) {
	if m == nil {
		return
	}
	m.rulesLoaded.Set(float64(loaded))
	m.rulesRejected.Set(float64(rejected))
}
