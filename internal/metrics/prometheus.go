// Package metrics provides MetricsCollector implementations.
package metrics

import (
	"strconv"
	"sync"

	"github.com/arloliu/helix/types"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use, so constructing
// a PrometheusCollector that is never exercised registers nothing.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	sessionTransitions *prometheus.CounterVec
	sessionSteps       *prometheus.CounterVec
	sessionStepLatency *prometheus.HistogramVec
	carryoverTotal     prometheus.Counter

	transitions       *prometheus.CounterVec
	transitionLatency *prometheus.HistogramVec
	partitions        prometheus.Gauge

	messages    *prometheus.CounterVec
	watchRearms *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "helix" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "helix"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.sessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Session state transitions by from/to state.",
		}, []string{"from", "to"})

		p.sessionSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "session",
			Name:      "steps_total",
			Help:      "Session bootstrap step outcomes by step and success.",
		}, []string{"step", "success"})

		p.sessionStepLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "session",
			Name:      "step_duration_seconds",
			Help:      "Duration of session bootstrap steps in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}, []string{"step"})

		p.carryoverTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "session",
			Name:      "carryover_partitions_total",
			Help:      "Partitions whose current state was carried over from a prior session.",
		})

		p.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Partition transition dispatch outcomes (success,stale,unsupported,failed).",
		}, []string{"from", "to", "result"})

		p.transitionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "transition_duration_seconds",
			Help:      "Transition handler latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"from", "to"})

		p.partitions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "partitions",
			Help:      "Number of partitions with a materialized state model.",
		})

		p.messages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "channel",
			Name:      "messages_total",
			Help:      "Handled messages by result (dispatched,failed,invalid,stale).",
		}, []string{"result"})

		p.watchRearms = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "channel",
			Name:      "watch_rearms_total",
			Help:      "Message watch re-arm attempts by success.",
		}, []string{"success"})

		p.reg.MustRegister(
			p.sessionTransitions,
			p.sessionSteps,
			p.sessionStepLatency,
			p.carryoverTotal,
			p.transitions,
			p.transitionLatency,
			p.partitions,
			p.messages,
			p.watchRearms,
		)
	})
}

// RecordStateTransition increments the session transition counter.
func (p *PrometheusCollector) RecordStateTransition(from, to types.SessionState) {
	p.ensureRegistered()
	p.sessionTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordSessionStep records a bootstrap step outcome and its latency.
func (p *PrometheusCollector) RecordSessionStep(step string, success bool, duration float64) {
	p.ensureRegistered()
	p.sessionSteps.WithLabelValues(step, strconv.FormatBool(success)).Inc()
	p.sessionStepLatency.WithLabelValues(step).Observe(duration)
}

// RecordCarryover adds the carried partition count.
func (p *PrometheusCollector) RecordCarryover(partitions int) {
	p.ensureRegistered()
	p.carryoverTotal.Add(float64(partitions))
}

// RecordTransition records a dispatch outcome. Latency is only observed for
// outcomes where a handler ran.
func (p *PrometheusCollector) RecordTransition(from, to, result string, duration float64) {
	p.ensureRegistered()
	p.transitions.WithLabelValues(from, to, result).Inc()
	if duration > 0 {
		p.transitionLatency.WithLabelValues(from, to).Observe(duration)
	}
}

// RecordPartitionCount sets the partition gauge.
func (p *PrometheusCollector) RecordPartitionCount(count int) {
	p.ensureRegistered()
	p.partitions.Set(float64(count))
}

// RecordMessage increments the message counter for result.
func (p *PrometheusCollector) RecordMessage(result string) {
	p.ensureRegistered()
	p.messages.WithLabelValues(result).Inc()
}

// RecordWatchRearm increments the re-arm counter.
func (p *PrometheusCollector) RecordWatchRearm(success bool) {
	p.ensureRegistered()
	p.watchRearms.WithLabelValues(strconv.FormatBool(success)).Inc()
}
