package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects Prometheus counters and histograms for one Executor.
// A nil *Metrics is valid everywhere below and simply does nothing,
// mirroring the optional-metrics pattern dagrunner's domain stack favors
// (spec.md §9's guidance that telemetry is an external sink to inject,
// never a process-global singleton).
type Metrics struct {
	registry *prometheus.Registry

	taskOutcomes   *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	layerDuration  prometheus.Histogram
	decisionEvents *prometheus.CounterVec
	checkpointsIO  *prometheus.CounterVec
}

// NewMetrics builds a Metrics bound to its own registry. Pass the
// returned registry to a promhttp handler to expose /metrics; dagrunner
// itself never listens on HTTP (spec.md §1 excludes the gateway).
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.taskOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "task",
		Name:      "outcomes_total",
		Help:      "Total number of task dispatches by outcome.",
	}, []string{"status"})

	m.taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "task",
		Name:      "duration_seconds",
		Help:      "Task dispatch duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to 16s
	}, []string{"kind"})

	m.layerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "layer",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of one layer's fan-out, in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	})

	m.decisionEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decision",
		Name:      "outcomes_total",
		Help:      "Total number of HIL/AIL decision loop outcomes.",
	}, []string{"loop", "outcome"})

	m.checkpointsIO = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkpoint",
		Name:      "saves_total",
		Help:      "Total number of checkpoint save attempts by result.",
	}, []string{"result"})

	m.registry.MustRegister(m.taskOutcomes, m.taskDuration, m.layerDuration, m.decisionEvents, m.checkpointsIO)
	return m
}

// Registry exposes the underlying Prometheus registry for scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) recordTask(kind string, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.taskOutcomes.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(kind).Observe(dur.Seconds())
}

func (m *Metrics) recordLayer(dur time.Duration) {
	if m == nil {
		return
	}
	m.layerDuration.Observe(dur.Seconds())
}

func (m *Metrics) recordDecision(loop, outcome string) {
	if m == nil {
		return
	}
	m.decisionEvents.WithLabelValues(loop, outcome).Inc()
}

func (m *Metrics) recordCheckpoint(result string) {
	if m == nil {
		return
	}
	m.checkpointsIO.WithLabelValues(result).Inc()
}
