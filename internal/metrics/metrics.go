package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "eventlinter"
)

var (
	runDurationBuckets = []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300}

	// Run Metrics
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Count of linter runs by strategy and terminal status.",
	}, []string{"strategy", "status"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Time from run start to its terminal message.",
		Buckets:   runDurationBuckets,
	}, []string{"strategy"})

	// Stream Metrics
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Decoded stream frames by message kind.",
	}, []string{"kind"})

	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Frames dropped without aborting the run.",
	}, []string{"reason"})

	FindingsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "findings_received_total",
		Help:      "Findings appended to the accumulated set.",
	})

	FindingsAccumulated = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "findings_accumulated",
		Help:      "Findings held for the current run.",
	})

	// Suppression Metrics
	SuppressionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "suppressions_total",
		Help:      "Suppression writes by outcome.",
	}, []string{"status"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
