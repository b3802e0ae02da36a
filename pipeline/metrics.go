package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

// runMetrics are the counters of a single run, kept in a private registry
// and written as a Prometheus text file at the end of the run.
type runMetrics struct {
	registry       *prometheus.Registry
	configurations *prometheus.CounterVec
	omittedSites   prometheus.Counter
	structures     prometheus.Gauge
	published      prometheus.Counter
	toolDuration   prometheus.Histogram
	duration       prometheus.Gauge
}

func newRunMetrics() *runMetrics {
	m := &runMetrics{
		registry: prometheus.NewRegistry(),
		configurations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gcreplay",
			Name:      "configurations_total",
			Help:      "dms-viz configurations by outcome.",
		}, []string{"outcome"}),
		omittedSites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcreplay",
			Name:      "omitted_sites_total",
			Help:      "Sites present in only one of structure and measurements.",
		}),
		structures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gcreplay",
			Name:      "structures",
			Help:      "Structures read from the input directory.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gcreplay",
			Name:      "published_files_total",
			Help:      "Files copied to the output store.",
		}),
		toolDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gcreplay",
			Name:      "configure_duration_seconds",
			Help:      "Duration of configure-dms-viz invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gcreplay",
			Name:      "run_duration_seconds",
			Help:      "Duration of the run.",
		}),
	}
	for _, outcome := range []string{outcomeSuccess, outcomeFailure, outcomeSkipped} {
		m.configurations.WithLabelValues(outcome)
	}
	m.registry.MustRegister(m.configurations, m.omittedSites, m.structures, m.published, m.toolDuration, m.duration)
	return m
}

func (m *runMetrics) write(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
