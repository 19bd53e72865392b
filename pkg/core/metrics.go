package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the semlake collectors
type Metrics struct {
	SketchDuration  *prometheus.HistogramVec
	QueryDuration   prometheus.Histogram
	ProfileDuration prometheus.Histogram
	ColumnsMapped   *prometheus.CounterVec
	SourcesMounted  prometheus.Gauge
	IndexEntries    prometheus.Gauge
	IndexBuild      prometheus.Histogram
	JoinSteps      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SketchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "semlake",
				Subsystem: "sketch",
				Name:      "duration_seconds",
				Help:      "Time spent building MinHash sketches",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		QueryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "semlake",
				Subsystem: "index",
				Name:      "query_duration_seconds",
				Help:      "Ensemble index query latency",
				Buckets:   prometheus.DefBuckets,
			},
		),

		ProfileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "semlake",
				Subsystem: "mapper",
				Name:      "profile_duration_seconds",
				Help:      "Time spent computing domain profiles",
				Buckets:   prometheus.DefBuckets,
			},
		),

		ColumnsMapped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "semlake",
				Subsystem: "mapper",
				Name:      "columns_total",
				Help:      "Columns processed by the schema mapper",
			},
			[]string{"result"},
		),

		SourcesMounted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "semlake",
				Subsystem: "catalog",
				Name:      "sources",
				Help:      "Number of mounted sources",
			},
		),

		IndexEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "semlake",
				Subsystem: "index",
				Name:      "entries",
				Help:      "Number of reference levels in the ensemble index",
			},
		),

		IndexBuild: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "semlake",
				Subsystem: "index",
				Name:      "build_duration_seconds",
				Help:      "Time spent building the ensemble index",
				Buckets:   prometheus.DefBuckets,
			},
		),

		JoinSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "semlake",
				Subsystem: "joiner",
				Name:      "steps_total",
				Help:      "Bisection steps run by the joinability estimator",
			},
			[]string{"matched"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.SketchDuration,
			m.QueryDuration,
			m.ProfileDuration,
			m.ColumnsMapped,
			m.SourcesMounted,
			m.IndexEntries,
			m.IndexBuild,
			m.JoinSteps,
		)
	}
	return m
}

// NopMetrics returns collectors that are not registered anywhere
func NopMetrics() *Metrics {
	return NewMetrics(nil)
}

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
