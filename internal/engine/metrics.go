package engine

import "github.com/prometheus/client_golang/prometheus"

// engineMetrics holds the Prometheus instruments for the recompute engine.
type engineMetrics struct {
	recomputeTotal    *prometheus.CounterVec
	recomputeDuration prometheus.Histogram
	coalescedTriggers prometheus.Counter
	signalUpdates     prometheus.Counter
	publishedSets     prometheus.Counter
	staleUsers        prometheus.Gauge
}

// newEngineMetrics registers the engine's metrics with the given registerer.
func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	m := &engineMetrics{
		recomputeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_recompute_total",
				Help: "Recompute passes by result",
			},
			[]string{"result"},
		),
		recomputeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "advisor_recompute_duration_seconds",
				Help:    "Recompute pass duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		coalescedTriggers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "advisor_coalesced_triggers_total",
				Help: "Triggers folded into an already pending recompute",
			},
		),
		signalUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "advisor_signal_updates_total",
				Help: "Signal vectors accepted by the engine",
			},
		),
		publishedSets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "advisor_published_sets_total",
				Help: "Recommendation sets published",
			},
		),
		staleUsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "advisor_stale_users",
				Help: "Users currently marked stale or recomputing",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.recomputeTotal,
			m.recomputeDuration,
			m.coalescedTriggers,
			m.signalUpdates,
			m.publishedSets,
			m.staleUsers,
		)
	}
	return m
}
