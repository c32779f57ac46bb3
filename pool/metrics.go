package pool

import "github.com/prometheus/client_golang/prometheus"

// Trim result label values.
const (
	trimApplied = "applied"
	trimSkipped = "skipped"
	trimFailed  = "failed"
)

var (
	activeEngines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabhost_pool_active_engines",
			Help: "Number of engines bound to open tabs, hibernated included.",
		},
	)

	idleEngines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabhost_pool_idle_engines",
			Help: "Number of engines parked in the idle store.",
		},
	)

	hibernatedEngines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabhost_pool_hibernated_engines",
			Help: "Number of bound engines currently hibernated.",
		},
	)

	enginesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabhost_pool_engines_created_total",
			Help: "Total number of engines built by the factory.",
		},
	)

	enginesReused = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabhost_pool_engines_reused_total",
			Help: "Total number of acquires satisfied from the idle store.",
		},
	)

	enginesDestroyed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabhost_pool_engines_destroyed_total",
			Help: "Total number of engines destroyed.",
		},
	)

	trimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabhost_pool_trims_total",
			Help: "Total number of trim checks by outcome.",
		},
		[]string{"result"},
	)

	acquireDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabhost_pool_acquire_seconds",
			Help:    "Duration of Acquire calls that bound a new tab, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(activeEngines)
	prometheus.MustRegister(idleEngines)
	prometheus.MustRegister(hibernatedEngines)
	prometheus.MustRegister(enginesCreated)
	prometheus.MustRegister(enginesReused)
	prometheus.MustRegister(enginesDestroyed)
	prometheus.MustRegister(trimsTotal)
	prometheus.MustRegister(acquireDuration)

	for _, r := range []string{trimApplied, trimSkipped, trimFailed} {
		trimsTotal.WithLabelValues(r)
	}
}
