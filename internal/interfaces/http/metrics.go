// Package http exposes the engine's monitoring surface: health, Prometheus
// metrics, stored results, and a websocket progress feed.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_model/go"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	SimulationsTotal   *prometheus.CounterVec
	SimulationDuration prometheus.Histogram
	RunsSimulated      prometheus.Counter
	ActiveSimulations  prometheus.Gauge
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheHitRatio      prometheus.Gauge
}

// NewMetrics creates and registers all engine collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SimulationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmlrun_simulations_total",
			Help: "Completed simulations by outcome",
		}, []string{"outcome"}),
		SimulationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crmlrun_simulation_duration_seconds",
			Help:    "Wall-clock duration of simulation runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		RunsSimulated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crmlrun_monte_carlo_runs_total",
			Help: "Total Monte Carlo iterations executed",
		}),
		ActiveSimulations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crmlrun_active_simulations",
			Help: "Simulations currently executing",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crmlrun_result_cache_hits_total",
			Help: "Simulations served from the result cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crmlrun_result_cache_misses_total",
			Help: "Simulations that missed the result cache",
		}),
		CacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crmlrun_result_cache_hit_ratio",
			Help: "Fraction of cacheable runs served from the result cache (0.0 to 1.0)",
		}),
	}

	registry.MustRegister(
		m.SimulationsTotal,
		m.SimulationDuration,
		m.RunsSimulated,
		m.ActiveSimulations,
		m.CacheHits,
		m.CacheMisses,
		m.CacheHitRatio,
	)
	return m
}

// RecordCacheHit counts a result served from the cache and refreshes the
// hit ratio gauge.
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
	m.updateCacheHitRatio()
}

// RecordCacheMiss counts a cacheable run that had to be simulated.
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
	m.updateCacheHitRatio()
}

// updateCacheHitRatio reads the hit and miss counters back through their wire
// representation; counters do not expose their current value directly.
func (m *Metrics) updateCacheHitRatio() {
	hit := &io_prometheus_client.Metric{}
	miss := &io_prometheus_client.Metric{}
	if err := m.CacheHits.Write(hit); err != nil {
		return
	}
	if err := m.CacheMisses.Write(miss); err != nil {
		return
	}
	hits := hit.GetCounter().GetValue()
	total := hits + miss.GetCounter().GetValue()
	if total > 0 {
		m.CacheHitRatio.Set(hits / total)
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveSimulation records one finished simulation.
func (m *Metrics) ObserveSimulation(outcome string, seconds float64, runs int) {
	m.SimulationsTotal.WithLabelValues(outcome).Inc()
	m.SimulationDuration.Observe(seconds)
	m.RunsSimulated.Add(float64(runs))
}
