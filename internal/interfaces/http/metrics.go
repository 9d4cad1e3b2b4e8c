package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// MetricsRegistry holds all Prometheus metrics for the pipeline service.
type MetricsRegistry struct {
	registry *prometheus.Registry

	// Stage execution metrics
	StageDuration *prometheus.HistogramVec
	StageRuns     *prometheus.CounterVec

	// Admission metrics
	TriageOutcomes *prometheus.CounterVec
	Promotions     prometheus.Counter
	GateBlocks     *prometheus.CounterVec

	// Cache performance metrics
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// Batch metrics
	ActiveBatches prometheus.Gauge
	TotalBatches  prometheus.Counter
}

// NewMetricsRegistry creates a metrics registry with all pipeline metrics
// registered on a dedicated Prometheus registry.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Duration of each stage execution in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"stage", "result"},
		),

		StageRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stage_runs_total",
				Help: "Total number of stage runs by stage and terminal status",
			},
			[]string{"stage", "status"},
		),

		TriageOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_triage_outcomes_total",
				Help: "Total number of triaged leads by disposition",
			},
			[]string{"disposition"},
		),

		Promotions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_promotions_total",
				Help: "Total number of leads promoted to candidates",
			},
		),

		GateBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_gate_blocks_total",
				Help: "Total number of stage runs refused by the dependency gate",
			},
			[]string{"code"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_cache_hit_ratio",
				Help: "Current cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_cache_hits_total",
				Help: "Total number of cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_cache_misses_total",
				Help: "Total number of cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		ActiveBatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_active_batches",
				Help: "Number of admission batches currently in flight",
			},
		),

		TotalBatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_batches_total",
				Help: "Total number of admission batches processed",
			},
		),
	}

	m.registry.MustRegister(
		m.StageDuration,
		m.StageRuns,
		m.TriageOutcomes,
		m.Promotions,
		m.GateBlocks,
		m.CacheHitRatio,
		m.CacheHits,
		m.CacheMisses,
		m.ActiveBatches,
		m.TotalBatches,
	)

	return m
}

// StageTimer tracks execution time for one stage invocation.
type StageTimer struct {
	metrics *MetricsRegistry
	stage   string
	start   time.Time
}

// StartStageTimer begins timing a stage execution.
func (m *MetricsRegistry) StartStageTimer(stage string) *StageTimer {
	return &StageTimer{
		metrics: m,
		stage:   stage,
		start:   time.Now(),
	}
}

// Stop completes the timing and records both duration and run count.
func (st *StageTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StageDuration.WithLabelValues(st.stage, result).Observe(duration.Seconds())
	st.metrics.StageRuns.WithLabelValues(st.stage, result).Inc()

	log.Debug().
		Str("stage", st.stage).
		Str("result", result).
		Dur("duration", duration).
		Msg("Stage execution completed")
}

// RecordOutcome records one triaged lead by disposition.
func (m *MetricsRegistry) RecordOutcome(disposition string) {
	m.TriageOutcomes.WithLabelValues(disposition).Inc()
}

// RecordGateBlock records a dependency-gate refusal.
func (m *MetricsRegistry) RecordGateBlock(code string) {
	m.GateBlocks.WithLabelValues(code).Inc()
}

// RecordCacheHit records a cache hit for the specified cache type.
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss for the specified cache type.
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// Cache types the hit ratio aggregates over.
var cacheTypes = []string{"fingerprint", "cooldown"}

// updateCacheHitRatio recomputes the hit ratio gauge from the counters.
func (m *MetricsRegistry) updateCacheHitRatio() {
	var sample io_prometheus_client.Metric

	totalHits := 0.0
	totalMisses := 0.0

	for _, cacheType := range cacheTypes {
		if hitCounter, err := m.CacheHits.GetMetricWithLabelValues(cacheType); err == nil {
			if err := hitCounter.Write(&sample); err == nil {
				totalHits += sample.GetCounter().GetValue()
			}
		}

		if missCounter, err := m.CacheMisses.GetMetricWithLabelValues(cacheType); err == nil {
			if err := missCounter.Write(&sample); err == nil {
				totalMisses += sample.GetCounter().GetValue()
			}
		}
	}

	total := totalHits + totalMisses
	if total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}

// Handler returns the HTTP handler exposing this registry.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
