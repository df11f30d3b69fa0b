package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the split-testing engine.
type Metrics struct {
	// Tracking metrics
	Impressions *prometheus.CounterVec
	Clicks      *prometheus.CounterVec
	Conversions *prometheus.CounterVec
	Revenue     *prometheus.CounterVec

	// Assignment metrics
	AssignmentsCreated *prometheus.CounterVec
	AssignmentRaces    *prometheus.CounterVec

	// Reporting metrics
	StatsLatency *prometheus.HistogramVec

	// System metrics
	ActiveExperiments prometheus.Gauge
	DBConnections     *prometheus.GaugeVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

var (
	// DefaultMetrics is the global metrics instance
	DefaultMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		Impressions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "impressions_total",
				Help:      "Total impressions recorded",
			},
			[]string{"experiment_id", "variant_id", "device_type"},
		),
		Clicks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_total",
				Help:      "Total clicks recorded",
			},
			[]string{"experiment_id", "variant_id"},
		),
		Conversions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total conversions recorded",
			},
			[]string{"experiment_id", "variant_id"},
		),
		Revenue: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revenue_dollars_total",
				Help:      "Total conversion revenue in dollars",
			},
			[]string{"experiment_id", "variant_id"},
		),

		AssignmentsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assignments_created_total",
				Help:      "First-touch variant assignments created",
			},
			[]string{"experiment_id", "variant_id", "method"},
		),
		AssignmentRaces: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assignment_races_total",
				Help:      "Assignment attempts that lost to an existing assignment",
			},
			[]string{"experiment_id"},
		),

		StatsLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stats_latency_seconds",
				Help:      "Experiment stats aggregation latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"experiment_id"},
		),

		ActiveExperiments: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_experiments",
				Help:      "Number of running experiments",
			},
		),
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),

		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint", "ip"},
		),
	}

	DefaultMetrics = m
	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordImpression records an impression.
func (m *Metrics) RecordImpression(experimentID, variantID, deviceType string) {
	m.Impressions.WithLabelValues(experimentID, variantID, deviceType).Inc()
}

// RecordClick records a click.
func (m *Metrics) RecordClick(experimentID, variantID string) {
	m.Clicks.WithLabelValues(experimentID, variantID).Inc()
}

// RecordConversion records a conversion and its revenue.
func (m *Metrics) RecordConversion(experimentID, variantID string, revenue float64) {
	m.Conversions.WithLabelValues(experimentID, variantID).Inc()
	if revenue > 0 {
		m.Revenue.WithLabelValues(experimentID, variantID).Add(revenue)
	}
}

// RecordAssignment records the outcome of a first-touch assignment attempt.
func (m *Metrics) RecordAssignment(experimentID, variantID, method string, created bool) {
	if created {
		m.AssignmentsCreated.WithLabelValues(experimentID, variantID, method).Inc()
	} else {
		m.AssignmentRaces.WithLabelValues(experimentID).Inc()
	}
}

// RecordStatsLatency records how long a stats aggregation took.
func (m *Metrics) RecordStatsLatency(experimentID string, latency time.Duration) {
	m.StatsLatency.WithLabelValues(experimentID).Observe(latency.Seconds())
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// UpdateActiveExperiments updates the running experiment count.
func (m *Metrics) UpdateActiveExperiments(n int) {
	m.ActiveExperiments.Set(float64(n))
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint, ip string) {
	m.RateLimitHits.WithLabelValues(endpoint, ip).Inc()
}
