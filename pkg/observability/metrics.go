package observability

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission metrics
	PermissionDenialsTotal *prometheus.CounterVec

	// Serialization cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Search metrics
	SearchQueriesTotal  *prometheus.CounterVec
	SearchQueryDuration *prometheus.HistogramVec

	// Write pipeline metrics
	WriteTxDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fieldgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		PermissionDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldgate_permission_denials_total",
				Help: "Requests rejected by the permission layer",
			},
			[]string{"model", "action"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldgate_cache_hits_total",
				Help: "Serialization cache hits",
			},
			[]string{"model"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldgate_cache_misses_total",
				Help: "Serialization cache misses",
			},
			[]string{"model"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldgate_search_queries_total",
				Help: "Full-text search queries served",
			},
			[]string{"model"},
		),
		SearchQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fieldgate_search_query_duration_seconds",
				Help:    "Full-text search query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		WriteTxDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fieldgate_write_tx_duration_seconds",
				Help:    "Duration of the write transaction including permission and index updates",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "operation"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fieldgate_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fieldgate_db_connections_idle",
				Help: "Idle database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionDenialsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SearchQueriesTotal,
		m.SearchQueryDuration,
		m.WriteTxDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)
	return m
}

// Handler returns the /metrics scrape handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// UpdateDBStats refreshes the connection pool gauges
func (m *Metrics) UpdateDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}
