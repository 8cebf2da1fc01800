package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersIncrement(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.HTTPRequestsTotal.WithLabelValues("GET", "/{model}", "200").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/{model}", "200").Inc()
	m.PermissionDenialsTotal.WithLabelValues("product", "w").Inc()
	m.CacheHitsTotal.WithLabelValues("product").Inc()
	m.CacheMissesTotal.WithLabelValues("product").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/{model}", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PermissionDenialsTotal.WithLabelValues("product", "w")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("product")))
}

func TestMetrics_HandlerExposesMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SearchQueriesTotal.WithLabelValues("product").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "fieldgate_search_queries_total")
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)
	assert.Panics(t, func() { NewMetrics(registry) })
}
