package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/fieldgate/pkg/observability"
)

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	router := mux.NewRouter()
	router.Use(RequestID())
	var seen string
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_ReusesHeader(t *testing.T) {
	router := mux.NewRouter()
	router.Use(RequestID())
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestLogging_WritesRequestLine(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	router := mux.NewRouter()
	router.Use(RequestID(), Logging(logger))
	router.HandleFunc("/things", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("gone"))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/things", nil))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request handled", entry["msg"])
	assert.Equal(t, "/things", entry["path"])
	assert.Equal(t, float64(404), entry["status"])
	assert.NotEmpty(t, entry["request_id"])
}

func TestMetrics_RecordsRouteTemplate(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(Metrics(m))
	router.HandleFunc("/product/{pk}", func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/product/42", nil))

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/product/{pk}", "200"))
	assert.Equal(t, float64(1), count)
}

func TestRecovery_ConvertsPanicTo500(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.ErrorLevel, &buf)

	router := mux.NewRouter()
	router.Use(Recovery(logger))
	router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("nil descriptor")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message": "Internal server error."}`, rec.Body.String())
	assert.Contains(t, buf.String(), "panic recovered")
}
