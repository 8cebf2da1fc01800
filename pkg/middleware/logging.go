package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fieldgate/fieldgate/pkg/observability"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logging stores the logger in the request context and writes one
// structured line per request.
func Logging(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			ctx := observability.WithLogger(r.Context(), logger)
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			entry := logger.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"bytes":       rec.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if requestID := RequestIDFrom(r.Context()); requestID != "" {
				entry = entry.WithField("request_id", requestID)
			}
			if user := UserFrom(r.Context()); user != nil && !user.IsAnonymous() {
				entry = entry.WithField("user_id", user.ID)
			}

			if rec.status >= 500 {
				entry.Error("request failed")
			} else {
				entry.Info("request handled")
			}
		})
	}
}
