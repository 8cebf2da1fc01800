package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"

	"github.com/fieldgate/fieldgate/pkg/httputil"
	"github.com/fieldgate/fieldgate/pkg/observability"
)

// Recovery converts handler panics into 500 responses with a logged
// stack trace. It sits outermost in the chain.
func Recovery(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithFields(map[string]interface{}{
						"panic":  rec,
						"method": r.Method,
						"path":   r.URL.Path,
						"stack":  string(debug.Stack()),
					}).Error("panic recovered in handler")
					httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Internal server error.")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
