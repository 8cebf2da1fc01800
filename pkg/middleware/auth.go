package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/fieldgate/fieldgate/pkg/auth"
	"github.com/fieldgate/fieldgate/pkg/contextkeys"
	"github.com/fieldgate/fieldgate/pkg/httputil"
	"github.com/fieldgate/fieldgate/pkg/perms"
)

// Authentication resolves the bearer token on each request. Requests
// without a token proceed as the anonymous user; requests with an
// invalid or expired token are rejected with 401.
func Authentication(manager *auth.Manager) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)

			user, err := manager.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidToken) {
					httputil.WriteUnauthorized(w, "Invalid or expired token.")
					return
				}
				httputil.WriteInternalError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), contextkeys.UserKey, user)
			ctx = context.WithValue(ctx, contextkeys.SubjectKey, auth.SubjectFor(user))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(header)
}

// UserFrom returns the authenticated user stored by Authentication,
// or nil when the middleware did not run.
func UserFrom(ctx context.Context) *auth.User {
	user, _ := ctx.Value(contextkeys.UserKey).(*auth.User)
	return user
}

// SubjectFrom returns the permission subject for the current request.
// Falls back to the anonymous user subject.
func SubjectFrom(ctx context.Context) perms.Subject {
	if subject, ok := ctx.Value(contextkeys.SubjectKey).(perms.Subject); ok {
		return subject
	}
	return perms.Subject{}
}
