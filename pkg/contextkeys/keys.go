// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here. This
// prevents typos, documents dependencies, and makes key usage
// discoverable.
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserKey contains the authenticated *auth.User
	// Set by: middleware.Authentication
	// Required by: request handlers, audit logging
	UserKey Key = "user"

	// SubjectKey contains the request's perms.Subject
	// Set by: middleware.Authentication
	// Required by: all permission-checked handlers
	SubjectKey Key = "subject"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: logging, response headers
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.Logging
	// Used by: handlers that log with request context
	LoggerKey Key = "logger"
)
