// Package middleware provides the HTTP middleware chain for the API
// server: token authentication, request IDs, request logging, metrics,
// Redis-backed rate limiting, and panic recovery.
package middleware
