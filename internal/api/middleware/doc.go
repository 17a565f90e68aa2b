// Package middleware provides the gin middleware stack of the HTTP API:
// CORS, per-client rate limiting, request ids and access logging.
package middleware
