// Package utils holds request validation helpers shared by the HTTP and
// WebSocket handlers.
package utils
