// Package http provides the REST API over the terminal backend.
//
// Endpoints:
//   - Health: /, /health, /stats
//   - Terminals: /terminals, /terminals/:id, /terminals/:id/input,
//     /terminals/:id/resize, /terminals/destroy-under
//   - Commands: /commands/run
//   - Detection: /clis
//   - Services: /services, /services/discover, /services/execute
//
// Example Usage:
//
//	handlers := http.NewHandlers(provider, registry, metrics, logger)
//	router.POST("/terminals", handlers.CreateTerminal)
package http
