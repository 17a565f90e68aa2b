// Package service provides the service registry behind the tool API.
//
// Providers describe themselves with a types.Service definition and handle
// tool calls addressed as "<service>.<tool>". The registry routes calls,
// records a metric per call and supports keyword discovery over the
// registered definitions.
//
// Example Usage:
//
//	registry := service.NewRegistry(service.WithLogger(log), service.WithMetrics(metrics))
//	registry.Register(terminalProvider)
//	result, err := registry.Execute(ctx, "terminal.run_command", params, appCtx)
package service
