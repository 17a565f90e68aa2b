// Command server runs ptyhost, the HTTP and WebSocket front end for
// interactive shell sessions and bounded one-shot commands.
//
// Settings come from the environment (PORT, HOST, LOG_LEVEL, TERMINAL_*,
// RUNNER_* and friends); flags override them:
//
//	server --port 8000 --settings ~/.config/enso/settings.yaml
//	server --dev
//
// On SIGINT or SIGTERM the listener drains for SHUTDOWN_TIMEOUT and every
// live session is destroyed before exit.
package main
