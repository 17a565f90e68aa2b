// Package config provides 12-factor configuration for the terminal backend.
//
// Configuration is loaded from environment variables with defaults. The
// user's shell preference lives in a separate settings file (JSON, YAML or
// TOML) read by LoadSettings.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting
//   - Terminal: session geometry, output buffering, exit grace period
//   - Runner: one-shot command timeouts
//
// Environment Variables:
//   - PORT, HOST
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - TERMINAL_COLS, TERMINAL_ROWS, TERMINAL_OUTPUT_BUFFER, TERMINAL_EXIT_GRACE,
//     TERMINAL_SETTINGS, TERMINAL_SCROLLBACK_KIB
//   - RUNNER_TIMEOUT, RUNNER_DETECT_TIMEOUT
package config
