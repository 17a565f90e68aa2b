// Package logging builds the zap loggers used by the server and ptyctl.
//
// The server logs JSON unless LOG_DEV is set; ptyctl picks colored console
// output when stderr is a terminal. Packages under providers accept a plain
// *zap.Logger and call OrNop, so they log nothing unless a caller wires a
// logger in:
//
//	logger := logging.NewDefault()
//	manager := terminal.NewManager(terminal.WithLogger(logger.Component("terminal")))
package logging
