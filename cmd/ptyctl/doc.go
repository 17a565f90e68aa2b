// Command ptyctl exercises the PTY host's process layer from a shell.
//
// It resolves shells, runs bounded commands and probes agent CLIs exactly as
// the server does, using the same configuration and settings file:
//
//	ptyctl run -t 5s -- git status --short
//	ptyctl detect --json claude codex
//	ptyctl shell --kind zsh -c 'echo hi'
//	ptyctl attach
//
// run exits with the command's status, or 124 when it timed out.
package main
