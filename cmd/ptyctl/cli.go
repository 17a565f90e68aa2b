package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/config"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/server"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal"
)

// CLI is the root command.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	Run    RunCmd    `cmd:"" help:"Run a bounded one-shot command through the login shell"`
	Detect DetectCmd `cmd:"" help:"Probe installed agent CLIs"`
	Shell  ShellCmd  `cmd:"" help:"Show the resolved shell and PATH extensions"`
	Attach AttachCmd `cmd:"" help:"Open an interactive shell session in this terminal"`
}

// Globals are flags shared by every command.
type Globals struct {
	Settings string `help:"Shell settings file (.json, .yaml, .toml)" type:"path" env:"TERMINAL_SETTINGS"`
	LogLevel string `help:"Log level" default:"warn" enum:"debug,info,warn,error"`

	logger *logging.Logger
	stdout io.Writer
	stderr io.Writer
}

// exitCode carries a child's exit status out of a command.
type exitCode struct {
	code int
}

func (e *exitCode) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// provider builds a terminal provider from the environment and flags.
func (g *Globals) provider() (*terminal.Provider, error) {
	cfg := config.LoadOrDefault()
	if g.Settings != "" {
		cfg.Terminal.SettingsFile = g.Settings
	}

	logger, err := logging.New(logging.TerminalConfig(g.LogLevel))
	if err != nil {
		return nil, err
	}
	g.logger = logger

	return server.NewTerminalProvider(cfg, logger, nil)
}

func (g *Globals) out() io.Writer {
	if g.stdout == nil {
		return os.Stdout
	}
	return g.stdout
}

func (g *Globals) errOut() io.Writer {
	if g.stderr == nil {
		return os.Stderr
	}
	return g.stderr
}

// Close flushes the logger.
func (g *Globals) Close() {
	if g.logger != nil {
		_ = g.logger.Sync()
	}
}
