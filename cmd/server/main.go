package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/config"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/server"
)

// Version is injected at build time via -ldflags="-X main.Version=v1.0.0".
var Version = "dev"

// CLI flags override the environment. Empty values keep the environment's.
type CLI struct {
	Host     string           `help:"Listen host (overrides HOST)"`
	Port     string           `help:"Listen port (overrides PORT)"`
	Settings string           `help:"Shell settings file (.json, .yaml, .toml)" type:"path"`
	Dev      bool             `help:"Development logging (colored console, debug level)"`
	Version  kong.VersionFlag `help:"Show version information"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("ptyhost"),
		kong.Description("PTY session and process lifecycle host"),
		kong.Vars{"version": "ptyhost " + Version},
		kong.UsageOnError(),
	)

	if err := run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cli CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cli.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}
	return nil
}

func (c CLI) apply(cfg *config.Config) {
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != "" {
		cfg.Server.Port = c.Port
	}
	if c.Settings != "" {
		cfg.Terminal.SettingsFile = c.Settings
	}
	if c.Dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if cfg.Logging.Development {
		lc := logging.DevelopmentConfig()
		lc.Level = cfg.Logging.Level
		return logging.New(lc)
	}
	lc := logging.DefaultConfig()
	lc.Level = cfg.Logging.Level
	return logging.New(lc)
}
