package server

import (
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/config"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/monitoring"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/resilience"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/env"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/runner"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/shell"
)

// NewTerminalProvider wires the session manager, command runner and CLI
// detector from configuration. A settings file, when configured, supplies the
// default shell and extra environment variables for every spawn.
func NewTerminalProvider(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (*terminal.Provider, error) {
	settings, err := loadSettings(cfg.Terminal.SettingsFile)
	if err != nil {
		return nil, err
	}

	log := logger.Component("terminal")
	resolver := shell.NewResolver()
	builder := env.NewBuilder(env.WithEnviron(environ(settings)))
	spawns := resilience.New("pty_spawn", resilience.Settings{
		Failures: cfg.Terminal.SpawnFailures,
		Cooldown: cfg.Terminal.SpawnCooldown,
		Logger:   log,
	})

	manager := terminal.NewManager(
		terminal.WithLogger(log),
		terminal.WithMetrics(metrics),
		terminal.WithResolver(resolver),
		terminal.WithEnvBuilder(builder),
		terminal.WithSpawnBreaker(spawns),
		terminal.WithDefaultSize(cfg.Terminal.Cols, cfg.Terminal.Rows),
		terminal.WithOutputBuffer(cfg.Terminal.OutputBuffer),
		terminal.WithExitGrace(cfg.Terminal.ExitGrace),
	)

	run := runner.New(
		runner.WithLogger(logger.Component("runner")),
		runner.WithMetrics(metrics),
		runner.WithResolver(resolver),
		runner.WithEnvBuilder(builder),
		runner.WithSpawnBreaker(spawns),
		runner.WithDefaultTimeout(cfg.Runner.DefaultTimeout),
	)

	opts := []terminal.ProviderOption{
		terminal.WithProviderLogger(log),
		terminal.WithScrollbackLimit(cfg.Terminal.ScrollbackKiB * 1024),
		terminal.WithExitRetention(cfg.Terminal.ExitRetention),
		terminal.WithDetectTimeout(cfg.Runner.DetectTimeout),
	}
	if sc := shellConfig(settings); sc != nil {
		log.Info("Default shell configured", zap.String("kind", string(sc.Kind)), zap.String("path", sc.Path))
		opts = append(opts, terminal.WithDefaultShell(sc))
	}

	return terminal.NewProvider(manager, run, opts...), nil
}

func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		return nil, nil
	}
	settings, err := config.LoadSettings(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load terminal settings: %w", err)
	}
	return settings, nil
}

// shellConfig converts persisted preferences. An empty kind means auto-detect.
func shellConfig(settings *config.Settings) *shell.Config {
	if settings == nil || settings.Shell.Kind == "" {
		return nil
	}
	return &shell.Config{
		Kind:   shell.Kind(settings.Shell.Kind),
		Path:   settings.Shell.Path,
		Args:   settings.Shell.Args,
		Distro: settings.Shell.Distro,
	}
}

// environ layers settings variables over the process environment.
func environ(settings *config.Settings) func() []string {
	if settings == nil || len(settings.Env) == 0 {
		return os.Environ
	}
	keys := make([]string, 0, len(settings.Env))
	for k := range settings.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return func() []string {
		vars := os.Environ()
		for _, k := range keys {
			vars = append(vars, k+"="+settings.Env[k])
		}
		return vars
	}
}
