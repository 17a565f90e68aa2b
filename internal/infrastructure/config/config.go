package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
)

// Config is read from the environment; every field has a default so an empty
// environment yields a usable local server.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Terminal  TerminalConfig
	Runner    RunnerConfig
}

// ServerConfig is the HTTP listener. The host defaults to loopback since the
// API spawns shells with the server's privileges.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"127.0.0.1"`
	AllowOrigins    []string      `envconfig:"CORS_ORIGINS" default:"*"`
	CORSLoopback    bool          `envconfig:"CORS_LOOPBACK" default:"false"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig is the per-client request budget.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// TerminalConfig holds interactive session defaults.
type TerminalConfig struct {
	Cols          int           `envconfig:"TERMINAL_COLS" default:"80"`
	Rows          int           `envconfig:"TERMINAL_ROWS" default:"24"`
	OutputBuffer  int           `envconfig:"TERMINAL_OUTPUT_BUFFER" default:"256"`
	ExitGrace     time.Duration `envconfig:"TERMINAL_EXIT_GRACE" default:"200ms"`
	SettingsFile  string        `envconfig:"TERMINAL_SETTINGS"`
	ScrollbackKiB int           `envconfig:"TERMINAL_SCROLLBACK_KIB" default:"64"`
	ExitRetention time.Duration `envconfig:"TERMINAL_EXIT_RETENTION" default:"2m"`
	SpawnFailures uint32        `envconfig:"TERMINAL_SPAWN_FAILURES" default:"5"`
	SpawnCooldown time.Duration `envconfig:"TERMINAL_SPAWN_COOLDOWN" default:"30s"`
}

// RunnerConfig holds one-shot command execution defaults.
type RunnerConfig struct {
	DefaultTimeout time.Duration `envconfig:"RUNNER_TIMEOUT" default:"30s"`
	DetectTimeout  time.Duration `envconfig:"RUNNER_DETECT_TIMEOUT" default:"10s"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every out-of-range value at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	port, err := strconv.Atoi(c.Server.Port)
	check(err == nil && port >= 0 && port <= 65535, "PORT %q is not a port number", c.Server.Port)
	_, err = zapcore.ParseLevel(c.Logging.Level)
	check(err == nil, "LOG_LEVEL %q is not a log level", c.Logging.Level)
	check(!c.RateLimit.Enabled || c.RateLimit.RequestsPerSecond > 0, "RATE_LIMIT_RPS must be positive")
	check(c.Terminal.Cols > 0 && c.Terminal.Rows > 0, "terminal size %dx%d must be positive", c.Terminal.Cols, c.Terminal.Rows)
	check(c.Terminal.OutputBuffer > 0, "TERMINAL_OUTPUT_BUFFER must be positive")
	check(c.Terminal.ScrollbackKiB >= 0, "TERMINAL_SCROLLBACK_KIB must not be negative")
	check(c.Runner.DefaultTimeout > 0, "RUNNER_TIMEOUT must be positive")

	return errors.Join(errs...)
}

// LoadOrDefault falls back to Default when the environment is unusable.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default mirrors the envconfig defaults above.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "127.0.0.1",
			AllowOrigins:    []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Terminal: TerminalConfig{
			Cols:          80,
			Rows:          24,
			OutputBuffer:  256,
			ExitGrace:     200 * time.Millisecond,
			ScrollbackKiB: 64,
			ExitRetention: 2 * time.Minute,
			SpawnFailures: 5,
			SpawnCooldown: 30 * time.Second,
		},
		Runner: RunnerConfig{
			DefaultTimeout: 30 * time.Second,
			DetectTimeout:  10 * time.Second,
		},
	}
}
