package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 80, cfg.Terminal.Cols)
	assert.Equal(t, 24, cfg.Terminal.Rows)
	assert.Equal(t, 30*time.Second, cfg.Runner.DefaultTimeout)
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("TERMINAL_COLS", "120")
	t.Setenv("TERMINAL_EXIT_GRACE", "1s")
	t.Setenv("RUNNER_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 120, cfg.Terminal.Cols)
	assert.Equal(t, 24, cfg.Terminal.Rows)
	assert.Equal(t, time.Second, cfg.Terminal.ExitGrace)
	assert.Equal(t, 5*time.Second, cfg.Runner.DefaultTimeout)
}

func TestLoadOrDefaultOnBadValue(t *testing.T) {
	t.Setenv("TERMINAL_COLS", "wide")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 80, cfg.Terminal.Cols)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	cfg := Default()
	cfg.Server.Port = "http"
	cfg.Logging.Level = "loud"
	cfg.Terminal.Rows = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "LOG_LEVEL")
	assert.Contains(t, err.Error(), "terminal size 80x0")
	assert.NotContains(t, err.Error(), "RUNNER_TIMEOUT")

	cfg = Default()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.RequestsPerSecond = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("TERMINAL_OUTPUT_BUFFER", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		data string
	}{
		{"json", ".json", `{"shell":{"kind":"WSL","distro":"Ubuntu","args":["-x"]},"env":{"FOO":"bar"}}`},
		{"yaml", ".yaml", "shell:\n  kind: wsl\n  distro: Ubuntu\n  args: [\"-x\"]\nenv:\n  FOO: bar\n"},
		{"yml", ".YML", "shell:\n  kind: wsl\n  distro: Ubuntu\n  args: [\"-x\"]\nenv:\n  FOO: bar\n"},
		{"toml", ".toml", "[shell]\nkind = \"wsl\"\ndistro = \"Ubuntu\"\nargs = [\"-x\"]\n\n[env]\nFOO = \"bar\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseSettings(tt.ext, []byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, "wsl", s.Shell.Kind)
			assert.Equal(t, "Ubuntu", s.Shell.Distro)
			assert.Equal(t, []string{"-x"}, s.Shell.Args)
			assert.Equal(t, "bar", s.Env["FOO"])
		})
	}
}

func TestParseSettingsUnsupported(t *testing.T) {
	_, err := ParseSettings(".ini", []byte("kind=zsh"))
	assert.Error(t, err)
}

func TestLoadSettingsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"shell":{"kind":"custom","path":"/bin/dash"}}`), 0o600))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", s.Shell.Kind)
	assert.Equal(t, "/bin/dash", s.Shell.Path)

	_, err = LoadSettings(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
