package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/resilience"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/ptyproc"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "v1.2.3\n", "v1.2.3"},
		{"crlf", "line1\r\nline2\r\n", "line1\nline2"},
		{"sgr", "\x1b[1;32mok\x1b[0m", "ok"},
		{"osc title", "\x1b]0;title\x07hello", "hello"},
		{"cursor moves", "\x1b[?25l\x1b[2Kready\x1b[?25h\r\n", "ready"},
		{"whitespace only", " \r\n\t", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	_, err := New().Run(context.Background(), Request{Command: "  "})
	assert.Error(t, err)
}

func TestRunStartError(t *testing.T) {
	r := New()
	r.start = func(ptyproc.Spec) (process, error) { return nil, errors.New("no pty available") }

	_, err := r.Run(context.Background(), Request{Command: "true"})

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Contains(t, err.Error(), "no pty available")
}

func TestRunMissingDirFallsBackToHome(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := New(WithLogger(zap.New(core)))
	var dirs []string
	r.start = func(spec ptyproc.Spec) (process, error) {
		dirs = append(dirs, spec.Dir)
		return nil, errors.New("stop here")
	}

	existing := t.TempDir()
	missing := filepath.Join(existing, "gone")
	for _, dir := range []string{existing, missing} {
		_, err := r.Run(context.Background(), Request{Command: "true", Dir: dir})
		var startErr *StartError
		require.ErrorAs(t, err, &startErr)
	}

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, []string{existing, home}, dirs)
	assert.Equal(t, 1, logs.FilterMessage("working directory unavailable, using home").Len())
}

func TestRunSpawnBreaker(t *testing.T) {
	starts := 0
	r := New(WithSpawnBreaker(resilience.New("pty_spawn", resilience.Settings{Failures: 2, Cooldown: time.Minute})))
	r.start = func(ptyproc.Spec) (process, error) {
		starts++
		return nil, errors.New("no pty available")
	}

	for i := 0; i < 2; i++ {
		_, err := r.Run(context.Background(), Request{Command: "true"})
		var startErr *StartError
		require.ErrorAs(t, err, &startErr)
	}

	_, err := r.Run(context.Background(), Request{Command: "true"})
	assert.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, 2, starts)
}

func TestTimeoutPolicyDefaultsToFail(t *testing.T) {
	var req Request
	assert.Equal(t, TimeoutFail, req.OnTimeout)
	assert.Equal(t, "fail", TimeoutFail.String())
	assert.Equal(t, "keep_partial", TimeoutKeepPartial.String())
}

func TestExitCodeFromSignal(t *testing.T) {
	assert.Equal(t, 3, exitCode(ptyproc.ExitState{Code: 3}))
	assert.Equal(t, 137, exitCode(ptyproc.ExitState{Code: -1, Signal: 9}))
}
