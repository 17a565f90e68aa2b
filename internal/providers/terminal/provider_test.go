package terminal

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/detect"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/ptyproc"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/runner"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/shell"
	"github.com/zhaoge0202/EnsoAI/internal/shared/types"
)

type stubRunner struct {
	outputs map[string]string
}

func (s stubRunner) Run(_ context.Context, req runner.Request) (*runner.Result, error) {
	out, ok := s.outputs[req.Command]
	if !ok {
		return nil, &runner.ExitError{Output: "command not found", Code: 127}
	}
	return &runner.Result{Output: out}, nil
}

func newFakeProvider(t *testing.T, opts ...ProviderOption) (*Provider, *fakeStarter) {
	t.Helper()
	m, fs, _ := newFakeManager(t)
	return NewProvider(m, runner.New(), opts...), fs
}

func execute(t *testing.T, p *Provider, tool string, params map[string]interface{}) *types.Result {
	t.Helper()
	res, err := p.Execute(context.Background(), tool, params, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestDefinitionListsRoutableTools(t *testing.T) {
	p, _ := newFakeProvider(t, WithDetector(detect.New(stubRunner{})))
	def := p.Definition()

	assert.Equal(t, "terminal", def.ID)
	assert.Len(t, def.Tools, 11)
	for _, tool := range def.Tools {
		_, err := p.Execute(context.Background(), tool.ID, map[string]interface{}{}, nil)
		if err != nil {
			assert.NotContains(t, err.Error(), "unknown tool", tool.ID)
		}
	}

	_, err := p.Execute(context.Background(), "terminal.nope", nil, nil)
	assert.EqualError(t, err, "unknown tool: terminal.nope")
}

func TestSessionToolsRoundTrip(t *testing.T) {
	p, fs := newFakeProvider(t)

	created := execute(t, p, "terminal.create_session", map[string]interface{}{
		"cols": float64(100),
		"rows": float64(30),
		"env":  map[string]interface{}{"FOO": "bar", "SKIP": 1},
	})
	sid := created.Data["id"].(string)
	assert.Equal(t, 100, created.Data["cols"])
	assert.Equal(t, 30, created.Data["rows"])
	assert.Contains(t, fs.specs[0].Env, "FOO=bar")

	res := execute(t, p, "terminal.write", map[string]interface{}{"session_id": sid, "input": "ls\n"})
	assert.Equal(t, true, res.Data["found"])

	encoded := base64.StdEncoding.EncodeToString([]byte{0x03})
	execute(t, p, "terminal.write", map[string]interface{}{"session_id": sid, "input_base64": encoded})

	proc := fs.last()
	proc.mu.Lock()
	assert.Equal(t, "ls\n\x03", string(proc.written))
	proc.mu.Unlock()

	proc.out <- []byte("hi")
	var output string
	assert.Eventually(t, func() bool {
		res, err := p.Execute(context.Background(), "terminal.read", map[string]interface{}{"session_id": sid}, nil)
		if err != nil {
			return false
		}
		output += res.Data["output"].(string)
		return output == "hi"
	}, 2*time.Second, 10*time.Millisecond)

	execute(t, p, "terminal.resize", map[string]interface{}{"session_id": sid, "cols": float64(120), "rows": float64(40)})
	info := execute(t, p, "terminal.get_session", map[string]interface{}{"session_id": sid})
	assert.Equal(t, 120, info.Data["cols"])

	list := execute(t, p, "terminal.list_sessions", nil)
	assert.Equal(t, 1, list.Data["count"])

	killed := execute(t, p, "terminal.kill", map[string]interface{}{"session_id": sid})
	assert.Equal(t, true, killed.Data["found"])

	_, err := p.Execute(context.Background(), "terminal.get_session", map[string]interface{}{"session_id": sid}, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = p.Execute(context.Background(), "terminal.read", map[string]interface{}{"session_id": sid}, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReadReportsExitOnce(t *testing.T) {
	p, fs := newFakeProvider(t)
	st, err := p.CreateSession(context.Background(), Options{})
	require.NoError(t, err)
	sid := st.Session().ID().String()

	proc := fs.last()
	proc.out <- []byte("bye")
	proc.exit <- ptyproc.ExitState{Code: 2}
	close(proc.out)
	<-st.Done()

	res := execute(t, p, "terminal.read", map[string]interface{}{"session_id": sid})
	assert.Equal(t, "bye", res.Data["output"])
	assert.Equal(t, true, res.Data["exited"])
	assert.Equal(t, 2, res.Data["exit_code"])

	_, err = p.Execute(context.Background(), "terminal.read", map[string]interface{}{"session_id": sid}, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUnreadExitedSessionsExpire(t *testing.T) {
	p, fs := newFakeProvider(t, WithExitRetention(30*time.Millisecond))

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		st, err := p.CreateSession(context.Background(), Options{})
		require.NoError(t, err)
		ids = append(ids, st.Session().ID().String())

		proc := fs.last()
		proc.out <- []byte("scrollback that nobody reads")
		proc.exit <- ptyproc.ExitState{Code: 0}
		close(proc.out)
		<-st.Done()
	}
	assert.Eventually(t, func() bool { return p.Manager().Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	retained := func() int {
		n := 0
		p.streams.Range(func(_, _ any) bool { n++; return true })
		return n
	}
	assert.Eventually(t, func() bool { return retained() == 0 }, 2*time.Second, 10*time.Millisecond)

	for _, sid := range ids {
		_, err := p.Execute(context.Background(), "terminal.read", map[string]interface{}{"session_id": sid}, nil)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	}
}

func TestStaleSessionToolsReportNotFound(t *testing.T) {
	p, _ := newFakeProvider(t)
	params := map[string]interface{}{"session_id": "pty_missing", "input": "x", "cols": float64(10), "rows": float64(5)}

	for _, tool := range []string{"terminal.write", "terminal.resize", "terminal.kill"} {
		res := execute(t, p, tool, params)
		assert.Equal(t, false, res.Data["found"], tool)
	}
}

func TestParameterValidation(t *testing.T) {
	p, _ := newFakeProvider(t)
	ctx := context.Background()

	_, err := p.Execute(ctx, "terminal.write", map[string]interface{}{"input": "x"}, nil)
	assert.EqualError(t, err, "session_id is required")

	_, err = p.Execute(ctx, "terminal.write", map[string]interface{}{"session_id": "pty_x"}, nil)
	assert.EqualError(t, err, "input is required")

	_, err = p.Execute(ctx, "terminal.write", map[string]interface{}{"session_id": "pty_x", "input_base64": "%%"}, nil)
	assert.ErrorContains(t, err, "invalid input_base64")

	_, err = p.Execute(ctx, "terminal.resize", map[string]interface{}{"session_id": "pty_x", "cols": float64(0), "rows": float64(5)}, nil)
	assert.EqualError(t, err, "cols is required")

	_, err = p.Execute(ctx, "terminal.kill_under", map[string]interface{}{"dir": "  "}, nil)
	assert.EqualError(t, err, "dir is required")

	_, err = p.Execute(ctx, "terminal.run_command", map[string]interface{}{}, nil)
	assert.EqualError(t, err, "command is required")
}

func TestKillUnderAndKillAll(t *testing.T) {
	p, _ := newFakeProvider(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := p.CreateSession(ctx, Options{Dir: dir})
	require.NoError(t, err)
	_, err = p.CreateSession(ctx, Options{})
	require.NoError(t, err)

	res := execute(t, p, "terminal.kill_under", map[string]interface{}{"dir": dir})
	assert.Equal(t, 1, res.Data["count"])

	res = execute(t, p, "terminal.kill_all", nil)
	assert.Equal(t, 1, res.Data["count"])
	assert.Eventually(t, func() bool { return p.Manager().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDefaultShellApplies(t *testing.T) {
	m, fs, _ := newFakeManager(t, WithResolver(fakeResolver("linux", "/bin/bash", "/usr/bin/fish")))
	p := NewProvider(m, runner.New(), WithDefaultShell(&shell.Config{Kind: shell.KindCustom, Path: "/usr/bin/fish"}))

	_, err := p.CreateSession(context.Background(), Options{})
	require.NoError(t, err)
	_, err = p.CreateSession(context.Background(), Options{Shell: "/bin/bash"})
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/fish", fs.specs[0].Path)
	assert.Equal(t, "/bin/bash", fs.specs[1].Path)
}

func TestCommandResultShapes(t *testing.T) {
	res, err := CommandResult(&runner.Result{Output: "v1.2.3"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]interface{}{"ok": true, "output": "v1.2.3"}, res.Data)

	res, err = CommandResult(&runner.Result{Output: "part", Truncated: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, res.Data["truncated"])

	res, err = CommandResult(nil, &runner.ExitError{Output: "boom", Code: 2})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, false, res.Data["ok"])
	assert.Equal(t, "boom", res.Data["output"])
	assert.Equal(t, 2, res.Data["exit_code"])

	res, err = CommandResult(nil, &runner.TimeoutError{Output: "slow", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, true, res.Data["timed_out"])
	assert.Equal(t, "slow", res.Data["output"])
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "timed out")

	startErr := &runner.StartError{Shell: "/bin/none", Err: errors.New("no such file")}
	_, err = CommandResult(nil, startErr)
	assert.ErrorIs(t, err, startErr)
}

func TestDetectCLIs(t *testing.T) {
	stub := stubRunner{outputs: map[string]string{"claude --version": "2.0.14 (Claude Code)"}}
	p, _ := newFakeProvider(t, WithDetector(detect.New(stub)))

	res := execute(t, p, "terminal.detect_clis", map[string]interface{}{"ids": []interface{}{"claude", "codex"}})
	statuses := res.Data["clis"].([]detect.Status)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Installed)
	assert.Equal(t, "2.0.14", statuses[0].Version)
	assert.False(t, statuses[1].Installed)
	assert.Equal(t, 1, res.Data["installed"])

	_, err := p.Execute(context.Background(), "terminal.detect_clis", map[string]interface{}{"ids": []interface{}{"nope"}}, nil)
	assert.Error(t, err)
}
