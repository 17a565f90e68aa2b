package terminal

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/detect"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/runner"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/shell"
	"github.com/zhaoge0202/EnsoAI/internal/shared/id"
	"github.com/zhaoge0202/EnsoAI/internal/shared/types"
)

const defaultExitRetention = 2 * time.Minute

// Provider exposes sessions, one-shot commands and CLI detection as
// service tools.
type Provider struct {
	manager  *Manager
	runner   *runner.Runner
	detector *detect.Detector

	streams    sync.Map // id.TerminalID -> *Stream
	scrollback int
	retention  time.Duration
	shell      *shell.Config
	probeWait  time.Duration
	log        *zap.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithProviderLogger sets the logger.
func WithProviderLogger(log *zap.Logger) ProviderOption {
	return func(p *Provider) { p.log = logging.OrNop(log) }
}

// WithDetector sets the CLI detector. Defaults to one running probes through
// the provider.
func WithDetector(d *detect.Detector) ProviderOption {
	return func(p *Provider) { p.detector = d }
}

// WithDetectTimeout bounds each probe of the default detector.
func WithDetectTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) { p.probeWait = d }
}

// WithScrollbackLimit bounds the bytes kept per session for terminal.read.
func WithScrollbackLimit(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.scrollback = n
		}
	}
}

// WithExitRetention bounds how long an exited session's output stays
// readable when nobody reads it.
func WithExitRetention(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.retention = d
		}
	}
}

// WithDefaultShell sets the shell used when a request names none.
func WithDefaultShell(cfg *shell.Config) ProviderOption {
	return func(p *Provider) { p.shell = cfg }
}

// NewProvider creates a terminal provider. Nil arguments select defaults.
func NewProvider(manager *Manager, run *runner.Runner, opts ...ProviderOption) *Provider {
	if manager == nil {
		manager = NewManager()
	}
	if run == nil {
		run = runner.New()
	}
	p := &Provider{
		manager:    manager,
		runner:     run,
		scrollback: defaultScrollback,
		retention:  defaultExitRetention,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.detector == nil {
		p.detector = detect.New(p, detect.WithLogger(p.log), detect.WithTimeout(p.probeWait))
	}
	return p
}

// Manager returns the session manager.
func (p *Provider) Manager() *Manager { return p.manager }

// Runner returns the command runner.
func (p *Provider) Runner() *runner.Runner { return p.runner }

// Detector returns the CLI detector.
func (p *Provider) Detector() *detect.Detector { return p.detector }

// CreateSession starts a session and attaches its output stream.
func (p *Provider) CreateSession(ctx context.Context, opts Options) (*Stream, error) {
	if opts.Shell == "" && opts.ShellConfig == nil {
		opts.ShellConfig = p.shell
	}
	s, err := p.manager.Create(ctx, opts)
	if err != nil {
		return nil, err
	}
	st := NewStream(s,
		WithScrollback(p.scrollback),
		WithStreamLogger(p.log),
		WithOnExit(func(status ExitStatus) {
			if status.Destroyed {
				p.streams.Delete(s.ID())
				return
			}
			// Exited sessions stay readable until a read reports the exit
			// or the retention window closes.
			time.AfterFunc(p.retention, func() {
				if _, ok := p.streams.LoadAndDelete(s.ID()); ok {
					p.log.Debug("expired unread session output", zap.String("session_id", s.ID().String()))
				}
			})
		}))
	p.streams.Store(s.ID(), st)
	if status, done := st.Exited(); done && status.Destroyed {
		p.streams.Delete(s.ID())
	}
	return st, nil
}

// Run executes a bounded command, using the default shell when the
// request names none.
func (p *Provider) Run(ctx context.Context, req runner.Request) (*runner.Result, error) {
	if req.Shell == "" && req.ShellConfig == nil {
		req.ShellConfig = p.shell
	}
	return p.runner.Run(ctx, req)
}

// Stream returns the output stream of a live or exited-but-unread session.
func (p *Provider) Stream(sessionID id.TerminalID) (*Stream, error) {
	v, ok := p.streams.Load(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return v.(*Stream), nil
}

// Kill destroys a session and forgets its stream.
func (p *Provider) Kill(sessionID id.TerminalID) bool {
	_, found := p.streams.LoadAndDelete(sessionID)
	p.manager.Destroy(sessionID)
	return found
}

// KillAll destroys every session.
func (p *Provider) KillAll() int {
	n := p.manager.DestroyAll()
	p.forgetExited()
	return n
}

// KillUnder destroys every session rooted at or below dir.
func (p *Provider) KillUnder(dir string) int {
	return p.manager.DestroyUnder(dir)
}

func (p *Provider) forgetExited() {
	p.streams.Range(func(key, value any) bool {
		if _, done := value.(*Stream).Exited(); done {
			p.streams.Delete(key)
		}
		return true
	})
}

// Definition returns service metadata
func (p *Provider) Definition() types.Service {
	return types.Service{
		ID:          "terminal",
		Name:        "Terminal Service",
		Description: "Interactive shell sessions on pseudo-terminals, bounded one-shot commands and agent CLI detection",
		Category:    types.CategorySystem,
		Capabilities: []string{
			"pty",
			"shell",
			"interactive",
			"sessions",
			"resize",
			"process_tree",
			"commands",
			"detection",
		},
		Tools: p.getTools(),
	}
}

// Execute routes to appropriate operation
func (p *Provider) Execute(ctx context.Context, toolID string, params map[string]interface{}, appCtx *types.Context) (*types.Result, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	switch toolID {
	case "terminal.create_session":
		return p.createSession(ctx, params)
	case "terminal.write":
		return p.write(params)
	case "terminal.read":
		return p.read(params)
	case "terminal.resize":
		return p.resize(params)
	case "terminal.list_sessions":
		return p.listSessions()
	case "terminal.get_session":
		return p.getSession(params)
	case "terminal.kill":
		return p.kill(params)
	case "terminal.kill_all":
		return p.killAll()
	case "terminal.kill_under":
		return p.killUnder(params)
	case "terminal.run_command":
		return p.runCommand(ctx, params)
	case "terminal.detect_clis":
		return p.detectCLIs(ctx, params)
	default:
		return nil, fmt.Errorf("unknown tool: %s", toolID)
	}
}

func sessionIDParameter() types.Parameter {
	return types.Parameter{Name: "session_id", Type: "string", Description: "Terminal session ID", Required: true}
}

func (p *Provider) getTools() []types.Tool {
	return []types.Tool{
		{
			ID:          "terminal.create_session",
			Name:        "Create Terminal Session",
			Description: "Start an interactive shell on a new pseudo-terminal",
			Parameters: []types.Parameter{
				{Name: "shell", Type: "string", Description: "Shell executable (e.g., /bin/zsh, pwsh.exe). Defaults to the configured or detected shell", Required: false},
				{Name: "args", Type: "array", Description: "Shell arguments. Defaults depend on the shell family", Required: false},
				{Name: "shell_kind", Type: "string", Description: "Shell preset: system, bash, zsh, fish, sh, powershell, pwsh, cmd, wsl, gitbash, custom", Required: false},
				{Name: "shell_path", Type: "string", Description: "Executable for shell_kind=custom", Required: false},
				{Name: "shell_args", Type: "array", Description: "Arguments for the shell preset", Required: false},
				{Name: "distro", Type: "string", Description: "Distribution for shell_kind=wsl", Required: false},
				{Name: "working_dir", Type: "string", Description: "Initial working directory. Defaults to the user's home", Required: false},
				{Name: "cols", Type: "number", Description: "Terminal width in columns. Defaults to 80", Required: false},
				{Name: "rows", Type: "number", Description: "Terminal height in rows. Defaults to 24", Required: false},
				{Name: "env", Type: "object", Description: "Environment variables to set", Required: false},
			},
			Returns: "session_info",
		},
		{
			ID:          "terminal.write",
			Name:        "Write to Terminal",
			Description: "Send input to a terminal session",
			Parameters: []types.Parameter{
				sessionIDParameter(),
				{Name: "input", Type: "string", Description: "Text to send", Required: false},
				{Name: "input_base64", Type: "string", Description: "Raw bytes to send, base64 encoded", Required: false},
			},
			Returns: "success",
		},
		{
			ID:          "terminal.read",
			Name:        "Read from Terminal",
			Description: "Drain buffered output from a terminal session",
			Parameters:  []types.Parameter{sessionIDParameter()},
			Returns:     "output_data",
		},
		{
			ID:          "terminal.resize",
			Name:        "Resize Terminal",
			Description: "Change terminal dimensions",
			Parameters: []types.Parameter{
				sessionIDParameter(),
				{Name: "cols", Type: "number", Description: "New width in columns", Required: true},
				{Name: "rows", Type: "number", Description: "New height in rows", Required: true},
			},
			Returns: "success",
		},
		{
			ID:          "terminal.list_sessions",
			Name:        "List Terminal Sessions",
			Description: "List all live terminal sessions",
			Parameters:  []types.Parameter{},
			Returns:     "sessions_list",
		},
		{
			ID:          "terminal.get_session",
			Name:        "Get Session Info",
			Description: "Get information about a terminal session",
			Parameters:  []types.Parameter{sessionIDParameter()},
			Returns:     "session_info",
		},
		{
			ID:          "terminal.kill",
			Name:        "Kill Terminal Session",
			Description: "Terminate a session and its whole process tree",
			Parameters:  []types.Parameter{sessionIDParameter()},
			Returns:     "success",
		},
		{
			ID:          "terminal.kill_all",
			Name:        "Kill All Sessions",
			Description: "Terminate every terminal session",
			Parameters:  []types.Parameter{},
			Returns:     "count",
		},
		{
			ID:          "terminal.kill_under",
			Name:        "Kill Sessions Under Directory",
			Description: "Terminate every session whose working directory is the given directory or below it",
			Parameters: []types.Parameter{
				{Name: "dir", Type: "string", Description: "Root directory", Required: true},
			},
			Returns: "count",
		},
		{
			ID:          "terminal.run_command",
			Name:        "Run Command",
			Description: "Run a command in a login shell on a throwaway pseudo-terminal and return its cleaned output",
			Parameters: []types.Parameter{
				{Name: "command", Type: "string", Description: "Command line to run", Required: true},
				{Name: "timeout_ms", Type: "number", Description: "Deadline in milliseconds. Defaults to 30000", Required: false},
				{Name: "kill_on_timeout", Type: "boolean", Description: "On deadline, return the partial output as a truncated success instead of failing", Required: false},
				{Name: "working_dir", Type: "string", Description: "Working directory", Required: false},
				{Name: "env", Type: "object", Description: "Environment variables to set", Required: false},
				{Name: "shell", Type: "string", Description: "Shell executable", Required: false},
			},
			Returns: "command_result",
		},
		{
			ID:          "terminal.detect_clis",
			Name:        "Detect Agent CLIs",
			Description: "Probe installed agent CLIs through the login shell and report their versions",
			Parameters: []types.Parameter{
				{Name: "ids", Type: "array", Description: "CLI ids to probe. Defaults to all known CLIs", Required: false},
			},
			Returns: "cli_statuses",
		},
	}
}

func (p *Provider) createSession(ctx context.Context, params map[string]interface{}) (*types.Result, error) {
	opts := Options{
		Shell:       stringParam(params, "shell"),
		Args:        stringsParam(params, "args"),
		ShellConfig: shellConfigParam(params),
		Dir:         stringParam(params, "working_dir"),
		Env:         stringMapParam(params, "env"),
	}
	opts.Cols, _ = intParam(params, "cols")
	opts.Rows, _ = intParam(params, "rows")

	st, err := p.CreateSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	return types.Success(sessionData(st.Session().Info())), nil
}

func (p *Provider) write(params map[string]interface{}) (*types.Result, error) {
	sessionID, err := sessionParam(params)
	if err != nil {
		return nil, err
	}
	input, err := inputParam(params)
	if err != nil {
		return nil, err
	}

	_, lookupErr := p.manager.Get(sessionID)
	p.manager.Write(sessionID, input)

	return types.Success(map[string]interface{}{
		"success": true,
		"found":   lookupErr == nil,
	}), nil
}

func (p *Provider) read(params map[string]interface{}) (*types.Result, error) {
	sessionID, err := sessionParam(params)
	if err != nil {
		return nil, err
	}
	st, err := p.Stream(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, sessionID)
	}

	output := st.Buffer().Drain()
	data := map[string]interface{}{
		"output":        string(output),
		"output_base64": base64.StdEncoding.EncodeToString(output),
		"length":        len(output),
		"dropped":       st.Buffer().Dropped(),
		"exited":        false,
	}
	if status, done := st.Exited(); done {
		data["exited"] = true
		data["exit_code"] = status.Code
		if status.Signal != 0 {
			data["signal"] = status.Signal
		}
		// Final read of an exited session.
		p.streams.Delete(sessionID)
	}
	return types.Success(data), nil
}

func (p *Provider) resize(params map[string]interface{}) (*types.Result, error) {
	sessionID, err := sessionParam(params)
	if err != nil {
		return nil, err
	}
	cols, ok := intParam(params, "cols")
	if !ok || cols <= 0 {
		return nil, errors.New("cols is required")
	}
	rows, ok := intParam(params, "rows")
	if !ok || rows <= 0 {
		return nil, errors.New("rows is required")
	}

	_, lookupErr := p.manager.Get(sessionID)
	p.manager.Resize(sessionID, cols, rows)

	return types.Success(map[string]interface{}{
		"success": true,
		"found":   lookupErr == nil,
	}), nil
}

func (p *Provider) listSessions() (*types.Result, error) {
	sessions := p.manager.List()
	return types.Success(map[string]interface{}{
		"sessions": lo.Map(sessions, func(info SessionInfo, _ int) map[string]interface{} {
			return sessionData(info)
		}),
		"count": len(sessions),
	}), nil
}

func (p *Provider) getSession(params map[string]interface{}) (*types.Result, error) {
	sessionID, err := sessionParam(params)
	if err != nil {
		return nil, err
	}
	s, err := p.manager.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, sessionID)
	}
	return types.Success(sessionData(s.Info())), nil
}

func (p *Provider) kill(params map[string]interface{}) (*types.Result, error) {
	sessionID, err := sessionParam(params)
	if err != nil {
		return nil, err
	}
	found := p.Kill(sessionID)
	return types.Success(map[string]interface{}{
		"success": true,
		"found":   found,
	}), nil
}

func (p *Provider) killAll() (*types.Result, error) {
	return types.Success(map[string]interface{}{"count": p.KillAll()}), nil
}

func (p *Provider) killUnder(params map[string]interface{}) (*types.Result, error) {
	dir, err := requiredString(params, "dir")
	if err != nil {
		return nil, err
	}
	return types.Success(map[string]interface{}{"count": p.KillUnder(dir)}), nil
}

func (p *Provider) runCommand(ctx context.Context, params map[string]interface{}) (*types.Result, error) {
	command, err := requiredString(params, "command")
	if err != nil {
		return nil, err
	}

	req := runner.Request{
		Command:     command,
		Timeout:     durationMSParam(params, "timeout_ms"),
		Dir:         stringParam(params, "working_dir"),
		Env:         stringMapParam(params, "env"),
		Shell:       stringParam(params, "shell"),
		ShellConfig: shellConfigParam(params),
	}
	if boolParam(params, "kill_on_timeout") {
		req.OnTimeout = runner.TimeoutKeepPartial
	}

	res, err := p.Run(ctx, req)
	return CommandResult(res, err)
}

// CommandResult maps a runner outcome onto the run_command result shape.
// Only start failures and cancellation are returned as errors.
func CommandResult(res *runner.Result, err error) (*types.Result, error) {
	var (
		exitErr    *runner.ExitError
		timeoutErr *runner.TimeoutError
	)
	switch {
	case err == nil:
		data := map[string]interface{}{"ok": true, "output": res.Output}
		if res.Truncated {
			data["truncated"] = true
		}
		return types.Success(data), nil
	case errors.As(err, &exitErr):
		return types.Failure(err.Error(), map[string]interface{}{
			"ok":        false,
			"output":    exitErr.Output,
			"exit_code": exitErr.Code,
		}), nil
	case errors.As(err, &timeoutErr):
		return types.Failure(err.Error(), map[string]interface{}{
			"ok":        false,
			"output":    timeoutErr.Output,
			"timed_out": true,
		}), nil
	default:
		return nil, err
	}
}

func (p *Provider) detectCLIs(ctx context.Context, params map[string]interface{}) (*types.Result, error) {
	clis, err := detect.Select(stringsParam(params, "ids")...)
	if err != nil {
		return nil, err
	}

	statuses := p.detector.Detect(ctx, clis...)
	installed := lo.CountBy(statuses, func(st detect.Status) bool { return st.Installed })
	return types.Success(map[string]interface{}{
		"clis":      statuses,
		"installed": installed,
	}), nil
}

func sessionData(info SessionInfo) map[string]interface{} {
	return map[string]interface{}{
		"id":          info.ID,
		"shell":       info.Shell,
		"args":        info.Args,
		"family":      info.Family,
		"working_dir": info.WorkingDir,
		"cols":        info.Cols,
		"rows":        info.Rows,
		"pid":         info.PID,
		"started_at":  info.StartedAt,
	}
}
