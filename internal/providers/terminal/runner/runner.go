// Package runner executes one-shot commands inside a throwaway
// pseudo-terminal running an interactive login shell, so that version
// manager shims and profile PATH edits are visible to the command.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/x/ansi"
	"go.uber.org/zap"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/monitoring"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/resilience"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/env"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/killtree"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/ptyproc"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/shell"
	"github.com/zhaoge0202/EnsoAI/internal/shared/id"
)

const (
	defaultTimeout = 30 * time.Second
	drainGrace     = 200 * time.Millisecond
	reapTimeout    = 5 * time.Second
)

// TimeoutPolicy decides what a deadline means.
type TimeoutPolicy int

const (
	// TimeoutFail kills the tree and returns a *TimeoutError.
	TimeoutFail TimeoutPolicy = iota
	// TimeoutKeepPartial kills the tree and returns the output collected so
	// far as a truncated success. Meant for capability probes behind slow
	// shell profiles, where best-effort output beats an error.
	TimeoutKeepPartial
)

func (p TimeoutPolicy) String() string {
	if p == TimeoutKeepPartial {
		return "keep_partial"
	}
	return "fail"
}

// Request describes one command execution.
type Request struct {
	Command   string
	Timeout   time.Duration // zero uses the runner default
	OnTimeout TimeoutPolicy

	Dir         string
	Env         map[string]string
	Shell       string
	ShellArgs   []string
	ShellConfig *shell.Config
}

// Result is a successful execution.
type Result struct {
	ID        id.RunID
	Output    string
	Truncated bool // deadline hit under TimeoutKeepPartial
	PID       int
	Duration  time.Duration
}

// ExitError reports a non-zero exit. Output is cleaned like a success.
type ExitError struct {
	Output string
	Code   int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// TimeoutError reports a deadline hit under TimeoutFail.
type TimeoutError struct {
	Output  string
	Timeout time.Duration
	PID     int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s", e.Timeout)
}

// StartError means the shell could not be spawned.
type StartError struct {
	Shell string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("could not start a shell (%s): %v", e.Shell, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

type process interface {
	io.ReadWriter
	Pid() int
	Kill() error
	Wait() (ptyproc.ExitState, error)
	Close() error
}

// Runner executes bounded commands. It holds no per-call state and is safe
// for concurrent use.
type Runner struct {
	resolver       *shell.Resolver
	env            *env.Builder
	ids            *id.Generator
	log            *zap.Logger
	metrics        *monitoring.Metrics
	breaker        *resilience.Breaker
	defaultTimeout time.Duration

	start func(ptyproc.Spec) (process, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) { r.log = logging.OrNop(log) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithResolver sets the shell resolver.
func WithResolver(res *shell.Resolver) Option {
	return func(r *Runner) { r.resolver = res }
}

// WithEnvBuilder sets the environment builder.
func WithEnvBuilder(b *env.Builder) Option {
	return func(r *Runner) { r.env = b }
}

// WithDefaultTimeout sets the timeout for requests that give none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithSpawnBreaker fails runs fast while b is open.
func WithSpawnBreaker(b *resilience.Breaker) Option {
	return func(r *Runner) { r.breaker = b }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		resolver:       shell.NewResolver(),
		env:            env.NewBuilder(),
		ids:            id.Default(),
		log:            zap.NewNop(),
		defaultTimeout: defaultTimeout,
		start:          startPTY,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes req and blocks until the command exits, the timeout fires or
// ctx is canceled. Errors are *ExitError, *TimeoutError, *StartError, an
// error wrapping resilience.ErrOpen or the context's error.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, errors.New("command is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := r.ids.NewRunID()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	log := r.log.With(zap.String("run_id", runID.String()), zap.String("command", req.Command))
	began := time.Now()

	proc, desc, err := r.spawn(req)
	if err != nil {
		r.metrics.RecordRun("start_error", time.Since(began))
		log.Warn("command failed to start", zap.Error(err))
		return nil, err
	}

	out := &output{}
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_, _ = io.Copy(out, proc)
	}()

	waitDone := make(chan ptyproc.ExitState, 1)
	go func() {
		state, _ := proc.Wait()
		waitDone <- state
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	finish := func() string {
		select {
		case <-readDone:
		case <-time.After(drainGrace):
		}
		_ = proc.Close()
		return Clean(out.String())
	}

	select {
	case state := <-waitDone:
		text := finish()
		elapsed := time.Since(began)
		code := exitCode(state)
		if code != 0 {
			r.metrics.RecordRun("exit_error", elapsed)
			log.Debug("command failed", zap.Int("code", code), zap.Duration("elapsed", elapsed))
			return nil, &ExitError{Output: text, Code: code}
		}
		r.metrics.RecordRun("ok", elapsed)
		log.Debug("command finished", zap.String("shell", desc.Path), zap.Duration("elapsed", elapsed))
		return &Result{ID: runID, Output: text, PID: proc.Pid(), Duration: elapsed}, nil

	case <-deadline.C:
		text := r.terminate(proc, waitDone, finish, log)
		elapsed := time.Since(began)
		if req.OnTimeout == TimeoutKeepPartial {
			r.metrics.RecordRun("truncated", elapsed)
			log.Debug("command truncated at deadline", zap.Duration("timeout", timeout))
			return &Result{ID: runID, Output: text, Truncated: true, PID: proc.Pid(), Duration: elapsed}, nil
		}
		r.metrics.RecordRun("timeout", elapsed)
		log.Warn("command timed out", zap.Duration("timeout", timeout))
		return nil, &TimeoutError{Output: text, Timeout: timeout, PID: proc.Pid()}

	case <-ctx.Done():
		r.terminate(proc, waitDone, finish, log)
		r.metrics.RecordRun("canceled", time.Since(began))
		return nil, ctx.Err()
	}
}

func (r *Runner) spawn(req Request) (process, shell.Descriptor, error) {
	sreq := shell.Request{Shell: req.Shell, Args: req.ShellArgs, Config: req.ShellConfig}
	desc := r.resolver.ResolveCommand(sreq, req.Command)
	if !r.resolver.Windows() && strings.ContainsAny(desc.Path, `/\`) && !r.resolver.Exists(desc.Path) {
		desc = r.resolver.FallbackCommand(req.Command)
	}

	spec := ptyproc.Spec{
		Path: desc.Path,
		Args: desc.Args,
		Dir:  r.workingDir(req.Dir),
		Env:  env.Environ(r.env.Build(env.Options{Overrides: req.Env, Terminal: true})),
	}
	var proc process
	err := r.breaker.Do(func() error {
		var err error
		proc, err = r.start(spec)
		return err
	})
	switch {
	case errors.Is(err, resilience.ErrOpen):
		return nil, desc, err
	case err != nil:
		return nil, desc, &StartError{Shell: desc.Path, Err: err}
	}
	return proc, desc, nil
}

// terminate kills the tree, reaps the shell and returns the cleaned partial output.
func (r *Runner) terminate(proc process, waitDone <-chan ptyproc.ExitState, finish func() string, log *zap.Logger) string {
	res := killtree.Kill(proc, syscall.SIGKILL)
	r.metrics.RecordTreeKill(res.Outcome.String())
	log.Debug("command tree killed", zap.Stringer("outcome", res.Outcome), zap.Int("descendants", res.Descendants))

	select {
	case <-waitDone:
	case <-time.After(reapTimeout):
		log.Warn("command did not exit after kill", zap.Int("pid", proc.Pid()))
	}
	return finish()
}

// Clean strips terminal control sequences, normalizes line endings and trims.
func Clean(s string) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "")
	return strings.TrimSpace(s)
}

func exitCode(state ptyproc.ExitState) int {
	if state.Signal != 0 {
		return 128 + state.Signal
	}
	return state.Code
}

// workingDir falls back to the home directory when dir is empty or missing.
func (r *Runner) workingDir(dir string) string {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		r.log.Warn("working directory unavailable, using home", zap.String("dir", dir))
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.TempDir()
}

func startPTY(spec ptyproc.Spec) (process, error) {
	p, err := ptyproc.Start(spec)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// output is a concurrency-safe accumulation buffer.
type output struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Write(p)
}

func (o *output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}
