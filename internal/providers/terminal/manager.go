package terminal

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

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
	defaultCols         = 80
	defaultRows         = 24
	defaultOutputBuffer = 256
	defaultExitGrace    = 200 * time.Millisecond
	readChunk           = 32 * 1024
)

// Manager owns the set of live terminal sessions.
type Manager struct {
	sessions sync.Map // id.TerminalID -> *Session

	resolver *shell.Resolver
	env      *env.Builder
	ids      *id.Generator
	log      *zap.Logger
	metrics  *monitoring.Metrics
	breaker  *resilience.Breaker

	cols         int
	rows         int
	outputBuffer int
	exitGrace    time.Duration

	start func(ptyproc.Spec) (process, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = logging.OrNop(log) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *monitoring.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithResolver sets the shell resolver.
func WithResolver(r *shell.Resolver) ManagerOption {
	return func(m *Manager) { m.resolver = r }
}

// WithEnvBuilder sets the environment builder.
func WithEnvBuilder(b *env.Builder) ManagerOption {
	return func(m *Manager) { m.env = b }
}

// WithIDGenerator sets the session id source.
func WithIDGenerator(g *id.Generator) ManagerOption {
	return func(m *Manager) { m.ids = g }
}

// WithDefaultSize sets the size used when a request gives none.
func WithDefaultSize(cols, rows int) ManagerOption {
	return func(m *Manager) {
		if cols > 0 {
			m.cols = cols
		}
		if rows > 0 {
			m.rows = rows
		}
	}
}

// WithOutputBuffer sets how many output chunks may queue per session.
func WithOutputBuffer(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.outputBuffer = n
		}
	}
}

// WithExitGrace bounds how long exit delivery waits for trailing output.
func WithExitGrace(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.exitGrace = d
		}
	}
}

// WithSpawnBreaker fails creates fast while b is open.
func WithSpawnBreaker(b *resilience.Breaker) ManagerOption {
	return func(m *Manager) { m.breaker = b }
}

// NewManager creates a session manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		resolver:     shell.NewResolver(),
		env:          env.NewBuilder(),
		ids:          id.Default(),
		log:          zap.NewNop(),
		cols:         defaultCols,
		rows:         defaultRows,
		outputBuffer: defaultOutputBuffer,
		exitGrace:    defaultExitGrace,
		start:        startPTY,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create spawns a shell in a new pseudo-terminal and registers it. It
// returns once the OS has accepted the spawn.
func (m *Manager) Create(ctx context.Context, opts Options) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	desc := m.resolver.Resolve(shell.Request{Shell: opts.Shell, Args: opts.Args, Config: opts.ShellConfig})
	if !m.resolver.Windows() && isPathValued(desc.Path) && !m.resolver.Exists(desc.Path) {
		fallback := m.resolver.Fallback()
		m.log.Warn("shell not found, using fallback",
			zap.String("shell", desc.Path),
			zap.String("fallback", fallback.Path))
		m.metrics.ShellFallback("missing")
		desc = fallback
	}

	cols, rows := m.size(opts.Cols, opts.Rows)
	spec := ptyproc.Spec{
		Dir:  m.workingDir(opts.Dir),
		Env:  env.Environ(m.env.Build(env.Options{Overrides: opts.Env, Terminal: true})),
		Cols: cols,
		Rows: rows,
	}

	var proc process
	err := m.breaker.Do(func() error {
		var err error
		proc, desc, err = m.spawnWithFallback(spec, desc)
		return err
	})
	switch {
	case errors.Is(err, resilience.ErrOpen):
		m.log.Warn("terminal spawn rejected", zap.String("shell", desc.Path), zap.Error(err))
		return nil, err
	case err != nil:
		return nil, &SpawnError{Shell: desc.Path, Err: err}
	}

	s := &Session{
		id:         m.ids.NewTerminalID(),
		shell:      desc,
		workingDir: spec.Dir,
		startedAt:  time.Now(),
		proc:       proc,
		output:     make(chan []byte, m.outputBuffer),
		done:       make(chan ExitStatus, 1),
		reaped:     make(chan struct{}),
		destroyed:  make(chan struct{}),
		cols:       cols,
		rows:       rows,
	}
	m.sessions.Store(s.id, s)
	m.metrics.SessionCreated(desc.Family.String())

	m.log.Info("terminal session created",
		zap.String("session_id", s.id.String()),
		zap.String("shell", desc.Path),
		zap.String("family", desc.Family.String()),
		zap.String("dir", s.workingDir),
		zap.Int("pid", proc.Pid()))

	readerDone := make(chan struct{})
	go m.readLoop(s, readerDone)
	go m.waitLoop(s, readerDone)

	return s, nil
}

// spawnWithFallback retries a failed POSIX spawn once with the fallback shell.
func (m *Manager) spawnWithFallback(spec ptyproc.Spec, desc shell.Descriptor) (process, shell.Descriptor, error) {
	proc, err := m.spawn(spec, desc)
	if err == nil || m.resolver.Windows() {
		return proc, desc, err
	}
	fallback := m.resolver.Fallback()
	if fallback.Path == desc.Path {
		return nil, desc, err
	}
	m.log.Warn("shell failed to start, retrying with fallback",
		zap.String("shell", desc.Path),
		zap.String("fallback", fallback.Path),
		zap.Error(err))
	m.metrics.ShellFallback("spawn_failed")
	proc, err = m.spawn(spec, fallback)
	return proc, fallback, err
}

func (m *Manager) spawn(spec ptyproc.Spec, desc shell.Descriptor) (process, error) {
	spec.Path = desc.Path
	spec.Args = desc.Args
	proc, err := m.start(spec)
	if err != nil {
		m.metrics.SpawnFailed(desc.Family.String())
	}
	return proc, err
}

func (m *Manager) readLoop(s *Session, readerDone chan<- struct{}) {
	defer close(readerDone)
	defer close(s.output)

	buf := make([]byte, readChunk)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			m.metrics.AddSessionBytes("out", n)
			select {
			case s.output <- chunk:
			case <-s.destroyed:
				return
			case <-s.reaped:
				return
			}
		}
		if err != nil {
			if !ptyproc.IsClosed(err) && !s.destroyedFlag.Load() {
				m.log.Debug("terminal read ended", zap.String("session_id", s.id.String()), zap.Error(err))
			}
			return
		}
	}
}

func (m *Manager) waitLoop(s *Session, readerDone <-chan struct{}) {
	state, err := s.proc.Wait()
	if err != nil {
		m.log.Debug("terminal wait failed", zap.String("session_id", s.id.String()), zap.Error(err))
	}

	// Let trailing output drain; a background job holding the pty open
	// must not delay the exit notification forever.
	timer := time.NewTimer(m.exitGrace)
	select {
	case <-readerDone:
	case <-timer.C:
	}
	timer.Stop()
	_ = s.proc.Close()

	// Release a reader stuck on a consumer that never drains Output.
	close(s.reaped)
	timer = time.NewTimer(m.exitGrace)
	select {
	case <-readerDone:
	case <-timer.C:
		m.log.Debug("terminal reader still blocked after exit", zap.String("session_id", s.id.String()))
	}
	timer.Stop()

	status := ExitStatus{Code: state.Code, Signal: state.Signal}
	if m.sessions.CompareAndDelete(s.id, s) {
		m.metrics.SessionEnded("exited")
		m.log.Info("terminal session exited",
			zap.String("session_id", s.id.String()),
			zap.Int("code", state.Code),
			zap.Int("signal", state.Signal))
	} else {
		// Only Destroy removes an entry it does not own.
		status.Destroyed = true
	}

	s.done <- status
	close(s.done)
}

// Get returns a registered session.
func (m *Manager) Get(sessionID id.TerminalID) (*Session, error) {
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return v.(*Session), nil
}

// Write forwards input to the session. Unknown ids are ignored.
func (m *Manager) Write(sessionID id.TerminalID, data []byte) {
	s, err := m.Get(sessionID)
	if err != nil || len(data) == 0 {
		return
	}
	s.io.Lock()
	defer s.io.Unlock()

	if _, err := s.proc.Write(data); err != nil {
		m.log.Debug("terminal write failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	m.metrics.AddSessionBytes("in", len(data))
}

// Resize changes the session's terminal size. Unknown ids are ignored.
func (m *Manager) Resize(sessionID id.TerminalID, cols, rows int) {
	s, err := m.Get(sessionID)
	if err != nil || cols <= 0 || rows <= 0 {
		return
	}
	s.io.Lock()
	defer s.io.Unlock()

	if err := s.proc.Resize(cols, rows); err != nil {
		m.log.Debug("terminal resize failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	s.cols, s.rows = cols, rows
}

// Destroy removes the session and kills its process tree. The registry is
// updated before the kill, so the id is gone as soon as Destroy returns.
// Destroying an unknown or already destroyed id is a no-op.
func (m *Manager) Destroy(sessionID id.TerminalID) {
	v, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return
	}
	s := v.(*Session)
	s.markDestroyed()
	m.metrics.SessionEnded("destroyed")

	res := killtree.Kill(s.proc, syscall.SIGKILL)
	m.metrics.RecordTreeKill(res.Outcome.String())

	m.log.Info("terminal session destroyed",
		zap.String("session_id", sessionID.String()),
		zap.Int("pid", res.PID),
		zap.Stringer("outcome", res.Outcome),
		zap.Int("descendants", res.Descendants))
}

// DestroyAll destroys every registered session and returns how many there were.
func (m *Manager) DestroyAll() int {
	ids := m.sessionIDs()
	for _, sid := range ids {
		m.Destroy(sid)
	}
	return len(ids)
}

// DestroyUnder destroys every session whose working directory is dir or
// lies below it. Comparison ignores case, separator style and trailing
// separators.
func (m *Manager) DestroyUnder(dir string) int {
	if strings.TrimSpace(dir) == "" {
		return 0
	}
	root := normalizeDir(dir)

	var matched []id.TerminalID
	m.sessions.Range(func(key, value any) bool {
		if isUnder(normalizeDir(value.(*Session).workingDir), root) {
			matched = append(matched, key.(id.TerminalID))
		}
		return true
	})
	for _, sid := range matched {
		m.Destroy(sid)
	}

	if len(matched) > 0 {
		m.log.Info("destroyed terminal sessions under directory", zap.String("dir", dir), zap.Int("count", len(matched)))
	}
	return len(matched)
}

// List returns all registered sessions.
func (m *Manager) List() []SessionInfo {
	var infos []SessionInfo
	m.sessions.Range(func(_, value any) bool {
		infos = append(infos, value.(*Session).Info())
		return true
	})
	return infos
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (m *Manager) sessionIDs() []id.TerminalID {
	var ids []id.TerminalID
	m.sessions.Range(func(key, _ any) bool {
		ids = append(ids, key.(id.TerminalID))
		return true
	})
	return ids
}

func (m *Manager) size(cols, rows int) (int, int) {
	if cols <= 0 {
		cols = m.cols
	}
	if rows <= 0 {
		rows = m.rows
	}
	return cols, rows
}

// workingDir falls back to the home directory when dir is empty or missing.
func (m *Manager) workingDir(dir string) string {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		m.log.Warn("working directory unavailable, using home", zap.String("dir", dir))
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

func isPathValued(path string) bool {
	return strings.ContainsAny(path, `/\`)
}
