package terminal

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/ptyproc"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/shell"
	"github.com/zhaoge0202/EnsoAI/internal/shared/id"
)

// ErrSessionNotFound is returned by lookups for ids that are not registered.
var ErrSessionNotFound = errors.New("terminal session not found")

// SpawnError means no shell could be started, even after the fallback.
type SpawnError struct {
	Shell string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("could not start a shell (%s): %v", e.Shell, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Options describes a session to create. Zero values select defaults.
type Options struct {
	Shell       string
	Args        []string
	ShellConfig *shell.Config
	Dir         string
	Cols        int
	Rows        int
	Env         map[string]string
}

// ExitStatus is delivered once on Session.Done.
type ExitStatus struct {
	Code      int  `json:"code"`
	Signal    int  `json:"signal,omitempty"`
	Destroyed bool `json:"destroyed"` // removed by Destroy rather than by exiting
}

// process is the slice of ptyproc.Process the manager depends on.
type process interface {
	io.ReadWriter
	Pid() int
	Resize(cols, rows int) error
	Kill() error
	Wait() (ptyproc.ExitState, error)
	Close() error
}

// Session is one live shell attached to a pseudo-terminal.
type Session struct {
	id         id.TerminalID
	shell      shell.Descriptor
	workingDir string
	startedAt  time.Time
	proc       process

	output chan []byte
	done   chan ExitStatus
	// reaped closes once the shell has exited and the pty is closed
	reaped chan struct{}

	destroyed     chan struct{}
	destroyOnce   sync.Once
	destroyedFlag atomic.Bool

	// io orders writes and resizes submitted by one caller
	io   sync.Mutex
	cols int
	rows int
}

// ID returns the session id.
func (s *Session) ID() id.TerminalID { return s.id }

// WorkingDir returns the directory the shell was started in.
func (s *Session) WorkingDir() string { return s.workingDir }

// Shell returns the descriptor the session was spawned with.
func (s *Session) Shell() shell.Descriptor { return s.shell }

// Pid returns the shell's process id.
func (s *Session) Pid() int { return s.proc.Pid() }

// Output streams raw pty output. The channel is bounded: a consumer that
// stops reading stalls the shell. It is closed when the pty reaches EOF, the
// session is destroyed, or the shell has exited and the exit grace passed;
// chunks nobody read by then are discarded.
func (s *Session) Output() <-chan []byte { return s.output }

// Done delivers exactly one ExitStatus and is then closed.
func (s *Session) Done() <-chan ExitStatus { return s.done }

// Info returns a snapshot suitable for listing.
func (s *Session) Info() SessionInfo {
	s.io.Lock()
	cols, rows := s.cols, s.rows
	s.io.Unlock()

	return SessionInfo{
		ID:         s.id.String(),
		Shell:      s.shell.Path,
		Args:       s.shell.Args,
		Family:     s.shell.Family.String(),
		WorkingDir: s.workingDir,
		Cols:       cols,
		Rows:       rows,
		PID:        s.proc.Pid(),
		StartedAt:  s.startedAt,
	}
}

func (s *Session) markDestroyed() {
	s.destroyOnce.Do(func() {
		s.destroyedFlag.Store(true)
		close(s.destroyed)
	})
}

// SessionInfo is the public representation of a session
type SessionInfo struct {
	ID         string    `json:"id"`
	Shell      string    `json:"shell"`
	Args       []string  `json:"args"`
	Family     string    `json:"family"`
	WorkingDir string    `json:"working_dir"`
	Cols       int       `json:"cols"`
	Rows       int       `json:"rows"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
}
