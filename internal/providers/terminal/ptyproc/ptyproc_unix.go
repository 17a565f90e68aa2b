//go:build !windows

package ptyproc

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Process is a running child with its pty master.
type Process struct {
	cmd       *exec.Cmd
	ptmx      *os.File
	closeOnce sync.Once
}

// Start spawns spec in a new pty. The child becomes a session and process
// group leader, so its pid doubles as its process group id.
func Start(spec Spec) (*Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(size(spec.Cols, 80)),
		Rows: uint16(size(spec.Rows, 24)),
	})
	if err != nil {
		return nil, err
	}
	return &Process{cmd: cmd, ptmx: ptmx}, nil
}

func (p *Process) Read(b []byte) (int, error)  { return p.ptmx.Read(b) }
func (p *Process) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

// Pid returns the child's process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Resize changes the terminal window size.
func (p *Process) Resize(cols, rows int) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Kill signals the child directly.
func (p *Process) Kill() error { return p.cmd.Process.Kill() }

// Wait blocks until the child exits and reaps it.
func (p *Process) Wait() (ExitState, error) {
	err := p.cmd.Wait()
	state := p.cmd.ProcessState
	if state == nil {
		return ExitState{Code: -1}, err
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return ExitState{Code: state.ExitCode()}, err
	}
	es := ExitState{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		es.Signal = int(ws.Signal())
	}
	return es, nil
}

// Close releases the pty master. Safe to call more than once.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() { err = p.ptmx.Close() })
	return err
}
