//go:build windows

package ptyproc

import (
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/charmbracelet/x/conpty"
	"golang.org/x/sys/windows"
)

// Process is a running child attached to a ConPTY.
type Process struct {
	cpty      *conpty.ConPty
	proc      *os.Process
	handle    windows.Handle
	closeOnce sync.Once
}

// Start spawns spec inside a new pseudo console.
func Start(spec Spec) (*Process, error) {
	path, err := exec.LookPath(spec.Path)
	if err != nil {
		return nil, err
	}

	cpty, err := conpty.New(size(spec.Cols, 80), size(spec.Rows, 24), 0)
	if err != nil {
		return nil, err
	}

	argv := append([]string{path}, spec.Args...)
	pid, handle, err := cpty.Spawn(path, argv, &syscall.ProcAttr{
		Dir: spec.Dir,
		Env: spec.Env,
	})
	if err != nil {
		_ = cpty.Close()
		return nil, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		_ = windows.CloseHandle(windows.Handle(handle))
		_ = cpty.Close()
		return nil, err
	}
	return &Process{cpty: cpty, proc: proc, handle: windows.Handle(handle)}, nil
}

func (p *Process) Read(b []byte) (int, error)  { return p.cpty.Read(b) }
func (p *Process) Write(b []byte) (int, error) { return p.cpty.Write(b) }

// Pid returns the child's process id.
func (p *Process) Pid() int { return p.proc.Pid }

// Resize changes the pseudo console size.
func (p *Process) Resize(cols, rows int) error { return p.cpty.Resize(cols, rows) }

// Kill terminates the child directly.
func (p *Process) Kill() error { return p.proc.Kill() }

// Wait blocks until the child exits.
func (p *Process) Wait() (ExitState, error) {
	state, err := p.proc.Wait()
	if err != nil {
		return ExitState{Code: -1}, err
	}
	return ExitState{Code: state.ExitCode()}, nil
}

// Close releases the pseudo console and the process handle.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		_ = windows.CloseHandle(p.handle)
		err = p.cpty.Close()
	})
	return err
}
