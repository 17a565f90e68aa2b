// Package ptyproc starts a process attached to a pseudo-terminal.
//
// POSIX systems use a pty pair with the child as session and process group
// leader; Windows uses a ConPTY pseudo console.
package ptyproc

import (
	"errors"
	"io"
	"syscall"
)

// Spec describes a process to start.
type Spec struct {
	Path string
	Args []string // without argv[0]
	Dir  string
	Env  []string // KEY=VALUE
	Cols int
	Rows int
}

// ExitState is the terminal state of a process.
type ExitState struct {
	Code   int
	Signal int // 0 unless killed by a signal
}

// IsClosed reports whether err from Read means the terminal is gone.
// Linux returns EIO from the master once the slave side has no holders.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, io.ErrClosedPipe)
}

func size(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
