// Package killtree terminates a process together with all of its descendants.
//
// Termination is best-effort and idempotent: a process that already exited is
// the common case, not an error. Kill reports what happened as an Outcome
// instead of an error so callers can log it and move on.
package killtree

import (
	"os"
	"syscall"
)

// Outcome describes the result of a termination attempt.
type Outcome int

const (
	// NoTarget means no pid could be resolved and the reference had no Kill method.
	NoTarget Outcome = iota
	// AlreadyGone means the target had exited before any signal landed.
	AlreadyGone
	// Terminated means at least one signal was delivered to the tree.
	Terminated
)

func (o Outcome) String() string {
	switch o {
	case Terminated:
		return "terminated"
	case AlreadyGone:
		return "already_gone"
	default:
		return "no_target"
	}
}

// Result reports a termination attempt.
type Result struct {
	PID         int
	Outcome     Outcome
	Descendants int // descendants signaled individually
}

// Pider exposes a process id.
type Pider interface {
	Pid() int
}

// Killer terminates itself.
type Killer interface {
	Kill() error
}

// Kill terminates ref and its descendants with sig. ref may be a pid (int,
// int32, int64), an *os.Process, a Pider, or a Killer. On Windows the signal
// is ignored and the tree is always force-killed.
func Kill(ref any, sig syscall.Signal) Result {
	// A nil *os.Process still satisfies Killer.
	if proc, ok := ref.(*os.Process); ok && proc == nil {
		return Result{Outcome: NoTarget}
	}
	pid := resolvePID(ref)
	if pid <= 0 {
		if signalHandle(ref, sig) == nil {
			return Result{Outcome: Terminated}
		}
		if _, ok := ref.(Killer); ok {
			return Result{Outcome: AlreadyGone}
		}
		return Result{Outcome: NoTarget}
	}
	res := killTree(pid, ref, sig)
	res.PID = pid
	return res
}

func resolvePID(ref any) int {
	switch v := ref.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case *os.Process:
		if v == nil {
			return 0
		}
		return v.Pid
	case Pider:
		return v.Pid()
	default:
		return 0
	}
}

// signalHandle asks the reference itself to terminate.
func signalHandle(ref any, sig syscall.Signal) error {
	switch v := ref.(type) {
	case *os.Process:
		if v == nil {
			return os.ErrProcessDone
		}
		return v.Signal(sig)
	case Killer:
		return v.Kill()
	default:
		return os.ErrProcessDone
	}
}
