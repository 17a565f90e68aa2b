//go:build !windows

package killtree

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

func killTree(pid int, ref any, sig syscall.Signal) Result {
	// Job-control children of an interactive shell live in their own process
	// groups, so collect the tree before the shell dies and orphans them.
	descendants := Descendants(pid)
	wasAlive := Alive(pid)

	delivered := false
	if err := unix.Kill(-pid, sig); err == nil {
		delivered = wasAlive
	} else if err := signalHandle(ref, sig); err == nil {
		delivered = wasAlive
	} else if err := unix.Kill(pid, sig); err == nil {
		delivered = wasAlive
	}

	signaled := 0
	for _, d := range descendants {
		groupErr := unix.Kill(-d, sig)
		if err := unix.Kill(d, sig); err == nil || groupErr == nil {
			signaled++
		}
	}

	if !delivered && signaled == 0 {
		return Result{Outcome: AlreadyGone}
	}
	return Result{Outcome: Terminated, Descendants: signaled}
}

// Alive reports whether pid names a running, non-zombie process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	return !zombie(pid)
}

func zombie(pid int) bool {
	if runtime.GOOS != "linux" {
		return false
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	// comm may contain spaces or parens; the state follows the last ')'.
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	return stat[i+2] == 'Z' || stat[i+2] == 'X'
}

// Descendants lists every transitive child of pid, parents before children.
func Descendants(pid int) []int {
	out, err := exec.Command("ps", "-A", "-o", "pid=,ppid=").Output()
	if err != nil {
		return nil
	}
	return walk(parsePS(out), pid)
}

func parsePS(out []byte) map[int][]int {
	children := make(map[int][]int)
	for _, line := range bytes.Split(out, []byte("\n")) {
		fields := bytes.Fields(line)
		if len(fields) != 2 {
			continue
		}
		child, err1 := strconv.Atoi(string(fields[0]))
		parent, err2 := strconv.Atoi(string(fields[1]))
		if err1 != nil || err2 != nil {
			continue
		}
		children[parent] = append(children[parent], child)
	}
	return children
}

func walk(children map[int][]int, root int) []int {
	var result []int
	seen := map[int]bool{root: true}
	queue := []int{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, c := range children[p] {
			if seen[c] {
				continue
			}
			seen[c] = true
			result = append(result, c)
			queue = append(queue, c)
		}
	}
	return result
}
