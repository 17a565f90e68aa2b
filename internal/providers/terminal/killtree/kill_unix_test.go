//go:build !windows

package killtree

import (
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTree(t *testing.T, setpgid bool) (*exec.Cmd, []int) {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "sleep 30 & sleep 30 & wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: setpgid}
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	var kids []int
	require.Eventually(t, func() bool {
		kids = Descendants(cmd.Process.Pid)
		return len(kids) >= 2
	}, 5*time.Second, 20*time.Millisecond)
	return cmd, kids
}

func TestKillProcessGroup(t *testing.T) {
	cmd, kids := startTree(t, true)

	res := Kill(cmd.Process, syscall.SIGKILL)
	assert.Equal(t, Terminated, res.Outcome)
	assert.Equal(t, cmd.Process.Pid, res.PID)

	_ = cmd.Wait()
	for _, pid := range kids {
		assert.Eventually(t, func() bool { return !Alive(pid) }, 5*time.Second, 20*time.Millisecond)
	}
}

func TestKillReachesDescendantsOutsideGroup(t *testing.T) {
	// Without Setpgid the shell is not a group leader, so kill(-pid) fails
	// and the children are only reachable through the snapshot.
	cmd, kids := startTree(t, false)

	res := Kill(cmd.Process.Pid, syscall.SIGKILL)
	assert.Equal(t, Terminated, res.Outcome)
	assert.GreaterOrEqual(t, res.Descendants, 2)

	_ = cmd.Wait()
	for _, pid := range kids {
		assert.Eventually(t, func() bool { return !Alive(pid) }, 5*time.Second, 20*time.Millisecond)
	}
}

func TestKillIsIdempotent(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())

	assert.False(t, Alive(cmd.Process.Pid))
	assert.Equal(t, AlreadyGone, Kill(cmd.Process.Pid, syscall.SIGKILL).Outcome)
	assert.Equal(t, AlreadyGone, Kill(cmd.Process.Pid, syscall.SIGKILL).Outcome)
}

func TestAliveTreatsZombieAsGone(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("zombie detection reads /proc")
	}
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Start())
	defer cmd.Wait()

	// Unreaped until Wait: a zombie on Linux, which must count as gone.
	assert.Eventually(t, func() bool { return !Alive(cmd.Process.Pid) }, 5*time.Second, 20*time.Millisecond)
}

func TestWalk(t *testing.T) {
	ps := []byte("  1     0\n 10     1\n 11    10\n 12    10\n 13    11\n 99     1\nbogus line here\n")
	assert.Equal(t, []int{11, 12, 13}, walk(parsePS(ps), 10))
	assert.Empty(t, walk(parsePS(ps), 13))
}
