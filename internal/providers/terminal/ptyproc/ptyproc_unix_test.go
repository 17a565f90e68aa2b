//go:build !windows

package ptyproc

import (
	"bytes"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(p *Process) string {
	var out bytes.Buffer
	buf := make([]byte, 1024)
	for {
		n, err := p.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			return out.String()
		}
	}
}

func TestStartReportsExitCode(t *testing.T) {
	p, err := Start(Spec{Path: "/bin/sh", Args: []string{"-c", "printf hello; exit 3"}, Env: os.Environ()})
	require.NoError(t, err)
	defer p.Close()

	assert.Contains(t, readAll(p), "hello")

	state, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, state.Code)
	assert.Zero(t, state.Signal)
}

func TestStartSizeAndDir(t *testing.T) {
	dir := t.TempDir()
	p, err := Start(Spec{Path: "/bin/sh", Args: []string{"-c", "stty size; pwd"}, Dir: dir, Cols: 100, Rows: 30})
	require.NoError(t, err)
	defer p.Close()

	out := readAll(p)
	assert.Contains(t, out, "30 100")
	assert.Contains(t, out, dir)
	_, _ = p.Wait()
}

func TestChildLeadsItsProcessGroup(t *testing.T) {
	p, err := Start(Spec{Path: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)
	defer p.Close()

	pgid, err := syscall.Getpgid(p.Pid())
	require.NoError(t, err)
	assert.Equal(t, p.Pid(), pgid)

	require.NoError(t, p.Kill())
	state, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, int(syscall.SIGKILL), state.Signal)
}

func TestResizeAndWrite(t *testing.T) {
	p, err := Start(Spec{Path: "/bin/sh", Args: []string{"-c", "read line; stty size; echo got:$line"}})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Resize(132, 43))
	_, err = p.Write([]byte("ping\n"))
	require.NoError(t, err)

	done := make(chan string, 1)
	go func() { done <- readAll(p) }()

	select {
	case out := <-done:
		assert.Contains(t, out, "43 132")
		assert.Contains(t, out, "got:ping")
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for output")
	}
	_, _ = p.Wait()
}

func TestStartMissingExecutable(t *testing.T) {
	_, err := Start(Spec{Path: "/definitely/not/here"})
	assert.Error(t, err)
}
