package terminal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal/ptyproc"
)

func TestBufferDropsOldest(t *testing.T) {
	b := NewBuffer(8)

	_, _ = b.Write([]byte("abcdef"))
	_, _ = b.Write([]byte("ghij"))

	assert.Equal(t, 8, b.Len())
	assert.Equal(t, int64(2), b.Dropped())
	assert.Equal(t, "cdefghij", string(b.Drain()))
	assert.Equal(t, []byte{}, b.Drain())
	assert.Equal(t, 0, b.Len())
}

func TestBufferDrainDoesNotAlias(t *testing.T) {
	b := NewBuffer(16)
	_, _ = b.Write([]byte("one"))
	first := b.Drain()
	_, _ = b.Write([]byte("two"))

	assert.Equal(t, "one", string(first))
	assert.Equal(t, "two", string(b.Drain()))
}

func newFakeStream(t *testing.T, opts ...StreamOption) (*Stream, *Manager, *fakeProcess) {
	t.Helper()
	m, fs, _ := newFakeManager(t)
	s, err := m.Create(context.Background(), Options{})
	require.NoError(t, err)
	return NewStream(s, opts...), m, fs.last()
}

func receive(t *testing.T, c <-chan []byte) string {
	t.Helper()
	select {
	case chunk, ok := <-c:
		require.True(t, ok, "channel closed")
		return string(chunk)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for chunk")
		return ""
	}
}

func TestStreamFansOutAndDeliversExit(t *testing.T) {
	st, _, proc := newFakeStream(t)
	a := st.Subscribe(8)
	b := st.Subscribe(8)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, st.Subscribers())

	proc.out <- []byte("hello")
	assert.Equal(t, "hello", receive(t, a.C))
	assert.Equal(t, "hello", receive(t, b.C))
	assert.Eventually(t, func() bool { return st.Buffer().Len() == 5 }, 2*time.Second, 10*time.Millisecond)

	proc.exit <- ptyproc.ExitState{Code: 3}
	close(proc.out)

	for _, sub := range []*Subscription{a, b} {
		select {
		case status := <-sub.Exit:
			assert.Equal(t, 3, status.Code)
			assert.False(t, status.Destroyed)
		case <-time.After(5 * time.Second):
			t.Fatal("no exit status")
		}
		_, open := <-sub.C
		assert.False(t, open)
	}

	<-st.Done()
	status, done := st.Exited()
	assert.True(t, done)
	assert.Equal(t, 3, status.Code)
	assert.Equal(t, 0, st.Subscribers())
}

func TestAttachReplaysBacklogOnce(t *testing.T) {
	st, _, proc := newFakeStream(t)

	proc.out <- []byte("prompt$ ")
	require.Eventually(t, func() bool { return st.Buffer().Len() == 8 }, 2*time.Second, 10*time.Millisecond)

	sub, backlog := st.Attach(8)
	defer sub.Close()
	assert.Equal(t, "prompt$ ", string(backlog))
	assert.Equal(t, 1, st.Subscribers())

	proc.out <- []byte("ls\r\n")
	assert.Equal(t, "ls\r\n", receive(t, sub.C))
	select {
	case extra := <-sub.C:
		t.Fatalf("backlog delivered twice: %q", extra)
	default:
	}
}

func TestSubscribeAfterExit(t *testing.T) {
	st, _, proc := newFakeStream(t)
	proc.exit <- ptyproc.ExitState{Code: 0}
	close(proc.out)
	<-st.Done()

	sub := st.Subscribe(0)
	status, ok := <-sub.Exit
	assert.True(t, ok)
	assert.Equal(t, 0, status.Code)
	_, open := <-sub.C
	assert.False(t, open)

	sub.Close()
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	st, _, proc := newFakeStream(t)
	slow := st.Subscribe(1)
	fast := st.Subscribe(16)

	for _, chunk := range []string{"1", "2", "3"} {
		proc.out <- []byte(chunk)
		assert.Equal(t, chunk, receive(t, fast.C))
	}

	assert.Eventually(t, func() bool { return st.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "1", receive(t, slow.C))
	_, open := <-slow.C
	assert.False(t, open)
	_, ok := <-slow.Exit
	assert.False(t, ok, "dropped subscribers get no exit status")
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	st, _, _ := newFakeStream(t)
	sub := st.Subscribe(4)

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, st.Subscribers())
	_, open := <-sub.C
	assert.False(t, open)
}

func TestStreamReportsDestroy(t *testing.T) {
	exited := make(chan ExitStatus, 1)
	st, m, _ := newFakeStream(t, WithOnExit(func(status ExitStatus) { exited <- status }))
	sub := st.Subscribe(4)

	m.Destroy(st.Session().ID())

	select {
	case status := <-exited:
		assert.True(t, status.Destroyed)
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback not run")
	}
	status, ok := <-sub.Exit
	assert.True(t, ok)
	assert.True(t, status.Destroyed)
}
