//go:build !windows

package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal"
	"github.com/zhaoge0202/EnsoAI/internal/shared/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	terminals *terminal.Provider
	server    *httptest.Server
	logs      *observer.ObservedLogs
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	terminals := terminal.NewProvider(nil, nil, terminal.WithProviderLogger(zap.New(core)))
	t.Cleanup(func() { terminals.KillAll() })

	r := gin.New()
	r.GET("/terminals/:id/stream", NewHandler(terminals, nil, nil, opts...).HandleTerminal)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{terminals: terminals, server: srv, logs: logs}
}

func (f *fixture) spawn(t *testing.T, script string) *terminal.Stream {
	t.Helper()
	st, err := f.terminals.CreateSession(context.Background(), terminal.Options{
		Shell: "/bin/sh",
		Args:  []string{"-c", script},
		Dir:   t.TempDir(),
	})
	require.NoError(t, err)
	return st
}

func (f *fixture) dial(t *testing.T, st *terminal.Stream) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/terminals/" + st.Session().ID().String() + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return st.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, msg types.WSMessage) {
	t.Helper()
	data, err := sonic.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readUntil collects binary output until a control frame of the given type
// arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) (string, types.WSMessage) {
	t.Helper()
	var out strings.Builder
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err, "output so far: %q", out.String())
		if kind == websocket.BinaryMessage {
			out.Write(data)
			continue
		}
		var msg types.WSMessage
		require.NoError(t, sonic.Unmarshal(data, &msg))
		if msg.Type == want {
			return out.String(), msg
		}
	}
}

func TestStreamCarriesInputOutputAndExit(t *testing.T) {
	f := newFixture(t)
	st := f.spawn(t, `read line; printf "got:%s\n" "$line"; exit 3`)
	conn := f.dial(t, st)

	sendJSON(t, conn, types.WSMessage{Type: "input", Data: "hello\n"})

	out, exit := readUntil(t, conn, "exit")
	assert.Contains(t, out, "got:hello")
	require.NotNil(t, exit.Code)
	assert.Equal(t, 3, *exit.Code)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStreamControlFrames(t *testing.T) {
	f := newFixture(t)
	st := f.spawn(t, `read line; exit 0`)
	conn := f.dial(t, st)

	sendJSON(t, conn, types.WSMessage{Type: "resize", Cols: 132, Rows: 43})
	assert.Eventually(t, func() bool {
		info := st.Session().Info()
		return info.Cols == 132 && info.Rows == 43
	}, 5*time.Second, 10*time.Millisecond)

	sendJSON(t, conn, types.WSMessage{Type: "resize", Cols: 0, Rows: 10})
	_, msg := readUntil(t, conn, "error")
	assert.Contains(t, msg.Message, "positive")

	sendJSON(t, conn, types.WSMessage{Type: "ping"})
	readUntil(t, conn, "pong")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	_, msg = readUntil(t, conn, "error")
	assert.Equal(t, "malformed message", msg.Message)

	// Binary frames are raw keystrokes.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("bye\n")))
	_, exit := readUntil(t, conn, "exit")
	require.NotNil(t, exit.Code)
	assert.Equal(t, 0, *exit.Code)
}

func TestSlowClientIsDropped(t *testing.T) {
	f := newFixture(t, WithSubscriberBuffer(1))
	st := f.spawn(t, `yes flood`)
	conn := f.dial(t, st)

	// Not reading lets the socket fill until the subscriber overflows.
	require.Eventually(t, func() bool {
		return f.logs.FilterMessage("terminal subscriber fell behind, dropping").Len() > 0
	}, 15*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, st.Subscribers())

	_, msg := readUntil(t, conn, "error")
	assert.Contains(t, msg.Message, "fell behind")

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)

	// The session outlives the dropped connection.
	_, err = f.terminals.Manager().Get(st.Session().ID())
	assert.NoError(t, err)
}

func TestUnknownAndInvalidSessions(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/terminals/pty_missing/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/terminals/bad%20id/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
