package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/monitoring"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal"
	"github.com/zhaoge0202/EnsoAI/internal/shared/id"
	"github.com/zhaoge0202/EnsoAI/internal/shared/types"
	"github.com/zhaoge0202/EnsoAI/internal/shared/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = utils.MaxInputSize + 1024
	subscriberBuf  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Handler streams terminal sessions over WebSocket connections
type Handler struct {
	terminals *terminal.Provider
	metrics   *monitoring.Metrics
	log       *zap.Logger
	queue     int
}

// Option configures a Handler.
type Option func(*Handler)

// WithSubscriberBuffer sets how many output chunks may queue for one
// connection before it is dropped as too slow.
func WithSubscriberBuffer(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.queue = n
		}
	}
}

// NewHandler creates a new WebSocket handler
func NewHandler(terminals *terminal.Provider, metrics *monitoring.Metrics, log *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		terminals: terminals,
		metrics:   metrics,
		log:       logging.OrNop(log),
		queue:     subscriberBuf,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleTerminal attaches a connection to /terminals/:id/stream.
//
// Output goes out as binary frames carrying raw pty bytes. Exit and error
// notices go out as JSON text frames. The client sends JSON "input" and
// "resize" frames, or binary frames as raw input. Closing the connection
// detaches it without ending the session.
func (h *Handler) HandleTerminal(c *gin.Context) {
	sid := id.TerminalID(c.Param("id"))
	if err := utils.ValidateID(sid.String(), "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.terminals.Stream(sid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("session_id", sid.String()), zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	sub := st.Subscribe(h.queue)
	defer sub.Close()

	log := h.log.With(zap.String("session_id", sid.String()), zap.String("subscriber_id", sub.ID.String()))
	log.Debug("terminal stream attached")

	notices := make(chan types.WSMessage, 8)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readLoop(conn, sid, notices, log)
	}()

	h.writeLoop(conn, sub, notices, readDone, log)
	log.Debug("terminal stream detached")
}

func (h *Handler) readLoop(conn *websocket.Conn, sid id.TerminalID, notices chan<- types.WSMessage, log *zap.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	manager := h.terminals.Manager()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		if kind == websocket.BinaryMessage {
			h.metrics.RecordWSMessage("in", "input")
			manager.Write(sid, data)
			continue
		}

		var msg types.WSMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			notify(notices, errorFrame("malformed message"))
			continue
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case "input":
			manager.Write(sid, []byte(msg.Data))
		case "resize":
			if msg.Cols <= 0 || msg.Rows <= 0 {
				notify(notices, errorFrame("cols and rows must be positive"))
				continue
			}
			manager.Resize(sid, msg.Cols, msg.Rows)
		case "ping":
			notify(notices, types.WSMessage{Type: "pong"})
		default:
			notify(notices, errorFrame("unknown message type"))
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, sub *terminal.Subscription, notices <-chan types.WSMessage, readDone <-chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-sub.C:
			if !ok {
				h.finish(conn, sub, log)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
			h.metrics.RecordWSMessage("out", "output")

		case msg := <-notices:
			if err := h.send(conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-readDone:
			return
		}
	}
}

// finish reports why the output channel closed and closes the connection.
func (h *Handler) finish(conn *websocket.Conn, sub *terminal.Subscription, log *zap.Logger) {
	status, exited := <-sub.Exit
	if !exited {
		log.Warn("terminal stream dropped slow client")
		_ = h.send(conn, errorFrame("client fell behind; reconnect to resume"))
		h.close(conn, websocket.CloseTryAgainLater, "lagged")
		return
	}

	code := status.Code
	_ = h.send(conn, types.WSMessage{Type: "exit", Code: &code, Signal: status.Signal})
	h.close(conn, websocket.CloseNormalClosure, "session ended")
}

func (h *Handler) send(conn *websocket.Conn, msg types.WSMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	h.metrics.RecordWSMessage("out", msg.Type)
	return nil
}

func (h *Handler) close(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		h.log.Debug("websocket close failed", zap.Error(err))
	}
}

func notify(notices chan<- types.WSMessage, msg types.WSMessage) {
	select {
	case notices <- msg:
	default:
	}
}

func errorFrame(message string) types.WSMessage {
	return types.WSMessage{Type: "error", Message: message}
}
