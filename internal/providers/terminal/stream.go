package terminal

import (
	"sync"

	"go.uber.org/zap"

	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
	"github.com/zhaoge0202/EnsoAI/internal/shared/id"
)

const (
	defaultScrollback   = 64 * 1024
	defaultSubscriberCh = 64
)

// Buffer is a bounded byte buffer that drops the oldest bytes when full.
// Reads drain it.
type Buffer struct {
	mu      sync.Mutex
	data    []byte
	limit   int
	dropped int64
}

// NewBuffer creates a buffer holding at most limit bytes.
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = defaultScrollback
	}
	return &Buffer{limit: limit}
}

// Write appends p, discarding the oldest bytes past the limit.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if over := len(b.data) - b.limit; over > 0 {
		b.dropped += int64(over)
		b.data = append(b.data[:0:0], b.data[over:]...)
	}
	return len(p), nil
}

// Drain returns everything buffered and empties the buffer.
func (b *Buffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.data
	b.data = nil
	if out == nil {
		return []byte{}
	}
	return out
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Dropped returns how many bytes were discarded because the buffer was full.
func (b *Buffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Subscription receives a copy of a session's output.
//
// C is closed when the session ends or the subscriber falls behind. Exit
// receives the exit status in the first case only, so a closed Exit with
// no value means the subscription was dropped.
type Subscription struct {
	ID   id.SubscriberID
	C    <-chan []byte
	Exit <-chan ExitStatus

	c      chan []byte
	exit   chan ExitStatus
	stream *Stream
}

// Close detaches the subscription. It is safe to call more than once.
func (sub *Subscription) Close() {
	sub.stream.unsubscribe(sub.ID)
}

// Stream is the single consumer of a session's output channel. It keeps a
// scrollback buffer and fans chunks out to subscribers.
type Stream struct {
	session *Session
	buf     *Buffer
	ids     *id.Generator
	log     *zap.Logger

	mu     sync.Mutex
	subs   map[id.SubscriberID]*Subscription
	exit   *ExitStatus
	closed chan struct{}

	onExit func(ExitStatus)
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithScrollback sets the scrollback buffer limit in bytes.
func WithScrollback(limit int) StreamOption {
	return func(st *Stream) { st.buf = NewBuffer(limit) }
}

// WithStreamLogger sets the logger.
func WithStreamLogger(log *zap.Logger) StreamOption {
	return func(st *Stream) { st.log = logging.OrNop(log) }
}

// WithOnExit registers a callback run once after the exit status arrives.
func WithOnExit(fn func(ExitStatus)) StreamOption {
	return func(st *Stream) { st.onExit = fn }
}

// NewStream starts pumping s's output. The caller must not read
// s.Output or s.Done afterwards.
func NewStream(s *Session, opts ...StreamOption) *Stream {
	st := &Stream{
		session: s,
		buf:     NewBuffer(defaultScrollback),
		ids:     id.Default(),
		log:     zap.NewNop(),
		subs:    make(map[id.SubscriberID]*Subscription),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(st)
	}
	go st.pump()
	return st
}

// Session returns the underlying session.
func (st *Stream) Session() *Session { return st.session }

// Buffer returns the scrollback buffer.
func (st *Stream) Buffer() *Buffer { return st.buf }

// Done is closed once the session has ended and subscribers were notified.
func (st *Stream) Done() <-chan struct{} { return st.closed }

// Exited reports the exit status if the session has ended.
func (st *Stream) Exited() (ExitStatus, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.exit == nil {
		return ExitStatus{}, false
	}
	return *st.exit, true
}

// Subscribe attaches a new subscriber with room for buffer queued chunks.
// Subscribing to an ended stream yields closed channels carrying the exit
// status.
func (st *Stream) Subscribe(buffer int) *Subscription {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.subscribeLocked(buffer)
}

func (st *Stream) subscribeLocked(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberCh
	}
	c := make(chan []byte, buffer)
	exit := make(chan ExitStatus, 1)
	sub := &Subscription{
		ID:     st.ids.NewSubscriberID(),
		C:      c,
		Exit:   exit,
		c:      c,
		exit:   exit,
		stream: st,
	}

	if st.exit != nil {
		exit <- *st.exit
		close(exit)
		close(c)
		return sub
	}
	st.subs[sub.ID] = sub
	return sub
}

// Attach drains the scrollback and subscribes in one step, so every chunk
// lands either in the returned backlog or on the subscription.
func (st *Stream) Attach(buffer int) (*Subscription, []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.subscribeLocked(buffer), st.buf.Drain()
}

// Subscribers returns the number of attached subscribers.
func (st *Stream) Subscribers() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}

func (st *Stream) pump() {
	s := st.session
	for chunk := range s.Output() {
		st.broadcast(chunk)
	}

	status, ok := <-s.Done()
	if !ok {
		status = ExitStatus{Destroyed: true}
	}

	st.mu.Lock()
	st.exit = &status
	for sid, sub := range st.subs {
		sub.exit <- status
		close(sub.exit)
		close(sub.c)
		delete(st.subs, sid)
	}
	st.mu.Unlock()
	close(st.closed)

	if st.onExit != nil {
		st.onExit(status)
	}
}

func (st *Stream) broadcast(chunk []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()

	// Under mu so Attach sees each chunk in exactly one place.
	_, _ = st.buf.Write(chunk)

	for sid, sub := range st.subs {
		select {
		case sub.c <- chunk:
		default:
			st.log.Warn("terminal subscriber fell behind, dropping",
				zap.String("session_id", st.session.id.String()),
				zap.String("subscriber_id", sid.String()))
			close(sub.exit)
			close(sub.c)
			delete(st.subs, sid)
		}
	}
}

func (st *Stream) unsubscribe(sid id.SubscriberID) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sub, ok := st.subs[sid]
	if !ok {
		return
	}
	close(sub.exit)
	close(sub.c)
	delete(st.subs, sid)
}
