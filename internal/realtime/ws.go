package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"motorent/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
)

// ErrNotConnected is returned when sending while the connection is down.
var ErrNotConnected = errors.New("real-time connection is not established")

// WSTransport is a Transport over a WebSocket connection. Every frame is a JSON
// Message. Dropped connections are re-dialed with exponential backoff; the
// reconnect callbacks run after each successful re-dial.
type WSTransport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	bus    *Bus
	logger zerolog.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected chan struct{}

	writeMu sync.Mutex
}

// NewWSTransport creates a transport for url. header is sent on every dial.
func NewWSTransport(url string, header http.Header, logger zerolog.Logger) *WSTransport {
	return &WSTransport{
		url:        url,
		header:     header,
		dialer:     websocket.DefaultDialer,
		bus:        NewBus(),
		logger:     logger.With().Str("component", "ws").Logger(),
		MinBackoff: DefaultMinBackoff,
		MaxBackoff: DefaultMaxBackoff,
		connected:  make(chan struct{}),
	}
}

// On registers a handler for event.
func (t *WSTransport) On(event string, handler Handler) {
	t.bus.On(event, handler)
}

// OnReconnect registers fn to run after each re-dial.
func (t *WSTransport) OnReconnect(fn func()) {
	t.bus.OnReconnect(fn)
}

// JoinRoom asks the server to deliver the events of room.
func (t *WSTransport) JoinRoom(ctx context.Context, room string) error {
	if err := t.Emit(ctx, EventJoinRoom, room); err != nil {
		return err
	}
	return t.bus.JoinRoom(ctx, room)
}

// LeaveRoom stops the events of room.
func (t *WSTransport) LeaveRoom(ctx context.Context, room string) error {
	if err := t.bus.LeaveRoom(ctx, room); err != nil {
		return err
	}
	return t.Emit(ctx, EventLeaveRoom, room)
}

// Emit sends event with payload to the server.
func (t *WSTransport) Emit(ctx context.Context, event string, payload any) error {
	const op = "realtime.Emit"

	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Wrap(domain.KindInternal, op, err)
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return domain.Transport(op, ErrNotConnected)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(Message{Event: event, Data: data}); err != nil {
		return domain.Transport(op, err)
	}
	return nil
}

// WaitConnected blocks until the first connection is up.
func (t *WSTransport) WaitConnected(ctx context.Context) error {
	select {
	case <-t.connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dials, reads and re-dials until ctx is done.
func (t *WSTransport) Run(ctx context.Context) error {
	backoff := t.MinBackoff
	first := true

	for {
		conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("dial failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, t.MaxBackoff)
			continue
		}

		backoff = t.MinBackoff
		t.setConn(conn)
		if first {
			first = false
			close(t.connected)
			t.logger.Info().Str("url", t.url).Msg("connected")
		} else {
			t.bus.Reconnect()
		}

		err = t.readLoop(ctx, conn)
		t.setConn(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("connection lost")
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, t.MaxBackoff)
	}
}

func (t *WSTransport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go t.pingLoop(ctx, conn, done)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				t.logger.Warn().Err(err).Msg("malformed frame")
				continue
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if _, err := t.bus.Deliver(msg); err != nil {
			t.logger.Warn().Err(err).Str("event", msg.Event).Msg("handler failed")
		}
	}
}

func (t *WSTransport) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			t.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			t.writeMu.Unlock()
			_ = conn.Close()
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func nextBackoff(cur, ceiling time.Duration) time.Duration {
	next := cur * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
