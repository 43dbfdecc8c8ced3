package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxhollow/voicecall/internal/log"
	"github.com/voxhollow/voicecall/pkg/wire"
)

// WebSocket is the production Transport over a gorilla websocket
// connection. One connection serves one call; after a close or fault the
// same instance can be opened again for the next call.
type WebSocket struct {
	cfg    *Config
	logger *slog.Logger

	mu          sync.RWMutex
	conn        *websocket.Conn
	connected   bool
	connecting  bool
	closing     bool
	cancelCtx   context.CancelFunc
	closeOnce   *sync.Once
	connectedAt time.Time

	// writeMu serializes writes; the websocket allows one writer at a
	// time and audio, control, and heartbeat writes are concurrent.
	writeMu sync.Mutex

	onMessage func(wire.Inbound)
	onAudio   func([]byte)
	onClosed  func(error)

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	framesSent       atomic.Int64
	framesReceived   atomic.Int64
}

// NewWebSocket creates a transport for the given backend endpoint.
func NewWebSocket(endpoint string, opts ...Option) (*WebSocket, error) {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &WebSocket{
		cfg:    cfg,
		logger: log.Component("transport"),
	}, nil
}

// Open dials the backend and sends the session config message. The
// config message is on the wire before Open returns, so audio frames
// sent afterwards can never overtake it.
func (t *WebSocket) Open(ctx context.Context, sessionID, language string) error {
	t.mu.Lock()
	if t.connected || t.connecting {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.connecting = true
	t.mu.Unlock()

	fail := func(err error) error {
		t.mu.Lock()
		t.connecting = false
		t.mu.Unlock()
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, t.cfg.Endpoint, nil)
	if err != nil {
		if resp != nil {
			return fail(NewConnectionError(
				ReasonRefused,
				fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err),
				resp.StatusCode >= 500,
			))
		}
		return fail(NewConnectionError(ReasonRefused, err, true))
	}

	cfgMsg, err := wire.Marshal(wire.NewConfigMessage(sessionID, language))
	if err != nil {
		conn.Close()
		return fail(fmt.Errorf("encoding config message: %w", err))
	}
	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, cfgMsg); err != nil {
		conn.Close()
		return fail(NewConnectionError(ReasonHandshake, err, true))
	}
	t.messagesSent.Add(1)

	runCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.connecting = false
	t.closing = false
	t.cancelCtx = cancel
	t.closeOnce = &sync.Once{}
	t.connectedAt = time.Now()
	t.mu.Unlock()

	go t.readLoop(runCtx, conn)
	go t.pingLoop(runCtx, conn)

	t.logger.Info("transport opened", "endpoint", t.cfg.Endpoint, "session_id", sessionID, "language", language)
	return nil
}

// SendControl sends one JSON control message.
func (t *WebSocket) SendControl(v any) error {
	t.mu.RLock()
	conn, ok := t.conn, t.connected
	t.mu.RUnlock()
	if !ok || conn == nil {
		return ErrNotConnected
	}

	data, err := wire.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding control message: %w", err)
	}

	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	t.writeMu.Unlock()
	if err != nil {
		return NewConnectionError(ReasonSend, err, true)
	}

	t.messagesSent.Add(1)
	return nil
}

// SendAudio sends one binary audio frame.
func (t *WebSocket) SendAudio(frame []byte) error {
	t.mu.RLock()
	conn, ok := t.conn, t.connected
	t.mu.RUnlock()
	if !ok || conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	err := conn.WriteMessage(websocket.BinaryMessage, frame)
	t.writeMu.Unlock()
	if err != nil {
		return NewConnectionError(ReasonSend, err, true)
	}

	t.framesSent.Add(1)
	return nil
}

// IsConnected reports whether the connection is open.
func (t *WebSocket) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// OnMessage sets the inbound control message callback.
func (t *WebSocket) OnMessage(fn func(msg wire.Inbound)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

// OnAudio sets the inbound binary frame callback.
func (t *WebSocket) OnAudio(fn func(frame []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAudio = fn
}

// OnClosed sets the unexpected-close callback.
func (t *WebSocket) OnClosed(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClosed = fn
}

// Close shuts the connection down gracefully. It never fires OnClosed;
// that callback is reserved for faults.
func (t *WebSocket) Close() error {
	t.mu.Lock()
	if !t.connected && t.conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.connected = false
	conn := t.conn
	cancel := t.cancelCtx
	t.conn = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		conn.Close()
	}

	t.logger.Info("transport closed")
	return nil
}

// Metrics returns counters for the current or last connection.
func (t *WebSocket) Metrics() Metrics {
	t.mu.RLock()
	connectedAt := t.connectedAt
	t.mu.RUnlock()

	return Metrics{
		MessagesSent:     t.messagesSent.Load(),
		MessagesReceived: t.messagesReceived.Load(),
		FramesSent:       t.framesSent.Load(),
		FramesReceived:   t.framesReceived.Load(),
		ConnectedAt:      connectedAt,
	}
}

// readLoop delivers inbound traffic until the connection dies. The read
// deadline doubles as heartbeat fault detection: when nothing arrives
// within interval+grace the read times out and the connection is
// declared dead.
func (t *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.connected = false
		}
		t.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.HeartbeatInterval + t.cfg.HeartbeatGrace))

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(ctx, conn, err)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			t.messagesReceived.Add(1)

			msg, perr := wire.ParseInbound(data)
			if perr != nil {
				t.logger.Warn("dropping malformed control message", "error", perr)
				continue
			}
			if msg.Type == wire.TypePong {
				continue
			}
			if !msg.Known() {
				t.logger.Debug("dropping unknown control message", "type", msg.Type)
				continue
			}
			t.emitMessage(msg)

		case websocket.BinaryMessage:
			t.framesReceived.Add(1)
			t.emitAudio(data)
		}
	}
}

// handleReadError classifies a read failure and fires OnClosed unless a
// local Close is in progress.
func (t *WebSocket) handleReadError(ctx context.Context, conn *websocket.Conn, err error) {
	t.mu.RLock()
	closing := t.closing
	t.mu.RUnlock()
	if closing || ctx.Err() != nil {
		return
	}

	reason := ReasonRead
	var netErr net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		reason = ReasonClosed
	case errors.As(err, &netErr) && netErr.Timeout():
		reason = ReasonTimeout
	}

	t.logger.Warn("connection lost", "reason", reason, "error", err)

	t.mu.Lock()
	if t.conn == conn {
		t.connected = false
		t.conn = nil
		if t.cancelCtx != nil {
			t.cancelCtx()
		}
	}
	t.mu.Unlock()
	conn.Close()

	t.emitClosed(NewConnectionError(reason, err, true))
}

// pingLoop sends the application-level heartbeat. Write failures are
// left for the read loop to surface.
func (t *WebSocket) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	ping, err := wire.Marshal(wire.NewPingMessage())
	if err != nil {
		t.logger.Error("encoding ping message", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			werr := conn.WriteMessage(websocket.TextMessage, ping)
			t.writeMu.Unlock()
			if werr != nil {
				t.logger.Debug("heartbeat write failed", "error", werr)
				return
			}
			t.messagesSent.Add(1)
		}
	}
}

func (t *WebSocket) emitMessage(msg wire.Inbound) {
	t.mu.RLock()
	fn := t.onMessage
	t.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (t *WebSocket) emitAudio(frame []byte) {
	t.mu.RLock()
	fn := t.onAudio
	t.mu.RUnlock()
	if fn != nil {
		fn(frame)
	}
}

func (t *WebSocket) emitClosed(err error) {
	t.mu.RLock()
	once := t.closeOnce
	fn := t.onClosed
	t.mu.RUnlock()
	if once == nil {
		return
	}
	once.Do(func() {
		if fn != nil {
			fn(err)
		}
	})
}

var _ Transport = (*WebSocket)(nil)
