package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxhollow/voicecall/pkg/wire"
)

var upgrader = websocket.Upgrader{}

// wsServer runs handle for each incoming websocket connection.
func wsServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketOpenSendsConfigFirst(t *testing.T) {
	type received struct {
		msgType int
		data    []byte
	}
	got := make(chan received, 4)

	srv := wsServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 2; i++ {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			got <- received{mt, data}
		}
		// Hold the connection until the client closes.
		conn.ReadMessage()
	})
	defer srv.Close()

	tr, err := NewWebSocket(wsURL(srv))
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	if err := tr.Open(context.Background(), "sess-1", "zh-CN"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	if !tr.IsConnected() {
		t.Error("expected connected transport after Open")
	}

	if err := tr.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}

	first := <-got
	if first.msgType != websocket.TextMessage {
		t.Fatalf("expected config message first, got type %d", first.msgType)
	}
	var cfg wire.ConfigMessage
	if err := json.Unmarshal(first.data, &cfg); err != nil {
		t.Fatalf("config message is not valid JSON: %v", err)
	}
	if cfg.Type != wire.TypeConfig {
		t.Errorf("expected type config, got %q", cfg.Type)
	}
	if cfg.SessionID != "sess-1" {
		t.Errorf("expected session id sess-1, got %q", cfg.SessionID)
	}
	if cfg.Language != "zh-CN" {
		t.Errorf("expected language zh-CN, got %q", cfg.Language)
	}

	second := <-got
	if second.msgType != websocket.BinaryMessage {
		t.Fatalf("expected binary frame second, got type %d", second.msgType)
	}
	if len(second.data) != 3 {
		t.Errorf("expected 3 frame bytes, got %d", len(second.data))
	}
}

func TestWebSocketOpenRefused(t *testing.T) {
	tr, err := NewWebSocket("ws://127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	err = tr.Open(context.Background(), "sess-1", "zh-CN")
	if err == nil {
		t.Fatal("expected dial failure")
	}

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %T: %v", err, err)
	}
	if connErr.Reason != ReasonRefused {
		t.Errorf("expected reason %q, got %q", ReasonRefused, connErr.Reason)
	}
	if tr.IsConnected() {
		t.Error("expected disconnected transport after failed Open")
	}
}

func TestWebSocketReceivesControlAndAudio(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		// Consume the config message.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","status":"ready"}`))
		conn.WriteMessage(websocket.BinaryMessage, []byte{9, 9, 9, 9})
		conn.ReadMessage()
	})
	defer srv.Close()

	tr, err := NewWebSocket(wsURL(srv))
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	msgs := make(chan wire.Inbound, 4)
	frames := make(chan []byte, 4)
	tr.OnMessage(func(msg wire.Inbound) { msgs <- msg })
	tr.OnAudio(func(frame []byte) { frames <- frame })

	if err := tr.Open(context.Background(), "sess-1", "zh-CN"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	select {
	case msg := <-msgs:
		if msg.Type != wire.TypeStatus {
			t.Errorf("expected status message, got %q", msg.Type)
		}
		if msg.Status != "ready" {
			t.Errorf("expected status ready, got %q", msg.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control message")
	}

	select {
	case frame := <-frames:
		if len(frame) != 4 {
			t.Errorf("expected 4 frame bytes, got %d", len(frame))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audio frame")
	}
}

func TestWebSocketDropsMalformedAndUnknown(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"weird_future_thing"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ai_thinking"}`))
		conn.ReadMessage()
	})
	defer srv.Close()

	tr, err := NewWebSocket(wsURL(srv))
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	msgs := make(chan wire.Inbound, 4)
	tr.OnMessage(func(msg wire.Inbound) { msgs <- msg })

	if err := tr.Open(context.Background(), "sess-1", "zh-CN"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	select {
	case msg := <-msgs:
		if msg.Type != wire.TypeThinking {
			t.Errorf("expected the thinking message to arrive, got %q", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the valid message")
	}

	// Garbage must not kill the connection.
	if !tr.IsConnected() {
		t.Error("expected connection to survive malformed traffic")
	}
	select {
	case msg := <-msgs:
		t.Errorf("unexpected extra message delivered: %q", msg.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocketHeartbeat(t *testing.T) {
	pings := make(chan struct{}, 8)

	srv := wsServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]string
			if json.Unmarshal(data, &msg) == nil && msg["type"] == "ping" {
				pings <- struct{}{}
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
			}
		}
	})
	defer srv.Close()

	tr, err := NewWebSocket(wsURL(srv), WithHeartbeat(30*time.Millisecond, 200*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	if err := tr.Open(context.Background(), "sess-1", "zh-CN"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-pings:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for heartbeat %d", i+1)
		}
	}
}

func TestWebSocketHeartbeatTimeout(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		// Read but never answer; the client sees total silence.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	tr, err := NewWebSocket(wsURL(srv), WithHeartbeat(30*time.Millisecond, 30*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	closed := make(chan error, 1)
	tr.OnClosed(func(err error) { closed <- err })

	if err := tr.Open(context.Background(), "sess-1", "zh-CN"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	select {
	case err := <-closed:
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("expected ConnectionError, got %T: %v", err, err)
		}
		if connErr.Reason != ReasonTimeout {
			t.Errorf("expected reason %q, got %q", ReasonTimeout, connErr.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat fault")
	}

	if tr.IsConnected() {
		t.Error("expected disconnected transport after fault")
	}
}

func TestWebSocketRemoteClose(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			time.Now().Add(time.Second),
		)
	})
	defer srv.Close()

	tr, err := NewWebSocket(wsURL(srv))
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	closed := make(chan error, 1)
	tr.OnClosed(func(err error) { closed <- err })

	if err := tr.Open(context.Background(), "sess-1", "zh-CN"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	select {
	case err := <-closed:
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("expected ConnectionError, got %T: %v", err, err)
		}
		if connErr.Reason != ReasonClosed {
			t.Errorf("expected reason %q, got %q", ReasonClosed, connErr.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for remote close")
	}
}

func TestWebSocketLocalCloseIsSilent(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	tr, err := NewWebSocket(wsURL(srv))
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	closed := make(chan error, 1)
	tr.OnClosed(func(err error) { closed <- err })

	if err := tr.Open(context.Background(), "sess-1", "zh-CN"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-closed:
		t.Errorf("unexpected closed callback after local Close: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	// Idempotent.
	if err := tr.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestWebSocketSendWithoutConnection(t *testing.T) {
	tr, err := NewWebSocket("ws://127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	if err := tr.SendAudio([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := tr.SendControl(wire.NewPingMessage()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestWebSocketReopen(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	tr, err := NewWebSocket(wsURL(srv))
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	for cycle := 0; cycle < 2; cycle++ {
		if err := tr.Open(context.Background(), "sess", "zh-CN"); err != nil {
			t.Fatalf("cycle %d: Open failed: %v", cycle, err)
		}
		if !tr.IsConnected() {
			t.Fatalf("cycle %d: expected connected transport", cycle)
		}
		if err := tr.Close(); err != nil {
			t.Fatalf("cycle %d: Close failed: %v", cycle, err)
		}
	}
}

func TestWebSocketOpenTwice(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	tr, err := NewWebSocket(wsURL(srv))
	if err != nil {
		t.Fatalf("NewWebSocket failed: %v", err)
	}

	if err := tr.Open(context.Background(), "sess", "zh-CN"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	if err := tr.Open(context.Background(), "sess", "zh-CN"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestMockTransportRecords(t *testing.T) {
	m := NewMockTransport()

	if err := m.Open(context.Background(), "sess-9", "en-US"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if m.LastSessionID() != "sess-9" {
		t.Errorf("expected sess-9, got %q", m.LastSessionID())
	}
	if m.LastLanguage() != "en-US" {
		t.Errorf("expected en-US, got %q", m.LastLanguage())
	}

	m.SendAudio([]byte{1, 2})
	m.SendControl(wire.NewPingMessage())

	if frames := m.SentFrames(); len(frames) != 1 || len(frames[0]) != 2 {
		t.Errorf("unexpected frames: %v", frames)
	}
	if controls := m.SentControls(); len(controls) != 1 {
		t.Errorf("expected 1 control, got %d", len(controls))
	}

	var gotMsg wire.Inbound
	m.OnMessage(func(msg wire.Inbound) { gotMsg = msg })
	m.SimulateMessage(wire.Inbound{Type: wire.TypeThinking})
	if gotMsg.Type != wire.TypeThinking {
		t.Errorf("expected simulated message, got %q", gotMsg.Type)
	}

	var gotErr error
	m.OnClosed(func(err error) { gotErr = err })
	m.SimulateClosed(ErrConnectionClosed)
	if !errors.Is(gotErr, ErrConnectionClosed) {
		t.Errorf("expected simulated close error, got %v", gotErr)
	}
	if m.IsConnected() {
		t.Error("expected disconnected mock after simulated close")
	}
}
