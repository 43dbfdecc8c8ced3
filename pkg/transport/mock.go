package transport

import (
	"context"
	"sync"

	"github.com/voxhollow/voicecall/pkg/wire"
)

// MockTransport is an in-memory Transport for tests. Behavior funcs can
// inject failures; Simulate helpers play the backend's side.
type MockTransport struct {
	// OpenFunc overrides the success path of Open when set.
	OpenFunc func(ctx context.Context, sessionID, language string) error

	// SendAudioFunc overrides SendAudio when set.
	SendAudioFunc func(frame []byte) error

	// SendControlFunc overrides SendControl when set.
	SendControlFunc func(v any) error

	mu         sync.Mutex
	connected  bool
	opens      int
	closes     int
	sessionIDs []string
	languages  []string
	controls   []any
	frames     [][]byte

	onMessage func(wire.Inbound)
	onAudio   func([]byte)
	onClosed  func(error)
}

// NewMockTransport creates a disconnected mock.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Open records the call and connects unless OpenFunc fails it.
func (m *MockTransport) Open(ctx context.Context, sessionID, language string) error {
	if m.OpenFunc != nil {
		if err := m.OpenFunc(ctx, sessionID, language); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return ErrAlreadyConnected
	}
	m.connected = true
	m.opens++
	m.sessionIDs = append(m.sessionIDs, sessionID)
	m.languages = append(m.languages, language)
	return nil
}

// SendControl records the message.
func (m *MockTransport) SendControl(v any) error {
	if m.SendControlFunc != nil {
		return m.SendControlFunc(v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.controls = append(m.controls, v)
	return nil
}

// SendAudio records the frame.
func (m *MockTransport) SendAudio(frame []byte) error {
	if m.SendAudioFunc != nil {
		return m.SendAudioFunc(frame)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	copied := make([]byte, len(frame))
	copy(copied, frame)
	m.frames = append(m.frames, copied)
	return nil
}

// IsConnected reports the mock's connection flag.
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// OnMessage sets the inbound control message callback.
func (m *MockTransport) OnMessage(fn func(msg wire.Inbound)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
}

// OnAudio sets the inbound binary frame callback.
func (m *MockTransport) OnAudio(fn func(frame []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAudio = fn
}

// OnClosed sets the unexpected-close callback.
func (m *MockTransport) OnClosed(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClosed = fn
}

// Close disconnects the mock.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		m.closes++
	}
	m.connected = false
	return nil
}

// SimulateMessage delivers an inbound control message as the backend
// would.
func (m *MockTransport) SimulateMessage(msg wire.Inbound) {
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// SimulateAudio delivers an inbound binary frame.
func (m *MockTransport) SimulateAudio(frame []byte) {
	m.mu.Lock()
	fn := m.onAudio
	m.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

// SimulateClosed drops the connection and fires the closed callback.
func (m *MockTransport) SimulateClosed(err error) {
	m.mu.Lock()
	m.connected = false
	fn := m.onClosed
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// OpenCalls returns how many times Open succeeded.
func (m *MockTransport) OpenCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// CloseCalls returns how many times Close closed an open connection.
func (m *MockTransport) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// LastSessionID returns the session id from the most recent Open.
func (m *MockTransport) LastSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessionIDs) == 0 {
		return ""
	}
	return m.sessionIDs[len(m.sessionIDs)-1]
}

// LastLanguage returns the language from the most recent Open.
func (m *MockTransport) LastLanguage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.languages) == 0 {
		return ""
	}
	return m.languages[len(m.languages)-1]
}

// SentFrames returns copies of all audio frames sent.
func (m *MockTransport) SentFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	for i, f := range m.frames {
		c := make([]byte, len(f))
		copy(c, f)
		out[i] = c
	}
	return out
}

// SentControls returns all control messages sent.
func (m *MockTransport) SentControls() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.controls))
	copy(out, m.controls)
	return out
}

var _ Transport = (*MockTransport)(nil)
