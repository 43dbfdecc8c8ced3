package playback

import (
	"context"
	"sync"
	"time"
)

// MockSink records played items for tests. Play blocks for Delay per
// item (zero by default) and honors context cancellation, so tests can
// exercise both instant drains and in-flight flushes.
type MockSink struct {
	// PlayFunc overrides Play entirely when set.
	PlayFunc func(ctx context.Context, item Item) error

	// Delay simulates per-item playback time.
	Delay time.Duration

	mu     sync.Mutex
	played []Item
	closed bool
}

// NewMockSink creates a recording sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// Play records the item, then waits Delay or until cancellation.
func (m *MockSink) Play(ctx context.Context, item Item) error {
	if m.PlayFunc != nil {
		return m.PlayFunc(ctx, item)
	}

	m.mu.Lock()
	m.played = append(m.played, item)
	delay := m.Delay
	m.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// Close marks the sink closed.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Played returns a copy of the items played so far, in order.
func (m *MockSink) Played() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, len(m.played))
	copy(out, m.played)
	return out
}

// PlayedCount returns the number of items played.
func (m *MockSink) PlayedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.played)
}

// Closed reports whether Close was called.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears recorded state.
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.played = nil
	m.closed = false
}

var _ Sink = (*MockSink)(nil)
