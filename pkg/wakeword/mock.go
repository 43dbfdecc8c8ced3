package wakeword

import (
	"context"
	"sync"
)

// MockDetector is a scriptable detector for tests. With no script and no
// DetectFunc it reports silence (empty detection).
type MockDetector struct {
	// DetectFunc overrides Detect entirely when set.
	DetectFunc func(ctx context.Context, window []byte) (Detection, error)

	mu      sync.Mutex
	script  []Detection
	calls   int
	windows [][]byte
}

// NewMockDetector creates an empty mock detector.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// Queue appends detections returned by subsequent Detect calls, one per
// call. When the script runs out the mock reports silence.
func (m *MockDetector) Queue(dets ...Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, dets...)
}

// Detect pops the next scripted detection.
func (m *MockDetector) Detect(ctx context.Context, window []byte) (Detection, error) {
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, window)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	copied := make([]byte, len(window))
	copy(copied, window)
	m.windows = append(m.windows, copied)

	if len(m.script) == 0 {
		return Detection{}, nil
	}
	det := m.script[0]
	m.script = m.script[1:]
	return det, nil
}

// Calls returns how many windows were checked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastWindow returns the most recent window passed to Detect.
func (m *MockDetector) LastWindow() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.windows) == 0 {
		return nil
	}
	return m.windows[len(m.windows)-1]
}

var _ Detector = (*MockDetector)(nil)
