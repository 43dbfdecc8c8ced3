package audioio

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// SourceFactory creates a Source for one backend.
type SourceFactory func(cfg Config, logger *slog.Logger) (Source, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[Backend]SourceFactory{}
)

// RegisterSource adds a capture backend. Platform integrations call this
// from init(); registering an existing name replaces the factory.
func RegisterSource(name Backend, f SourceFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

func init() {
	RegisterSource(BackendMock, func(cfg Config, logger *slog.Logger) (Source, error) {
		return NewMockSource(cfg, logger), nil
	})
}

// NewSource creates a new audio source with the given configuration.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == "" {
		backend = BackendMock
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported backend: %s (available: %v)", backend, AvailableBackends())
	}

	logger.Debug("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	return factory(cfg, logger)
}

// AvailableBackends returns the registered backend names, sorted.
func AvailableBackends() []Backend {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	backends := make([]Backend, 0, len(factories))
	for name := range factories {
		backends = append(backends, name)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i] < backends[j] })
	return backends
}
