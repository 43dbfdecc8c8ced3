package transport

import "time"

// Config holds websocket transport settings.
type Config struct {
	// Endpoint is the backend websocket URL.
	Endpoint string

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is how often an application-level ping control
	// message is sent.
	HeartbeatInterval time.Duration

	// HeartbeatGrace extends the read deadline beyond the heartbeat
	// interval; no inbound traffic for interval+grace is a fault.
	HeartbeatGrace time.Duration

	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration
}

// DefaultConfig returns transport settings matching the backend's
// expectations.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		HeartbeatGrace:    10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrMissingEndpoint
	}
	return nil
}

// Option is a functional option for the websocket transport.
type Option func(*Config)

// WithHandshakeTimeout sets the dial timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithHeartbeat sets the ping interval and the grace period added to the
// read deadline.
func WithHeartbeat(interval, grace time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatGrace = grace
	}
}

// WithWriteTimeout sets the per-write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}
