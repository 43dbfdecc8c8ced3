// Package config provides the configuration schema and loader for
// voicecall commands. Settings load from YAML, with environment
// overrides for the knobs most often changed per machine, and map
// onto the component configurations.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/voxhollow/voicecall/pkg/audioio"
	"github.com/voxhollow/voicecall/pkg/call"
	"github.com/voxhollow/voicecall/pkg/capture"
	"github.com/voxhollow/voicecall/pkg/gateway"
	"github.com/voxhollow/voicecall/pkg/transport"
	"github.com/voxhollow/voicecall/pkg/wakeword"
)

// Config is the root configuration for the voice call engine.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Backend  BackendConfig  `yaml:"backend"`
	Audio    AudioConfig    `yaml:"audio"`
	Capture  CaptureConfig  `yaml:"capture"`
	Wakeword WakewordConfig `yaml:"wakeword"`
	Call     CallConfig     `yaml:"call"`
	Playback PlaybackConfig `yaml:"playback"`
	Gateway  GatewayConfig  `yaml:"gateway"`
}

// BackendConfig holds the connection settings for the voice backend.
type BackendConfig struct {
	// Endpoint is the backend websocket URL.
	Endpoint string `yaml:"endpoint"`

	HandshakeTimeoutMs int `yaml:"handshake_timeout_ms"`
	HeartbeatMs        int `yaml:"heartbeat_ms"`
	HeartbeatGraceMs   int `yaml:"heartbeat_grace_ms"`
	WriteTimeoutMs     int `yaml:"write_timeout_ms"`
}

// AudioConfig selects and shapes the microphone source.
type AudioConfig struct {
	// Backend picks the capture implementation; "mock" generates
	// synthetic audio.
	Backend    string `yaml:"backend"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BufferMs   int    `yaml:"buffer_ms"`
	Device     string `yaml:"device"`
}

// CaptureConfig shapes utterance segmentation.
type CaptureConfig struct {
	// MinSegmentMs discards segments shorter than this as noise.
	MinSegmentMs int `yaml:"min_segment_ms"`

	// SampleRate and Channels are the format segments are converted to
	// before upload.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// WakewordConfig controls the always-on wake gate.
type WakewordConfig struct {
	// Enabled arms the gate; when false, calls start on request only.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the HTTP recognition service used for detection.
	Endpoint string `yaml:"endpoint"`

	Word            string   `yaml:"word"`
	Aliases         []string `yaml:"aliases"`
	Confidence      float64  `yaml:"confidence"`
	Similarity      float64  `yaml:"similarity"`
	WindowMs        int      `yaml:"window_ms"`
	CheckIntervalMs int      `yaml:"check_interval_ms"`
	MinEnergy       float64  `yaml:"min_energy"`
	DetectTimeoutMs int      `yaml:"detect_timeout_ms"`
}

// CallConfig shapes the call machine.
type CallConfig struct {
	Language    string `yaml:"language"`
	EventBuffer int    `yaml:"event_buffer"`

	// Codec is the encoding of backend speech chunks: "opus" or "pcm".
	Codec string `yaml:"codec"`

	ChunkSampleRate int `yaml:"chunk_sample_rate"`
	ChunkChannels   int `yaml:"chunk_channels"`
}

// PlaybackConfig selects the speaker sink.
type PlaybackConfig struct {
	// Player is "auto" (probe for an installed player), "stdout"
	// (stream PCM to standard output) or "none" (discard).
	Player     string `yaml:"player"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

// GatewayConfig embeds the scripted development backend.
type GatewayConfig struct {
	// Embedded starts the scripted gateway in-process and points the
	// engine at it.
	Embedded bool `yaml:"embedded"`

	Addr          string   `yaml:"addr"`
	StepDelayMs   int      `yaml:"step_delay_ms"`
	ChunkMs       int      `yaml:"chunk_ms"`
	SampleRate    int      `yaml:"sample_rate"`
	MinSegment    int      `yaml:"min_segment"`
	Replies       []string `yaml:"replies"`
}

// Default returns the full default configuration: a mock microphone,
// the stock wake phrase, opus speech chunks and an auto-probed player.
func Default() Config {
	tc := transport.DefaultConfig()
	wc := wakeword.DefaultConfig()
	cc := call.DefaultConfig()
	gc := gateway.DefaultConfig()

	return Config{
		LogLevel: "info",
		Backend: BackendConfig{
			Endpoint:           "ws://127.0.0.1:8765/ws/call",
			HandshakeTimeoutMs: int(tc.HandshakeTimeout / time.Millisecond),
			HeartbeatMs:        int(tc.HeartbeatInterval / time.Millisecond),
			HeartbeatGraceMs:   int(tc.HeartbeatGrace / time.Millisecond),
			WriteTimeoutMs:     int(tc.WriteTimeout / time.Millisecond),
		},
		Audio: AudioConfig{
			Backend:    "mock",
			SampleRate: 16000,
			Channels:   1,
			BufferMs:   20,
		},
		Capture: CaptureConfig{
			MinSegmentMs: 200,
			SampleRate:   16000,
			Channels:     1,
		},
		Wakeword: WakewordConfig{
			Enabled:         false,
			Word:            wc.Word,
			Aliases:         wc.Aliases,
			Confidence:      wc.Confidence,
			Similarity:      wc.Similarity,
			WindowMs:        int(wc.Window / time.Millisecond),
			CheckIntervalMs: int(wc.CheckInterval / time.Millisecond),
			MinEnergy:       wc.MinEnergy,
			DetectTimeoutMs: int(wc.DetectTimeout / time.Millisecond),
		},
		Call: CallConfig{
			Language:        cc.Language,
			EventBuffer:     cc.EventBuffer,
			Codec:           "opus",
			ChunkSampleRate: cc.ChunkSampleRate,
			ChunkChannels:   cc.ChunkChannels,
		},
		Playback: PlaybackConfig{
			Player:     "auto",
			SampleRate: 16000,
			Channels:   1,
		},
		Gateway: GatewayConfig{
			Embedded:    false,
			Addr:        gc.Addr,
			StepDelayMs: int(gc.StepDelay / time.Millisecond),
			ChunkMs:     int(gc.ChunkDuration / time.Millisecond),
			SampleRate:  gc.SampleRate,
			MinSegment:  gc.MinSegment,
			Replies:     gc.Replies,
		},
	}
}

// Validate checks schema-level coherence. Component constructors
// validate their own settings again at build time.
func (c Config) Validate() error {
	var errs []error

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", c.LogLevel))
	}

	if c.Backend.Endpoint == "" {
		errs = append(errs, errors.New("backend.endpoint is required"))
	} else if !strings.HasPrefix(c.Backend.Endpoint, "ws://") && !strings.HasPrefix(c.Backend.Endpoint, "wss://") {
		errs = append(errs, fmt.Errorf("backend.endpoint %q must use ws:// or wss://", c.Backend.Endpoint))
	}

	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels))
	}

	if c.Capture.MinSegmentMs <= 0 {
		errs = append(errs, fmt.Errorf("capture.min_segment_ms must be positive, got %d", c.Capture.MinSegmentMs))
	}

	if c.Wakeword.Enabled {
		if c.Wakeword.Word == "" {
			errs = append(errs, errors.New("wakeword.word is required when wakeword.enabled is true"))
		}
		if c.Wakeword.Endpoint == "" {
			errs = append(errs, errors.New("wakeword.endpoint is required when wakeword.enabled is true"))
		}
	}

	if c.Call.Language == "" {
		errs = append(errs, errors.New("call.language is required"))
	}
	switch c.Call.Codec {
	case "opus", "pcm":
	default:
		errs = append(errs, fmt.Errorf("call.codec %q is invalid; valid values: opus, pcm", c.Call.Codec))
	}

	switch c.Playback.Player {
	case "auto", "stdout", "none":
	default:
		errs = append(errs, fmt.Errorf("playback.player %q is invalid; valid values: auto, stdout, none", c.Playback.Player))
	}

	if c.Gateway.Embedded && len(c.Gateway.Replies) == 0 {
		errs = append(errs, errors.New("gateway.replies must not be empty when gateway.embedded is true"))
	}

	return errors.Join(errs...)
}

// AudioSource maps the schema onto the microphone source settings.
func (c Config) AudioSource() audioio.Config {
	return audioio.Config{
		Backend:        audioio.Backend(c.Audio.Backend),
		SampleRate:     c.Audio.SampleRate,
		Channels:       c.Audio.Channels,
		BufferDuration: time.Duration(c.Audio.BufferMs) * time.Millisecond,
		Device:         c.Audio.Device,
	}
}

// CaptureRecorder maps the schema onto the segment recorder settings.
func (c Config) CaptureRecorder() capture.Config {
	return capture.Config{
		MinSegment:       time.Duration(c.Capture.MinSegmentMs) * time.Millisecond,
		TargetSampleRate: c.Capture.SampleRate,
		TargetChannels:   c.Capture.Channels,
	}
}

// WakeGate maps the schema onto the wake word gate settings.
func (c Config) WakeGate() wakeword.Config {
	return wakeword.Config{
		Word:          c.Wakeword.Word,
		Aliases:       c.Wakeword.Aliases,
		Confidence:    c.Wakeword.Confidence,
		Similarity:    c.Wakeword.Similarity,
		Window:        time.Duration(c.Wakeword.WindowMs) * time.Millisecond,
		CheckInterval: time.Duration(c.Wakeword.CheckIntervalMs) * time.Millisecond,
		MinEnergy:     c.Wakeword.MinEnergy,
		DetectTimeout: time.Duration(c.Wakeword.DetectTimeoutMs) * time.Millisecond,
	}
}

// TransportOptions maps the schema onto transport dial options.
func (c Config) TransportOptions() []transport.Option {
	return []transport.Option{
		transport.WithHandshakeTimeout(time.Duration(c.Backend.HandshakeTimeoutMs) * time.Millisecond),
		transport.WithHeartbeat(
			time.Duration(c.Backend.HeartbeatMs)*time.Millisecond,
			time.Duration(c.Backend.HeartbeatGraceMs)*time.Millisecond,
		),
		transport.WithWriteTimeout(time.Duration(c.Backend.WriteTimeoutMs) * time.Millisecond),
	}
}

// CallMachine maps the schema onto the call machine settings.
func (c Config) CallMachine() call.Config {
	return call.Config{
		Language:        c.Call.Language,
		EventBuffer:     c.Call.EventBuffer,
		ChunkSampleRate: c.Call.ChunkSampleRate,
		ChunkChannels:   c.Call.ChunkChannels,
	}
}

// EmbeddedGateway maps the schema onto the scripted gateway settings.
func (c Config) EmbeddedGateway() gateway.Config {
	return gateway.Config{
		Addr:          c.Gateway.Addr,
		StepDelay:     time.Duration(c.Gateway.StepDelayMs) * time.Millisecond,
		ChunkDuration: time.Duration(c.Gateway.ChunkMs) * time.Millisecond,
		SampleRate:    c.Gateway.SampleRate,
		MinSegment:    c.Gateway.MinSegment,
		Replies:       c.Gateway.Replies,
	}
}
