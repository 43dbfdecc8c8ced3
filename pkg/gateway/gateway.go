// Package gateway runs a scripted stand-in for the voice backend. It
// speaks the real duplex protocol (config handshake, binary audio up,
// JSON control plus binary speech down) but answers every utterance
// from a canned script, so the full client stack can be exercised
// end to end without cloud credentials or GPUs.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/voxhollow/voicecall/internal/log"
	"github.com/voxhollow/voicecall/pkg/wire"
)

// Config holds gateway settings.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" json:"addr"`

	// StepDelay paces the scripted messages within a turn. Zero sends
	// them back to back.
	StepDelay time.Duration `yaml:"step_delay" json:"step_delay"`

	// ChunkDuration is the length of each synthesized speech chunk.
	ChunkDuration time.Duration `yaml:"chunk_duration" json:"chunk_duration"`

	// SampleRate of the synthesized chunks, s16le mono.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// MinSegment is the smallest utterance, in bytes, that counts as
	// speech. Shorter segments get an unsuccessful recognition result.
	MinSegment int `yaml:"min_segment" json:"min_segment"`

	// Replies are cycled through, one per turn.
	Replies []string `yaml:"replies" json:"replies"`
}

// DefaultConfig returns the scripted gateway defaults.
func DefaultConfig() Config {
	return Config{
		Addr:          "127.0.0.1:8765",
		StepDelay:     40 * time.Millisecond,
		ChunkDuration: 300 * time.Millisecond,
		SampleRate:    16000,
		MinSegment:    3200,
		Replies: []string{
			"你好呀，我在听。有什么想聊的？",
			"明白了。这是一段测试回复。",
			"好的。下次再见啦。",
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("gateway: addr is required")
	}
	if c.StepDelay < 0 {
		return fmt.Errorf("gateway: step delay must not be negative, got %v", c.StepDelay)
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("gateway: chunk duration must be positive, got %v", c.ChunkDuration)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("gateway: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.MinSegment < 0 {
		return fmt.Errorf("gateway: min segment must not be negative, got %d", c.MinSegment)
	}
	if len(c.Replies) == 0 {
		return fmt.Errorf("gateway: at least one reply is required")
	}
	return nil
}

// Server is the scripted backend.
type Server struct {
	cfg    Config
	app    *fiber.App
	logger *slog.Logger

	mu sync.Mutex
	ln net.Listener

	sessions atomic.Int64
	turns    atomic.Int64
}

// New creates a gateway server.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		logger: log.Component("gateway"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicecall gateway",
		DisableStartupMessage: true,
	})

	app.Get("/api/status", s.handleStatus)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/call", websocket.New(s.handleCall))

	s.app = app
	return s, nil
}

// Start listens and serves until Shutdown. It blocks.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("gateway listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": s.sessions.Load(),
		"turns":    s.turns.Load(),
	})
}

// callSession is one connected client.
type callSession struct {
	conn *websocket.Conn

	// mu serializes writes; scripted turns and pong replies may race.
	mu sync.Mutex

	configured bool
	sessionID  string
	language   string
	round      int
}

func (cs *callSession) sendJSON(v any) error {
	data, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.conn.WriteMessage(websocket.TextMessage, data)
}

func (cs *callSession) sendBinary(data []byte) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.conn.WriteMessage(websocket.BinaryMessage, data)
}

// clientEnvelope covers every client control message.
type clientEnvelope struct {
	Type      wire.MessageType `json:"type"`
	SessionID string           `json:"session_id"`
	Language  string           `json:"language"`
}

// handleCall owns one client connection for its whole life.
func (s *Server) handleCall(c *websocket.Conn) {
	s.sessions.Add(1)
	defer s.sessions.Add(-1)

	cs := &callSession{conn: c}
	s.logger.Info("client connected", "remote", c.RemoteAddr().String())
	defer s.logger.Info("client disconnected", "remote", c.RemoteAddr().String())

	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			s.logger.Debug("read ended", "error", err)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			s.handleControl(cs, data)
		case websocket.BinaryMessage:
			if err := s.handleSegment(cs, data); err != nil {
				s.logger.Warn("turn aborted", "error", err)
				return
			}
		}
	}
}

func (s *Server) handleControl(cs *callSession, data []byte) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("unparseable control message dropped", "error", err)
		return
	}

	switch env.Type {
	case wire.TypeConfig:
		cs.configured = true
		cs.sessionID = env.SessionID
		cs.language = env.Language
		s.logger.Info("session configured",
			"session_id", env.SessionID, "language", env.Language)
		if err := cs.sendJSON(wire.Inbound{Type: wire.TypeStatus, Status: "ready"}); err != nil {
			s.logger.Debug("status send failed", "error", err)
		}

	case wire.TypePing:
		if err := cs.sendJSON(wire.Inbound{Type: wire.TypePong}); err != nil {
			s.logger.Debug("pong send failed", "error", err)
		}

	default:
		s.logger.Debug("control message ignored", "type", env.Type)
	}
}

// handleSegment answers one uploaded utterance with a scripted turn.
// Send failures are returned so the caller drops the connection.
func (s *Server) handleSegment(cs *callSession, segment []byte) error {
	if !cs.configured {
		s.logger.Warn("audio before config", "bytes", len(segment))
		return cs.sendJSON(wire.Inbound{
			Type:  wire.TypeError,
			Error: "config required before audio",
		})
	}

	round := cs.round + 1
	steps, accepted := scriptTurn(round, len(segment), s.cfg)
	s.logger.Info("segment received",
		"session_id", cs.sessionID, "bytes", len(segment),
		"accepted", accepted, "round", round)

	for _, step := range steps {
		if s.cfg.StepDelay > 0 {
			time.Sleep(s.cfg.StepDelay)
		}

		var err error
		if step.audio != nil {
			err = cs.sendBinary(step.audio)
		} else {
			err = cs.sendJSON(step.msg)
		}
		if err != nil {
			return fmt.Errorf("scripted step: %w", err)
		}
	}

	if accepted {
		cs.round = round
		s.turns.Add(1)
	}
	return nil
}
