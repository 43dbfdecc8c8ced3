// Package session keeps the in-memory record of the current call: the
// session id used to correlate transport traffic, the accumulated
// transcript, and the backend-acknowledged round count.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxhollow/voicecall/internal/log"
)

// DefaultMaxTranscript bounds the retained transcript length.
const DefaultMaxTranscript = 100

// Message is one immutable transcript entry, either a recognized human
// utterance or a synthesized reply.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"is_user"`
	Timestamp time.Time `json:"timestamp"`

	// RecognizedText carries the raw recognition result for user turns.
	RecognizedText string `json:"recognized_text,omitempty"`
}

// Context is a point-in-time view of the session.
type Context struct {
	SessionID  string    `json:"session_id"`
	RoundCount int       `json:"round_count"`
	Transcript []Message `json:"transcript"`
}

// Store holds the session context for one call at a time. All methods
// are safe for concurrent use, though the call machine is the only
// writer in practice.
type Store struct {
	mu            sync.RWMutex
	ctx           Context
	maxTranscript int
	logger        *slog.Logger
}

// NewStore creates an empty store. maxTranscript bounds the transcript;
// values below one fall back to DefaultMaxTranscript.
func NewStore(maxTranscript int) *Store {
	if maxTranscript < 1 {
		maxTranscript = DefaultMaxTranscript
	}
	return &Store{
		maxTranscript: maxTranscript,
		logger:        log.Component("session"),
	}
}

// Begin starts a fresh session and returns its id. Any previous session
// state is discarded.
func (s *Store) Begin() string {
	id := uuid.NewString()

	s.mu.Lock()
	s.ctx = Context{SessionID: id}
	s.mu.Unlock()

	s.logger.Info("session started", "session_id", id)
	return id
}

// ID returns the current session id, or empty when no session is active.
func (s *Store) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx.SessionID
}

// Active reports whether a session has begun and not been reset.
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx.SessionID != ""
}

// Append adds a message to the transcript in arrival order, evicting the
// oldest entries beyond the bound. Missing ID and Timestamp fields are
// filled in. The stored message is returned.
func (s *Store) Append(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.ctx.Transcript = append(s.ctx.Transcript, msg)
	if excess := len(s.ctx.Transcript) - s.maxTranscript; excess > 0 {
		s.ctx.Transcript = s.ctx.Transcript[excess:]
	}
	s.mu.Unlock()

	return msg
}

// SetRound adopts the backend's authoritative round count. A regression
// or skip is a recoverable desync, not an error; the value is adopted
// unconditionally.
func (s *Store) SetRound(n int) {
	s.mu.Lock()
	prev := s.ctx.RoundCount
	s.ctx.RoundCount = n
	s.mu.Unlock()

	if n < prev {
		s.logger.Warn("round count regressed", "previous", prev, "current", n)
	}
}

// Round returns the last adopted round count.
func (s *Store) Round() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx.RoundCount
}

// Len returns the transcript length.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ctx.Transcript)
}

// Snapshot returns a deep copy of the session context.
func (s *Store) Snapshot() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Context{
		SessionID:  s.ctx.SessionID,
		RoundCount: s.ctx.RoundCount,
	}
	if len(s.ctx.Transcript) > 0 {
		out.Transcript = make([]Message, len(s.ctx.Transcript))
		copy(out.Transcript, s.ctx.Transcript)
	}
	return out
}

// Reset clears all session state. Safe to call repeatedly or when no
// session is active.
func (s *Store) Reset() {
	s.mu.Lock()
	had := s.ctx.SessionID
	s.ctx = Context{}
	s.mu.Unlock()

	if had != "" {
		s.logger.Info("session reset", "session_id", had)
	}
}
