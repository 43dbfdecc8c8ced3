// Package wire defines the message types exchanged with the voice backend
// over the duplex connection. Control messages travel as JSON text frames;
// audio travels as raw binary frames and is never wrapped in a text encoding.
package wire

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the type of a control message.
type MessageType string

const (
	// Client → backend messages
	TypeConfig MessageType = "config" // Session setup, sent once after open
	TypePing   MessageType = "ping"   // Heartbeat keep-alive

	// Backend → client messages
	TypeStatus         MessageType = "status"             // Backend readiness updates
	TypeRecognition    MessageType = "recognition_result" // Speech recognition outcome
	TypeThinking       MessageType = "ai_thinking"        // Reply generation started
	TypeTextChunk      MessageType = "ai_text_chunk"      // Incremental reply text
	TypeChunkInfo      MessageType = "audio_chunk_info"   // Announces the next binary chunk
	TypeStreamComplete MessageType = "stream_complete"    // End of one AI turn
	TypeError          MessageType = "error"              // Structured backend error
	TypePong           MessageType = "pong"               // Heartbeat response
)

// ConfigMessage establishes session identity and language preference.
// It must be the first message on a freshly opened connection, before
// any audio frame.
type ConfigMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Language  string      `json:"language"`
}

// NewConfigMessage creates the session setup message.
func NewConfigMessage(sessionID, language string) ConfigMessage {
	return ConfigMessage{
		Type:      TypeConfig,
		SessionID: sessionID,
		Language:  language,
	}
}

// PingMessage is the client heartbeat.
type PingMessage struct {
	Type MessageType `json:"type"`
}

// NewPingMessage creates a heartbeat message.
func NewPingMessage() PingMessage {
	return PingMessage{Type: TypePing}
}

// Inbound is the closed set of control messages the backend can send,
// discriminated by Type. Fields are populated according to the type;
// unrecognized types still parse (Known reports false) so callers can
// log and drop them without tearing the connection down.
type Inbound struct {
	Type MessageType `json:"type"`

	// TypeStatus
	Status string `json:"status,omitempty"`

	// TypeRecognition
	Success        bool   `json:"success,omitempty"`
	RecognizedText string `json:"recognized_text,omitempty"`

	// TypeTextChunk
	Content string `json:"content,omitempty"`

	// TypeChunkInfo
	ChunkID int    `json:"chunk_id,omitempty"`
	Text    string `json:"text,omitempty"`

	// TypeStreamComplete
	RoundCount int `json:"round_count,omitempty"`

	// TypeError
	Error string `json:"error,omitempty"`
}

// ParseInbound decodes one backend control message.
func ParseInbound(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("wire: parse control message: %w", err)
	}
	if msg.Type == "" {
		return Inbound{}, fmt.Errorf("wire: control message missing type field")
	}
	return msg, nil
}

// Known reports whether the message type is part of the protocol.
func (m Inbound) Known() bool {
	switch m.Type {
	case TypeStatus, TypeRecognition, TypeThinking, TypeTextChunk,
		TypeChunkInfo, TypeStreamComplete, TypeError, TypePong:
		return true
	}
	return false
}

// Marshal encodes any outbound control message as JSON.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal control message: %w", err)
	}
	return data, nil
}
