// Package transport maintains the duplex connection between the voice
// engine and the speech backend: JSON control messages and binary audio
// frames over one websocket per call. The transport never reconnects on
// its own; a dropped connection surfaces through OnClosed and the call
// ends.
package transport

import (
	"context"
	"time"

	"github.com/voxhollow/voicecall/pkg/wire"
)

// Transport is the duplex channel to the speech backend.
//
// Open dials and sends the session config control message before
// returning, so the first audio frame can never precede it. Callbacks
// must be registered before Open; they are invoked from the transport's
// reader goroutine.
type Transport interface {
	// Open establishes the connection for one call.
	Open(ctx context.Context, sessionID, language string) error

	// SendControl sends one JSON control message.
	SendControl(v any) error

	// SendAudio sends one binary audio frame.
	SendAudio(frame []byte) error

	// IsConnected reports whether the connection is open.
	IsConnected() bool

	// OnMessage registers the inbound control message handler.
	OnMessage(fn func(msg wire.Inbound))

	// OnAudio registers the inbound binary frame handler.
	OnAudio(fn func(frame []byte))

	// OnClosed registers the handler fired once when the connection
	// dies without a local Close call.
	OnClosed(fn func(err error))

	// Close shuts the connection down. Safe to call repeatedly.
	Close() error
}

// Metrics holds transport counters for one connection.
type Metrics struct {
	// MessagesSent counts outbound control messages.
	MessagesSent int64

	// MessagesReceived counts inbound control messages.
	MessagesReceived int64

	// FramesSent counts outbound audio frames.
	FramesSent int64

	// FramesReceived counts inbound audio frames.
	FramesReceived int64

	// ConnectedAt is when the current connection opened.
	ConnectedAt time.Time
}
