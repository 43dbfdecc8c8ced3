package call

// State is the call lifecycle phase. Exactly one value is active at a
// time, owned by the machine's event loop; every component action is
// gated on it.
type State int

const (
	// StateIdle means no call is in progress; the wake gate listens.
	StateIdle State = iota

	// StateConnecting means the backend connection is being opened.
	StateConnecting

	// StateConnected means the connection is up but the microphone has
	// not started capturing yet.
	StateConnected

	// StateListening means a capture segment is being recorded.
	StateListening

	// StateSpeaking means synthesized reply audio is playing.
	StateSpeaking

	// StateProcessing means a captured segment was handed to the
	// backend and the reply has not started playing yet.
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Active reports whether a call is in progress.
func (s State) Active() bool {
	return s != StateIdle
}
