package call

import "github.com/voxhollow/voicecall/pkg/wire"

// event is the sealed set of inputs the machine reacts to. Collaborator
// callbacks and the public methods post events; the loop consumes them
// one at a time. Turn-scoped events carry the generation observed when
// they were posted so the reducer can drop leftovers from a cancelled
// turn.
type event interface {
	name() string
}

// evWake is a wake word detection while idle.
type evWake struct {
	Word       string
	Confidence float64
}

// evCallRequest is an explicit user request to start a call.
type evCallRequest struct{}

// evEndCall is an explicit user request to end the call.
type evEndCall struct{}

// evInterrupt is a barge-in request while the reply is playing.
type evInterrupt struct{}

// evEndUtterance is a user request to finish the current capture
// segment and hand it to the backend.
type evEndUtterance struct{}

// evTransportOpened reports a successful transport open.
type evTransportOpened struct{}

// evTransportFailed reports a failed transport open.
type evTransportFailed struct {
	Err error
}

// evTransportClosed reports an unexpected connection loss.
type evTransportClosed struct {
	Err error
}

// evCaptureStarted reports that a capture segment began.
type evCaptureStarted struct{}

// evCaptureFailed reports that the capture source could not start.
type evCaptureFailed struct {
	Err error
}

// evSegment delivers one assembled capture segment or the reason none
// was produced.
type evSegment struct {
	Frame []byte
	Err   error
	Gen   uint64
}

// evSendFailed reports a failed segment write to the backend.
type evSendFailed struct {
	Err error
}

// evInbound delivers one backend control message.
type evInbound struct {
	Msg wire.Inbound
	Gen uint64
}

// evAudioFrame delivers one synthesized audio chunk.
type evAudioFrame struct {
	Frame []byte
	Gen   uint64
}

// evChunkQueued confirms that a chunk made it into the playback queue.
type evChunkQueued struct {
	Gen uint64
}

// evQueueEmpty reports that the playback queue drained.
type evQueueEmpty struct {
	Gen uint64
}

func (evWake) name() string            { return "wake" }
func (evCallRequest) name() string     { return "call_request" }
func (evEndCall) name() string         { return "end_call" }
func (evInterrupt) name() string       { return "interrupt" }
func (evEndUtterance) name() string    { return "end_utterance" }
func (evTransportOpened) name() string { return "transport_opened" }
func (evTransportFailed) name() string { return "transport_failed" }
func (evTransportClosed) name() string { return "transport_closed" }
func (evCaptureStarted) name() string  { return "capture_started" }
func (evCaptureFailed) name() string   { return "capture_failed" }
func (evSegment) name() string         { return "segment" }
func (evSendFailed) name() string      { return "send_failed" }
func (evInbound) name() string         { return "inbound" }
func (evAudioFrame) name() string      { return "audio_frame" }
func (evChunkQueued) name() string     { return "chunk_queued" }
func (evQueueEmpty) name() string      { return "queue_empty" }

// command is the sealed set of side effects the reducer can request.
// The loop executes them in order after each reduction.
type command interface {
	cmdName() string
}

// cmdStopGate tears the wake gate down before a call starts.
type cmdStopGate struct{}

// cmdArmGate re-arms the wake gate for the next call.
type cmdArmGate struct{}

// cmdBeginSession starts a fresh session and records its id.
type cmdBeginSession struct{}

// cmdOpenTransport dials the backend for the current session.
type cmdOpenTransport struct{}

// cmdStartCapture begins a capture segment.
type cmdStartCapture struct{}

// cmdStopCapture finishes the segment and feeds it back as an event.
type cmdStopCapture struct{}

// cmdAbortCapture stops any active segment and discards it.
type cmdAbortCapture struct{}

// cmdSendFrame transmits one assembled segment.
type cmdSendFrame struct {
	Frame []byte
}

// cmdEnqueueChunk decodes and queues one synthesized chunk.
type cmdEnqueueChunk struct {
	ChunkID int
	Text    string
	Frame   []byte
}

// cmdFlushQueue discards queued playback and stops the in-flight item.
type cmdFlushQueue struct{}

// cmdCloseTransport closes the backend connection.
type cmdCloseTransport struct{}

// cmdAppendTranscript records one completed turn message.
type cmdAppendTranscript struct {
	Content    string
	IsUser     bool
	Recognized string
}

// cmdSetRound adopts the authoritative round count.
type cmdSetRound struct {
	Round int
}

// cmdResetSession clears session state at call end.
type cmdResetSession struct{}

// cmdEmitError surfaces an error to the registered handler.
type cmdEmitError struct {
	Err error
}

func (cmdStopGate) cmdName() string         { return "stop_gate" }
func (cmdArmGate) cmdName() string          { return "arm_gate" }
func (cmdBeginSession) cmdName() string     { return "begin_session" }
func (cmdOpenTransport) cmdName() string    { return "open_transport" }
func (cmdStartCapture) cmdName() string     { return "start_capture" }
func (cmdStopCapture) cmdName() string      { return "stop_capture" }
func (cmdAbortCapture) cmdName() string     { return "abort_capture" }
func (cmdSendFrame) cmdName() string        { return "send_frame" }
func (cmdEnqueueChunk) cmdName() string     { return "enqueue_chunk" }
func (cmdFlushQueue) cmdName() string       { return "flush_queue" }
func (cmdCloseTransport) cmdName() string   { return "close_transport" }
func (cmdAppendTranscript) cmdName() string { return "append_transcript" }
func (cmdSetRound) cmdName() string         { return "set_round" }
func (cmdResetSession) cmdName() string     { return "reset_session" }
func (cmdEmitError) cmdName() string        { return "emit_error" }
