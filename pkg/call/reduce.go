package call

import (
	"errors"

	"github.com/voxhollow/voicecall/pkg/capture"
	"github.com/voxhollow/voicecall/pkg/transport"
	"github.com/voxhollow/voicecall/pkg/wire"
)

// machineState is the complete reducer state: the lifecycle phase plus
// bookkeeping for the turn in flight.
type machineState struct {
	phase State

	// gen is the turn generation. Interrupt and teardown bump it; events
	// posted before the bump carry the old value and are dropped.
	gen uint64

	// Turn bookkeeping, cleared when a new segment is handed to the
	// backend.
	audioPending bool   // chunks queued and the queue has not drained yet
	streamDone   bool   // stream_complete seen for this turn
	reply        string // accumulated reply text
	chunkID      int    // id announced by the last audio_chunk_info
	chunkText    string // text announced by the last audio_chunk_info
}

func (st machineState) clearTurn() machineState {
	st.audioPending = false
	st.streamDone = false
	st.reply = ""
	st.chunkID = 0
	st.chunkText = ""
	return st
}

// teardown ends the call unconditionally. The side effect order is
// fixed: stop capture, flush playback, close the transport, reset the
// session, re-arm the wake gate.
func teardown(st machineState, extra ...command) (machineState, []command) {
	st = st.clearTurn()
	st.gen++
	st.phase = StateIdle

	cmds := make([]command, 0, len(extra)+5)
	cmds = append(cmds, extra...)
	cmds = append(cmds,
		cmdAbortCapture{},
		cmdFlushQueue{},
		cmdCloseTransport{},
		cmdResetSession{},
		cmdArmGate{},
	)
	return st, cmds
}

func beginCall(st machineState) (machineState, []command) {
	st = st.clearTurn()
	st.phase = StateConnecting
	return st, []command{cmdStopGate{}, cmdBeginSession{}, cmdOpenTransport{}}
}

// reduce maps one event onto the next state and the side effects to
// run. It is a pure function of its inputs; anything that touches a
// clock, a socket or a collaborator happens in the executed commands.
func reduce(st machineState, ev event) (machineState, []command) {
	switch ev := ev.(type) {

	case evWake:
		if st.phase != StateIdle {
			return st, nil
		}
		return beginCall(st)

	case evCallRequest:
		if st.phase != StateIdle {
			return st, nil
		}
		return beginCall(st)

	case evEndCall:
		if st.phase == StateIdle {
			return st, nil
		}
		return teardown(st)

	case evInterrupt:
		if st.phase != StateSpeaking {
			return st, nil
		}
		st = st.clearTurn()
		st.gen++
		st.phase = StateListening
		return st, []command{cmdFlushQueue{}, cmdStartCapture{}}

	case evEndUtterance:
		if st.phase != StateListening {
			return st, nil
		}
		return st, []command{cmdStopCapture{}}

	case evTransportOpened:
		switch st.phase {
		case StateConnecting:
			st.phase = StateConnected
			return st, []command{cmdStartCapture{}}
		case StateIdle:
			// The call ended while the dial was in flight; the late
			// connection must not linger.
			return st, []command{cmdCloseTransport{}}
		default:
			return st, nil
		}

	case evTransportFailed:
		if st.phase != StateConnecting {
			return st, nil
		}
		return teardown(st, cmdEmitError{Err: ev.Err})

	case evTransportClosed:
		if st.phase == StateIdle {
			return st, nil
		}
		return teardown(st, cmdEmitError{Err: ev.Err})

	case evCaptureStarted:
		if st.phase == StateConnected {
			st.phase = StateListening
		}
		return st, nil

	case evCaptureFailed:
		if st.phase == StateIdle {
			return st, nil
		}
		return teardown(st, cmdEmitError{Err: ev.Err})

	case evSegment:
		if ev.Gen != st.gen || st.phase != StateListening {
			return st, nil
		}
		switch {
		case ev.Err == nil:
			st = st.clearTurn()
			st.phase = StateProcessing
			return st, []command{cmdSendFrame{Frame: ev.Frame}}
		case errors.Is(ev.Err, capture.ErrSegmentTooShort):
			// Near-silence or an accidental stop; record again instead
			// of spamming the backend.
			return st, []command{cmdStartCapture{}}
		default:
			return teardown(st, cmdEmitError{Err: ev.Err})
		}

	case evSendFailed:
		if st.phase == StateIdle {
			return st, nil
		}
		return teardown(st, cmdEmitError{Err: ev.Err})

	case evInbound:
		if ev.Gen != st.gen || st.phase == StateIdle {
			return st, nil
		}
		return reduceInbound(st, ev.Msg)

	case evAudioFrame:
		if ev.Gen != st.gen {
			return st, nil
		}
		switch st.phase {
		case StateProcessing, StateSpeaking:
			return st, []command{cmdEnqueueChunk{
				ChunkID: st.chunkID,
				Text:    st.chunkText,
				Frame:   ev.Frame,
			}}
		default:
			return st, nil
		}

	case evChunkQueued:
		if ev.Gen != st.gen {
			return st, nil
		}
		switch st.phase {
		case StateProcessing:
			st.phase = StateSpeaking
			st.audioPending = true
		case StateSpeaking:
			st.audioPending = true
		}
		return st, nil

	case evQueueEmpty:
		if ev.Gen != st.gen || st.phase != StateSpeaking {
			return st, nil
		}
		st.audioPending = false
		if !st.streamDone {
			// Playback outran synthesis; more chunks are coming for
			// this turn.
			return st, nil
		}
		st.phase = StateListening
		return st, []command{cmdStartCapture{}}
	}

	return st, nil
}

// reduceInbound handles backend control messages for the active call.
func reduceInbound(st machineState, msg wire.Inbound) (machineState, []command) {
	switch msg.Type {

	case wire.TypeStatus:
		return st, nil

	case wire.TypeRecognition:
		if st.phase != StateProcessing {
			return st, nil
		}
		if !msg.Success {
			// Nothing usable was said. Ending the call outright beats
			// looping the backend on empty utterances.
			return teardown(st)
		}
		return st, []command{cmdAppendTranscript{
			Content:    msg.RecognizedText,
			IsUser:     true,
			Recognized: msg.RecognizedText,
		}}

	case wire.TypeThinking:
		return st, nil

	case wire.TypeTextChunk:
		if st.phase != StateProcessing && st.phase != StateSpeaking {
			return st, nil
		}
		st.reply += msg.Content
		return st, nil

	case wire.TypeChunkInfo:
		if st.phase != StateProcessing && st.phase != StateSpeaking {
			return st, nil
		}
		st.chunkID = msg.ChunkID
		st.chunkText = msg.Text
		return st, nil

	case wire.TypeStreamComplete:
		if st.phase != StateProcessing && st.phase != StateSpeaking {
			return st, nil
		}
		st.streamDone = true
		cmds := []command{cmdSetRound{Round: msg.RoundCount}}
		if st.reply != "" {
			cmds = append(cmds, cmdAppendTranscript{Content: st.reply, IsUser: false})
		}
		if !st.audioPending {
			// Either the turn had no audio at all or playback already
			// drained; listen again right away.
			st.phase = StateListening
			cmds = append(cmds, cmdStartCapture{})
		}
		return st, cmds

	case wire.TypeError:
		return reduceBackendError(st, msg)
	}

	return st, nil
}

// reduceBackendError recovers in place: the backend rejected or lost
// one turn, but the connection and session are still good, so capture
// restarts and the user can try again.
func reduceBackendError(st machineState, msg wire.Inbound) (machineState, []command) {
	emit := cmdEmitError{Err: transport.NewBackendError(msg.Error)}

	switch st.phase {
	case StateProcessing:
		st = st.clearTurn()
		st.phase = StateConnected
		return st, []command{emit, cmdStartCapture{}}
	case StateSpeaking:
		st = st.clearTurn()
		st.gen++
		st.phase = StateConnected
		return st, []command{emit, cmdFlushQueue{}, cmdStartCapture{}}
	default:
		// Capture is already running (or about to start); surfacing the
		// error is enough.
		return st, []command{emit}
	}
}
