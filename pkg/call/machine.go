// Package call implements the voice call lifecycle. A single event
// loop owns the call state and drives the wake gate, the capture
// recorder, the backend transport, the playback queue and the session
// store; collaborators feed events back through callbacks and every
// transition is a pure function of the current state and one event.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/voxhollow/voicecall/internal/log"
	"github.com/voxhollow/voicecall/pkg/capture"
	"github.com/voxhollow/voicecall/pkg/playback"
	"github.com/voxhollow/voicecall/pkg/session"
	"github.com/voxhollow/voicecall/pkg/transport"
	"github.com/voxhollow/voicecall/pkg/wire"
)

// Gate is the wake word listener the machine arms while idle.
type Gate interface {
	Start(ctx context.Context) error
	Stop()
	OnDetected(fn func(word string, confidence float64))
}

// Recorder assembles one capture segment per cycle.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() ([]byte, error)
	OnSegment(fn func(frame []byte, err error))
}

// Queue plays synthesized chunks strictly in order.
type Queue interface {
	Enqueue(item playback.Item) error
	ClearAndStop()
	OnEmpty(fn func())
}

// Sessions tracks session identity and the transcript.
type Sessions interface {
	Begin() string
	Append(msg session.Message) session.Message
	SetRound(n int)
	Reset()
}

var (
	_ Recorder = (*capture.Recorder)(nil)
	_ Queue    = (*playback.Queue)(nil)
	_ Sessions = (*session.Store)(nil)
)

// ChunkDecoder converts one synthesized wire chunk into playable PCM.
// Nil means chunks already are PCM in the configured format.
type ChunkDecoder func(frame []byte) (pcm []byte, sampleRate, channels int, err error)

// Deps are the collaborators the machine drives. Transport, Recorder,
// Queue and Sessions are required; a nil Gate disables wake word
// activation and a nil Decoder treats chunks as raw PCM.
type Deps struct {
	Transport transport.Transport
	Recorder  Recorder
	Queue     Queue
	Sessions  Sessions
	Gate      Gate
	Decoder   ChunkDecoder
}

// Validate checks that the required collaborators are present.
func (d Deps) Validate() error {
	if d.Transport == nil {
		return errors.New("call: transport is required")
	}
	if d.Recorder == nil {
		return errors.New("call: recorder is required")
	}
	if d.Queue == nil {
		return errors.New("call: playback queue is required")
	}
	if d.Sessions == nil {
		return errors.New("call: session store is required")
	}
	return nil
}

// Config holds machine settings.
type Config struct {
	// Language is sent in the session config message.
	Language string `yaml:"language" json:"language"`

	// EventBuffer is the capacity of the event channel.
	EventBuffer int `yaml:"event_buffer" json:"event_buffer"`

	// ChunkSampleRate is the PCM rate of decoded chunks.
	ChunkSampleRate int `yaml:"chunk_sample_rate" json:"chunk_sample_rate"`

	// ChunkChannels is the channel count of decoded chunks.
	ChunkChannels int `yaml:"chunk_channels" json:"chunk_channels"`
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		Language:        "zh-CN",
		EventBuffer:     64,
		ChunkSampleRate: 16000,
		ChunkChannels:   1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Language == "" {
		return fmt.Errorf("call: language must be set")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("call: event buffer must be positive, got %d", c.EventBuffer)
	}
	if c.ChunkSampleRate <= 0 {
		return fmt.Errorf("call: chunk sample rate must be positive, got %d", c.ChunkSampleRate)
	}
	if c.ChunkChannels < 1 || c.ChunkChannels > 2 {
		return fmt.Errorf("call: chunk channels must be 1 or 2, got %d", c.ChunkChannels)
	}
	return nil
}

// Machine is the call orchestrator. Construct with NewMachine, then
// Run it once; the zero state is idle with the wake gate armed.
type Machine struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	events  chan event
	pending []event // loop-internal, processed before channel receives
	done    chan struct{}

	running atomic.Bool
	stopped atomic.Bool
	phase   atomic.Int32
	gen     atomic.Uint64

	// Loop-owned; never touched outside the run goroutine.
	st        machineState
	sessionID string

	cbMu         sync.RWMutex
	onState      func(from, to State)
	onTranscript func(msg session.Message)
	onError      func(err error)
}

// NewMachine creates a call machine.
func NewMachine(deps Deps, cfg Config) (*Machine, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Machine{
		deps:   deps,
		cfg:    cfg,
		logger: log.Component("call"),
		events: make(chan event, cfg.EventBuffer),
		done:   make(chan struct{}),
	}, nil
}

// CurrentState returns the call phase.
func (m *Machine) CurrentState() State {
	return State(m.phase.Load())
}

// RequestCall starts a call as if the user asked explicitly.
func (m *Machine) RequestCall() {
	m.post(evCallRequest{})
}

// EndCall ends the call and returns to idle.
func (m *Machine) EndCall() {
	m.post(evEndCall{})
}

// Interrupt barges in on the playing reply: playback is flushed and
// capture restarts, the connection and session stay up.
func (m *Machine) Interrupt() {
	m.post(evInterrupt{})
}

// EndUtterance finishes the current capture segment and hands it to the
// backend for recognition.
func (m *Machine) EndUtterance() {
	m.post(evEndUtterance{})
}

// OnStateChange registers the state transition handler. Handlers run on
// the machine loop and must return quickly.
func (m *Machine) OnStateChange(fn func(from, to State)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onState = fn
}

// OnTranscript registers the handler for completed turn messages.
func (m *Machine) OnTranscript(fn func(msg session.Message)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onTranscript = fn
}

// OnError registers the error handler.
func (m *Machine) OnError(fn func(err error)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onError = fn
}

// Run drives the machine until the context ends. It arms the wake gate,
// then consumes events; on exit every collaborator is torn down. A
// machine runs exactly once.
func (m *Machine) Run(ctx context.Context) error {
	if m.stopped.Load() {
		return ErrStopped
	}
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	m.bind()
	m.exec(ctx, cmdArmGate{})
	m.logger.Info("call machine running", "language", m.cfg.Language)

	for {
		ev := m.next(ctx)
		if ev == nil {
			m.shutdown()
			return ctx.Err()
		}
		m.step(ctx, ev)
	}
}

// bind routes collaborator callbacks into the event loop. Turn-scoped
// events capture the generation at post time.
func (m *Machine) bind() {
	m.deps.Transport.OnMessage(func(msg wire.Inbound) {
		m.post(evInbound{Msg: msg, Gen: m.gen.Load()})
	})
	m.deps.Transport.OnAudio(func(frame []byte) {
		m.post(evAudioFrame{Frame: frame, Gen: m.gen.Load()})
	})
	m.deps.Transport.OnClosed(func(err error) {
		m.post(evTransportClosed{Err: err})
	})
	m.deps.Recorder.OnSegment(func(frame []byte, err error) {
		m.post(evSegment{Frame: frame, Err: err, Gen: m.gen.Load()})
	})
	m.deps.Queue.OnEmpty(func() {
		m.post(evQueueEmpty{Gen: m.gen.Load()})
	})
	if m.deps.Gate != nil {
		m.deps.Gate.OnDetected(func(word string, confidence float64) {
			m.post(evWake{Word: word, Confidence: confidence})
		})
	}
}

// post delivers an event to the loop, dropping it once the machine has
// stopped.
func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// next returns the next event to process, preferring loop-internal
// self-posts over external deliveries. Nil means the run context ended.
func (m *Machine) next(ctx context.Context) event {
	if len(m.pending) > 0 {
		ev := m.pending[0]
		m.pending = m.pending[1:]
		return ev
	}
	select {
	case ev := <-m.events:
		return ev
	case <-ctx.Done():
		return nil
	}
}

func (m *Machine) step(ctx context.Context, ev event) {
	next, cmds := reduce(m.st, ev)

	from := m.st.phase
	m.st = next
	m.gen.Store(next.gen)
	if next.phase != from {
		m.phase.Store(int32(next.phase))
		m.logger.Debug("state changed",
			"from", from.String(),
			"to", next.phase.String(),
			"event", ev.name())
		m.emitState(from, next.phase)
	}

	for _, cmd := range cmds {
		m.exec(ctx, cmd)
	}
}

// exec performs one side effect. Results that matter to the state feed
// back in as events: synchronous outcomes through the pending queue,
// asynchronous ones through the channel.
func (m *Machine) exec(ctx context.Context, cmd command) {
	switch cmd := cmd.(type) {

	case cmdStopGate:
		if m.deps.Gate != nil {
			m.deps.Gate.Stop()
		}

	case cmdArmGate:
		if m.deps.Gate == nil {
			return
		}
		if err := m.deps.Gate.Start(ctx); err != nil {
			m.logger.Error("wake gate arm failed", "error", err)
			m.emitError(fmt.Errorf("arming wake gate: %w", err))
		}

	case cmdBeginSession:
		m.sessionID = m.deps.Sessions.Begin()

	case cmdOpenTransport:
		sessionID := m.sessionID
		go func() {
			if err := m.deps.Transport.Open(ctx, sessionID, m.cfg.Language); err != nil {
				m.post(evTransportFailed{Err: err})
				return
			}
			m.post(evTransportOpened{})
		}()

	case cmdStartCapture:
		if err := m.deps.Recorder.Start(ctx); err != nil {
			m.pending = append(m.pending, evCaptureFailed{Err: err})
			return
		}
		m.pending = append(m.pending, evCaptureStarted{})

	case cmdStopCapture:
		frame, err := m.deps.Recorder.Stop()
		if errors.Is(err, capture.ErrNotCapturing) {
			// The segment was already delivered through OnSegment.
			return
		}
		m.pending = append(m.pending, evSegment{Frame: frame, Err: err, Gen: m.st.gen})

	case cmdAbortCapture:
		if _, err := m.deps.Recorder.Stop(); err != nil && !errors.Is(err, capture.ErrNotCapturing) {
			m.logger.Debug("capture discarded", "error", err)
		}

	case cmdSendFrame:
		m.logger.Debug("sending segment", "bytes", len(cmd.Frame))
		if err := m.deps.Transport.SendAudio(cmd.Frame); err != nil {
			m.pending = append(m.pending, evSendFailed{Err: err})
		}

	case cmdEnqueueChunk:
		if m.enqueueChunk(cmd) {
			m.pending = append(m.pending, evChunkQueued{Gen: m.st.gen})
		}

	case cmdFlushQueue:
		m.deps.Queue.ClearAndStop()

	case cmdCloseTransport:
		if err := m.deps.Transport.Close(); err != nil {
			m.logger.Debug("transport close", "error", err)
		}

	case cmdAppendTranscript:
		msg := m.deps.Sessions.Append(session.Message{
			Content:        cmd.Content,
			IsUser:         cmd.IsUser,
			RecognizedText: cmd.Recognized,
		})
		m.emitTranscript(msg)

	case cmdSetRound:
		m.deps.Sessions.SetRound(cmd.Round)

	case cmdResetSession:
		m.deps.Sessions.Reset()
		m.sessionID = ""
		m.logger.Info("call ended")

	case cmdEmitError:
		m.emitError(cmd.Err)
	}
}

// enqueueChunk decodes one chunk and hands it to the queue, reporting
// whether it was accepted. Undecodable chunks are logged and dropped;
// the connection stays up.
func (m *Machine) enqueueChunk(cmd cmdEnqueueChunk) bool {
	pcm := cmd.Frame
	rate := m.cfg.ChunkSampleRate
	channels := m.cfg.ChunkChannels

	if m.deps.Decoder != nil {
		var err error
		pcm, rate, channels, err = m.deps.Decoder(cmd.Frame)
		if err != nil {
			m.logger.Warn("chunk decode failed", "chunk_id", cmd.ChunkID, "error", err)
			return false
		}
	}

	item := playback.Item{
		ChunkID:    cmd.ChunkID,
		Text:       cmd.Text,
		PCM:        pcm,
		SampleRate: rate,
		Channels:   channels,
	}
	if err := m.deps.Queue.Enqueue(item); err != nil {
		m.logger.Warn("chunk enqueue failed", "chunk_id", cmd.ChunkID, "error", err)
		return false
	}
	return true
}

// shutdown tears everything down when the run context ends.
func (m *Machine) shutdown() {
	m.stopped.Store(true)
	close(m.done)

	if m.st.phase != StateIdle {
		for _, cmd := range []command{
			cmdAbortCapture{},
			cmdFlushQueue{},
			cmdCloseTransport{},
			cmdResetSession{},
		} {
			m.exec(context.Background(), cmd)
		}
		from := m.st.phase
		m.st = machineState{gen: m.st.gen + 1}
		m.phase.Store(int32(StateIdle))
		m.gen.Store(m.st.gen)
		m.emitState(from, StateIdle)
	}
	if m.deps.Gate != nil {
		m.deps.Gate.Stop()
	}
	m.logger.Info("call machine stopped")
}

func (m *Machine) emitState(from, to State) {
	m.cbMu.RLock()
	fn := m.onState
	m.cbMu.RUnlock()
	if fn != nil {
		fn(from, to)
	}
}

func (m *Machine) emitTranscript(msg session.Message) {
	m.cbMu.RLock()
	fn := m.onTranscript
	m.cbMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (m *Machine) emitError(err error) {
	m.cbMu.RLock()
	fn := m.onError
	m.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
