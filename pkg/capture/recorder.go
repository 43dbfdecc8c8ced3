// Package capture assembles microphone audio into discrete utterance
// segments. A Recorder drains an audioio.Source, normalizes chunks to
// the wire format, and hands back one frame per capture cycle. Segments
// that run past the hard ceiling are force-stopped and delivered through
// the OnSegment callback instead of the Stop return path.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxhollow/voicecall/internal/log"
	"github.com/voxhollow/voicecall/pkg/audioio"
)

// maxSegment bounds a single capture cycle. Long monologues are cut here
// and sent for recognition as-is; this keeps memory bounded and keeps the
// backend round-trip latency predictable.
const maxSegment = 10 * time.Second

var (
	// ErrCaptureActive is returned by Start when a segment is already running.
	ErrCaptureActive = errors.New("capture: segment already active")

	// ErrNotCapturing is returned by Stop when no segment is active.
	ErrNotCapturing = errors.New("capture: no active segment")

	// ErrSegmentTooShort is returned when the assembled frame is below the
	// minimum-size threshold. Callers discard the frame and re-arm.
	ErrSegmentTooShort = errors.New("capture: segment below minimum size")

	// ErrSourceClosed is delivered via OnSegment when the audio source
	// stream ends mid-segment.
	ErrSourceClosed = errors.New("capture: audio source closed")
)

// Config holds recorder settings.
type Config struct {
	// MinSegment is the minimum duration a segment must reach to be
	// delivered. Shorter segments (accidental stop, near-silence cut)
	// yield ErrSegmentTooShort.
	MinSegment time.Duration

	// TargetSampleRate is the wire sample rate. Chunks arriving at a
	// different rate are resampled during assembly.
	TargetSampleRate int

	// TargetChannels is the wire channel count. Stereo sources are
	// downmixed when the target is mono.
	TargetChannels int
}

// DefaultConfig returns recorder settings for the 16kHz mono wire format.
func DefaultConfig() Config {
	return Config{
		MinSegment:       200 * time.Millisecond,
		TargetSampleRate: 16000,
		TargetChannels:   1,
	}
}

// Validate checks config consistency.
func (c Config) Validate() error {
	if c.MinSegment <= 0 {
		return fmt.Errorf("min segment must be positive, got %v", c.MinSegment)
	}
	if c.MinSegment >= maxSegment {
		return fmt.Errorf("min segment %v must be below the %v ceiling", c.MinSegment, maxSegment)
	}
	if c.TargetSampleRate <= 0 {
		return fmt.Errorf("invalid target sample rate: %d", c.TargetSampleRate)
	}
	if c.TargetChannels != 1 && c.TargetChannels != 2 {
		return fmt.Errorf("target channels must be 1 or 2, got %d", c.TargetChannels)
	}
	return nil
}

// minBytes is the assembled-size threshold derived from MinSegment.
func (c Config) minBytes() int {
	bytesPerSecond := c.TargetSampleRate * c.TargetChannels * 2
	return int(int64(bytesPerSecond) * int64(c.MinSegment) / int64(time.Second))
}

// Recorder captures one utterance segment at a time from an audio source.
// It is safe for concurrent use.
type Recorder struct {
	source  audioio.Source
	cfg     Config
	ceiling time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	active    bool
	buf       bytes.Buffer
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	onSegment func(frame []byte, err error)
}

// NewRecorder creates a recorder over the given source.
func NewRecorder(source audioio.Source, cfg Config) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}
	return &Recorder{
		source:  source,
		cfg:     cfg,
		ceiling: maxSegment,
		logger:  log.Component("capture"),
	}, nil
}

// OnSegment registers the callback invoked when a segment ends without a
// Stop call: the duration ceiling expired or the source stream closed.
// The callback receives the assembled frame, or a nil frame with
// ErrSegmentTooShort / ErrSourceClosed.
func (r *Recorder) OnSegment(fn func(frame []byte, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSegment = fn
}

// Active reports whether a segment is currently being captured.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start begins a new capture segment. The underlying source is started
// and drained until Stop is called, the ceiling expires, or the source
// stream closes.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrCaptureActive
	}

	if err := r.source.Start(ctx); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("starting audio source: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.active = true
	r.buf.Reset()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.startedAt = time.Now()
	done := r.done
	r.mu.Unlock()

	r.logger.Debug("segment started", "source", r.source.Name())

	go r.run(runCtx, done)
	return nil
}

// Stop ends the active segment and returns the assembled frame. The
// source is fully released before Stop returns. Returns
// ErrSegmentTooShort when the frame is below the minimum size.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil, ErrNotCapturing
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()

	// The ceiling or a closed source may have finished the segment while
	// Stop was waiting; in that case it was already delivered via OnSegment.
	if !r.active {
		return nil, ErrNotCapturing
	}
	frame, err := r.finishLocked(nil)
	return frame, err
}

// run drains the source stream until canceled or finished. It is the
// only goroutine appending to the segment buffer. The source is released
// before the segment result is delivered, so a callback may immediately
// start the next capture cycle.
func (r *Recorder) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ceiling := time.NewTimer(r.ceiling)
	defer ceiling.Stop()

	stream := r.source.Stream()

	for {
		select {
		case <-ctx.Done():
			r.source.Stop()
			return

		case <-ceiling.C:
			r.source.Stop()
			r.deliver(nil)
			return

		case chunk, ok := <-stream:
			if !ok {
				r.source.Stop()
				r.deliver(ErrSourceClosed)
				return
			}
			r.append(chunk)
		}
	}
}

// append normalizes a chunk to the wire format and buffers it.
func (r *Recorder) append(chunk audioio.AudioChunk) {
	samples := chunk.Samples

	if chunk.Channels == 2 && r.cfg.TargetChannels == 1 {
		samples = audioio.StereoToMono(samples)
	} else if chunk.Channels == 1 && r.cfg.TargetChannels == 2 {
		samples = audioio.MonoToStereo(samples)
	}

	if chunk.SampleRate != r.cfg.TargetSampleRate {
		samples = audioio.Resample(samples, chunk.SampleRate, r.cfg.TargetSampleRate)
	}

	r.mu.Lock()
	r.buf.Write(audioio.SamplesToBytes(samples))
	r.mu.Unlock()
}

// deliver finishes the segment from inside the run loop and hands the
// result to the OnSegment callback. The callback runs on its own
// goroutine so a caller blocked in Stop is never held up by it.
func (r *Recorder) deliver(cause error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	frame, err := r.finishLocked(cause)
	fn := r.onSegment
	r.mu.Unlock()

	if fn != nil {
		go fn(frame, err)
	}
}

// finishLocked assembles the buffered segment and clears capture state.
// Caller holds r.mu.
func (r *Recorder) finishLocked(cause error) ([]byte, error) {
	r.active = false
	elapsed := time.Since(r.startedAt)
	size := r.buf.Len()

	if cause != nil {
		r.buf.Reset()
		r.logger.Warn("segment aborted", "cause", cause, "duration", elapsed, "bytes", size)
		return nil, cause
	}

	if size < r.cfg.minBytes() {
		r.buf.Reset()
		r.logger.Debug("segment discarded", "bytes", size, "min_bytes", r.cfg.minBytes())
		return nil, ErrSegmentTooShort
	}

	frame := make([]byte, size)
	copy(frame, r.buf.Bytes())
	r.buf.Reset()

	r.logger.Debug("segment assembled", "bytes", size, "duration", elapsed)
	return frame, nil
}
