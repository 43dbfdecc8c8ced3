package playback

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/voxhollow/voicecall/pkg/audioio"
)

// Sink plays one item at a time. Play blocks until the item finishes or
// the context is cancelled.
type Sink interface {
	Play(ctx context.Context, item Item) error
	Close() error
}

// writeSpan is the pacing granularity for streaming sinks. Small spans
// keep cancellation latency low during barge-in.
const writeSpan = 20 * time.Millisecond

// WriterSink streams item PCM to an io.Writer at realtime pace. Useful
// for piping into an external player process or capturing to a file.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps an io.Writer as a playback sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Play writes the item's PCM in realtime-paced spans.
func (s *WriterSink) Play(ctx context.Context, item Item) error {
	if len(item.PCM) == 0 {
		return nil
	}
	if item.SampleRate <= 0 || item.Channels <= 0 {
		return fmt.Errorf("invalid item format: rate=%d channels=%d", item.SampleRate, item.Channels)
	}

	bytesPerSpan := int(int64(item.SampleRate*item.Channels*2) * int64(writeSpan) / int64(time.Second))
	if bytesPerSpan < 2 {
		bytesPerSpan = 2
	}
	// Keep sample alignment.
	bytesPerSpan -= bytesPerSpan % 2

	ticker := time.NewTicker(writeSpan)
	defer ticker.Stop()

	for off := 0; off < len(item.PCM); {
		end := off + bytesPerSpan
		if end > len(item.PCM) {
			end = len(item.PCM)
		}

		s.mu.Lock()
		_, err := s.w.Write(item.PCM[off:end])
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("writing audio span: %w", err)
		}
		off = end

		if off >= len(item.PCM) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close is a no-op; the sink does not own the writer.
func (s *WriterSink) Close() error {
	return nil
}

// ExecSink pipes PCM into a long-lived external player process. Items
// with a different format are converted to the sink's fixed rate and
// channel count before writing.
type ExecSink struct {
	sampleRate int
	channels   int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writer *WriterSink

	mu     sync.Mutex
	closed bool
}

// playerCommand probes for an installed streaming PCM player. The
// returned argv reads s16le audio from stdin.
func playerCommand(sampleRate, channels int) []string {
	rate := strconv.Itoa(sampleRate)
	ch := strconv.Itoa(channels)

	if _, err := exec.LookPath("play"); err == nil {
		return []string{"play", "-q", "-t", "raw", "-r", rate, "-e", "signed", "-b", "16", "-c", ch, "-"}
	}
	if _, err := exec.LookPath("ffplay"); err == nil {
		return []string{"ffplay", "-f", "s16le", "-ar", rate, "-ac", ch, "-nodisp", "-loglevel", "quiet", "-"}
	}
	if _, err := exec.LookPath("aplay"); err == nil {
		return []string{"aplay", "-f", "S16_LE", "-r", rate, "-c", ch, "-q", "-"}
	}
	return nil
}

// NewExecSink starts a player process reading s16le PCM from stdin.
// It fails when no player binary (play, ffplay, aplay) is installed.
func NewExecSink(sampleRate, channels int) (*ExecSink, error) {
	argv := playerCommand(sampleRate, channels)
	if argv == nil {
		return nil, fmt.Errorf("no streaming audio player found (tried play, ffplay, aplay)")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting player %s: %w", argv[0], err)
	}

	return &ExecSink{
		sampleRate: sampleRate,
		channels:   channels,
		cmd:        cmd,
		stdin:      stdin,
		writer:     NewWriterSink(stdin),
	}, nil
}

// Play converts the item to the sink format and streams it to the
// player process.
func (s *ExecSink) Play(ctx context.Context, item Item) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("sink closed")
	}
	s.mu.Unlock()

	return s.writer.Play(ctx, s.convert(item))
}

// convert resamples and remixes the item to the sink's fixed format.
func (s *ExecSink) convert(item Item) Item {
	if item.SampleRate == s.sampleRate && item.Channels == s.channels {
		return item
	}

	samples := audioio.BytesToSamples(item.PCM)
	if item.Channels == 2 && s.channels == 1 {
		samples = audioio.StereoToMono(samples)
	} else if item.Channels == 1 && s.channels == 2 {
		samples = audioio.MonoToStereo(samples)
	}
	if item.SampleRate != s.sampleRate {
		samples = audioio.Resample(samples, item.SampleRate, s.sampleRate)
	}

	out := item
	out.PCM = audioio.SamplesToBytes(samples)
	out.SampleRate = s.sampleRate
	out.Channels = s.channels
	return out
}

// Close stops the player process. Pending piped audio is discarded.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stdin.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}

var (
	_ Sink = (*WriterSink)(nil)
	_ Sink = (*ExecSink)(nil)
)
