package wakeword

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/voxhollow/voicecall/internal/log"
	"github.com/voxhollow/voicecall/pkg/audioio"
)

// Config holds gate settings.
type Config struct {
	// Word is the primary wake phrase.
	Word string

	// Aliases are additional accepted spellings or transliterations.
	Aliases []string

	// Confidence is the minimum detector score to accept.
	Confidence float64

	// Similarity is the minimum Jaro-Winkler score for accepting a
	// near-miss transliteration of the phrase.
	Similarity float64

	// Window is the rolling audio window length sent for detection.
	Window time.Duration

	// CheckInterval is how often the current window is checked.
	CheckInterval time.Duration

	// MinEnergy is an RMS floor; windows quieter than this are skipped
	// without calling the detector.
	MinEnergy float64

	// DetectTimeout bounds one detector call.
	DetectTimeout time.Duration
}

// DefaultConfig returns gate settings for the default wake phrase.
func DefaultConfig() Config {
	return Config{
		Word:          "小智",
		Aliases:       []string{"xiaozhi", "xiao zhi"},
		Confidence:    0.6,
		Similarity:    0.85,
		Window:        2 * time.Second,
		CheckInterval: 500 * time.Millisecond,
		MinEnergy:     0.01,
		DetectTimeout: 3 * time.Second,
	}
}

// Validate checks config consistency.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Word) == "" {
		return fmt.Errorf("wake word must not be empty")
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %f", c.Confidence)
	}
	if c.Similarity < 0 || c.Similarity > 1 {
		return fmt.Errorf("similarity must be in [0,1], got %f", c.Similarity)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %v", c.Window)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive, got %v", c.CheckInterval)
	}
	if c.DetectTimeout <= 0 {
		return fmt.Errorf("detect timeout must be positive, got %v", c.DetectTimeout)
	}
	return nil
}

// Stats holds gate counters.
type Stats struct {
	// Checks is the number of windows sent to the detector.
	Checks int64

	// Detections is the number of accepted wake events fired.
	Detections int64
}

// Gate runs standby wake phrase detection over an audio source. It owns
// the source while running: Start claims it, Stop fully releases it
// before returning. After firing once the gate latches until re-armed
// with another Start.
type Gate struct {
	source   audioio.Source
	detector Detector
	cfg      Config
	phrases  []string
	logger   *slog.Logger

	mu         sync.Mutex
	running    bool
	fired      bool
	cancel     context.CancelFunc
	done       chan struct{}
	onDetected func(word string, confidence float64)

	checks     atomic.Int64
	detections atomic.Int64
}

// NewGate creates a gate over the given source and detector.
func NewGate(source audioio.Source, detector Detector, cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid wakeword config: %w", err)
	}
	if source.Config().SampleRate <= 0 {
		return nil, fmt.Errorf("audio source has no sample rate configured")
	}

	phrases := make([]string, 0, 1+len(cfg.Aliases))
	phrases = append(phrases, normalize(cfg.Word))
	for _, a := range cfg.Aliases {
		if n := normalize(a); n != "" {
			phrases = append(phrases, n)
		}
	}

	return &Gate{
		source:   source,
		detector: detector,
		cfg:      cfg,
		phrases:  phrases,
		logger:   log.Component("wakeword"),
	}, nil
}

// OnDetected registers the callback fired on an accepted wake phrase.
func (g *Gate) OnDetected(fn func(word string, confidence float64)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDetected = fn
}

// Running reports whether the gate is armed.
func (g *Gate) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Stats returns gate counters.
func (g *Gate) Stats() Stats {
	return Stats{
		Checks:     g.checks.Load(),
		Detections: g.detections.Load(),
	}
}

// Start arms the gate: the source is claimed and the detection loop
// begins. Starting an armed gate is a no-op.
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}

	if err := g.source.Start(ctx); err != nil {
		g.mu.Unlock()
		return fmt.Errorf("starting audio source: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g.running = true
	g.fired = false
	g.cancel = cancel
	g.done = make(chan struct{})
	done := g.done
	g.mu.Unlock()

	g.logger.Info("wake gate armed", "word", g.cfg.Word, "window", g.cfg.Window)

	go g.loop(runCtx, done)
	return nil
}

// Stop disarms the gate. The source is fully released before Stop
// returns, so the caller may immediately hand it to capture.
func (g *Gate) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	cancel := g.cancel
	done := g.done
	g.mu.Unlock()

	cancel()
	<-done

	g.logger.Info("wake gate disarmed")
}

// loop accumulates a rolling window and checks it on each tick.
func (g *Gate) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer g.source.Stop()

	srcCfg := g.source.Config()
	samplesPerWindow := int(int64(srcCfg.SampleRate*srcCfg.Channels) * int64(g.cfg.Window) / int64(time.Second))

	ticker := time.NewTicker(g.cfg.CheckInterval)
	defer ticker.Stop()

	stream := g.source.Stream()
	var window []int16

	for {
		select {
		case <-ctx.Done():
			return

		case chunk, ok := <-stream:
			if !ok {
				g.logger.Warn("audio source stream closed while armed")
				return
			}
			window = append(window, chunk.Samples...)
			if len(window) > samplesPerWindow {
				n := copy(window, window[len(window)-samplesPerWindow:])
				window = window[:n]
			}

		case <-ticker.C:
			if len(window) < samplesPerWindow/2 {
				continue
			}
			if audioio.CalculateRMS(window) < g.cfg.MinEnergy {
				continue
			}
			if g.check(ctx, window) {
				window = window[:0]
			}
		}
	}
}

// check runs one detector call and fires the callback on an accepted
// phrase. Returns true when the window produced a wake event.
func (g *Gate) check(ctx context.Context, window []int16) bool {
	detCtx, cancel := context.WithTimeout(ctx, g.cfg.DetectTimeout)
	defer cancel()

	g.checks.Add(1)
	det, err := g.detector.Detect(detCtx, audioio.SamplesToBytes(window))
	if err != nil {
		if ctx.Err() == nil {
			g.logger.Debug("wake detection failed", "error", err)
		}
		return false
	}

	if det.Word == "" || det.Confidence < g.cfg.Confidence {
		return false
	}
	if !g.accepts(det.Word) {
		g.logger.Debug("phrase rejected", "word", det.Word, "confidence", det.Confidence)
		return false
	}

	g.mu.Lock()
	if g.fired {
		g.mu.Unlock()
		return false
	}
	g.fired = true
	cb := g.onDetected
	g.mu.Unlock()

	g.detections.Add(1)
	g.logger.Info("wake phrase detected", "word", det.Word, "confidence", det.Confidence)

	if cb != nil {
		go cb(det.Word, det.Confidence)
	}
	return true
}

// accepts reports whether a heard phrase counts as the wake word:
// an exact match on the word or an alias (space and case insensitive),
// or, for latin-script transliterations, a close Jaro-Winkler match.
// Non-latin phrases match exactly only.
func (g *Gate) accepts(heard string) bool {
	h := normalize(heard)
	if h == "" {
		return false
	}
	hStripped := strings.ReplaceAll(h, " ", "")

	for _, p := range g.phrases {
		pStripped := strings.ReplaceAll(p, " ", "")
		if h == p || hStripped == pStripped {
			return true
		}
		if !isLatin(hStripped) || !isLatin(pStripped) {
			continue
		}
		if matchr.JaroWinkler(hStripped, pStripped, false) >= g.cfg.Similarity {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func isLatin(s string) bool {
	for _, r := range s {
		if r >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
