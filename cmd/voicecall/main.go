// voicecall runs the voice call engine from a terminal: wake word
// gating, utterance capture, the duplex backend connection and ordered
// speech playback. With -embedded it also starts the scripted gateway
// in-process and calls that, so the whole loop runs offline.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxhollow/voicecall/internal/config"
	"github.com/voxhollow/voicecall/internal/log"
	"github.com/voxhollow/voicecall/pkg/audioio"
	"github.com/voxhollow/voicecall/pkg/call"
	"github.com/voxhollow/voicecall/pkg/capture"
	"github.com/voxhollow/voicecall/pkg/gateway"
	"github.com/voxhollow/voicecall/pkg/playback"
	"github.com/voxhollow/voicecall/pkg/session"
	"github.com/voxhollow/voicecall/pkg/transport"
	"github.com/voxhollow/voicecall/pkg/wakeword"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "voicecall:", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "voicecall:", err)
		os.Exit(1)
	}
}

// parseFlags loads the configuration and applies flag overrides.
func parseFlags() (config.Config, error) {
	configPath := flag.String("config", "", "path to YAML config")
	embedded := flag.Bool("embedded", false, "run the scripted gateway in-process and call it")
	endpoint := flag.String("endpoint", "", "backend websocket URL (overrides config)")
	language := flag.String("language", "", "session language (overrides config)")
	logLevel := flag.String("log", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}

	if *embedded {
		cfg.Gateway.Embedded = true
	}
	if *endpoint != "" {
		cfg.Backend.Endpoint = *endpoint
	}
	if *language != "" {
		cfg.Call.Language = *language
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(cfg config.Config) error {
	log.Init(cfg.LogLevel)
	logger := log.Component("voicecall")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	endpoint := cfg.Backend.Endpoint
	if cfg.Gateway.Embedded {
		gw, err := gateway.New(cfg.EmbeddedGateway())
		if err != nil {
			return err
		}
		g.Go(gw.Start)
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return gw.Shutdown(sctx)
		})

		addr, err := waitAddr(ctx, gw)
		if err != nil {
			return err
		}
		endpoint = "ws://" + addr + "/ws/call"

		// The scripted gateway streams raw PCM, not opus.
		cfg.Call.Codec = "pcm"
		cfg.Call.ChunkSampleRate = cfg.Gateway.SampleRate
		cfg.Call.ChunkChannels = 1
		logger.Info("embedded gateway up", "endpoint", endpoint)
	}

	src, err := audioio.NewSource(cfg.AudioSource(), log.Component("audio"))
	if err != nil {
		return fmt.Errorf("audio source: %w", err)
	}

	rec, err := capture.NewRecorder(src, cfg.CaptureRecorder())
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}

	sink := buildSink(cfg.Playback)
	queue := playback.NewQueue(sink)
	defer queue.Close()

	tr, err := transport.NewWebSocket(endpoint, cfg.TransportOptions()...)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	deps := call.Deps{
		Transport: tr,
		Recorder:  rec,
		Queue:     queue,
		Sessions:  session.NewStore(session.DefaultMaxTranscript),
	}

	if cfg.Wakeword.Enabled {
		det := wakeword.NewHTTPDetector(cfg.Wakeword.Endpoint, cfg.Audio.SampleRate, cfg.Audio.Channels)
		gate, err := wakeword.NewGate(src, det, cfg.WakeGate())
		if err != nil {
			return fmt.Errorf("wake gate: %w", err)
		}
		deps.Gate = gate
	}

	if cfg.Call.Codec == "opus" {
		deps.Decoder, err = opusDecoder(cfg)
		if err != nil {
			return err
		}
	}

	m, err := call.NewMachine(deps, cfg.CallMachine())
	if err != nil {
		return err
	}

	m.OnStateChange(func(from, to call.State) {
		logger.Info("call state", "from", from.String(), "to", to.String())
	})
	m.OnTranscript(func(msg session.Message) {
		speaker := "assistant"
		if msg.IsUser {
			speaker = "you"
		}
		fmt.Printf("  %s: %s\n", speaker, msg.Content)
	})
	m.OnError(func(err error) {
		logger.Warn("call error", "error", err)
	})

	g.Go(func() error { return m.Run(ctx) })
	go control(ctx, stop, m)

	printUsage(cfg)
	return g.Wait()
}

// waitAddr blocks until the embedded gateway has bound its listener.
func waitAddr(ctx context.Context, gw *gateway.Server) (string, error) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := gw.Addr(); addr != "" {
			return addr, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return "", errors.New("embedded gateway did not start")
}

// buildSink picks the speaker output. A missing system player degrades
// to discarding audio rather than failing the whole engine.
func buildSink(cfg config.PlaybackConfig) playback.Sink {
	switch cfg.Player {
	case "stdout":
		return playback.NewWriterSink(os.Stdout)
	case "none":
		return playback.NewMockSink()
	default:
		sink, err := playback.NewExecSink(cfg.SampleRate, cfg.Channels)
		if err != nil {
			log.Warn("no audio player found, speech will be discarded", "error", err)
			return playback.NewMockSink()
		}
		return sink
	}
}

// opusDecoder builds the chunk decoder for opus speech streams.
func opusDecoder(cfg config.Config) (call.ChunkDecoder, error) {
	dec, err := audioio.NewDecoder(audioio.Config{
		SampleRate:     cfg.Call.ChunkSampleRate,
		Channels:       cfg.Call.ChunkChannels,
		BufferDuration: 20 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}

	return func(frame []byte) ([]byte, int, int, error) {
		chunk, err := dec.Decode(frame)
		if err != nil {
			return nil, 0, 0, err
		}
		return chunk.Bytes(), chunk.SampleRate, chunk.Channels, nil
	}, nil
}

// control maps terminal input onto call operations. An empty line does
// the obvious thing for the current state: start a call from idle,
// finish the utterance while listening, interrupt while speaking.
func control(ctx context.Context, stop context.CancelFunc, m *call.Machine) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}

		switch strings.TrimSpace(sc.Text()) {
		case "":
			switch m.CurrentState() {
			case call.StateIdle:
				m.RequestCall()
			case call.StateListening:
				m.EndUtterance()
			case call.StateSpeaking:
				m.Interrupt()
			}
		case "end":
			m.EndCall()
		case "quit", "q":
			m.EndCall()
			stop()
			return
		}
	}
}

func printUsage(cfg config.Config) {
	fmt.Println("voicecall ready")
	if cfg.Wakeword.Enabled {
		fmt.Printf("  say %q to start a call\n", cfg.Wakeword.Word)
	}
	fmt.Println("  enter  start call / finish speaking / interrupt playback")
	fmt.Println("  end    hang up")
	fmt.Println("  quit   exit")
}
