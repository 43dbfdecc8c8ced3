// voicegate runs the scripted voice gateway as a standalone server.
// It speaks the same websocket protocol as the real backend, replying
// to every captured utterance with canned text and synthesized tones,
// which makes it a drop-in target for developing the client engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxhollow/voicecall/internal/config"
	"github.com/voxhollow/voicecall/internal/log"
	"github.com/voxhollow/voicecall/pkg/gateway"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "voicegate:", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "voicegate:", err)
		os.Exit(1)
	}
}

func parseFlags() (config.Config, error) {
	configPath := flag.String("config", "", "path to YAML config")
	addr := flag.String("addr", "", "listen address (overrides config)")
	logLevel := flag.String("log", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}

	if *addr != "" {
		cfg.Gateway.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	return cfg, nil
}

func run(cfg config.Config) error {
	log.Init(cfg.LogLevel)
	logger := log.Component("voicegate")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(cfg.EmbeddedGateway())
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(gw.Start)
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return gw.Shutdown(sctx)
	})

	go func() {
		for gw.Addr() == "" {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		logger.Info("gateway listening", "addr", gw.Addr(), "path", "/ws/call")
	}()

	return g.Wait()
}
