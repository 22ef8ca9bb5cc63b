package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shiguredo/media-processors/internal/host"
	"github.com/shiguredo/media-processors/internal/logging"
	"github.com/shiguredo/media-processors/internal/worker"
)

func main() {
	var cfg worker.Config
	var codecs string

	flag.StringVar(&cfg.ServerURL, "server", "http://localhost:8080", "Playback server URL")
	flag.StringVar(&codecs, "codecs", "", "Comma-separated codec prefixes to accept (default: all)")
	flag.DurationVar(&cfg.Reconnect, "reconnect", 2*time.Second, "Delay before reconnecting a dropped stream")

	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		*logLevel = "debug"
	}
	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logFormat)

	for _, c := range strings.Split(codecs, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cfg.Codecs = append(cfg.Codecs, c)
		}
	}

	w := worker.New(cfg, host.LogSink{Logger: logger}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting decode host worker",
		"server", cfg.ServerURL,
		"codecs", cfg.Codecs,
		"reconnect", cfg.Reconnect,
	)

	if err := w.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "worker error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("worker stopped", "stats", w.Stats().String())
}
