package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shiguredo/media-processors/internal/config"
	"github.com/shiguredo/media-processors/internal/engine"
	"github.com/shiguredo/media-processors/internal/host"
	"github.com/shiguredo/media-processors/internal/logging"
	"github.com/shiguredo/media-processors/internal/server"
	"github.com/shiguredo/media-processors/internal/store"
)

func main() {
	defaults := config.DefaultServerConfig()

	configFile := flag.String("config", "", "Path to a YAML server config file; flags override its values")
	addr := flag.String("addr", defaults.Addr, "Listen address")
	logLevel := flag.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", defaults.LogFormat, "Log format (text, json)")
	dbPath := flag.String("db", defaults.DBPath, "Journal database path (empty disables the journal)")
	remoteDecoders := flag.Bool("remote-decoders", defaults.RemoteDecoders, "Leave decoder creation to the SSE host peer")
	eventBuffer := flag.Int("event-buffer", defaults.EventBuffer, "Host commands buffered per SSE subscriber")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg := defaults
	if *configFile != "" {
		loaded, err := config.LoadServerConfig(*configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "db":
			cfg.DBPath = *dbPath
		case "remote-decoders":
			cfg.RemoteDecoders = *remoteDecoders
		case "event-buffer":
			cfg.EventBuffer = *eventBuffer
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.FromFlags(cfg.LogLevel, cfg.LogFormat, *debug, os.Stderr)

	var serverOpts []server.Option
	var engineOpts []engine.Option

	// Open the journal when a database is configured.
	var journal *store.Journal
	if cfg.DBPath != "" {
		st, err := store.NewSQLiteStore(cfg.DBPath, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		if err := st.Migrate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
			os.Exit(1)
		}
		logger.Info("journal ready", "path", cfg.DBPath)

		journal = store.NewJournal(st, cfg.JournalBuffer, logger)
		engineOpts = append(engineOpts, engine.WithObserver(journal))
		serverOpts = append(serverOpts, server.WithStore(st))
	} else {
		logger.Info("journal disabled", "hint", "set --db to record session runs")
	}

	broker := host.NewBroker(cfg.EventBuffer, logger)
	hostOpts := []host.RealtimeOption{host.WithSink(host.MultiSink{broker, host.LogSink{Logger: logger}})}
	if cfg.RemoteDecoders {
		hostOpts = append(hostOpts, host.WithRemoteDecoders())
	}
	rt := host.NewRealtime(logger, hostOpts...)
	loop := engine.NewLoop(engine.New(rt, logger, engineOpts...), logger)
	rt.Bind(loop)
	serverOpts = append(serverOpts, server.WithBroker(broker))

	srv := server.New(cfg, loop, logger, serverOpts...)

	// Graceful shutdown. Request contexts derive from ctx so open event
	// streams end when shutdown begins.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:        cfg.Addr,
		Handler:     srv.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Start(context.Background()); err != nil {
			logger.Error("engine loop stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "remote_decoders", cfg.RemoteDecoders)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	// Stopping the loop stops every session, which the journal records.
	loop.Stop()
	<-loopDone
	rt.Close()
	if journal != nil {
		journal.Close()
	}
	logger.Info("server stopped")
}
