// Package worker implements a remote decode host. It follows the server's
// host command stream, allocates decoder ids for creation requests and hands
// every command to a local sink.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shiguredo/media-processors/internal/host"
	"github.com/shiguredo/media-processors/pkg/model"
)

// Config holds worker configuration.
type Config struct {
	ServerURL string
	// Codecs lists accepted codec string prefixes (for example "avc1",
	// "opus"). Creation requests for other codecs are abandoned. Empty
	// accepts everything.
	Codecs    []string
	Reconnect time.Duration
}

// Stats counts what the worker has seen since it started.
type Stats struct {
	Created     int
	Abandoned   int
	Decodes     int
	Bytes       int
	Closed      int
	EndOfStream int
	Open        int
}

// Worker is the remote decode host loop.
type Worker struct {
	client    *Client
	sink      host.Sink
	codecs    []string
	reconnect time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	nextID   model.DecoderID
	decoders map[model.DecoderID]model.SessionID
	stats    Stats
	ready    chan struct{}
	once     sync.Once
}

// New creates a Worker. sink receives every command after the worker has
// handled it; nil discards them.
func New(cfg Config, sink host.Sink, logger *slog.Logger) *Worker {
	if cfg.Reconnect == 0 {
		cfg.Reconnect = 2 * time.Second
	}
	if sink == nil {
		sink = host.SinkFunc(func(model.HostCommand) {})
	}
	return &Worker{
		client:    NewClient(cfg.ServerURL),
		sink:      sink,
		codecs:    cfg.Codecs,
		reconnect: cfg.Reconnect,
		logger:    logger.With("component", "worker"),
		nextID:    1,
		decoders:  make(map[model.DecoderID]model.SessionID),
		ready:     make(chan struct{}),
	}
}

// Ready is closed once the first stream has been established.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Stats returns a snapshot of the counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Open = len(w.decoders)
	return s
}

// Run follows the command stream until ctx is cancelled, reconnecting
// after stream failures.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.reconnect)
	defer ticker.Stop()

	for {
		err := w.follow(ctx)
		if ctx.Err() != nil {
			w.logger.Info("shutting down")
			return nil
		}
		w.logger.Warn("command stream ended", "error", err, "retry_in", w.reconnect)

		select {
		case <-ctx.Done():
			w.logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

// follow handles one stream connection.
func (w *Worker) follow(ctx context.Context) error {
	events, errc, err := w.client.Stream(ctx)
	if err != nil {
		return err
	}
	for ev := range events {
		if ev.Name == "ready" {
			w.logger.Info("connected to server", "detail", string(ev.Data))
			w.once.Do(func() { close(w.ready) })
			continue
		}
		var cmd model.HostCommand
		if err := json.Unmarshal(ev.Data, &cmd); err != nil {
			w.logger.Warn("malformed command", "event", ev.Name, "error", err)
			continue
		}
		w.handle(ctx, cmd)
	}
	if err := <-errc; err != nil {
		return err
	}
	return errors.New("stream closed by server")
}

func (w *Worker) handle(ctx context.Context, cmd model.HostCommand) {
	switch cmd.Type {
	case model.HostCreateVideoDecoder, model.HostCreateAudioDecoder:
		w.create(ctx, cmd)
	case model.HostDecode:
		w.mu.Lock()
		w.stats.Decodes++
		w.stats.Bytes += len(cmd.Payload)
		known := cmd.DecoderID != nil && w.decoders[*cmd.DecoderID] != ""
		w.mu.Unlock()
		if !known {
			w.logger.Warn("decode for unknown decoder", "session", cmd.SessionID, "decoder_id", cmd.DecoderID)
		}
	case model.HostCloseDecoder:
		if cmd.DecoderID != nil {
			w.mu.Lock()
			delete(w.decoders, *cmd.DecoderID)
			w.stats.Closed++
			w.mu.Unlock()
		}
	case model.HostEndOfStream:
		w.mu.Lock()
		w.stats.EndOfStream++
		w.mu.Unlock()
		w.logger.Info("end of stream", "session", cmd.SessionID)
	case model.HostSleep:
		// Timers stay on the server.
	default:
		w.logger.Debug("ignoring command", "type", cmd.Type)
	}
	w.sink.Publish(cmd)
}

func (w *Worker) create(ctx context.Context, cmd model.HostCommand) {
	codec := commandCodec(cmd)
	if !w.accepts(codec) {
		accepted, err := w.client.Abandon(ctx, cmd.Token)
		if err != nil {
			w.logger.Error("abandon failed", "token", cmd.Token, "error", err)
			return
		}
		w.mu.Lock()
		w.stats.Abandoned++
		w.mu.Unlock()
		w.logger.Info("unsupported codec, token abandoned", "session", cmd.SessionID, "codec", codec, "accepted", accepted)
		return
	}

	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.decoders[id] = cmd.SessionID
	w.mu.Unlock()

	accepted, err := w.client.DecoderCreated(ctx, cmd.Token, id)
	if err != nil {
		w.logger.Error("report decoder failed", "token", cmd.Token, "error", err)
	}
	w.mu.Lock()
	if err != nil || !accepted {
		delete(w.decoders, id)
	} else {
		w.stats.Created++
	}
	w.mu.Unlock()
	w.logger.Debug("decoder created", "session", cmd.SessionID, "codec", codec, "decoder_id", id, "accepted", accepted)
}

func (w *Worker) accepts(codec string) bool {
	if len(w.codecs) == 0 {
		return true
	}
	for _, prefix := range w.codecs {
		if strings.HasPrefix(codec, prefix) {
			return true
		}
	}
	return false
}

func commandCodec(cmd model.HostCommand) string {
	switch {
	case cmd.Video != nil:
		return cmd.Video.Codec
	case cmd.Audio != nil:
		return cmd.Audio.Codec
	}
	return ""
}

// String renders stats for log lines and CLI output.
func (s Stats) String() string {
	return fmt.Sprintf("created=%d abandoned=%d decodes=%d bytes=%d closed=%d eos=%d open=%d",
		s.Created, s.Abandoned, s.Decodes, s.Bytes, s.Closed, s.EndOfStream, s.Open)
}
