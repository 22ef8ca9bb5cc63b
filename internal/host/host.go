// Package host provides decode hosts for the engine: a virtual-clock host for
// deterministic runs, a wall-clock host, and a broker that publishes host
// commands to remote subscribers.
package host

import (
	"log/slog"

	"github.com/shiguredo/media-processors/pkg/model"
)

// Waker receives host completions. engine.Loop delivers them asynchronously;
// engine.SyncWaker delivers them on the caller's goroutine.
type Waker interface {
	Awake(token model.Token)
	DecoderCreated(token model.Token, id model.DecoderID)
}

// Abandoner is implemented by wakers that can report a completion that will
// never arrive.
type Abandoner interface {
	Abandon(token model.Token)
}

// Sink receives every command a host executes.
type Sink interface {
	Publish(cmd model.HostCommand)
}

// Deliverer is a sink that knows how many receivers got a command.
type Deliverer interface {
	Sink
	Deliver(cmd model.HostCommand) int
}

// deliver publishes cmd to s. counted is false when no part of s reports
// receivers.
func deliver(s Sink, cmd model.HostCommand) (n int, counted bool) {
	switch t := s.(type) {
	case Deliverer:
		return t.Deliver(cmd), true
	case MultiSink:
		for _, sub := range t {
			m, ok := deliver(sub, cmd)
			if ok {
				n += m
				counted = true
			}
		}
		return n, counted
	default:
		s.Publish(cmd)
		return 0, false
	}
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(cmd model.HostCommand)

func (f SinkFunc) Publish(cmd model.HostCommand) {
	f(cmd)
}

// MultiSink publishes to each sink in order.
type MultiSink []Sink

func (m MultiSink) Publish(cmd model.HostCommand) {
	for _, s := range m {
		s.Publish(cmd)
	}
}

// LogSink logs commands. Decodes and sleeps are logged at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(cmd model.HostCommand) {
	attrs := []any{"type", cmd.Type}
	if cmd.SessionID != "" {
		attrs = append(attrs, "session_id", cmd.SessionID)
	}
	if cmd.DecoderID != nil {
		attrs = append(attrs, "decoder_id", *cmd.DecoderID)
	}
	switch cmd.Type {
	case model.HostDecode:
		attrs = append(attrs, "chunk_type", cmd.Chunk.Type, "timestamp", cmd.Chunk.Timestamp, "bytes", len(cmd.Payload))
		s.Logger.Debug("host command", attrs...)
	case model.HostSleep:
		attrs = append(attrs, "sleep_us", cmd.SleepMicros)
		s.Logger.Debug("host command", attrs...)
	case model.HostCreateVideoDecoder:
		attrs = append(attrs, "codec", cmd.Video.Codec, "width", cmd.Video.CodedWidth, "height", cmd.Video.CodedHeight)
		s.Logger.Info("host command", attrs...)
	case model.HostCreateAudioDecoder:
		attrs = append(attrs, "codec", cmd.Audio.Codec, "sample_rate", cmd.Audio.SampleRate, "channels", cmd.Audio.NumberOfChannels)
		s.Logger.Info("host command", attrs...)
	default:
		s.Logger.Info("host command", attrs...)
	}
}

func decoderRef(id model.DecoderID) *model.DecoderID {
	return &id
}
