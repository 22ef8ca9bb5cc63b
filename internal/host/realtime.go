package host

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shiguredo/media-processors/pkg/model"
)

// RealtimeOption configures a Realtime host.
type RealtimeOption func(*Realtime)

// WithSink publishes every command to s.
func WithSink(s Sink) RealtimeOption {
	return func(r *Realtime) {
		r.sink = s
	}
}

// WithRemoteDecoders leaves decoder creation to a remote peer, which reports
// the new decoder through the waker.
func WithRemoteDecoders() RealtimeOption {
	return func(r *Realtime) {
		r.remoteDecoders = true
	}
}

// Realtime is a decode host on the wall clock. Sleeps are timers that report
// completion through the waker from their own goroutine. Unless remote
// decoders are enabled, decoder creation completes immediately with a locally
// allocated id.
type Realtime struct {
	waker          Waker
	sink           Sink
	logger         *slog.Logger
	start          time.Time
	remoteDecoders bool

	mu          sync.Mutex
	nextDecoder model.DecoderID
	timers      map[model.Token]*time.Timer
	closed      bool
}

// NewRealtime creates a wall-clock host. Bind must be called before the host
// is used.
func NewRealtime(logger *slog.Logger, opts ...RealtimeOption) *Realtime {
	r := &Realtime{
		sink:   SinkFunc(func(model.HostCommand) {}),
		logger: logger.With("component", "host"),
		start:  time.Now(),
		timers: make(map[model.Token]*time.Timer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind sets the waker completions are delivered to.
func (r *Realtime) Bind(w Waker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waker = w
}

func (r *Realtime) wakerRef() Waker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waker
}

func (r *Realtime) Now() time.Duration {
	return time.Since(r.start)
}

func (r *Realtime) Sleep(token model.Token, session model.SessionID, d time.Duration) {
	r.sink.Publish(model.HostCommand{Type: model.HostSleep, SessionID: session, Token: token, SleepMicros: d.Microseconds()})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.timers[token] = time.AfterFunc(d, func() { r.fire(token) })
}

func (r *Realtime) fire(token model.Token) {
	r.mu.Lock()
	_, ok := r.timers[token]
	delete(r.timers, token)
	closed := r.closed
	r.mu.Unlock()
	if !ok || closed {
		return
	}
	r.wakerRef().Awake(token)
}

func (r *Realtime) CreateVideoDecoder(token model.Token, session model.SessionID, cfg model.VideoDecoderConfig) {
	r.create(model.HostCommand{Type: model.HostCreateVideoDecoder, SessionID: session, Token: token, Video: &cfg})
}

func (r *Realtime) CreateAudioDecoder(token model.Token, session model.SessionID, cfg model.AudioDecoderConfig) {
	r.create(model.HostCommand{Type: model.HostCreateAudioDecoder, SessionID: session, Token: token, Audio: &cfg})
}

// create publishes a creation request. With remote decoders, a request that
// reached no remote host can never complete, so its token is abandoned.
func (r *Realtime) create(cmd model.HostCommand) {
	n, counted := deliver(r.sink, cmd)
	if !r.remoteDecoders {
		r.createLocal(cmd.Token)
		return
	}
	if !counted || n > 0 {
		return
	}
	r.logger.Warn("decoder creation reached no remote host", "session_id", cmd.SessionID, "token", cmd.Token)
	if a, ok := r.wakerRef().(Abandoner); ok {
		a.Abandon(cmd.Token)
	}
}

func (r *Realtime) createLocal(token model.Token) {
	r.mu.Lock()
	r.nextDecoder++
	id := r.nextDecoder
	w := r.waker
	r.mu.Unlock()
	w.DecoderCreated(token, id)
}

func (r *Realtime) Decode(session model.SessionID, decoder model.DecoderID, chunk model.EncodedChunk, payload []byte) {
	r.sink.Publish(model.HostCommand{
		Type:      model.HostDecode,
		SessionID: session,
		DecoderID: decoderRef(decoder),
		Chunk:     &chunk,
		Payload:   payload,
	})
}

func (r *Realtime) CloseDecoder(session model.SessionID, decoder model.DecoderID) {
	r.sink.Publish(model.HostCommand{Type: model.HostCloseDecoder, SessionID: session, DecoderID: decoderRef(decoder)})
}

func (r *Realtime) NotifyEndOfStream(session model.SessionID) {
	r.sink.Publish(model.HostCommand{Type: model.HostEndOfStream, SessionID: session})
}

// Close stops every pending timer. Completions after Close are dropped.
func (r *Realtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for tok, t := range r.timers {
		t.Stop()
		delete(r.timers, tok)
	}
	r.logger.Debug("realtime host closed")
}
