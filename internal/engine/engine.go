// Package engine owns the loaded container and the playback sessions, and
// drives them on a cooperative scheduler.
//
// An Engine is not safe for concurrent use. Callers on many goroutines go
// through a Loop, which serialises every call onto one goroutine.
package engine

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/shiguredo/media-processors/internal/mp4"
	"github.com/shiguredo/media-processors/internal/player"
	"github.com/shiguredo/media-processors/internal/scheduler"
	"github.com/shiguredo/media-processors/pkg/model"
)

var (
	ErrAlreadyLoaded = errors.New("container already loaded")
	ErrNotLoaded     = errors.New("no container loaded")
)

// Option configures an Engine.
type Option func(*Engine)

// WithObserver sets the observer that receives session lifecycle events.
func WithObserver(o player.Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// Engine loads a container once and runs playback sessions over it.
type Engine struct {
	host      player.Host
	logger    *slog.Logger
	observer  player.Observer
	container *mp4.Container
	sched     *scheduler.Scheduler
	sessions  map[model.SessionID]*player.Session
	polling   bool
}

// New creates an engine whose sessions call host.
func New(host player.Host, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		host:     host,
		logger:   logger.With("component", "engine"),
		observer: player.ObserverFunc(func(model.SessionID, model.EventType, map[string]any) {}),
		sched:    scheduler.New(logger),
		sessions: make(map[model.SessionID]*player.Session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load parses and validates data and makes it the engine's container. Load
// succeeds at most once; a failed load leaves the engine unchanged.
func (e *Engine) Load(data []byte) (model.ContainerInfo, error) {
	if e.container != nil {
		return model.ContainerInfo{}, ErrAlreadyLoaded
	}
	c, err := mp4.Parse(data)
	if err != nil {
		e.logger.Info("load failed", "bytes", len(data), "error", err)
		return model.ContainerInfo{}, fmt.Errorf("load container: %w", err)
	}
	e.container = c
	info := c.Info()
	e.logger.Info("container loaded",
		"bytes", len(data),
		"tracks", len(c.Tracks()),
		"duration", c.Duration(),
		"audio_configs", len(info.AudioConfigs),
		"video_configs", len(info.VideoConfigs),
	)
	return info, nil
}

// Info returns the decoder configuration summary of the loaded container.
func (e *Engine) Info() (model.ContainerInfo, bool) {
	if e.container == nil {
		return model.ContainerInfo{}, false
	}
	return e.container.Info(), true
}

// Container returns the loaded container, or nil.
func (e *Engine) Container() *mp4.Container {
	return e.container
}

// Play starts a session under id. A session already registered under id is
// stopped and replaced.
func (e *Engine) Play(id model.SessionID, opts model.PlayOptions) error {
	if e.container == nil {
		return ErrNotLoaded
	}
	if _, ok := e.sessions[id]; ok {
		e.remove(id)
		e.observer.SessionEvent(id, model.EventReplaced, nil)
		e.logger.Info("session replaced", "session_id", id)
	}
	s := player.NewSession(id, e.container, e.host, opts, e.observer, e.logger)
	e.sessions[id] = s
	e.sched.Spawn(string(id), s)
	e.Poll()
	return nil
}

// Stop removes the session registered under id, releasing its decoders. It
// reports whether a session was registered.
func (e *Engine) Stop(id model.SessionID) bool {
	if !e.remove(id) {
		return false
	}
	e.observer.SessionEvent(id, model.EventStopped, nil)
	e.logger.Info("session stopped", "session_id", id)
	e.Poll()
	return true
}

func (e *Engine) remove(id model.SessionID) bool {
	if _, ok := e.sessions[id]; !ok {
		return false
	}
	delete(e.sessions, id)
	return e.sched.Remove(string(id))
}

// Poll runs sessions until every one is waiting on the host. A Poll issued
// while polling, from a host callback, returns immediately; the outer pass
// picks up whatever the callback made ready.
func (e *Engine) Poll() int {
	if e.polling {
		return 0
	}
	e.polling = true
	defer func() { e.polling = false }()
	return e.sched.RunUntilStalled()
}

// Awake reports that the sleep for token has elapsed.
func (e *Engine) Awake(token model.Token) bool {
	return e.wake(token, player.Awake{})
}

// DecoderCreated reports the decoder the host created for token.
func (e *Engine) DecoderCreated(token model.Token, id model.DecoderID) bool {
	return e.wake(token, id)
}

func (e *Engine) wake(token model.Token, value any) bool {
	if !e.sched.Wake(token, value) {
		return false
	}
	e.Poll()
	return true
}

// Abandon reports that the completion for token will never arrive. The
// session waiting on it stalls until stopped.
func (e *Engine) Abandon(token model.Token) bool {
	key, ok := e.sched.Abandon(token)
	if !ok {
		return false
	}
	if s, ok := e.sessions[model.SessionID(key)]; ok {
		s.Stall()
		e.logger.Warn("session stalled", "session_id", key, "token", token)
	}
	return true
}

// Sessions returns a snapshot of every registered session ordered by id.
func (e *Engine) Sessions() []model.SessionStatus {
	out := make([]model.SessionStatus, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s.Status())
	}
	slices.SortFunc(out, func(a, b model.SessionStatus) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Session returns a snapshot of one session.
func (e *Engine) Session(id model.SessionID) (model.SessionStatus, bool) {
	s, ok := e.sessions[id]
	if !ok {
		return model.SessionStatus{}, false
	}
	return s.Status(), true
}

// Close stops every session.
func (e *Engine) Close() {
	for _, st := range e.Sessions() {
		e.Stop(st.ID)
	}
}

// Sync returns a waker that delivers host completions to e on the caller's
// goroutine.
func (e *Engine) Sync() SyncWaker {
	return SyncWaker{e: e}
}

// SyncWaker delivers completions directly to an Engine.
type SyncWaker struct {
	e *Engine
}

func (w SyncWaker) Awake(token model.Token) {
	w.e.Awake(token)
}

func (w SyncWaker) DecoderCreated(token model.Token, id model.DecoderID) {
	w.e.DecoderCreated(token, id)
}
