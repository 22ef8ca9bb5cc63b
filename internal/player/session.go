package player

import (
	"log/slog"
	"time"

	"github.com/shiguredo/media-processors/internal/mp4"
	"github.com/shiguredo/media-processors/internal/scheduler"
	"github.com/shiguredo/media-processors/pkg/model"
)

// Session plays a container's tracks against the host clock. It runs as a
// scheduler task: each step advances the state machine until it parks on a
// sleep or a decoder creation.
//
// Every iteration primes decoders for all tracks, sleeps until the earliest
// pending sample is due, then decodes and advances exactly one track: the
// first due one in container track order.
type Session struct {
	id        model.SessionID
	container *mp4.Container
	host      Host
	observer  Observer
	logger    *slog.Logger
	repeat    bool

	cursors []*cursor
	state   model.SessionState
	started bool
	start   time.Duration
	offset  time.Duration

	// prime is the index of the next cursor to prime; pending is the cursor
	// awaiting a decoder.
	prime   int
	pending *cursor

	loops   int
	decoded int
	eosSent bool
	closed  bool
}

var _ scheduler.Task = (*Session)(nil)

// NewSession creates a session over every track of c. observer may be nil.
func NewSession(id model.SessionID, c *mp4.Container, host Host, opts model.PlayOptions, observer Observer, logger *slog.Logger) *Session {
	if observer == nil {
		observer = nopObserver{}
	}
	s := &Session{
		id:        id,
		container: c,
		host:      host,
		observer:  observer,
		logger:    logger.With("component", "player", "session_id", string(id)),
		repeat:    opts.Repeat,
		state:     model.SessionStatePriming,
	}
	for _, t := range c.Tracks() {
		s.cursors = append(s.cursors, newCursor(s, t))
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() model.SessionID {
	return s.id
}

// State returns the current state.
func (s *Session) State() model.SessionState {
	return s.state
}

// Status returns a snapshot of the session.
func (s *Session) Status() model.SessionStatus {
	return model.SessionStatus{
		ID:      s.id,
		State:   s.state,
		Repeat:  s.repeat,
		Loops:   s.loops,
		Decoded: s.decoded,
	}
}

// Step implements scheduler.Task.
func (s *Session) Step(park scheduler.Park, value any) scheduler.Status {
	if !s.started {
		s.started = true
		s.start = s.host.Now()
		s.logger.Info("session started", "repeat", s.repeat, "tracks", len(s.cursors))
		s.observer.SessionEvent(s.id, model.EventStarted, map[string]any{"repeat": s.repeat})
	} else if !s.resume(value) {
		return scheduler.Done
	}

	for {
		switch s.state {
		case model.SessionStatePriming:
			if s.primeDecoders(park) {
				return scheduler.Suspended
			}
			next, ok := s.nextDue()
			if !ok {
				s.transition(model.SessionStateDraining)
				continue
			}
			wait := next - s.elapsed()
			if wait < 0 {
				wait = 0
			}
			s.transition(model.SessionStateWaiting)
			tok := park()
			s.host.Sleep(tok, s.id, wait)
			return scheduler.Suspended

		case model.SessionStateEmitting:
			s.emitOne()
			s.transition(model.SessionStatePriming)

		case model.SessionStateDraining:
			if s.repeat {
				s.loop()
				s.transition(model.SessionStatePriming)
				continue
			}
			if !s.eosSent {
				s.eosSent = true
				s.host.NotifyEndOfStream(s.id)
				s.logger.Info("end of stream", "decoded", s.decoded)
				s.observer.SessionEvent(s.id, model.EventEndOfStream, map[string]any{"decoded": s.decoded})
			}
			s.transition(model.SessionStateFinished)
			return scheduler.Done

		default:
			return scheduler.Done
		}
	}
}

// resume applies the completion value the session was parked on. A value of
// the wrong kind stalls the session.
func (s *Session) resume(value any) bool {
	switch s.state {
	case model.SessionStatePriming:
		id, ok := value.(model.DecoderID)
		if ok && s.pending != nil {
			c := s.pending
			s.pending = nil
			c.opened(id)
			s.prime++
			return true
		}
	case model.SessionStateWaiting:
		if _, ok := value.(Awake); ok {
			s.transition(model.SessionStateEmitting)
			return true
		}
	}
	s.logger.Warn("unexpected completion value", "state", s.state, "value", value)
	s.Stall()
	return false
}

// Stall marks the session as never running again. Held decoders stay open
// until the session is closed.
func (s *Session) Stall() {
	if s.state.IsTerminal() {
		return
	}
	s.state = model.SessionStateStalled
	s.observer.SessionEvent(s.id, model.EventStalled, nil)
}

// primeDecoders ensures every track not at end of stream has a decoder for its
// current sample. It reports whether the session must suspend for a creation.
func (s *Session) primeDecoders(park scheduler.Park) bool {
	for s.prime < len(s.cursors) {
		c := s.cursors[s.prime]
		if c.ensureDecoder(park) {
			s.pending = c
			return true
		}
		s.prime++
	}
	s.prime = 0
	return false
}

// nextDue returns the earliest media time among tracks not at end of stream.
func (s *Session) nextDue() (time.Duration, bool) {
	var (
		next  time.Duration
		found bool
	)
	for _, c := range s.cursors {
		if c.eos() {
			continue
		}
		if d := c.due(); !found || d < next {
			next, found = d, true
		}
	}
	return next, found
}

// firstDue returns the first cursor in track order whose sample is due.
func (s *Session) firstDue(elapsed time.Duration) *cursor {
	for _, c := range s.cursors {
		if !c.eos() && c.due() <= elapsed {
			return c
		}
	}
	return nil
}

// emitOne decodes the first due sample, then advances the first due cursor.
// Both scans see the same state, so they select the same track.
func (s *Session) emitOne() {
	elapsed := s.elapsed()
	if c := s.firstDue(elapsed); c != nil {
		c.emit(s.offset)
		s.decoded++
	}
	if c := s.firstDue(elapsed); c != nil {
		c.advance()
	}
}

// loop rewinds every track and shifts later timestamps by the file duration.
func (s *Session) loop() {
	s.offset += s.container.Duration()
	for _, c := range s.cursors {
		c.rewind()
	}
	s.start = s.host.Now()
	s.loops++
	s.logger.Info("session looped", "loops", s.loops, "offset", s.offset)
	s.observer.SessionEvent(s.id, model.EventLooped, map[string]any{
		"loops":     s.loops,
		"offset_us": s.offset.Microseconds(),
	})
}

func (s *Session) elapsed() time.Duration {
	return s.host.Now() - s.start
}

func (s *Session) transition(next model.SessionState) {
	if !s.state.CanTransitionTo(next) {
		s.logger.Warn("unexpected session transition", "from", s.state, "to", next)
	}
	s.state = next
}

// Close releases every decoder the session holds. A decoder creation still in
// flight is not cancelled; its completion is dropped by the scheduler.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for _, c := range s.cursors {
		c.release()
	}
	s.logger.Debug("session closed")
}
