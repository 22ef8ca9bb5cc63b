package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiguredo/media-processors/pkg/model"
)

type journalEntry struct {
	session model.SessionID
	typ     model.EventType
	detail  map[string]any
	at      time.Time
}

// Journal records session lifecycle events as runs in a Store. It implements
// player.Observer; events are queued and written by a single goroutine so the
// engine never waits on the database.
type Journal struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	entries chan journalEntry
	done    chan struct{}

	// Owned by the writer goroutine.
	current map[model.SessionID]*model.Run
}

// NewJournal starts a journal writing to st. buffer is the queue capacity.
func NewJournal(st Store, buffer int, logger *slog.Logger) *Journal {
	if buffer <= 0 {
		buffer = 256
	}
	j := &Journal{
		store:   st,
		logger:  logger.With("component", "journal"),
		entries: make(chan journalEntry, buffer),
		done:    make(chan struct{}),
		current: make(map[model.SessionID]*model.Run),
	}
	go j.run()
	return j
}

// SessionEvent queues one lifecycle event. Events after Close are dropped.
func (j *Journal) SessionEvent(session model.SessionID, typ model.EventType, detail map[string]any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.entries <- journalEntry{session: session, typ: typ, detail: detail, at: time.Now().UTC()}
}

// Close flushes queued events and stops the writer. It does not close the store.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.entries)
	}
	j.mu.Unlock()
	<-j.done
}

func (j *Journal) run() {
	defer close(j.done)
	ctx := context.Background()
	for e := range j.entries {
		if err := j.record(ctx, e); err != nil {
			j.logger.Warn("journal write failed", "session_id", e.session, "type", e.typ, "error", err)
		}
	}
}

func (j *Journal) record(ctx context.Context, e journalEntry) error {
	if e.typ == model.EventStarted {
		if err := j.finish(ctx, e.session, model.RunStateStopped, e.at); err != nil {
			return err
		}
		repeat, _ := e.detail["repeat"].(bool)
		run := &model.Run{
			ID:        uuid.New().String(),
			SessionID: e.session,
			Repeat:    repeat,
			State:     model.RunStatePlaying,
			StartedAt: e.at,
		}
		if err := j.store.CreateRun(ctx, run); err != nil {
			return err
		}
		j.current[e.session] = run
		j.logger.Debug("run started", "session_id", e.session, "run_id", run.ID)
	}

	run := j.current[e.session]
	if run == nil {
		j.logger.Debug("event without run", "session_id", e.session, "type", e.typ)
		return nil
	}
	ev := &model.Event{
		RunID:     run.ID,
		SessionID: e.session,
		Type:      e.typ,
		Detail:    stringDetail(e.detail),
		At:        e.at,
	}
	if err := j.store.AppendEvent(ctx, ev); err != nil {
		return err
	}

	switch e.typ {
	case model.EventLooped:
		run.Loops++
		return j.store.UpdateRun(ctx, run)
	case model.EventEndOfStream:
		if n, ok := e.detail["decoded"].(int); ok {
			run.Decoded = n
		}
		return j.finish(ctx, e.session, model.RunStateFinished, e.at)
	case model.EventStopped, model.EventReplaced:
		return j.finish(ctx, e.session, model.RunStateStopped, e.at)
	case model.EventStalled:
		return j.finish(ctx, e.session, model.RunStateStalled, e.at)
	}
	return nil
}

// finish moves the session's open run to a terminal state. Runs already
// terminal keep their state.
func (j *Journal) finish(ctx context.Context, session model.SessionID, state model.RunState, at time.Time) error {
	run := j.current[session]
	if run == nil || run.State.IsTerminal() {
		return nil
	}
	run.State = state
	run.EndedAt = &at
	return j.store.UpdateRun(ctx, run)
}

func stringDetail(detail map[string]any) map[string]string {
	if len(detail) == 0 {
		return nil
	}
	out := make(map[string]string, len(detail))
	for k, v := range detail {
		out[k] = fmt.Sprint(v)
	}
	return out
}
