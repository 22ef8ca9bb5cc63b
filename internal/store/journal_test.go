package store

import (
	"context"
	"testing"
	"time"

	"github.com/shiguredo/media-processors/internal/engine"
	"github.com/shiguredo/media-processors/internal/host"
	"github.com/shiguredo/media-processors/internal/mp4/mp4test"
	"github.com/shiguredo/media-processors/pkg/model"
)

func eventTypes(events []model.Event) []model.EventType {
	out := make([]model.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func onlyRun(t *testing.T, st *SQLiteStore, session model.SessionID) *model.Run {
	t.Helper()
	runs, total, err := st.ListRuns(context.Background(), session, model.RunQuery{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 1 {
		t.Fatalf("runs for %s = %d, want 1", session, total)
	}
	return runs[0]
}

func TestJournalRecordsFinishedRun(t *testing.T) {
	st := testStore(t)
	j := NewJournal(st, 0, st.logger)

	j.SessionEvent("s1", model.EventStarted, map[string]any{"repeat": false})
	j.SessionEvent("s1", model.EventDecoderOpened, map[string]any{"track": 1, "decoder_id": model.DecoderID(1)})
	j.SessionEvent("s1", model.EventEndOfStream, map[string]any{"decoded": 3})
	j.SessionEvent("s1", model.EventDecoderClosed, map[string]any{"track": 1})
	j.SessionEvent("s1", model.EventStopped, nil)
	j.Close()

	run := onlyRun(t, st, "s1")
	if run.State != model.RunStateFinished {
		t.Errorf("state = %s, want FINISHED", run.State)
	}
	if run.Decoded != 3 {
		t.Errorf("decoded = %d, want 3", run.Decoded)
	}
	if run.EndedAt == nil {
		t.Error("EndedAt not set")
	}

	events, err := st.ListEvents(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	want := []model.EventType{
		model.EventStarted, model.EventDecoderOpened, model.EventEndOfStream,
		model.EventDecoderClosed, model.EventStopped,
	}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if events[1].Detail["decoder_id"] != "1" {
		t.Errorf("detail = %v", events[1].Detail)
	}
}

func TestJournalTerminalStates(t *testing.T) {
	tests := []struct {
		name string
		last model.EventType
		want model.RunState
	}{
		{"stopped", model.EventStopped, model.RunStateStopped},
		{"replaced", model.EventReplaced, model.RunStateStopped},
		{"stalled", model.EventStalled, model.RunStateStalled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := testStore(t)
			j := NewJournal(st, 4, st.logger)
			j.SessionEvent("s", model.EventStarted, map[string]any{"repeat": true})
			j.SessionEvent("s", model.EventLooped, map[string]any{"loops": 1})
			j.SessionEvent("s", tt.last, nil)
			j.Close()

			run := onlyRun(t, st, "s")
			if run.State != tt.want {
				t.Errorf("state = %s, want %s", run.State, tt.want)
			}
			if !run.Repeat || run.Loops != 1 {
				t.Errorf("run = %+v", run)
			}
		})
	}
}

func TestJournalSecondPlayOpensNewRun(t *testing.T) {
	st := testStore(t)
	j := NewJournal(st, 0, st.logger)
	j.SessionEvent("s", model.EventStarted, nil)
	j.SessionEvent("s", model.EventReplaced, nil)
	j.SessionEvent("s", model.EventStarted, nil)
	j.SessionEvent("other", model.EventStopped, nil)
	j.Close()

	runs, total, err := st.ListRuns(context.Background(), "s", model.RunQuery{})
	if err != nil || total != 2 {
		t.Fatalf("ListRuns = %d, %v", total, err)
	}
	var playing, stopped int
	for _, r := range runs {
		switch r.State {
		case model.RunStatePlaying:
			playing++
		case model.RunStateStopped:
			stopped++
		}
	}
	if playing != 1 || stopped != 1 {
		t.Errorf("playing = %d, stopped = %d", playing, stopped)
	}
	if _, n, _ := st.ListRuns(context.Background(), "other", model.RunQuery{}); n != 0 {
		t.Errorf("event without a run created %d runs", n)
	}
}

func TestJournalDropsAfterClose(t *testing.T) {
	st := testStore(t)
	j := NewJournal(st, 0, st.logger)
	j.Close()
	j.Close()
	j.SessionEvent("s", model.EventStarted, nil)
	if _, n, _ := st.ListRuns(context.Background(), "", model.RunQuery{}); n != 0 {
		t.Errorf("runs = %d, want 0", n)
	}
}

func TestJournalObservesEngine(t *testing.T) {
	st := testStore(t)
	j := NewJournal(st, 0, st.logger)

	v := host.NewVirtual()
	e := engine.New(v, st.logger, engine.WithObserver(j))
	data := mp4test.Build(mp4test.File{Tracks: []mp4test.Track{mp4test.VideoTrack(30, 1, 1, 1)}})
	if _, err := e.Load(data); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := e.Play("s1", model.PlayOptions{}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	v.RunUntil(e.Sync(), time.Second)
	e.Stop("s1")
	j.Close()

	run := onlyRun(t, st, "s1")
	if run.State != model.RunStateFinished || run.Decoded != 3 {
		t.Errorf("run = %+v", run)
	}
	events, _ := st.ListEvents(context.Background(), run.ID)
	got := eventTypes(events)
	if len(got) == 0 || got[0] != model.EventStarted || got[len(got)-1] != model.EventStopped {
		t.Errorf("events = %v", got)
	}
}
