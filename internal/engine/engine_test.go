package engine

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shiguredo/media-processors/internal/host"
	"github.com/shiguredo/media-processors/internal/mp4"
	"github.com/shiguredo/media-processors/internal/mp4/mp4test"
	"github.com/shiguredo/media-processors/pkg/model"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func threeFrames() []byte {
	return mp4test.Build(mp4test.File{Tracks: []mp4test.Track{mp4test.VideoTrack(30, 1, 1, 1)}})
}

func avFile() []byte {
	return mp4test.Build(mp4test.File{Tracks: []mp4test.Track{
		mp4test.VideoTrack(30, 1, 1, 1),
		mp4test.AudioTrack(1000, 20, 20, 20, 20, 20),
	}})
}

func setup(t *testing.T, data []byte, opts ...Option) (*Engine, *host.Virtual) {
	t.Helper()
	v := host.NewVirtual()
	e := New(v, discard(), opts...)
	if data != nil {
		if _, err := e.Load(data); err != nil {
			t.Fatalf("Load: %v", err)
		}
	}
	return e, v
}

func TestLoadOnce(t *testing.T) {
	e, _ := setup(t, nil)
	info, err := e.Load(avFile())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(info.VideoConfigs) != 1 || len(info.AudioConfigs) != 1 {
		t.Errorf("info = %+v", info)
	}
	if _, err := e.Load(avFile()); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("second Load err = %v, want ErrAlreadyLoaded", err)
	}
	got, ok := e.Info()
	if !ok || got.VideoConfigs[0].Codec != "avc1.42e01e" {
		t.Errorf("Info = %+v, %v", got, ok)
	}
}

func TestFailedLoadLeavesEngineEmpty(t *testing.T) {
	e, _ := setup(t, nil)
	bad := mp4test.Build(mp4test.File{Tracks: []mp4test.Track{mp4test.VideoTrack(30, 1), mp4test.VideoTrack(30, 1)}})

	_, err := e.Load(bad)
	if !errors.Is(err, mp4.ErrMultipleVideoTracks) {
		t.Fatalf("Load err = %v, want ErrMultipleVideoTracks", err)
	}
	if _, ok := e.Info(); ok {
		t.Error("failed load must not commit a container")
	}
	if err := e.Play("a", model.PlayOptions{}); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Play err = %v, want ErrNotLoaded", err)
	}
	if _, err := e.Load(threeFrames()); err != nil {
		t.Errorf("Load after failure: %v", err)
	}
}

func TestLoadRejections(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"no tracks", mp4test.Build(mp4test.File{}), mp4.ErrNoTracks},
		{"two video tracks", mp4test.Build(mp4test.File{Tracks: []mp4test.Track{mp4test.VideoTrack(30, 1), mp4test.VideoTrack(30, 1)}}), mp4.ErrMultipleVideoTracks},
		{"unsupported codec", mp4test.Build(mp4test.File{Tracks: []mp4test.Track{{
			Timescale: 1000,
			Entries:   []mp4test.Entry{mp4test.Raw{Type: "ac-3", Handler: "soun", Payload: make([]byte, 28)}},
			Samples:   []mp4test.Sample{{Duration: 32}},
		}}}), mp4.ErrUnsupportedCodec},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := setup(t, nil)
			if _, err := e.Load(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			// Still one-shot capable: a valid load succeeds afterwards.
			if _, err := e.Load(threeFrames()); err != nil {
				t.Errorf("Load after rejection: %v", err)
			}
		})
	}
}

func TestThreeFramesThenEndOfStream(t *testing.T) {
	e, v := setup(t, threeFrames())
	if err := e.Play("a", model.PlayOptions{}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	v.RunUntil(e.Sync(), time.Second)

	decodes := v.Decodes()
	if len(decodes) != 3 {
		t.Fatalf("decodes = %d, want 3", len(decodes))
	}
	want := []time.Duration{0, 33 * time.Millisecond, 67 * time.Millisecond}
	for i, d := range decodes {
		if got := d.Command.Chunk.Timestamp.Round(time.Millisecond); got != want[i] {
			t.Errorf("decode %d at %v, want %v", i, got, want[i])
		}
	}
	if n := v.Count(model.HostEndOfStream); n != 1 {
		t.Errorf("end of stream = %d, want 1", n)
	}
	recs := v.Records()
	if recs[len(recs)-1].Command.Type != model.HostEndOfStream {
		t.Errorf("last command = %s, want end_of_stream", recs[len(recs)-1].Command.Type)
	}
	st, ok := e.Session("a")
	if !ok || st.State != model.SessionStateFinished || st.Decoded != 3 {
		t.Errorf("session = %+v, %v", st, ok)
	}
}

func TestStopUnknownIsNoop(t *testing.T) {
	e, v := setup(t, threeFrames())
	for i := 0; i < 3; i++ {
		if e.Stop("missing") {
			t.Error("Stop on unknown id should return false")
		}
	}
	if len(v.Records()) != 0 {
		t.Errorf("Stop issued host calls: %+v", v.Records())
	}
	if len(e.Sessions()) != 0 {
		t.Error("Stop must not register sessions")
	}
}

func TestStopReleasesDecodersAndDropsLateWakes(t *testing.T) {
	e, v := setup(t, avFile())
	if err := e.Play("a", model.PlayOptions{}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	v.RunUntil(e.Sync(), 30*time.Millisecond)
	before := len(v.Decodes())
	if before == 0 {
		t.Fatal("nothing decoded before stop")
	}
	if !v.Pending() {
		t.Fatal("session should be waiting on a sleep")
	}

	if !e.Stop("a") {
		t.Fatal("Stop returned false")
	}
	if creates, closes := v.Count(model.HostCreateVideoDecoder)+v.Count(model.HostCreateAudioDecoder), v.Count(model.HostCloseDecoder); creates != 2 || closes != 2 {
		t.Errorf("creates = %d, closes = %d, want 2 and 2", creates, closes)
	}

	// The host still completes the in-flight sleep; it must be ignored.
	v.RunUntil(e.Sync(), time.Second)
	if after := len(v.Decodes()); after != before {
		t.Errorf("decodes after stop = %d, want %d", after, before)
	}
	if v.Count(model.HostEndOfStream) != 0 {
		t.Error("stopped session reported end of stream")
	}
	if e.Stop("a") {
		t.Error("second Stop should return false")
	}
}

func TestPlayReplacesSession(t *testing.T) {
	var events []model.EventType
	obs := observerFunc(func(id model.SessionID, typ model.EventType, _ map[string]any) {
		events = append(events, typ)
	})
	e, v := setup(t, threeFrames(), WithObserver(obs))

	if err := e.Play("a", model.PlayOptions{}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	v.RunUntil(e.Sync(), 40*time.Millisecond)
	if err := e.Play("a", model.PlayOptions{Repeat: true}); err != nil {
		t.Fatalf("second Play: %v", err)
	}

	if n := v.Count(model.HostCloseDecoder); n != 1 {
		t.Errorf("closes after replace = %d, want 1", n)
	}
	sessions := e.Sessions()
	if len(sessions) != 1 || !sessions[0].Repeat {
		t.Errorf("sessions = %+v, want one repeating session", sessions)
	}
	found := false
	for _, typ := range events {
		if typ == model.EventReplaced {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v, want a replaced event", events)
	}
}

// reentrantHost completes every operation from inside the host call, so each
// completion re-enters the engine while it is polling.
type reentrantHost struct {
	*host.Virtual
	e      *Engine
	nested []int
}

func (h *reentrantHost) Sleep(tok model.Token, s model.SessionID, d time.Duration) {
	h.Virtual.Sleep(tok, s, d)
	h.Virtual.Advance(d)
	h.Virtual.Forget(tok)
	h.e.Awake(tok)
	h.nested = append(h.nested, h.e.Poll())
}

func (h *reentrantHost) CreateVideoDecoder(tok model.Token, s model.SessionID, cfg model.VideoDecoderConfig) {
	h.Virtual.CreateVideoDecoder(tok, s, cfg)
	h.Virtual.Forget(tok)
	h.e.DecoderCreated(tok, 1)
}

func TestPollIgnoresReentrantCalls(t *testing.T) {
	h := &reentrantHost{Virtual: host.NewVirtual()}
	h.e = New(h, discard())
	if _, err := h.e.Load(threeFrames()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := h.e.Play("a", model.PlayOptions{}); err != nil {
		t.Fatalf("Play: %v", err)
	}

	// The whole playback ran inside Play's poll.
	if n := len(h.Decodes()); n != 3 {
		t.Errorf("decodes = %d, want 3", n)
	}
	if n := h.Count(model.HostEndOfStream); n != 1 {
		t.Errorf("end of stream = %d, want 1", n)
	}
	for i, n := range h.nested {
		if n != 0 {
			t.Errorf("nested poll %d ran %d steps, want 0", i, n)
		}
	}
}

func TestAbandonStallsSession(t *testing.T) {
	e, v := setup(t, threeFrames())
	if err := e.Play("a", model.PlayOptions{}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	v.RunUntil(e.Sync(), 0)
	toks := v.PendingTokens()
	if len(toks) != 1 {
		t.Fatalf("pending = %v, want one sleep", toks)
	}
	v.Forget(toks[0])

	if !e.Abandon(toks[0]) {
		t.Fatal("Abandon returned false")
	}
	if e.Abandon(toks[0]) {
		t.Error("second Abandon should return false")
	}
	st, _ := e.Session("a")
	if st.State != model.SessionStateStalled {
		t.Errorf("state = %s, want STALLED", st.State)
	}
	if e.Awake(toks[0]) {
		t.Error("Awake after Abandon should return false")
	}

	e.Stop("a")
	if n := v.Count(model.HostCloseDecoder); n != 1 {
		t.Errorf("closes = %d, want 1", n)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	e, v := setup(t, threeFrames())
	for _, id := range []model.SessionID{"b", "a"} {
		if err := e.Play(id, model.PlayOptions{}); err != nil {
			t.Fatalf("Play(%s): %v", id, err)
		}
	}
	v.RunUntil(e.Sync(), time.Second)

	perSession := map[model.SessionID]int{}
	for _, d := range v.Decodes() {
		perSession[d.Command.SessionID]++
	}
	if perSession["a"] != 3 || perSession["b"] != 3 {
		t.Errorf("decodes per session = %v, want 3 each", perSession)
	}
	if n := v.Count(model.HostEndOfStream); n != 2 {
		t.Errorf("end of stream = %d, want 2", n)
	}
	sessions := e.Sessions()
	if len(sessions) != 2 || sessions[0].ID != "a" || sessions[1].ID != "b" {
		t.Errorf("Sessions = %+v, want a then b", sessions)
	}
}

func TestRepeatTimestampsAreExact(t *testing.T) {
	data := avFile()
	e, v := setup(t, data)
	if err := e.Play("a", model.PlayOptions{Repeat: true}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	v.RunUntil(e.Sync(), time.Second)

	c, _ := mp4.Parse(data)
	fileDuration := c.Duration()
	byDecoder := map[model.DecoderID][]time.Duration{}
	for _, d := range v.Decodes() {
		id := *d.Command.DecoderID
		byDecoder[id] = append(byDecoder[id], d.Command.Chunk.Timestamp)
	}
	if len(byDecoder) != 2 {
		t.Fatalf("decoders used = %d, want 2", len(byDecoder))
	}
	// Decoders are created in track order: video is 1, audio is 2.
	for id, track := range map[model.DecoderID]*mp4.Track{1: c.Tracks()[0], 2: c.Tracks()[1]} {
		count := int(track.Samples.SampleCount())
		got := byDecoder[id]
		if len(got) < 3*count {
			t.Fatalf("decoder %d decoded %d samples, want at least %d", id, len(got), 3*count)
		}
		for j, ts := range got {
			s, _ := track.Samples.Sample(uint32(j%count + 1))
			want := track.Timestamp(s) + time.Duration(j/count)*fileDuration
			if ts != want {
				t.Errorf("decoder %d decode %d = %v, want %v", id, j, ts, want)
			}
		}
	}
	if v.Count(model.HostEndOfStream) != 0 {
		t.Error("repeating session reported end of stream")
	}
}

func TestCloseStopsEverySession(t *testing.T) {
	e, v := setup(t, avFile())
	e.Play("a", model.PlayOptions{Repeat: true})
	e.Play("b", model.PlayOptions{})
	v.RunUntil(e.Sync(), 50*time.Millisecond)

	e.Close()
	if len(e.Sessions()) != 0 {
		t.Errorf("sessions after Close = %d", len(e.Sessions()))
	}
	creates := v.Count(model.HostCreateVideoDecoder) + v.Count(model.HostCreateAudioDecoder)
	if closes := v.Count(model.HostCloseDecoder); closes != creates {
		t.Errorf("creates = %d, closes = %d", creates, closes)
	}
}

type observerFunc func(model.SessionID, model.EventType, map[string]any)

func (f observerFunc) SessionEvent(id model.SessionID, typ model.EventType, detail map[string]any) {
	f(id, typ, detail)
}
