package player

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shiguredo/media-processors/internal/mp4"
	"github.com/shiguredo/media-processors/internal/mp4/mp4test"
	"github.com/shiguredo/media-processors/internal/scheduler"
	"github.com/shiguredo/media-processors/pkg/model"
)

type call struct {
	kind    string
	token   model.Token
	decoder model.DecoderID
	codec   string
	chunk   model.EncodedChunk
	payload []byte
	wait    time.Duration
	at      time.Duration
}

// fakeHost records calls and completes them when driven.
type fakeHost struct {
	now         time.Duration
	calls       []call
	nextDecoder model.DecoderID
	creates     []model.Token
	sleeps      []call
}

func (h *fakeHost) Now() time.Duration { return h.now }

func (h *fakeHost) Sleep(tok model.Token, _ model.SessionID, d time.Duration) {
	c := call{kind: "sleep", token: tok, wait: d, at: h.now}
	h.calls = append(h.calls, c)
	h.sleeps = append(h.sleeps, c)
}

func (h *fakeHost) CreateVideoDecoder(tok model.Token, _ model.SessionID, cfg model.VideoDecoderConfig) {
	h.calls = append(h.calls, call{kind: "create", token: tok, codec: cfg.Codec, at: h.now})
	h.creates = append(h.creates, tok)
}

func (h *fakeHost) CreateAudioDecoder(tok model.Token, _ model.SessionID, cfg model.AudioDecoderConfig) {
	h.calls = append(h.calls, call{kind: "create", token: tok, codec: cfg.Codec, at: h.now})
	h.creates = append(h.creates, tok)
}

func (h *fakeHost) Decode(_ model.SessionID, id model.DecoderID, chunk model.EncodedChunk, payload []byte) {
	h.calls = append(h.calls, call{kind: "decode", decoder: id, chunk: chunk, payload: payload, at: h.now})
}

func (h *fakeHost) CloseDecoder(_ model.SessionID, id model.DecoderID) {
	h.calls = append(h.calls, call{kind: "close", decoder: id, at: h.now})
}

func (h *fakeHost) NotifyEndOfStream(model.SessionID) {
	h.calls = append(h.calls, call{kind: "eos", at: h.now})
}

// drive runs the scheduler, completing decoder creations first and then the
// earliest sleep, until nothing is pending or stop reports true.
func (h *fakeHost) drive(t *testing.T, s *scheduler.Scheduler, stop func() bool) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		s.RunUntilStalled()
		if stop != nil && stop() {
			return
		}
		switch {
		case len(h.creates) > 0:
			tok := h.creates[0]
			h.creates = h.creates[1:]
			h.nextDecoder++
			s.Wake(tok, h.nextDecoder)
		case len(h.sleeps) > 0:
			c := h.sleeps[0]
			h.sleeps = h.sleeps[1:]
			h.now = c.at + c.wait
			s.Wake(c.token, Awake{})
		default:
			return
		}
	}
	t.Fatal("host did not settle")
}

func (h *fakeHost) count(kind string) int {
	n := 0
	for _, c := range h.calls {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func (h *fakeHost) decodes() []call {
	var out []call
	for _, c := range h.calls {
		if c.kind == "decode" {
			out = append(out, c)
		}
	}
	return out
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func load(t *testing.T, tracks ...mp4test.Track) *mp4.Container {
	t.Helper()
	c, err := mp4.Parse(mp4test.Build(mp4test.File{Tracks: tracks}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return c
}

func start(t *testing.T, c *mp4.Container, opts model.PlayOptions) (*fakeHost, *scheduler.Scheduler, *Session) {
	t.Helper()
	h := &fakeHost{}
	sched := scheduler.New(discard())
	s := NewSession("s1", c, h, opts, nil, discard())
	sched.Spawn("s1", s)
	return h, sched, s
}

func TestThreeFrameVideo(t *testing.T) {
	c := load(t, mp4test.VideoTrack(30, 1, 1, 1))
	h, sched, s := start(t, c, model.PlayOptions{})
	h.drive(t, sched, nil)

	decodes := h.decodes()
	if len(decodes) != 3 {
		t.Fatalf("decodes = %d, want 3", len(decodes))
	}
	wantMS := []time.Duration{0, 33 * time.Millisecond, 67 * time.Millisecond}
	for i, d := range decodes {
		if got := d.chunk.Timestamp.Round(time.Millisecond); got != wantMS[i] {
			t.Errorf("decode %d timestamp = %v, want %v", i, got, wantMS[i])
		}
		if d.chunk.Type != model.ChunkTypeKey {
			t.Errorf("decode %d type = %s, want key", i, d.chunk.Type)
		}
		if d.at < d.chunk.Timestamp {
			t.Errorf("decode %d issued at %v before its timestamp %v", i, d.at, d.chunk.Timestamp)
		}
	}
	if n := h.count("eos"); n != 1 {
		t.Errorf("eos = %d, want 1", n)
	}
	if last := h.calls[len(h.calls)-1]; last.kind != "eos" {
		t.Errorf("last call = %s, want eos", last.kind)
	}
	if n := h.count("create"); n != 1 {
		t.Errorf("creates = %d, want 1", n)
	}
	if s.State() != model.SessionStateFinished {
		t.Errorf("state = %s, want FINISHED", s.State())
	}
	// Finishing does not release the decoder.
	if n := h.count("close"); n != 0 {
		t.Errorf("closes before stop = %d, want 0", n)
	}
	sched.Remove("s1")
	if n := h.count("close"); n != 1 {
		t.Errorf("closes after stop = %d, want 1", n)
	}
}

func TestLastSampleIsDecoded(t *testing.T) {
	c := load(t, mp4test.VideoTrack(1000, 40))
	h, sched, _ := start(t, c, model.PlayOptions{})
	h.drive(t, sched, nil)

	if n := len(h.decodes()); n != 1 {
		t.Errorf("decodes = %d, want 1", n)
	}
	if n := h.count("eos"); n != 1 {
		t.Errorf("eos = %d, want 1", n)
	}
}

func TestPrimingCreatesBeforeFirstSleep(t *testing.T) {
	c := load(t, mp4test.AudioTrack(48000, 960, 960), mp4test.VideoTrack(30, 1))
	h, sched, _ := start(t, c, model.PlayOptions{})
	h.drive(t, sched, nil)

	kinds := []string{h.calls[0].kind, h.calls[1].kind, h.calls[2].kind}
	if kinds[0] != "create" || kinds[1] != "create" || kinds[2] != "sleep" {
		t.Errorf("first calls = %v, want [create create sleep]", kinds)
	}
	if h.calls[0].codec != "opus" || h.calls[1].codec != "avc1.42e01e" {
		t.Errorf("creation order = %q, %q", h.calls[0].codec, h.calls[1].codec)
	}
}

func TestTieBreakUsesTrackOrder(t *testing.T) {
	// Video sample 5 and audio sample 9 are both due at 100ms.
	video := mp4test.VideoTrack(1000, 25, 25, 25, 25, 25, 25)
	audio := mp4test.AudioTrack(2000, 25, 25, 25, 25, 25, 25, 25, 25, 25, 25)
	c := load(t, video, audio)
	h, sched, _ := start(t, c, model.PlayOptions{})
	h.drive(t, sched, nil)

	at100 := -1
	for i, call := range h.calls {
		if call.kind == "decode" && call.chunk.Timestamp == 100*time.Millisecond {
			at100 = i
			break
		}
	}
	if at100 < 0 {
		t.Fatal("no decode at 100ms")
	}
	first, sleep, second := h.calls[at100], h.calls[at100+1], h.calls[at100+2]
	if first.decoder != 1 {
		t.Errorf("first decode at 100ms went to decoder %d, want video decoder 1", first.decoder)
	}
	if sleep.kind != "sleep" || sleep.wait != 0 {
		t.Errorf("between tied decodes: %s wait=%v, want sleep of 0", sleep.kind, sleep.wait)
	}
	if second.kind != "decode" || second.decoder != 2 || second.chunk.Timestamp != 100*time.Millisecond {
		t.Errorf("second tied decode = %+v, want audio decoder 2 at 100ms", second)
	}
	if first.at != second.at {
		t.Errorf("tied decodes at %v and %v, want same instant", first.at, second.at)
	}
}

func TestRepeatShiftsTimestamps(t *testing.T) {
	c := load(t, mp4test.VideoTrack(30, 1, 1, 1))
	h, sched, s := start(t, c, model.PlayOptions{Repeat: true})
	h.drive(t, sched, func() bool { return len(h.decodes()) >= 12 })

	decodes := h.decodes()[:12]
	track := c.Tracks()[0]
	fileDuration := c.Duration()
	for k, d := range decodes {
		sample, _ := track.Samples.Sample(uint32(k%3 + 1))
		want := track.Timestamp(sample) + time.Duration(k/3)*fileDuration
		if d.chunk.Timestamp != want {
			t.Errorf("decode %d timestamp = %v, want %v", k, d.chunk.Timestamp, want)
		}
		if d.chunk.Duration != track.SampleDuration(sample) {
			t.Errorf("decode %d duration = %v", k, d.chunk.Duration)
		}
	}
	if n := h.count("eos"); n != 0 {
		t.Errorf("eos with repeat = %d, want 0", n)
	}
	if n := h.count("create"); n != 1 {
		t.Errorf("creates = %d, want 1 (same entry across the loop)", n)
	}
	if s.Status().Loops < 3 {
		t.Errorf("loops = %d, want >= 3", s.Status().Loops)
	}
}

func TestCodecChangeRecreatesDecoder(t *testing.T) {
	tr := mp4test.Track{
		Timescale: 30,
		Entries: []mp4test.Entry{
			mp4test.DefaultAVC,
			mp4test.VP9{Width: 320, Height: 240, Level: 10, BitDepth: 8},
		},
		Samples: []mp4test.Sample{
			{Duration: 1, Entry: 1},
			{Duration: 1, Entry: 1},
			{Duration: 1, Entry: 2},
			{Duration: 1, Entry: 2},
		},
	}
	c := load(t, tr)
	h, sched, _ := start(t, c, model.PlayOptions{})
	h.drive(t, sched, nil)

	var seq []string
	for _, c := range h.calls {
		if c.kind != "sleep" {
			seq = append(seq, c.kind)
		}
	}
	want := []string{"create", "decode", "decode", "close", "create", "decode", "decode", "eos"}
	if len(seq) != len(want) {
		t.Fatalf("calls = %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("calls = %v, want %v", seq, want)
		}
	}
	d := h.decodes()
	if d[1].decoder != 1 || d[2].decoder != 2 {
		t.Errorf("decoders = %d, %d, want 1, 2", d[1].decoder, d[2].decoder)
	}

	sched.Remove("s1")
	if creates, closes := h.count("create"), h.count("close"); closes != creates {
		t.Errorf("creates = %d, closes = %d after stop", creates, closes)
	}
}

func TestCodecChangeWithOtherTrackDueCreatesOnce(t *testing.T) {
	video := mp4test.Track{
		Timescale: 30,
		Entries:   []mp4test.Entry{mp4test.DefaultAVC, mp4test.VP8{Width: 320, Height: 240}},
		Samples:   []mp4test.Sample{{Duration: 1, Entry: 1}, {Duration: 1, Entry: 2}},
	}
	audio := mp4test.AudioTrack(1000, 10, 10, 10, 10, 10, 10, 10)
	c := load(t, video, audio)
	h, sched, _ := start(t, c, model.PlayOptions{})
	h.drive(t, sched, nil)

	var codecs []string
	for _, c := range h.calls {
		if c.kind == "create" {
			codecs = append(codecs, c.codec)
		}
	}
	want := []string{"avc1.42e01e", "opus", "vp8"}
	if len(codecs) != len(want) {
		t.Fatalf("created %v, want %v", codecs, want)
	}
	for i := range want {
		if codecs[i] != want[i] {
			t.Fatalf("created %v, want %v", codecs, want)
		}
	}
	if closes := h.count("close"); closes != 1 {
		t.Errorf("closes = %d during playback, want 1", closes)
	}
	if decodes := len(h.decodes()); decodes != 9 {
		t.Errorf("decodes = %d, want 9", decodes)
	}
	if h.count("eos") != 1 {
		t.Errorf("eos = %d, want 1", h.count("eos"))
	}
}

func TestRepeatAcrossEntriesRecreatesAtWrap(t *testing.T) {
	tr := mp4test.Track{
		Timescale: 30,
		Entries:   []mp4test.Entry{mp4test.DefaultAVC, mp4test.VP8{Width: 320, Height: 240}},
		Samples:   []mp4test.Sample{{Duration: 1, Entry: 1}, {Duration: 1, Entry: 2}},
	}
	c := load(t, tr)
	h, sched, _ := start(t, c, model.PlayOptions{Repeat: true})
	h.drive(t, sched, func() bool { return h.count("create") >= 4 })

	// The live decoder still holds the last sample's vp8 entry at the wrap,
	// so playback switches back to avc1.
	var codecs []string
	for _, c := range h.calls {
		if c.kind == "create" {
			codecs = append(codecs, c.codec)
		}
	}
	want := []string{"avc1.42e01e", "vp8", "avc1.42e01e", "vp8"}
	for i := range want {
		if codecs[i] != want[i] {
			t.Fatalf("created codecs = %v, want %v", codecs, want)
		}
	}
	if creates, closes := h.count("create"), h.count("close"); closes != creates-1 {
		t.Errorf("creates = %d, closes = %d, want one live decoder", creates, closes)
	}
}

func TestCloseWhileCreating(t *testing.T) {
	c := load(t, mp4test.VideoTrack(30, 1, 1))
	h, sched, s := start(t, c, model.PlayOptions{})
	sched.RunUntilStalled()
	if len(h.creates) != 1 {
		t.Fatalf("pending creates = %d, want 1", len(h.creates))
	}

	sched.Remove("s1")
	if n := h.count("close"); n != 0 {
		t.Errorf("closes = %d, want 0 (no decoder was open)", n)
	}
	// The late completion is dropped.
	if sched.Wake(h.creates[0], model.DecoderID(9)) {
		t.Error("late decoder completion should be ignored")
	}
	s.Close()
	if n := h.count("close"); n != 0 {
		t.Errorf("closes after second Close = %d, want 0", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := load(t, mp4test.AudioTrack(48000, 960), mp4test.VideoTrack(30, 1))
	h, sched, s := start(t, c, model.PlayOptions{})
	h.drive(t, sched, nil)

	s.Close()
	s.Close()
	if n := h.count("close"); n != 2 {
		t.Errorf("closes = %d, want 2", n)
	}
}

func TestWrongCompletionStalls(t *testing.T) {
	c := load(t, mp4test.VideoTrack(30, 1, 1))
	h, sched, s := start(t, c, model.PlayOptions{})
	sched.RunUntilStalled()

	// A sleep completion delivered for a decoder creation.
	sched.Wake(h.creates[0], Awake{})
	sched.RunUntilStalled()
	if s.State() != model.SessionStateStalled {
		t.Errorf("state = %s, want STALLED", s.State())
	}
	if n := h.count("decode"); n != 0 {
		t.Errorf("decodes = %d, want 0", n)
	}
}

func TestPayloadIsSampleData(t *testing.T) {
	tr := mp4test.VideoTrack(30, 1, 1)
	tr.Samples[0].Data = []byte("first")
	tr.Samples[1].Data = []byte("second")
	tr.Samples[1].NonSync = true
	c := load(t, tr)
	h, sched, _ := start(t, c, model.PlayOptions{})
	h.drive(t, sched, nil)

	d := h.decodes()
	if !bytes.Equal(d[0].payload, []byte("first")) || !bytes.Equal(d[1].payload, []byte("second")) {
		t.Errorf("payloads = %q, %q", d[0].payload, d[1].payload)
	}
	if d[1].chunk.Type != model.ChunkTypeDelta {
		t.Errorf("second chunk type = %s, want delta", d[1].chunk.Type)
	}
}

func TestObserverEvents(t *testing.T) {
	c := load(t, mp4test.VideoTrack(30, 1))
	h := &fakeHost{}
	sched := scheduler.New(discard())
	var events []model.EventType
	obs := ObserverFunc(func(_ model.SessionID, typ model.EventType, _ map[string]any) {
		events = append(events, typ)
	})
	sched.Spawn("s1", NewSession("s1", c, h, model.PlayOptions{}, obs, discard()))
	h.drive(t, sched, nil)
	sched.Remove("s1")

	want := []model.EventType{model.EventStarted, model.EventDecoderOpened, model.EventEndOfStream, model.EventDecoderClosed}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events = %v, want %v", events, want)
			break
		}
	}
}
