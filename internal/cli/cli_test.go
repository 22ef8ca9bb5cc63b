package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shiguredo/media-processors/internal/config"
	"github.com/shiguredo/media-processors/internal/engine"
	"github.com/shiguredo/media-processors/internal/host"
	"github.com/shiguredo/media-processors/internal/logging"
	"github.com/shiguredo/media-processors/internal/mp4/mp4test"
	"github.com/shiguredo/media-processors/internal/server"
	"github.com/shiguredo/media-processors/pkg/model"
)

// writeFixture writes an MP4 file to a temp dir and returns its path.
func writeFixture(t *testing.T, f mp4test.File) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, mp4test.Build(f), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func avFixture(t *testing.T) string {
	return writeFixture(t, mp4test.File{Tracks: []mp4test.Track{
		mp4test.VideoTrack(30, 1, 1, 1),
		mp4test.AudioTrack(1000, 20, 20, 20, 20, 20),
	}})
}

// run executes the CLI and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

// startTestServer starts a playback server over a local realtime host and
// returns its URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := logging.Discard()
	rt := host.NewRealtime(srvLogger)
	loop := engine.NewLoop(engine.New(rt, srvLogger), srvLogger)
	rt.Bind(loop)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Start(context.Background())
	}()

	ts := httptest.NewServer(server.New(config.DefaultServerConfig(), loop, srvLogger).Handler())
	t.Cleanup(func() {
		ts.Close()
		loop.Stop()
		rt.Close()
		wg.Wait()
	})
	return ts.URL
}

// countCalls counts timeline rows for calls of type typ.
func countCalls(out string, typ model.HostCommandType) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		if f := strings.Fields(line); len(f) >= 3 && f[2] == string(typ) {
			n++
		}
	}
	return n
}

func TestInspectYAML(t *testing.T) {
	out, err := run(t, "inspect", avFixture(t))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"codec: avc1.42e01e", "codec: opus", "kind: video", "kind: audio", "sample_rate: 48000"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestInspectJSON(t *testing.T) {
	out, err := run(t, "inspect", "-o", "json", avFixture(t))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var summary model.ContainerSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(summary.Tracks) != 2 || summary.Tracks[1].Samples != 5 {
		t.Errorf("tracks = %+v", summary.Tracks)
	}
	if summary.DurationMicros != 100000 {
		t.Errorf("duration = %d, want 100000", summary.DurationMicros)
	}
}

func TestInspectErrors(t *testing.T) {
	if _, err := run(t, "inspect", filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := writeFixture(t, mp4test.File{OmitFtyp: true, Tracks: []mp4test.Track{mp4test.VideoTrack(30, 1)}})
	if _, err := run(t, "inspect", bad); err == nil || !strings.Contains(err.Error(), "ftyp") {
		t.Errorf("err = %v, want ftyp error", err)
	}
	if _, err := run(t, "inspect", "-o", "xml", avFixture(t)); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestTimeline(t *testing.T) {
	path := writeFixture(t, mp4test.File{Tracks: []mp4test.Track{mp4test.VideoTrack(30, 1, 1, 1)}})
	out, err := run(t, "timeline", path)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if n := countCalls(out, model.HostDecode); n != 3 {
		t.Errorf("decode lines = %d, want 3:\n%s", n, out)
	}
	if !strings.Contains(out, "ts=33.333333ms") {
		t.Errorf("missing second frame timestamp:\n%s", out)
	}
	if !strings.Contains(out, "# main: FINISHED decoded=3 loops=0") {
		t.Errorf("missing session summary:\n%s", out)
	}
}

func TestTimelineRepeat(t *testing.T) {
	path := writeFixture(t, mp4test.File{Tracks: []mp4test.Track{mp4test.VideoTrack(1000, 10, 10)}})
	out, err := run(t, "timeline", "--repeat", "--until", "55ms", "--decodes-only", "--session", "a", path)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	// Each loop restarts the clock when its last frame is emitted, so two
	// frames go out every 10ms of virtual time: timestamps 0 through 100ms.
	if n := countCalls(out, model.HostDecode); n != 11 {
		t.Errorf("decode lines = %d, want 11:\n%s", n, out)
	}
	if strings.Contains(out, string(model.HostSleep)) {
		t.Errorf("--decodes-only printed sleeps:\n%s", out)
	}
	if !strings.Contains(out, "ts=100ms") {
		t.Errorf("missing looped timestamp:\n%s", out)
	}
}

func TestPlayFinishes(t *testing.T) {
	path := writeFixture(t, mp4test.File{Tracks: []mp4test.Track{mp4test.VideoTrack(1000, 5, 5, 5)}})
	if _, err := run(t, "play", "--session", "a", "--session", "b", path); err != nil {
		t.Fatalf("play: %v", err)
	}
}

func TestPlayDuration(t *testing.T) {
	path := writeFixture(t, mp4test.File{Tracks: []mp4test.Track{mp4test.VideoTrack(1000, 5, 5, 5)}})
	if _, err := run(t, "play", "--repeat", "--duration", "30ms", path); err != nil {
		t.Fatalf("play: %v", err)
	}
}

func TestRemoteCommands(t *testing.T) {
	url := startTestServer(t)
	path := writeFixture(t, mp4test.File{Tracks: []mp4test.Track{mp4test.VideoTrack(30, 1, 1, 1)}})

	out, err := run(t, "--server", url, "load", path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out, "avc1.42e01e") {
		t.Errorf("load output:\n%s", out)
	}
	if _, err := run(t, "--server", url, "load", path); err == nil || !strings.Contains(err.Error(), "CONFLICT") {
		t.Errorf("second load err = %v, want CONFLICT", err)
	}

	out, err = run(t, "--server", url, "start", "cam-1", "--repeat")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(out, "Session: cam-1") || !strings.Contains(out, "Repeat: true") {
		t.Errorf("start output:\n%s", out)
	}

	out, err = run(t, "--server", url, "sessions")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if !strings.Contains(out, "cam-1") {
		t.Errorf("sessions output:\n%s", out)
	}

	out, err = run(t, "--server", url, "stop", "cam-1")
	if err != nil || !strings.Contains(out, "stopped") {
		t.Errorf("stop = %q, %v", out, err)
	}
	out, err = run(t, "--server", url, "stop", "cam-1")
	if err != nil || !strings.Contains(out, "was not running") {
		t.Errorf("second stop = %q, %v", out, err)
	}

	out, err = run(t, "--server", url, "sessions")
	if err != nil || !strings.Contains(out, "No sessions.") {
		t.Errorf("sessions after stop = %q, %v", out, err)
	}

	// The test server has no journal.
	if _, err := run(t, "--server", url, "runs", "cam-1"); err == nil || !strings.Contains(err.Error(), "journal is disabled") {
		t.Errorf("runs err = %v", err)
	}
}
