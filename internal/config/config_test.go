package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultServerConfigValid(t *testing.T) {
	if err := DefaultServerConfig().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadServerConfig(t *testing.T) {
	path := writeConfig(t, `
addr: ":9090"
log_format: json
db_path: /tmp/journal.db
remote_decoders: true
sse_heartbeat: 5s
`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.LogFormat != "json" || cfg.DBPath != "/tmp/journal.db" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.RemoteDecoders {
		t.Error("remote_decoders not applied")
	}
	if cfg.SSEHeartbeat != 5*time.Second {
		t.Errorf("sse_heartbeat = %s, want 5s", cfg.SSEHeartbeat)
	}
	// Keys absent from the file keep their defaults.
	if cfg.LogLevel != "info" || cfg.EventBuffer != 256 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadServerConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad yaml", "addr: [", "parse config"},
		{"bad format", "log_format: xml", "log_format"},
		{"empty addr", `addr: ""`, "addr is required"},
		{"zero buffer", "event_buffer: 0", "event_buffer"},
		{"negative upload", "max_container_bytes: -1", "max_container_bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServerConfig(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

