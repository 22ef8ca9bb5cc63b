package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the playback server.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`                // Listen address (default ":8080")
	LogLevel          string        `yaml:"log_level"`           // Log level: debug, info, warn, error
	LogFormat         string        `yaml:"log_format"`          // Log format: text, json
	DBPath            string        `yaml:"db_path"`             // Journal database path; empty disables the journal, ":memory:" for testing
	RemoteDecoders    bool          `yaml:"remote_decoders"`     // Decoder creation is completed by the SSE peer
	EventBuffer       int           `yaml:"event_buffer"`        // Per-subscriber host command buffer
	JournalBuffer     int           `yaml:"journal_buffer"`      // Queued lifecycle events before play blocks
	MaxContainerBytes int64         `yaml:"max_container_bytes"` // Upper bound on an uploaded MP4 file
	SSEHeartbeat      time.Duration `yaml:"sse_heartbeat"`       // Comment frame interval on idle SSE streams
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:              ":8080",
		LogLevel:          "info",
		LogFormat:         "text",
		EventBuffer:       256,
		JournalBuffer:     256,
		MaxContainerBytes: 512 << 20,
		SSEHeartbeat:      15 * time.Second,
	}
}

// LoadServerConfig reads a YAML file over the defaults. Keys missing from the
// file keep their default value.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q: must be text or json", c.LogFormat)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer)
	}
	if c.JournalBuffer <= 0 {
		return fmt.Errorf("journal_buffer must be positive, got %d", c.JournalBuffer)
	}
	if c.MaxContainerBytes <= 0 {
		return fmt.Errorf("max_container_bytes must be positive, got %d", c.MaxContainerBytes)
	}
	if c.SSEHeartbeat <= 0 {
		return fmt.Errorf("sse_heartbeat must be positive, got %s", c.SSEHeartbeat)
	}
	return nil
}
