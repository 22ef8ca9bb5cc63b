package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shiguredo/media-processors/internal/engine"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	GoVersion   string `json:"go_version"`
	Uptime      string `json:"uptime"`
	Engine      string `json:"engine"`
	Container   bool   `json:"container_loaded"`
	Sessions    int    `json:"sessions"`
	Journal     string `json:"journal"`
	Decoders    string `json:"decoders"`
	Subscribers int    `json:"host_subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Engine:    "running",
		Journal:   "disabled",
		Decoders:  "local",
	}
	if s.store != nil {
		resp.Journal = "enabled"
	}
	if s.config.RemoteDecoders {
		resp.Decoders = "remote"
	}
	if s.broker != nil {
		resp.Subscribers = s.broker.Subscribers()
	}

	err := s.loop.Do(r.Context(), func(e *engine.Engine) error {
		resp.Container = e.Container() != nil
		resp.Sessions = len(e.Sessions())
		return nil
	})
	if err != nil {
		resp.Status = "degraded"
		resp.Engine = err.Error()
	}
	respondOK(w, reqID, resp)
}
