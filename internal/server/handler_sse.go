package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shiguredo/media-processors/pkg/model"
)

// handleSSEHost streams host commands to a remote decode host via Server-Sent
// Events. Each command is sent as an event named after its type.
// GET /api/v1/sse/host
func (s *Server) handleSSEHost(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.broker == nil {
		respondError(w, reqID, http.StatusNotFound, &model.APIError{Code: model.ErrNotFound, Message: "host command stream is disabled"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError("SSE not supported"))
		return
	}

	cmds, cancel := s.broker.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	if err := sendSSEEvent(w, flusher, "ready", map[string]any{
		"remote_decoders": s.config.RemoteDecoders,
	}); err != nil {
		return
	}
	s.logger.Info("host subscriber connected", "request_id", reqID)
	defer s.logger.Info("host subscriber disconnected", "request_id", reqID)

	heartbeat := s.config.SSEHeartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case cmd, ok := <-cmds:
			if !ok {
				return
			}
			if err := sendSSEEvent(w, flusher, string(cmd.Type), cmd); err != nil {
				s.logger.Debug("sse client disconnected", "error", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
