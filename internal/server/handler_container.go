package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/shiguredo/media-processors/internal/engine"
	"github.com/shiguredo/media-processors/pkg/model"
)

// handleLoadContainer loads the MP4 file carried in the request body.
// POST /api/v1/container
func (s *Server) handleLoadContainer(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxContainerBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, reqID, http.StatusRequestEntityTooLarge,
				model.NewValidationError("container exceeds max_container_bytes"))
			return
		}
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("read body: "+err.Error()))
		return
	}
	if len(data) == 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("request body is empty"))
		return
	}

	var summary model.ContainerSummary
	var loadErr error
	err = s.loop.Do(r.Context(), func(e *engine.Engine) error {
		if _, loadErr = e.Load(data); loadErr == nil {
			summary = e.Container().Summary()
		}
		return nil
	})
	if err != nil {
		status, apiErr := engineError(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	if errors.Is(loadErr, engine.ErrAlreadyLoaded) {
		status, apiErr := engineError(loadErr)
		respondError(w, reqID, status, apiErr)
		return
	}
	if loadErr != nil {
		respondError(w, reqID, http.StatusUnprocessableEntity, loadError(loadErr))
		return
	}
	respondCreated(w, reqID, summary)
}

// handleGetContainer returns the loaded container summary.
// GET /api/v1/container
func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var summary model.ContainerSummary
	loaded := false
	err := s.loop.Do(r.Context(), func(e *engine.Engine) error {
		if c := e.Container(); c != nil {
			summary = c.Summary()
			loaded = true
		}
		return nil
	})
	if err != nil {
		status, apiErr := engineError(err)
		respondError(w, reqID, status, apiErr)
		return
	}
	if !loaded {
		respondError(w, reqID, http.StatusNotFound, &model.APIError{Code: model.ErrNotFound, Message: "no container loaded"})
		return
	}
	respondOK(w, reqID, summary)
}
