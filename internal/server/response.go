package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shiguredo/media-processors/internal/engine"
	"github.com/shiguredo/media-processors/internal/mp4"
	"github.com/shiguredo/media-processors/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

// respondCreated writes a 201 response with the standard envelope.
func respondCreated(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusCreated, reqID, data, nil, nil)
}

// respondPage writes one page of a listing.
func respondPage(w http.ResponseWriter, reqID string, data any, pg *model.Page) {
	respondJSON(w, http.StatusOK, reqID, data, pg, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, nil, apiErr)
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Page, apiErr *model.APIError) {
	resp := model.Response{
		RequestID: reqID,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Page:      pg,
		Error:     apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// engineError maps an error returned through the engine loop to a status and
// API error.
func engineError(err error) (int, *model.APIError) {
	switch {
	case errors.Is(err, engine.ErrAlreadyLoaded):
		return http.StatusConflict, model.NewConflictError(err.Error())
	case errors.Is(err, engine.ErrNotLoaded):
		return http.StatusConflict, model.NewConflictError("no container loaded; POST /api/v1/container first")
	case errors.Is(err, engine.ErrLoopStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, model.NewUnavailableError(err.Error())
	default:
		return http.StatusInternalServerError, model.NewInternalError(err.Error())
	}
}

// loadError maps a failed container load to a 422 naming the offending track.
func loadError(err error) *model.APIError {
	var le *mp4.LoadError
	if errors.As(err, &le) {
		return model.NewValidationError("container rejected", model.FieldError{
			Field:   fmt.Sprintf("track %d", le.TrackID),
			Message: le.Error(),
		})
	}
	return model.NewValidationError(err.Error())
}

// decodeJSON decodes an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeJSON(r *http.Request, v any) *model.APIError {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return model.NewValidationError("Invalid JSON body: " + err.Error())
}
