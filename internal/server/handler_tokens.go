package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shiguredo/media-processors/internal/engine"
	"github.com/shiguredo/media-processors/pkg/model"
)

type completionResponse struct {
	Token    model.Token `json:"token"`
	Accepted bool        `json:"accepted"` // false for late or unknown tokens
}

func parseTokenParam(r *http.Request) (model.Token, *model.APIError) {
	raw := chi.URLParam(r, "token")
	tok, err := model.ParseToken(raw)
	if err != nil {
		return 0, model.NewValidationError("invalid token",
			model.FieldError{Field: "token", Message: err.Error()})
	}
	return tok, nil
}

// complete runs fn for the token in the URL and reports whether the engine
// had a session parked on it.
func (s *Server) complete(w http.ResponseWriter, r *http.Request, tok model.Token, fn func(*engine.Engine) bool) {
	reqID := RequestIDFromContext(r.Context())
	var accepted bool
	err := s.loop.Do(r.Context(), func(e *engine.Engine) error {
		accepted = fn(e)
		return nil
	})
	if err != nil {
		code, apiErr := engineError(err)
		respondError(w, reqID, code, apiErr)
		return
	}
	if !accepted {
		s.logger.Debug("completion for unknown token", "token", tok, "path", r.URL.Path)
	}
	respondOK(w, reqID, completionResponse{Token: tok, Accepted: accepted})
}

// handleAwake completes a sleep.
// POST /api/v1/tokens/{token}/awake
func (s *Server) handleAwake(w http.ResponseWriter, r *http.Request) {
	tok, apiErr := parseTokenParam(r)
	if apiErr != nil {
		respondError(w, RequestIDFromContext(r.Context()), http.StatusBadRequest, apiErr)
		return
	}
	s.complete(w, r, tok, func(e *engine.Engine) bool { return e.Awake(tok) })
}

// handleDecoderCreated completes a decoder creation.
// POST /api/v1/tokens/{token}/decoder {"decoder_id": N}
func (s *Server) handleDecoderCreated(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	tok, apiErr := parseTokenParam(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	var req struct {
		DecoderID *model.DecoderID `json:"decoder_id"`
	}
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	if req.DecoderID == nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "decoder_id", Message: "decoder_id is required"}))
		return
	}
	id := *req.DecoderID
	s.complete(w, r, tok, func(e *engine.Engine) bool { return e.DecoderCreated(tok, id) })
}

// handleAbandon reports that the host will never complete the token. The
// session parked on it stalls.
// DELETE /api/v1/tokens/{token}
func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	tok, apiErr := parseTokenParam(r)
	if apiErr != nil {
		respondError(w, RequestIDFromContext(r.Context()), http.StatusBadRequest, apiErr)
		return
	}
	s.complete(w, r, tok, func(e *engine.Engine) bool { return e.Abandon(tok) })
}
