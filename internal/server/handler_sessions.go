package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shiguredo/media-processors/internal/engine"
	"github.com/shiguredo/media-processors/pkg/model"
)

// handlePlay starts (or replaces) a session.
// POST /api/v1/sessions
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		ID     model.SessionID `json:"id"`
		Repeat bool            `json:"repeat"`
	}
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	if req.ID == "" {
		req.ID = model.SessionID("ses_" + uuid.New().String())
	}

	var status model.SessionStatus
	err := s.loop.Do(r.Context(), func(e *engine.Engine) error {
		if err := e.Play(req.ID, model.PlayOptions{Repeat: req.Repeat}); err != nil {
			return err
		}
		status, _ = e.Session(req.ID)
		return nil
	})
	if err != nil {
		code, apiErr := engineError(err)
		respondError(w, reqID, code, apiErr)
		return
	}
	respondCreated(w, reqID, status)
}

// handleListSessions lists every registered session.
// GET /api/v1/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var sessions []model.SessionStatus
	err := s.loop.Do(r.Context(), func(e *engine.Engine) error {
		sessions = e.Sessions()
		return nil
	})
	if err != nil {
		code, apiErr := engineError(err)
		respondError(w, reqID, code, apiErr)
		return
	}
	respondOK(w, reqID, sessions)
}

// handleGetSession returns one session.
// GET /api/v1/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := model.SessionID(chi.URLParam(r, "id"))

	var status model.SessionStatus
	var ok bool
	err := s.loop.Do(r.Context(), func(e *engine.Engine) error {
		status, ok = e.Session(id)
		return nil
	})
	if err != nil {
		code, apiErr := engineError(err)
		respondError(w, reqID, code, apiErr)
		return
	}
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("session", string(id)))
		return
	}
	respondOK(w, reqID, status)
}

// handleStop stops a session. Stopping an unknown id succeeds.
// DELETE /api/v1/sessions/{id}
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := model.SessionID(chi.URLParam(r, "id"))

	var stopped bool
	err := s.loop.Do(r.Context(), func(e *engine.Engine) error {
		stopped = e.Stop(id)
		return nil
	})
	if err != nil {
		code, apiErr := engineError(err)
		respondError(w, reqID, code, apiErr)
		return
	}
	respondOK(w, reqID, map[string]any{"id": id, "stopped": stopped})
}

// handleListRuns lists the journal runs of a session, newest first, with their
// events.
// GET /api/v1/sessions/{id}/runs?limit=&offset=&state=
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := model.SessionID(chi.URLParam(r, "id"))

	if s.store == nil {
		respondError(w, reqID, http.StatusNotFound, &model.APIError{Code: model.ErrNotFound, Message: "journal is disabled"})
		return
	}

	var query model.RunQuery
	params := r.URL.Query()
	if v := params.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			query.Limit = n
		}
	}
	if v := params.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			query.Offset = n
		}
	}
	query.State = model.RunState(params.Get("state"))
	query = query.Normalize()

	runs, total, err := s.store.ListRuns(r.Context(), id, query)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	for _, run := range runs {
		events, err := s.store.ListEvents(r.Context(), run.ID)
		if err != nil {
			respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
			return
		}
		run.Events = events
	}
	if runs == nil {
		runs = []*model.Run{}
	}

	respondPage(w, reqID, runs, &model.Page{Total: total, Offset: query.Offset, Count: len(runs)})
}
