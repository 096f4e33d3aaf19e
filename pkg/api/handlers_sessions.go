package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	// Every field defaults, so an empty body is a valid request.
	var req CreateSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	opts, err := req.toOptions(s.workerCfg)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	sess, err := s.registry.Create(r.Context(), opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, CreateSessionResponse{ID: sess.ID})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.registry.Delete(r.Context(), id); err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, DeleteSessionResponse{ID: id})
}
