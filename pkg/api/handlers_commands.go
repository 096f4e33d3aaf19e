package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sessionwire/sessionwire/pkg/telemetry"
	"github.com/sessionwire/sessionwire/pkg/wire"
)

func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req CommandRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "api.command")
	defer span.End()
	span.SetAttributes(
		telemetry.AttrSessionID.String(sessionID),
		telemetry.AttrAction.String(req.Name),
	)

	if _, err := s.registry.Active(sessionID); err != nil {
		respondError(w, statusForError(err), err)
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	env := wire.NewCommand(payload)

	res, err := s.bridge.SubmitAndWait(ctx, sessionID, env, s.cfg.CommandTimeout.Std())
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	if res.Failed() {
		respondError(w, http.StatusInternalServerError, errors.New(res.Error))
		return
	}

	respondJSON(w, http.StatusOK, CreateCommandResponse{
		ID:         env.ID,
		Screenshot: res.Screenshot,
		URL:        res.URL,
	})
}
