package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sessionwire/sessionwire/pkg/metrics"
)

// heartbeatInterval paces SSE comment lines that keep idle connections alive
// through proxies.
const heartbeatInterval = 30 * time.Second

// handleStreamScreenshots serves a session's screenshot feed as server-sent
// events. Each frame arrives as an "event: screenshot" record whose data line
// is the base64-encoded image.
func (s *Server) handleStreamScreenshots(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := s.registry.Active(sessionID); err != nil {
		respondError(w, statusForError(err), err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	stream, err := s.streamer.Stream(r.Context(), sessionID)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case frame := <-stream.Frames():
			if _, err := fmt.Fprintf(w, "event: screenshot\ndata: %s\n\n", frame); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
