package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sessionwire/sessionwire/pkg/bridge"
	"github.com/sessionwire/sessionwire/pkg/session"
	"github.com/sessionwire/sessionwire/pkg/transport"
)

const maxBodyBytes int64 = 1 << 20

// errEmptyBody marks a request with no body at all; endpoints whose fields
// all have defaults tolerate it.
var errEmptyBody = errors.New("request body required")

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body too large (max %d bytes)", maxBodyBytes)
		}
		return err
	}
	return nil
}

// statusForError translates bridge and session errors into HTTP status
// codes: a timeout is 408, an unknown session 404, everything else 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownSession), errors.Is(err, transport.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrTimeout):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
