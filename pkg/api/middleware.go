package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"
)

// apiKeyHeader carries the caller's key when authentication is enabled.
const apiKeyHeader = "X-API-Key"

// requireAPIKey rejects requests without the configured key. When no key is
// configured the middleware is a no-op.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		provided := r.Header.Get(apiKeyHeader)
		if provided == "" {
			respondError(w, http.StatusUnauthorized, errors.New("missing "+apiKeyHeader+" header"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.APIKey)) != 1 {
			respondError(w, http.StatusUnauthorized, errors.New("invalid API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
