// Package api exposes the bridge as a REST surface: session lifecycle,
// synchronous command submission, and a live screenshot stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sessionwire/sessionwire/pkg/bridge"
	"github.com/sessionwire/sessionwire/pkg/config"
	"github.com/sessionwire/sessionwire/pkg/logging"
	"github.com/sessionwire/sessionwire/pkg/session"
)

// Server hosts the sessionwire HTTP API.
type Server struct {
	cfg        config.ServerConfig
	workerCfg  config.WorkerConfig
	registry   *session.Registry
	bridge     *bridge.Bridge
	streamer   *bridge.Streamer
	log        *logging.Logger
	httpServer *http.Server
}

// NewServer wires the REST surface over the registry, bridge, and streamer.
func NewServer(cfg config.ServerConfig, workerCfg config.WorkerConfig, reg *session.Registry, br *bridge.Bridge, st *bridge.Streamer, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{
		cfg:       cfg,
		workerCfg: workerCfg,
		registry:  reg,
		bridge:    br,
		streamer:  st,
		log:       log,
	}

	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/sessions", s.handleCreateSession)
		r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
		r.Post("/sessions/{sessionID}/commands", s.handleCreateCommand)
		r.Get("/sessions/{sessionID}/screenshots", s.handleStreamScreenshots)
	})

	s.httpServer = &http.Server{
		Addr:        cfg.BindAddress,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: screenshot streams stay open until the client
		// disconnects.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("api server listening", "address", s.cfg.BindAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Count(),
	})
}
