// Package session tracks active worker sessions and the transport resources
// backing them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sessionwire/sessionwire/pkg/logging"
	"github.com/sessionwire/sessionwire/pkg/metrics"
	"github.com/sessionwire/sessionwire/pkg/telemetry"
	"github.com/sessionwire/sessionwire/pkg/transport"
	"github.com/sessionwire/sessionwire/pkg/worker"
)

// ErrUnknownSession is returned for operations against an id that was never
// created or is already gone. Callers fail fast instead of hanging.
var ErrUnknownSession = errors.New("session: no such session")

// State is a session's lifecycle stage.
type State int

const (
	StateCreating State = iota
	StateActive
	StateDeleting
	StateGone
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateActive:
		return "active"
	case StateDeleting:
		return "deleting"
	case StateGone:
		return "gone"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one logical control channel to a worker instance.
type Session struct {
	ID        string
	Type      string
	CreatedAt time.Time

	mu    sync.Mutex
	state State
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// transition moves the session from one stage to another, failing when the
// session is not in the expected stage.
func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("session %s is %s, not %s", s.ID, s.state, from)
	}
	s.state = to
	return nil
}

// Bus is the slice of the bridge the registry needs for teardown: a
// best-effort shutdown publish and force-failing in-flight commands.
type Bus interface {
	PublishShutdown(ctx context.Context, sessionID string) error
	AbortSession(sessionID string)
}

// Options describe a session to create.
type Options struct {
	Type             string
	ScreenResolution string
	JobTimeout       time.Duration
	IdleTimeout      time.Duration
}

// Registry owns the session table and drives each session through
// creating -> active -> deleting -> gone.
type Registry struct {
	transport transport.Transport
	starter   worker.Starter
	bus       Bus
	log       *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(tr transport.Transport, starter worker.Starter, bus Bus, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Discard()
	}
	return &Registry{
		transport: tr,
		starter:   starter,
		bus:       bus,
		log:       log,
		sessions:  make(map[string]*Session),
	}
}

// Create provisions transport channels, starts a worker, and activates the
// session. On any failure the partially created transport resources are
// rolled back before the error surfaces, so no half-built session remains.
func (r *Registry) Create(ctx context.Context, opts Options) (*Session, error) {
	ctx, span := telemetry.StartSpan(ctx, "session.create")
	defer span.End()

	s := &Session{
		ID:        uuid.NewString(),
		Type:      opts.Type,
		CreatedAt: time.Now(),
		state:     StateCreating,
	}
	span.SetAttributes(telemetry.AttrSessionID.String(s.ID))

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	log := r.log.WithSession(s.ID)

	if err := r.transport.StartSession(ctx, s.ID); err != nil {
		r.remove(s.ID)
		return nil, fmt.Errorf("provision transport: %w", err)
	}

	err := r.starter.StartWorker(ctx, worker.StartSpec{
		SessionID:        s.ID,
		Type:             opts.Type,
		ScreenResolution: opts.ScreenResolution,
		JobTimeout:       opts.JobTimeout,
		IdleTimeout:      opts.IdleTimeout,
	})
	if err != nil {
		log.Error("worker start failed, rolling back transport resources", "error", err)
		if terr := r.transport.EndSession(ctx, s.ID); terr != nil {
			log.Error("rollback failed", "error", terr)
		}
		r.remove(s.ID)
		return nil, fmt.Errorf("start worker: %w", err)
	}

	s.setState(StateActive)
	metrics.SessionsActive.Inc()
	log.Info("session active", "type", opts.Type, "resolution", opts.ScreenResolution)
	return s, nil
}

// Active returns the session if it exists and accepts commands.
func (r *Registry) Active(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || s.State() != StateActive {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// Delete tears a session down: a best-effort shutdown command to the worker,
// force-failing in-flight commands, stopping the worker, and deleting the
// transport channels. The worker's acknowledgment is never awaited.
func (r *Registry) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "session.delete")
	defer span.End()
	span.SetAttributes(telemetry.AttrSessionID.String(id))

	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if err := s.transition(StateActive, StateDeleting); err != nil {
		// Concurrent delete or still creating; either way the caller's id
		// does not name an active session.
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	log := r.log.WithSession(id)

	if err := r.bus.PublishShutdown(ctx, id); err != nil {
		log.Warn("shutdown publish failed, worker will hit its idle timeout", "error", err)
	}
	r.bus.AbortSession(id)

	if err := r.starter.StopWorker(ctx, id); err != nil {
		log.Warn("worker stop failed", "error", err)
	}

	// Teardown happens exactly once (guarded by the DELETING transition).
	// Failures here are logged rather than surfaced: the session is gone
	// from the caller's perspective either way.
	if err := r.transport.EndSession(ctx, id); err != nil {
		log.Error("transport teardown failed", "error", err)
	}

	s.setState(StateGone)
	r.remove(id)
	metrics.SessionsActive.Dec()
	log.Info("session deleted")
	return nil
}

// Count reports tracked sessions. Used by readiness reporting.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}
