// Package bridge provides synchronous command/response semantics on top of
// the asynchronous, at-least-once transport: a requester publishes a command
// and blocks on a completion slot until the correlated result arrives or a
// timeout elapses.
package bridge

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/sessionwire/sessionwire/pkg/logging"
	"github.com/sessionwire/sessionwire/pkg/metrics"
	"github.com/sessionwire/sessionwire/pkg/telemetry"
	"github.com/sessionwire/sessionwire/pkg/transport"
	"github.com/sessionwire/sessionwire/pkg/wire"
)

// Bridge owns the correlator and the per-session result readers that feed it.
type Bridge struct {
	transport  transport.Transport
	correlator *Correlator
	log        *logging.Logger

	mu      sync.Mutex
	readers map[string]transport.Reader // correlator reader per session
}

// New creates a bridge over the given transport.
func New(tr transport.Transport, log *logging.Logger) *Bridge {
	if log == nil {
		log = logging.Discard()
	}
	return &Bridge{
		transport:  tr,
		correlator: NewCorrelator(),
		log:        log,
		readers:    make(map[string]transport.Reader),
	}
}

// SubmitAndWait publishes a command and blocks until its result arrives, the
// timeout elapses, or the context is cancelled.
func (b *Bridge) SubmitAndWait(ctx context.Context, sessionID string, env *wire.Envelope, timeout time.Duration) (*wire.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "bridge.submit_and_wait")
	defer span.End()
	span.SetAttributes(
		telemetry.AttrSessionID.String(sessionID),
		telemetry.AttrMessageID.String(env.ID),
	)

	if err := b.EnsureConsumer(ctx, sessionID); err != nil {
		span.SetStatus(codes.Error, "consumer provisioning failed")
		span.RecordError(err)
		return nil, err
	}

	slot, err := b.correlator.Register(sessionID, env.ID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := b.transport.Publish(ctx, sessionID, env); err != nil {
		b.correlator.Expire(sessionID, env.ID)
		metrics.CommandsTotal.WithLabelValues(metrics.OutcomeDeliveryError).Inc()
		span.SetStatus(codes.Error, "publish failed")
		span.RecordError(err)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-slot:
		if out.err != nil {
			metrics.CommandsTotal.WithLabelValues(metrics.OutcomeSessionDeleted).Inc()
			return nil, out.err
		}
		metrics.CommandSeconds.Observe(time.Since(start).Seconds())
		if out.result.Failed() {
			metrics.CommandsTotal.WithLabelValues(metrics.OutcomeWorkerError).Inc()
		} else {
			metrics.CommandsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
		}
		return out.result, nil

	case <-timer.C:
		b.correlator.Expire(sessionID, env.ID)
		metrics.CommandsTotal.WithLabelValues(metrics.OutcomeTimeout).Inc()
		span.SetStatus(codes.Error, "timeout")
		return nil, ErrTimeout

	case <-ctx.Done():
		b.correlator.Expire(sessionID, env.ID)
		return nil, ctx.Err()
	}
}

// EnsureConsumer guarantees this process has a result reader feeding the
// correlator for the session. When a sibling frontend created the session,
// the local process has no reader yet: we re-provision the channels and
// attach one. Results published before the new reader existed are lost; that
// narrow at-least-once window is accepted rather than hidden.
//
// Re-provisioning cannot tell "created elsewhere" from "deleted concurrently":
// if the session was torn down between the caller's registry check and this
// call, its channels are recreated with no worker behind them and no later
// EndSession to remove them. The command fails with a timeout, so the caller
// still sees an error; the orphaned channels are the accepted cost.
func (b *Bridge) EnsureConsumer(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	_, attached := b.readers[sessionID]
	b.mu.Unlock()
	if attached && b.transport.HasReader(sessionID) {
		return nil
	}

	b.log.WithSession(sessionID).Info("no local result reader, provisioning one")
	if err := b.transport.StartSession(ctx, sessionID); err != nil {
		return err
	}
	reader, err := b.transport.Consume(ctx, sessionID, b.resultHandler(sessionID))
	if err != nil {
		return err
	}

	b.mu.Lock()
	if _, raced := b.readers[sessionID]; raced {
		// Another request attached concurrently; keep the first reader.
		b.mu.Unlock()
		_ = reader.Close()
		return nil
	}
	b.readers[sessionID] = reader
	b.mu.Unlock()
	return nil
}

// resultHandler decodes inbound results and resolves pending slots. It never
// returns an error for stale or malformed messages: redelivering them cannot
// help, and one bad message must not take down the shared reader.
func (b *Bridge) resultHandler(sessionID string) transport.ResultHandler {
	log := b.log.WithSession(sessionID)
	return func(data []byte) error {
		res, err := wire.DecodeResult(data)
		if err != nil {
			log.Warn("discarding malformed result", "error", err)
			return nil
		}
		if !b.correlator.Resolve(sessionID, res) {
			log.Debug("discarding result with no pending command", "message_id", res.ID)
			metrics.StaleResults.Inc()
		}
		return nil
	}
}

// PublishShutdown sends a best-effort shutdown envelope to a session's
// worker. The caller does not wait for acknowledgment.
func (b *Bridge) PublishShutdown(ctx context.Context, sessionID string) error {
	return b.transport.Publish(ctx, sessionID, wire.NewShutdown())
}

// AbortSession fails every in-flight command for the session and releases
// the local correlator reader. Called when a session is deleted.
func (b *Bridge) AbortSession(sessionID string) {
	if n := b.correlator.FailSession(sessionID, ErrSessionDeleted); n > 0 {
		b.log.WithSession(sessionID).Info("failed in-flight commands on session delete", "count", n)
	}

	b.mu.Lock()
	reader := b.readers[sessionID]
	delete(b.readers, sessionID)
	b.mu.Unlock()
	if reader != nil {
		_ = reader.Close()
	}
}

// Pending reports the number of in-flight commands for a session.
func (b *Bridge) Pending(sessionID string) int {
	return b.correlator.PendingCount(sessionID)
}

// Shutdown releases all local readers. The transport itself is shut down by
// its owner.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	readers := b.readers
	b.readers = make(map[string]transport.Reader)
	b.mu.Unlock()

	for _, r := range readers {
		_ = r.Close()
	}
	return nil
}
