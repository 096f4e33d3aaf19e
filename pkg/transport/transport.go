// Package transport moves command and result bytes between the API frontend
// and session workers. Two interchangeable implementations satisfy the same
// contract: a NATS JetStream adapter for horizontally scaled deployments and
// an in-process adapter for single-process/dev use and tests.
//
// Delivery is at-least-once: result handlers may see duplicates and must
// deduplicate by message identifier.
package transport

import (
	"context"
	"errors"

	"github.com/sessionwire/sessionwire/pkg/wire"
)

var (
	// ErrProvisioning indicates session channels could not be created or
	// deleted.
	ErrProvisioning = errors.New("transport: provisioning failed")

	// ErrDelivery indicates a publish did not reach the broker.
	ErrDelivery = errors.New("transport: delivery failed")

	// ErrNoSession indicates an operation against a session whose channels
	// were never provisioned on this transport.
	ErrNoSession = errors.New("transport: no such session")

	// ErrClosed is returned when operating on a shut-down transport.
	ErrClosed = errors.New("transport: closed")
)

// ResultHandler is invoked once per inbound result message. A non-nil error
// leaves the message unacknowledged so the broker redelivers it; handlers
// must therefore swallow errors for messages that should not come back
// (malformed payloads, stale results).
type ResultHandler func(data []byte) error

// Reader is an active registration on a session's result channel. Close
// releases the broker-side subscription; it is safe to call more than once.
type Reader interface {
	Close() error
}

// Transport is the session-scoped command/response channel contract.
// Implementations must be safe for concurrent use.
type Transport interface {
	// StartSession idempotently provisions the command and result channels
	// for a session. Resources that already exist are treated as success.
	StartSession(ctx context.Context, sessionID string) error

	// EndSession deletes the session's channels and releases any local
	// readers. Channels that are already gone are treated as success.
	EndSession(ctx context.Context, sessionID string) error

	// Publish hands an envelope to the session's command channel. The
	// envelope ID is attached as a transport-level attribute for tracing.
	Publish(ctx context.Context, sessionID string, env *wire.Envelope) error

	// Consume registers a handler on the session's result channel. Each
	// reader is independent; correlation and screenshot streaming open
	// separate readers so they do not starve each other.
	Consume(ctx context.Context, sessionID string, handler ResultHandler) (Reader, error)

	// HasReader reports whether this process holds at least one reader for
	// the session. Callers use it to detect sessions created by a sibling
	// process and re-provision locally before publishing.
	HasReader(sessionID string) bool

	// Shutdown stops all local readers. Used on process exit.
	Shutdown(ctx context.Context) error
}
