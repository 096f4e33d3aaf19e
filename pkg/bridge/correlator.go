package bridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sessionwire/sessionwire/pkg/metrics"
	"github.com/sessionwire/sessionwire/pkg/wire"
)

var (
	// ErrTimeout means no result arrived within the deadline. Distinct from
	// a worker-reported failure.
	ErrTimeout = errors.New("bridge: command timed out")

	// ErrSessionDeleted means the session was deleted while the command was
	// in flight; its pending slot was force-resolved.
	ErrSessionDeleted = errors.New("bridge: session deleted")

	// ErrDuplicateID means a slot is already pending for the message id.
	ErrDuplicateID = errors.New("bridge: duplicate message id")
)

// outcome is what a waiter receives: a result or a forced failure.
type outcome struct {
	result *wire.Result
	err    error
}

// Correlator matches inbound results to outstanding requests by message id.
// The pending table is mutated from the request path (register/expire) and
// the consumer callback path (resolve) concurrently, so every access holds
// the lock. First resolution wins; later results for the same id are stale.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]map[string]chan outcome // session id -> message id -> slot
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]map[string]chan outcome)}
}

// Register creates a pending slot for a message and returns the channel the
// requester waits on. The channel is buffered so resolution never blocks the
// consumer callback.
func (c *Correlator) Register(sessionID, messageID string) (<-chan outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slots := c.pending[sessionID]
	if slots == nil {
		slots = make(map[string]chan outcome)
		c.pending[sessionID] = slots
	}
	if _, exists := slots[messageID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, messageID)
	}

	slot := make(chan outcome, 1)
	slots[messageID] = slot
	metrics.PendingCommands.Inc()
	return slot, nil
}

// Resolve delivers a result to its pending slot and removes the entry.
// Returns false when no slot matches (unknown, already resolved, or expired);
// under at-least-once delivery that is an expected, non-exceptional outcome.
func (c *Correlator) Resolve(sessionID string, result *wire.Result) bool {
	slot, ok := c.take(sessionID, result.ID)
	if !ok {
		return false
	}
	slot <- outcome{result: result}
	return true
}

// Expire removes a pending slot after a timeout, publish failure, or caller
// cancellation. Best-effort: a result racing in just before removal stays
// delivered to the (now abandoned) buffered slot and is simply dropped.
func (c *Correlator) Expire(sessionID, messageID string) {
	c.take(sessionID, messageID)
}

// FailSession force-resolves every pending slot for a session with the given
// error. Used when a session is deleted mid-command, so in-flight calls fail
// immediately instead of timing out. Returns the number of slots failed.
func (c *Correlator) FailSession(sessionID string, err error) int {
	c.mu.Lock()
	slots := c.pending[sessionID]
	delete(c.pending, sessionID)
	c.mu.Unlock()

	for _, slot := range slots {
		slot <- outcome{err: err}
		metrics.PendingCommands.Dec()
	}
	return len(slots)
}

// PendingCount reports outstanding slots for a session. Tests use it to
// verify the table is cleaned up.
func (c *Correlator) PendingCount(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[sessionID])
}

func (c *Correlator) take(sessionID, messageID string) (chan outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slots := c.pending[sessionID]
	slot, ok := slots[messageID]
	if !ok {
		return nil, false
	}
	delete(slots, messageID)
	if len(slots) == 0 {
		delete(c.pending, sessionID)
	}
	metrics.PendingCommands.Dec()
	return slot, true
}
