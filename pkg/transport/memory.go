package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sessionwire/sessionwire/pkg/logging"
	"github.com/sessionwire/sessionwire/pkg/wire"
)

// readerBuffer bounds each in-memory reader's queue. When full, the oldest
// message is dropped: results are supersede-able state, not a command log.
const readerBuffer = 64

// WorkerFunc handles a command envelope in-process and returns the encoded
// result, or nil when no result should be published (e.g. shutdown).
type WorkerFunc func(env *wire.Envelope) []byte

// MemoryTransport implements Transport with direct in-process dispatch. It
// backs single-process deployments where the worker runs in the same binary,
// and serves as the test double for everything above the transport.
type MemoryTransport struct {
	log    *logging.Logger
	closed atomic.Bool

	mu       sync.Mutex
	sessions map[string]*memorySession
}

type memorySession struct {
	worker  WorkerFunc
	readers map[*memoryReader]struct{}
}

// NewMemoryTransport creates an in-process transport.
func NewMemoryTransport(log *logging.Logger) *MemoryTransport {
	if log == nil {
		log = logging.Discard()
	}
	return &MemoryTransport{
		log:      log,
		sessions: make(map[string]*memorySession),
	}
}

func (t *MemoryTransport) StartSession(ctx context.Context, sessionID string) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[sessionID]; !ok {
		t.sessions[sessionID] = &memorySession{readers: make(map[*memoryReader]struct{})}
	}
	return nil
}

func (t *MemoryTransport) EndSession(ctx context.Context, sessionID string) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	var rs []*memoryReader
	if ok {
		for r := range sess.readers {
			rs = append(rs, r)
		}
		delete(t.sessions, sessionID)
	}
	t.mu.Unlock()

	// Already gone is success.
	for _, r := range rs {
		r.stop()
	}
	return nil
}

// BindWorker attaches the in-process worker handling a session's commands.
func (t *MemoryTransport) BindWorker(sessionID string, fn WorkerFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}
	sess.worker = fn
	return nil
}

func (t *MemoryTransport) Publish(ctx context.Context, sessionID string, env *wire.Envelope) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	var worker WorkerFunc
	if ok {
		worker = sess.worker
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}
	if worker == nil {
		// No worker bound yet; the command is lost, mirroring a broker
		// publish with no live consumer and no retention.
		t.log.WithSession(sessionID).Warn("dropping command, no worker bound", "message_id", env.ID)
		return nil
	}

	go func() {
		if res := worker(env); res != nil {
			t.InjectResult(sessionID, res)
		}
	}()
	return nil
}

// InjectResult delivers a raw result payload to every reader of a session.
// Workers publish through it; tests use it to simulate broker delivery.
func (t *MemoryTransport) InjectResult(sessionID string, data []byte) {
	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	var rs []*memoryReader
	if ok {
		for r := range sess.readers {
			rs = append(rs, r)
		}
	}
	t.mu.Unlock()

	for _, r := range rs {
		r.enqueue(data)
	}
}

func (t *MemoryTransport) Consume(ctx context.Context, sessionID string, handler ResultHandler) (Reader, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}
	r := &memoryReader{
		transport: t,
		sessionID: sessionID,
		handler:   handler,
		queue:     make(chan []byte, readerBuffer),
		done:      make(chan struct{}),
	}
	sess.readers[r] = struct{}{}
	t.mu.Unlock()

	go r.run()
	return r, nil
}

func (t *MemoryTransport) HasReader(sessionID string) bool {
	return t.ReaderCount(sessionID) > 0
}

// ReaderCount reports the number of readers for a session. Tests use it to
// verify streams release their readers.
func (t *MemoryTransport) ReaderCount(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sess, ok := t.sessions[sessionID]; ok {
		return len(sess.readers)
	}
	return 0
}

func (t *MemoryTransport) Shutdown(ctx context.Context) error {
	if t.closed.Swap(true) {
		return ErrClosed
	}
	t.mu.Lock()
	var rs []*memoryReader
	for _, sess := range t.sessions {
		for r := range sess.readers {
			rs = append(rs, r)
		}
	}
	t.sessions = make(map[string]*memorySession)
	t.mu.Unlock()

	for _, r := range rs {
		r.stop()
	}
	return nil
}

// memoryReader delivers queued results to its handler on a single goroutine,
// mirroring the serial dispatch of a broker consumer.
type memoryReader struct {
	transport *MemoryTransport
	sessionID string
	handler   ResultHandler
	queue     chan []byte
	done      chan struct{}
	once      sync.Once
}

func (r *memoryReader) enqueue(data []byte) {
	for {
		select {
		case <-r.done:
			return
		case r.queue <- data:
			return
		default:
			// Queue full: drop the oldest entry to make room.
			select {
			case <-r.queue:
			default:
			}
		}
	}
}

func (r *memoryReader) run() {
	for {
		select {
		case <-r.done:
			return
		case data := <-r.queue:
			// The in-process adapter has no redelivery; handler errors are
			// the handler's problem, matching direct dispatch semantics.
			_ = r.handler(data)
		}
	}
}

func (r *memoryReader) stop() {
	r.once.Do(func() { close(r.done) })
}

func (r *memoryReader) Close() error {
	r.stop()

	t := r.transport
	t.mu.Lock()
	if sess, ok := t.sessions[r.sessionID]; ok {
		delete(sess.readers, r)
	}
	t.mu.Unlock()
	return nil
}
