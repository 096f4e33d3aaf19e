package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/sessionwire/sessionwire/pkg/logging"
	"github.com/sessionwire/sessionwire/pkg/wire"
)

// NATSConfig holds settings for the durable transport.
type NATSConfig struct {
	// URL is the NATS server URL (e.g. "nats://localhost:4222").
	URL string

	// Name is a client identifier for monitoring.
	Name string

	// PublishTimeout bounds how long a publish may wait for broker
	// acknowledgment before failing with ErrDelivery.
	PublishTimeout time.Duration
}

// DefaultNATSConfig returns a NATSConfig with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "sessionwire",
		PublishTimeout: 10 * time.Second,
	}
}

// NATSTransport implements Transport on NATS JetStream. Each session owns two
// durable streams (commands and screenshots); each reader is a uniquely named
// consumer on the screenshots stream with explicit acknowledgment, so a
// handler error causes redelivery.
type NATSTransport struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	cfg    NATSConfig
	log    *logging.Logger
	closed atomic.Bool

	mu      sync.Mutex
	readers map[string]map[*natsReader]struct{}
}

// NewNATSTransport connects to NATS and initializes JetStream.
func NewNATSTransport(cfg NATSConfig, log *logging.Logger) (*NATSTransport, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if log == nil {
		log = logging.Discard()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	return &NATSTransport{
		conn:    conn,
		js:      js,
		cfg:     cfg,
		log:     log,
		readers: make(map[string]map[*natsReader]struct{}),
	}, nil
}

// NewNATSTransportFromConn wraps an existing connection. Useful for testing
// with an embedded NATS server.
func NewNATSTransportFromConn(conn *nats.Conn, log *logging.Logger) (*NATSTransport, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &NATSTransport{
		conn:    conn,
		js:      js,
		cfg:     DefaultNATSConfig(),
		log:     log,
		readers: make(map[string]map[*natsReader]struct{}),
	}, nil
}

func (t *NATSTransport) StartSession(ctx context.Context, sessionID string) error {
	if t.closed.Load() {
		return ErrClosed
	}

	streams := []struct {
		name    string
		subject string
	}{
		{CommandStreamName(sessionID), CommandSubject(sessionID)},
		{ScreenshotStreamName(sessionID), ScreenshotSubject(sessionID)},
	}

	for _, s := range streams {
		// CreateOrUpdateStream succeeds when the stream already exists, so
		// repeated StartSession calls are harmless.
		_, err := t.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     s.name,
			Subjects: []string{s.subject},
			MaxAge:   24 * time.Hour,
			Storage:  jetstream.FileStorage,
			Discard:  jetstream.DiscardOld,
			Replicas: 1,
		})
		if err != nil {
			return fmt.Errorf("%w: create stream %s: %v", ErrProvisioning, s.name, err)
		}
	}
	return nil
}

func (t *NATSTransport) EndSession(ctx context.Context, sessionID string) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.closeSessionReaders(sessionID)

	for _, name := range []string{CommandStreamName(sessionID), ScreenshotStreamName(sessionID)} {
		if err := t.js.DeleteStream(ctx, name); err != nil {
			if errors.Is(err, jetstream.ErrStreamNotFound) {
				continue
			}
			return fmt.Errorf("%w: delete stream %s: %v", ErrProvisioning, name, err)
		}
	}
	return nil
}

func (t *NATSTransport) Publish(ctx context.Context, sessionID string, env *wire.Envelope) error {
	if t.closed.Load() {
		return ErrClosed
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: CommandSubject(sessionID),
		Data:    data,
		Header:  nats.Header{wire.HeaderMessageID: []string{env.ID}},
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.PublishTimeout)
	defer cancel()

	if _, err := t.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("%w: publish %s to %s: %v", ErrDelivery, env.ID, msg.Subject, err)
	}

	t.log.WithSession(sessionID).Debug("published command", "message_id", env.ID, "subject", msg.Subject)
	return nil
}

func (t *NATSTransport) Consume(ctx context.Context, sessionID string, handler ResultHandler) (Reader, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	stream, err := t.js.Stream(ctx, ScreenshotStreamName(sessionID))
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoSession, sessionID)
		}
		return nil, fmt.Errorf("%w: lookup stream for %s: %v", ErrProvisioning, sessionID, err)
	}

	name := ReaderName()
	// DeliverNew: a reader only sees results published after it attaches.
	// In-flight results published before a re-provisioned reader existed are
	// lost; that window is a documented property of the self-healing path.
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              name,
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckWait:           30 * time.Second,
		InactiveThreshold: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create reader %s: %v", ErrProvisioning, name, err)
	}

	log := t.log.WithSession(sessionID)
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(msg.Data()); err != nil {
			log.Warn("result handler failed, message will be redelivered", "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: start reader %s: %v", ErrProvisioning, name, err)
	}

	r := &natsReader{
		transport: t,
		sessionID: sessionID,
		name:      name,
		stream:    stream,
		cc:        cc,
	}

	t.mu.Lock()
	if t.readers[sessionID] == nil {
		t.readers[sessionID] = make(map[*natsReader]struct{})
	}
	t.readers[sessionID][r] = struct{}{}
	t.mu.Unlock()

	log.Debug("reader attached", "reader", name)
	return r, nil
}

func (t *NATSTransport) HasReader(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.readers[sessionID]) > 0
}

// ReaderCount reports the number of local readers for a session.
func (t *NATSTransport) ReaderCount(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.readers[sessionID])
}

func (t *NATSTransport) Shutdown(ctx context.Context) error {
	if t.closed.Swap(true) {
		return ErrClosed
	}

	t.mu.Lock()
	var all []*natsReader
	for _, set := range t.readers {
		for r := range set {
			all = append(all, r)
		}
	}
	t.mu.Unlock()

	for _, r := range all {
		_ = r.Close()
	}
	return t.conn.Drain()
}

func (t *NATSTransport) closeSessionReaders(sessionID string) {
	t.mu.Lock()
	var rs []*natsReader
	for r := range t.readers[sessionID] {
		rs = append(rs, r)
	}
	t.mu.Unlock()

	for _, r := range rs {
		_ = r.Close()
	}
}

// natsReader is one consumer registration on a session's screenshots stream.
type natsReader struct {
	transport *NATSTransport
	sessionID string
	name      string
	stream    jetstream.Stream
	cc        jetstream.ConsumeContext
	once      sync.Once
}

func (r *natsReader) Close() error {
	r.once.Do(func() {
		r.cc.Stop()

		// Best-effort consumer deletion; InactiveThreshold reaps stragglers.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.stream.DeleteConsumer(ctx, r.name)

		t := r.transport
		t.mu.Lock()
		if set, ok := t.readers[r.sessionID]; ok {
			delete(set, r)
			if len(set) == 0 {
				delete(t.readers, r.sessionID)
			}
		}
		t.mu.Unlock()
	})
	return nil
}
