package bridge

import (
	"context"
	"sync"

	"github.com/sessionwire/sessionwire/pkg/logging"
	"github.com/sessionwire/sessionwire/pkg/transport"
	"github.com/sessionwire/sessionwire/pkg/wire"
)

// streamBuffer bounds the per-client frame queue. When a client cannot keep
// up, the oldest frame is dropped: a screenshot is superseded by the next
// one, so low latency beats completeness.
const streamBuffer = 16

// Streamer republishes a session's screenshot events as live streams, one
// dedicated transport reader per client.
type Streamer struct {
	transport transport.Transport
	log       *logging.Logger
}

// NewStreamer creates a screenshot streamer over the given transport.
func NewStreamer(tr transport.Transport, log *logging.Logger) *Streamer {
	if log == nil {
		log = logging.Discard()
	}
	return &Streamer{transport: tr, log: log}
}

// Stream opens a dedicated reader on the session's result channel and
// returns a live frame stream. The stream closes its reader when the context
// is cancelled (client disconnect) or Close is called, whichever comes first.
func (s *Streamer) Stream(ctx context.Context, sessionID string) (*Stream, error) {
	st := &Stream{
		frames: make(chan string, streamBuffer),
		log:    s.log.WithSession(sessionID),
	}

	reader, err := s.transport.Consume(ctx, sessionID, func(data []byte) error {
		res, err := wire.DecodeResult(data)
		if err != nil {
			// Malformed events are dropped; redelivery cannot fix them.
			return nil
		}
		if res.Screenshot == "" {
			return nil
		}
		st.push(res.Screenshot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	st.reader = reader

	go func() {
		<-ctx.Done()
		_ = st.Close()
	}()
	return st, nil
}

// Stream is one client's live screenshot feed.
type Stream struct {
	frames chan string
	reader transport.Reader
	log    *logging.Logger
	once   sync.Once
}

// Frames returns the channel of base64-encoded screenshot frames.
func (st *Stream) Frames() <-chan string {
	return st.frames
}

// Close releases the stream's transport reader. Safe to call repeatedly.
func (st *Stream) Close() error {
	var err error
	st.once.Do(func() {
		err = st.reader.Close()
		st.log.Debug("screenshot stream closed")
	})
	return err
}

// push enqueues a frame, evicting the oldest one when the client lags.
func (st *Stream) push(frame string) {
	for {
		select {
		case st.frames <- frame:
			return
		default:
			select {
			case <-st.frames:
			default:
			}
		}
	}
}
