// Package wire defines the envelopes exchanged between the API frontend and
// session workers over the transport. The format is deliberately small: a
// command envelope going to the worker and a result coming back, correlated
// by a shared identifier.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// HeaderMessageID is the transport-level attribute carrying the envelope ID,
// duplicated outside the payload for broker-side tracing.
const HeaderMessageID = "Message-Id"

// MessageType identifies the kind of envelope sent to a worker.
type MessageType string

const (
	// TypeCommand carries a UI action for the worker to execute.
	TypeCommand MessageType = "command"

	// TypeShutdown asks the worker to exit cleanly. Fire-and-forget; no
	// result is expected.
	TypeShutdown MessageType = "shutdown"
)

// Envelope is the command message published on a session's command channel.
type Envelope struct {
	ID   string          `json:"id"`
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewCommand wraps an opaque command payload in an envelope with a fresh ID.
func NewCommand(data json.RawMessage) *Envelope {
	return &Envelope{
		ID:   uuid.NewString(),
		Type: TypeCommand,
		Data: data,
	}
}

// NewShutdown builds a shutdown envelope for a worker.
func NewShutdown() *Envelope {
	return &Envelope{
		ID:   uuid.NewString(),
		Type: TypeShutdown,
	}
}

// Encode serializes the envelope for publishing.
func (e *Envelope) Encode() ([]byte, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("encode envelope: missing id")
	}
	if e.Type != TypeCommand && e.Type != TypeShutdown {
		return nil, fmt.Errorf("encode envelope: invalid type %q", e.Type)
	}
	return json.Marshal(e)
}

// DecodeEnvelope parses and validates an envelope received from the transport.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.ID == "" {
		return nil, fmt.Errorf("decode envelope: missing id")
	}
	if e.Type != TypeCommand && e.Type != TypeShutdown {
		return nil, fmt.Errorf("decode envelope: invalid type %q", e.Type)
	}
	return &e, nil
}

// Result is the worker's reply to a command, published on the session's
// result channel. Exactly one of Screenshot/URL or Error is populated.
type Result struct {
	ID         string `json:"id"`
	Screenshot string `json:"screenshot,omitempty"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Failed reports whether the worker signaled an error for this command.
func (r *Result) Failed() bool {
	return r.Error != ""
}

// Encode serializes the result for publishing. Used by workers and tests.
func (r *Result) Encode() ([]byte, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("encode result: missing id")
	}
	return json.Marshal(r)
}

// DecodeResult parses and validates a result received from the transport.
func DecodeResult(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("decode result: missing id")
	}
	return &r, nil
}
