package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommand(t *testing.T) {
	data := json.RawMessage(`{"name":"click_at","args":{"x":10,"y":20}}`)

	a := NewCommand(data)
	b := NewCommand(data)

	assert.Equal(t, TypeCommand, a.Type)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID, "every command gets a fresh id")
	assert.JSONEq(t, string(data), string(a.Data))
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env := NewCommand(json.RawMessage(`{"name":"navigate","args":{"url":"https://example.com"}}`))

	raw, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, TypeCommand, decoded.Type)
	assert.JSONEq(t, string(env.Data), string(decoded.Data))
}

func TestEnvelope_EncodeRejectsInvalid(t *testing.T) {
	_, err := (&Envelope{Type: TypeCommand}).Encode()
	assert.Error(t, err, "missing id")

	_, err = (&Envelope{ID: "x", Type: MessageType("bogus")}).Encode()
	assert.Error(t, err, "invalid type")
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"missing id", `{"type":"command"}`},
		{"bad type", `{"id":"a","type":"result"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestNewShutdown(t *testing.T) {
	env := NewShutdown()
	assert.Equal(t, TypeShutdown, env.Type)
	assert.NotEmpty(t, env.ID)

	raw, err := env.Encode()
	require.NoError(t, err)
	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeShutdown, decoded.Type)
}

func TestResult_RoundTrip(t *testing.T) {
	res := &Result{ID: "m1", Screenshot: "aGVsbG8=", URL: "https://example.com"}

	raw, err := res.Encode()
	require.NoError(t, err)

	decoded, err := DecodeResult(raw)
	require.NoError(t, err)
	assert.Equal(t, res, decoded)
	assert.False(t, decoded.Failed())
}

func TestResult_Failed(t *testing.T) {
	res := &Result{ID: "m1", Error: "element not found"}
	assert.True(t, res.Failed())
}

func TestDecodeResult_MissingID(t *testing.T) {
	_, err := DecodeResult([]byte(`{"screenshot":"abc"}`))
	assert.Error(t, err)
}
