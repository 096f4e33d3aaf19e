package transport

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// Naming is kept as pure functions so the session-id-to-resource mapping is
// testable without a broker.

// CommandSubject returns the subject a session's commands are published on.
func CommandSubject(sessionID string) string {
	return "commands-" + sessionID
}

// ScreenshotSubject returns the subject a session's results are published on.
func ScreenshotSubject(sessionID string) string {
	return "screenshots-" + sessionID
}

// CommandStreamName returns the durable stream name backing a session's
// command subject.
func CommandStreamName(sessionID string) string {
	return "SW_CMD_" + sanitizeStreamToken(sessionID)
}

// ScreenshotStreamName returns the durable stream name backing a session's
// result subject.
func ScreenshotStreamName(sessionID string) string {
	return "SW_SHOT_" + sanitizeStreamToken(sessionID)
}

// ReaderName returns a unique name for a disposable per-process reader.
// Readers are cheap; the streams are the durable per-session resource.
func ReaderName() string {
	return "reader-" + ulid.Make().String()
}

// sanitizeStreamToken maps a session id onto the character set JetStream
// allows in stream and consumer names.
func sanitizeStreamToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
