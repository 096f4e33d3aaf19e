package api

import (
	"fmt"
	"regexp"
	"time"

	"github.com/sessionwire/sessionwire/pkg/config"
	"github.com/sessionwire/sessionwire/pkg/session"
)

// Session types a worker can run as.
const (
	SessionTypeBrowser = "browser"
	SessionTypeHeadful = "headful"
	SessionTypeOS      = "os"
)

// resolutionPattern matches WxH or WxHxD, e.g. "1920x1000" or "1280x1024x8".
var resolutionPattern = regexp.MustCompile(`^\d{2,5}x\d{2,5}(x\d{1,2})?$`)

// CreateSessionRequest is the body of POST /sessions. Zero values take the
// configured defaults.
type CreateSessionRequest struct {
	Type               string `json:"type,omitempty"`
	ScreenResolution   string `json:"screen_resolution,omitempty"`
	TimeoutSeconds     int    `json:"timeout_seconds,omitempty"`
	IdleTimeoutSeconds int    `json:"idle_timeout_seconds,omitempty"`
}

// toOptions validates the request and fills defaults from the worker config.
func (req *CreateSessionRequest) toOptions(defaults config.WorkerConfig) (session.Options, error) {
	opts := session.Options{
		Type:             req.Type,
		ScreenResolution: req.ScreenResolution,
		JobTimeout:       time.Duration(req.TimeoutSeconds) * time.Second,
		IdleTimeout:      time.Duration(req.IdleTimeoutSeconds) * time.Second,
	}
	if opts.Type == "" {
		opts.Type = SessionTypeBrowser
	}
	switch opts.Type {
	case SessionTypeBrowser, SessionTypeHeadful, SessionTypeOS:
	default:
		return session.Options{}, fmt.Errorf("unknown session type %q", opts.Type)
	}
	if opts.ScreenResolution == "" {
		opts.ScreenResolution = "1920x1000x16"
	}
	if !resolutionPattern.MatchString(opts.ScreenResolution) {
		return session.Options{}, fmt.Errorf("invalid screen_resolution %q, expected WxH or WxHxD", opts.ScreenResolution)
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaults.JobTimeout.Std()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaults.IdleTimeout.Std()
	}
	return opts, nil
}

// CreateSessionResponse is the body returned by POST /sessions.
type CreateSessionResponse struct {
	ID string `json:"id"`
}

// DeleteSessionResponse is the body returned by DELETE /sessions/{id}.
type DeleteSessionResponse struct {
	ID string `json:"id"`
}

// CreateCommandResponse is the body returned by POST /sessions/{id}/commands.
type CreateCommandResponse struct {
	ID         string `json:"id"`
	Screenshot string `json:"screenshot"`
	URL        string `json:"url"`
}
