// Package worker starts and stops the automation worker backing a session.
// The worker itself is an external process; the bridge only needs it
// launched with the right session wiring.
package worker

import (
	"context"
	"time"
)

// StartSpec describes the worker to launch for a session.
type StartSpec struct {
	SessionID        string
	Type             string // "browser", "headful", or "os"
	ScreenResolution string // WxH or WxHxD, e.g. "1920x1000x16"
	JobTimeout       time.Duration
	IdleTimeout      time.Duration
}

// Starter launches and stops workers. Stop is best-effort: workers also exit
// on their own after receiving a shutdown command or hitting idle timeout.
type Starter interface {
	StartWorker(ctx context.Context, spec StartSpec) error
	StopWorker(ctx context.Context, sessionID string) error
}

// NoopStarter is used when workers are managed externally (a job scheduler
// owns the containers) and in tests.
type NoopStarter struct{}

func (NoopStarter) StartWorker(ctx context.Context, spec StartSpec) error { return nil }
func (NoopStarter) StopWorker(ctx context.Context, sessionID string) error {
	return nil
}
