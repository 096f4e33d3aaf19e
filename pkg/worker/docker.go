package worker

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/sessionwire/sessionwire/pkg/logging"
)

// runFunc executes a command; swapped out in tests.
type runFunc func(ctx context.Context, name string, args ...string) error

// DockerStarter launches the worker image locally with the docker CLI. The
// container is named after the session so StopWorker can address it.
type DockerStarter struct {
	image   string
	natsURL string
	log     *logging.Logger
	run     runFunc
}

// NewDockerStarter creates a starter for local development deployments.
func NewDockerStarter(image, natsURL string, log *logging.Logger) *DockerStarter {
	if log == nil {
		log = logging.Discard()
	}
	return &DockerStarter{
		image:   image,
		natsURL: natsURL,
		log:     log,
		run: func(ctx context.Context, name string, args ...string) error {
			out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s: %w: %s", name, err, out)
			}
			return nil
		},
	}
}

func (d *DockerStarter) StartWorker(ctx context.Context, spec StartSpec) error {
	args := dockerRunArgs(d.image, d.natsURL, spec)
	d.log.WithSession(spec.SessionID).Info("starting local worker container", "image", d.image)
	if err := d.run(ctx, "docker", args...); err != nil {
		return fmt.Errorf("start worker container: %w", err)
	}
	return nil
}

func (d *DockerStarter) StopWorker(ctx context.Context, sessionID string) error {
	if err := d.run(ctx, "docker", "stop", sessionID); err != nil {
		return fmt.Errorf("stop worker container: %w", err)
	}
	return nil
}

// dockerRunArgs builds the docker run invocation for a worker. Pure so the
// flag wiring is testable without docker.
func dockerRunArgs(image, natsURL string, spec StartSpec) []string {
	args := []string{"run", "--rm", "-d", "--name", spec.SessionID}
	for _, env := range workerEnv(natsURL, spec) {
		args = append(args, "-e", env[0]+"="+env[1])
	}
	args = append(args, image)
	return args
}

// workerEnv lists the environment the worker needs to find its session
// channels and configure its display.
func workerEnv(natsURL string, spec StartSpec) [][2]string {
	return [][2]string{
		{"SESSION_ID", spec.SessionID},
		{"NATS_URL", natsURL},
		{"HEADFULCHROME", strconv.FormatBool(spec.Type == "headful")},
		{"FULLOS", strconv.FormatBool(spec.Type == "os")},
		{"SCREEN_RESOLUTION", spec.ScreenResolution},
		{"IDLE_TIMEOUT", spec.IdleTimeout.String()},
	}
}
