// Command sessionwire runs the session bridge: a REST frontend that creates
// browser automation sessions, relays commands to their workers over a
// durable message transport, and streams screenshots back to clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sessionwire/sessionwire/pkg/api"
	"github.com/sessionwire/sessionwire/pkg/bridge"
	"github.com/sessionwire/sessionwire/pkg/config"
	"github.com/sessionwire/sessionwire/pkg/logging"
	"github.com/sessionwire/sessionwire/pkg/session"
	"github.com/sessionwire/sessionwire/pkg/telemetry"
	"github.com/sessionwire/sessionwire/pkg/transport"
	"github.com/sessionwire/sessionwire/pkg/worker"
)

var version = "dev"

const shutdownGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sessionwire:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		bind       = flag.String("bind", "", "bind address override, e.g. 0.0.0.0:8000")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *bind != "" {
		cfg.Server.BindAddress = *bind
	}

	log := logging.New("sessionwire", logging.ParseLevel(cfg.Log.Level))
	log.Info("starting", "version", version, "transport", cfg.Transport.Kind)

	tp, err := telemetry.NewTracerProvider("sessionwire", version)
	if err != nil {
		return err
	}

	tr, err := buildTransport(cfg, log)
	if err != nil {
		return err
	}

	br := bridge.New(tr, log)
	st := bridge.NewStreamer(tr, log)
	reg := session.NewRegistry(tr, buildStarter(cfg, log), br, log)
	srv := api.NewServer(cfg.Server, cfg.Worker, reg, br, st, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		// Stop accepting requests first, then release bridge readers, then
		// the transport connection, then flush traces.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown", "error", err)
		}
		if err := br.Shutdown(shutdownCtx); err != nil {
			log.Error("bridge shutdown", "error", err)
		}
		if err := tr.Shutdown(shutdownCtx); err != nil {
			log.Error("transport shutdown", "error", err)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error("tracer shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func buildTransport(cfg config.Config, log *logging.Logger) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportMemory:
		return transport.NewMemoryTransport(log), nil
	default:
		return transport.NewNATSTransport(transport.NATSConfig{
			URL:            cfg.Transport.NATS.URL,
			Name:           cfg.Transport.NATS.Name,
			PublishTimeout: cfg.Transport.NATS.PublishTimeout.Std(),
		}, log)
	}
}

func buildStarter(cfg config.Config, log *logging.Logger) worker.Starter {
	if cfg.Worker.Runtime == config.RuntimeDocker {
		return worker.NewDockerStarter(cfg.Worker.Image, cfg.Transport.NATS.URL, log)
	}
	return worker.NoopStarter{}
}
