// Package config loads sessionwire configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Transport kinds.
const (
	TransportNATS   = "nats"
	TransportMemory = "memory"
)

// Worker runtimes.
const (
	RuntimeDocker = "docker"
	RuntimeNone   = "none"
)

// Config is the complete sessionwire configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Worker    WorkerConfig    `yaml:"worker"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the REST frontend.
type ServerConfig struct {
	BindAddress string `yaml:"bind_address"`
	// APIKey, when set, is required in the X-API-Key header of every request.
	APIKey string `yaml:"api_key"`
	// CommandTimeout bounds how long a command waits for its result.
	CommandTimeout Duration `yaml:"command_timeout"`
}

// TransportConfig selects and configures the message transport.
type TransportConfig struct {
	Kind string     `yaml:"kind"` // "nats" or "memory"
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig configures the durable transport.
type NATSConfig struct {
	URL            string   `yaml:"url"`
	Name           string   `yaml:"name"`
	PublishTimeout Duration `yaml:"publish_timeout"`
}

// WorkerConfig configures how session workers are launched.
type WorkerConfig struct {
	Runtime string `yaml:"runtime"` // "docker" or "none" (externally managed)
	Image   string `yaml:"image"`
	// Defaults applied when a session request omits its own timeouts.
	JobTimeout  Duration `yaml:"job_timeout"`
	IdleTimeout Duration `yaml:"idle_timeout"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file or env overrides are
// present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BindAddress:    "0.0.0.0:8000",
			CommandTimeout: Duration(30 * time.Second),
		},
		Transport: TransportConfig{
			Kind: TransportNATS,
			NATS: NATSConfig{
				URL:            "nats://localhost:4222",
				Name:           "sessionwire",
				PublishTimeout: Duration(10 * time.Second),
			},
		},
		Worker: WorkerConfig{
			Runtime:     RuntimeDocker,
			Image:       "puppeteer-worker",
			JobTimeout:  Duration(24 * time.Hour),
			IdleTimeout: Duration(time.Hour),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SESSIONWIRE_BIND"); v != "" {
		c.Server.BindAddress = v
	}
	if v := os.Getenv("SESSIONWIRE_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("SESSIONWIRE_TRANSPORT"); v != "" {
		c.Transport.Kind = v
	}
	if v := os.Getenv("SESSIONWIRE_NATS_URL"); v != "" {
		c.Transport.NATS.URL = v
	}
	if v := os.Getenv("SESSIONWIRE_WORKER_IMAGE"); v != "" {
		c.Worker.Image = v
	}
	if v := os.Getenv("SESSIONWIRE_WORKER_RUNTIME"); v != "" {
		c.Worker.Runtime = v
	}
	if v := os.Getenv("SESSIONWIRE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SESSIONWIRE_COMMAND_TIMEOUT"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SESSIONWIRE_COMMAND_TIMEOUT: %w", err)
		}
		c.Server.CommandTimeout = Duration(parsed)
	}
	return nil
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.Server.BindAddress == "" {
		return fmt.Errorf("server.bind_address is required")
	}
	if c.Server.CommandTimeout <= 0 {
		return fmt.Errorf("server.command_timeout must be positive")
	}
	switch c.Transport.Kind {
	case TransportNATS:
		if c.Transport.NATS.URL == "" {
			return fmt.Errorf("transport.nats.url is required for the nats transport")
		}
	case TransportMemory:
	default:
		return fmt.Errorf("transport.kind must be %q or %q, got %q", TransportNATS, TransportMemory, c.Transport.Kind)
	}
	switch c.Worker.Runtime {
	case RuntimeDocker:
		if c.Worker.Image == "" {
			return fmt.Errorf("worker.image is required for the docker runtime")
		}
	case RuntimeNone:
	default:
		return fmt.Errorf("worker.runtime must be %q or %q, got %q", RuntimeDocker, RuntimeNone, c.Worker.Runtime)
	}
	return nil
}
