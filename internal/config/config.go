// Package config loads and validates the composition root's configuration:
// transport dialing, processor tuning, and logging. Provider registration
// and the ingestion service's own wire/protobuf format are the caller's or
// the service's concern, not something this package configures.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete tsingest client configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Processor ProcessorConfig `yaml:"processor"`
	Logging   LogConfig       `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// TransportKind selects which ServiceClient implementation dials the
// ingestion service.
type TransportKind string

const (
	TransportWebSocket TransportKind = "websocket"
	TransportQUIC      TransportKind = "quic"
)

type TransportConfig struct {
	Kind    TransportKind `yaml:"kind"`
	Address string        `yaml:"address"`
	TLS     TLSConfig     `yaml:"tls"`
	Timeout Duration      `yaml:"timeout"`
}

type TLSConfig struct {
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	AutocertCacheDir   string `yaml:"autocert_cache_dir"`
}

// ProcessorConfig mirrors processor.Config, in YAML-friendly form.
type ProcessorConfig struct {
	Concurrency struct {
		Enabled     bool `yaml:"enabled"`
		ThreadCount int  `yaml:"thread_count"`
	} `yaml:"concurrency"`

	FrameDecomposition struct {
		Enabled    bool  `yaml:"enabled"`
		MaxBinSize int64 `yaml:"max_bin_size"`
	} `yaml:"frame_decomposition"`

	BackPressure struct {
		Enabled       bool `yaml:"enabled"`
		QueueCapacity int  `yaml:"queue_capacity"`
	} `yaml:"back_pressure"`

	PollInterval    Duration `yaml:"poll_interval"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Duration is a time.Duration that supports YAML string unmarshaling.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads config from a YAML file, applying defaults for missing values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Transport.Address == "" {
		return fmt.Errorf("transport.address is required")
	}
	switch c.Transport.Kind {
	case TransportWebSocket, TransportQUIC:
	default:
		return fmt.Errorf("transport.kind must be %q or %q, got %q", TransportWebSocket, TransportQUIC, c.Transport.Kind)
	}

	if c.Processor.Concurrency.Enabled && c.Processor.Concurrency.ThreadCount < 1 {
		return fmt.Errorf("processor.concurrency.thread_count must be >= 1 when enabled, got %d", c.Processor.Concurrency.ThreadCount)
	}
	if c.Processor.FrameDecomposition.Enabled && c.Processor.FrameDecomposition.MaxBinSize < 1 {
		return fmt.Errorf("processor.frame_decomposition.max_bin_size must be >= 1 when enabled, got %d", c.Processor.FrameDecomposition.MaxBinSize)
	}
	if c.Processor.BackPressure.Enabled && c.Processor.BackPressure.QueueCapacity < 1 {
		return fmt.Errorf("processor.back_pressure.queue_capacity must be >= 1 when enabled, got %d", c.Processor.BackPressure.QueueCapacity)
	}

	return nil
}
