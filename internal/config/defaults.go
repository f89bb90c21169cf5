package config

import "time"

// Default returns a Config with sensible defaults.
func Default() *Config {
	cfg := &Config{
		Transport: TransportConfig{
			Kind:    TransportWebSocket,
			Address: "127.0.0.1:8443",
			Timeout: Duration(10 * time.Second),
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
	cfg.Processor.Concurrency.Enabled = true
	cfg.Processor.Concurrency.ThreadCount = 4
	cfg.Processor.FrameDecomposition.Enabled = true
	cfg.Processor.FrameDecomposition.MaxBinSize = 4 * 1024 * 1024
	cfg.Processor.BackPressure.Enabled = true
	cfg.Processor.BackPressure.QueueCapacity = 64
	cfg.Processor.PollInterval = Duration(15 * time.Millisecond)
	cfg.Processor.ShutdownTimeout = Duration(30 * time.Second)
	return cfg
}
