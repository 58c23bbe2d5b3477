// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	stream "github.com/halvard/boreas/internal"
)

// Config is the top-level client configuration.
type Config struct {
	Stream    StreamConfig    `yaml:"stream"`
	Chat      ChatConfig      `yaml:"chat"`
	Database  DatabaseConfig  `yaml:"database"`
	Ops       OpsConfig       `yaml:"ops"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StreamConfig holds the long-lived subscription stream settings.
type StreamConfig struct {
	URL          string        `yaml:"url"`
	Reconnect    *bool         `yaml:"reconnect"`
	BaseInterval time.Duration `yaml:"base_interval"` // first backoff delay
	MaxAttempts  int           `yaml:"max_attempts"`
	Multiplier   float64       `yaml:"multiplier"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"` // 0 = no stall watchdog
}

// AutoReconnect reports whether dropped streams are redialed (defaults to true when nil).
func (s StreamConfig) AutoReconnect() bool {
	return s.Reconnect == nil || *s.Reconnect
}

// Policy assembles the reconnect backoff policy from the stream settings.
func (s StreamConfig) Policy() stream.ReconnectPolicy {
	return stream.ReconnectPolicy{
		BaseInterval: s.BaseInterval,
		MaxAttempts:  s.MaxAttempts,
		Multiplier:   s.Multiplier,
	}
}

// ChatConfig holds the request-scoped answer stream settings.
type ChatConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// DatabaseConfig holds SQLite settings for the transcript store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// OpsConfig holds the operational HTTP server settings.
type OpsConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	def := stream.DefaultReconnectPolicy()
	cfg := &Config{
		Stream: StreamConfig{
			BaseInterval: def.BaseInterval,
			MaxAttempts:  def.MaxAttempts,
			Multiplier:   def.Multiplier,
			IdleTimeout:  90 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "boreas.db",
		},
		Ops: OpsConfig{
			Addr:            ":9090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
