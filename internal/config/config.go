package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ServerConfig is the HTTP listener configuration shared by both binaries.
type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// LoggingConfig mirrors the teacher's logging section.
type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default: "15:04:05.000"
}

// BadgerConfig is the durable task/consumer store location.
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// StorageConfig wraps the persistence backend configuration.
type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// DeliveryConfig tunes the broker's delivery loop.
type DeliveryConfig struct {
	PollInterval      string `toml:"poll_interval"`       // default: "500ms"
	Concurrency       int    `toml:"concurrency"`         // concurrent delivery workers, default 4
	AttemptCeiling    int    `toml:"attempt_ceiling"`      // default 10, §4.1
	BaseBackoff       string `toml:"base_backoff"`        // default "1s"
	MaxBackoff        string `toml:"max_backoff"`         // default "5m"
	RequestTimeout    string `toml:"request_timeout"`     // HTTP POST timeout to consumers, default "10s"
	ProcessingTimeout string `toml:"processing_timeout"`  // processing_deadline default, default "1h"
}

// HealthProbeConfig tunes the consumer readiness prober.
type HealthProbeConfig struct {
	Interval           string `toml:"interval"`            // default "15s"
	Timeout            string `toml:"timeout"`             // default "5s"
	FailureThreshold   int    `toml:"failure_threshold"`   // default 3
}

// ReaperConfig tunes the worker-silent-timeout sweep.
type ReaperConfig struct {
	Interval string `toml:"interval"` // default "1m"
	// Schedule is an optional cron expression gating the reaper sweep
	// cadence instead of a fixed interval; empty disables cron gating.
	Schedule string `toml:"schedule"`
}

// BrokerConfig is the root configuration for cmd/broker.
type BrokerConfig struct {
	Server   ServerConfig      `toml:"server"`
	Storage  StorageConfig     `toml:"storage"`
	Logging  LoggingConfig     `toml:"logging"`
	Delivery DeliveryConfig    `toml:"delivery"`
	Health   HealthProbeConfig `toml:"health"`
	Reaper   ReaperConfig      `toml:"reaper"`
	// Consumers seeds the registry on startup, e.g. for local deployments
	// where workers are known in advance (see DefaultConsumers).
	Consumers []ConsumerSeed `toml:"consumers"`
}

// ConsumerSeed is a statically-configured consumer registered at startup,
// in addition to whatever registers dynamically over PUT /consumer.
type ConsumerSeed struct {
	Topic       string `toml:"topic"`
	EndpointURL string `toml:"endpoint_url"`
	HealthURL   string `toml:"health_url"`
}

// OrchestratorConfig is the root configuration for cmd/orchestrator.
type OrchestratorConfig struct {
	Server             ServerConfig  `toml:"server"`
	Logging            LoggingConfig `toml:"logging"`
	BrokerURL          string        `toml:"broker_url"`
	FanOutConcurrency  int           `toml:"fan_out_concurrency"`  // default 8
	PollInterval       string        `toml:"poll_interval"`        // default "500ms"
	MaxPollInterval    string        `toml:"max_poll_interval"`    // default "5s", jittered backoff ceiling
	DefaultStepTimeout string        `toml:"default_step_timeout"` // default "30m"
	DefaultRetryCap    int           `toml:"default_retry_cap"`    // default 3
}

// NewDefaultBrokerConfig returns the broker's baked-in defaults, overlaid
// by config files, env vars, then CLI flags, per the teacher's
// default -> file -> env -> CLI layering.
func NewDefaultBrokerConfig() *BrokerConfig {
	return &BrokerConfig{
		Server: ServerConfig{Port: 8081, Host: "localhost"},
		Storage: StorageConfig{
			Badger: BadgerConfig{Path: "./data/broker"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Delivery: DeliveryConfig{
			PollInterval:      "500ms",
			Concurrency:       4,
			AttemptCeiling:    10,
			BaseBackoff:       "1s",
			MaxBackoff:        "5m",
			RequestTimeout:    "10s",
			ProcessingTimeout: "1h",
		},
		Health: HealthProbeConfig{
			Interval:         "15s",
			Timeout:          "5s",
			FailureThreshold: 3,
		},
		Reaper: ReaperConfig{
			Interval: "1m",
		},
		Consumers: DefaultConsumers(),
	}
}

// NewDefaultOrchestratorConfig returns the orchestrator's baked-in defaults.
func NewDefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		Server:             ServerConfig{Port: 8082, Host: "localhost"},
		Logging:            LoggingConfig{Level: "info", Format: "text", Output: []string{"stdout", "file"}, TimeFormat: "15:04:05.000"},
		BrokerURL:          "http://localhost:8081",
		FanOutConcurrency:  8,
		PollInterval:       "500ms",
		MaxPollInterval:    "5s",
		DefaultStepTimeout: "30m",
		DefaultRetryCap:    3,
	}
}

// DefaultConsumers seeds the registry with the routing table named in §6.
// The orchestrator itself is registered for index-document; the other
// rows assume local worker processes on ports 9001-9005. They are
// overridable/removable via the
// runtime consumer registry API once the broker is up.
func DefaultConsumers() []ConsumerSeed {
	return []ConsumerSeed{
		{Topic: "index-document", EndpointURL: "http://localhost:8082/"},
		{Topic: "parse-document", EndpointURL: "http://localhost:9001/parse"},
		{Topic: "redact", EndpointURL: "http://localhost:9002/redact"},
		{Topic: "chunk", EndpointURL: "http://localhost:9003/chunk"},
		{Topic: "embed", EndpointURL: "http://localhost:9004/embed-chunk"},
		{Topic: "index", EndpointURL: "http://localhost:9005/index-chunk"},
	}
}

// applyBrokerEnvOverrides applies environment variable overrides, highest
// priority below CLI flags, matching the teacher's QUAERO_* convention.
func applyBrokerEnvOverrides(cfg *BrokerConfig) {
	if port := os.Getenv("BROKER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("BROKER_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if path := os.Getenv("BROKER_BADGER_PATH"); path != "" {
		cfg.Storage.Badger.Path = path
	}
	if level := os.Getenv("BROKER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if ceiling := os.Getenv("BROKER_DELIVERY_ATTEMPT_CEILING"); ceiling != "" {
		if c, err := strconv.Atoi(ceiling); err == nil {
			cfg.Delivery.AttemptCeiling = c
		}
	}
	if concurrency := os.Getenv("BROKER_DELIVERY_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			cfg.Delivery.Concurrency = c
		}
	}
	if output := os.Getenv("BROKER_LOG_OUTPUT"); output != "" {
		if outputs := splitCSV(output); len(outputs) > 0 {
			cfg.Logging.Output = outputs
		}
	}
}

// applyOrchestratorEnvOverrides applies environment variable overrides for
// the orchestrator binary.
func applyOrchestratorEnvOverrides(cfg *OrchestratorConfig) {
	if port := os.Getenv("ORCHESTRATOR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("ORCHESTRATOR_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if brokerURL := os.Getenv("ORCHESTRATOR_BROKER_URL"); brokerURL != "" {
		cfg.BrokerURL = brokerURL
	}
	if level := os.Getenv("ORCHESTRATOR_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if fanOut := os.Getenv("ORCHESTRATOR_FAN_OUT_CONCURRENCY"); fanOut != "" {
		if n, err := strconv.Atoi(fanOut); err == nil {
			cfg.FanOutConcurrency = n
		}
	}
	if cap := os.Getenv("ORCHESTRATOR_DEFAULT_RETRY_CAP"); cap != "" {
		if n, err := strconv.Atoi(cap); err == nil {
			cfg.DefaultRetryCap = n
		}
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return data, nil
}
