package config

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// LoadBrokerConfig loads configuration with priority:
// defaults -> file1 -> file2 -> ... -> env, matching the teacher's
// LoadFromFiles layering. CLI flag overrides are applied by the caller
// afterward via ApplyBrokerFlagOverrides.
func LoadBrokerConfig(paths ...string) (*BrokerConfig, error) {
	cfg := NewDefaultBrokerConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyBrokerEnvOverrides(cfg)

	if err := validateReaperSchedule(cfg.Reaper.Schedule); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrchestratorConfig loads the orchestrator's configuration with the
// same layering as LoadBrokerConfig.
func LoadOrchestratorConfig(paths ...string) (*OrchestratorConfig, error) {
	cfg := NewDefaultOrchestratorConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyOrchestratorEnvOverrides(cfg)

	return cfg, nil
}

// ApplyBrokerFlagOverrides applies CLI flag values, the highest-priority
// layer, over an already-loaded config. Zero values are treated as "not
// set" and left alone.
func ApplyBrokerFlagOverrides(cfg *BrokerConfig, port int, host string) {
	if port != 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
}

// ApplyOrchestratorFlagOverrides applies CLI flag values for the
// orchestrator binary.
func ApplyOrchestratorFlagOverrides(cfg *OrchestratorConfig, port int, host string, brokerURL string) {
	if port != 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if brokerURL != "" {
		cfg.BrokerURL = brokerURL
	}
}

// validateReaperSchedule rejects a malformed cron expression up front
// rather than discovering it the first time the reaper tries to schedule
// a sweep. An empty schedule (the default) means "use Reaper.Interval
// instead" and is always valid.
func validateReaperSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid reaper.schedule %q: %w", expr, err)
	}
	return nil
}
