package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBrokerConfigDefaults(t *testing.T) {
	cfg, err := LoadBrokerConfig()
	if err != nil {
		t.Fatalf("LoadBrokerConfig() error = %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("expected default port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Delivery.AttemptCeiling != 10 {
		t.Errorf("expected default attempt ceiling 10, got %d", cfg.Delivery.AttemptCeiling)
	}
	if len(cfg.Consumers) == 0 {
		t.Error("expected default consumer seeds to be populated")
	}
}

func TestLoadBrokerConfigFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.toml")
	content := []byte("[server]\nport = 9999\n\n[delivery]\nattempt_ceiling = 5\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadBrokerConfig(path)
	if err != nil {
		t.Fatalf("LoadBrokerConfig() error = %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected file override port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Delivery.AttemptCeiling != 5 {
		t.Errorf("expected file override attempt_ceiling 5, got %d", cfg.Delivery.AttemptCeiling)
	}
	// Untouched default still applies
	if cfg.Server.Host != "localhost" {
		t.Errorf("expected untouched default host, got %q", cfg.Server.Host)
	}
}

func TestLoadBrokerConfigRejectsBadReaperSchedule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.toml")
	content := []byte("[reaper]\nschedule = \"not a cron expression\"\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	if _, err := LoadBrokerConfig(path); err == nil {
		t.Fatal("expected error for malformed reaper schedule")
	}
}

func TestApplyBrokerFlagOverridesHighestPriority(t *testing.T) {
	cfg := NewDefaultBrokerConfig()
	ApplyBrokerFlagOverrides(cfg, 7000, "0.0.0.0")
	if cfg.Server.Port != 7000 || cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("flag overrides not applied: %+v", cfg.Server)
	}
	// Zero values are "unset", must not clobber existing config
	ApplyBrokerFlagOverrides(cfg, 0, "")
	if cfg.Server.Port != 7000 || cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("zero-value flags must not override existing config: %+v", cfg.Server)
	}
}
