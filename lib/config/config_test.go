// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snag.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Collector.Listen != ":43435" {
		t.Errorf("expected listen=:43435, got %s", cfg.Collector.Listen)
	}
	if cfg.Agent.OfflineCapacity != 50 || cfg.Agent.MaxInFlight != 500 || cfg.Agent.QueueCapacity != 500 {
		t.Errorf("unexpected agent capacities: %+v", cfg.Agent)
	}
	if cfg.Agent.ConnectTimeout != 1500*time.Millisecond {
		t.Errorf("expected connect_timeout=1.5s, got %s", cfg.Agent.ConnectTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_RequiresSnagConfig(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SNAG_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "SNAG_CONFIG environment variable not set") {
		t.Errorf("unexpected error message %q", err.Error())
	}
}

func TestLoad_WithSnagConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
collector:
  listen: ":9000"
  auth_pin: "1234"
  request_capacity: 10
agent:
  endpoints: ["10.0.0.2:9000"]
  reconnect_delay: 250ms
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Collector.Listen != ":9000" || cfg.Collector.AuthPIN != "1234" {
		t.Errorf("collector = %+v", cfg.Collector)
	}
	if cfg.Collector.RequestCapacity != 10 {
		t.Errorf("request_capacity = %d", cfg.Collector.RequestCapacity)
	}
	// Fields missing from the file keep their defaults.
	if cfg.Collector.LogCapacity != 1500 || !cfg.Collector.Advertise {
		t.Errorf("defaults lost: %+v", cfg.Collector)
	}
	if cfg.Agent.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("reconnect_delay = %s", cfg.Agent.ReconnectDelay)
	}
	if len(cfg.Agent.Endpoints) != 1 || cfg.Agent.Endpoints[0] != "10.0.0.2:9000" {
		t.Errorf("endpoints = %v", cfg.Agent.Endpoints)
	}
	level, err := cfg.Level()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("Level() = %v, %v", level, err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Collector.Listen != ":43435" {
		t.Errorf("expected defaults, got %+v", cfg.Collector)
	}

	path := writeConfig(t, "collector:\n  listen: \":1\"\n")
	cfg, err = LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault(path): %v", err)
	}
	if cfg.Collector.Listen != ":1" {
		t.Errorf("listen = %s", cfg.Collector.Listen)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadFile(writeConfig(t, "collector: [not, a, map]")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("SNAG_CERTS", "")
	path := writeConfig(t, `
collector:
  tls:
    enabled: true
    cert_file: ${HOME}/.snag/cert.pem
    key_file: ${SNAG_CERTS:-/etc/snag}/key.pem
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Collector.TLS.CertFile != "/home/tester/.snag/cert.pem" {
		t.Errorf("cert_file = %s", cfg.Collector.TLS.CertFile)
	}
	if cfg.Collector.TLS.KeyFile != "/etc/snag/key.pem" {
		t.Errorf("key_file = %s", cfg.Collector.TLS.KeyFile)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"no listen", func(c *Config) { c.Collector.Listen = "" }, "collector.listen"},
		{"half tls", func(c *Config) { c.Collector.TLS.CertFile = "/c.pem" }, "set together"},
		{"zero offline", func(c *Config) { c.Agent.OfflineCapacity = 0 }, "capacities must be positive"},
		{"no endpoints", func(c *Config) { c.Agent.Browse = false }, "agent.endpoints"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, test.want)
			}
		})
	}
}
