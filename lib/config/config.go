// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file for [Load].
const EnvironmentVariable = "SNAG_CONFIG"

// Config is the master configuration for Snag binaries.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Collector configures the desktop-side server.
	Collector CollectorConfig `yaml:"collector"`

	// Agent configures the client-side transport.
	Agent AgentConfig `yaml:"agent"`
}

// CollectorConfig configures snag-collector.
type CollectorConfig struct {
	// Listen is the TCP address clients connect to.
	Listen string `yaml:"listen"`

	// HTTPListen is the address of the local inspection API. Empty
	// disables it.
	HTTPListen string `yaml:"http_listen"`

	// InstanceName is the advertised DNS-SD instance name. Defaults to
	// the hostname.
	InstanceName string `yaml:"instance_name"`

	// ServiceType and Domain select the DNS-SD service.
	ServiceType string `yaml:"service_type"`
	Domain      string `yaml:"domain"`

	// Advertise disables DNS-SD registration when false.
	Advertise bool `yaml:"advertise"`

	// AuthPIN, when set, gates every connection until the client
	// presents the same PIN.
	AuthPIN string `yaml:"auth_pin"`

	TLS TLSConfig `yaml:"tls"`

	RequestCapacity      int           `yaml:"request_capacity"`
	LogCapacity          int           `yaml:"log_capacity"`
	AppInfoRetryInterval time.Duration `yaml:"app_info_retry_interval"`
	StreamLogsByDefault  bool          `yaml:"stream_logs_by_default"`
}

// AgentConfig configures snag-agent.
type AgentConfig struct {
	ServiceType string `yaml:"service_type"`
	Domain      string `yaml:"domain"`

	// Endpoints are collector addresses dialed in addition to any
	// discovered ones. With Browse disabled they are the only ones.
	Endpoints []string `yaml:"endpoints"`
	Browse    bool     `yaml:"browse"`

	AuthPIN string    `yaml:"auth_pin"`
	TLS     TLSConfig `yaml:"tls"`

	QueueCapacity   int           `yaml:"queue_capacity"`
	OfflineCapacity int           `yaml:"offline_capacity"`
	MaxInFlight     int           `yaml:"max_in_flight"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`

	// Identity reported to the collector.
	ProjectName string `yaml:"project_name"`
	BundleID    string `yaml:"bundle_id"`
	DeviceID    string `yaml:"device_id"`
	DeviceName  string `yaml:"device_name"`

	// StreamLogs starts log forwarding before the collector asks.
	StreamLogs bool `yaml:"stream_logs"`
}

// TLSConfig configures transport encryption. On the collector CertFile
// and KeyFile select the certificate; with both empty a self-signed
// certificate is generated at startup. On the agent Fingerprint pins
// the collector's certificate.
type TLSConfig struct {
	Enabled     bool   `yaml:"enabled"`
	CertFile    string `yaml:"cert_file"`
	KeyFile     string `yaml:"key_file"`
	Fingerprint string `yaml:"fingerprint"`
}

// Default returns a Config with the standard ports and capacities.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Collector: CollectorConfig{
			Listen:               ":43435",
			HTTPListen:           "127.0.0.1:43436",
			ServiceType:          "_snag._tcp",
			Domain:               "local.",
			Advertise:            true,
			RequestCapacity:      2000,
			LogCapacity:          1500,
			AppInfoRetryInterval: 3 * time.Second,
		},
		Agent: AgentConfig{
			ServiceType:     "_snag._tcp",
			Domain:          "local.",
			Browse:          true,
			QueueCapacity:   500,
			OfflineCapacity: 50,
			MaxInFlight:     500,
			ReconnectDelay:  time.Second,
			ConnectTimeout:  1500 * time.Millisecond,
		},
	}
}

// Load reads the file named by SNAG_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your snag.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile reads path over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// LoadOrDefault loads path when set, then SNAG_CONFIG when set, and
// otherwise returns the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	return Default(), nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Collector.TLS.CertFile = expandVars(c.Collector.TLS.CertFile, vars)
	c.Collector.TLS.KeyFile = expandVars(c.Collector.TLS.KeyFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	if c.Collector.Listen == "" {
		errs = append(errs, errors.New("collector.listen is required"))
	}
	if !strings.HasPrefix(c.Collector.ServiceType, "_") || !strings.HasPrefix(c.Agent.ServiceType, "_") {
		errs = append(errs, errors.New("service_type must look like _name._tcp"))
	}
	if (c.Collector.TLS.CertFile == "") != (c.Collector.TLS.KeyFile == "") {
		errs = append(errs, errors.New("collector.tls.cert_file and key_file must be set together"))
	}
	if c.Collector.RequestCapacity <= 0 || c.Collector.LogCapacity <= 0 {
		errs = append(errs, errors.New("collector capacities must be positive"))
	}

	if c.Agent.QueueCapacity <= 0 || c.Agent.OfflineCapacity <= 0 || c.Agent.MaxInFlight <= 0 {
		errs = append(errs, errors.New("agent queue, offline and in-flight capacities must be positive"))
	}
	if c.Agent.ReconnectDelay <= 0 || c.Agent.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("agent.reconnect_delay and agent.connect_timeout must be positive"))
	}
	if !c.Agent.Browse && len(c.Agent.Endpoints) == 0 {
		errs = append(errs, errors.New("agent needs agent.endpoints when agent.browse is false"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
