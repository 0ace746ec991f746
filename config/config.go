// Package config provides CLI configuration management for the sealpost
// command-line tool. It supports loading configuration from YAML files,
// environment variables, and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultBackendAddress = "https://registra.internal"
	DefaultAgentAddress   = "127.0.0.1:24080"
	DefaultChunkSize      = 256 * 1024
	DefaultTimeout        = 5 * time.Minute
	DefaultOutputFormat   = OutputFormatText
	DefaultConfigDir      = ".sealpost"
	DefaultConfigFile     = "config.yaml"
)

// EncryptionConfig holds settings for the secure attachment pipeline.
type EncryptionConfig struct {
	// Enabled indicates whether the tenant mandates attachment encryption.
	Enabled bool `yaml:"enabled"`

	// ThresholdLevelID is the security level at or above which attachments
	// must be encrypted. Resolved against the level catalog at session start.
	ThresholdLevelID string `yaml:"threshold_level_id"`

	// ChunkSize is the number of bytes submitted to the local agent per chunk.
	ChunkSize int64 `yaml:"chunk_size"`
}

// CLIConfig holds the complete CLI configuration.
type CLIConfig struct {
	// BackendAddress is the base URL of the Registra backend.
	BackendAddress string `yaml:"backend_address"`

	// AgentAddress is the host:port of the local cryptographic agent.
	AgentAddress string `yaml:"agent_address"`

	// Timeout is the maximum duration for a single backend call.
	Timeout time.Duration `yaml:"timeout"`

	// OutputFormat is the default output format (text, json, yaml).
	OutputFormat OutputFormat `yaml:"output_format"`

	// Debug enables debug logging.
	Debug bool `yaml:"debug"`

	// Encryption configures the secure attachment pipeline.
	Encryption EncryptionConfig `yaml:"encryption"`
}

// DefaultConfig returns a CLIConfig populated with default values.
func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		BackendAddress: DefaultBackendAddress,
		AgentAddress:   DefaultAgentAddress,
		Timeout:        DefaultTimeout,
		OutputFormat:   DefaultOutputFormat,
		Encryption: EncryptionConfig{
			Enabled:   true,
			ChunkSize: DefaultChunkSize,
		},
	}
}

// ConfigPath returns the default config file path (~/.sealpost/config.yaml).
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// LoadConfig loads configuration from the default path, applying environment
// variable overrides. A missing config file is not an error; defaults are used.
func LoadConfig() (*CLIConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFromFile(path)
}

// LoadConfigFromFile loads configuration from the given path, applying
// environment variable overrides.
func LoadConfigFromFile(path string) (*CLIConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies SEALPOST_* environment variables over file values.
func (c *CLIConfig) applyEnvOverrides() {
	if v := os.Getenv("SEALPOST_BACKEND_ADDRESS"); v != "" {
		c.BackendAddress = v
	}
	if v := os.Getenv("SEALPOST_AGENT_ADDRESS"); v != "" {
		c.AgentAddress = v
	}
	if v := os.Getenv("SEALPOST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = d
		}
	}
	if v := os.Getenv("SEALPOST_OUTPUT"); v != "" {
		c.OutputFormat = OutputFormat(v)
	}
	if v := os.Getenv("SEALPOST_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
	if v := os.Getenv("SEALPOST_ENCRYPTION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Encryption.Enabled = b
		}
	}
	if v := os.Getenv("SEALPOST_ENCRYPTION_THRESHOLD"); v != "" {
		c.Encryption.ThresholdLevelID = v
	}
	if v := os.Getenv("SEALPOST_CHUNK_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Encryption.ChunkSize = n
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *CLIConfig) Validate() error {
	if c.BackendAddress == "" {
		return fmt.Errorf("backend_address must not be empty")
	}
	if c.AgentAddress == "" {
		return fmt.Errorf("agent_address must not be empty")
	}
	if c.Encryption.ChunkSize <= 0 {
		return fmt.Errorf("encryption.chunk_size must be positive, got %d", c.Encryption.ChunkSize)
	}
	switch c.OutputFormat {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
	default:
		return fmt.Errorf("unsupported output format %q", c.OutputFormat)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// Save writes the configuration to the given path, creating the directory
// if needed.
func (c *CLIConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// AgentBaseURL returns the HTTP base URL for the local cryptographic agent.
func (c *CLIConfig) AgentBaseURL() string {
	addr := c.AgentAddress
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return addr
}
