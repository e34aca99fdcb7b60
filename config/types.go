package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Config is the top-level codemie.yml document.
type Config struct {
	Version string     `yaml:"version" json:"version"`
	Sync    SyncConfig `yaml:"sync" json:"sync"`

	// Extensions holds tool-specific configuration sections that are not
	// part of the core schema (e.g. "logging"). Decoded on demand with
	// UnmarshalExtension.
	Extensions map[string]interface{} `yaml:",inline" json:"-"`
}

// SyncConfig configures the session synchronization engine.
type SyncConfig struct {
	// APIBaseURL is the root URL of the CodeMie ingestion API.
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// IntervalSeconds is the background sync period.
	IntervalSeconds int `yaml:"interval_seconds" json:"interval_seconds"`

	// RequestTimeoutSeconds bounds a single remote request.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`

	// MaxRetries bounds retry attempts per remote request.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// LockTTLSeconds is the age after which a session lock is considered
	// abandoned and reclaimable.
	LockTTLSeconds int `yaml:"lock_ttl_seconds" json:"lock_ttl_seconds"`

	// DryRun suppresses all outbound network calls while still running
	// local state transitions.
	DryRun bool `yaml:"dry_run" json:"dry_run"`
}

// SetDefaults fills in zero-valued sync settings.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Sync.IntervalSeconds == 0 {
		c.Sync.IntervalSeconds = 300
	}
	if c.Sync.RequestTimeoutSeconds == 0 {
		c.Sync.RequestTimeoutSeconds = 30
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.LockTTLSeconds == 0 {
		c.Sync.LockTTLSeconds = 600
	}
}

// Interval returns the background sync period as a duration.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// RequestTimeout returns the per-request timeout as a duration.
func (s SyncConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// LockTTL returns the lock reclamation age as a duration.
func (s SyncConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLSeconds) * time.Second
}

// UnmarshalExtension decodes a non-core configuration section into a
// strongly-typed target struct.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// It's not an error if the key doesn't exist.
		// The target struct will simply remain zero-valued.
		return nil
	}

	// Use mapstructure to decode the generic map[string]interface{}
	// into the strongly-typed target struct. We configure it to use
	// `yaml` tags for consistency.
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "yaml",
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
