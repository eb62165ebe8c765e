// Copyright 2026 The Tagflow Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for a Tagflow process.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Push configures the push-notification subscriptions.
	Push PushConfig `yaml:"push"`

	// API configures the authoritative REST backend.
	API APIConfig `yaml:"api"`

	// Reconcile configures the predictive reconciliation layer.
	Reconcile ReconcileConfig `yaml:"reconcile"`

	// EnvironmentOverrides contains per-environment overrides,
	// applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Push      *PushConfig      `yaml:"push,omitempty"`
	API       *APIConfig       `yaml:"api,omitempty"`
	Reconcile *ReconcileConfig `yaml:"reconcile,omitempty"`
}

// PushConfig configures the push channel subscriptions.
type PushConfig struct {
	// BrokerEndpoint is the ZeroMQ XPUB endpoint the console's SUB
	// socket connects to. Default: tcp://localhost:5558
	BrokerEndpoint string `yaml:"broker_endpoint"`

	// Channels names the four logical push channels.
	Channels ChannelsConfig `yaml:"channels"`
}

// ChannelsConfig names the logical push channels. Each name is a
// ZeroMQ topic prefix on the broker.
type ChannelsConfig struct {
	// HighPriority carries urgent scanner events (strong visual
	// emphasis downstream). Default: inventory.urgent
	HighPriority string `yaml:"high_priority"`

	// Broadcast carries global state-change notifications.
	// Default: inventory.broadcast
	Broadcast string `yaml:"broadcast"`

	// ScannerPrefix is the per-scanner channel prefix; the scanner id
	// is appended (e.g. "inventory.scanner.DOCK-3").
	// Default: inventory.scanner.
	ScannerPrefix string `yaml:"scanner_prefix"`

	// Registration carries new-registration events.
	// Default: inventory.registration
	Registration string `yaml:"registration"`
}

// APIConfig configures the authoritative REST backend.
type APIConfig struct {
	// BaseURL is the backend base URL. Required; no default.
	BaseURL string `yaml:"base_url"`

	// PageSize is the page size for authoritative search queries.
	// Default: 50
	PageSize int `yaml:"page_size"`

	// RequestTimeout bounds a single REST round-trip, as a Go
	// duration string. Default: 10s
	RequestTimeout string `yaml:"request_timeout"`
}

// ReconcileConfig configures the predictive reconciliation layer.
type ReconcileConfig struct {
	// PendingTTL is how long a predictive entry may wait for its
	// confirmation before being force-cancelled with a timeout
	// reason, as a Go duration string. Default: 5s
	PendingTTL string `yaml:"pending_ttl"`

	// StreamBuffer is the per-subscriber buffer size on the
	// predictive/confirmed/immediate streams. Default: 64
	StreamBuffer int `yaml:"stream_buffer"`
}

// Default returns the default configuration. These defaults give every
// field a sensible zero-value before the file is merged in; the config
// file itself is still required.
func Default() *Config {
	return &Config{
		Environment: Development,
		Push: PushConfig{
			BrokerEndpoint: "tcp://localhost:5558",
			Channels: ChannelsConfig{
				HighPriority:  "inventory.urgent",
				Broadcast:     "inventory.broadcast",
				ScannerPrefix: "inventory.scanner.",
				Registration:  "inventory.registration",
			},
		},
		API: APIConfig{
			PageSize:       50,
			RequestTimeout: "10s",
		},
		Reconcile: ReconcileConfig{
			PendingTTL:   "5s",
			StreamBuffer: 64,
		},
	}
}

// Load loads configuration from the TAGFLOW_CONFIG environment
// variable. There are no fallbacks: if TAGFLOW_CONFIG is not set,
// Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv("TAGFLOW_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TAGFLOW_CONFIG environment variable not set; " +
			"set it to the path of your tagflow.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The file is
// the single source of truth; environment variables do not override
// its values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvironmentOverrides applies the section matching c.Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Push != nil {
		if overrides.Push.BrokerEndpoint != "" {
			c.Push.BrokerEndpoint = overrides.Push.BrokerEndpoint
		}
		if overrides.Push.Channels.HighPriority != "" {
			c.Push.Channels.HighPriority = overrides.Push.Channels.HighPriority
		}
		if overrides.Push.Channels.Broadcast != "" {
			c.Push.Channels.Broadcast = overrides.Push.Channels.Broadcast
		}
		if overrides.Push.Channels.ScannerPrefix != "" {
			c.Push.Channels.ScannerPrefix = overrides.Push.Channels.ScannerPrefix
		}
		if overrides.Push.Channels.Registration != "" {
			c.Push.Channels.Registration = overrides.Push.Channels.Registration
		}
	}

	if overrides.API != nil {
		if overrides.API.BaseURL != "" {
			c.API.BaseURL = overrides.API.BaseURL
		}
		if overrides.API.PageSize != 0 {
			c.API.PageSize = overrides.API.PageSize
		}
		if overrides.API.RequestTimeout != "" {
			c.API.RequestTimeout = overrides.API.RequestTimeout
		}
	}

	if overrides.Reconcile != nil {
		if overrides.Reconcile.PendingTTL != "" {
			c.Reconcile.PendingTTL = overrides.Reconcile.PendingTTL
		}
		if overrides.Reconcile.StreamBuffer != 0 {
			c.Reconcile.StreamBuffer = overrides.Reconcile.StreamBuffer
		}
	}
}

// Validate checks that required fields are present and parseable.
func (c *Config) Validate() error {
	switch c.Environment {
	case Development, Staging, Production:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("api.page_size must be positive, got %d", c.API.PageSize)
	}
	if _, err := time.ParseDuration(c.API.RequestTimeout); err != nil {
		return fmt.Errorf("api.request_timeout: %w", err)
	}
	if ttl, err := time.ParseDuration(c.Reconcile.PendingTTL); err != nil {
		return fmt.Errorf("reconcile.pending_ttl: %w", err)
	} else if ttl <= 0 {
		return fmt.Errorf("reconcile.pending_ttl must be positive, got %v", ttl)
	}
	if c.Reconcile.StreamBuffer <= 0 {
		return fmt.Errorf("reconcile.stream_buffer must be positive, got %d", c.Reconcile.StreamBuffer)
	}
	if c.Push.BrokerEndpoint == "" {
		return fmt.Errorf("push.broker_endpoint is required")
	}
	return nil
}

// RequestTimeoutDuration returns the parsed API request timeout. Call
// only after Validate has succeeded.
func (c *Config) RequestTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.API.RequestTimeout)
	return d
}

// PendingTTLDuration returns the parsed pending-transaction TTL. Call
// only after Validate has succeeded.
func (c *Config) PendingTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.Reconcile.PendingTTL)
	return d
}
