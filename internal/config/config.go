// Package config loads the mer-driver configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Timotej979/Model-executor-runtime/pkg/driver"
)

// Config is the top-level configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Remote  RemoteConfig  `yaml:"remote"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the gRPC endpoint.
type ServerConfig struct {
	Socket              string `yaml:"socket"`
	Reflection          bool   `yaml:"reflection"`
	AllowRuntimeChanges bool   `yaml:"allow_runtime_changes"`
}

// StoreConfig selects the catalog backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, yaml
	Path   string `yaml:"path"`
	Watch  bool   `yaml:"watch"` // yaml only: reload on change
}

// RuntimeConfig tunes drivers and the executor. Durations are Go duration
// strings.
type RuntimeConfig struct {
	ReadyTimeout         string `yaml:"ready_timeout"`
	TerminationGrace     string `yaml:"termination_grace"`
	RequestTimeout       string `yaml:"request_timeout"`
	MaxPayloadBytes      int    `yaml:"max_payload_bytes"`
	DiagnosticsTailBytes int    `yaml:"diagnostics_tail_bytes"`
	MaxConcurrency       int    `yaml:"max_concurrency"`
	CacheSize            int    `yaml:"cache_size"`
	CacheTTL             string `yaml:"cache_ttl"`
	Shell                string `yaml:"shell"`
}

// RemoteConfig tunes the SSH transport.
type RemoteConfig struct {
	DialTimeout string `yaml:"dial_timeout"`
	KnownHosts  string `yaml:"known_hosts"`
	VerifyPath  bool   `yaml:"verify_path"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Socket:     "/tmp/mer-driver.sock",
			Reflection: true,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "data/mer.db",
			Watch:  true,
		},
		Runtime: RuntimeConfig{
			ReadyTimeout:         "0s",
			TerminationGrace:     "5s",
			RequestTimeout:       "120s",
			MaxPayloadBytes:      1 << 20,
			DiagnosticsTailBytes: 8 << 10,
			MaxConcurrency:       4,
			CacheSize:            64,
			CacheTTL:             "5m",
			Shell:                "/bin/sh",
		},
		Remote: RemoteConfig{
			DialTimeout: "10s",
			VerifyPath:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MER_SOCKET"); v != "" {
		c.Server.Socket = v
	}
	if v := os.Getenv("MER_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("MER_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("MER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ALLOW_MODEL_SERVER_RUNTIME_CHANGES"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Server.AllowRuntimeChanges = b
		}
	}
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "yaml":
	default:
		return fmt.Errorf("config: store.driver must be sqlite or yaml, got %q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("config: store.path is required")
	}
	for name, v := range map[string]string{
		"runtime.ready_timeout":     c.Runtime.ReadyTimeout,
		"runtime.termination_grace": c.Runtime.TerminationGrace,
		"runtime.request_timeout":   c.Runtime.RequestTimeout,
		"runtime.cache_ttl":         c.Runtime.CacheTTL,
		"remote.dial_timeout":       c.Remote.DialTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// GetReadyTimeout returns runtime.ready_timeout; zero waits forever.
func (c *Config) GetReadyTimeout() time.Duration { return duration(c.Runtime.ReadyTimeout, 0) }

// GetRequestTimeout returns the per-request bound used by the executor.
func (c *Config) GetRequestTimeout() time.Duration {
	return duration(c.Runtime.RequestTimeout, 120*time.Second)
}

// GetCacheTTL returns how long executor responses are replayed.
func (c *Config) GetCacheTTL() time.Duration { return duration(c.Runtime.CacheTTL, 5*time.Minute) }

// DriverConfig builds the driver settings.
func (c *Config) DriverConfig(log *zap.Logger) driver.Config {
	return driver.Config{
		Logger:               log,
		ReadyTimeout:         c.GetReadyTimeout(),
		TerminationGrace:     duration(c.Runtime.TerminationGrace, 5*time.Second),
		MaxPayloadBytes:      c.Runtime.MaxPayloadBytes,
		DiagnosticsTailBytes: c.Runtime.DiagnosticsTailBytes,
		Shell:                c.Runtime.Shell,
		DialTimeout:          duration(c.Remote.DialTimeout, 10*time.Second),
		KnownHostsFile:       c.Remote.KnownHosts,
		SkipRemotePathCheck:  !c.Remote.VerifyPath,
	}
}
