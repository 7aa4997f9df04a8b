// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
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

// Config is the master configuration for a pingkit client.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// ApplicationID names the application in upload paths.
	ApplicationID string `yaml:"application_id"`

	// DataDir holds the pending ping directory and the counter
	// database.
	DataDir string `yaml:"data_dir"`

	// ServerEndpoint is the scheme and host pings are sent to.
	ServerEndpoint string `yaml:"server_endpoint"`

	// UploadEnabled gates whether submitted pings are queued for upload
	// at all.
	UploadEnabled bool `yaml:"upload_enabled"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MaxQueueSize bounds the pre-initialization task backlog.
	// Default: 100
	MaxQueueSize int `yaml:"max_queue_size"`

	// AllowMultiprocessing selects subprocess dispatch for uploads.
	// When false, dispatched work runs inline on the caller.
	AllowMultiprocessing bool `yaml:"allow_multiprocessing"`

	// Worker configures the async worker.
	Worker WorkerConfig `yaml:"worker"`

	// Upload configures the upload orchestrator and the local core's
	// storage policy.
	Upload UploadConfig `yaml:"upload"`

	// Dispatcher configures the subprocess dispatcher.
	Dispatcher DispatcherConfig `yaml:"dispatcher"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
// Pointer fields distinguish "not set" from the zero value.
type ConfigOverrides struct {
	DataDir              string        `yaml:"data_dir,omitempty"`
	ServerEndpoint       string        `yaml:"server_endpoint,omitempty"`
	LogLevel             string        `yaml:"log_level,omitempty"`
	UploadEnabled        *bool         `yaml:"upload_enabled,omitempty"`
	AllowMultiprocessing *bool         `yaml:"allow_multiprocessing,omitempty"`
	Upload               *UploadConfig `yaml:"upload,omitempty"`
	Worker               *WorkerConfig `yaml:"worker,omitempty"`
}

// WorkerConfig configures the async worker.
type WorkerConfig struct {
	// ShutdownTimeout bounds how long Shutdown waits for queued
	// operations to drain.
	// Default: 30s
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// UploadConfig configures upload policy.
type UploadConfig struct {
	// MaxRecoverableFailures ends an upload cycle after this many
	// recoverable failures.
	// Default: 3
	MaxRecoverableFailures int `yaml:"max_recoverable_failures"`

	// MaxWaitAttempts ends an upload cycle after this many Wait tasks.
	// Default: 3
	MaxWaitAttempts int `yaml:"max_wait_attempts"`

	// RequestTimeout bounds a single HTTP upload.
	// Default: 10s
	RequestTimeout Duration `yaml:"request_timeout"`

	// MaxPingBodySize is the largest ping body kept on disk.
	// Default: 1 MiB
	MaxPingBodySize int64 `yaml:"max_ping_body_size"`

	// MaxPendingDirectoryBytes caps the pending ping directory. The
	// oldest pings are deleted to fit.
	// Default: 10 MiB
	MaxPendingDirectoryBytes int64 `yaml:"max_pending_directory_bytes"`

	// RateLimit bounds the upload rate.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig allows MaxPings uploads per Interval.
type RateLimitConfig struct {
	// Default: 15
	MaxPings int `yaml:"max_pings"`
	// Default: 60s
	Interval Duration `yaml:"interval"`
}

// DispatcherConfig configures the subprocess dispatcher.
type DispatcherConfig struct {
	// Executable is the binary re-executed as the worker host. Empty
	// means the running executable.
	Executable string `yaml:"executable"`
}

// Duration is a time.Duration that unmarshals from Go duration strings
// such as "30s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML parses a duration scalar.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in Go string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the default configuration. These defaults are the
// base the config file is loaded over.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment:          Development,
		ApplicationID:        "pingkit",
		DataDir:              filepath.Join(homeDir, ".cache", "pingkit"),
		ServerEndpoint:       "https://incoming.telemetry.mozilla.org",
		UploadEnabled:        true,
		LogLevel:             "info",
		MaxQueueSize:         100,
		AllowMultiprocessing: true,
		Worker: WorkerConfig{
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Upload: UploadConfig{
			MaxRecoverableFailures:   3,
			MaxWaitAttempts:          3,
			RequestTimeout:           Duration(10 * time.Second),
			MaxPingBodySize:          1 << 20,
			MaxPendingDirectoryBytes: 10 << 20,
			RateLimit: RateLimitConfig{
				MaxPings: 15,
				Interval: Duration(60 * time.Second),
			},
		},
	}
}

// Load loads configuration from the file named by PINGKIT_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("PINGKIT_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("PINGKIT_CONFIG environment variable not set; " +
			"set it to the path of your pingkit.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path over
// [Default], applies the matching environment section, and expands
// path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			enabled := true
			overrides = &ConfigOverrides{
				UploadEnabled:        &enabled,
				AllowMultiprocessing: &enabled,
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.DataDir != "" {
		c.DataDir = overrides.DataDir
	}
	if overrides.ServerEndpoint != "" {
		c.ServerEndpoint = overrides.ServerEndpoint
	}
	if overrides.LogLevel != "" {
		c.LogLevel = overrides.LogLevel
	}
	if overrides.UploadEnabled != nil {
		c.UploadEnabled = *overrides.UploadEnabled
	}
	if overrides.AllowMultiprocessing != nil {
		c.AllowMultiprocessing = *overrides.AllowMultiprocessing
	}

	if overrides.Worker != nil && overrides.Worker.ShutdownTimeout != 0 {
		c.Worker.ShutdownTimeout = overrides.Worker.ShutdownTimeout
	}

	if upload := overrides.Upload; upload != nil {
		if upload.MaxRecoverableFailures != 0 {
			c.Upload.MaxRecoverableFailures = upload.MaxRecoverableFailures
		}
		if upload.MaxWaitAttempts != 0 {
			c.Upload.MaxWaitAttempts = upload.MaxWaitAttempts
		}
		if upload.RequestTimeout != 0 {
			c.Upload.RequestTimeout = upload.RequestTimeout
		}
		if upload.MaxPingBodySize != 0 {
			c.Upload.MaxPingBodySize = upload.MaxPingBodySize
		}
		if upload.MaxPendingDirectoryBytes != 0 {
			c.Upload.MaxPendingDirectoryBytes = upload.MaxPendingDirectoryBytes
		}
		if upload.RateLimit.MaxPings != 0 {
			c.Upload.RateLimit.MaxPings = upload.RateLimit.MaxPings
		}
		if upload.RateLimit.Interval != 0 {
			c.Upload.RateLimit.Interval = upload.RateLimit.Interval
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"PINGKIT_DATA": c.DataDir,
		"HOME":         os.Getenv("HOME"),
	}

	c.DataDir = expandVars(c.DataDir, vars)
	vars["PINGKIT_DATA"] = c.DataDir

	c.Dispatcher.Executable = expandVars(c.Dispatcher.Executable, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Provided vars
// win over the process environment.
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

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.ApplicationID == "" {
		errs = append(errs, fmt.Errorf("application_id is required"))
	}

	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}

	if endpoint, err := url.Parse(c.ServerEndpoint); err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		errs = append(errs, fmt.Errorf("server_endpoint must be an absolute URL, got %q", c.ServerEndpoint))
	}

	if !contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error"))
	}

	if c.MaxQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("max_queue_size must be positive"))
	}

	if c.Worker.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker.shutdown_timeout must be positive"))
	}

	if c.Upload.MaxRecoverableFailures <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_recoverable_failures must be positive"))
	}
	if c.Upload.MaxWaitAttempts <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_wait_attempts must be positive"))
	}
	if c.Upload.MaxPingBodySize <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_ping_body_size must be positive"))
	}
	if c.Upload.MaxPendingDirectoryBytes < c.Upload.MaxPingBodySize {
		errs = append(errs, fmt.Errorf("upload.max_pending_directory_bytes must be at least upload.max_ping_body_size"))
	}
	if c.Upload.RateLimit.MaxPings <= 0 || c.Upload.RateLimit.Interval <= 0 {
		errs = append(errs, fmt.Errorf("upload.rate_limit needs positive max_pings and interval"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.DataDir, err)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
