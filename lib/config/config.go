// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

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

// Config is the master configuration for the weft daemon.
type Config struct {
	// Environment identifies the deployment type (development,
	// staging, production).
	Environment Environment `yaml:"environment"`

	// Socket configures the co-processor client socket.
	Socket SocketConfig `yaml:"socket"`

	// Control configures the daemon's control socket.
	Control ControlConfig `yaml:"control"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Per-environment overrides, applied after the base config is
	// loaded when the environment matches.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Socket  *SocketConfig  `yaml:"socket,omitempty"`
	Control *ControlConfig `yaml:"control,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// SocketConfig configures the co-processor client socket.
type SocketConfig struct {
	// Path is the Unix socket file the daemon listens on.
	// Default: /run/weft/thread.sock
	Path string `yaml:"path"`

	// Mode is the socket framing mode: "seqpacket" or "stream".
	// Default: seqpacket
	Mode string `yaml:"mode"`

	// Group is the system group given ownership of the socket file so
	// the co-processor client can connect. Empty skips the chown.
	// Default: system
	Group string `yaml:"group"`
}

// ControlConfig configures the daemon's local control socket.
type ControlConfig struct {
	// SocketPath is the Unix socket for status and stop requests.
	// Default: /run/weft/weftd-control.sock
	SocketPath string `yaml:"socket_path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum level emitted: "debug", "info", "warn",
	// or "error". Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file; a missing file leaves
// them in force.
func Default() *Config {
	return &Config{
		Environment: Development,
		Socket: SocketConfig{
			Path:  "/run/weft/thread.sock",
			Mode:  "seqpacket",
			Group: "system",
		},
		Control: ControlConfig{
			SocketPath: "/run/weft/weftd-control.sock",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the WEFT_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks - if WEFT_CONFIG is not set, this fails. This
// ensures deterministic, auditable configuration with no hidden
// overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("WEFT_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WEFT_CONFIG environment variable not set; " +
			"set it to the path of your weft.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
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

	if overrides.Socket != nil {
		if overrides.Socket.Path != "" {
			c.Socket.Path = overrides.Socket.Path
		}
		if overrides.Socket.Mode != "" {
			c.Socket.Mode = overrides.Socket.Mode
		}
		if overrides.Socket.Group != "" {
			c.Socket.Group = overrides.Socket.Group
		}
	}
	if overrides.Control != nil {
		if overrides.Control.SocketPath != "" {
			c.Control.SocketPath = overrides.Control.SocketPath
		}
	}
	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Socket.Path = expandVars(c.Socket.Path, vars)
	c.Control.SocketPath = expandVars(c.Control.SocketPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
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

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Socket.Path == "" {
		errs = append(errs, fmt.Errorf("socket.path is required"))
	}
	if c.Socket.Mode != "seqpacket" && c.Socket.Mode != "stream" {
		errs = append(errs, fmt.Errorf("socket.mode must be \"seqpacket\" or \"stream\", got %q", c.Socket.Mode))
	}
	if c.Control.SocketPath == "" {
		errs = append(errs, fmt.Errorf("control.socket_path is required"))
	}

	logLevels := []string{"debug", "info", "warn", "error"}
	if !contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
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
