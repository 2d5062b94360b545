// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package config loads Alexandria's configuration from a YAML file overlaid
// by command line flags.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/PolycarpusTack/Alexandria-sub004/internal/eventbus"
	plugins "github.com/PolycarpusTack/Alexandria-sub004/internal/plugin"
	"github.com/PolycarpusTack/Alexandria-sub004/internal/xdg"
)

// CodeInvalidConfig marks configuration that failed to load or validate.
const CodeInvalidConfig = "INVALID_CONFIG"

// Flag and key names.
const (
	KeyConfig          = "config"
	KeyPluginsDir      = "plugins-dir"
	KeyPlatformVersion = "platform-version"
	KeyHookTimeout     = "hook-timeout"
	KeyHandlerTimeout  = "handler-timeout"
	KeyHTTPAddr        = "http-addr"
	KeyMetricsAddr     = "metrics-addr"
	KeyLogFormat       = "log-format"
	KeyLogLevel        = "log-level"
	KeyDatabaseURL     = "database-url"
)

// Defaults.
const (
	DefaultPlatformVersion = "1.0.0"
	DefaultHTTPAddr        = "127.0.0.1:8080"
	DefaultMetricsAddr     = "127.0.0.1:9100"
	DefaultLogFormat       = "json"
	DefaultLogLevel        = "info"
)

// Config is the resolved configuration.
type Config struct {
	PluginsDir      string        `koanf:"plugins-dir"`
	PlatformVersion string        `koanf:"platform-version"`
	HookTimeout     time.Duration `koanf:"hook-timeout"`
	HandlerTimeout  time.Duration `koanf:"handler-timeout"`
	HTTPAddr        string        `koanf:"http-addr"`
	MetricsAddr     string        `koanf:"metrics-addr"`
	LogFormat       string        `koanf:"log-format"`
	LogLevel        string        `koanf:"log-level"`
	// DatabaseURL enables the transition journal. Empty disables it.
	DatabaseURL string `koanf:"database-url"`
}

// RegisterFlags adds every configuration flag to flags. The flag defaults
// are the configuration defaults.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(KeyConfig, "", "config file (default: XDG_CONFIG_HOME/alexandria/alexandria.yaml)")
	flags.String(KeyPluginsDir, xdg.PluginsDir(), "directory scanned for plugins")
	flags.String(KeyPlatformVersion, DefaultPlatformVersion, "platform version checked against minPlatformVersion")
	flags.Duration(KeyHookTimeout, plugins.DefaultHookTimeout, "timeout for each lifecycle hook (0 = none)")
	flags.Duration(KeyHandlerTimeout, eventbus.DefaultHandlerTimeout, "timeout for each event handler invocation (0 = none)")
	flags.String(KeyHTTPAddr, DefaultHTTPAddr, "plugin route HTTP address (empty = disabled)")
	flags.String(KeyMetricsAddr, DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.String(KeyLogFormat, DefaultLogFormat, "log format (json or text)")
	flags.String(KeyLogLevel, DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String(KeyDatabaseURL, "", "PostgreSQL URL for the transition journal (default: $DATABASE_URL)")
}

// Load reads the config file named by the config flag, falling back to the
// XDG default, then overlays every flag the user set. A missing default
// file is not an error; a missing explicit file is.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path, explicit := xdg.ConfigFile(), false
	if f := flags.Lookup(KeyConfig); f != nil && f.Value.String() != "" {
		path, explicit = f.Value.String(), true
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.In("config").Code(CodeInvalidConfig).With("path", path).Wrapf(err, "failed to read config file")
		}
	}

	// Unchanged flags only fill keys the file left unset.
	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, oops.In("config").Code(CodeInvalidConfig).Wrapf(err, "failed to read flags")
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Code(CodeInvalidConfig).With("path", path).Wrapf(err, "failed to decode config")
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	errb := oops.In("config").Code(CodeInvalidConfig)

	if c.PluginsDir == "" {
		return errb.Errorf("%s is required", KeyPluginsDir)
	}
	if _, err := c.Platform(); err != nil {
		return err
	}
	if c.HookTimeout < 0 {
		return errb.With(KeyHookTimeout, c.HookTimeout).Errorf("%s must not be negative", KeyHookTimeout)
	}
	if c.HandlerTimeout < 0 {
		return errb.With(KeyHandlerTimeout, c.HandlerTimeout).Errorf("%s must not be negative", KeyHandlerTimeout)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return errb.Errorf("%s must be 'json' or 'text', got %q", KeyLogFormat, c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errb.Errorf("%s must be one of debug, info, warn, error, got %q", KeyLogLevel, c.LogLevel)
	}
	return nil
}

// Platform parses PlatformVersion.
func (c *Config) Platform() (*semver.Version, error) {
	v, err := semver.StrictNewVersion(c.PlatformVersion)
	if err != nil {
		return nil, oops.In("config").
			Code(CodeInvalidConfig).
			With(KeyPlatformVersion, c.PlatformVersion).
			Wrapf(err, "%s must be a semantic version", KeyPlatformVersion)
	}
	return v, nil
}
