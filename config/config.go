// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads the gateway's YAML configuration file.
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultListenAddr is where the gateway serves if the config
	// does not say otherwise.
	DefaultListenAddr = ":8080"

	// DefaultRedisAddr is the conventional local Redis address.
	DefaultRedisAddr = "localhost:6379"
)

// Redis holds the key-value store connection settings.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config is the gateway configuration.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `yaml:"listen-addr"`

	// SelfURL is the base URL delta collection GETs are re-issued
	// against. Empty means derive it from ListenAddr.
	SelfURL string `yaml:"self-url"`

	// Redis configures the key-value store connection.
	Redis Redis `yaml:"redis"`

	// RulesFile is the path of the routing rule set.
	RulesFile string `yaml:"rules-file"`

	// Properties are expanded into ${property} placeholders in the
	// rule targets.
	Properties map[string]string `yaml:"properties"`

	// BackendTimeoutSeconds bounds the backend round trip of a delta
	// collection GET.
	BackendTimeoutSeconds int `yaml:"backend-timeout"`

	// ForwardTimeoutSeconds bounds forwarded requests for rules
	// without their own timeout.
	ForwardTimeoutSeconds int `yaml:"forward-timeout"`

	// DefaultTTLSeconds overrides the expiry applied to delta
	// bookkeeping writes when the request does not set one. Zero
	// means the built-in 20 day default.
	DefaultTTLSeconds int `yaml:"default-ttl"`

	// LoggingConfig is a loggo specification applied at startup,
	// for example "deltagate=DEBUG".
	LoggingConfig string `yaml:"logging-config"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddr: DefaultListenAddr,
		Redis:      Redis{Addr: DefaultRedisAddr},
	}
}

// Read loads the configuration from path on top of the defaults.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotate(err, "reading config file")
	}
	config := Default()
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return Config{}, errors.Annotatef(err, "parsing config file %q", path)
	}
	if err := config.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return config, nil
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.NotValidf("empty listen-addr")
	}
	if c.Redis.Addr == "" {
		return errors.NotValidf("empty redis addr")
	}
	if c.RulesFile == "" {
		return errors.NotValidf("empty rules-file")
	}
	if c.BackendTimeoutSeconds < 0 {
		return errors.NotValidf("negative backend-timeout")
	}
	if c.ForwardTimeoutSeconds < 0 {
		return errors.NotValidf("negative forward-timeout")
	}
	if c.DefaultTTLSeconds < 0 {
		return errors.NotValidf("negative default-ttl")
	}
	return nil
}

// BackendTimeout returns the configured backend timeout, zero meaning
// the delta handler default.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSeconds) * time.Second
}

// ForwardTimeout returns the configured forward timeout, zero meaning
// the router default.
func (c Config) ForwardTimeout() time.Duration {
	return time.Duration(c.ForwardTimeoutSeconds) * time.Second
}

// DefaultTTL returns the configured bookkeeping expiry, zero meaning
// the delta handler default.
func (c Config) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}
