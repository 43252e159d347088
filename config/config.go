// Copyright 2016 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package config implements configuration file parsing and validation.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/open-policy-agent/congress/ast"
	"github.com/open-policy-agent/congress/logging"
	"github.com/open-policy-agent/congress/theory"
	"github.com/open-policy-agent/congress/types"
)

// EnvPrefix is the prefix of environment variables that override
// configuration values, e.g. CONGRESS_LOGGING_LEVEL.
const EnvPrefix = "congress"

// Config represents the configuration file the engine can be started with.
type Config struct {
	Logging        Logging  `mapstructure:"logging" json:"logging"`
	DefaultTheory  string   `mapstructure:"default_theory" json:"default_theory"`
	ActionTheory   string   `mapstructure:"action_theory" json:"action_theory"`
	Policies       []Policy `mapstructure:"policies" json:"policies"`
	Bundles        []string `mapstructure:"bundles" json:"bundles"`
	QueryCacheSize int      `mapstructure:"query_cache_size" json:"query_cache_size"`
	TracePatterns  []string `mapstructure:"trace_patterns" json:"trace_patterns"`
	Metrics        Metrics  `mapstructure:"metrics" json:"metrics"`
}

// Logging configures the logger.
type Logging struct {
	Level           string `mapstructure:"level" json:"level"`
	Format          string `mapstructure:"format" json:"format"`
	TimestampFormat string `mapstructure:"timestamp_format" json:"timestamp_format"`
}

// Policy describes a policy created at startup.
type Policy struct {
	Name        string                  `mapstructure:"name" json:"name"`
	Kind        string                  `mapstructure:"kind" json:"kind"`
	Abbr        string                  `mapstructure:"abbr" json:"abbr"`
	Description string                  `mapstructure:"description" json:"description"`
	Schema      map[string][]ast.Column `mapstructure:"schema" json:"schema"`
}

// Metrics configures metrics collection.
type Metrics struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

const (
	defaultTheory  = "classification"
	actionTheory   = "action"
	queryCacheSize = 128
)

// New returns a viper instance that reads environment overrides and holds
// the defaults.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.timestamp_format", "")
	v.SetDefault("default_theory", defaultTheory)
	v.SetDefault("action_theory", actionTheory)
	v.SetDefault("query_cache_size", queryCacheSize)
	v.SetDefault("metrics.enabled", false)
	return v
}

// Load reads the configuration file at path, which may be YAML or JSON. An
// empty path yields the defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return fromViper(v)
}

// ParseConfig parses a YAML or JSON configuration document.
func ParseConfig(raw []byte, format string) (*Config, error) {
	v := New()
	v.SetConfigType(format)
	if err := v.ReadConfig(strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, c.validate()
}

func (c *Config) validate() error {
	if _, err := logging.GetLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !ast.IsValidName(c.DefaultTheory) {
		return fmt.Errorf("config: default_theory %q is not a valid policy name", c.DefaultTheory)
	}
	if !ast.IsValidName(c.ActionTheory) {
		return fmt.Errorf("config: action_theory %q is not a valid policy name", c.ActionTheory)
	}
	if c.QueryCacheSize < 0 {
		return fmt.Errorf("config: query_cache_size must not be negative")
	}
	seen := map[string]struct{}{}
	for i, p := range c.Policies {
		if !ast.IsValidName(p.Name) {
			return fmt.Errorf("config: policies[%d]: %q is not a valid policy name", i, p.Name)
		}
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("config: policies[%d]: duplicate policy %v", i, p.Name)
		}
		seen[p.Name] = struct{}{}
		if _, err := theory.ParseKind(p.Kind); err != nil {
			return fmt.Errorf("config: policies[%d]: %w", i, err)
		}
		if err := types.Default.CheckSchema(p.SchemaOf()); err != nil {
			return fmt.Errorf("config: policies[%d]: %w", i, err)
		}
	}
	return nil
}

// SchemaOf returns the schema of the policy, or nil if it has none.
func (p Policy) SchemaOf() *ast.Schema {
	if len(p.Schema) == 0 {
		return nil
	}
	return ast.NewSchema(p.Schema, true)
}
