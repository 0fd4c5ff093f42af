// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config loads and watches the agent configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hostsnap/agent/pkg/host"
	"github.com/hostsnap/agent/pkg/sysinfo"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Paths overrides where the host filesystems are mounted.
type Paths struct {
	Proc string `yaml:"proc"`
	Sys  string `yaml:"sys"`
	Etc  string `yaml:"etc"`
	Var  string `yaml:"var"`
}

// Config is the agent configuration.
type Config struct {
	// Interval between refresh cycles in watch mode.
	Interval Duration `yaml:"interval"`
	// QueryTimeout bounds each category's query.
	QueryTimeout Duration `yaml:"query_timeout"`
	// MaxConcurrent bounds the refresh fan-out; 0 means unbounded.
	MaxConcurrent int `yaml:"max_concurrent"`
	// Categories selects which categories to snapshot; empty means all
	// registered categories.
	Categories []string `yaml:"categories"`
	Paths      Paths    `yaml:"paths"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Interval:     Duration(30 * time.Second),
		QueryTimeout: Duration(10 * time.Second),
		Paths: Paths{
			Proc: "/proc",
			Sys:  "/sys",
			Etc:  "/etc",
			Var:  "/var",
		},
	}
}

// Load reads and validates the YAML file at path, applying defaults for
// unset fields and HOST_* environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyEnvironment()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvironment applies the HOST_* path overrides used by
// containerized deployments where the host filesystems are bind-mounted.
func (c *Config) applyEnvironment() {
	if v := os.Getenv("HOST_PROC"); v != "" {
		c.Paths.Proc = v
	}
	if v := os.Getenv("HOST_SYS"); v != "" {
		c.Paths.Sys = v
	}
	if v := os.Getenv("HOST_ETC"); v != "" {
		c.Paths.Etc = v
	}
	if v := os.Getenv("HOST_VAR"); v != "" {
		c.Paths.Var = v
	}
}

// Validate rejects configurations the agent cannot run with. Category
// names are checked against the source registry.
func (c Config) Validate() error {
	if time.Duration(c.Interval) <= 0 {
		return fmt.Errorf("interval must be positive, got %s", time.Duration(c.Interval))
	}
	if time.Duration(c.QueryTimeout) < 0 {
		return fmt.Errorf("query_timeout must not be negative, got %s", time.Duration(c.QueryTimeout))
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must not be negative, got %d", c.MaxConcurrent)
	}
	for _, name := range c.Categories {
		if _, err := sysinfo.GetSource(sysinfo.CategoryName(name)); err != nil {
			return fmt.Errorf("unknown category %q (known: %v)", name, sysinfo.Available())
		}
	}
	return nil
}

// CollectionConfig translates the file paths and timeout for the
// sysinfo sources.
func (c Config) CollectionConfig() sysinfo.CollectionConfig {
	cfg := sysinfo.CollectionConfig{
		HostProcPath: c.Paths.Proc,
		HostSysPath:  c.Paths.Sys,
		HostEtcPath:  c.Paths.Etc,
		QueryTimeout: time.Duration(c.QueryTimeout),
	}
	cfg.ApplyDefaults()
	return cfg
}

// HostPaths translates the file paths for host identification.
func (c Config) HostPaths() host.Paths {
	paths := host.Paths{
		Proc: c.Paths.Proc,
		Sys:  c.Paths.Sys,
		Etc:  c.Paths.Etc,
		Var:  c.Paths.Var,
	}
	defaults := host.DefaultPaths()
	if paths.Proc == "" {
		paths.Proc = defaults.Proc
	}
	if paths.Sys == "" {
		paths.Sys = defaults.Sys
	}
	if paths.Etc == "" {
		paths.Etc = defaults.Etc
	}
	if paths.Var == "" {
		paths.Var = defaults.Var
	}
	return paths
}
