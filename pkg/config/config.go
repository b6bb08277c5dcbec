// Package config loads and validates the orchestrator configuration
// file (testmux.yaml).
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level orchestrator configuration.
type Config struct {
	MaxParallel      int    `yaml:"max_parallel"`
	RetryCount       int    `yaml:"retry_count"`
	FailFast         bool   `yaml:"fail_fast"`
	DefaultTimeoutMs int    `yaml:"default_timeout_ms"`
	OutputDir        string `yaml:"output_dir"`

	Reporting Reporting `yaml:"reporting"`
	Triage    Triage    `yaml:"triage"`
	Backends  Backends  `yaml:"backends"`
}

// Reporting configures the issue-reporting collaborator.
type Reporting struct {
	Enabled  bool     `yaml:"enabled"`
	Endpoint string   `yaml:"endpoint"`
	Project  string   `yaml:"project"`
	Labels   []string `yaml:"labels"`
}

// Triage configures the priority-analysis collaborator.
type Triage struct {
	// LLM selects the reasoning assist: "azure" or "" (heuristic only).
	LLM string `yaml:"llm"`
}

// Backends configures the shipped execution back-ends.
type Backends struct {
	Shell    string `yaml:"shell"`     // terminal backend shell
	BaseURL  string `yaml:"base_url"`  // api backend root
	WorkDir  string `yaml:"work_dir"`  // process backend cwd
	Headless bool   `yaml:"headless"`  // gui backend mode
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		MaxParallel:      4,
		RetryCount:       0,
		FailFast:         false,
		DefaultTimeoutMs: int((30 * time.Second).Milliseconds()),
		OutputDir:        "outputs",
		Backends: Backends{
			Shell:    "/bin/sh",
			Headless: true,
		},
	}
}

// Load parses a config document from r with strict field checking,
// applied over the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return cfg, nil // empty file means all defaults
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses a config file. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be >= 1, got %d", c.MaxParallel)
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retry_count must be >= 0, got %d", c.RetryCount)
	}
	if c.DefaultTimeoutMs < 0 {
		return fmt.Errorf("default_timeout_ms must be >= 0, got %d", c.DefaultTimeoutMs)
	}
	if c.Reporting.Enabled {
		if c.Reporting.Endpoint == "" {
			return fmt.Errorf("reporting.endpoint is required when reporting is enabled")
		}
		if c.Reporting.Project == "" {
			return fmt.Errorf("reporting.project is required when reporting is enabled")
		}
	}
	switch c.Triage.LLM {
	case "", "azure":
	default:
		return fmt.Errorf("triage.llm must be \"azure\" or empty, got %q", c.Triage.LLM)
	}
	return nil
}

// DefaultTimeout returns the default step timeout as a duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}
