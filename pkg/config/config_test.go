package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.MaxParallel != 4 {
		t.Errorf("max_parallel default = %d", cfg.MaxParallel)
	}
	if cfg.FailFast {
		t.Error("fail_fast should default to off")
	}
	if cfg.OutputDir != "outputs" {
		t.Errorf("output_dir default = %q", cfg.OutputDir)
	}
	if cfg.DefaultTimeout() != 30*time.Second {
		t.Errorf("default timeout = %v", cfg.DefaultTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	doc := `
max_parallel: 8
fail_fast: true
reporting:
  enabled: true
  endpoint: https://tracker.test
  project: web
backends:
  base_url: https://api.test
`
	cfg, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxParallel != 8 || !cfg.FailFast {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	// Untouched fields keep their defaults.
	if cfg.OutputDir != "outputs" {
		t.Errorf("output_dir = %q, want the default", cfg.OutputDir)
	}
	if cfg.Backends.BaseURL != "https://api.test" {
		t.Errorf("base_url = %q", cfg.Backends.BaseURL)
	}
}

func TestLoadEmptyDocument(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxParallel != Default().MaxParallel {
		t.Error("empty document should yield the defaults")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	if _, err := Load(strings.NewReader("max_paralel: 8\n")); err == nil {
		t.Fatal("expected strict decode to reject the misspelled field")
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing config file should yield defaults, got %v", err)
	}
	if cfg.MaxParallel != Default().MaxParallel {
		t.Error("missing file did not yield defaults")
	}
}

func TestLoadFilePresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testmux.yaml")
	if err := os.WriteFile(path, []byte("retry_count: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.RetryCount != 2 {
		t.Errorf("retry_count = %d", cfg.RetryCount)
	}
}

func TestValidateRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"zero parallel", func(c *Config) { c.MaxParallel = 0 }, false},
		{"negative retries", func(c *Config) { c.RetryCount = -1 }, false},
		{"negative timeout", func(c *Config) { c.DefaultTimeoutMs = -5 }, false},
		{"reporting without endpoint", func(c *Config) { c.Reporting.Enabled = true; c.Reporting.Project = "p" }, false},
		{"reporting without project", func(c *Config) { c.Reporting.Enabled = true; c.Reporting.Endpoint = "https://t" }, false},
		{"reporting complete", func(c *Config) {
			c.Reporting.Enabled = true
			c.Reporting.Endpoint = "https://t"
			c.Reporting.Project = "p"
		}, true},
		{"unknown llm", func(c *Config) { c.Triage.LLM = "oracle" }, false},
		{"azure llm", func(c *Config) { c.Triage.LLM = "azure" }, true},
	}

	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		err := cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}
