// Package schema defines the Go struct types for the scenario suite YAML
// schema and provides strict YAML parsing.
package schema

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// InterfaceType is the category of back-end required to run a scenario.
type InterfaceType string

// Interface types accepted in suite documents.
const (
	InterfaceProcess  InterfaceType = "process"
	InterfaceTerminal InterfaceType = "terminal"
	InterfaceGUI      InterfaceType = "gui"
	InterfaceAPI      InterfaceType = "api"
	InterfaceMixed    InterfaceType = "mixed"
)

// KnownInterfaces lists every interface type a suite document may declare.
var KnownInterfaces = []InterfaceType{
	InterfaceProcess, InterfaceTerminal, InterfaceGUI, InterfaceAPI, InterfaceMixed,
}

// IsKnown reports whether t is one of the declared interface types.
func (t InterfaceType) IsKnown() bool {
	for _, k := range KnownInterfaces {
		if t == k {
			return true
		}
	}
	return false
}

// Suite is the top-level document holding a batch of scenarios.
type Suite struct {
	APIVersion string     `yaml:"apiVersion" json:"apiVersion" jsonschema:"required,enum=suite/v1"`
	Meta       Meta       `yaml:"meta"       json:"meta"       jsonschema:"required"`
	Scenarios  []Scenario `yaml:"scenarios"  json:"scenarios"  jsonschema:"required"`
}

// Meta contains suite metadata and shared variables.
type Meta struct {
	Name        string            `yaml:"name"                  json:"name" jsonschema:"required"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty"        json:"vars,omitempty"`
}

// Scenario is a named, declarative unit of test work with an ordered list
// of steps and a declared interface type. Scenarios are read-only once
// dispatched.
type Scenario struct {
	ID        string        `yaml:"id"                   json:"id"   jsonschema:"required"`
	Name      string        `yaml:"name"                 json:"name" jsonschema:"required"`
	Interface InterfaceType `yaml:"interface"            json:"interface" jsonschema:"required"`
	Steps     []Step        `yaml:"steps,omitempty"      json:"steps,omitempty"`
	Tags      []string      `yaml:"tags,omitempty"       json:"tags,omitempty"`
	Enabled   *bool         `yaml:"enabled,omitempty"    json:"enabled,omitempty"`
	When      string        `yaml:"when,omitempty"       json:"when,omitempty"`
	TimeoutMs int           `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Retries   *int          `yaml:"retries,omitempty"    json:"retries,omitempty"`
}

// IsEnabled reports whether the scenario should be dispatched.
// Scenarios are enabled unless explicitly disabled.
func (s *Scenario) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Timeout returns the scenario timeout, or zero when unset.
func (s *Scenario) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// HasTag reports whether the scenario carries the given tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Step is a single action within a scenario. Steps are opaque to the
// dispatch core and interpreted only by back-ends.
type Step struct {
	Action    string `yaml:"action"               json:"action" jsonschema:"required"`
	Target    string `yaml:"target,omitempty"     json:"target,omitempty"`
	Value     string `yaml:"value,omitempty"      json:"value,omitempty"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// Timeout returns the step timeout, or zero when unset.
func (s *Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Load parses a suite document from r with strict field checking.
// Unknown fields are rejected.
func Load(r io.Reader) (*Suite, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Suite
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse suite: %w", err)
	}
	return &s, nil
}

// LoadFile parses a suite document from a file path.
func LoadFile(path string) (*Suite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open suite: %w", err)
	}
	defer f.Close()

	s, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
