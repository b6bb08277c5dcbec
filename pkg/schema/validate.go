package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "scenarios[2].steps")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// HasErrors reports whether the list contains any entries with severity
// "error". Warnings alone do not block execution.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity != "warning" {
			return true
		}
	}
	return false
}

// ValidateFile performs the full 3-phase validation pipeline on a suite file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Suite, []*ValidationError) {
	s, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return s, Validate(s)
}

// Validate runs the semantic and domain phases over an already-parsed suite.
func Validate(s *Suite) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(s)...)
	all = append(all, validateDomain(s)...)
	return all
}

// validateSemantic validates the suite against the JSON Schema.
func validateSemantic(s *Suite) []*ValidationError {
	data, err := json.Marshal(s)
	if err != nil {
		return semanticFailure("marshal for schema validation: %v", err)
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return semanticFailure("generate schema: %v", err)
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return semanticFailure("unmarshal schema: %v", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("suite-v1.json", schemaDoc); err != nil {
		return semanticFailure("add schema resource: %v", err)
	}

	sch, err := c.Compile("suite-v1.json")
	if err != nil {
		return semanticFailure("compile schema: %v", err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return semanticFailure("unmarshal document: %v", err)
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

func semanticFailure(format string, args ...interface{}) []*ValidationError {
	return []*ValidationError{{
		Phase:    "semantic",
		Message:  fmt.Sprintf(format, args...),
		Severity: "error",
	}}
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// validateDomain performs Phase 3 domain-level validation.
func validateDomain(s *Suite) []*ValidationError {
	var errs []*ValidationError

	if s.APIVersion != "suite/v1" {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "apiVersion",
			Message:  fmt.Sprintf("unrecognized apiVersion %q, expected %q", s.APIVersion, "suite/v1"),
			Severity: "error",
		})
	}

	if len(s.Scenarios) == 0 {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     "scenarios",
			Message:  "suite declares no scenarios",
			Severity: "warning",
		})
	}

	seen := make(map[string]int)
	for i := range s.Scenarios {
		sc := &s.Scenarios[i]
		path := fmt.Sprintf("scenarios[%d]", i)

		if prev, dup := seen[sc.ID]; dup {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".id",
				Message:  fmt.Sprintf("duplicate scenario id %q (first declared at scenarios[%d])", sc.ID, prev),
				Severity: "error",
			})
		} else {
			seen[sc.ID] = i
		}

		// Unknown interfaces are dispatched as routing failures at run
		// time, so they are a warning here, not an error.
		if !sc.Interface.IsKnown() {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".interface",
				Message:  fmt.Sprintf("unknown interface %q — scenario will be reported as unroutable", sc.Interface),
				Severity: "warning",
			})
		}

		if sc.IsEnabled() && len(sc.Steps) == 0 {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".steps",
				Message:  "enabled scenario has no steps",
				Severity: "error",
			})
		}

		if sc.Retries != nil && *sc.Retries < 0 {
			errs = append(errs, &ValidationError{
				Phase:    "domain",
				Path:     path + ".retries",
				Message:  "retries must be >= 0",
				Severity: "error",
			})
		}

		for j := range sc.Steps {
			if sc.Steps[j].Action == "" {
				errs = append(errs, &ValidationError{
					Phase:    "domain",
					Path:     fmt.Sprintf("%s.steps[%d].action", path, j),
					Message:  "step action is required",
					Severity: "error",
				})
			}
		}
	}

	return errs
}
