package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/settings-schema.json
var settingsSchemaJSON []byte

//go:embed schema/rules-schema.json
var rulesSchemaJSON []byte

// embeddedSchema compiles its document once, on first use.
type embeddedSchema struct {
	url string
	raw []byte

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

var (
	settingsSchema = &embeddedSchema{url: "https://pimsync.dev/schemas/settings/v1/settings-schema.json", raw: settingsSchemaJSON}
	rulesSchema    = &embeddedSchema{url: "https://pimsync.dev/schemas/rules/v1/rules-schema.json", raw: rulesSchemaJSON}
)

func (s *embeddedSchema) get() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		var doc interface{}
		if err := json.Unmarshal(s.raw, &doc); err != nil {
			s.err = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(s.url, doc); err != nil {
			s.err = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		s.compiled, s.err = compiler.Compile(s.url)
		if s.err != nil {
			s.err = fmt.Errorf("failed to compile schema: %w", s.err)
		}
	})
	return s.compiled, s.err
}

// SettingsSchema returns the embedded settings schema document.
func SettingsSchema() []byte { return settingsSchemaJSON }

// RulesSchema returns the embedded rule set schema document.
func RulesSchema() []byte { return rulesSchemaJSON }

// ValidateSettings validates a parsed settings document.
func ValidateSettings(data map[string]interface{}) *ValidationResult {
	return validate(settingsSchema, data)
}

// ValidateRuleSet validates a parsed rule set document. Unknown advanced
// filter keys are rejected here.
func ValidateRuleSet(data map[string]interface{}) *ValidationResult {
	return validate(rulesSchema, data)
}

func validate(s *embeddedSchema, data map[string]interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if len(data) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "required",
			Message: "document is empty",
		})
		return result
	}

	schema, err := s.get()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "schema",
			Message: fmt.Sprintf("failed to load schema: %v", err),
		})
		return result
	}

	if err := schema.Validate(data); err != nil {
		result.Valid = false
		var detailed *jsonschema.ValidationError
		if errors.As(err, &detailed) {
			result.Errors = convertValidationErrors(detailed)
		}
		if len(result.Errors) == 0 {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "/",
				Type:    "validation",
				Message: err.Error(),
			})
		}
	}
	return result
}

// convertValidationErrors flattens the leaves of a jsonschema error tree.
func convertValidationErrors(err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) == 0 {
		return []ValidationError{{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    extractErrorType(err),
			Message: err.Error(),
		}}
	}
	var out []ValidationError
	for _, cause := range err.Causes {
		out = append(out, convertValidationErrors(cause)...)
	}
	return out
}

func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

func extractErrorType(err *jsonschema.ValidationError) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "additional properties") || strings.Contains(msg, "additionalproperties"):
		return "additionalProperties"
	case strings.Contains(msg, "missing propert") || strings.Contains(msg, "required"):
		return "required"
	case strings.Contains(msg, "value must be one of") || strings.Contains(msg, "enum"):
		return "enum"
	case strings.Contains(msg, "minimum") || strings.Contains(msg, "maximum") ||
		strings.Contains(msg, "must be >=") || strings.Contains(msg, "must be <="):
		return "range"
	case strings.Contains(msg, "pattern") || strings.Contains(msg, "does not match"):
		return "pattern"
	case strings.Contains(msg, "format"):
		return "format"
	case strings.Contains(msg, "got ") && strings.Contains(msg, "want "):
		return "type"
	default:
		return "validation"
	}
}
