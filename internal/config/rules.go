package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pimsync/runtime/internal/filter"
)

// ParseRuleSetFile reads a filter rule set file and validates it against the
// rule set schema.
func ParseRuleSetFile(filepath string) *Result {
	return finish(ParseFile(filepath), ValidateRuleSet)
}

// ParseRuleSetString is ParseRuleSetFile for in-memory content.
func ParseRuleSetString(content, format string) *Result {
	return finish(ParseString(content, format), ValidateRuleSet)
}

// ConvertToRuleSet converts a validated rule set document and checks the
// fields its updated mode needs.
func ConvertToRuleSet(data map[string]interface{}) (*filter.RuleSet, error) {
	if data == nil {
		return nil, fmt.Errorf("rule set data is nil")
	}

	doc := make(map[string]interface{}, len(data))
	for k, v := range data {
		doc[k] = v
	}
	// completenessValue may be written as a bare number.
	switch v := doc["completenessValue"].(type) {
	case int, int64, float64, json.Number:
		doc["completenessValue"] = fmt.Sprint(v)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding rule set: %w", err)
	}
	var rs filter.RuleSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}
	return &rs, nil
}

// LoadRuleSet parses, validates and converts a rule set file. Parse and
// validation failures are joined into the returned error.
func LoadRuleSet(filepath string) (*filter.RuleSet, error) {
	result := ParseRuleSetFile(filepath)
	if !result.IsValid() {
		return nil, errors.Join(result.AllErrors()...)
	}
	return ConvertToRuleSet(result.Data)
}
