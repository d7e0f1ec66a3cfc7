package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Advanced document keys, in the order their clauses are emitted.
const (
	FieldUpdated      = "updated"
	FieldCompleteness = "completeness"
	FieldCategories   = "categories"
	FieldFamily       = "family"
	FieldCreated      = "created"
)

// AllowedAdvancedKeys are the only top-level keys an advanced document may carry.
var AllowedAdvancedKeys = []string{FieldUpdated, FieldCompleteness, FieldCategories, FieldFamily, FieldCreated}

// ErrUnknownAdvancedKey is returned by ParseAdvancedFilter for keys outside AllowedAdvancedKeys.
var ErrUnknownAdvancedKey = errors.New("unknown advanced filter key")

// FullCompleteness is the completeness value meaning complete on every locale.
const FullCompleteness = "100"

// Condition is one clause of an advanced document.
type Condition struct {
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
	Locale   string      `json:"locale,omitempty"`
	Locales  []string    `json:"locales,omitempty"`
	Scope    string      `json:"scope,omitempty"`
}

// AdvancedFilter is the typed form of an advanced document: one condition
// list per allowed key.
type AdvancedFilter struct {
	Updated      []Condition `json:"updated,omitempty"`
	Completeness []Condition `json:"completeness,omitempty"`
	Categories   []Condition `json:"categories,omitempty"`
	Family       []Condition `json:"family,omitempty"`
	Created      []Condition `json:"created,omitempty"`
}

func isBlankDocument(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}

// ParseAdvancedFilter decodes raw strictly: unknown top-level keys yield
// ErrUnknownAdvancedKey and unknown condition keys are rejected too. A blank
// document decodes to the zero filter.
func ParseAdvancedFilter(raw []byte) (AdvancedFilter, error) {
	var doc AdvancedFilter
	if isBlankDocument(raw) {
		return doc, nil
	}

	keys, err := topLevelKeys(raw)
	if err != nil {
		return doc, err
	}
	if unknown := unknownKeys(keys); len(unknown) > 0 {
		return doc, fmt.Errorf("%w: %v", ErrUnknownAdvancedKey, unknown)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return AdvancedFilter{}, fmt.Errorf("invalid advanced filter: %w", err)
	}
	return doc, nil
}

// parseAdvancedLenient decodes raw keeping only the allowed keys and returns
// the dropped ones. Persisted documents written before a key was disallowed
// still compile.
func parseAdvancedLenient(raw []byte) (AdvancedFilter, []string, error) {
	var doc AdvancedFilter
	if isBlankDocument(raw) {
		return doc, nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return doc, nil, fmt.Errorf("invalid advanced filter: %w", err)
	}

	dropped := unknownKeys(mapKeys(fields))
	for _, k := range dropped {
		delete(fields, k)
	}

	kept, err := json.Marshal(fields)
	if err != nil {
		return doc, dropped, err
	}
	dec := json.NewDecoder(bytes.NewReader(kept))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return AdvancedFilter{}, dropped, fmt.Errorf("invalid advanced filter: %w", err)
	}
	return doc, dropped, nil
}

func topLevelKeys(raw []byte) ([]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("invalid advanced filter: %w", err)
	}
	return mapKeys(fields), nil
}

func mapKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unknownKeys(keys []string) []string {
	var unknown []string
	for _, k := range keys {
		allowed := false
		for _, a := range AllowedAdvancedKeys {
			if k == a {
				allowed = true
				break
			}
		}
		if !allowed {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

// IsEmpty reports whether the document has no condition at all.
func (a AdvancedFilter) IsEmpty() bool {
	return len(a.Updated)+len(a.Completeness)+len(a.Categories)+len(a.Family)+len(a.Created) == 0
}

// withCompletenessOperators rewrites every completeness condition carrying a
// value into its operator form: the full completeness value becomes
// ALL COMPLETE, anything else AT LEAST COMPLETE, and the value is removed.
func (a AdvancedFilter) withCompletenessOperators() AdvancedFilter {
	if len(a.Completeness) == 0 {
		return a
	}
	rewritten := make([]Condition, len(a.Completeness))
	for i, c := range a.Completeness {
		if c.Value != nil {
			c.Operator = OpAtLeastComplete
			if isFullCompleteness(c.Value) {
				c.Operator = OpAllComplete
			}
			c.Value = nil
		}
		rewritten[i] = c
	}
	a.Completeness = rewritten
	return a
}

func isFullCompleteness(v interface{}) bool {
	switch val := v.(type) {
	case string:
		return val == FullCompleteness
	case json.Number:
		return val.String() == FullCompleteness
	case float64:
		return val == 100
	case int:
		return val == 100
	}
	return false
}

// Query flattens the document into a query, keys in AllowedAdvancedKeys order.
func (a AdvancedFilter) Query() Query {
	var q Query
	add := func(field string, conds []Condition) {
		for _, c := range conds {
			q = q.with(Clause{
				Field:    field,
				Operator: c.Operator,
				Value:    c.Value,
				Context:  Context{Locale: c.Locale, Locales: c.Locales, Scope: c.Scope},
			})
		}
	}
	add(FieldUpdated, a.Updated)
	add(FieldCompleteness, a.Completeness)
	add(FieldCategories, a.Categories)
	add(FieldFamily, a.Family)
	add(FieldCreated, a.Created)
	return q
}
