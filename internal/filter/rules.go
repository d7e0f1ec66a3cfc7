// Package filter compiles the persisted product filter rule set into the
// remote catalog's search predicate.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mode selects how a rule set is compiled.
type Mode string

const (
	// ModeSimple builds the query from the structured fields.
	ModeSimple Mode = "simple"
	// ModeAdvanced sends the stored advanced document.
	ModeAdvanced Mode = "advanced"
)

// UpdatedMode selects the update-date clause.
type UpdatedMode string

const (
	UpdatedGreaterThan    UpdatedMode = "greaterThan"
	UpdatedLowerThan      UpdatedMode = "lowerThan"
	UpdatedBetween        UpdatedMode = "between"
	UpdatedSinceLastNDays UpdatedMode = "sinceLastNDays"
)

// ParseUpdatedMode accepts a mode name or its remote operator.
func ParseUpdatedMode(s string) (UpdatedMode, bool) {
	switch s {
	case string(UpdatedGreaterThan), OpGreaterThan:
		return UpdatedGreaterThan, true
	case string(UpdatedLowerThan), OpLowerThan:
		return UpdatedLowerThan, true
	case string(UpdatedBetween), OpBetween:
		return UpdatedBetween, true
	case string(UpdatedSinceLastNDays), OpSinceLastNDays:
		return UpdatedSinceLastNDays, true
	}
	return "", false
}

// UnmarshalJSON accepts either the mode name or the operator. Unknown values
// are kept verbatim so the compiler can skip them.
func (m *UpdatedMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if parsed, ok := ParseUpdatedMode(s); ok {
		*m = parsed
		return nil
	}
	*m = UpdatedMode(s)
	return nil
}

// DateLayout is the remote API date-time format.
const DateLayout = "2006-01-02 15:04:05"

var dateLayouts = []string{DateLayout, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// Date is a point in time read from rule files as "2006-01-02 15:04:05",
// RFC 3339 or a bare date.
type Date struct {
	time.Time
}

// ParseDate parses s with the accepted layouts.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{t}, nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD HH:MM:SS", s)
}

// String formats the date in the remote API layout.
func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RuleSet is the store's product filter configuration. A nil *RuleSet means
// no filtering.
type RuleSet struct {
	Mode Mode `json:"mode"`

	UpdatedMode   UpdatedMode `json:"updatedMode,omitempty"`
	UpdatedBefore *Date       `json:"updatedBefore,omitempty"`
	UpdatedAfter  *Date       `json:"updatedAfter,omitempty"`
	// Updated is the day count for sinceLastNDays.
	Updated int `json:"updated,omitempty"`

	CompletenessType  string `json:"completenessType,omitempty"`
	CompletenessValue string `json:"completenessValue,omitempty"`

	Families []string `json:"families,omitempty"`
	// Locales is the explicit allowlist used by the all-locales completeness clause.
	Locales []string `json:"locales,omitempty"`

	// AdvancedFilter is the raw advanced document, used when Mode is advanced.
	AdvancedFilter json.RawMessage `json:"advancedFilter,omitempty"`
}

// Validate checks that the fields the selected updated mode needs are set.
func (r *RuleSet) Validate() error {
	if r == nil {
		return nil
	}
	switch r.Mode {
	case ModeSimple, ModeAdvanced:
	default:
		return fmt.Errorf("invalid mode %q: expected %q or %q", r.Mode, ModeSimple, ModeAdvanced)
	}
	if r.Mode == ModeAdvanced {
		if len(r.AdvancedFilter) > 0 {
			if _, err := ParseAdvancedFilter(r.AdvancedFilter); err != nil {
				return err
			}
		}
		return nil
	}
	switch r.UpdatedMode {
	case UpdatedGreaterThan:
		if r.UpdatedAfter == nil {
			return fmt.Errorf("updatedMode %s requires updatedAfter", r.UpdatedMode)
		}
	case UpdatedLowerThan:
		if r.UpdatedBefore == nil {
			return fmt.Errorf("updatedMode %s requires updatedBefore", r.UpdatedMode)
		}
	case UpdatedBetween:
		if r.UpdatedBefore == nil || r.UpdatedAfter == nil {
			return fmt.Errorf("updatedMode %s requires updatedBefore and updatedAfter", r.UpdatedMode)
		}
	case UpdatedSinceLastNDays:
		if r.Updated <= 0 {
			return fmt.Errorf("updatedMode %s requires a positive updated day count", r.UpdatedMode)
		}
	}
	return nil
}
