package filter

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func mustDate(t *testing.T, s string) *Date {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return &d
}

func encode(t *testing.T, q Query) string {
	t.Helper()
	s, err := q.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return s
}

func TestCompile_NoRuleSet(t *testing.T) {
	res, err := Compile(nil, TargetProducts, []string{"en_US"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Query.IsEmpty() {
		t.Errorf("expected empty query, got %d clauses", res.Query.Len())
	}
	if encode(t, res.Query) != "" {
		t.Error("empty query should encode to an empty search parameter")
	}
}

func TestCompile_SinceLastNDaysAndFamily(t *testing.T) {
	rs := &RuleSet{Mode: ModeSimple, UpdatedMode: UpdatedSinceLastNDays, Updated: 7, Families: []string{"shoes"}}

	res, err := Compile(rs, TargetProducts, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Clause{
		{Field: FieldUpdated, Operator: OpSinceLastNDays, Value: 7},
		{Field: FieldFamily, Operator: OpIn, Value: []string{"shoes"}},
	}
	if !reflect.DeepEqual(res.Query.Clauses(), want) {
		t.Errorf("clauses = %#v, want %#v", res.Query.Clauses(), want)
	}

	wantJSON := `{"updated":[{"operator":"SINCE LAST N DAYS","value":7}],"family":[{"operator":"IN","value":["shoes"]}]}`
	if got := encode(t, res.Query); got != wantJSON {
		t.Errorf("encoded = %s, want %s", got, wantJSON)
	}
}

func TestCompile_UpdatedModes(t *testing.T) {
	before := mustDate(t, "2024-01-01 08:00:00")
	after := mustDate(t, "2024-03-15T10:30:00Z")

	tests := []struct {
		name     string
		rs       RuleSet
		wantOp   string
		wantVal  interface{}
		noClause bool
	}{
		{
			name:    "greater than uses updatedAfter",
			rs:      RuleSet{Mode: ModeSimple, UpdatedMode: UpdatedGreaterThan, UpdatedAfter: after},
			wantOp:  OpGreaterThan,
			wantVal: "2024-03-15 10:30:00",
		},
		{
			name:    "lower than uses updatedBefore",
			rs:      RuleSet{Mode: ModeSimple, UpdatedMode: UpdatedLowerThan, UpdatedBefore: before},
			wantOp:  OpLowerThan,
			wantVal: "2024-01-01 08:00:00",
		},
		{
			name:    "between keeps before then after",
			rs:      RuleSet{Mode: ModeSimple, UpdatedMode: UpdatedBetween, UpdatedBefore: before, UpdatedAfter: after},
			wantOp:  OpBetween,
			wantVal: []string{"2024-01-01 08:00:00", "2024-03-15 10:30:00"},
		},
		{
			name:     "unknown mode adds nothing",
			rs:       RuleSet{Mode: ModeSimple, UpdatedMode: "yesterday"},
			noClause: true,
		},
		{
			name:     "no mode adds nothing",
			rs:       RuleSet{Mode: ModeSimple},
			noClause: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compile(&tt.rs, TargetProducts, nil, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			clauses := res.Query.ByField(FieldUpdated)
			if tt.noClause {
				if len(clauses) != 0 {
					t.Errorf("expected no updated clause, got %v", clauses)
				}
				return
			}
			if len(clauses) != 1 {
				t.Fatalf("expected exactly one updated clause, got %d", len(clauses))
			}
			if clauses[0].Operator != tt.wantOp {
				t.Errorf("operator = %s, want %s", clauses[0].Operator, tt.wantOp)
			}
			if !reflect.DeepEqual(clauses[0].Value, tt.wantVal) {
				t.Errorf("value = %#v, want %#v", clauses[0].Value, tt.wantVal)
			}
		})
	}
}

func TestCompile_ProductCompleteness(t *testing.T) {
	rs := &RuleSet{
		Mode:              ModeSimple,
		CompletenessType:  OpGreaterOrEqualsThanOnAllLocales,
		CompletenessValue: "80",
		Locales:           []string{"fr_FR"},
	}

	res, err := Compile(rs, TargetProducts, []string{"en_US", "fr_FR"}, "print")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Clause{
		{
			Field: FieldCompleteness, Operator: OpGreaterOrEqualsThanOnAllLocales, Value: 80,
			Context: Context{Locales: []string{"en_US", "fr_FR"}, Scope: "print"},
		},
		{
			Field: FieldCompleteness, Operator: OpGreaterOrEqualsThanOnAllLocales, Value: 80,
			Context: Context{Locales: []string{"fr_FR"}, Scope: "print"},
		},
	}
	if !reflect.DeepEqual(res.Query.Clauses(), want) {
		t.Errorf("clauses = %#v\nwant %#v", res.Query.Clauses(), want)
	}
}

func TestCompile_ProductCompletenessSingleClause(t *testing.T) {
	rs := &RuleSet{Mode: ModeSimple, CompletenessType: ">", CompletenessValue: "50"}

	res, err := Compile(rs, TargetProducts, []string{"en_US"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clauses := res.Query.ByField(FieldCompleteness)
	if len(clauses) != 1 {
		t.Fatalf("expected one completeness clause, got %d", len(clauses))
	}
	if clauses[0].Operator != ">" || clauses[0].Value != 50 || clauses[0].Context.Scope != DefaultScope {
		t.Errorf("unexpected clause %#v", clauses[0])
	}
}

func TestCompile_ProductModelCompleteness(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		typ    string
		wantOp []string
	}{
		{"full sentinel forces all complete", "100", ">", []string{OpAllComplete}},
		{"other value forces at least complete", "90", "=", []string{OpAtLeastComplete}},
		{"all locales type adds a second clause", "100", OpLowerThanOnAllLocales, []string{OpAllComplete, OpLowerThanOnAllLocales}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := &RuleSet{Mode: ModeSimple, CompletenessType: tt.typ, CompletenessValue: tt.value, Locales: []string{"de_DE"}}
			res, err := Compile(rs, TargetProductModels, []string{"en_US"}, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			clauses := res.Query.ByField(FieldCompleteness)
			if len(clauses) != len(tt.wantOp) {
				t.Fatalf("got %d clauses, want %d", len(clauses), len(tt.wantOp))
			}
			for i, c := range clauses {
				if c.Operator != tt.wantOp[i] {
					t.Errorf("clause %d operator = %s, want %s", i, c.Operator, tt.wantOp[i])
				}
				if c.Value != nil {
					t.Errorf("clause %d should carry no value, got %v", i, c.Value)
				}
			}
			if clauses[0].Context.Locales[0] != "en_US" {
				t.Errorf("first clause should use runtime locales, got %v", clauses[0].Context.Locales)
			}
			if len(clauses) == 2 && clauses[1].Context.Locales[0] != "de_DE" {
				t.Errorf("second clause should use the rule set locales, got %v", clauses[1].Context.Locales)
			}
			if strings.Contains(encode(t, res.Query), `"value"`) {
				t.Error("encoded product model completeness must not carry a value")
			}
		})
	}
}

func TestCompile_CompletenessSkippedWithoutLocales(t *testing.T) {
	rs := &RuleSet{Mode: ModeSimple, CompletenessType: OpGreaterThanOnAllLocales, CompletenessValue: "100", Locales: []string{"en_US"}}
	for _, target := range []Target{TargetProducts, TargetProductModels} {
		res, err := Compile(rs, target, nil, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Query.IsEmpty() {
			t.Errorf("%s: expected no clause without runtime locales, got %v", target, res.Query.Clauses())
		}
	}
}

func TestResolveLocales(t *testing.T) {
	remote := []Locale{
		{Code: "de_DE", Enabled: true},
		{Code: "en_US", Enabled: true},
		{Code: "fr_FR", Enabled: false},
		{Code: "it_IT", Enabled: true},
	}

	got := ResolveLocales(remote, []string{"fr_FR", "en_US", "de_DE"})
	if !reflect.DeepEqual(got, []string{"de_DE", "en_US"}) {
		t.Errorf("got %v", got)
	}
	if ResolveLocales(nil, []string{"en_US"}) != nil {
		t.Error("empty remote list should resolve to nil")
	}
	if ResolveLocales(remote, nil) != nil {
		t.Error("empty store list should resolve to nil")
	}
}

func TestCompile_AdvancedDropsUnknownKeys(t *testing.T) {
	docs := []string{
		`{"updated":[{"operator":">","value":"2024-01-01 00:00:00"}],"enabled":[{"operator":"=","value":true}]}`,
		`{"identifier":[{"operator":"IN","value":["a"]}],"groups":[],"family":[{"operator":"IN","value":["shoes"]}]}`,
		`{"created":[{"operator":"<","value":"2020-01-01 00:00:00"}],"categories":[{"operator":"IN","value":["master"]}],"parent":[]}`,
	}

	allowed := map[string]bool{}
	for _, k := range AllowedAdvancedKeys {
		allowed[k] = true
	}

	for _, doc := range docs {
		for _, target := range []Target{TargetProducts, TargetProductModels} {
			res, err := Compile(&RuleSet{Mode: ModeAdvanced, AdvancedFilter: json.RawMessage(doc)}, target, nil, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(res.Dropped) == 0 {
				t.Errorf("expected dropped keys for %s", doc)
			}

			var out map[string]json.RawMessage
			if err := json.Unmarshal([]byte(encode(t, res.Query)), &out); err != nil {
				t.Fatalf("encoded query is not a JSON object: %v", err)
			}
			for k := range out {
				if !allowed[k] {
					t.Errorf("compiled document contains disallowed key %q", k)
				}
			}
		}
	}
}

func TestCompile_AdvancedCompleteness(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		wantOp string
	}{
		{"string 100", `{"completeness":[{"operator":">","value":"100","locales":["en_US"],"scope":"ecommerce"}]}`, OpAllComplete},
		{"string 80", `{"completeness":[{"operator":">","value":"80","locales":["en_US"],"scope":"ecommerce"}]}`, OpAtLeastComplete},
		{"number 50", `{"completeness":[{"operator":"=","value":50,"scope":"ecommerce"}]}`, OpAtLeastComplete},
		{"no value keeps operator", `{"completeness":[{"operator":"ALL COMPLETE","locales":["en_US"],"scope":"ecommerce"}]}`, OpAllComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compile(&RuleSet{Mode: ModeAdvanced, AdvancedFilter: json.RawMessage(tt.doc)}, TargetProductModels, nil, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			clauses := res.Query.ByField(FieldCompleteness)
			if len(clauses) != 1 {
				t.Fatalf("expected one completeness clause, got %d", len(clauses))
			}
			if clauses[0].Operator != tt.wantOp {
				t.Errorf("operator = %s, want %s", clauses[0].Operator, tt.wantOp)
			}
			if clauses[0].Value != nil {
				t.Errorf("value should be removed, got %v", clauses[0].Value)
			}
			if strings.Contains(encode(t, res.Query), `"value"`) {
				t.Error("encoded completeness clause must not carry a value key")
			}
		})
	}
}

func TestCompile_AdvancedKeepsClauses(t *testing.T) {
	doc := `{"family":[{"operator":"IN","value":["shoes","bags"]}],"updated":[{"operator":"SINCE LAST N DAYS","value":3}]}`
	res, err := Compile(&RuleSet{Mode: ModeAdvanced, AdvancedFilter: json.RawMessage(doc)}, TargetProducts, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"updated":[{"operator":"SINCE LAST N DAYS","value":3}],"family":[{"operator":"IN","value":["shoes","bags"]}]}`
	if got := encode(t, res.Query); got != want {
		t.Errorf("encoded = %s, want %s", got, want)
	}
}

func TestCompile_AdvancedEmptyAndInvalid(t *testing.T) {
	for _, doc := range []string{"", "  ", "null", "{}"} {
		res, err := Compile(&RuleSet{Mode: ModeAdvanced, AdvancedFilter: json.RawMessage(doc)}, TargetProducts, nil, "")
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", doc, err)
		}
		if !res.Query.IsEmpty() {
			t.Errorf("%q: expected unfiltered pull", doc)
		}
	}

	if _, err := Compile(&RuleSet{Mode: ModeAdvanced, AdvancedFilter: json.RawMessage(`{"updated":{"operator":">"}}`)}, TargetProducts, nil, ""); err == nil {
		t.Error("expected error for a non-list clause")
	}
}

func TestParseAdvancedFilter_Strict(t *testing.T) {
	_, err := ParseAdvancedFilter([]byte(`{"family":[{"operator":"IN","value":["a"]}],"enabled":[]}`))
	if !errors.Is(err, ErrUnknownAdvancedKey) {
		t.Errorf("expected ErrUnknownAdvancedKey, got %v", err)
	}

	if _, err := ParseAdvancedFilter([]byte(`{"family":[{"operator":"IN","value":["a"],"attribute":"x"}]}`)); err == nil {
		t.Error("expected error for unknown condition key")
	}

	doc, err := ParseAdvancedFilter([]byte(`{"categories":[{"operator":"IN","value":["winter"]}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Categories) != 1 || doc.Categories[0].Operator != OpIn {
		t.Errorf("unexpected doc %+v", doc)
	}
}

type countingLocales struct {
	calls   int
	locales []Locale
	err     error
}

func (c *countingLocales) Locales(context.Context) ([]Locale, error) {
	c.calls++
	return c.locales, c.err
}

func TestCompiler_ListsLocalesOnlyWhenNeeded(t *testing.T) {
	src := &countingLocales{locales: []Locale{{Code: "en_US", Enabled: true}}}
	c := &Compiler{Remote: src, StoreLocales: []string{"en_US"}}

	q, err := c.Compile(context.Background(), &RuleSet{Mode: ModeSimple, Families: []string{"shoes"}}, TargetProducts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.calls != 0 {
		t.Errorf("locales listed %d times without a completeness clause", src.calls)
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 clause, got %d", q.Len())
	}

	q, err = c.Compile(context.Background(), &RuleSet{Mode: ModeSimple, CompletenessType: OpAllComplete}, TargetProductModels)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("expected one locale listing, got %d", src.calls)
	}
	if q.Len() != 1 {
		t.Errorf("expected completeness clause, got %d clauses", q.Len())
	}
}

func TestCompiler_LocaleErrorIsReturned(t *testing.T) {
	src := &countingLocales{err: errors.New("503 Service Unavailable")}
	c := &Compiler{Remote: src, StoreLocales: []string{"en_US"}}

	_, err := c.Compile(context.Background(), &RuleSet{Mode: ModeSimple, CompletenessType: ">"}, TargetProducts)
	if err == nil || !strings.Contains(err.Error(), "listing remote locales") {
		t.Errorf("expected wrapped locale error, got %v", err)
	}
}

func TestRuleSetJSON(t *testing.T) {
	raw := `{"mode":"simple","updatedMode":"BETWEEN","updatedBefore":"2024-01-01 00:00:00","updatedAfter":"2024-02-01","families":["shoes"]}`
	var rs RuleSet
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rs.UpdatedMode != UpdatedBetween {
		t.Errorf("updatedMode = %s", rs.UpdatedMode)
	}
	if !rs.UpdatedAfter.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("updatedAfter = %v", rs.UpdatedAfter)
	}
	if err := rs.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	bad := RuleSet{Mode: ModeSimple, UpdatedMode: UpdatedGreaterThan}
	if err := bad.Validate(); err == nil {
		t.Error("greaterThan without updatedAfter should not validate")
	}
	if err := (&RuleSet{Mode: "fuzzy"}).Validate(); err == nil {
		t.Error("unknown mode should not validate")
	}
	if err := (&RuleSet{Mode: ModeAdvanced, AdvancedFilter: json.RawMessage(`{"sku":[]}`)}).Validate(); !errors.Is(err, ErrUnknownAdvancedKey) {
		t.Errorf("expected ErrUnknownAdvancedKey, got %v", err)
	}
}
