package filter

import (
	"bytes"
	"encoding/json"
)

// Remote query operators.
const (
	OpGreaterThan                     = ">"
	OpLowerThan                       = "<"
	OpBetween                         = "BETWEEN"
	OpSinceLastNDays                  = "SINCE LAST N DAYS"
	OpIn                              = "IN"
	OpAtLeastComplete                 = "AT LEAST COMPLETE"
	OpAllComplete                     = "ALL COMPLETE"
	OpGreaterThanOnAllLocales         = "GREATER THAN ON ALL LOCALES"
	OpGreaterOrEqualsThanOnAllLocales = "GREATER OR EQUALS THAN ON ALL LOCALES"
	OpLowerThanOnAllLocales           = "LOWER THAN ON ALL LOCALES"
	OpLowerOrEqualsThanOnAllLocales   = "LOWER OR EQUALS THAN ON ALL LOCALES"
)

// IsAllLocalesOperator reports whether op is evaluated across every locale.
func IsAllLocalesOperator(op string) bool {
	switch op {
	case OpGreaterThanOnAllLocales, OpGreaterOrEqualsThanOnAllLocales,
		OpLowerThanOnAllLocales, OpLowerOrEqualsThanOnAllLocales:
		return true
	}
	return false
}

// Context carries the locale/scope metadata some clauses need.
type Context struct {
	Locale  string
	Locales []string
	Scope   string
}

// Clause is one (field, operator, value, context) predicate.
type Clause struct {
	Field    string
	Operator string
	// Value is omitted from the wire form when nil.
	Value   interface{}
	Context Context
}

// Query is an ordered, immutable list of clauses. The zero value is the
// empty query, which means an unfiltered pull.
type Query struct {
	clauses []Clause
}

// NewQuery returns a query made of clauses, in order.
func NewQuery(clauses ...Clause) Query {
	if len(clauses) == 0 {
		return Query{}
	}
	out := make([]Clause, len(clauses))
	copy(out, clauses)
	return Query{clauses: out}
}

// with returns a new query with c appended.
func (q Query) with(c Clause) Query {
	out := make([]Clause, len(q.clauses), len(q.clauses)+1)
	copy(out, q.clauses)
	return Query{clauses: append(out, c)}
}

// Clauses returns a copy of the clauses.
func (q Query) Clauses() []Clause {
	out := make([]Clause, len(q.clauses))
	copy(out, q.clauses)
	return out
}

// Len returns the number of clauses.
func (q Query) Len() int { return len(q.clauses) }

// IsEmpty reports whether the query filters nothing.
func (q Query) IsEmpty() bool { return len(q.clauses) == 0 }

// Fields returns the distinct clause fields in first-appearance order.
func (q Query) Fields() []string {
	var fields []string
	seen := make(map[string]bool)
	for _, c := range q.clauses {
		if !seen[c.Field] {
			seen[c.Field] = true
			fields = append(fields, c.Field)
		}
	}
	return fields
}

// ByField returns the clauses on field, in order.
func (q Query) ByField(field string) []Clause {
	var out []Clause
	for _, c := range q.clauses {
		if c.Field == field {
			out = append(out, c)
		}
	}
	return out
}

type wireCondition struct {
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
	Locale   string      `json:"locale,omitempty"`
	Locales  []string    `json:"locales,omitempty"`
	Scope    string      `json:"scope,omitempty"`
}

// MarshalJSON encodes the query in the remote search format:
// {"field":[{"operator":..,"value":..,"locales":..,"scope":..}],...}
// with fields in first-appearance order.
func (q Query) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range q.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var conds []wireCondition
		for _, c := range q.ByField(field) {
			conds = append(conds, wireCondition{
				Operator: c.Operator,
				Value:    c.Value,
				Locale:   c.Context.Locale,
				Locales:  c.Context.Locales,
				Scope:    c.Context.Scope,
			})
		}
		body, err := json.Marshal(conds)
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Encode returns the search parameter value, empty for the empty query.
func (q Query) Encode() (string, error) {
	if q.IsEmpty() {
		return "", nil
	}
	b, err := q.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
