package values

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SourcePrefix namespaces option codes of remote origin so they never collide
// with locally authored options sharing the same code.
const SourcePrefix = "akeneo-"

// Namespaced returns code with the source prefix. Codes that already start
// with the prefix get it again, so "red" and "akeneo-red" stay distinct.
func Namespaced(code string) string {
	return SourcePrefix + code
}

// Builder transforms one raw remote value of an attribute.
type Builder interface {
	Build(attribute, locale, scope string, raw interface{}) (interface{}, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(attribute, locale, scope string, raw interface{}) (interface{}, error)

// Build calls f.
func (f BuilderFunc) Build(attribute, locale, scope string, raw interface{}) (interface{}, error) {
	return f(attribute, locale, scope, raw)
}

// ErrUnexpectedType is wrapped by builders given a value of the wrong shape.
var ErrUnexpectedType = errors.New("unexpected value type")

func unexpected(attribute string, want string, raw interface{}) error {
	return fmt.Errorf("%w: attribute %s expects %s, got %T", ErrUnexpectedType, attribute, want, raw)
}

// Passthrough returns values unchanged.
var Passthrough = BuilderFunc(func(_, _, _ string, raw interface{}) (interface{}, error) {
	return raw, nil
})

var textBuilder = BuilderFunc(func(attribute, _, _ string, raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	default:
		return nil, unexpected(attribute, "a string", raw)
	}
})

var numberBuilder = BuilderFunc(func(attribute, _, _ string, raw interface{}) (interface{}, error) {
	return toFloat(attribute, raw)
})

func toFloat(attribute string, raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: invalid number %q", attribute, v)
		}
		return f, nil
	default:
		return nil, unexpected(attribute, "a number", raw)
	}
}

var booleanBuilder = BuilderFunc(func(attribute, _, _ string, raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("attribute %s: invalid boolean %q", attribute, v)
		}
		return b, nil
	case float64:
		return v != 0, nil
	default:
		return nil, unexpected(attribute, "a boolean", raw)
	}
})

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

var dateBuilder = BuilderFunc(func(attribute, _, _ string, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, unexpected(attribute, "a date string", raw)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return nil, fmt.Errorf("attribute %s: invalid date %q", attribute, s)
})

var simpleSelectBuilder = BuilderFunc(func(attribute, _, _ string, raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return Namespaced(v), nil
	default:
		return nil, unexpected(attribute, "an option code", raw)
	}
})

var multiSelectBuilder = BuilderFunc(func(attribute, _, _ string, raw interface{}) (interface{}, error) {
	var codes []string
	switch v := raw.(type) {
	case nil:
		return []string{}, nil
	case []string:
		codes = v
	case []interface{}:
		codes = make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, unexpected(attribute, "a list of option codes", raw)
			}
			codes = append(codes, s)
		}
	default:
		return nil, unexpected(attribute, "a list of option codes", raw)
	}

	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = Namespaced(c)
	}
	return out, nil
})

var metricBuilder = BuilderFunc(func(attribute, _, _ string, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, unexpected(attribute, "a metric object", raw)
	}
	amount, err := toFloat(attribute, m["amount"])
	if err != nil {
		return nil, err
	}
	unit, _ := m["unit"].(string)
	return map[string]interface{}{"amount": amount, "unit": unit}, nil
})

var priceCollectionBuilder = BuilderFunc(func(attribute, _, _ string, raw interface{}) (interface{}, error) {
	if raw == nil {
		return map[string]interface{}{}, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, unexpected(attribute, "a list of prices", raw)
	}
	out := make(map[string]interface{}, len(list))
	for _, item := range list {
		p, ok := item.(map[string]interface{})
		if !ok {
			return nil, unexpected(attribute, "a price object", item)
		}
		currency, _ := p["currency"].(string)
		if currency == "" {
			return nil, fmt.Errorf("attribute %s: price without currency", attribute)
		}
		amount, err := toFloat(attribute, p["amount"])
		if err != nil {
			return nil, err
		}
		out[currency] = amount
	}
	return out, nil
})
