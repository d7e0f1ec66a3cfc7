package values

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pimsync/runtime/pkg/catalog"
)

// defaultBuilders is the built-in kind to builder mapping. Claiming a kind
// twice in this literal does not compile.
var defaultBuilders = map[Kind]Builder{
	KindIdentifier:      textBuilder,
	KindText:            textBuilder,
	KindTextarea:        textBuilder,
	KindNumber:          numberBuilder,
	KindBoolean:         booleanBuilder,
	KindDate:            dateBuilder,
	KindSimpleSelect:    simpleSelectBuilder,
	KindMultiSelect:     multiSelectBuilder,
	KindMetric:          metricBuilder,
	KindPriceCollection: priceCollectionBuilder,
}

// ErrAmbiguousClaim is returned by NewRegistry when two claims target the same kind.
var ErrAmbiguousClaim = errors.New("attribute kind claimed by more than one builder")

// Claim binds a builder to a kind.
type Claim struct {
	Kind    Kind
	Builder Builder
}

// Registry selects the builder of an attribute kind. Kinds without a builder
// pass their values through unchanged.
type Registry struct {
	builders map[Kind]Builder
}

// DefaultRegistry returns a registry with the built-in builders.
func DefaultRegistry() *Registry {
	builders := make(map[Kind]Builder, len(defaultBuilders))
	for k, b := range defaultBuilders {
		builders[k] = b
	}
	return &Registry{builders: builders}
}

// NewRegistry builds a registry from claims on top of the built-in builders.
// Claims replace built-ins, but two claims on one kind are a configuration
// error reported here, before any run starts.
func NewRegistry(claims ...Claim) (*Registry, error) {
	r := DefaultRegistry()
	seen := make(map[Kind]bool, len(claims))
	var dup []string
	for _, c := range claims {
		if c.Builder == nil {
			return nil, fmt.Errorf("nil builder claimed for kind %s", c.Kind)
		}
		if seen[c.Kind] {
			dup = append(dup, c.Kind.String())
			continue
		}
		seen[c.Kind] = true
		r.builders[c.Kind] = c.Builder
	}
	if len(dup) > 0 {
		sort.Strings(dup)
		return nil, fmt.Errorf("%w: %v", ErrAmbiguousClaim, dup)
	}
	return r, nil
}

// Supports reports whether kind has a dedicated builder.
func (r *Registry) Supports(kind Kind) bool {
	_, ok := r.builders[kind]
	return ok
}

// For returns the builder of kind, Passthrough when there is none.
func (r *Registry) For(kind Kind) Builder {
	if b, ok := r.builders[kind]; ok {
		return b
	}
	return Passthrough
}

// ValueError is a single value that could not be built.
type ValueError struct {
	Attribute string
	Locale    string
	Scope     string
	Err       error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("value %s[locale=%s scope=%s]: %v", e.Attribute, e.Locale, e.Scope, e.Err)
}

func (e *ValueError) Unwrap() error { return e.Err }

// Built is the result of BuildAll.
type Built struct {
	// Values has the remote shape {attribute: [{locale, scope, data}]} with
	// every data rewritten by its builder.
	Values map[string]interface{}
	// Options lists the option keys ("attribute/code") referenced by select values.
	Options []string
	// Errors holds the values that failed; they are left out of Values.
	Errors []error
}

// BuildAll rewrites a remote values document. types maps attribute codes to
// their remote type codes; attributes missing from types pass through.
func (r *Registry) BuildAll(types map[string]string, raw map[string]interface{}) Built {
	out := Built{Values: make(map[string]interface{}, len(raw))}
	seenOption := make(map[string]bool)

	attributes := make([]string, 0, len(raw))
	for a := range raw {
		attributes = append(attributes, a)
	}
	sort.Strings(attributes)

	for _, attribute := range attributes {
		kind := KindOf(types[attribute])
		builder := r.For(kind)

		entries, ok := raw[attribute].([]interface{})
		if !ok {
			out.Errors = append(out.Errors, &ValueError{Attribute: attribute, Err: unexpected(attribute, "a list of values", raw[attribute])})
			continue
		}

		built := make([]interface{}, 0, len(entries))
		for _, e := range entries {
			entry, ok := e.(map[string]interface{})
			if !ok {
				out.Errors = append(out.Errors, &ValueError{Attribute: attribute, Err: unexpected(attribute, "a value object", e)})
				continue
			}
			locale, _ := entry["locale"].(string)
			scope, _ := entry["scope"].(string)

			data, err := builder.Build(attribute, locale, scope, entry["data"])
			if err != nil {
				out.Errors = append(out.Errors, &ValueError{Attribute: attribute, Locale: locale, Scope: scope, Err: err})
				continue
			}

			if kind.IsSelect() {
				for _, code := range optionCodes(data) {
					key := catalog.KeyOf(attribute, code)
					if !seenOption[key] {
						seenOption[key] = true
						out.Options = append(out.Options, key)
					}
				}
			}

			built = append(built, map[string]interface{}{"locale": entry["locale"], "scope": entry["scope"], "data": data})
		}
		if len(built) > 0 {
			out.Values[attribute] = built
		}
	}
	return out
}

func optionCodes(data interface{}) []string {
	switch v := data.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	}
	return nil
}

// Build resolves remoteType to a kind once and runs its builder.
func (r *Registry) Build(remoteType, attribute, locale, scope string, raw interface{}) (interface{}, error) {
	return r.For(KindOf(remoteType)).Build(attribute, locale, scope, raw)
}
