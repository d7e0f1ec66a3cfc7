package values

import (
	"errors"
	"reflect"
	"testing"
)

func TestMultiSelectNamespacesOptions(t *testing.T) {
	got, err := DefaultRegistry().Build("pim_catalog_multiselect", "color", "", "", []interface{}{"red", "blue"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []string{"akeneo-red", "akeneo-blue"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNamespacedAlwaysPrefixes(t *testing.T) {
	got, err := DefaultRegistry().Build("pim_catalog_multiselect", "colors", "", "", []interface{}{"red", "akeneo-red"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []string{"akeneo-red", "akeneo-akeneo-red"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	single, err := DefaultRegistry().Build("pim_catalog_simpleselect", "size", "", "", "akeneo-xl")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if single != "akeneo-akeneo-xl" {
		t.Errorf("simple select = %v, want akeneo-akeneo-xl", single)
	}
}

func TestBuilders(t *testing.T) {
	tests := []struct {
		name       string
		remoteType string
		raw        interface{}
		want       interface{}
		wantErr    bool
	}{
		{"text", "pim_catalog_text", "Sneaker", "Sneaker", false},
		{"text wrong type", "pim_catalog_text", 12.0, nil, true},
		{"number from string", "pim_catalog_number", "12.5", 12.5, false},
		{"number invalid", "pim_catalog_number", "abc", nil, true},
		{"boolean", "pim_catalog_boolean", true, true, false},
		{"boolean from string", "pim_catalog_boolean", "false", false, false},
		{"date", "pim_catalog_date", "2024-03-01T00:00:00+00:00", "2024-03-01", false},
		{"date invalid", "pim_catalog_date", "yesterday", nil, true},
		{"simple select", "pim_catalog_simpleselect", "red", "akeneo-red", false},
		{"simple select already prefixed", "pim_catalog_simpleselect", "akeneo-red", "akeneo-red", false},
		{"simple select empty", "pim_catalog_simpleselect", "", nil, false},
		{"multi select nil", "pim_catalog_multiselect", nil, []string{}, false},
		{"multi select mixed", "pim_catalog_multiselect", []interface{}{"red", 3.0}, nil, true},
		{
			"metric", "pim_catalog_metric",
			map[string]interface{}{"amount": "1.5", "unit": "KILOGRAM"},
			map[string]interface{}{"amount": 1.5, "unit": "KILOGRAM"}, false,
		},
		{
			"prices", "pim_catalog_price_collection",
			[]interface{}{map[string]interface{}{"currency": "EUR", "amount": "10.00"}},
			map[string]interface{}{"EUR": 10.0}, false,
		},
		{"image passthrough", "pim_catalog_image", "a/b/c.jpg", "a/b/c.jpg", false},
		{"unknown passthrough", "pim_reference_data_simpleselect", map[string]interface{}{"x": 1.0}, map[string]interface{}{"x": 1.0}, false},
	}

	r := DefaultRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Build(tt.remoteType, "attr", "en_US", "ecommerce", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if KindOf("pim_catalog_multiselect") != KindMultiSelect {
		t.Error("multiselect not resolved")
	}
	if KindOf("pim_catalog_table") != KindUnknown {
		t.Error("unlisted type should be unknown")
	}
	if !KindSimpleSelect.IsSelect() || KindText.IsSelect() {
		t.Error("IsSelect mismatch")
	}
	if Kind(99).String() != "unknown" {
		t.Error("out of range kind should print unknown")
	}
}

func TestParseKind(t *testing.T) {
	for _, name := range []string{"multiselect", "price_collection", "image"} {
		k, err := ParseKind(name)
		if err != nil || k.String() != name {
			t.Errorf("ParseKind(%q) = %v, %v", name, k, err)
		}
	}
	if _, err := ParseKind("unknown"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestNewRegistry(t *testing.T) {
	upper := BuilderFunc(func(_, _, _ string, raw interface{}) (interface{}, error) {
		return "custom", nil
	})

	r, err := NewRegistry(Claim{Kind: KindImage, Builder: upper})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if !r.Supports(KindImage) {
		t.Error("claimed kind should be supported")
	}
	if got, _ := r.Build("pim_catalog_image", "picture", "", "", "x.jpg"); got != "custom" {
		t.Errorf("claim not applied, got %v", got)
	}
	if DefaultRegistry().Supports(KindImage) {
		t.Error("claims must not leak into the default registry")
	}

	_, err = NewRegistry(Claim{Kind: KindImage, Builder: upper}, Claim{Kind: KindImage, Builder: Passthrough})
	if !errors.Is(err, ErrAmbiguousClaim) {
		t.Errorf("expected ErrAmbiguousClaim, got %v", err)
	}

	if _, err := NewRegistry(Claim{Kind: KindText}); err == nil {
		t.Error("expected error for nil builder")
	}
}

func TestBuildAll(t *testing.T) {
	types := map[string]string{
		"color":  "pim_catalog_simpleselect",
		"sizes":  "pim_catalog_multiselect",
		"weight": "pim_catalog_number",
	}
	raw := map[string]interface{}{
		"color": []interface{}{
			map[string]interface{}{"locale": nil, "scope": nil, "data": "red"},
		},
		"sizes": []interface{}{
			map[string]interface{}{"locale": nil, "scope": "ecommerce", "data": []interface{}{"s", "m"}},
		},
		"weight": []interface{}{
			map[string]interface{}{"locale": nil, "scope": nil, "data": "heavy"},
		},
		"name": []interface{}{
			map[string]interface{}{"locale": "en_US", "scope": nil, "data": "Shoe"},
		},
	}

	built := DefaultRegistry().BuildAll(types, raw)

	if len(built.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", built.Errors)
	}
	var ve *ValueError
	if !errors.As(built.Errors[0], &ve) || ve.Attribute != "weight" {
		t.Errorf("unexpected error %v", built.Errors[0])
	}
	if _, ok := built.Values["weight"]; ok {
		t.Error("failed attribute should be left out")
	}

	color := built.Values["color"].([]interface{})[0].(map[string]interface{})
	if color["data"] != "akeneo-red" {
		t.Errorf("color data = %v", color["data"])
	}
	name := built.Values["name"].([]interface{})[0].(map[string]interface{})
	if name["data"] != "Shoe" || name["locale"] != "en_US" {
		t.Errorf("name = %v", name)
	}

	wantOptions := []string{"color/akeneo-red", "sizes/akeneo-s", "sizes/akeneo-m"}
	if !reflect.DeepEqual(built.Options, wantOptions) {
		t.Errorf("options = %v, want %v", built.Options, wantOptions)
	}
}
