// Package values turns raw remote attribute values into the shape the local
// store keeps, one builder per attribute kind.
package values

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownKind is returned by ParseKind for names outside the kind list.
var ErrUnknownKind = errors.New("unknown attribute kind")

// Kind is the closed set of attribute kinds the synchronizer understands.
type Kind int

const (
	KindUnknown Kind = iota
	KindIdentifier
	KindText
	KindTextarea
	KindNumber
	KindBoolean
	KindDate
	KindSimpleSelect
	KindMultiSelect
	KindMetric
	KindPriceCollection
	KindImage
	KindFile
)

var kindNames = [...]string{
	KindUnknown:         "unknown",
	KindIdentifier:      "identifier",
	KindText:            "text",
	KindTextarea:        "textarea",
	KindNumber:          "number",
	KindBoolean:         "boolean",
	KindDate:            "date",
	KindSimpleSelect:    "simpleselect",
	KindMultiSelect:     "multiselect",
	KindMetric:          "metric",
	KindPriceCollection: "price_collection",
	KindImage:           "image",
	KindFile:            "file",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind resolves a kind by its name ("multiselect", "price_collection").
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if Kind(k) != KindUnknown && n == name {
			return Kind(k), nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// remoteTypes maps the remote attribute type codes to kinds.
var remoteTypes = map[string]Kind{
	"pim_catalog_identifier":       KindIdentifier,
	"pim_catalog_text":             KindText,
	"pim_catalog_textarea":         KindTextarea,
	"pim_catalog_number":           KindNumber,
	"pim_catalog_boolean":          KindBoolean,
	"pim_catalog_date":             KindDate,
	"pim_catalog_simpleselect":     KindSimpleSelect,
	"pim_catalog_multiselect":      KindMultiSelect,
	"pim_catalog_metric":           KindMetric,
	"pim_catalog_price_collection": KindPriceCollection,
	"pim_catalog_image":            KindImage,
	"pim_catalog_file":             KindFile,
}

// KindOf resolves a remote attribute type code. Unlisted types are KindUnknown.
func KindOf(remoteType string) Kind {
	if k, ok := remoteTypes[remoteType]; ok {
		return k
	}
	return KindUnknown
}

// IsSelect reports whether values of kind reference attribute options.
func (k Kind) IsSelect() bool {
	return k == KindSimpleSelect || k == KindMultiSelect
}

// SelectRemoteTypes returns the sorted remote type codes of the select kinds.
func SelectRemoteTypes() []string {
	var out []string
	for code, k := range remoteTypes {
		if k.IsSelect() {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}
