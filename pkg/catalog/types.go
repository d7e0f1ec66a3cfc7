// Package catalog provides the public types shared by the synchronizer:
// entity classes, fetched records, run counters and run results.
// It is importable by projects that drive pimsync runs or read their results.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EntityClass is a category of synchronized object with its own pipeline.
type EntityClass string

// Entity classes, in the order a full import runs them.
const (
	Attributes          EntityClass = "attributes"
	AttributeOptions    EntityClass = "attribute_options"
	Families            EntityClass = "families"
	Categories          EntityClass = "categories"
	AssociationTypes    EntityClass = "association_types"
	ProductModels       EntityClass = "product_models"
	Products            EntityClass = "products"
	ProductAssociations EntityClass = "product_associations"
)

var allClasses = []EntityClass{
	Attributes,
	AttributeOptions,
	Families,
	Categories,
	AssociationTypes,
	ProductModels,
	Products,
	ProductAssociations,
}

// Classes returns every entity class in dependency order: a class only
// references entities of classes listed before it.
func Classes() []EntityClass {
	out := make([]EntityClass, len(allClasses))
	copy(out, allClasses)
	return out
}

// ParseEntityClass accepts the class name with either '_' or '-' separators.
func ParseEntityClass(s string) (EntityClass, error) {
	normalized := EntityClass(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, c := range allClasses {
		if c == normalized {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown entity class %q", s)
}

// KeySeparator joins a parent code and a code into a record key.
const KeySeparator = "/"

// KeyOf returns the store key of a record: its code, prefixed by its parent
// code for classes that are scoped to a parent (attribute options).
func KeyOf(parent, code string) string {
	if parent == "" {
		return code
	}
	return parent + KeySeparator + code
}

// Record is one remote entity as fetched from the catalog API.
type Record struct {
	// Code is the stable cross-system identifier
	Code string `json:"code"`

	// Parent is the owning entity code (attribute code for options), empty otherwise
	Parent string `json:"parent,omitempty"`

	// Data is the decoded remote payload, rewritten by value builders
	Data map[string]interface{} `json:"data"`

	// References are store keys this record points at, grouped by class
	References map[EntityClass][]string `json:"references,omitempty"`
}

// Key returns the record's store key.
func (r Record) Key() string {
	return KeyOf(r.Parent, r.Code)
}

// AddReference records that r points at the entity with key target of class.
func (r *Record) AddReference(class EntityClass, target string) {
	if target == "" {
		return
	}
	if r.References == nil {
		r.References = make(map[EntityClass][]string)
	}
	for _, existing := range r.References[class] {
		if existing == target {
			return
		}
	}
	r.References[class] = append(r.References[class], target)
}

// Counters accumulate what a run did.
type Counters struct {
	Fetched  int `json:"fetched"`
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
	// Excluded counts records dropped by exclusion expressions
	Excluded int `json:"excluded"`

	// Warnings are the recoverable problems met during the run
	Warnings []string `json:"warnings,omitempty"`
}

// Add returns the sum of c and o.
func (c Counters) Add(o Counters) Counters {
	warnings := make([]string, 0, len(c.Warnings)+len(o.Warnings))
	warnings = append(warnings, c.Warnings...)
	warnings = append(warnings, o.Warnings...)
	return Counters{
		Fetched:  c.Fetched + o.Fetched,
		Created:  c.Created + o.Created,
		Updated:  c.Updated + o.Updated,
		Deleted:  c.Deleted + o.Deleted,
		Skipped:  c.Skipped + o.Skipped,
		Rejected: c.Rejected + o.Rejected,
		Excluded: c.Excluded + o.Excluded,
		Warnings: warnings,
	}
}

// Run status values.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// RunResult is the outcome of one entity class run.
type RunResult struct {
	RunID      string        `json:"runId"`
	Class      EntityClass   `json:"class"`
	Status     string        `json:"status"`
	DryRun     bool          `json:"dryRun,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Counters   Counters      `json:"counters"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
}

// StatusFor derives a run status: error when err is set, partial when the run
// completed with warnings, success otherwise.
func StatusFor(c Counters, err error) string {
	switch {
	case err != nil:
		return StatusError
	case len(c.Warnings) > 0 || c.Skipped > 0 || c.Rejected > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// SortedKeys returns the keys of set in ascending order.
func SortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
