// Package catalogsync assembles and runs the synchronization pipeline of
// every entity class: fetch from the remote catalog, exclude, build values,
// reconcile with the local store and apply in one transaction.
package catalogsync

import (
	"github.com/pimsync/runtime/internal/filter"
	"github.com/pimsync/runtime/internal/reconcile"
	"github.com/pimsync/runtime/internal/remote"
	"github.com/pimsync/runtime/internal/store"
	"github.com/pimsync/runtime/internal/values"
	"github.com/pimsync/runtime/pkg/catalog"
)

// Payload is the state one class run threads through its tasks. Tasks return
// an updated copy and never modify the slices or maps they received.
type Payload struct {
	RunID  string
	Class  catalog.EntityClass
	DryRun bool

	// Query is the compiled remote filter; Filtered is set when it is not
	// empty, which disables deletes.
	Query    filter.Query
	Filtered bool

	// Records are the fetched records still to be written.
	Records []catalog.Record
	// KeepKeys are remote keys of records that were skipped; they take part
	// in reconciliation so their local copy is not deleted.
	KeepKeys []string

	AttributeTypes map[string]string

	Plan     reconcile.Plan
	Counters catalog.Counters
}

func (p Payload) warn(msg string) Payload {
	warnings := make([]string, 0, len(p.Counters.Warnings)+1)
	warnings = append(warnings, p.Counters.Warnings...)
	p.Counters.Warnings = append(warnings, msg)
	return p
}

// Deps are the collaborators of the tasks.
type Deps struct {
	Remote   remote.Client
	Store    *store.Store
	Compiler *filter.Compiler
	Values   *values.Registry
	// Exclude holds per-class boolean expressions; records matching them
	// are not synchronized.
	Exclude map[catalog.EntityClass]string
}

func (d Deps) compiler() *filter.Compiler {
	if d.Compiler != nil {
		return d.Compiler
	}
	return &filter.Compiler{Remote: d.Remote}
}

func (d Deps) values() *values.Registry {
	if d.Values != nil {
		return d.Values
	}
	return values.DefaultRegistry()
}
