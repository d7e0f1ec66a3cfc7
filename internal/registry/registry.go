// Package registry maps entity class names to the factories that assemble
// their synchronization pipelines.
//
// # Adding an Entity Class
//
// Register a factory by class in an init() function:
//
//	func init() {
//	    registry.Register("reference_data", NewReferenceDataPipeline)
//	}
//
// The command line resolves `pimsync import <class>` through Get, and the
// full import runs every class returned by Classes in dependency order.
//
// # Built-in Classes
//
// The classes of pkg/catalog are registered at startup by builtins.go.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pimsync/runtime/internal/catalogsync"
	"github.com/pimsync/runtime/pkg/catalog"
)

// Factory assembles the pipeline of one entity class.
type Factory = catalogsync.Factory

// ErrUnknownClass is returned by Get for a class nothing was registered for.
var ErrUnknownClass = errors.New("unknown entity class")

var (
	mu        sync.RWMutex
	factories = make(map[catalog.EntityClass]Factory)
)

// Register registers the factory of class. Registering a class again
// replaces the previous factory.
//
// This function is safe for concurrent use.
func Register(class catalog.EntityClass, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[class] = factory
}

// Get returns the factory registered for class.
func Get(class catalog.EntityClass) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[class]
	if !ok || f == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return f, nil
}

// Classes returns the registered classes: the built-in ones in dependency
// order, then any other in name order.
func Classes() []catalog.EntityClass {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]catalog.EntityClass, 0, len(factories))
	known := make(map[catalog.EntityClass]bool)
	for _, c := range catalog.Classes() {
		known[c] = true
		if _, ok := factories[c]; ok {
			out = append(out, c)
		}
	}
	var extra []string
	for c := range factories {
		if !known[c] {
			extra = append(extra, string(c))
		}
	}
	sort.Strings(extra)
	for _, c := range extra {
		out = append(out, catalog.EntityClass(c))
	}
	return out
}

// Clear removes every registered factory.
// This is intended for testing purposes only.
func Clear() {
	mu.Lock()
	factories = make(map[catalog.EntityClass]Factory)
	mu.Unlock()
}
