package registry

import "github.com/pimsync/runtime/internal/catalogsync"

func init() {
	RegisterBuiltins()
}

// RegisterBuiltins registers the factory of every built-in entity class.
func RegisterBuiltins() {
	for class, factory := range catalogsync.Factories() {
		Register(class, factory)
	}
}
