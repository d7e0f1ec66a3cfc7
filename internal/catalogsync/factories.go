package catalogsync

import (
	"errors"
	"fmt"

	"github.com/pimsync/runtime/internal/filter"
	"github.com/pimsync/runtime/internal/pipeline"
	"github.com/pimsync/runtime/internal/remote"
	"github.com/pimsync/runtime/pkg/catalog"
)

// Pipeline is the pipeline of one entity class.
type Pipeline = pipeline.Pipeline[Payload]

// Factory assembles the pipeline of one entity class.
type Factory func(d Deps) (*Pipeline, error)

// ErrMissingDeps is returned by factories given no remote client or store.
var ErrMissingDeps = errors.New("remote client and store are required")

// Factories returns the built-in factory of every entity class.
func Factories() map[catalog.EntityClass]Factory {
	return map[catalog.EntityClass]Factory{
		catalog.Attributes:          AttributesPipeline,
		catalog.AttributeOptions:    AttributeOptionsPipeline,
		catalog.Families:            FamiliesPipeline,
		catalog.Categories:          CategoriesPipeline,
		catalog.AssociationTypes:    AssociationTypesPipeline,
		catalog.ProductModels:       ProductModelsPipeline,
		catalog.Products:            ProductsPipeline,
		catalog.ProductAssociations: ProductAssociationsPipeline,
	}
}

func recordWarning(p Payload, err error) Payload {
	return p.warn(err.Error())
}

func build(d Deps, class catalog.EntityClass, exclusionClass catalog.EntityClass, head []stage, tail ...stage) (*Pipeline, error) {
	if d.Remote == nil || d.Store == nil {
		return nil, fmt.Errorf("%s pipeline: %w", class, ErrMissingDeps)
	}
	ex, err := CompileExclusion(d.Exclude[exclusionClass])
	if err != nil {
		return nil, fmt.Errorf("%s pipeline: %w", class, err)
	}

	stages := make([]stage, 0, len(head)+len(tail)+3)
	stages = append(stages, head...)
	stages = append(stages, Exclude(ex))
	stages = append(stages, tail...)
	stages = append(stages, Reconcile(d), Apply(d))
	return pipeline.New(string(class), stages, pipeline.WithWarningHandler(recordWarning))
}

// AttributesPipeline: fetch, exclude, reconcile, apply.
func AttributesPipeline(d Deps) (*Pipeline, error) {
	return build(d, catalog.Attributes, catalog.Attributes,
		[]stage{Fetch(d, remote.ResourceAttributes)})
}

// AttributeOptionsPipeline fetches the options of every stored select attribute.
func AttributeOptionsPipeline(d Deps) (*Pipeline, error) {
	return build(d, catalog.AttributeOptions, catalog.AttributeOptions,
		[]stage{FetchAttributeOptions(d)})
}

func FamiliesPipeline(d Deps) (*Pipeline, error) {
	return build(d, catalog.Families, catalog.Families,
		[]stage{Fetch(d, remote.ResourceFamilies)}, LinkReferences())
}

func CategoriesPipeline(d Deps) (*Pipeline, error) {
	return build(d, catalog.Categories, catalog.Categories,
		[]stage{Fetch(d, remote.ResourceCategories)}, LinkReferences())
}

func AssociationTypesPipeline(d Deps) (*Pipeline, error) {
	return build(d, catalog.AssociationTypes, catalog.AssociationTypes,
		[]stage{Fetch(d, remote.ResourceAssociationTypes)})
}

// ProductModelsPipeline compiles the filter rules for product models.
func ProductModelsPipeline(d Deps) (*Pipeline, error) {
	return build(d, catalog.ProductModels, catalog.ProductModels,
		[]stage{ResolveQuery(d, filter.TargetProductModels), Fetch(d, remote.ResourceProductModels)},
		LoadAttributeTypes(d), BuildValues(d), LinkReferences())
}

func ProductsPipeline(d Deps) (*Pipeline, error) {
	return build(d, catalog.Products, catalog.Products,
		[]stage{ResolveQuery(d, filter.TargetProducts), Fetch(d, remote.ResourceProducts)},
		LoadAttributeTypes(d), BuildValues(d), LinkReferences())
}

// ProductAssociationsPipeline reads the same products as ProductsPipeline,
// with the products exclusion, and keeps their associations.
func ProductAssociationsPipeline(d Deps) (*Pipeline, error) {
	return build(d, catalog.ProductAssociations, catalog.Products,
		[]stage{ResolveQuery(d, filter.TargetProducts), Fetch(d, remote.ResourceProducts)},
		CollectAssociations())
}
