package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pimsync/runtime/internal/database"
	"github.com/pimsync/runtime/internal/errhandling"
	"github.com/pimsync/runtime/internal/filter"
	"github.com/pimsync/runtime/internal/logger"
	"github.com/pimsync/runtime/internal/pipeline"
	"github.com/pimsync/runtime/internal/reconcile"
	"github.com/pimsync/runtime/internal/remote"
	"github.com/pimsync/runtime/internal/store"
	"github.com/pimsync/runtime/internal/values"
	"github.com/pimsync/runtime/pkg/catalog"
)

type stage = pipeline.Stage[Payload]

// ResolveQuery loads the stored rule set and compiles it for target. No
// stored rule set means an unfiltered pull.
func ResolveQuery(d Deps, target filter.Target) stage {
	return pipeline.Step("resolve_query", func(ctx context.Context, p Payload) (Payload, error) {
		rs, err := d.Store.LoadRuleSet(ctx)
		switch {
		case errors.Is(err, store.ErrNotFound):
			rs = nil
		case err != nil:
			return p, fmt.Errorf("loading filter rules: %w", err)
		}

		q, err := d.compiler().Compile(ctx, rs, target)
		if err != nil {
			return p, fmt.Errorf("compiling filter rules: %w", err)
		}
		p.Query = q
		p.Filtered = !q.IsEmpty()
		if p.Filtered {
			logger.WithClass(string(p.Class)).Debug("filtered pull", slog.Any("fields", q.Fields()))
		}
		return p, nil
	})
}

// Fetch buffers every record of resource matching the payload query.
func Fetch(d Deps, resource string) stage {
	return pipeline.Step("fetch", func(ctx context.Context, p Payload) (Payload, error) {
		var records []catalog.Record
		err := d.Remote.Each(ctx, resource, p.Query, func(rec catalog.Record) error {
			p.Counters.Fetched++
			if rec.Code == "" {
				p.Counters.Skipped++
				p = p.warn(fmt.Sprintf("%s: record without code skipped", resource))
				return nil
			}
			records = append(records, rec)
			return nil
		})
		if err != nil {
			return p, fmt.Errorf("fetching %s: %w", resource, err)
		}
		p.Records = records
		return p, nil
	})
}

// FetchAttributeOptions buffers the options of every stored select
// attribute. Option codes are namespaced with the source prefix.
func FetchAttributeOptions(d Deps) stage {
	return pipeline.Step("fetch_attribute_options", func(ctx context.Context, p Payload) (Payload, error) {
		attributes, err := d.Store.SelectAttributes(ctx, values.SelectRemoteTypes()...)
		if err != nil {
			return p, fmt.Errorf("listing select attributes: %w", err)
		}

		var records []catalog.Record
		for _, attribute := range attributes {
			err := d.Remote.Each(ctx, remote.OptionsResource(attribute), filter.Query{}, func(rec catalog.Record) error {
				p.Counters.Fetched++
				if rec.Code == "" {
					p.Counters.Skipped++
					p = p.warn(fmt.Sprintf("attribute %s: option without code skipped", attribute))
					return nil
				}
				rec.Parent = attribute
				rec.Code = values.Namespaced(rec.Code)
				rec.AddReference(catalog.Attributes, attribute)
				records = append(records, rec)
				return nil
			})
			if errhandling.GetErrorCategory(err) == errhandling.CategoryNotFound {
				p = p.warn(fmt.Sprintf("attribute %s no longer exists remotely", attribute))
				continue
			}
			if err != nil {
				return p, fmt.Errorf("fetching options of %s: %w", attribute, err)
			}
		}
		p.Records = records
		return p, nil
	})
}

// Exclude drops the records matching ex. A record the expression cannot be
// evaluated on is kept and reported.
func Exclude(ex *Exclusion) stage {
	return pipeline.Step("exclude", func(_ context.Context, p Payload) (Payload, error) {
		if ex == nil {
			return p, nil
		}
		kept := make([]catalog.Record, 0, len(p.Records))
		for _, rec := range p.Records {
			excluded, err := ex.Excludes(rec)
			if err != nil {
				p = p.warn(err.Error())
				kept = append(kept, rec)
				continue
			}
			if excluded {
				p.Counters.Excluded++
				continue
			}
			kept = append(kept, rec)
		}
		p.Records = kept
		return p, nil
	})
}

// LoadAttributeTypes reads the attribute type codes the value builders
// dispatch on.
func LoadAttributeTypes(d Deps) stage {
	return pipeline.Step("load_attribute_types", func(ctx context.Context, p Payload) (Payload, error) {
		types, err := d.Store.AttributeTypes(ctx)
		if err != nil {
			return p, fmt.Errorf("loading attribute types: %w", err)
		}
		p.AttributeTypes = types
		return p, nil
	})
}

// BuildValues rewrites the values of every record with the value builders.
// A record with a value that cannot be built is skipped, and its key is kept
// so the local copy survives.
func BuildValues(d Deps) stage {
	return pipeline.Step("build_values", func(_ context.Context, p Payload) (Payload, error) {
		registry := d.values()
		built := make([]catalog.Record, 0, len(p.Records))
		keep := append([]string(nil), p.KeepKeys...)

		for _, rec := range p.Records {
			next, err := buildRecord(registry, p.AttributeTypes, rec)
			if err != nil {
				p.Counters.Skipped++
				p = p.warn(fmt.Sprintf("%s %s skipped: %v", p.Class, rec.Key(), err))
				keep = append(keep, rec.Key())
				continue
			}
			built = append(built, next)
		}
		p.Records = built
		p.KeepKeys = keep
		return p, nil
	})
}

func buildRecord(registry *values.Registry, types map[string]string, rec catalog.Record) (catalog.Record, error) {
	next := cloneRecord(rec)
	raw, ok := rec.Data["values"]
	if !ok || raw == nil {
		return next, nil
	}
	valuesDoc, ok := raw.(map[string]interface{})
	if !ok {
		return rec, fmt.Errorf("values is %T, expected an object", raw)
	}

	built := registry.BuildAll(types, valuesDoc)
	if len(built.Errors) > 0 {
		return rec, errors.Join(built.Errors...)
	}
	next.Data["values"] = built.Values
	for _, option := range built.Options {
		next.AddReference(catalog.AttributeOptions, option)
	}
	return next, nil
}

// LinkReferences records what each record points at so that referenced
// entities are never deleted from under it.
func LinkReferences() stage {
	return pipeline.Step("link_references", func(_ context.Context, p Payload) (Payload, error) {
		linked := make([]catalog.Record, len(p.Records))
		for i, rec := range p.Records {
			next := cloneRecord(rec)
			for class, keys := range referencesOf(p.Class, rec.Data) {
				for _, k := range keys {
					next.AddReference(class, k)
				}
			}
			linked[i] = next
		}
		p.Records = linked
		return p, nil
	})
}

func referencesOf(class catalog.EntityClass, data map[string]interface{}) map[catalog.EntityClass][]string {
	refs := make(map[catalog.EntityClass][]string)
	switch class {
	case catalog.Families:
		refs[catalog.Attributes] = stringList(data["attributes"])
	case catalog.Categories:
		if parent, _ := data["parent"].(string); parent != "" {
			refs[catalog.Categories] = []string{parent}
		}
	case catalog.ProductModels, catalog.Products:
		if family, _ := data["family"].(string); family != "" {
			refs[catalog.Families] = []string{family}
		}
		refs[catalog.Categories] = stringList(data["categories"])
		if parent, _ := data["parent"].(string); parent != "" {
			refs[catalog.ProductModels] = []string{parent}
		}
	}
	return refs
}

// CollectAssociations turns the fetched products into one record per
// product and association type with at least one target.
func CollectAssociations() stage {
	return pipeline.Step("collect_associations", func(_ context.Context, p Payload) (Payload, error) {
		var out []catalog.Record
		for _, product := range p.Records {
			associations, _ := product.Data["associations"].(map[string]interface{})
			types := make([]string, 0, len(associations))
			for t := range associations {
				types = append(types, t)
			}
			sort.Strings(types)

			for _, t := range types {
				entry, _ := associations[t].(map[string]interface{})
				products := stringList(entry["products"])
				models := stringList(entry["product_models"])
				groups := stringList(entry["groups"])
				if len(products) == 0 && len(models) == 0 && len(groups) == 0 {
					continue
				}

				rec := catalog.Record{
					Code:   t,
					Parent: product.Code,
					Data: map[string]interface{}{
						"owner":          product.Code,
						"type":           t,
						"products":       products,
						"product_models": models,
						"groups":         groups,
					},
				}
				rec.AddReference(catalog.AssociationTypes, t)
				for _, target := range products {
					rec.AddReference(catalog.Products, target)
				}
				for _, target := range models {
					rec.AddReference(catalog.ProductModels, target)
				}
				out = append(out, rec)
			}
		}
		p.Records = out
		return p, nil
	})
}

// Reconcile partitions the remote keys against the stored ones. Records
// fetched twice are written once, the last copy winning.
func Reconcile(d Deps) stage {
	return pipeline.Step("reconcile", func(ctx context.Context, p Payload) (Payload, error) {
		local, err := d.Store.Keys(ctx, p.Class)
		if err != nil {
			return p, fmt.Errorf("reading stored %s keys: %w", p.Class, err)
		}

		p.Records = dedupe(p.Records)
		remoteKeys := make([]string, 0, len(p.Records)+len(p.KeepKeys))
		for _, rec := range p.Records {
			remoteKeys = append(remoteKeys, rec.Key())
		}
		remoteKeys = append(remoteKeys, p.KeepKeys...)

		p.Plan = reconcile.Diff(remoteKeys, local)
		logger.WithClass(string(p.Class)).Debug("reconciliation planned",
			slog.Int("to_create", len(p.Plan.ToCreate)),
			slog.Int("to_update", len(p.Plan.ToUpdate)),
			slog.Int("to_delete", len(p.Plan.ToDelete)),
		)
		return p, nil
	})
}

// Apply writes the plan in one transaction: upserts, then references, then
// deletes. Deletes only run after an unfiltered pull. A dry run rolls the
// transaction back after counting.
func Apply(d Deps) stage {
	return pipeline.Step("apply", func(ctx context.Context, p Payload) (Payload, error) {
		log := logger.WithClass(string(p.Class))

		tx, err := d.Store.Begin(ctx)
		if err != nil {
			return p, fmt.Errorf("opening %s transaction: %w", p.Class, err)
		}
		defer func() { _ = tx.Rollback() }()

		ids := make(map[string]int64, len(p.Records))
		for _, rec := range p.Records {
			var id int64
			var created bool
			err := tx.Savepoint(ctx, "upsert_record", func() error {
				var err error
				id, created, err = tx.Upsert(ctx, p.Class, rec)
				return err
			})
			if err != nil {
				if database.IsConnectionError(err) {
					return p, fmt.Errorf("writing %s %s: %w", p.Class, rec.Key(), err)
				}
				p.Counters.Skipped++
				p = p.warn(fmt.Sprintf("%s %s not written: %v", p.Class, rec.Key(), err))
				continue
			}
			ids[rec.Key()] = id
			if created {
				p.Counters.Created++
			} else {
				p.Counters.Updated++
			}
		}

		unresolved := 0
		for _, rec := range p.Records {
			id, ok := ids[rec.Key()]
			if !ok {
				continue
			}
			var missing []string
			err := tx.Savepoint(ctx, "link_references", func() error {
				var err error
				missing, err = tx.ReplaceReferences(ctx, id, rec.References)
				return err
			})
			if err != nil {
				if database.IsConnectionError(err) {
					return p, fmt.Errorf("linking %s %s: %w", p.Class, rec.Key(), err)
				}
				p = p.warn(fmt.Sprintf("%s %s references not written: %v", p.Class, rec.Key(), err))
				continue
			}
			if len(missing) > 0 {
				unresolved += len(missing)
				log.Debug("unresolved references", slog.String("key", rec.Key()), slog.Any("targets", missing))
			}
		}
		if unresolved > 0 {
			p = p.warn(fmt.Sprintf("%d %s references point at entities not in the store", unresolved, p.Class))
		}

		if p.Filtered {
			if len(p.Plan.ToDelete) > 0 {
				log.Info("filtered pull, deletes skipped", slog.Int("not_fetched", len(p.Plan.ToDelete)))
			}
		} else {
			report, err := reconcile.ApplyDeletes(ctx, tx, p.Class, p.Plan)
			if err != nil {
				return p, err
			}
			p.Counters.Deleted += report.Deleted
			p.Counters.Rejected += report.Rejected
			for _, w := range report.Warnings {
				p = p.warn(w)
			}
		}

		if p.DryRun {
			log.Info("dry run, rolling back")
			return p, tx.Rollback()
		}
		if err := tx.Commit(); err != nil {
			return p, fmt.Errorf("committing %s: %w", p.Class, err)
		}
		return p, nil
	})
}

func cloneRecord(rec catalog.Record) catalog.Record {
	data := make(map[string]interface{}, len(rec.Data))
	for k, v := range rec.Data {
		data[k] = v
	}
	next := catalog.Record{Code: rec.Code, Parent: rec.Parent, Data: data}
	for class, keys := range rec.References {
		for _, k := range keys {
			next.AddReference(class, k)
		}
	}
	return next
}

func dedupe(records []catalog.Record) []catalog.Record {
	index := make(map[string]int, len(records))
	out := make([]catalog.Record, 0, len(records))
	for _, rec := range records {
		if i, ok := index[rec.Key()]; ok {
			out[i] = rec
			continue
		}
		index[rec.Key()] = len(out)
		out = append(out, rec)
	}
	return out
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
