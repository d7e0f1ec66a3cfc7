// Package reconcile partitions remote and local entity keys into the
// create/update/delete sets that converge the local store on the remote
// catalog, and applies the deletes.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pimsync/runtime/internal/database"
	"github.com/pimsync/runtime/internal/logger"
	"github.com/pimsync/runtime/pkg/catalog"
)

// Plan is the partition of one entity class. Every list is sorted and
// duplicate free.
type Plan struct {
	ToCreate []string
	ToUpdate []string
	ToDelete []string
}

// Diff computes ToCreate = remote \ local, ToUpdate = remote ∩ local and
// ToDelete = local \ remote. Duplicate and empty keys are ignored.
func Diff(remote, local []string) Plan {
	remoteSet := toSet(remote)
	localSet := toSet(local)

	create := make(map[string]struct{})
	update := make(map[string]struct{})
	remove := make(map[string]struct{})

	for k := range remoteSet {
		if _, ok := localSet[k]; ok {
			update[k] = struct{}{}
		} else {
			create[k] = struct{}{}
		}
	}
	for k := range localSet {
		if _, ok := remoteSet[k]; !ok {
			remove[k] = struct{}{}
		}
	}

	return Plan{
		ToCreate: catalog.SortedKeys(create),
		ToUpdate: catalog.SortedKeys(update),
		ToDelete: catalog.SortedKeys(remove),
	}
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// Remote returns ToCreate ∪ ToUpdate, the remote key set the plan was built from.
func (p Plan) Remote() []string {
	out := make([]string, 0, len(p.ToCreate)+len(p.ToUpdate))
	out = append(out, p.ToCreate...)
	out = append(out, p.ToUpdate...)
	return out
}

// IsNoop reports whether applying the plan changes nothing but updates.
func (p Plan) IsNoop() bool {
	return len(p.ToCreate) == 0 && len(p.ToDelete) == 0
}

// DeleteStore is the part of the local store the delete step needs.
type DeleteStore interface {
	// IDsNotIn returns the ids of class entities whose key is not in keep,
	// in a single query.
	IDsNotIn(ctx context.Context, class catalog.EntityClass, keep []string) ([]int64, error)
	// DeleteByIDs deletes the given entities, leaving referenced ones in
	// place, and returns how many rows went away.
	DeleteByIDs(ctx context.Context, ids []int64) (int, error)
}

// DeleteReport describes what ApplyDeletes did.
type DeleteReport struct {
	// Attempted is the number of local entities selected for deletion
	Attempted int
	// Deleted is the number actually removed
	Deleted int
	// Rejected is Attempted - Deleted: entities kept because they are referenced
	// or because the delete failed
	Rejected int
	// Warnings are the recoverable problems met
	Warnings []string
}

// ApplyDeletes removes the plan's ToDelete entities of class. An empty
// ToDelete issues no store call. Lookup or delete failures become warnings
// unless the store is unreachable, which is returned as an error.
func ApplyDeletes(ctx context.Context, store DeleteStore, class catalog.EntityClass, plan Plan) (DeleteReport, error) {
	var report DeleteReport
	if len(plan.ToDelete) == 0 {
		return report, nil
	}

	log := logger.WithClass(string(class))

	ids, err := store.IDsNotIn(ctx, class, plan.Remote())
	if err != nil {
		if database.IsConnectionError(err) {
			return report, fmt.Errorf("resolving %s delete candidates: %w", class, err)
		}
		report.Attempted = len(plan.ToDelete)
		report.Rejected = report.Attempted
		report.Warnings = append(report.Warnings, fmt.Sprintf("resolving %s delete candidates: %v", class, err))
		log.Warn("delete lookup failed", slog.String("error", err.Error()))
		return report, nil
	}

	report.Attempted = len(ids)
	if len(ids) == 0 {
		return report, nil
	}

	deleted, err := store.DeleteByIDs(ctx, ids)
	if err != nil {
		if database.IsConnectionError(err) {
			return report, fmt.Errorf("deleting %s: %w", class, err)
		}
		report.Rejected = report.Attempted
		report.Warnings = append(report.Warnings, fmt.Sprintf("deleting %d %s: %v", len(ids), class, err))
		log.Warn("delete rejected", slog.Int("attempted", len(ids)), slog.String("error", err.Error()))
		return report, nil
	}

	report.Deleted = deleted
	report.Rejected = report.Attempted - deleted
	if report.Rejected > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d %s still referenced, left in place", report.Rejected, class))
		log.Warn("referenced entities kept", slog.Int("rejected", report.Rejected))
	}
	return report, nil
}
