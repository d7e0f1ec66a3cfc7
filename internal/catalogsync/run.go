package catalogsync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pimsync/runtime/internal/logger"
	"github.com/pimsync/runtime/pkg/catalog"
)

// Options control a run.
type Options struct {
	DryRun bool
	// RunID is generated when empty.
	RunID string
}

// Run builds the pipeline of class with factory and runs it once.
func Run(ctx context.Context, d Deps, class catalog.EntityClass, factory Factory, opts Options) (catalog.RunResult, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	rc := logger.RunContext{RunID: runID, Class: string(class), TaskIndex: -1, DryRun: opts.DryRun}

	result := catalog.RunResult{RunID: runID, Class: class, DryRun: opts.DryRun, StartedAt: time.Now()}
	logger.LogRunStart(rc)

	p, err := factory(d)
	if err == nil {
		var final Payload
		final, err = p.Run(ctx, rc, Payload{RunID: runID, Class: class, DryRun: opts.DryRun})
		result.Counters = final.Counters
	}

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Status = catalog.StatusFor(result.Counters, err)
	if err != nil {
		result.Error = err.Error()
	}

	logger.LogRunEnd(rc, metrics(result), err)
	return result, err
}

func metrics(r catalog.RunResult) logger.RunMetrics {
	return logger.RunMetrics{
		Fetched:  r.Counters.Fetched,
		Created:  r.Counters.Created,
		Updated:  r.Counters.Updated,
		Deleted:  r.Counters.Deleted,
		Skipped:  r.Counters.Skipped,
		Rejected: r.Counters.Rejected,
		Warnings: len(r.Counters.Warnings),
		Duration: r.Duration,
	}
}

// RunAll runs classes in order, resolving each factory with resolve, and
// stops at the first failed run. The results of the runs made are returned.
func RunAll(ctx context.Context, d Deps, classes []catalog.EntityClass, resolve func(catalog.EntityClass) (Factory, error), opts Options) ([]catalog.RunResult, error) {
	results := make([]catalog.RunResult, 0, len(classes))
	for _, class := range classes {
		factory, err := resolve(class)
		if err != nil {
			return results, err
		}
		classOpts := opts
		if opts.RunID != "" {
			classOpts.RunID = fmt.Sprintf("%s-%s", opts.RunID, class)
		}
		result, err := Run(ctx, d, class, factory, classOpts)
		results = append(results, result)
		if err != nil {
			return results, fmt.Errorf("full import stopped at %s: %w", class, err)
		}
	}
	return results, nil
}
