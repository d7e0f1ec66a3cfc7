// Package pipeline runs an ordered, fixed sequence of tasks over a payload.
// Each task receives the payload returned by the previous one; the first
// fatal error stops the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pimsync/runtime/internal/logger"
)

// Task is one processing step over a payload of type P.
type Task[P any] interface {
	Run(ctx context.Context, payload P) (P, error)
}

// TaskFunc adapts a function to Task.
type TaskFunc[P any] func(ctx context.Context, payload P) (P, error)

// Run calls f.
func (f TaskFunc[P]) Run(ctx context.Context, payload P) (P, error) {
	return f(ctx, payload)
}

// Stage is a named task.
type Stage[P any] struct {
	Name string
	Task Task[P]
}

// Step names fn as a stage.
func Step[P any](name string, fn func(ctx context.Context, payload P) (P, error)) Stage[P] {
	return Stage[P]{Name: name, Task: TaskFunc[P](fn)}
}

// ErrNilTask is returned by New for a stage without a task.
var ErrNilTask = errors.New("pipeline stage has no task")

// warning marks a recoverable task error.
type warning struct{ err error }

func (w *warning) Error() string { return w.err.Error() }
func (w *warning) Unwrap() error { return w.err }

// Warn marks err as recoverable: the pipeline records it and runs the next
// task with the payload the failing task returned.
func Warn(err error) error {
	if err == nil {
		return nil
	}
	return &warning{err: err}
}

// Fatal returns err unchanged. Every error not marked with Warn stops the
// pipeline; Fatal only documents the intent at the call site.
func Fatal(err error) error { return err }

// IsWarning reports whether err was marked with Warn.
func IsWarning(err error) bool {
	var w *warning
	return errors.As(err, &w)
}

// IsFatal reports whether err stops a pipeline.
func IsFatal(err error) bool {
	return err != nil && !IsWarning(err)
}

// TaskError is the fatal error of a stage.
type TaskError struct {
	Pipeline string
	Task     string
	Index    int
	Err      error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: task %s: %v", e.Pipeline, e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Pipeline is an immutable ordered list of stages.
type Pipeline[P any] struct {
	name      string
	stages    []Stage[P]
	onWarning func(P, error) P
}

// Option configures a pipeline.
type Option[P any] func(*Pipeline[P])

// WithWarningHandler sets the function that records recoverable task errors
// on the payload.
func WithWarningHandler[P any](fn func(payload P, err error) P) Option[P] {
	return func(p *Pipeline[P]) { p.onWarning = fn }
}

// New builds a pipeline from stages, which are copied.
func New[P any](name string, stages []Stage[P], opts ...Option[P]) (*Pipeline[P], error) {
	for i, s := range stages {
		if s.Task == nil {
			return nil, fmt.Errorf("%w: %s stage %d (%s)", ErrNilTask, name, i, s.Name)
		}
	}
	p := &Pipeline[P]{name: name, stages: append([]Stage[P](nil), stages...)}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the pipeline name.
func (p *Pipeline[P]) Name() string { return p.name }

// Tasks returns the stage names in execution order.
func (p *Pipeline[P]) Tasks() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes the stages in order. On a fatal error it returns the payload
// as the failing task left it together with a *TaskError. The pipeline does
// not roll anything back.
func (p *Pipeline[P]) Run(ctx context.Context, run logger.RunContext, payload P) (P, error) {
	for i, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return payload, &TaskError{Pipeline: p.name, Task: stage.Name, Index: i, Err: err}
		}

		taskRun := run
		taskRun.Task, taskRun.TaskIndex = stage.Name, i
		logger.LogTaskStart(taskRun)

		start := time.Now()
		next, err := stage.Task.Run(ctx, payload)
		payload = next

		if IsWarning(err) {
			logger.WithRun(taskRun).Warn("task warning", slog.String("error", err.Error()))
			if p.onWarning != nil {
				payload = p.onWarning(payload, err)
			}
			err = nil
		}
		logger.LogTaskEnd(taskRun, time.Since(start), err)

		if err != nil {
			return payload, &TaskError{Pipeline: p.name, Task: stage.Name, Index: i, Err: err}
		}
	}
	return payload, nil
}
