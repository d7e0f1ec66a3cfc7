package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/pimsync/runtime/internal/logger"
)

type state struct {
	trail    []string
	warnings []string
}

func appendStep(name string) Stage[state] {
	return Step(name, func(_ context.Context, s state) (state, error) {
		s.trail = append(append([]string(nil), s.trail...), name)
		return s, nil
	})
}

func run() logger.RunContext {
	return logger.RunContext{RunID: "test", Class: "families", TaskIndex: -1}
}

func TestRun_InOrder(t *testing.T) {
	p, err := New("families", []Stage[state]{appendStep("fetch"), appendStep("reconcile"), appendStep("apply")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got, err := p.Run(context.Background(), run(), state{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []string{"fetch", "reconcile", "apply"}
	if !reflect.DeepEqual(got.trail, want) {
		t.Errorf("trail = %v, want %v", got.trail, want)
	}
	if !reflect.DeepEqual(p.Tasks(), want) {
		t.Errorf("Tasks() = %v", p.Tasks())
	}
}

func TestRun_StopsOnFatal(t *testing.T) {
	boom := errors.New("remote unreachable")
	failing := Step("fetch", func(_ context.Context, s state) (state, error) {
		s.trail = append(s.trail, "fetch")
		return s, Fatal(boom)
	})
	p, _ := New("products", []Stage[state]{appendStep("resolve"), failing, appendStep("apply")})

	got, err := p.Run(context.Background(), run(), state{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var taskErr *TaskError
	if !errors.As(err, &taskErr) || taskErr.Task != "fetch" || taskErr.Index != 1 {
		t.Errorf("unexpected task error %#v", err)
	}
	if !reflect.DeepEqual(got.trail, []string{"resolve", "fetch"}) {
		t.Errorf("apply must not run, trail = %v", got.trail)
	}
}

func TestRun_WarningsContinue(t *testing.T) {
	warned := Step("exclude", func(_ context.Context, s state) (state, error) {
		s.trail = append(s.trail, "exclude")
		return s, Warn(errors.New("bad expression input"))
	})
	p, _ := New("families", []Stage[state]{warned, appendStep("apply")},
		WithWarningHandler(func(s state, err error) state {
			s.warnings = append(s.warnings, err.Error())
			return s
		}))

	got, err := p.Run(context.Background(), run(), state{})
	if err != nil {
		t.Fatalf("warnings must not fail the run: %v", err)
	}
	if !reflect.DeepEqual(got.trail, []string{"exclude", "apply"}) {
		t.Errorf("trail = %v", got.trail)
	}
	if len(got.warnings) != 1 || got.warnings[0] != "bad expression input" {
		t.Errorf("warnings = %v", got.warnings)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _ := New("families", []Stage[state]{appendStep("fetch")})
	got, err := p.Run(ctx, run(), state{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(got.trail) != 0 {
		t.Errorf("no task should run, trail = %v", got.trail)
	}
}

func TestNew_RejectsNilTask(t *testing.T) {
	_, err := New("broken", []Stage[state]{{Name: "empty"}})
	if !errors.Is(err, ErrNilTask) {
		t.Errorf("expected ErrNilTask, got %v", err)
	}
}

func TestNew_CopiesStages(t *testing.T) {
	stages := []Stage[state]{appendStep("a")}
	p, _ := New("copy", stages)
	stages[0] = appendStep("b")
	if p.Tasks()[0] != "a" {
		t.Error("pipeline must not share the caller's stage slice")
	}
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("x")
	if IsFatal(nil) || IsWarning(nil) {
		t.Error("nil is neither fatal nor a warning")
	}
	if !IsFatal(base) || IsFatal(Warn(base)) {
		t.Error("unmarked errors are fatal, warnings are not")
	}
	if !errors.Is(Warn(base), base) {
		t.Error("Warn must wrap")
	}
	if Warn(nil) != nil {
		t.Error("Warn(nil) must be nil")
	}
}
