package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pimsync/runtime/pkg/catalog"
)

func runResult(class catalog.EntityClass, status string, started time.Time) catalog.RunResult {
	return catalog.RunResult{
		RunID:      "run-" + string(class),
		Class:      class,
		Status:     status,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Counters:   catalog.Counters{Fetched: 3, Created: 1, Updated: 2},
	}
}

func TestStateStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)

	started := time.Date(2026, 1, 26, 10, 30, 0, 0, time.UTC)
	state := &State{LastRun: runResult(catalog.Families, catalog.StatusSuccess, started), LastSuccessAt: &started}
	if err := store.Save(catalog.Families, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "families.json")); err != nil {
		t.Errorf("state file not created: %v", err)
	}

	loaded, err := store.Load(catalog.Families)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Class != catalog.Families {
		t.Errorf("Class = %q", loaded.Class)
	}
	if loaded.LastRun.Counters.Created != 1 || loaded.LastRun.RunID != "run-families" {
		t.Errorf("unexpected last run %+v", loaded.LastRun)
	}
	if loaded.LastSuccessAt == nil || !loaded.LastSuccessAt.Equal(started) {
		t.Errorf("LastSuccessAt = %v", loaded.LastSuccessAt)
	}
}

func TestStateStore_LoadNotFound(t *testing.T) {
	store := NewStateStore(t.TempDir())
	state, err := store.Load(catalog.Products)
	if err != nil || state != nil {
		t.Errorf("expected nil, nil for a class that never ran, got %v, %v", state, err)
	}
}

func TestStateStore_InvalidArguments(t *testing.T) {
	store := NewStateStore(t.TempDir())
	if err := store.Save("", &State{}); !errors.Is(err, ErrInvalidClass) {
		t.Errorf("Save(\"\") = %v", err)
	}
	if err := store.Save(catalog.Products, nil); !errors.Is(err, ErrNilState) {
		t.Errorf("Save(nil) = %v", err)
	}
	if _, err := store.Load(""); !errors.Is(err, ErrInvalidClass) {
		t.Errorf("Load(\"\") = %v", err)
	}
	if err := store.Delete(""); !errors.Is(err, ErrInvalidClass) {
		t.Errorf("Delete(\"\") = %v", err)
	}
}

func TestStateStore_Record(t *testing.T) {
	store := NewStateStore(t.TempDir())
	first := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	if err := store.Record(runResult(catalog.Products, catalog.StatusPartial, first)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	failed := runResult(catalog.Products, catalog.StatusError, first.Add(time.Hour))
	failed.Error = "remote unreachable"
	if err := store.Record(failed); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	dry := runResult(catalog.Products, catalog.StatusSuccess, first.Add(2*time.Hour))
	dry.DryRun = true
	if err := store.Record(dry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	state, err := store.Load(catalog.Products)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !state.LastRun.DryRun {
		t.Error("last run should be the dry run")
	}
	if state.LastSuccessAt == nil || !state.LastSuccessAt.Equal(first) {
		t.Errorf("LastSuccessAt = %v, want %v", state.LastSuccessAt, first)
	}
}

func TestStateStore_RecordOverwritesCorruptState(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)
	if err := os.WriteFile(filepath.Join(dir, "categories.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Load(catalog.Categories); err == nil {
		t.Error("expected an error for a corrupt file")
	}
	now := time.Now().UTC()
	if err := store.Record(runResult(catalog.Categories, catalog.StatusSuccess, now)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	state, err := store.Load(catalog.Categories)
	if err != nil || state == nil {
		t.Fatalf("Load after Record: %v, %v", state, err)
	}
}

func TestStateStore_List(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)

	if states, err := store.List(); err != nil || len(states) != 0 {
		t.Errorf("empty store: %v, %v", states, err)
	}

	now := time.Now().UTC()
	for _, c := range []catalog.EntityClass{catalog.Products, catalog.Attributes, catalog.Families} {
		if err := store.Record(runResult(c, catalog.StatusSuccess, now)); err != nil {
			t.Fatalf("Record(%s) failed: %v", c, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatal(err)
	}

	states, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []catalog.EntityClass{catalog.Attributes, catalog.Families, catalog.Products}
	if len(states) != len(want) {
		t.Fatalf("List returned %d states, want %d", len(states), len(want))
	}
	for i, s := range states {
		if s.Class != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, s.Class, want[i])
		}
	}

	if missing, err := NewStateStore(filepath.Join(dir, "missing")).List(); err != nil || missing != nil {
		t.Errorf("missing directory: %v, %v", missing, err)
	}
}

func TestStateStore_Delete(t *testing.T) {
	store := NewStateStore(t.TempDir())
	if err := store.Record(runResult(catalog.Families, catalog.StatusSuccess, time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(catalog.Families); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if state, _ := store.Load(catalog.Families); state != nil {
		t.Error("state still present after Delete")
	}
	if err := store.Delete(catalog.Families); err != nil {
		t.Errorf("deleting a missing state should succeed: %v", err)
	}
}

func TestStateStore_CreatesDirectoryAndLeavesNoTempFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	store := NewStateStore(dir)
	if err := store.Record(runResult(catalog.Attributes, catalog.StatusSuccess, time.Now())); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "attributes.json.tmp")); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
	if store.Path() != dir {
		t.Errorf("Path() = %s", store.Path())
	}
}

func TestStateStore_ConcurrentRecords(t *testing.T) {
	store := NewStateStore(t.TempDir())
	var wg sync.WaitGroup
	for _, c := range catalog.Classes() {
		wg.Add(1)
		go func(c catalog.EntityClass) {
			defer wg.Done()
			if err := store.Record(runResult(c, catalog.StatusSuccess, time.Now())); err != nil {
				t.Errorf("Record(%s) failed: %v", c, err)
			}
		}(c)
	}
	wg.Wait()

	states, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(states) != len(catalog.Classes()) {
		t.Errorf("got %d states, want %d", len(states), len(catalog.Classes()))
	}
}
