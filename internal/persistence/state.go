// Package persistence keeps the outcome of the last run of each entity class
// so `pimsync status` can report it across invocations.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pimsync/runtime/internal/logger"
	"github.com/pimsync/runtime/pkg/catalog"
)

// Common errors
var (
	// ErrInvalidClass is returned when the entity class is empty.
	ErrInvalidClass = errors.New("entity class is required")

	// ErrNilState is returned when state is nil.
	ErrNilState = errors.New("state is nil")
)

// State is the persisted run history of one entity class.
type State struct {
	Class catalog.EntityClass `json:"class"`

	// LastRun is the most recent run, whatever its status.
	LastRun catalog.RunResult `json:"lastRun"`

	// LastSuccessAt is when the last run that did not fail started. Dry runs
	// do not count.
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// StateStore persists one JSON file per entity class under basePath.
type StateStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewStateStore creates a StateStore rooted at basePath.
func NewStateStore(basePath string) *StateStore {
	return &StateStore{basePath: basePath}
}

// Path returns the state directory.
func (s *StateStore) Path() string {
	return s.basePath
}

func (s *StateStore) filePath(class catalog.EntityClass) string {
	// Base keeps the file inside basePath whatever the class name.
	return filepath.Join(s.basePath, filepath.Base(string(class))+".json")
}

// Save persists state for class with an atomic write (temp file + rename).
func (s *StateStore) Save(class catalog.EntityClass, state *State) error {
	if class == "" {
		return ErrInvalidClass
	}
	if state == nil {
		return ErrNilState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.basePath, 0o700); err != nil {
		logger.Warn("failed to create state directory", "path", s.basePath, "error", err.Error())
		return fmt.Errorf("creating state directory: %w", err)
	}

	state.Class = class
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	filePath := s.filePath(class)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		logger.Warn("failed to write temp state file", "class", class, "path", tempPath, "error", err.Error())
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		logger.Warn("failed to rename state file", "class", class, "path", filePath, "error", err.Error())
		return fmt.Errorf("renaming state file: %w", err)
	}

	logger.Debug("state saved", "class", class, "path", filePath, "status", state.LastRun.Status)
	return nil
}

// Load returns the state of class, or nil, nil when the class never ran.
func (s *StateStore) Load(class catalog.EntityClass) (*State, error) {
	if class == "" {
		return nil, ErrInvalidClass
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(s.filePath(class))
}

func (s *StateStore) load(filePath string) (*State, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn("failed to unmarshal state", "path", filePath, "error", err.Error())
		return nil, fmt.Errorf("unmarshaling state %s: %w", filePath, err)
	}
	return &state, nil
}

// Record stores result as the last run of its class. A run that did not
// fail also moves LastSuccessAt, unless it was a dry run.
func (s *StateStore) Record(result catalog.RunResult) error {
	prev, err := s.Load(result.Class)
	if err != nil {
		// A corrupt file is replaced rather than blocking the history.
		logger.Warn("previous state unreadable, overwriting", "class", result.Class, "error", err.Error())
	}

	state := &State{LastRun: result, UpdatedAt: time.Now().UTC()}
	if prev != nil {
		state.LastSuccessAt = prev.LastSuccessAt
	}
	if result.Status != catalog.StatusError && !result.DryRun {
		started := result.StartedAt
		state.LastSuccessAt = &started
	}
	return s.Save(result.Class, state)
}

// List returns the state of every class that ran, sorted by class.
func (s *StateStore) List() ([]*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state directory: %w", err)
	}

	var states []*State
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		state, err := s.load(filepath.Join(s.basePath, e.Name()))
		if err != nil {
			return nil, err
		}
		if state != nil {
			states = append(states, state)
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Class < states[j].Class })
	return states, nil
}

// Delete removes the state of class. A missing file is not an error.
func (s *StateStore) Delete(class catalog.EntityClass) error {
	if class == "" {
		return ErrInvalidClass
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(class)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting state file: %w", err)
	}
	return nil
}
