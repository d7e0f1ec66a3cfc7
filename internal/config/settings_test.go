package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/pimsync/runtime/internal/database"
	"github.com/pimsync/runtime/internal/filter"
	"github.com/pimsync/runtime/internal/values"
	"github.com/pimsync/runtime/pkg/catalog"
)

func TestConvertToSettings_YAML(t *testing.T) {
	t.Setenv("PIMSYNC_TEST_PASSWORD", "s3cret")

	result := ParseConfig("testdata/valid-settings.yaml")
	if !result.IsValid() {
		t.Fatalf("unexpected errors: %v", result.AllErrors())
	}
	s, err := ConvertToSettings(result.Data)
	if err != nil {
		t.Fatalf("ConvertToSettings failed: %v", err)
	}

	if s.Remote == nil {
		t.Fatal("expected a remote section")
	}
	if s.Remote.Password != "s3cret" {
		t.Errorf("password was not expanded: %q", s.Remote.Password)
	}
	if s.Remote.PageSize != 50 || s.Remote.Timeout != 5*time.Second {
		t.Errorf("unexpected paging %d / %v", s.Remote.PageSize, s.Remote.Timeout)
	}
	if s.Remote.Retry.MaxAttempts != 2 || s.Remote.Retry.DelayMs != 10 || s.Remote.Retry.BackoffMultiplier != 2 {
		t.Errorf("unexpected retry %+v", s.Remote.Retry)
	}
	if !reflect.DeepEqual(s.Store.Locales, []string{"en_US", "fr_FR"}) {
		t.Errorf("locales = %v", s.Store.Locales)
	}
	if s.Store.Scope != filter.DefaultScope {
		t.Errorf("scope = %q, want default", s.Store.Scope)
	}
	if s.Exclude[catalog.Products] != "record.enabled == false" {
		t.Errorf("exclude = %v", s.Exclude)
	}
	if s.Logging.Level != "debug" || s.Logging.Format != "human" {
		t.Errorf("logging = %+v", s.Logging)
	}
	if s.StatePath != "/var/lib/pimsync/state" {
		t.Errorf("statePath = %q", s.StatePath)
	}

	rc, err := s.RemoteConfig()
	if err != nil {
		t.Fatalf("RemoteConfig failed: %v", err)
	}
	if rc.BaseURL != "https://pim.example.com" || rc.Username != "sync" || rc.PageSize != 50 {
		t.Errorf("unexpected remote config %+v", rc)
	}
}

func TestConvertToSettings_StoreOnly(t *testing.T) {
	result := ParseConfig("testdata/valid-settings.json")
	if !result.IsValid() {
		t.Fatalf("unexpected errors: %v", result.AllErrors())
	}
	s, err := ConvertToSettings(result.Data)
	if err != nil {
		t.Fatalf("ConvertToSettings failed: %v", err)
	}

	if _, err := s.RemoteConfig(); !errors.Is(err, ErrNoRemote) {
		t.Errorf("expected ErrNoRemote, got %v", err)
	}
	db := s.DatabaseConfig()
	if db.Driver != database.DriverPostgres || db.MaxOpenConns != 4 {
		t.Errorf("unexpected database config %+v", db)
	}
	if s.Store.Scope != "print" {
		t.Errorf("scope = %q", s.Store.Scope)
	}
	if s.StatePath != DefaultStateDir() {
		t.Errorf("statePath = %q, want %q", s.StatePath, DefaultStateDir())
	}
}

func TestConvertToSettings_Errors(t *testing.T) {
	if _, err := ConvertToSettings(nil); err == nil {
		t.Error("expected error for nil data")
	}
	if _, err := ConvertToSettings(map[string]interface{}{}); err == nil {
		t.Error("expected error without store section")
	}
	if _, err := ConvertToSettings(map[string]interface{}{
		"store": map[string]interface{}{"driver": "sqlite"},
	}); err == nil {
		t.Error("expected error without dsn")
	}
}

func TestLoadEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	env := "PIMSYNC_TEST_FROM_FILE=file\nPIMSYNC_TEST_ALREADY_SET=file\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIMSYNC_TEST_ALREADY_SET", "process")
	t.Setenv("PIMSYNC_TEST_FROM_FILE", "")
	os.Unsetenv("PIMSYNC_TEST_FROM_FILE")

	if err := LoadEnv(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if got := os.Getenv("PIMSYNC_TEST_FROM_FILE"); got != "file" {
		t.Errorf("PIMSYNC_TEST_FROM_FILE = %q, want file", got)
	}
	if got := os.Getenv("PIMSYNC_TEST_ALREADY_SET"); got != "process" {
		t.Errorf("PIMSYNC_TEST_ALREADY_SET = %q, want process", got)
	}
}

func TestLoadEnv_MissingFiles(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "config.yaml")); err != nil {
		t.Errorf("missing .env files should be ignored: %v", err)
	}
}

func TestDefaultPaths(t *testing.T) {
	if filepath.Base(DefaultConfigPath()) != "config.yaml" {
		t.Errorf("unexpected config path %s", DefaultConfigPath())
	}
	if filepath.Base(filepath.Dir(DefaultConfigPath())) != "pimsync" {
		t.Errorf("config path should live in a pimsync dir: %s", DefaultConfigPath())
	}
	if filepath.Base(DefaultStateDir()) != "pimsync" {
		t.Errorf("unexpected state dir %s", DefaultStateDir())
	}
}

func TestValueRegistry(t *testing.T) {
	result := ParseConfigString("store:\n  dsn: a.db\nvalues:\n  passthrough: [metric]\n", FormatYAML)
	if !result.IsValid() {
		t.Fatalf("unexpected errors: %v", result.AllErrors())
	}
	s, err := ConvertToSettings(result.Data)
	if err != nil {
		t.Fatalf("ConvertToSettings failed: %v", err)
	}
	r, err := s.ValueRegistry()
	if err != nil {
		t.Fatalf("ValueRegistry failed: %v", err)
	}
	raw := map[string]interface{}{"amount": "12.5", "unit": "KILOGRAM"}
	got, err := r.Build("pim_catalog_metric", "weight", "", "", raw)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !reflect.DeepEqual(got, raw) {
		t.Errorf("metric not passed through: %v", got)
	}

	dup := &Settings{Values: ValueSettings{Passthrough: []string{"image", "metric", "image"}}}
	if _, err := dup.ValueRegistry(); !errors.Is(err, values.ErrAmbiguousClaim) {
		t.Errorf("expected ErrAmbiguousClaim, got %v", err)
	}

	unknown := &Settings{Values: ValueSettings{Passthrough: []string{"table"}}}
	if _, err := unknown.ValueRegistry(); !errors.Is(err, values.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}

	invalid := ParseConfigString("store:\n  dsn: a.db\nvalues:\n  passthrough: [table]\n", FormatYAML)
	if len(invalid.ValidationErrors) == 0 {
		t.Error("schema should reject unknown kinds")
	}
}
