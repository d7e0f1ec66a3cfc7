package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pimsync/runtime/internal/database"
	"github.com/pimsync/runtime/internal/errhandling"
	"github.com/pimsync/runtime/internal/filter"
	"github.com/pimsync/runtime/internal/remote"
	"github.com/pimsync/runtime/internal/values"
	"github.com/pimsync/runtime/pkg/catalog"
)

// ErrNoRemote is returned when a command needs the remote catalog and the
// settings have no remote section.
var ErrNoRemote = errors.New("settings have no remote section")

// Settings is the typed form of a validated settings document.
type Settings struct {
	Remote  *RemoteSettings
	Store   StoreSettings
	Exclude map[catalog.EntityClass]string
	Logging LoggingSettings
	Values  ValueSettings
	// StatePath is the directory holding last-run state (default DefaultStateDir)
	StatePath string
}

// RemoteSettings locates and authenticates the remote catalog API.
type RemoteSettings struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	PageSize     int
	MaxPages     int
	Timeout      time.Duration
	Retry        errhandling.RetryConfig
}

// StoreSettings describes the local store.
type StoreSettings struct {
	Driver       string
	DSN          string
	Locales      []string
	Scope        string
	MaxOpenConns int
}

// LoggingSettings configures the logger.
type LoggingSettings struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ValueSettings adjusts value building.
type ValueSettings struct {
	// Passthrough lists the attribute kinds whose values are stored in their
	// remote shape instead of going through the built-in builder.
	Passthrough []string
}

// ConvertToSettings converts a validated settings document.
//
// The document is expected to have this structure:
//
//	remote:  {baseUrl, clientId, clientSecret, username, password, pageSize, maxPages, timeoutMs, retry}
//	store:   {driver, dsn, locales, scope, maxOpenConns}
//	exclude: {<class>: <expression>}
//	logging: {level, format, file, maxSizeMb, maxBackups, maxAgeDays}
//	values:  {passthrough: [<kind>]}
//	statePath: <dir>
func ConvertToSettings(data map[string]interface{}) (*Settings, error) {
	if data == nil {
		return nil, fmt.Errorf("settings data is nil")
	}

	storeData, ok := data["store"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'store' section")
	}
	s := &Settings{
		Store: StoreSettings{
			Driver:       stringValue(storeData["driver"]),
			DSN:          stringValue(storeData["dsn"]),
			Locales:      stringList(storeData["locales"]),
			Scope:        stringValue(storeData["scope"]),
			MaxOpenConns: intValue(storeData["maxOpenConns"], 0),
		},
		StatePath: stringValue(data["statePath"]),
	}
	if s.Store.DSN == "" {
		return nil, fmt.Errorf("missing required field 'store.dsn'")
	}
	if s.Store.Scope == "" {
		s.Store.Scope = filter.DefaultScope
	}
	if s.StatePath == "" {
		s.StatePath = DefaultStateDir()
	}

	if remoteData, ok := data["remote"].(map[string]interface{}); ok {
		s.Remote = convertRemote(remoteData)
	}

	if excludeData, ok := data["exclude"].(map[string]interface{}); ok {
		s.Exclude = make(map[catalog.EntityClass]string, len(excludeData))
		for name, v := range excludeData {
			class, err := catalog.ParseEntityClass(name)
			if err != nil {
				return nil, fmt.Errorf("invalid 'exclude' entry: %w", err)
			}
			if expr := stringValue(v); expr != "" {
				s.Exclude[class] = expr
			}
		}
	}

	if logData, ok := data["logging"].(map[string]interface{}); ok {
		s.Logging = LoggingSettings{
			Level:      stringValue(logData["level"]),
			Format:     stringValue(logData["format"]),
			File:       stringValue(logData["file"]),
			MaxSizeMB:  intValue(logData["maxSizeMb"], 0),
			MaxBackups: intValue(logData["maxBackups"], 0),
			MaxAgeDays: intValue(logData["maxAgeDays"], 0),
		}
	}

	if valueData, ok := data["values"].(map[string]interface{}); ok {
		s.Values.Passthrough = stringList(valueData["passthrough"])
	}

	return s, nil
}

// ValueRegistry builds the value builder registry, one passthrough claim per
// listed kind. A kind listed twice is an ambiguous claim.
func (s *Settings) ValueRegistry() (*values.Registry, error) {
	claims := make([]values.Claim, 0, len(s.Values.Passthrough))
	for _, name := range s.Values.Passthrough {
		kind, err := values.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("values.passthrough: %w", err)
		}
		claims = append(claims, values.Claim{Kind: kind, Builder: values.Passthrough})
	}
	registry, err := values.NewRegistry(claims...)
	if err != nil {
		return nil, fmt.Errorf("values.passthrough: %w", err)
	}
	return registry, nil
}

func convertRemote(data map[string]interface{}) *RemoteSettings {
	r := &RemoteSettings{
		BaseURL:      stringValue(data["baseUrl"]),
		ClientID:     stringValue(data["clientId"]),
		ClientSecret: stringValue(data["clientSecret"]),
		Username:     stringValue(data["username"]),
		Password:     stringValue(data["password"]),
		PageSize:     intValue(data["pageSize"], remote.DefaultPageSize),
		MaxPages:     intValue(data["maxPages"], remote.DefaultMaxPages),
		Timeout:      time.Duration(intValue(data["timeoutMs"], int(remote.DefaultTimeout/time.Millisecond))) * time.Millisecond,
		Retry:        errhandling.DefaultRetryConfig(),
	}
	if retry, ok := data["retry"].(map[string]interface{}); ok {
		r.Retry.MaxAttempts = intValue(retry["maxAttempts"], r.Retry.MaxAttempts)
		r.Retry.DelayMs = intValue(retry["delayMs"], r.Retry.DelayMs)
		r.Retry.BackoffMultiplier = floatValue(retry["backoffMultiplier"], r.Retry.BackoffMultiplier)
		r.Retry.MaxDelayMs = intValue(retry["maxDelayMs"], r.Retry.MaxDelayMs)
	}
	return r
}

// RemoteConfig returns the remote client configuration.
func (s *Settings) RemoteConfig() (remote.Config, error) {
	if s.Remote == nil {
		return remote.Config{}, ErrNoRemote
	}
	return remote.Config{
		BaseURL:      s.Remote.BaseURL,
		ClientID:     s.Remote.ClientID,
		ClientSecret: s.Remote.ClientSecret,
		Username:     s.Remote.Username,
		Password:     s.Remote.Password,
		PageSize:     s.Remote.PageSize,
		MaxPages:     s.Remote.MaxPages,
		Timeout:      s.Remote.Timeout,
		Retry:        s.Remote.Retry,
	}, nil
}

// DatabaseConfig returns the local store connection configuration.
func (s *Settings) DatabaseConfig() database.Config {
	return database.Config{
		Driver:       s.Store.Driver,
		DSN:          s.Store.DSN,
		MaxOpenConns: s.Store.MaxOpenConns,
	}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// intValue reads a number decoded from JSON (float64) or YAML (int).
func intValue(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

func floatValue(v interface{}, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return def
}
