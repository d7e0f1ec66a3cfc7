package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${VAR} references in every string of data with the
// environment value. References to unset variables are left as written so
// validation points at them.
func ExpandEnv(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = expandValue(v)
	}
	return out
}

func expandValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return expandString(t)
	case map[string]interface{}:
		return ExpandEnv(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = expandValue(item)
		}
		return out
	default:
		return v
	}
}

func expandString(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return ref
	})
}

// LoadEnv loads the .env file next to the settings file and the one in the
// working directory, in that order. Variables already set are not overridden
// and missing files are ignored.
func LoadEnv(settingsPath string) error {
	var files []string
	if settingsPath != "" {
		files = append(files, filepath.Join(filepath.Dir(settingsPath), ".env"))
	}
	files = append(files, ".env")

	seen := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
