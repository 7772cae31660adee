package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Backend holds persisted settings. Values come back as raw strings and are
// typed by the key table, so a file may write 25 or "25" interchangeably.
type Backend interface {
	Lookup(key string) (raw string, ok bool, err error)
	Store(key string, value any) error
}

// settingsFile is a flat JSON object keyed by dotted setting names.
type settingsFile struct {
	path   string
	values map[string]json.RawMessage
}

func newPlatformBackend() Backend {
	return openSettingsFile(filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config", "."), "skymood", "config.json"))
}

func defaultDataDir() string {
	base := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"), "")
	if base == "" {
		return "skymood-data"
	}
	return filepath.Join(base, "skymood")
}

// xdgDir resolves an XDG base directory, falling back to homeRel under the
// user's home, or to fallback when there is no home.
func xdgDir(env, homeRel, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, homeRel)
}

// openSettingsFile reads path if it exists. An unreadable or malformed file
// is reported on stderr and treated as empty.
func openSettingsFile(path string) *settingsFile {
	f := &settingsFile{path: path, values: map[string]json.RawMessage{}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", path, err)
	default:
		if err := json.Unmarshal(data, &f.values); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
			f.values = map[string]json.RawMessage{}
		}
	}
	return f
}

func (f *settingsFile) Lookup(key string) (string, bool, error) {
	msg, ok := f.values[key]
	if !ok {
		return "", false, nil
	}
	raw, err := rawString(msg)
	if err != nil {
		return "", true, fmt.Errorf("%s: %w", key, err)
	}
	return raw, true, nil
}

// rawString flattens a JSON scalar or array of scalars to the string form
// parseValue expects. Arrays are joined with commas.
func rawString(msg json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(msg, &v); err != nil {
		return "", err
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return "", fmt.Errorf("list entry %v is not a string", item)
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported value %s", msg)
	}
}

func (f *settingsFile) Store(key string, value any) error {
	msg, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	f.values[key] = msg

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, append(data, '\n'), 0o600)
}
