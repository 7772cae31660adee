package config

import "fmt"

// Setting is one displayable config value.
type Setting struct {
	Key   string
	Env   string
	Value string
}

// Settings lists the non-secret settings of cfg in declaration order.
func Settings(cfg Config) []Setting {
	out := make([]Setting, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			out = append(out, Setting{Key: s.key, Env: s.env, Value: fmt.Sprint(s.extract(cfg))})
		}
	}
	return out
}

// Set validates value for key and persists it to the user's config file.
func Set(key, value string) error {
	return set(newPlatformBackend(), key, value)
}

func set(b Backend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}

	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	// Durations keep their written form; everything else is stored typed.
	if s.typ == kDuration {
		v = value
	}
	return b.Store(key, v)
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}
