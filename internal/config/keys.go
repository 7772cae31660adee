package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
	kList
)

type keySpec struct {
	key      string
	typ      keyType
	env      string
	secret   bool
	required bool
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "bluesky.base_url", typ: kString, env: "SKYMOOD_BLUESKY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Bluesky.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Bluesky.BaseURL },
	},
	{
		key: "bluesky.handle", typ: kString, env: "BSKY_HANDLE",
		secret: true, required: true,
		apply:   func(cfg *Config, v any) { cfg.Bluesky.Handle = v.(string) },
		extract: func(cfg Config) any { return cfg.Bluesky.Handle },
	},
	{
		key: "bluesky.app_password", typ: kString, env: "BSKY_APP_PASSWORD",
		secret: true, required: true,
		apply:   func(cfg *Config, v any) { cfg.Bluesky.AppPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Bluesky.AppPassword },
	},
	{
		key: "sources.accounts", typ: kList, env: "SKYMOOD_SOURCES_ACCOUNTS",
		apply:   func(cfg *Config, v any) { cfg.Sources.Accounts = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Sources.Accounts, ",") },
	},
	{
		key: "sources.keywords", typ: kList, env: "SKYMOOD_SOURCES_KEYWORDS",
		apply:   func(cfg *Config, v any) { cfg.Sources.Keywords = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Sources.Keywords, ",") },
	},
	{
		key: "sources.keyword_limit", typ: kInt, env: "SKYMOOD_SOURCES_KEYWORD_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Sources.KeywordLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Sources.KeywordLimit },
	},
	{
		key: "sources.posts_per_source", typ: kInt, env: "SKYMOOD_SOURCES_POSTS_PER_SOURCE",
		apply:   func(cfg *Config, v any) { cfg.Sources.PostsPerSource = v.(int) },
		extract: func(cfg Config) any { return cfg.Sources.PostsPerSource },
	},
	{
		key: "sources.delay", typ: kDuration, env: "SKYMOOD_SOURCES_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Sources.Delay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sources.Delay },
	},
	{
		key: "inference.base_url", typ: kString, env: "SKYMOOD_INFERENCE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Inference.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.BaseURL },
	},
	{
		key: "inference.model", typ: kString, env: "SKYMOOD_INFERENCE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Inference.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.Model },
	},
	{
		key: "inference.token", typ: kString, env: "HF_TOKEN",
		secret: true, required: true,
		apply:   func(cfg *Config, v any) { cfg.Inference.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Inference.Token },
	},
	{
		key: "classifier.batch_size", typ: kInt, env: "SKYMOOD_CLASSIFIER_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Classifier.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Classifier.BatchSize },
	},
	{
		key: "classifier.max_attempts", typ: kInt, env: "SKYMOOD_CLASSIFIER_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Classifier.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Classifier.MaxAttempts },
	},
	{
		key: "classifier.transient_backoff", typ: kDuration, env: "SKYMOOD_CLASSIFIER_TRANSIENT_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Classifier.TransientBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Classifier.TransientBackoff },
	},
	{
		key: "classifier.warmup_backoff", typ: kDuration, env: "SKYMOOD_CLASSIFIER_WARMUP_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Classifier.WarmupBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Classifier.WarmupBackoff },
	},
	{
		key: "classifier.batch_delay", typ: kDuration, env: "SKYMOOD_CLASSIFIER_BATCH_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Classifier.BatchDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Classifier.BatchDelay },
	},
	{
		key: "storage.state_file", typ: kString, env: "SKYMOOD_STORAGE_STATE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.StateFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.StateFile },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SKYMOOD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.max_retained", typ: kInt, env: "SKYMOOD_STORAGE_MAX_RETAINED",
		apply:   func(cfg *Config, v any) { cfg.Storage.MaxRetained = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.MaxRetained },
	},
	{
		key: "server.port", typ: kInt, env: "SKYMOOD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "SKYMOOD_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "server.rate_limit", typ: kFloat, env: "SKYMOOD_SERVER_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimit },
	},
	{
		key: "server.burst", typ: kInt, env: "SKYMOOD_SERVER_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.Burst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Burst },
	},
	{
		key: "metrics.textfile", typ: kString, env: "SKYMOOD_METRICS_TEXTFILE",
		apply:   func(cfg *Config, v any) { cfg.Metrics.Textfile = v.(string) },
		extract: func(cfg Config) any { return cfg.Metrics.Textfile },
	},
	{
		key: "log.level", typ: kString, env: "SKYMOOD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts a raw string into the Go type a key expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		return splitList(raw), nil
	default:
		return raw, nil
	}
}

// splitList splits a comma-separated value, trimming entries and dropping
// empty ones.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyBackend applies persisted settings. Unlike env overrides, a value
// in the config file that does not parse is an error.
func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Lookup(s.key)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			return fmt.Errorf("config file key %s=%q: %w", s.key, raw, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
