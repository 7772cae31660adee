package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Bluesky    BlueskyConfig
	Sources    SourcesConfig
	Inference  InferenceConfig
	Classifier ClassifierConfig
	Storage    StorageConfig
	Server     ServerConfig
	Metrics    MetricsConfig
	Log        LogConfig
}

type BlueskyConfig struct {
	BaseURL     string
	Handle      string
	AppPassword string
}

type SourcesConfig struct {
	Accounts       []string
	Keywords       []string
	KeywordLimit   int
	PostsPerSource int
	Delay          time.Duration
}

type InferenceConfig struct {
	BaseURL string
	Model   string
	Token   string
}

type ClassifierConfig struct {
	BatchSize        int
	MaxAttempts      int
	TransientBackoff time.Duration
	WarmupBackoff    time.Duration
	BatchDelay       time.Duration
}

type StorageConfig struct {
	StateFile   string
	DataDir     string
	MaxRetained int
}

type ServerConfig struct {
	Port      int
	Token     string
	RateLimit float64
	Burst     int
}

type MetricsConfig struct {
	// Textfile is where `run` writes its metrics for a node-exporter
	// textfile collector. Empty disables it.
	Textfile string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Bluesky: BlueskyConfig{
			BaseURL: "https://bsky.social",
		},
		Sources: SourcesConfig{
			Accounts: []string{"jay.bsky.social"},
			Keywords: []string{
				"movie review", "new album", "video game",
				"book club", "tv show", "concert",
			},
			KeywordLimit:   3,
			PostsPerSource: 25,
			Delay:          time.Second,
		},
		Inference: InferenceConfig{
			BaseURL: "https://api-inference.huggingface.co",
			Model:   "cardiffnlp/twitter-roberta-base-sentiment-latest",
		},
		Classifier: ClassifierConfig{
			BatchSize:        8,
			MaxAttempts:      3,
			TransientBackoff: 5 * time.Second,
			WarmupBackoff:    20 * time.Second,
			BatchDelay:       time.Second,
		},
		Storage: StorageConfig{
			StateFile:   "data/sentiment.json",
			DataDir:     defaultDataDir(),
			MaxRetained: 1000,
		},
		Server: ServerConfig{
			Port:      4100,
			RateLimit: 5,
			Burst:     10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration for an ingestion run: defaults, then the JSON
// file at $XDG_CONFIG_HOME/skymood/config.json, then SKYMOOD_* environment
// variables. The Bluesky credentials and the inference token are required.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), true)
}

// LoadReadOnly is Load without the credential check, for commands that
// only read the dataset.
func LoadReadOnly() (Config, error) {
	return loadWith(newPlatformBackend(), false)
}

func loadWith(b Backend, requireSecrets bool) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if requireSecrets {
		if missing := cfg.missingSecrets(); len(missing) > 0 {
			return Config{}, fmt.Errorf("missing required config: %s. "+
				"Set them in the environment or in a .env file", strings.Join(missing, ", "))
		}
	}

	return cfg, nil
}

func (c Config) missingSecrets() []string {
	var missing []string
	for _, s := range specs {
		if s.secret && s.required && s.extract(c) == "" {
			missing = append(missing, s.env)
		}
	}
	return missing
}

func (c Config) validate() error {
	var errs []error
	if c.Sources.PostsPerSource < 1 || c.Sources.PostsPerSource > 100 {
		errs = append(errs, fmt.Errorf("sources.posts_per_source must be between 1 and 100, got %d", c.Sources.PostsPerSource))
	}
	if c.Classifier.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("classifier.batch_size must be positive, got %d", c.Classifier.BatchSize))
	}
	if c.Classifier.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("classifier.max_attempts must be positive, got %d", c.Classifier.MaxAttempts))
	}
	if c.Storage.MaxRetained < 1 {
		errs = append(errs, fmt.Errorf("storage.max_retained must be positive, got %d", c.Storage.MaxRetained))
	}
	if c.Storage.StateFile == "" {
		errs = append(errs, errors.New("storage.state_file must not be empty"))
	}
	return errors.Join(errs...)
}
