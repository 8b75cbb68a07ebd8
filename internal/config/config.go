// Package config loads the service configuration from YAML with defaults
// applied for everything left unset. Secrets never live in the file: the
// embedding API key is named by env var and resolved at engine construction.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EmbeddingConfig configures the embedding engine and its provider.
type EmbeddingConfig struct {
	Provider        string `yaml:"provider"` // "http" or "hash"
	BaseURL         string `yaml:"base_url"`
	APIKeyEnv       string `yaml:"api_key_env"`
	Model           string `yaml:"model"`
	Dimension       int    `yaml:"dimension"`
	TimeoutSecs     int    `yaml:"timeout_secs"`
	MaxTokens       int    `yaml:"max_tokens"`
	MiniBatchSize   int    `yaml:"mini_batch_size"`
	CacheSize       int    `yaml:"cache_size"`
	MinFreeMemoryMB int    `yaml:"min_free_memory_mb"`
	Workers         int    `yaml:"workers"`
}

// SearchConfig tunes the search pipeline.
type SearchConfig struct {
	Threshold       float64 `yaml:"threshold"`
	OverFetchFactor int     `yaml:"over_fetch_factor"`
	FloorK          int     `yaml:"floor_k"`
	VerifiedBoost   float64 `yaml:"verified_boost"`
	CacheSize       int     `yaml:"cache_size"`
	CacheTTLMins    int     `yaml:"cache_ttl_mins"`
}

// StorageConfig locates the database and the index snapshot.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexPath    string `yaml:"index_path"`
}

// PipelineConfig tunes the embedding backfill.
type PipelineConfig struct {
	BatchSize  int `yaml:"batch_size"`
	GroupLimit int `yaml:"group_limit"`
}

// Config is the root configuration.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Storage   StorageConfig   `yaml:"storage"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	LogLevel  string          `yaml:"log_level"`
}

// CacheTTL returns the query cache TTL as a duration.
func (c *SearchConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMins) * time.Minute
}

// Load reads a config from path. A missing file returns defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes the config to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns the full default configuration: hash-fallback embeddings
// over a local database under the user's data directory.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	e := &cfg.Embedding
	if e.Provider == "" {
		e.Provider = "hash"
	}
	if e.Provider == "http" {
		if e.BaseURL == "" {
			e.BaseURL = "https://api.openai.com/v1"
		}
		if e.APIKeyEnv == "" {
			e.APIKeyEnv = "LEXSEARCH_API_KEY"
		}
		if e.Model == "" {
			e.Model = "text-embedding-3-small"
		}
	}
	if e.Dimension == 0 {
		e.Dimension = 768
	}
	if e.TimeoutSecs == 0 {
		e.TimeoutSecs = 30
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 256
	}
	if e.MiniBatchSize == 0 {
		e.MiniBatchSize = 32
	}
	if e.CacheSize == 0 {
		e.CacheSize = 2048
	}
	if e.MinFreeMemoryMB == 0 {
		e.MinFreeMemoryMB = 512
	}

	s := &cfg.Search
	if s.Threshold == 0 {
		s.Threshold = 0.65
	}
	if s.OverFetchFactor == 0 {
		s.OverFetchFactor = 3
	}
	if s.FloorK == 0 {
		s.FloorK = 50
	}
	if s.VerifiedBoost == 0 {
		s.VerifiedBoost = 0.02
	}
	if s.CacheSize == 0 {
		s.CacheSize = 1000
	}
	if s.CacheTTLMins == 0 {
		s.CacheTTLMins = 60
	}

	st := &cfg.Storage
	if st.DatabasePath == "" {
		st.DatabasePath = defaultDataPath("lexsearch.db")
	}
	if st.IndexPath == "" {
		st.IndexPath = defaultDataPath("index.snapshot")
	}

	p := &cfg.Pipeline
	if p.BatchSize == 0 {
		p.BatchSize = 64
	}
	if p.GroupLimit == 0 {
		p.GroupLimit = 2
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".lexsearch", name)
}
