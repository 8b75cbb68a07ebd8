package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds the full embedding configuration as loaded from the config
// file. APIKeyEnv names the environment variable holding the model API key;
// the key itself never appears in configuration.
type Config struct {
	Provider        string
	BaseURL         string
	APIKeyEnv       string
	Model           string
	Dimension       int
	TimeoutSecs     int
	MaxTokens       int
	MiniBatchSize   int
	CacheSize       int
	MinFreeMemoryMB int
	Workers         int
}

// NewFromConfig builds the engine for the configured provider. An unknown
// provider is a configuration error; a provider that later fails to load is
// not (Initialize degrades to hash mode instead).
func NewFromConfig(cfg Config, log *slog.Logger) (*Engine, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", ErrInvalidInput)
	}

	engineCfg := EngineConfig{
		Dimension:       cfg.Dimension,
		MaxTokens:       cfg.MaxTokens,
		MiniBatchSize:   cfg.MiniBatchSize,
		CacheSize:       cfg.CacheSize,
		MinFreeMemoryMB: cfg.MinFreeMemoryMB,
		Workers:         cfg.Workers,
		EncodeTimeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderHTTP:
		provider, err := NewHTTPProvider(HTTPConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    os.Getenv(cfg.APIKeyEnv),
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   engineCfg.EncodeTimeout,
		})
		if err != nil {
			return nil, err
		}
		return NewEngine(engineCfg, provider, log), nil
	case ProviderHash, "":
		// Explicit hash provider: deterministic vectors, no model.
		return NewEngine(engineCfg, nil, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidInput, cfg.Provider)
	}
}
