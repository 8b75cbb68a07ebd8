package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrProviderFailed = errors.New("embedding provider failed")
	ErrEmptyText      = errors.New("text cannot be empty")
	ErrBatchTooLarge  = errors.New("batch size exceeds limit")
)

// Embedding represents a vector embedding with provenance metadata.
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // hash of the normalized source text, used as cache key
}

// Provider is a backend capable of turning normalized text into vectors.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed generates one embedding per input text, in input order.
	Embed(ctx context.Context, texts []string) ([]*Embedding, error)

	// Dimension returns the embedding dimensionality this provider produces.
	Dimension() int

	// Name returns the provider name for stats and provenance.
	Name() string

	// Model returns the model identifier.
	Model() string

	// Close releases any resources held by the provider.
	Close() error
}

// Cache provides in-memory LRU caching of embeddings keyed by the hash of
// the normalized text.
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates a new embedding cache with LRU eviction.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		// Should never happen with positive size, but fallback to default
		cache, _ = lru.New[string, *Embedding](10000)
	}
	return &Cache{cache: cache}
}

// Get retrieves a deep copy of an embedding from cache.
// Returns a copy to prevent caller mutations from affecting cached values.
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}

	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)

	return &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}, true
}

// Set stores a deep copy of an embedding with automatic LRU eviction.
// Copying on both Set and Get keeps cached vectors isolated from every
// caller-held slice.
func (c *Cache) Set(hash string, emb *Embedding) {
	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)

	c.cache.Add(hash, &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	})
}

// Size returns the current cache size.
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes the SHA-256 hash of normalized text for caching.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// validateTexts rejects empty batches and empty items before any provider
// call is made.
func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}
