package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/qanoon-dev/lexsearch-mcp/internal/normalizer"
	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

// Mode identifies which encoder currently backs the engine.
type Mode string

const (
	// ModeModel means the configured embedding model is serving encode calls.
	ModeModel Mode = "model"
	// ModeHash means the engine degraded to deterministic hash-derived
	// vectors. Search stays available but quality is meaningfully worse;
	// the mode is reported through Stats so operators can tell.
	ModeHash Mode = "hash-fallback"
)

// probeText is encoded once at initialization to verify the model actually
// loads and produces the configured dimension.
const probeText = "تهيئة محرك البحث"

// EngineConfig configures the embedding engine.
type EngineConfig struct {
	Dimension       int           // vector dimensionality D of the active model
	MaxTokens       int           // normalization token bound
	MiniBatchSize   int           // texts per provider call inside EncodeBatch
	CacheSize       int           // LRU embedding cache entries
	MinFreeMemoryMB int           // memory gate checked before model init
	Workers         int           // bounded pool for CPU-heavy encode work
	EncodeTimeout   time.Duration // per provider call
}

// Stats is the engine introspection surface for operators.
type Stats struct {
	Mode            Mode    `json:"mode"`
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	Dimension       int     `json:"dimension"`
	CacheSize       int     `json:"cache_size"`
	CacheHits       int64   `json:"cache_hits"`
	CacheMisses     int64   `json:"cache_misses"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	FallbackEncodes int64   `json:"fallback_encodes"`
}

// Engine maps normalized legal text to fixed-length vectors. Model failure is
// hidden behind the deterministic hash fallback: there is no fatal error path
// in this component, because the surrounding service must stay available.
type Engine struct {
	cfg EngineConfig
	log *slog.Logger

	mu       sync.RWMutex
	mode     Mode
	provider Provider // model-backed provider; nil once degraded

	cache *Cache
	sem   *semaphore.Weighted

	hits      atomic.Int64
	misses    atomic.Int64
	fallbacks atomic.Int64
}

// NewEngine creates an engine around the given model provider. The provider
// may be nil (no model configured); Initialize then selects hash mode.
func NewEngine(cfg EngineConfig, provider Provider, log *slog.Logger) *Engine {
	if cfg.MiniBatchSize <= 0 {
		cfg.MiniBatchSize = 32
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.EncodeTimeout <= 0 {
		cfg.EncodeTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		cfg:      cfg,
		log:      log,
		mode:     ModeHash,
		provider: provider,
		cache:    NewCache(cfg.CacheSize),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
	}
}

// Initialize loads the embedding model: it checks the memory gate, then
// probes the provider once to confirm it responds with the configured
// dimension. Any failure switches the engine into hash-fallback mode and is
// absorbed; Initialize never returns a fatal error.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.provider == nil {
		e.log.Warn("no embedding model configured, running in hash-fallback mode")
		e.mode = ModeHash
		return nil
	}

	if avail, ok := availableMemoryMB(); ok && e.cfg.MinFreeMemoryMB > 0 && avail < e.cfg.MinFreeMemoryMB {
		e.log.Warn("insufficient memory for embedding model, switching to hash-fallback mode",
			"available_mb", avail, "required_mb", e.cfg.MinFreeMemoryMB,
			"cause", types.ErrModelUnavailable)
		e.degradeLocked()
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.EncodeTimeout)
	defer cancel()

	embs, err := e.provider.Embed(probeCtx, []string{probeText})
	if err != nil {
		e.log.Warn("embedding model failed to load, switching to hash-fallback mode",
			"error", err, "cause", types.ErrModelUnavailable)
		e.degradeLocked()
		return nil
	}
	if len(embs) != 1 {
		e.log.Warn("embedding model returned malformed probe response, switching to hash-fallback mode",
			"embeddings", len(embs), "cause", types.ErrModelUnavailable)
		e.degradeLocked()
		return nil
	}
	if embs[0].Dimension != e.cfg.Dimension {
		e.log.Warn("embedding model dimension does not match configuration, switching to hash-fallback mode",
			"model_dimension", embs[0].Dimension, "configured", e.cfg.Dimension,
			"cause", types.ErrDimensionMismatch)
		e.degradeLocked()
		return nil
	}

	e.mode = ModeModel
	e.log.Info("embedding model ready",
		"provider", e.provider.Name(), "model", e.provider.Model(), "dimension", e.cfg.Dimension)
	return nil
}

func (e *Engine) degradeLocked() {
	if e.provider != nil {
		_ = e.provider.Close()
		e.provider = nil
	}
	e.mode = ModeHash
}

// Encode normalizes text, consults the cache, and computes the embedding via
// the active provider. Provider failures fall back to the deterministic hash
// vector; only context cancellation or empty input produce an error.
func (e *Engine) Encode(ctx context.Context, text string) ([]float32, error) {
	normalized := normalizer.Normalize(text, e.cfg.MaxTokens)
	if normalized == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(normalized)
	if emb, ok := e.cache.Get(hash); ok {
		e.hits.Add(1)
		return emb.Vector, nil
	}
	e.misses.Add(1)

	emb, err := e.encodeOne(ctx, normalized)
	if err != nil {
		return nil, err
	}
	emb.Hash = hash
	e.cache.Set(hash, emb)
	return emb.Vector, nil
}

// EncodeBatch encodes texts in bounded mini-batches so a large ingest never
// turns into one giant model call: each mini-batch is encoded sequentially
// and intermediate buffers are released (with an explicit GC) between them.
// A provider failure mid-batch downgrades that mini-batch to per-text hash
// vectors while the rest of the batch continues; the result always has
// exactly len(texts) vectors unless the context is cancelled.
func (e *Engine) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = normalizer.Normalize(t, e.cfg.MaxTokens)
		if normalized[i] == "" {
			return nil, fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	vectors := make([][]float32, len(texts))
	for start := 0; start < len(normalized); start += e.cfg.MiniBatchSize {
		end := start + e.cfg.MiniBatchSize
		if end > len(normalized) {
			end = len(normalized)
		}

		if err := e.encodeMiniBatch(ctx, normalized[start:end], vectors[start:end]); err != nil {
			return nil, err
		}

		// Bounded mini-batches exist to cap transient memory; reclaim the
		// per-batch request/response buffers before the next one.
		if end < len(normalized) {
			runtime.GC()
		}
	}

	return vectors, nil
}

// encodeMiniBatch fills out with one vector per text, serving cache hits
// first and encoding the misses in a single provider call.
func (e *Engine) encodeMiniBatch(ctx context.Context, batch []string, out [][]float32) error {
	hashes := make([]string, len(batch))
	missIdx := make([]int, 0, len(batch))

	for i, text := range batch {
		hashes[i] = ComputeHash(text)
		if emb, ok := e.cache.Get(hashes[i]); ok {
			e.hits.Add(1)
			out[i] = emb.Vector
			continue
		}
		e.misses.Add(1)
		missIdx = append(missIdx, i)
	}

	if len(missIdx) == 0 {
		return nil
	}

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = batch[i]
	}

	embs, err := e.embedOffloaded(ctx, missTexts)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", types.ErrTimeout, ctx.Err())
		}
		// Partial failure never aborts the whole batch: this mini-batch
		// degrades to per-text hash vectors and the rest continues.
		e.log.Warn("mini-batch encode failed, using hash fallback for batch items",
			"items", len(missTexts), "error", err)
		embs = make([]*Embedding, len(missTexts))
		for j, text := range missTexts {
			embs[j] = e.hashEmbedding(text)
		}
		e.fallbacks.Add(int64(len(missTexts)))
	}

	for j, i := range missIdx {
		embs[j].Hash = hashes[i]
		e.cache.Set(hashes[i], embs[j])
		out[i] = embs[j].Vector
	}
	return nil
}

// encodeOne computes a single embedding with per-item hash fallback.
func (e *Engine) encodeOne(ctx context.Context, normalized string) (*Embedding, error) {
	embs, err := e.embedOffloaded(ctx, []string{normalized})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrTimeout, ctx.Err())
		}
		e.log.Warn("encode failed, using hash fallback", "error", err)
		e.fallbacks.Add(1)
		return e.hashEmbedding(normalized), nil
	}
	return embs[0], nil
}

// embedOffloaded runs the CPU-heavy provider call under the bounded worker
// pool so inference never saturates the request-accepting path.
func (e *Engine) embedOffloaded(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	e.mu.RLock()
	mode := e.mode
	provider := e.provider
	e.mu.RUnlock()

	if mode == ModeHash || provider == nil {
		embs := make([]*Embedding, len(texts))
		for i, text := range texts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			embs[i] = e.hashEmbedding(text)
		}
		return embs, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.EncodeTimeout)
	defer cancel()
	return provider.Embed(callCtx, texts)
}

func (e *Engine) hashEmbedding(normalized string) *Embedding {
	return &Embedding{
		Vector:    hashVector(normalized, e.cfg.Dimension),
		Dimension: e.cfg.Dimension,
		Provider:  ProviderHash,
		Model:     "hash-fallback",
	}
}

// Mode returns the active encode mode.
func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Dimension returns the vector dimensionality every encode call produces.
func (e *Engine) Dimension() int {
	return e.cfg.Dimension
}

// ModelID identifies the encoder that produced current vectors; it is stored
// with the index snapshot so dimension/model drift is detected on reload.
func (e *Engine) ModelID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.mode == ModeModel && e.provider != nil {
		return e.provider.Model()
	}
	return "hash-fallback"
}

// Stats reports cache and mode introspection.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	mode := e.mode
	providerName := ProviderHash
	model := "hash-fallback"
	if e.provider != nil {
		providerName = e.provider.Name()
		model = e.provider.Model()
	}
	e.mu.RUnlock()

	hits := e.hits.Load()
	misses := e.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}

	return Stats{
		Mode:            mode,
		Provider:        providerName,
		Model:           model,
		Dimension:       e.cfg.Dimension,
		CacheSize:       e.cache.Size(),
		CacheHits:       hits,
		CacheMisses:     misses,
		CacheHitRate:    rate,
		FallbackEncodes: e.fallbacks.Load(),
	}
}

// ClearCache drops all cached embeddings.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// Close releases the underlying provider.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.provider != nil {
		err := e.provider.Close()
		e.provider = nil
		return err
	}
	return nil
}
