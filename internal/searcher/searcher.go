package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qanoon-dev/lexsearch-mcp/internal/embedder"
	"github.com/qanoon-dev/lexsearch-mcp/internal/normalizer"
	"github.com/qanoon-dev/lexsearch-mcp/internal/storage"
	"github.com/qanoon-dev/lexsearch-mcp/internal/vectorindex"
	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

const (
	// MaxTopK caps how many results a single request may ask for.
	MaxTopK = 100

	defaultTopK    = 10
	minQueryLen    = 2 // runes, after normalization
	maxSuggestions = 25
)

// Options tunes the search pipeline. Zero values fall back to the defaults
// below; the config package fills these from config.yaml.
type Options struct {
	Threshold       float64       // default minimum similarity
	OverFetchFactor int           // candidate multiplier before filtering
	FloorK          int           // minimum candidate count regardless of top_k
	VerifiedBoost   float64       // additive rank bonus for verified chunks
	CacheSize       int           // query cache entries
	CacheTTL        time.Duration // query cache entry lifetime
	SnapshotPath    string        // index snapshot location, empty disables persist
}

func (o *Options) applyDefaults() {
	if o.Threshold <= 0 {
		o.Threshold = 0.65
	}
	if o.OverFetchFactor <= 0 {
		o.OverFetchFactor = 3
	}
	if o.FloorK <= 0 {
		o.FloorK = 50
	}
	if o.VerifiedBoost <= 0 {
		o.VerifiedBoost = 0.02
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 1000
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 1 * time.Hour
	}
}

// Filters narrows results by source metadata. Free-text fields (law name,
// court) match case-insensitively as substrings; identifier fields
// (jurisdiction, case number) match case-insensitively but exactly.
type Filters struct {
	LawName      string
	Jurisdiction string
	CaseNumber   string
	Court        string
}

func (f *Filters) active() int {
	if f == nil {
		return 0
	}
	n := 0
	for _, v := range []string{f.LawName, f.Jurisdiction, f.CaseNumber, f.Court} {
		if v != "" {
			n++
		}
	}
	return n
}

func (f *Filters) match(meta *storage.ChunkMeta) bool {
	if f == nil {
		return true
	}
	if f.LawName != "" && !containsFold(meta.LawName, f.LawName) {
		return false
	}
	if f.Jurisdiction != "" && !strings.EqualFold(meta.Jurisdiction, f.Jurisdiction) {
		return false
	}
	if f.CaseNumber != "" && !strings.EqualFold(meta.CaseNumber, f.CaseNumber) {
		return false
	}
	if f.Court != "" && !containsFold(meta.Court, f.Court) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Request contains parameters for one search operation.
type Request struct {
	Query     string
	TopK      int
	Threshold *float64     // nil uses the configured default
	Corpus    types.Corpus // empty searches all corpora in one ranking
	Filters   *Filters
	UseCache  bool
}

// Response contains ranked results and per-request diagnostics.
type Response struct {
	Results    []types.SearchResult
	Total      int
	Duration   time.Duration
	CacheHit   bool
	LinearScan bool // true when no index snapshot existed and storage was scanned
}

// cacheEntry is a cached response with its expiration time.
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher coordinates query embedding, candidate retrieval, filtering,
// ranking and enrichment. It owns the query cache; the embedding cache lives
// inside the engine.
type Searcher struct {
	storage storage.Storage
	engine  *embedder.Engine
	index   *vectorindex.Index
	opts    Options
	log     *slog.Logger

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex

	rebuildMu   sync.Mutex
	lastRebuild time.Time
}

// NewSearcher creates a search service over the given collaborators.
func NewSearcher(st storage.Storage, engine *embedder.Engine, index *vectorindex.Index, opts Options, log *slog.Logger) *Searcher {
	opts.applyDefaults()
	if log == nil {
		log = slog.Default()
	}

	cache, err := lru.New[[32]byte, *cacheEntry](opts.CacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create query cache: %v", err))
	}

	return &Searcher{
		storage: st,
		engine:  engine,
		index:   index,
		opts:    opts,
		log:     log,
		cache:   cache,
	}
}

// Search runs the full find-similar pipeline for one query.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	requestID := uuid.NewString()

	normalized, threshold, err := s.validateRequest(&req)
	if err != nil {
		return nil, err
	}

	key := s.cacheKey(normalized, req.Corpus, req.TopK, threshold, req.Filters)
	if req.UseCache {
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			s.log.Debug("search cache hit", "request_id", requestID, "results", cached.Total)
			return cached, nil
		}
	}

	vector, err := s.engine.Encode(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	resp, err := s.searchWithVector(ctx, vector, req.Corpus, req.TopK, threshold, req.Filters)
	if err != nil {
		return nil, err
	}
	resp.Duration = time.Since(start)

	s.log.Info("search completed",
		"request_id", requestID,
		"corpus", string(req.Corpus),
		"results", resp.Total,
		"linear_scan", resp.LinearScan,
		"duration_ms", resp.Duration.Milliseconds())

	if req.UseCache {
		s.storeInCache(key, resp)
	}
	return resp, nil
}

// HybridSearch runs the pipeline once per requested corpus against a single
// shared query embedding. Result groups stay separate: similarity scales are
// not comparable across corpora, so rankings are never merged.
func (s *Searcher) HybridSearch(ctx context.Context, query string, corpora []types.Corpus, topK int, threshold *float64) ([]types.CorpusGroup, error) {
	req := Request{Query: query, TopK: topK, Threshold: threshold}
	_, thr, err := s.validateRequest(&req)
	if err != nil {
		return nil, err
	}
	if len(corpora) == 0 {
		corpora = types.AllCorpora
	}
	for _, c := range corpora {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: unknown corpus %q", types.ErrInvalidQuery, c)
		}
	}

	// Embed exactly once, reuse per corpus
	vector, err := s.engine.Encode(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	groups := make([]types.CorpusGroup, 0, len(corpora))
	for _, corpus := range corpora {
		resp, err := s.searchWithVector(ctx, vector, corpus, req.TopK, thr, nil)
		if err != nil {
			return nil, fmt.Errorf("search failed for corpus %s: %w", corpus, err)
		}
		groups = append(groups, types.CorpusGroup{Corpus: corpus, Results: resp.Results})
	}
	return groups, nil
}

// searchWithVector is steps 3-8 of the pipeline: over-fetch candidates,
// enrich, filter, boost, rank, truncate.
func (s *Searcher) searchWithVector(ctx context.Context, vector []float32, corpus types.Corpus, topK int, threshold float64, filters *Filters) (*Response, error) {
	// Post-filtering eliminates candidates, so fetch extra up front rather
	// than paying a second round trip. More active filters, more extra.
	factor := s.opts.OverFetchFactor + filters.active()
	candidatesK := topK * factor
	if candidatesK < s.opts.FloorK {
		candidatesK = s.opts.FloorK
	}

	hits, linearScan, err := s.fetchCandidates(ctx, vector, candidatesK, corpus, threshold)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &Response{Results: []types.SearchResult{}, LinearScan: linearScan}, nil
	}

	// One batched metadata lookup for every candidate
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	metas, err := s.storage.GetChunkMetaBatch(ctx, ids)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: metadata enrichment", types.ErrTimeout)
		}
		return nil, fmt.Errorf("failed to enrich results: %w", err)
	}

	type scored struct {
		result types.SearchResult
		score  float64
	}
	kept := make([]scored, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < threshold {
			continue
		}
		meta := metas[h.ChunkID]
		if meta == nil || !filters.match(meta) {
			continue
		}

		score := h.Similarity
		if meta.Verified {
			score += s.opts.VerifiedBoost
		}
		kept = append(kept, scored{
			score: score,
			result: types.SearchResult{
				ChunkID:    h.ChunkID,
				Corpus:     meta.Corpus,
				Similarity: h.Similarity,
				Verified:   meta.Verified,
				Content:    meta.Content,
				Metadata: &types.ResultMetadata{
					LawName:       meta.LawName,
					Jurisdiction:  meta.Jurisdiction,
					ArticleNumber: meta.ArticleNumber,
					ArticleTitle:  meta.ArticleTitle,
					CaseNumber:    meta.CaseNumber,
					Court:         meta.Court,
					SectionLabel:  meta.SectionLabel,
				},
			},
		})
	}

	// Boosted score descending, chunk id descending as the recency tie-break
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].result.ChunkID > kept[j].result.ChunkID
	})
	if len(kept) > topK {
		kept = kept[:topK]
	}

	results := make([]types.SearchResult, len(kept))
	for i, k := range kept {
		results[i] = k.result
	}
	return &Response{Results: results, Total: len(results), LinearScan: linearScan}, nil
}

// fetchCandidates queries the index, falling back to an exact linear scan
// over storage when no snapshot has been published yet. The fallback is
// slower but never returns wrong or empty results due to a missing index.
func (s *Searcher) fetchCandidates(ctx context.Context, vector []float32, k int, corpus types.Corpus, threshold float64) ([]vectorindex.Hit, bool, error) {
	hits, err := s.index.Search(vector, k, corpus)
	if err == nil {
		return hits, false, nil
	}
	if !errors.Is(err, types.ErrIndexUnavailable) {
		return nil, false, err
	}

	s.log.Warn("vector index unavailable, using linear scan")
	rows, err := s.storage.SearchVector(ctx, vector, k, corpus, threshold)
	if err != nil {
		return nil, true, fmt.Errorf("linear scan failed: %w", err)
	}
	hits = make([]vectorindex.Hit, len(rows))
	for i, r := range rows {
		hits[i] = vectorindex.Hit{
			ChunkID:    r.ChunkID,
			Corpus:     r.Corpus,
			Verified:   r.Verified,
			Similarity: r.SimilarityScore,
		}
	}
	return hits, true, nil
}

// validateRequest rejects invalid input synchronously, before any I/O, and
// fills in defaults. Returns the normalized query and effective threshold.
func (s *Searcher) validateRequest(req *Request) (string, float64, error) {
	normalized := normalizer.Normalize(req.Query, 0)
	if len([]rune(normalized)) < minQueryLen {
		return "", 0, fmt.Errorf("%w: query too short", types.ErrInvalidQuery)
	}

	if req.TopK < 0 || req.TopK > MaxTopK {
		return "", 0, fmt.Errorf("%w: top_k must be between 1 and %d", types.ErrInvalidQuery, MaxTopK)
	}
	if req.TopK == 0 {
		req.TopK = defaultTopK
	}

	threshold := s.opts.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
		if threshold < 0 || threshold > 1 {
			return "", 0, fmt.Errorf("%w: threshold must be within [0, 1]", types.ErrInvalidQuery)
		}
	}

	if req.Corpus != "" && !req.Corpus.Valid() {
		return "", 0, fmt.Errorf("%w: unknown corpus %q", types.ErrInvalidQuery, req.Corpus)
	}
	return normalized, threshold, nil
}

// Suggest returns prefix completions drawn from law names, article titles
// and case numbers. Plain prefix match over stored titles, not a semantic
// operation, so it stays well under the latency of a full search.
func (s *Searcher) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, fmt.Errorf("%w: empty prefix", types.ErrInvalidQuery)
	}
	if limit <= 0 {
		limit = defaultTopK
	}
	if limit > maxSuggestions {
		limit = maxSuggestions
	}
	return s.storage.ListTitles(ctx, prefix, limit)
}

// cacheKey builds a deterministic hash over everything that affects the
// result list.
func (s *Searcher) cacheKey(normalizedQuery string, corpus types.Corpus, topK int, threshold float64, filters *Filters) [32]byte {
	var data strings.Builder
	data.WriteString(normalizedQuery)
	data.WriteString("|")
	data.WriteString(string(corpus))
	data.WriteString("|")
	fmt.Fprintf(&data, "%d|%.4f", topK, threshold)
	if filters != nil {
		fmt.Fprintf(&data, "|%s|%s|%s|%s", filters.LawName, filters.Jurisdiction, filters.CaseNumber, filters.Court)
	}
	return sha256.Sum256([]byte(data.String()))
}

// checkCache returns a deep copy of a live cache entry, or nil.
func (s *Searcher) checkCache(key [32]byte) *Response {
	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()
		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}
	// Copy while still holding the read lock so the entry can't change
	// underneath us
	resp := copyResponse(entry.response)
	s.cacheMu.RUnlock()
	return resp
}

func (s *Searcher) storeInCache(key [32]byte, resp *Response) {
	entry := &cacheEntry{
		response:  copyResponse(resp),
		expiresAt: time.Now().Add(s.opts.CacheTTL),
	}
	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// copyResponse deep-copies a response so cached data can never be mutated
// by a caller.
func copyResponse(src *Response) *Response {
	if src == nil {
		return nil
	}
	dst := &Response{
		Total:      src.Total,
		Duration:   src.Duration,
		CacheHit:   src.CacheHit,
		LinearScan: src.LinearScan,
		Results:    make([]types.SearchResult, len(src.Results)),
	}
	for i, r := range src.Results {
		dst.Results[i] = r
		if r.Metadata != nil {
			metaCopy := *r.Metadata
			dst.Results[i].Metadata = &metaCopy
		}
	}
	return dst
}

// ClearCache empties the query cache and the engine's embedding cache.
func (s *Searcher) ClearCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
	s.engine.ClearCache()
}

func (s *Searcher) cacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
