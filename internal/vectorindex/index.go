package vectorindex

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qanoon-dev/lexsearch-mcp/internal/embedder"
	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

// Entry is one indexed chunk: its identifier, corpus tag, verified flag and
// embedding vector.
type Entry struct {
	ChunkID  int64
	Corpus   types.Corpus
	Verified bool
	Vector   []float32
}

// Hit is one nearest-neighbor result. Similarity is cosine similarity.
type Hit struct {
	ChunkID    int64
	Corpus     types.Corpus
	Verified   bool
	Similarity float64
}

// Status describes the published snapshot for the statistics surface.
type Status struct {
	Ready     bool           `json:"ready"`
	Model     string         `json:"model"`
	Dimension int            `json:"dimension"`
	Count     int            `json:"count"`
	PerCorpus map[string]int `json:"per_corpus"`
	BuiltAt   time.Time      `json:"built_at"`
}

// snapshot is an immutable, fully-built index generation. Vectors are
// unit-normalized at build time so search is a plain dot product.
type snapshot struct {
	model   string
	dim     int
	entries []Entry
	builtAt time.Time
}

// Index answers k-nearest-neighbor queries over all embedded chunks with a
// flat exact-cosine scan. Builds construct a new snapshot off to the side and
// publish it atomically: concurrent readers always see either the fully-old
// or fully-new generation, never a half-built one.
type Index struct {
	current atomic.Pointer[snapshot]
	buildMu sync.Mutex // serializes rebuilds; readers are never blocked
	log     *slog.Logger
}

// New creates an empty, unpublished index.
func New(log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{log: log}
}

// Build replaces the published snapshot with one built from entries. Every
// vector must have length dim; a mismatch aborts the build with
// ErrDimensionMismatch before anything is published, so the old snapshot
// stays live. Only one build runs at a time.
func (ix *Index) Build(entries []Entry, model string, dim int) error {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive", types.ErrDimensionMismatch)
	}

	next := &snapshot{
		model:   model,
		dim:     dim,
		entries: make([]Entry, len(entries)),
		builtAt: time.Now(),
	}

	for i, entry := range entries {
		if len(entry.Vector) != dim {
			return fmt.Errorf("%w: chunk %d has dimension %d, index requires %d",
				types.ErrDimensionMismatch, entry.ChunkID, len(entry.Vector), dim)
		}
		next.entries[i] = Entry{
			ChunkID:  entry.ChunkID,
			Corpus:   entry.Corpus,
			Verified: entry.Verified,
			Vector:   embedder.NormalizeVector(entry.Vector),
		}
	}

	ix.current.Store(next)
	ix.log.Info("vector index published", "entries", len(next.entries), "model", model, "dimension", dim)
	return nil
}

// Search returns the k nearest neighbors to vector, optionally restricted to
// one corpus (empty corpus searches all). Returns ErrIndexUnavailable when no
// snapshot has been published and ErrDimensionMismatch when the query vector
// does not match the snapshot's dimensionality.
func (ix *Index) Search(vector []float32, k int, corpus types.Corpus) ([]Hit, error) {
	snap := ix.current.Load()
	if snap == nil {
		return nil, types.ErrIndexUnavailable
	}
	if len(vector) != snap.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index built with %d",
			types.ErrDimensionMismatch, len(vector), snap.dim)
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	query := embedder.NormalizeVector(vector)

	hits := make([]Hit, 0, len(snap.entries))
	for i := range snap.entries {
		entry := &snap.entries[i]
		if corpus != "" && entry.Corpus != corpus {
			continue
		}
		hits = append(hits, Hit{
			ChunkID:    entry.ChunkID,
			Corpus:     entry.Corpus,
			Verified:   entry.Verified,
			Similarity: dot(query, entry.Vector),
		})
	}

	// Stable sort keeps equal-similarity ordering deterministic across calls.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID > hits[j].ChunkID
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Ready reports whether a snapshot has been published.
func (ix *Index) Ready() bool {
	return ix.current.Load() != nil
}

// Status describes the published snapshot.
func (ix *Index) Status() Status {
	snap := ix.current.Load()
	if snap == nil {
		return Status{Ready: false, PerCorpus: map[string]int{}}
	}

	perCorpus := make(map[string]int, 2)
	for i := range snap.entries {
		perCorpus[string(snap.entries[i].Corpus)]++
	}

	return Status{
		Ready:     true,
		Model:     snap.model,
		Dimension: snap.dim,
		Count:     len(snap.entries),
		PerCorpus: perCorpus,
		BuiltAt:   snap.builtAt,
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
