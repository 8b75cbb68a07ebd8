package searcher

import (
	"context"
	"fmt"
	"time"

	"github.com/qanoon-dev/lexsearch-mcp/internal/embedder"
	"github.com/qanoon-dev/lexsearch-mcp/internal/vectorindex"
	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

// Statistics is the operator introspection surface: corpus counts, engine
// mode and cache rates, index build status.
type Statistics struct {
	Chunks        map[types.Corpus]int `json:"chunks"`
	Embeddings    int                  `json:"embeddings"`
	Engine        embedder.Stats       `json:"engine"`
	Index         vectorindex.Status   `json:"index"`
	QueryCacheLen int                  `json:"query_cache_len"`
	LastRebuild   time.Time            `json:"last_rebuild,omitempty"`
}

// Statistics reports current counts and component status.
func (s *Searcher) Statistics(ctx context.Context) (*Statistics, error) {
	chunks, err := s.storage.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	embeddings, err := s.storage.CountEmbeddings(ctx, s.engine.ModelID())
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}

	s.rebuildMu.Lock()
	lastRebuild := s.lastRebuild
	s.rebuildMu.Unlock()

	return &Statistics{
		Chunks:        chunks,
		Embeddings:    embeddings,
		Engine:        s.engine.Stats(),
		Index:         s.index.Status(),
		QueryCacheLen: s.cacheLen(),
		LastRebuild:   lastRebuild,
	}, nil
}

// RebuildIndex constructs a fresh index snapshot from every embedding stored
// for the active model and publishes it atomically. Only one rebuild runs at
// a time; searches keep reading the old snapshot until the swap. Idempotent.
func (s *Searcher) RebuildIndex(ctx context.Context) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	model := s.engine.ModelID()
	dim := s.engine.Dimension()

	embedded, err := s.storage.ListEmbedded(ctx, model)
	if err != nil {
		return fmt.Errorf("failed to load embedded chunks: %w", err)
	}

	entries := make([]vectorindex.Entry, 0, len(embedded))
	for _, ec := range embedded {
		// Mixed dimensions mean the row was written under another model
		// configuration; rejecting here beats a wrong similarity later.
		if ec.Dimension != dim {
			return fmt.Errorf("chunk %d stored with dimension %d, engine expects %d: %w",
				ec.ChunkID, ec.Dimension, dim, types.ErrDimensionMismatch)
		}
		entries = append(entries, vectorindex.Entry{
			ChunkID:  ec.ChunkID,
			Corpus:   ec.Corpus,
			Verified: ec.Verified,
			Vector:   ec.Vector,
		})
	}

	if err := s.index.Build(entries, model, dim); err != nil {
		return fmt.Errorf("index build failed: %w", err)
	}

	if s.opts.SnapshotPath != "" {
		if err := s.index.Persist(s.opts.SnapshotPath); err != nil {
			// The in-memory index is live; a failed persist only costs a
			// rebuild on next start.
			s.log.Warn("failed to persist index snapshot", "path", s.opts.SnapshotPath, "error", err)
		}
	}

	// Cached rankings may reference the previous snapshot
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()

	s.lastRebuild = time.Now()
	s.log.Info("index rebuilt", "entries", len(entries), "model", model, "dimension", dim)
	return nil
}

// LoadIndex restores a persisted snapshot, verifying it was built with the
// currently configured model and dimensionality. Callers fall back to
// RebuildIndex when no usable snapshot exists.
func (s *Searcher) LoadIndex() error {
	if s.opts.SnapshotPath == "" {
		return types.ErrIndexUnavailable
	}
	return s.index.Load(s.opts.SnapshotPath, s.engine.ModelID(), s.engine.Dimension())
}
