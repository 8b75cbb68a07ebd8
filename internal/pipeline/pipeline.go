// Package pipeline fills in missing chunk embeddings. It selects chunks
// that have no embedding row for the active model, encodes them in bounded
// batches and stores the vectors, then triggers an index rebuild so the new
// chunks become searchable. Selection is keyed on (chunk, model), which
// makes every run idempotent: re-running after a crash or a model switch
// embeds exactly the chunks still missing.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qanoon-dev/lexsearch-mcp/internal/embedder"
	"github.com/qanoon-dev/lexsearch-mcp/internal/storage"
)

const (
	defaultBatchSize  = 64
	defaultGroupLimit = 2 // concurrent batches; the engine pool bounds CPU below this
)

// Rebuilder republishes the vector index after new embeddings land.
type Rebuilder interface {
	RebuildIndex(ctx context.Context) error
}

// Options tunes one pipeline instance.
type Options struct {
	BatchSize  int // chunks per encode-and-store batch
	GroupLimit int // batches in flight at once
}

// Report summarizes one EmbedPending run.
type Report struct {
	Pending  int           `json:"pending"`
	Embedded int           `json:"embedded"`
	Failed   int           `json:"failed"`
	Batches  int           `json:"batches"`
	Rebuilt  bool          `json:"rebuilt"`
	Duration time.Duration `json:"duration"`
}

// Pipeline embeds pending chunks and keeps the index current.
type Pipeline struct {
	storage   storage.Storage
	engine    *embedder.Engine
	rebuilder Rebuilder
	opts      Options
	log       *slog.Logger
}

// New creates a pipeline. rebuilder may be nil, in which case callers own
// the rebuild themselves.
func New(st storage.Storage, engine *embedder.Engine, rebuilder Rebuilder, opts Options, log *slog.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.GroupLimit <= 0 {
		opts.GroupLimit = defaultGroupLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{storage: st, engine: engine, rebuilder: rebuilder, opts: opts, log: log}
}

// EmbedPending embeds every chunk that lacks an embedding for the active
// model. Per-chunk store failures are counted and logged, not fatal; a
// failed chunk stays pending and is retried on the next run.
func (p *Pipeline) EmbedPending(ctx context.Context) (*Report, error) {
	start := time.Now()
	model := p.engine.ModelID()
	provider := p.engine.Stats().Provider

	chunks, err := p.storage.ListPendingChunks(ctx, model, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending chunks: %w", err)
	}

	report := &Report{Pending: len(chunks)}
	if len(chunks) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	var embedded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.GroupLimit)
	for startIdx := 0; startIdx < len(chunks); startIdx += p.opts.BatchSize {
		end := startIdx + p.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[startIdx:end]
		report.Batches++

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}

			// Encode failures inside the batch degrade to hash vectors in
			// the engine, so vectors always holds len(batch) entries
			vectors, err := p.engine.EncodeBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("batch encode failed: %w", err)
			}

			for i, c := range batch {
				err := p.storage.UpsertEmbedding(gctx, &storage.Embedding{
					ChunkID:   c.ID,
					Vector:    storage.SerializeVector(vectors[i]),
					Dimension: len(vectors[i]),
					Provider:  provider,
					Model:     model,
				})
				if err != nil {
					failed.Add(1)
					p.log.Warn("failed to store embedding", "chunk_id", c.ID, "error", err)
					continue
				}
				embedded.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Embedded = int(embedded.Load())
	report.Failed = int(failed.Load())

	if p.rebuilder != nil && report.Embedded > 0 {
		if err := p.rebuilder.RebuildIndex(ctx); err != nil {
			return nil, fmt.Errorf("index rebuild after embedding: %w", err)
		}
		report.Rebuilt = true
	}

	report.Duration = time.Since(start)
	p.log.Info("embedding run finished",
		"model", model,
		"pending", report.Pending,
		"embedded", report.Embedded,
		"failed", report.Failed,
		"batches", report.Batches,
		"rebuilt", report.Rebuilt,
		"duration_ms", report.Duration.Milliseconds())
	return report, nil
}

// Backfill is EmbedPending followed by a verification count; it returns an
// error when chunks remain unembedded after the run, which points at a
// persistent storage problem rather than a transient encode failure.
func (p *Pipeline) Backfill(ctx context.Context) (*Report, error) {
	report, err := p.EmbedPending(ctx)
	if err != nil {
		return nil, err
	}
	remaining, err := p.storage.ListPendingChunks(ctx, p.engine.ModelID(), 1)
	if err != nil {
		return report, fmt.Errorf("failed to verify backfill: %w", err)
	}
	if len(remaining) > 0 {
		return report, fmt.Errorf("backfill incomplete: %d embeddings failed to persist", report.Failed)
	}
	return report, nil
}
