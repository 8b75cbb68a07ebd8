package storage

import (
	"context"
	"time"

	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

// Storage persists the two legal corpora (statutes and case law), their
// chunks and the chunk embeddings. The ingestion collaborator writes laws,
// articles, cases, sections and chunks; the embedding pipeline writes
// embedding rows; the search service reads.
type Storage interface {
	// Law corpus
	CreateLaw(ctx context.Context, law *Law) error
	GetLaw(ctx context.Context, lawID int64) (*Law, error)
	CreateArticle(ctx context.Context, article *Article) error
	DeleteLaw(ctx context.Context, lawID int64) error

	// Case corpus
	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, caseID int64) (*Case, error)
	CreateSection(ctx context.Context, section *CaseSection) error
	DeleteCase(ctx context.Context, caseID int64) error

	// Chunk operations
	UpsertChunk(ctx context.Context, chunk *types.Chunk) error
	GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error)
	CountChunks(ctx context.Context) (map[types.Corpus]int, error)

	// Embedding operations. ListPendingChunks returns chunks with no
	// embedding for the given model, which makes re-embedding idempotent.
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	ListPendingChunks(ctx context.Context, model string, limit int) ([]*types.Chunk, error)
	ListEmbedded(ctx context.Context, model string) ([]EmbeddedChunk, error)
	CountEmbeddings(ctx context.Context, model string) (int, error)

	// SearchVector is the linear-scan fallback used when no vector index has
	// been published: exact cosine over every embedded chunk, slower but
	// never wrong.
	SearchVector(ctx context.Context, vector []float32, limit int, corpus types.Corpus, minSimilarity float64) ([]VectorResult, error)

	// GetChunkMetaBatch resolves source metadata for many chunks in one
	// query, so result enrichment never issues a lookup per hit.
	GetChunkMetaBatch(ctx context.Context, chunkIDs []int64) (map[int64]*ChunkMeta, error)

	// ListTitles powers prefix suggestions from law names, article titles
	// and case numbers.
	ListTitles(ctx context.Context, prefix string, limit int) ([]string, error)

	Close() error
}

// Law is one statute.
type Law struct {
	ID           int64
	Name         string
	Jurisdiction string
	Year         int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Article is one numbered article of a law.
type Article struct {
	ID            int64
	LawID         int64
	ArticleNumber string
	Title         string
	CreatedAt     time.Time
}

// Case is one court decision.
type Case struct {
	ID         int64
	CaseNumber string
	Court      string
	Year       int
	Title      string
	CreatedAt  time.Time
}

// CaseSection is one labeled section of a case document.
type CaseSection struct {
	ID           int64
	CaseID       int64
	SectionLabel string
	CreatedAt    time.Time
}

// Embedding is a stored chunk vector with its provenance. Vector holds the
// float32 values serialized little-endian.
type Embedding struct {
	ID        int64
	ChunkID   int64
	Vector    []byte
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// EmbeddedChunk is the index-build projection: everything the vector index
// needs about one embedded chunk.
type EmbeddedChunk struct {
	ChunkID   int64
	Corpus    types.Corpus
	Verified  bool
	Vector    []float32
	Dimension int
}

// VectorResult is one hit from the linear-scan fallback search.
type VectorResult struct {
	ChunkID         int64
	Corpus          types.Corpus
	Verified        bool
	SimilarityScore float64
}

// ChunkMeta is the enrichment projection joining a chunk to its source law
// article or case section.
type ChunkMeta struct {
	ChunkID       int64
	Corpus        types.Corpus
	Verified      bool
	Content       string
	LawName       string
	Jurisdiction  string
	ArticleNumber string
	ArticleTitle  string
	CaseNumber    string
	Court         string
	SectionLabel  string
}
