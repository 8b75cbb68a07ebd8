package pipeline

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qanoon-dev/lexsearch-mcp/internal/embedder"
	"github.com/qanoon-dev/lexsearch-mcp/internal/storage"
	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingRebuilder struct {
	calls int
}

func (r *recordingRebuilder) RebuildIndex(ctx context.Context) error {
	r.calls++
	return nil
}

func setup(t *testing.T) (*storage.SQLiteStorage, *embedder.Engine, int64) {
	ctx := context.Background()

	st, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	engine := embedder.NewEngine(embedder.EngineConfig{
		Dimension: 32,
		MaxTokens: 128,
		CacheSize: 64,
	}, nil, discardLogger())
	require.NoError(t, engine.Initialize(ctx))

	law := &storage.Law{Name: "قانون المرافعات"}
	require.NoError(t, st.CreateLaw(ctx, law))
	article := &storage.Article{LawID: law.ID, ArticleNumber: "1"}
	require.NoError(t, st.CreateArticle(ctx, article))
	return st, engine, article.ID
}

func seedChunks(t *testing.T, st *storage.SQLiteStorage, articleID int64, n int) []int64 {
	ctx := context.Background()
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		content := fmt.Sprintf("المادة %d: نص تجريبي للفهرسة", i)
		chunk := &types.Chunk{
			Corpus:      types.CorpusLaw,
			ArticleID:   &articleID,
			Content:     content,
			ContentHash: sha256.Sum256([]byte(content)),
		}
		require.NoError(t, st.UpsertChunk(ctx, chunk))
		ids[i] = chunk.ID
	}
	return ids
}

func TestEmbedPendingEmbedsEverything(t *testing.T) {
	st, engine, articleID := setup(t)
	ctx := context.Background()
	seedChunks(t, st, articleID, 10)

	rebuilder := &recordingRebuilder{}
	p := New(st, engine, rebuilder, Options{BatchSize: 4}, discardLogger())

	report, err := p.EmbedPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Pending)
	assert.Equal(t, 10, report.Embedded)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 3, report.Batches)
	assert.True(t, report.Rebuilt)
	assert.Equal(t, 1, rebuilder.calls)

	n, err := st.CountEmbeddings(ctx, engine.ModelID())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestEmbedPendingIsIdempotent(t *testing.T) {
	st, engine, articleID := setup(t)
	ctx := context.Background()
	seedChunks(t, st, articleID, 5)

	rebuilder := &recordingRebuilder{}
	p := New(st, engine, rebuilder, Options{}, discardLogger())

	_, err := p.EmbedPending(ctx)
	require.NoError(t, err)

	// Second run finds nothing to do and skips the rebuild
	report, err := p.EmbedPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Pending)
	assert.Zero(t, report.Embedded)
	assert.False(t, report.Rebuilt)
	assert.Equal(t, 1, rebuilder.calls)
}

func TestEmbedPendingVectorsMatchEncode(t *testing.T) {
	st, engine, articleID := setup(t)
	ctx := context.Background()
	seedChunks(t, st, articleID, 3)

	p := New(st, engine, nil, Options{}, discardLogger())
	_, err := p.EmbedPending(ctx)
	require.NoError(t, err)

	embedded, err := st.ListEmbedded(ctx, engine.ModelID())
	require.NoError(t, err)
	require.Len(t, embedded, 3)

	// Stored vectors agree with a fresh encode of the same content
	for _, ec := range embedded {
		chunk, err := st.GetChunk(ctx, ec.ChunkID)
		require.NoError(t, err)
		want, err := engine.Encode(ctx, chunk.Content)
		require.NoError(t, err)
		assert.Equal(t, want, ec.Vector)
		assert.Equal(t, engine.Dimension(), ec.Dimension)
	}
}

func TestEmbedPendingWithoutRebuilder(t *testing.T) {
	st, engine, articleID := setup(t)
	ctx := context.Background()
	seedChunks(t, st, articleID, 2)

	p := New(st, engine, nil, Options{}, discardLogger())
	report, err := p.EmbedPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Embedded)
	assert.False(t, report.Rebuilt)
}

func TestBackfillVerifies(t *testing.T) {
	st, engine, articleID := setup(t)
	ctx := context.Background()
	seedChunks(t, st, articleID, 4)

	p := New(st, engine, nil, Options{}, discardLogger())
	report, err := p.Backfill(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Embedded)
}
