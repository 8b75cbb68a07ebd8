package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	return storage
}

// seedArticle creates a law with one article and returns the article ID.
func seedArticle(t *testing.T, s *SQLiteStorage) int64 {
	ctx := context.Background()
	law := &Law{Name: "قانون العمل", Jurisdiction: "federal", Year: 2021}
	require.NoError(t, s.CreateLaw(ctx, law))
	article := &Article{LawID: law.ID, ArticleNumber: "12", Title: "ساعات العمل"}
	require.NoError(t, s.CreateArticle(ctx, article))
	return article.ID
}

// seedSection creates a case with one section and returns the section ID.
func seedSection(t *testing.T, s *SQLiteStorage) int64 {
	ctx := context.Background()
	c := &Case{CaseNumber: "123/2020", Court: "court of cassation", Year: 2020, Title: "نزاع عمالي"}
	require.NoError(t, s.CreateCase(ctx, c))
	section := &CaseSection{CaseID: c.ID, SectionLabel: "الحيثيات"}
	require.NoError(t, s.CreateSection(ctx, section))
	return section.ID
}

func lawChunk(articleID int64, content string) *types.Chunk {
	return &types.Chunk{
		Corpus:      types.CorpusLaw,
		ArticleID:   &articleID,
		Content:     content,
		ContentHash: sha256.Sum256([]byte(content)),
		TokenCount:  len(content) / 4,
	}
}

func caseChunk(sectionID int64, content string) *types.Chunk {
	return &types.Chunk{
		Corpus:      types.CorpusCase,
		SectionID:   &sectionID,
		Content:     content,
		ContentHash: sha256.Sum256([]byte(content)),
		TokenCount:  len(content) / 4,
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	assert.NotNil(t, storage)
	assert.NotNil(t, storage.db)
}

func TestClose(t *testing.T) {
	storage := setupTestDB(t)
	err := storage.Close()
	assert.NoError(t, err)
}

func TestCreateAndGetLaw(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	law := &Law{Name: "قانون المعاملات المدنية", Jurisdiction: "federal", Year: 1985}
	require.NoError(t, storage.CreateLaw(ctx, law))
	assert.Greater(t, law.ID, int64(0))

	got, err := storage.GetLaw(ctx, law.ID)
	require.NoError(t, err)
	assert.Equal(t, law.Name, got.Name)
	assert.Equal(t, law.Jurisdiction, got.Jurisdiction)
	assert.Equal(t, law.Year, got.Year)

	_, err = storage.GetLaw(ctx, 99999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAndGetCase(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	c := &Case{CaseNumber: "45/2019", Court: "federal supreme court", Year: 2019}
	require.NoError(t, storage.CreateCase(ctx, c))
	assert.Greater(t, c.ID, int64(0))

	got, err := storage.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "45/2019", got.CaseNumber)

	_, err = storage.GetCase(ctx, 99999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertChunkIdempotent(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	articleID := seedArticle(t, storage)

	chunk := lawChunk(articleID, "المادة 12: ساعات العمل اليومية")
	require.NoError(t, storage.UpsertChunk(ctx, chunk))
	assert.Greater(t, chunk.ID, int64(0))

	// Same content hash again: same row, flags refreshed
	again := lawChunk(articleID, "المادة 12: ساعات العمل اليومية")
	again.Verified = true
	require.NoError(t, storage.UpsertChunk(ctx, again))
	assert.Equal(t, chunk.ID, again.ID)

	got, err := storage.GetChunk(ctx, chunk.ID)
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.Equal(t, chunk.ContentHash, got.ContentHash)
	require.NotNil(t, got.ArticleID)
	assert.Equal(t, articleID, *got.ArticleID)
	assert.Nil(t, got.SectionID)
}

func TestUpsertChunkCorpusConstraint(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()

	// Law chunk without an article violates the schema CHECK
	chunk := &types.Chunk{
		Corpus:      types.CorpusLaw,
		Content:     "نص بلا مصدر",
		ContentHash: sha256.Sum256([]byte("نص بلا مصدر")),
	}
	assert.Error(t, storage.UpsertChunk(ctx, chunk))

	// Unknown corpus is rejected before touching the database
	bad := &types.Chunk{Corpus: "statute", Content: "x", ContentHash: sha256.Sum256([]byte("x"))}
	assert.Error(t, storage.UpsertChunk(ctx, bad))
}

func TestCountChunks(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	articleID := seedArticle(t, storage)
	sectionID := seedSection(t, storage)

	for i := 0; i < 3; i++ {
		require.NoError(t, storage.UpsertChunk(ctx, lawChunk(articleID, fmt.Sprintf("law chunk %d", i))))
	}
	require.NoError(t, storage.UpsertChunk(ctx, caseChunk(sectionID, "case chunk")))

	counts, err := storage.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[types.CorpusLaw])
	assert.Equal(t, 1, counts[types.CorpusCase])
}

func TestUpsertEmbeddingReplaces(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	articleID := seedArticle(t, storage)
	chunk := lawChunk(articleID, "embedded chunk")
	require.NoError(t, storage.UpsertChunk(ctx, chunk))

	emb := &Embedding{
		ChunkID:   chunk.ID,
		Vector:    SerializeVector([]float32{1, 0, 0}),
		Dimension: 3,
		Provider:  "hash",
		Model:     "hash-fallback",
	}
	require.NoError(t, storage.UpsertEmbedding(ctx, emb))

	// Re-embedding the same (chunk, model) replaces the vector
	emb2 := &Embedding{
		ChunkID:   chunk.ID,
		Vector:    SerializeVector([]float32{0, 1, 0}),
		Dimension: 3,
		Provider:  "hash",
		Model:     "hash-fallback",
	}
	require.NoError(t, storage.UpsertEmbedding(ctx, emb2))

	n, err := storage.CountEmbeddings(ctx, "hash-fallback")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	embedded, err := storage.ListEmbedded(ctx, "hash-fallback")
	require.NoError(t, err)
	require.Len(t, embedded, 1)
	assert.Equal(t, []float32{0, 1, 0}, embedded[0].Vector)
}

func TestListPendingChunks(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	articleID := seedArticle(t, storage)

	done := lawChunk(articleID, "already embedded")
	pending := lawChunk(articleID, "still pending")
	require.NoError(t, storage.UpsertChunk(ctx, done))
	require.NoError(t, storage.UpsertChunk(ctx, pending))

	require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{
		ChunkID:   done.ID,
		Vector:    SerializeVector([]float32{1, 0}),
		Dimension: 2,
		Provider:  "hash",
		Model:     "model-a",
	}))

	got, err := storage.ListPendingChunks(ctx, "model-a", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending.ID, got[0].ID)

	// A different model sees both chunks as pending
	got, err = storage.ListPendingChunks(ctx, "model-b", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Limit applies
	got, err = storage.ListPendingChunks(ctx, "model-b", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSearchVector(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	articleID := seedArticle(t, storage)
	sectionID := seedSection(t, storage)

	store := func(chunk *types.Chunk, vec []float32) {
		require.NoError(t, storage.UpsertChunk(ctx, chunk))
		require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{
			ChunkID:   chunk.ID,
			Vector:    SerializeVector(vec),
			Dimension: len(vec),
			Provider:  "hash",
			Model:     "hash-fallback",
		}))
	}

	exact := lawChunk(articleID, "exact match")
	near := lawChunk(articleID, "near match")
	far := lawChunk(articleID, "far away")
	other := caseChunk(sectionID, "case corpus")
	store(exact, []float32{1, 0, 0})
	store(near, []float32{0.9, 0.1, 0})
	store(far, []float32{0, 0, 1})
	store(other, []float32{1, 0, 0})

	query := []float32{1, 0, 0}

	results, err := storage.SearchVector(ctx, query, 10, "", 0.5)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, exact.ID, results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
	assert.Equal(t, near.ID, results[1].ChunkID)

	// Corpus filter narrows to the case chunk
	results, err = storage.SearchVector(ctx, query, 10, types.CorpusCase, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, other.ID, results[0].ChunkID)

	// Threshold excludes the orthogonal vector even at 0
	results, err = storage.SearchVector(ctx, query, 10, types.CorpusLaw, 0.01)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// Limit truncates after sorting
	results, err = storage.SearchVector(ctx, query, 1, "", 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, exact.ID, results[0].ChunkID)

	// Empty query vector is a dimension error
	_, err = storage.SearchVector(ctx, nil, 10, "", 0.5)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestGetChunkMetaBatch(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	articleID := seedArticle(t, storage)
	sectionID := seedSection(t, storage)

	lc := lawChunk(articleID, "law content")
	cc := caseChunk(sectionID, "case content")
	require.NoError(t, storage.UpsertChunk(ctx, lc))
	require.NoError(t, storage.UpsertChunk(ctx, cc))

	metas, err := storage.GetChunkMetaBatch(ctx, []int64{lc.ID, cc.ID, 99999})
	require.NoError(t, err)
	require.Len(t, metas, 2)

	lawMeta := metas[lc.ID]
	require.NotNil(t, lawMeta)
	assert.Equal(t, types.CorpusLaw, lawMeta.Corpus)
	assert.Equal(t, "قانون العمل", lawMeta.LawName)
	assert.Equal(t, "12", lawMeta.ArticleNumber)
	assert.Equal(t, "ساعات العمل", lawMeta.ArticleTitle)
	assert.Equal(t, "federal", lawMeta.Jurisdiction)
	assert.Empty(t, lawMeta.CaseNumber)

	caseMeta := metas[cc.ID]
	require.NotNil(t, caseMeta)
	assert.Equal(t, types.CorpusCase, caseMeta.Corpus)
	assert.Equal(t, "123/2020", caseMeta.CaseNumber)
	assert.Equal(t, "court of cassation", caseMeta.Court)
	assert.Equal(t, "الحيثيات", caseMeta.SectionLabel)
	assert.Empty(t, caseMeta.LawName)

	empty, err := storage.GetChunkMetaBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListTitles(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	seedArticle(t, storage) // law "قانون العمل", article title "ساعات العمل"
	seedSection(t, storage) // case number "123/2020"

	titles, err := storage.ListTitles(ctx, "قانون", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"قانون العمل"}, titles)

	titles, err = storage.ListTitles(ctx, "123", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"123/2020"}, titles)

	titles, err = storage.ListTitles(ctx, "nonexistent", 10)
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestListTitlesLikeMetacharactersAreLiteral(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	seedArticle(t, storage)
	seedSection(t, storage)

	law := &Law{Name: "%قانون خاص", Jurisdiction: "federal", Year: 2022}
	require.NoError(t, storage.CreateLaw(ctx, law))

	// Wildcard characters in the prefix match only themselves.
	titles, err := storage.ListTitles(ctx, "%", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"%قانون خاص"}, titles)

	titles, err = storage.ListTitles(ctx, "_", 10)
	require.NoError(t, err)
	assert.Empty(t, titles)

	titles, err = storage.ListTitles(ctx, "12_", 10)
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestDeleteLawCascades(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	ctx := context.Background()
	articleID := seedArticle(t, storage)

	chunk := lawChunk(articleID, "cascading chunk")
	require.NoError(t, storage.UpsertChunk(ctx, chunk))
	require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{
		ChunkID:   chunk.ID,
		Vector:    SerializeVector([]float32{1}),
		Dimension: 1,
		Provider:  "hash",
		Model:     "m",
	}))

	law, err := storage.GetLaw(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, storage.DeleteLaw(ctx, law.ID))

	_, err = storage.GetChunk(ctx, chunk.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := storage.CountEmbeddings(ctx, "m")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVectorSerializationRoundtrip(t *testing.T) {
	vec := []float32{0.1, -0.5, 3.14159, 0, -1e-7}
	assert.Equal(t, vec, deserializeVector(SerializeVector(vec)))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
