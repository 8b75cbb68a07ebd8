package vectorindex

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

func testEntries() []Entry {
	return []Entry{
		{ChunkID: 1, Corpus: types.CorpusLaw, Vector: []float32{1, 0, 0, 0}},
		{ChunkID: 2, Corpus: types.CorpusLaw, Verified: true, Vector: []float32{0.9, 0.1, 0, 0}},
		{ChunkID: 3, Corpus: types.CorpusCase, Vector: []float32{0, 1, 0, 0}},
		{ChunkID: 4, Corpus: types.CorpusCase, Vector: []float32{0, 0, 1, 0}},
	}
}

func TestBuildAndSearch(t *testing.T) {
	ix := New(nil)
	require.NoError(t, ix.Build(testEntries(), "test-model", 4))

	hits, err := ix.Search([]float32{1, 0, 0, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(1), hits[0].ChunkID)
	assert.Equal(t, int64(2), hits[1].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestSearchCorpusFilter(t *testing.T) {
	ix := New(nil)
	require.NoError(t, ix.Build(testEntries(), "test-model", 4))

	hits, err := ix.Search([]float32{1, 0, 0, 0}, 10, types.CorpusCase)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, types.CorpusCase, h.Corpus)
	}
	assert.Len(t, hits, 2)
}

func TestSearchBeforeBuild(t *testing.T) {
	ix := New(nil)
	_, err := ix.Search([]float32{1, 0, 0, 0}, 5, "")
	assert.ErrorIs(t, err, types.ErrIndexUnavailable)
}

func TestBuildRejectsMixedDimensions(t *testing.T) {
	ix := New(nil)
	entries := testEntries()
	entries = append(entries, Entry{ChunkID: 5, Corpus: types.CorpusLaw, Vector: []float32{1, 0}})

	err := ix.Build(entries, "test-model", 4)
	require.ErrorIs(t, err, types.ErrDimensionMismatch)
	assert.False(t, ix.Ready(), "failed build must publish nothing")
}

func TestFailedRebuildKeepsOldSnapshot(t *testing.T) {
	ix := New(nil)
	require.NoError(t, ix.Build(testEntries(), "test-model", 4))

	bad := []Entry{{ChunkID: 9, Corpus: types.CorpusLaw, Vector: []float32{1}}}
	require.Error(t, ix.Build(bad, "test-model", 4))

	hits, err := ix.Search([]float32{1, 0, 0, 0}, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits[0].ChunkID, "old snapshot must still serve")
}

func TestSearchQueryDimensionMismatch(t *testing.T) {
	ix := New(nil)
	require.NoError(t, ix.Build(testEntries(), "test-model", 4))

	_, err := ix.Search([]float32{1, 0}, 5, "")
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestSearchOrderingStable(t *testing.T) {
	ix := New(nil)
	// Two entries with identical vectors tie on similarity.
	entries := []Entry{
		{ChunkID: 10, Corpus: types.CorpusLaw, Vector: []float32{1, 0}},
		{ChunkID: 20, Corpus: types.CorpusLaw, Vector: []float32{1, 0}},
		{ChunkID: 30, Corpus: types.CorpusLaw, Vector: []float32{0, 1}},
	}
	require.NoError(t, ix.Build(entries, "m", 2))

	var first []Hit
	for i := 0; i < 5; i++ {
		hits, err := ix.Search([]float32{1, 0}, 3, "")
		require.NoError(t, err)
		if first == nil {
			first = hits
			// Ties break by chunk id descending.
			assert.Equal(t, int64(20), hits[0].ChunkID)
			assert.Equal(t, int64(10), hits[1].ChunkID)
			continue
		}
		assert.Equal(t, first, hits, "repeated search must return identical ordering")
	}
}

func TestConcurrentSearchDuringRebuild(t *testing.T) {
	ix := New(nil)
	require.NoError(t, ix.Build(testEntries(), "m", 4))

	moreEntries := testEntries()
	moreEntries = append(moreEntries, Entry{ChunkID: 5, Corpus: types.CorpusLaw, Vector: []float32{0, 0, 0, 1}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				hits, err := ix.Search([]float32{1, 0, 0, 0}, 10, "")
				if err != nil {
					t.Errorf("Search() error: %v", err)
					return
				}
				// Either the old (4-entry) or new (5-entry) generation;
				// never a partial one.
				if len(hits) != 4 && len(hits) != 5 {
					t.Errorf("saw partial snapshot with %d hits", len(hits))
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			require.NoError(t, ix.Build(testEntries(), "m", 4))
		} else {
			require.NoError(t, ix.Build(moreEntries, "m", 4))
		}
	}
	wg.Wait()
}

func TestPersistLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	ix := New(nil)
	require.NoError(t, ix.Build(testEntries(), "test-model", 4))
	require.NoError(t, ix.Persist(path))

	loaded := New(nil)
	require.NoError(t, loaded.Load(path, "test-model", 4))

	want, err := ix.Search([]float32{0.9, 0.1, 0, 0}, 4, "")
	require.NoError(t, err)
	got, err := loaded.Search([]float32{0.9, 0.1, 0, 0}, 4, "")
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ChunkID, got[i].ChunkID)
		assert.InDelta(t, want[i].Similarity, got[i].Similarity, 1e-6)
		assert.Equal(t, want[i].Verified, got[i].Verified)
	}

	status := loaded.Status()
	assert.True(t, status.Ready)
	assert.Equal(t, "test-model", status.Model)
	assert.Equal(t, 2, status.PerCorpus["law"])
	assert.Equal(t, 2, status.PerCorpus["case"])
}

func TestLoadRejectsDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	ix := New(nil)
	require.NoError(t, ix.Build(testEntries(), "test-model", 4))
	require.NoError(t, ix.Persist(path))

	loaded := New(nil)
	err := loaded.Load(path, "test-model", 768)
	require.ErrorIs(t, err, types.ErrDimensionMismatch)
	assert.False(t, loaded.Ready())
}

func TestLoadRejectsModelMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")

	ix := New(nil)
	require.NoError(t, ix.Build(testEntries(), "old-model", 4))
	require.NoError(t, ix.Persist(path))

	loaded := New(nil)
	err := loaded.Load(path, "new-model", 4)
	require.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestPersistBeforeBuild(t *testing.T) {
	ix := New(nil)
	err := ix.Persist(filepath.Join(t.TempDir(), "index.bin"))
	assert.True(t, errors.Is(err, types.ErrIndexUnavailable))
}
