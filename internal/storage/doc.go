// Package storage provides SQLite-based persistence for the legal corpora.
//
// The storage layer manages:
//   - Laws and their numbered articles
//   - Court cases and their labeled sections
//   - Searchable text chunks keyed by content hash
//   - Vector embeddings, one row per (chunk, model)
//
// # Database Schema
//
// Tables:
//   - laws: Statute metadata (name, jurisdiction, year)
//   - law_articles: Numbered articles of a law
//   - cases: Court-decision metadata (case number, court, year)
//   - case_sections: Labeled sections of a case document
//   - chunks: Searchable text chunks, tagged with a corpus
//   - embeddings: Vector embeddings for chunks
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.lexsearch/lexsearch.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	law := &storage.Law{Name: "قانون العمل", Jurisdiction: "federal", Year: 2021}
//	err = db.CreateLaw(ctx, law)
//
// # Vector Operations
//
// Embedding vectors are serialized as little-endian float32 blobs.
// SearchVector runs an exact cosine scan over every stored embedding of the
// query's dimension; it is the fallback path used when no in-memory vector
// index has been published:
//
//	results, err := db.SearchVector(ctx, queryVector, 10, types.CorpusLaw, 0.65)
//	for _, r := range results {
//	    fmt.Printf("Chunk %d: similarity %.3f\n", r.ChunkID, r.SimilarityScore)
//	}
//
// # Build Tags
//
// The storage package supports two build configurations:
//
// CGO Build (default with CGO_ENABLED=1):
//   - Uses github.com/mattn/go-sqlite3 driver
//   - Requires C compiler
//
// Pure Go Build (CGO_ENABLED=0):
//   - Uses modernc.org/sqlite driver
//   - No C compiler needed
package storage
