// Package searcher implements semantic search over the legal corpora.
//
// The searcher coordinates:
//   - Query normalization and embedding (via the embedder engine)
//   - Candidate retrieval from the vector index, with a linear-scan
//     fallback over storage when no index snapshot has been published
//   - Similarity thresholding and metadata filtering
//   - Verified-source boosting and deterministic ranking
//   - Batched metadata enrichment (one query for all hits)
//   - An LRU query cache with TTL expiration
//
// # Pipeline
//
// A request moves through a fixed sequence: validate, check cache, embed,
// over-fetch candidates, enrich, filter, rank, truncate, cache. The only
// suspension-free path is a cache hit.
//
// Candidates are over-fetched because post-filtering by threshold and
// metadata can eliminate them; the factor grows with the number of active
// filters so a heavily filtered query still fills its top_k without a
// second round trip.
//
// # Basic Usage
//
//	svc := searcher.NewSearcher(store, engine, index, searcher.Options{}, logger)
//
//	resp, err := svc.Search(ctx, searcher.Request{
//	    Query:    "عقوبة تزوير المحررات",
//	    TopK:     10,
//	    Corpus:   types.CorpusLaw,
//	    UseCache: true,
//	})
//
// # Hybrid Search
//
// HybridSearch embeds the query once and runs the candidate pipeline once
// per corpus. Groups are returned separately and never merged: similarity
// scales differ between corpora, so a cross-corpus ranking would be
// meaningless.
//
//	groups, err := svc.HybridSearch(ctx, query, types.AllCorpora, 10, nil)
//
// # Administration
//
// RebuildIndex reads every stored embedding for the active model, builds a
// new snapshot off to the side and publishes it atomically; concurrent
// searches keep reading the old snapshot until the swap. Rebuilds are
// serialized against each other and purge the query cache on success.
package searcher
