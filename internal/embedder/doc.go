// Package embedder turns normalized legal text into fixed-length vectors
// under strict memory and failure constraints.
//
// The Engine owns one process-wide encoder selected at Initialize: either
// the configured model provider (an OpenAI-compatible HTTP endpoint) or the
// deterministic hash fallback. Callers never branch on the mode and learn
// about degradation only through Stats.
//
// Failure semantics, in order of severity:
//
//   - Model load failure or an insufficient-memory gate at Initialize
//     switches the engine to hash-fallback mode permanently. Logged, never
//     surfaced as a request failure.
//   - A provider failure on a single encode or mini-batch degrades just that
//     work to hash vectors; the rest of the batch continues.
//   - Only context cancellation and empty input are returned as errors.
//
// Batch encoding runs in bounded mini-batches with buffer release and an
// explicit GC between them, so bulk re-embedding cannot produce the memory
// spike a single giant model call would. All CPU-heavy provider work runs
// under a bounded semaphore pool.
//
// Embeddings are cached in a bounded LRU keyed by the SHA-256 of the
// normalized text, with hit/miss counters exposed for observability.
package embedder
