package types

import "errors"

// Request-scoped failures that propagate to the caller. Component-internal
// degradations (model unavailable, missing index, per-item encode failure)
// are absorbed, logged and reported only through the statistics surface.
var (
	// ErrInvalidQuery rejects empty or too-short query text and out-of-range
	// top_k/threshold parameters before any I/O happens.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrDimensionMismatch means a stored vector or index was built under a
	// different model dimensionality than is currently configured. Comparing
	// such vectors is a correctness violation, so the operation fails and the
	// mismatched data must be rebuilt.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIndexUnavailable means no vector index has been built yet. Search
	// recovers by linear scan; the sentinel exists so callers that need the
	// index proper (persist, status checks) can tell.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrModelUnavailable means the embedding model failed to load or memory
	// was insufficient. The engine recovers into hash-fallback mode.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrTimeout surfaces an encode, build or enrichment deadline as a
	// retryable per-request failure.
	ErrTimeout = errors.New("operation timed out")
)
