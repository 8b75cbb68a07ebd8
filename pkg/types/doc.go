// Package types defines the shared data model for the legal semantic search
// engine: chunks, corpora, search results and the request-scoped error
// taxonomy. It has no dependencies on other internal packages so that every
// layer (storage, embedder, index, searcher, MCP surface) can exchange these
// values without import cycles.
package types
