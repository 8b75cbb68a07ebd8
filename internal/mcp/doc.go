// Package mcp implements the Model Context Protocol (MCP) server for the
// legal search engine.
//
// The server exposes the search operation set to AI assistants as tools:
//   - search_legal: Semantic search over statutes and court decisions
//   - hybrid_search: Per-corpus rankings for one query
//   - suggest: Prefix completions from titles and case numbers
//   - get_statistics: Corpus counts, engine mode, cache and index status
//   - rebuild_index: Republish the vector index from stored embeddings
//   - embed_pending: Backfill missing chunk embeddings
//   - clear_cache: Drop the query and embedding caches
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// stdout carries protocol messages exclusively; all logging goes to stderr.
//
// # Tool: search_legal
//
// Search the indexed corpora:
//
//	Request:
//	{
//	  "name": "search_legal",
//	  "arguments": {
//	    "query": "عقوبة تزوير الطوابع",
//	    "top_k": 10,
//	    "corpus": "law",
//	    "filters": {"jurisdiction": "federal"}
//	  }
//	}
//
// Results carry the chunk content, cosine similarity, verified flag and
// resolved source metadata (law name and article number, or case number,
// court and section label).
//
// # Error Codes
//
//   - -32602 invalid method parameters
//   - -32603 internal error
//   - -32001 invalid query (empty, too short, out-of-range top_k/threshold)
//   - -32002 timeout; the request may be retried
//
// Degradations never surface as errors: a missing model means hash-fallback
// vectors, a missing index means a linear scan, both visible only through
// get_statistics.
package mcp
