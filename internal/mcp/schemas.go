package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchLegalTool returns the tool definition for search_legal
func searchLegalTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_legal",
		Description: "Semantic search over indexed legal texts (statutes and court decisions)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural-language query, Arabic or English",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"threshold": map[string]interface{}{
					"type":        "number",
					"description": "Minimum cosine similarity (0.0-1.0); omit to use the configured default",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"corpus": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one corpus; omit to search both in one ranking",
					"enum":        []string{"law", "case"},
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional metadata filters, matched case-insensitively",
					"properties": map[string]interface{}{
						"law_name": map[string]interface{}{
							"type":        "string",
							"description": "Substring of the law name",
						},
						"jurisdiction": map[string]interface{}{
							"type":        "string",
							"description": "Exact jurisdiction",
						},
						"case_number": map[string]interface{}{
							"type":        "string",
							"description": "Exact case number",
						},
						"court": map[string]interface{}{
							"type":        "string",
							"description": "Substring of the court name",
						},
					},
				},
				"use_cache": map[string]interface{}{
					"type":        "boolean",
					"description": "Serve repeated identical queries from the result cache",
					"default":     true,
				},
			},
			Required: []string{"query"},
		},
	}
}

// hybridSearchTool returns the tool definition for hybrid_search
func hybridSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "hybrid_search",
		Description: "Search several corpora at once; results come back as separate per-corpus rankings",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural-language query, Arabic or English",
				},
				"corpora": map[string]interface{}{
					"type":        "array",
					"description": "Corpora to search; omit for all",
					"items": map[string]interface{}{
						"type": "string",
						"enum": []string{"law", "case"},
					},
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum results per corpus (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"threshold": map[string]interface{}{
					"type":        "number",
					"description": "Minimum cosine similarity (0.0-1.0); omit to use the configured default",
					"minimum":     0.0,
					"maximum":     1.0,
				},
			},
			Required: []string{"query"},
		},
	}
}

// suggestTool returns the tool definition for suggest
func suggestTool() mcp.Tool {
	return mcp.Tool{
		Name:        "suggest",
		Description: "Prefix completions from law names, article titles and case numbers",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"prefix": map[string]interface{}{
					"type":        "string",
					"description": "Partial query prefix",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of suggestions",
					"default":     10,
					"minimum":     1,
					"maximum":     25,
				},
			},
			Required: []string{"prefix"},
		},
	}
}

// getStatisticsTool returns the tool definition for get_statistics
func getStatisticsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_statistics",
		Description: "Report corpus counts, embedding engine mode, cache rates and index status",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// rebuildIndexTool returns the tool definition for rebuild_index
func rebuildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rebuild_index",
		Description: "Rebuild the vector index from stored embeddings; idempotent, searches keep running",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// embedPendingTool returns the tool definition for embed_pending
func embedPendingTool() mcp.Tool {
	return mcp.Tool{
		Name:        "embed_pending",
		Description: "Embed chunks that have no embedding for the active model, then rebuild the index",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// clearCacheTool returns the tool definition for clear_cache
func clearCacheTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_cache",
		Description: "Empty the query-result cache and the embedding cache",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
