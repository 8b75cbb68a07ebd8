package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/qanoon-dev/lexsearch-mcp/internal/searcher"
	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeInvalidQuery  = -32001 // Query rejected before any I/O
	ErrorCodeTimeout       = -32002 // Encode/build/enrichment deadline exceeded
)

// handleSearchLegal handles the search_legal tool invocation
func (s *Server) handleSearchLegal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "query parameter is required", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	req := searcher.Request{
		Query:    query,
		TopK:     getIntDefault(args, "top_k", 0),
		Corpus:   types.Corpus(getStringDefault(args, "corpus", "")),
		UseCache: getBoolDefault(args, "use_cache", true),
	}
	if v, ok := args["threshold"].(float64); ok {
		req.Threshold = &v
	}
	if raw, ok := args["filters"].(map[string]interface{}); ok {
		req.Filters = &searcher.Filters{
			LawName:      getStringDefault(raw, "law_name", ""),
			Jurisdiction: getStringDefault(raw, "jurisdiction", ""),
			CaseNumber:   getStringDefault(raw, "case_number", ""),
			Court:        getStringDefault(raw, "court", ""),
		}
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		return nil, searchError(err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"results":     resp.Results,
		"total":       resp.Total,
		"cache_hit":   resp.CacheHit,
		"linear_scan": resp.LinearScan,
		"engine_mode": string(s.engine.Mode()),
		"duration_ms": resp.Duration.Milliseconds(),
	})), nil
}

// handleHybridSearch handles the hybrid_search tool invocation
func (s *Server) handleHybridSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "query parameter is required", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	var corpora []types.Corpus
	if raw, ok := args["corpora"].([]interface{}); ok {
		for _, v := range raw {
			name, ok := v.(string)
			if !ok {
				return nil, newMCPError(ErrorCodeInvalidParams, "corpora entries must be strings", nil)
			}
			corpora = append(corpora, types.Corpus(name))
		}
	}

	var threshold *float64
	if v, ok := args["threshold"].(float64); ok {
		threshold = &v
	}

	groups, err := s.searcher.HybridSearch(ctx, query, corpora, getIntDefault(args, "top_k", 0), threshold)
	if err != nil {
		return nil, searchError(err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"groups":      groups,
		"engine_mode": string(s.engine.Mode()),
	})), nil
}

// handleSuggest handles the suggest tool invocation
func (s *Server) handleSuggest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	prefix, ok := args["prefix"].(string)
	if !ok || prefix == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "prefix parameter is required", map[string]interface{}{
			"param":  "prefix",
			"reason": "missing or empty",
		})
	}

	suggestions, err := s.searcher.Suggest(ctx, prefix, getIntDefault(args, "limit", 10))
	if err != nil {
		return nil, searchError(err)
	}
	if suggestions == nil {
		suggestions = []string{}
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"suggestions": suggestions,
	})), nil
}

// handleGetStatistics handles the get_statistics tool invocation
func (s *Server) handleGetStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.searcher.Statistics(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to collect statistics", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"chunks":          stats.Chunks,
		"embeddings":      stats.Embeddings,
		"engine":          stats.Engine,
		"index":           stats.Index,
		"query_cache_len": stats.QueryCacheLen,
		"last_rebuild":    stats.LastRebuild,
	})), nil
}

// handleRebuildIndex handles the rebuild_index tool invocation
func (s *Server) handleRebuildIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.searcher.RebuildIndex(ctx); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "index rebuild failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	stats, err := s.searcher.Statistics(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read index status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"rebuilt": true,
		"index":   stats.Index,
	})), nil
}

// handleEmbedPending handles the embed_pending tool invocation
func (s *Server) handleEmbedPending(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.pipeline.EmbedPending(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "embedding run failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"pending":     report.Pending,
		"embedded":    report.Embedded,
		"failed":      report.Failed,
		"batches":     report.Batches,
		"rebuilt":     report.Rebuilt,
		"duration_ms": report.Duration.Milliseconds(),
	})), nil
}

// handleClearCache handles the clear_cache tool invocation
func (s *Server) handleClearCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.searcher.ClearCache()
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"cleared": true,
	})), nil
}

// Helper functions

// searchError maps pipeline failures onto MCP error codes. Invalid input
// and timeouts get their own codes so clients can distinguish retryable
// failures from bad requests.
func searchError(err error) error {
	switch {
	case errors.Is(err, types.ErrInvalidQuery):
		return newMCPError(ErrorCodeInvalidQuery, "invalid query", map[string]interface{}{
			"error": err.Error(),
		})
	case errors.Is(err, types.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return newMCPError(ErrorCodeTimeout, "operation timed out, retry the request", map[string]interface{}{
			"error": err.Error(),
		})
	default:
		return newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
