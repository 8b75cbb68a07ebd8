package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/qanoon-dev/lexsearch-mcp/internal/config"
	"github.com/qanoon-dev/lexsearch-mcp/internal/embedder"
	"github.com/qanoon-dev/lexsearch-mcp/internal/pipeline"
	"github.com/qanoon-dev/lexsearch-mcp/internal/searcher"
	"github.com/qanoon-dev/lexsearch-mcp/internal/storage"
	"github.com/qanoon-dev/lexsearch-mcp/internal/vectorindex"
	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "lexsearch-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	engine   *embedder.Engine
	searcher *searcher.Searcher
	pipeline *pipeline.Pipeline
	log      *slog.Logger
}

// NewServer wires storage, embedding engine, index and searcher from the
// loaded configuration, restores or rebuilds the index, and registers the
// tool set.
func NewServer(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	if dir := filepath.Dir(cfg.Storage.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	engine, err := embedder.NewFromConfig(embedder.Config{
		Provider:        cfg.Embedding.Provider,
		BaseURL:         cfg.Embedding.BaseURL,
		APIKeyEnv:       cfg.Embedding.APIKeyEnv,
		Model:           cfg.Embedding.Model,
		Dimension:       cfg.Embedding.Dimension,
		TimeoutSecs:     cfg.Embedding.TimeoutSecs,
		MaxTokens:       cfg.Embedding.MaxTokens,
		MiniBatchSize:   cfg.Embedding.MiniBatchSize,
		CacheSize:       cfg.Embedding.CacheSize,
		MinFreeMemoryMB: cfg.Embedding.MinFreeMemoryMB,
		Workers:         cfg.Embedding.Workers,
	}, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to configure embedder: %w", err)
	}
	// Never fatal: a failed model load degrades to hash mode
	_ = engine.Initialize(ctx)

	index := vectorindex.New(log)
	svc := searcher.NewSearcher(store, engine, index, searcher.Options{
		Threshold:       cfg.Search.Threshold,
		OverFetchFactor: cfg.Search.OverFetchFactor,
		FloorK:          cfg.Search.FloorK,
		VerifiedBoost:   cfg.Search.VerifiedBoost,
		CacheSize:       cfg.Search.CacheSize,
		CacheTTL:        cfg.Search.CacheTTL(),
		SnapshotPath:    cfg.Storage.IndexPath,
	}, log)

	// Restore the persisted snapshot; rebuild from storage when it's
	// missing or was built under a different model
	if err := svc.LoadIndex(); err != nil {
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, types.ErrIndexUnavailable) {
			log.Warn("index snapshot unusable, rebuilding", "error", err)
		}
		if err := svc.RebuildIndex(ctx); err != nil {
			log.Warn("initial index build failed, searches fall back to linear scan", "error", err)
		}
	}

	pipe := pipeline.New(store, engine, svc, pipeline.Options{
		BatchSize:  cfg.Pipeline.BatchSize,
		GroupLimit: cfg.Pipeline.GroupLimit,
	}, log)

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		storage:  store,
		engine:   engine,
		searcher: svc,
		pipeline: pipe,
		log:      log,
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		_ = s.engine.Close()
		_ = s.storage.Close()
	}()
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchLegalTool(), s.handleSearchLegal)
	s.mcp.AddTool(hybridSearchTool(), s.handleHybridSearch)
	s.mcp.AddTool(suggestTool(), s.handleSuggest)
	s.mcp.AddTool(getStatisticsTool(), s.handleGetStatistics)
	s.mcp.AddTool(rebuildIndexTool(), s.handleRebuildIndex)
	s.mcp.AddTool(embedPendingTool(), s.handleEmbedPending)
	s.mcp.AddTool(clearCacheTool(), s.handleClearCache)
}
