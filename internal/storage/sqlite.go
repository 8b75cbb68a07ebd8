package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qanoon-dev/lexsearch-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Law corpus

func (s *SQLiteStorage) CreateLaw(ctx context.Context, law *Law) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO laws (name, jurisdiction, year, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		law.Name, law.Jurisdiction, law.Year, now, now)
	if err != nil {
		return fmt.Errorf("failed to create law: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	law.ID = id
	law.CreatedAt = now
	law.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) GetLaw(ctx context.Context, lawID int64) (*Law, error) {
	law := &Law{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, jurisdiction, year, created_at, updated_at FROM laws WHERE id = ?`, lawID).
		Scan(&law.ID, &law.Name, &law.Jurisdiction, &law.Year, &law.CreatedAt, &law.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get law: %w", err)
	}
	return law, nil
}

func (s *SQLiteStorage) CreateArticle(ctx context.Context, article *Article) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO law_articles (law_id, article_number, title, created_at) VALUES (?, ?, ?, ?)`,
		article.LawID, article.ArticleNumber, article.Title, now)
	if err != nil {
		return fmt.Errorf("failed to create article: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	article.ID = id
	article.CreatedAt = now
	return nil
}

// DeleteLaw removes a law; articles and their chunks cascade.
func (s *SQLiteStorage) DeleteLaw(ctx context.Context, lawID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM laws WHERE id = ?`, lawID)
	if err != nil {
		return fmt.Errorf("failed to delete law: %w", err)
	}
	return nil
}

// Case corpus

func (s *SQLiteStorage) CreateCase(ctx context.Context, c *Case) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (case_number, court, year, title, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.CaseNumber, c.Court, c.Year, c.Title, now)
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	c.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) GetCase(ctx context.Context, caseID int64) (*Case, error) {
	c := &Case{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_number, court, year, title, created_at FROM cases WHERE id = ?`, caseID).
		Scan(&c.ID, &c.CaseNumber, &c.Court, &c.Year, &c.Title, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

func (s *SQLiteStorage) CreateSection(ctx context.Context, section *CaseSection) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO case_sections (case_id, section_label, created_at) VALUES (?, ?, ?)`,
		section.CaseID, section.SectionLabel, now)
	if err != nil {
		return fmt.Errorf("failed to create case section: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	section.ID = id
	section.CreatedAt = now
	return nil
}

// DeleteCase removes a case; sections and their chunks cascade.
func (s *SQLiteStorage) DeleteCase(ctx context.Context, caseID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, caseID)
	if err != nil {
		return fmt.Errorf("failed to delete case: %w", err)
	}
	return nil
}

// Chunk operations

// UpsertChunk inserts a chunk or, when one with the same content hash
// already exists, refreshes its verified flag. The chunk's ID is set either
// way, so repeated ingestion of identical content is idempotent.
func (s *SQLiteStorage) UpsertChunk(ctx context.Context, chunk *types.Chunk) error {
	if !chunk.Corpus.Valid() {
		return fmt.Errorf("invalid corpus %q", chunk.Corpus)
	}

	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (corpus, article_id, section_id, content, content_hash, token_count, verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			verified = excluded.verified,
			updated_at = excluded.updated_at`,
		chunk.Corpus, nullableID(chunk.ArticleID), nullableID(chunk.SectionID),
		chunk.Content, chunk.ContentHash[:], chunk.TokenCount, boolToInt(chunk.Verified), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM chunks WHERE content_hash = ?`, chunk.ContentHash[:]).
		Scan(&chunk.ID, &chunk.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to read back chunk id: %w", err)
	}
	chunk.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, corpus, article_id, section_id, content, content_hash, token_count, verified, created_at, updated_at
		FROM chunks WHERE id = ?`, chunkID)
	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

func (s *SQLiteStorage) CountChunks(ctx context.Context) (map[types.Corpus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT corpus, COUNT(*) FROM chunks GROUP BY corpus`)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[types.Corpus]int{}
	for rows.Next() {
		var corpus types.Corpus
		var n int
		if err := rows.Scan(&corpus, &n); err != nil {
			return nil, err
		}
		counts[corpus] = n
	}
	return counts, rows.Err()
}

// Embedding operations

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (chunk_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id, model) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			created_at = excluded.created_at`,
		embedding.ChunkID, embedding.Vector, embedding.Dimension, embedding.Provider, embedding.Model, now)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil && embedding.ID == 0 {
		embedding.ID = id
	}
	embedding.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) ListPendingChunks(ctx context.Context, model string, limit int) ([]*types.Chunk, error) {
	query := `
		SELECT c.id, c.corpus, c.article_id, c.section_id, c.content, c.content_hash, c.token_count, c.verified, c.created_at, c.updated_at
		FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_id = c.id AND e.model = ?
		WHERE e.id IS NULL
		ORDER BY c.id`
	args := []interface{}{model}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*types.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStorage) ListEmbedded(ctx context.Context, model string) ([]EmbeddedChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.corpus, c.verified, e.vector, e.dimension
		FROM chunks c
		INNER JOIN embeddings e ON e.chunk_id = c.id AND e.model = ?
		ORDER BY c.id`, model)
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EmbeddedChunk
	for rows.Next() {
		var ec EmbeddedChunk
		var verified int
		var blob []byte
		if err := rows.Scan(&ec.ChunkID, &ec.Corpus, &verified, &blob, &ec.Dimension); err != nil {
			return nil, err
		}
		ec.Verified = verified != 0
		ec.Vector = deserializeVector(blob)
		out = append(out, ec)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) CountEmbeddings(ctx context.Context, model string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE model = ?`, model).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return n, nil
}

// Enrichment

// GetChunkMetaBatch resolves source metadata for all chunkIDs in a single
// query with LEFT JOINs across both corpora.
func (s *SQLiteStorage) GetChunkMetaBatch(ctx context.Context, chunkIDs []int64) (map[int64]*ChunkMeta, error) {
	if len(chunkIDs) == 0 {
		return map[int64]*ChunkMeta{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunkIDs)), ",")
	args := make([]interface{}, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.corpus, c.verified, c.content,
			COALESCE(la.article_number, ''), COALESCE(la.title, ''),
			COALESCE(l.name, ''), COALESCE(l.jurisdiction, ''),
			COALESCE(cs.section_label, ''), COALESCE(k.case_number, ''), COALESCE(k.court, '')
		FROM chunks c
		LEFT JOIN law_articles la ON c.article_id = la.id
		LEFT JOIN laws l ON la.law_id = l.id
		LEFT JOIN case_sections cs ON c.section_id = cs.id
		LEFT JOIN cases k ON cs.case_id = k.id
		WHERE c.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-load chunk metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	metas := make(map[int64]*ChunkMeta, len(chunkIDs))
	for rows.Next() {
		meta := &ChunkMeta{}
		var verified int
		if err := rows.Scan(&meta.ChunkID, &meta.Corpus, &verified, &meta.Content,
			&meta.ArticleNumber, &meta.ArticleTitle, &meta.LawName, &meta.Jurisdiction,
			&meta.SectionLabel, &meta.CaseNumber, &meta.Court); err != nil {
			return nil, err
		}
		meta.Verified = verified != 0
		metas[meta.ChunkID] = meta
	}
	return metas, rows.Err()
}

// Suggestions

// ListTitles returns distinct law names, article titles and case numbers
// matching the prefix, case-insensitively, in sorted order.
func (s *SQLiteStorage) ListTitles(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT title FROM (
			SELECT name AS title FROM laws
			UNION
			SELECT title FROM law_articles WHERE title <> ''
			UNION
			SELECT case_number FROM cases
		)
		WHERE LOWER(title) LIKE LOWER(?) || '%' ESCAPE '\'
		ORDER BY title
		LIMIT ?`, escapeLike(prefix), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list titles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// escapeLike neutralizes LIKE metacharacters in user input so a prefix of
// "%" or "_" matches literally instead of as a wildcard.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Helpers

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (*types.Chunk, error) {
	chunk := &types.Chunk{}
	var articleID, sectionID sql.NullInt64
	var hash []byte
	var verified int

	err := row.Scan(&chunk.ID, &chunk.Corpus, &articleID, &sectionID, &chunk.Content,
		&hash, &chunk.TokenCount, &verified, &chunk.CreatedAt, &chunk.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if articleID.Valid {
		chunk.ArticleID = &articleID.Int64
	}
	if sectionID.Valid {
		chunk.SectionID = &sectionID.Int64
	}
	copy(chunk.ContentHash[:], hash)
	chunk.Verified = verified != 0
	return chunk, nil
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
