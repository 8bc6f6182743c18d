// Package store implements the vector store contract (spec.md §6) against
// Postgres + pgvector: insert, filtered k-NN search, count, languages,
// stats, and predicate delete. Full-text/BM25 scoring is out of scope
// (an explicit Non-goal) — search is pure cosine-distance k-NN.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/seanblong/codesage/pkg/models"
)

// Store wraps a pgxpool connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// ChunkStore is the narrow contract the indexing pipeline and query
// engine depend on (spec.md §6).
type ChunkStore interface {
	Insert(ctx context.Context, rows []models.ChunkRecord) (int, error)
	Search(ctx context.Context, queryVector []float32, limit int, filters QueryFilters) ([]models.SearchResult, error)
	Count(ctx context.Context, language string) (int, error)
	Languages(ctx context.Context) ([]LanguageCount, error)
	Stats(ctx context.Context) (Stats, error)
	DeleteByLanguage(ctx context.Context, language string) (int, error)
	DeleteByFile(ctx context.Context, filePath string) (int, error)
}

// New opens a connection pool against a Postgres DSN.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate creates the chunks table for a given embedding dimension. A
// change in dim requires rerunning Migrate and reindexing, per spec.md §6.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  chunk_id   TEXT PRIMARY KEY,
  language   TEXT NOT NULL,
  version    TEXT NOT NULL DEFAULT '',
  file_path  TEXT NOT NULL,
  repo       TEXT NOT NULL DEFAULT '',
  start_line INT NOT NULL,
  end_line   INT NOT NULL,
  ast_type   TEXT NOT NULL DEFAULT '',
  name       TEXT NOT NULL DEFAULT '',
  text       TEXT NOT NULL,
  vector     vector(%d) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunks_language_idx ON chunks (language);
CREATE INDEX IF NOT EXISTS chunks_file_path_idx ON chunks (file_path);
CREATE INDEX IF NOT EXISTS chunks_vector_idx
  ON chunks USING ivfflat (vector vector_cosine_ops) WITH (lists = 100);
`, dim)
	_, err := s.pool.Exec(ctx, q)
	return err
}

// Insert appends rows to the store. Append-only, per spec.md §6.
func (s *Store) Insert(ctx context.Context, rows []models.ChunkRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	const q = `
INSERT INTO chunks (chunk_id, language, version, file_path, repo, start_line, end_line, ast_type, name, text, vector)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (chunk_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(q, r.ChunkID, r.Language, r.Version, r.FilePath, r.Repo,
			r.StartLine, r.EndLine, r.ASTType, r.Name, r.Text, pgvector.NewVector(r.Vector))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// QueryFilters is the conjunction of optional equality predicates plus a
// list of languages to exclude, per spec.md §6.
type QueryFilters struct {
	Language         string
	Version          string
	ASTType          string
	Repo             string
	ExcludeLanguages []string
}

// Search runs a cosine-distance k-NN query with QueryFilters applied as a
// conjunctive WHERE clause. String filter values are escaped by doubling
// single quotes, per spec.md §6.
func (s *Store) Search(ctx context.Context, queryVector []float32, limit int, filters QueryFilters) ([]models.SearchResult, error) {
	whereClause := buildWhereClause(filters)

	q := fmt.Sprintf(`
SELECT chunk_id, language, version, file_path, repo, start_line, end_line, ast_type, name, text, created_at,
       vector <=> $1 AS distance
FROM chunks
WHERE %s
ORDER BY distance ASC
LIMIT $2`, whereClause)

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(queryVector), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var r models.ChunkRecord
		var distance float64
		if err := rows.Scan(&r.ChunkID, &r.Language, &r.Version, &r.FilePath, &r.Repo,
			&r.StartLine, &r.EndLine, &r.ASTType, &r.Name, &r.Text, &r.CreatedAt, &distance); err != nil {
			return nil, err
		}
		out = append(out, models.SearchResult{ChunkRecord: r, Score: distance})
	}
	return out, rows.Err()
}

// Count returns the number of rows, optionally filtered by language.
func (s *Store) Count(ctx context.Context, language string) (int, error) {
	var n int
	var err error
	if language != "" {
		err = s.pool.QueryRow(ctx, "SELECT count(*) FROM chunks WHERE language = $1", language).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, "SELECT count(*) FROM chunks").Scan(&n)
	}
	return n, err
}

// LanguageCount is one row of Languages().
type LanguageCount struct {
	Language string
	Count    int
}

// Languages returns per-language chunk counts.
func (s *Store) Languages(ctx context.Context) ([]LanguageCount, error) {
	rows, err := s.pool.Query(ctx, "SELECT language, count(*) FROM chunks GROUP BY language ORDER BY language")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LanguageCount
	for rows.Next() {
		var lc LanguageCount
		if err := rows.Scan(&lc.Language, &lc.Count); err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

// Stats summarizes total chunks, distinct languages, and distinct repos.
type Stats struct {
	TotalChunks int
	Languages   int
	Repos       int
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
SELECT count(*), count(DISTINCT language), count(DISTINCT repo) FROM chunks`).
		Scan(&st.TotalChunks, &st.Languages, &st.Repos)
	return st, err
}

// DeleteByLanguage removes every row for a language and returns the count removed.
func (s *Store) DeleteByLanguage(ctx context.Context, language string) (int, error) {
	n, err := s.Count(ctx, language)
	if err != nil {
		return 0, err
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM chunks WHERE language = $1", language); err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteByFile removes every row for a file path and returns the count removed.
func (s *Store) DeleteByFile(ctx context.Context, filePath string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM chunks WHERE file_path = $1", filePath).Scan(&n); err != nil {
		return 0, err
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM chunks WHERE file_path = $1", filePath); err != nil {
		return 0, err
	}
	return n, nil
}

func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// buildWhereClause turns QueryFilters into a conjunctive SQL predicate.
// Extracted as a pure function so the filter logic can be tested without a
// live database.
func buildWhereClause(filters QueryFilters) string {
	var where []string
	if filters.Language != "" {
		where = append(where, fmt.Sprintf("language = '%s'", escape(filters.Language)))
	}
	if filters.Version != "" {
		where = append(where, fmt.Sprintf("version = '%s'", escape(filters.Version)))
	}
	if filters.ASTType != "" {
		where = append(where, fmt.Sprintf("ast_type = '%s'", escape(filters.ASTType)))
	}
	if filters.Repo != "" {
		where = append(where, fmt.Sprintf("repo = '%s'", escape(filters.Repo)))
	}
	for _, lang := range filters.ExcludeLanguages {
		where = append(where, fmt.Sprintf("language != '%s'", escape(lang)))
	}

	if len(where) == 0 {
		return "TRUE"
	}
	return strings.Join(where, " AND ")
}

// Ping checks database connectivity with a short timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
