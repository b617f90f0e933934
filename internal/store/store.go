package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/repoagent/pkg/models"
)

// ChunkRef identifies one live index entry for reconciliation.
type ChunkRef struct {
	ID          string
	Path        string
	ContentHash string
}

// IndexStore is the vector-store capability the pipeline and retriever are
// built against. One collection per repository; entries are written atomically
// per chunk (vector and metadata land in the same row in one statement).
type IndexStore interface {
	Migrate(ctx context.Context, dim int) error
	UpsertChunk(ctx context.Context, c models.Chunk, vec []float32) error
	Query(ctx context.Context, repository string, vec []float32, k int) ([]models.RetrievalResult, error)
	DeleteChunks(ctx context.Context, repository string, ids []string) error
	DropRepository(ctx context.Context, repository string) error
	ListChunkRefs(ctx context.Context, repository string) ([]ChunkRef, error)
	HasChunks(ctx context.Context, repository string) (bool, error)
	GetRepositories(ctx context.Context) ([]string, error)
}

// Store implements IndexStore on Postgres with the pgvector extension.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  id           TEXT PRIMARY KEY,
  repository   TEXT NOT NULL,
  path         TEXT NOT NULL,
  language     TEXT,
  content      TEXT,
  content_hash TEXT NOT NULL,
  line_start   INT,
  line_end     INT,
  embedding    vector(%d),
  seq          BIGINT GENERATED ALWAYS AS IDENTITY,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunks_repository_idx
  ON chunks (repository);

CREATE INDEX IF NOT EXISTS chunks_repo_path_idx
  ON chunks (repository, path);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// UpsertChunk inserts or replaces one index entry. The id is content-derived,
// so a conflict means the same chunk was indexed before; the row is rewritten
// in a single statement either way.
func (s *Store) UpsertChunk(ctx context.Context, c models.Chunk, vec []float32) error {
	const q = `
		INSERT INTO chunks (
			id, repository, path, language, content, content_hash,
			line_start, line_end, embedding, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (id) DO UPDATE SET
			language     = EXCLUDED.language,
			content      = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			embedding    = EXCLUDED.embedding,
			created_at   = chunks.created_at;`

	_, err := s.pool.Exec(ctx, q,
		c.ID, c.Repository, c.Path, c.Language, c.Content, c.ContentHash,
		c.LineStart, c.LineEnd, pgvector.NewVector(vec),
	)
	return err
}

// Query runs a top-k cosine similarity search within one repository's
// collection. Ties are broken by insertion order so repeated queries over a
// fixed index return an identical ordering.
func (s *Store) Query(ctx context.Context, repository string, vec []float32, k int) ([]models.RetrievalResult, error) {
	const q = `
		SELECT id, repository, path, language, content, content_hash,
		       line_start, line_end, created_at,
		       1 - (embedding <=> $2) AS score
		FROM chunks
		WHERE repository = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2 ASC, seq ASC
		LIMIT $3;`

	rows, err := s.pool.Query(ctx, q, repository, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RetrievalResult
	for rows.Next() {
		var c models.Chunk
		var score float64
		if err := rows.Scan(
			&c.ID, &c.Repository, &c.Path, &c.Language, &c.Content, &c.ContentHash,
			&c.LineStart, &c.LineEnd, &c.CreatedAt, &score,
		); err != nil {
			return nil, err
		}
		out = append(out, models.RetrievalResult{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

// DeleteChunks removes the given entries from one repository's collection.
func (s *Store) DeleteChunks(ctx context.Context, repository string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM chunks WHERE repository = $1 AND id = ANY($2)`, repository, ids)
	return err
}

// DropRepository removes a repository's collection entirely. Dropping a
// repository that was never indexed is a no-op.
func (s *Store) DropRepository(ctx context.Context, repository string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE repository = $1`, repository)
	return err
}

// ListChunkRefs returns the live entries of a collection for reconciliation.
func (s *Store) ListChunkRefs(ctx context.Context, repository string) ([]ChunkRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, path, content_hash FROM chunks WHERE repository = $1`, repository)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []ChunkRef
	for rows.Next() {
		var r ChunkRef
		if err := rows.Scan(&r.ID, &r.Path, &r.ContentHash); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// HasChunks reports whether a repository has a non-empty collection.
func (s *Store) HasChunks(ctx context.Context, repository string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM chunks WHERE repository = $1 LIMIT 1`, repository).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetRepositories returns a list of all unique repositories in the database.
func (s *Store) GetRepositories(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT repository FROM chunks ORDER BY repository")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []string
	for rows.Next() {
		var repo string
		if err := rows.Scan(&repo); err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
