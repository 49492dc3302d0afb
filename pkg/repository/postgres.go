package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/m-mizutani/atlas/pkg/adapter"
	"github.com/m-mizutani/atlas/pkg/model"
)

// minSearchDepth is the floor for how many rows each retrieval pass
// pulls before fusion, so that fusion has candidates to reorder even
// for small limits.
const minSearchDepth = 10

// Postgres is a memory store on PostgreSQL with the pgvector extension.
// The semantic pass uses cosine distance over embeddings, the lexical
// pass uses full-text search over the raw content.
type Postgres struct {
	pool       *pgxpool.Pool
	embedder   adapter.Embedder
	table      string
	tableIdent string
}

// NewPostgres creates a store over the given table. The table name is
// sanitized once here and interpolated into every statement.
func NewPostgres(pool *pgxpool.Pool, embedder adapter.Embedder, table string) *Postgres {
	return &Postgres{
		pool:       pool,
		embedder:   embedder,
		table:      table,
		tableIdent: pgx.Identifier{table}.Sanitize(),
	}
}

// Migrate creates the extension, table and indexes if missing.
func (x *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, x.tableIdent, x.embedder.Dimension()),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops)",
			pgx.Identifier{x.table + "_embedding_idx"}.Sanitize(), x.tableIdent),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (to_tsvector('english', content))",
			pgx.Identifier{x.table + "_content_fts_idx"}.Sanitize(), x.tableIdent),
	}

	for _, stmt := range stmts {
		if _, err := x.pool.Exec(ctx, stmt); err != nil {
			return goerr.Wrap(err, "failed to migrate store", goerr.V("table", x.table))
		}
	}

	return nil
}

// Drop removes the table.
func (x *Postgres) Drop(ctx context.Context) error {
	if _, err := x.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", x.tableIdent)); err != nil {
		return goerr.Wrap(err, "failed to drop store", goerr.V("table", x.table))
	}
	return nil
}

// Insert embeds the content and persists the record.
func (x *Postgres) Insert(ctx context.Context, content string, metadata map[string]any) (int64, error) {
	vectors, err := x.embedder.Embed(ctx, []string{content})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to embed content")
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to marshal metadata")
	}

	stmt := fmt.Sprintf("INSERT INTO %s (content, embedding, metadata) VALUES ($1, $2, $3) RETURNING id",
		x.tableIdent)

	var id int64
	if err := x.pool.QueryRow(ctx, stmt, content, pgvector.NewVector(vectors[0]), meta).Scan(&id); err != nil {
		return 0, goerr.Wrap(err, "failed to insert record", goerr.V("table", x.table))
	}

	return id, nil
}

// ExistsByMetadata reports whether any record carries the metadata pair.
func (x *Postgres) ExistsByMetadata(ctx context.Context, key, value string) (bool, error) {
	stmt := fmt.Sprintf("SELECT 1 FROM %s WHERE metadata ->> $1 = $2 LIMIT 1", x.tableIdent)

	var one int
	err := x.pool.QueryRow(ctx, stmt, key, value).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to check metadata", goerr.V("key", key))
	}

	return true, nil
}

// Delete removes a record by ID.
func (x *Postgres) Delete(ctx context.Context, id int64) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = $1", x.tableIdent)
	if _, err := x.pool.Exec(ctx, stmt, id); err != nil {
		return goerr.Wrap(err, "failed to delete record", goerr.V("id", id))
	}
	return nil
}

// Search retrieves up to limit records. Both passes pull
// max(limit, minSearchDepth) candidates; the hybrid mode fuses them by
// reciprocal rank, otherwise the semantic list is truncated as is.
func (x *Postgres) Search(ctx context.Context, query string, limit int, hybrid bool) ([]model.MemoryHit, error) {
	depth := limit
	if depth < minSearchDepth {
		depth = minSearchDepth
	}

	semantic, err := x.semanticSearch(ctx, query, depth)
	if err != nil {
		return nil, err
	}

	if !hybrid {
		return truncHits(semantic, limit), nil
	}

	lexical, err := x.lexicalSearch(ctx, query, depth)
	if err != nil {
		return nil, err
	}

	return fuseHits(semantic, lexical, limit), nil
}

func (x *Postgres) semanticSearch(ctx context.Context, query string, depth int) ([]model.MemoryHit, error) {
	vectors, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}

	stmt := fmt.Sprintf(`SELECT id, content, metadata, created_at, 1 - (embedding <=> $1) AS score
		FROM %s ORDER BY embedding <=> $1 LIMIT $2`, x.tableIdent)

	rows, err := x.pool.Query(ctx, stmt, pgvector.NewVector(vectors[0]), depth)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run semantic search", goerr.V("table", x.table))
	}

	return scanHits(rows)
}

func (x *Postgres) lexicalSearch(ctx context.Context, query string, depth int) ([]model.MemoryHit, error) {
	stmt := fmt.Sprintf(`SELECT id, content, metadata, created_at,
			ts_rank_cd(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		FROM %s
		WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		ORDER BY score DESC LIMIT $2`, x.tableIdent)

	rows, err := x.pool.Query(ctx, stmt, query, depth)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run lexical search", goerr.V("table", x.table))
	}

	return scanHits(rows)
}

func scanHits(rows pgx.Rows) ([]model.MemoryHit, error) {
	defer rows.Close()

	var hits []model.MemoryHit
	for rows.Next() {
		var hit model.MemoryHit
		var meta []byte
		if err := rows.Scan(&hit.ID, &hit.Content, &meta, &hit.CreatedAt, &hit.Score); err != nil {
			return nil, goerr.Wrap(err, "failed to scan search hit")
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
				return nil, goerr.Wrap(err, "failed to unmarshal metadata", goerr.V("id", hit.ID))
			}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate search hits")
	}

	return hits, nil
}
