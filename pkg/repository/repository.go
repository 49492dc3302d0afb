package repository

import (
	"context"

	"github.com/m-mizutani/atlas/pkg/model"
)

// Store is a searchable memory store backed by a vector-capable database.
type Store interface {
	// Insert embeds the content and persists it with its metadata,
	// returning the assigned record ID.
	Insert(ctx context.Context, content string, metadata map[string]any) (int64, error)

	// ExistsByMetadata reports whether any record has the given metadata
	// key set to the given value.
	ExistsByMetadata(ctx context.Context, key, value string) (bool, error)

	// Search retrieves up to limit records for the query. When hybrid is
	// true the semantic and lexical passes are fused by reciprocal rank;
	// otherwise only the semantic pass runs.
	Search(ctx context.Context, query string, limit int, hybrid bool) ([]model.MemoryHit, error)

	// Delete removes a record by ID.
	Delete(ctx context.Context, id int64) error
}
