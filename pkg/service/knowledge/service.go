package knowledge

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/repository"
)

// Service is the curated knowledge base: documents loaded from files or
// saved during sessions, retrieved by hybrid search.
type Service struct {
	store  repository.Store
	policy *ingestPolicy
}

type Option func(*config)

type config struct {
	policyDir string
}

// WithPolicyDir enables the Rego ingest policy loaded from dir.
func WithPolicyDir(dir string) Option {
	return func(c *config) {
		c.policyDir = dir
	}
}

// New creates a knowledge service over the store.
func New(ctx context.Context, store repository.Store, opts ...Option) (*Service, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	policy, err := loadIngestPolicy(ctx, cfg.policyDir)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:  store,
		policy: policy,
	}, nil
}

// InsertInput is one document to add to the knowledge base.
type InsertInput struct {
	Content      string
	Metadata     map[string]any
	Name         string
	SkipIfExists bool
}

// Insert adds a document. With SkipIfExists the insert is skipped when a
// record with the same metadata name already exists; the bool result
// reports whether a row was actually written.
func (x *Service) Insert(ctx context.Context, input InsertInput) (int64, bool, error) {
	if input.Content == "" {
		return 0, false, goerr.New("content is required")
	}

	metadata := map[string]any{}
	for k, v := range input.Metadata {
		metadata[k] = v
	}
	if input.Name != "" {
		metadata["name"] = input.Name
	}

	if input.SkipIfExists && input.Name != "" {
		exists, err := x.store.ExistsByMetadata(ctx, "name", input.Name)
		if err != nil {
			return 0, false, goerr.Wrap(err, "failed to check existing document")
		}
		if exists {
			return 0, false, nil
		}
	}

	id, err := x.store.Insert(ctx, input.Content, metadata)
	if err != nil {
		return 0, false, goerr.Wrap(err, "failed to insert document")
	}

	return id, true, nil
}

// Search retrieves documents by hybrid search.
func (x *Service) Search(ctx context.Context, query string, limit int) ([]model.MemoryHit, error) {
	return x.store.Search(ctx, query, limit, true)
}

// Delete removes a document by ID.
func (x *Service) Delete(ctx context.Context, id int64) error {
	return x.store.Delete(ctx, id)
}
