package tool

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/m-mizutani/atlas/pkg/adapter"
	"github.com/m-mizutani/atlas/pkg/repository"
)

// Client contains shared resources that tools can use
type Client struct {
	DB        *pgxpool.Pool
	Embedder  adapter.Embedder
	Knowledge repository.Store
}
