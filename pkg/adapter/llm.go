package adapter

import (
	"context"

	"github.com/m-mizutani/atlas/pkg/model"
)

// ChatModel is a conversational model backend.
type ChatModel interface {
	// Generate performs one blocking model call.
	Generate(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error)

	// GenerateStream performs one model call and delivers incremental
	// events on the returned channel. The terminal event carries either
	// the complete response or an error, after which the channel is
	// closed. The channel must be consumed by a single goroutine.
	GenerateStream(ctx context.Context, req *model.ChatRequest) (<-chan model.StreamEvent, error)
}

// Embedder converts texts into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the length of vectors produced by Embed.
	Dimension() int
}
