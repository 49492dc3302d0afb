package adapter

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/m-mizutani/atlas/pkg/model"
)

const (
	defaultChatModel          = "gpt-4-turbo"
	defaultEmbeddingModel     = "text-embedding-3-small"
	defaultEmbeddingDimension = 1536
	defaultTemperature        = 0.2
)

// OpenAI implements ChatModel and Embedder on the OpenAI API. The
// underlying client is built lazily so that a missing API key only
// fails when the backend is actually used.
type OpenAI struct {
	apiKey      string
	baseURL     string
	chatModel   string
	embedModel  string
	dimension   int
	temperature float32

	mu     sync.Mutex
	client *openai.Client
}

type OpenAIOption func(*OpenAI)

func WithChatModel(name string) OpenAIOption {
	return func(x *OpenAI) {
		x.chatModel = name
	}
}

func WithEmbeddingModel(name string) OpenAIOption {
	return func(x *OpenAI) {
		x.embedModel = name
	}
}

func WithEmbeddingDimension(dim int) OpenAIOption {
	return func(x *OpenAI) {
		x.dimension = dim
	}
}

func WithBaseURL(url string) OpenAIOption {
	return func(x *OpenAI) {
		x.baseURL = url
	}
}

func WithTemperature(temp float32) OpenAIOption {
	return func(x *OpenAI) {
		x.temperature = temp
	}
}

// NewOpenAI creates an OpenAI backend. The API key may be empty here;
// the first Generate or Embed call reports the missing credential.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	x := &OpenAI{
		apiKey:      apiKey,
		chatModel:   defaultChatModel,
		embedModel:  defaultEmbeddingModel,
		dimension:   defaultEmbeddingDimension,
		temperature: defaultTemperature,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *OpenAI) getClient() (*openai.Client, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.client != nil {
		return x.client, nil
	}

	key := x.apiKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, goerr.New("OPENAI_API_KEY is not set")
	}

	config := openai.DefaultConfig(key)
	if x.baseURL != "" {
		config.BaseURL = x.baseURL
	}
	x.client = openai.NewClientWithConfig(config)

	return x.client, nil
}

func (x *OpenAI) buildRequest(req *model.ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns))
	for _, turn := range req.Turns {
		msg := openai.ChatCompletionMessage{
			Role:       string(turn.Role),
			Content:    turn.Content,
			ToolCallID: turn.ToolCallID,
		}
		for _, call := range turn.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}

	tools := make([]openai.Tool, 0, len(req.Tools))
	for _, spec := range req.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}

	return openai.ChatCompletionRequest{
		Model:       x.chatModel,
		Messages:    messages,
		Tools:       tools,
		Temperature: x.temperature,
	}
}

// Generate performs one blocking chat completion.
func (x *OpenAI) Generate(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	client, err := x.getClient()
	if err != nil {
		return nil, err
	}

	resp, err := client.CreateChatCompletion(ctx, x.buildRequest(req))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, goerr.New("chat completion returned no choices")
	}

	choice := resp.Choices[0].Message
	out := &model.ChatResponse{Content: choice.Content}
	for _, call := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}

	return out, nil
}

// GenerateStream performs one streaming chat completion. Content deltas
// are delivered as Token events; tool call fragments are accumulated by
// index and attached to the terminal Response event.
func (x *OpenAI) GenerateStream(ctx context.Context, req *model.ChatRequest) (<-chan model.StreamEvent, error) {
	client, err := x.getClient()
	if err != nil {
		return nil, err
	}

	stream, err := client.CreateChatCompletionStream(ctx, x.buildRequest(req))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chat completion stream")
	}

	events := make(chan model.StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()

		send := func(ev model.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var content string
		calls := map[int]*model.ToolCall{}

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				send(model.StreamEvent{Err: goerr.Wrap(err, "failed to receive stream chunk")})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				content += delta.Content
				if !send(model.StreamEvent{Token: delta.Content}) {
					return
				}
			}

			for _, tc := range delta.ToolCalls {
				if tc.Index == nil {
					continue
				}
				call, ok := calls[*tc.Index]
				if !ok {
					call = &model.ToolCall{}
					calls[*tc.Index] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
			}
		}

		resp := &model.ChatResponse{Content: content}
		indexes := make([]int, 0, len(calls))
		for idx := range calls {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			resp.ToolCalls = append(resp.ToolCalls, *calls[idx])
		}

		send(model.StreamEvent{Response: resp})
	}()

	return events, nil
}

// Embed returns one embedding vector per input text.
func (x *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	client, err := x.getClient()
	if err != nil {
		return nil, err
	}

	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(x.embedModel),
		Dimensions: x.dimension,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embeddings")
	}
	if len(resp.Data) != len(texts) {
		return nil, goerr.New("embedding count mismatch",
			goerr.V("want", len(texts)), goerr.V("got", len(resp.Data)))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, goerr.New("embedding index out of range", goerr.V("index", d.Index))
		}
		vectors[d.Index] = d.Embedding
	}

	return vectors, nil
}

// Dimension returns the configured embedding dimension.
func (x *OpenAI) Dimension() int {
	return x.dimension
}
