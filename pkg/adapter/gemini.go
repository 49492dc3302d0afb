package adapter

import (
	"context"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/m-mizutani/atlas/pkg/model"
)

const (
	defaultGeminiChatModel      = "gemini-2.5-flash"
	defaultGeminiEmbeddingModel = "gemini-embedding-001"
)

// Gemini implements ChatModel and Embedder on Vertex AI.
type Gemini struct {
	client     *genai.Client
	chatModel  string
	embedModel string
	dimension  int
}

type GeminiOption func(*Gemini)

func WithGeminiChatModel(name string) GeminiOption {
	return func(g *Gemini) {
		g.chatModel = name
	}
}

func WithGeminiEmbeddingModel(name string) GeminiOption {
	return func(g *Gemini) {
		g.embedModel = name
	}
}

func WithGeminiEmbeddingDimension(dim int) GeminiOption {
	return func(g *Gemini) {
		g.dimension = dim
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &Gemini{
		client:     client,
		chatModel:  defaultGeminiChatModel,
		embedModel: defaultGeminiEmbeddingModel,
		dimension:  defaultEmbeddingDimension,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func toGeminiSchema(p *model.Property) *genai.Schema {
	if p == nil {
		return nil
	}

	schema := &genai.Schema{Description: p.Description}
	switch p.Type {
	case model.TypeString:
		schema.Type = genai.TypeString
	case model.TypeInteger:
		schema.Type = genai.TypeInteger
	case model.TypeNumber:
		schema.Type = genai.TypeNumber
	case model.TypeBoolean:
		schema.Type = genai.TypeBoolean
	case model.TypeArray:
		schema.Type = genai.TypeArray
		schema.Items = toGeminiSchema(p.Items)
	default:
		schema.Type = genai.TypeObject
	}
	if len(p.Enum) > 0 {
		schema.Enum = p.Enum
	}

	return schema
}

func (g *Gemini) buildConfig(req *model.ChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	var decls []*genai.FunctionDeclaration
	for _, spec := range req.Tools {
		params := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{},
			Required:   spec.Parameters.Required,
		}
		for name, prop := range spec.Parameters.Properties {
			params.Properties[name] = toGeminiSchema(prop)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  params,
		})
	}
	if len(decls) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return config
}

// buildContents converts conversation turns into genai contents. System
// turns are folded into the system instruction on the config. Tool
// result turns need the function name of the call they answer, which is
// recovered from the preceding assistant turns.
func (g *Gemini) buildContents(req *model.ChatRequest, config *genai.GenerateContentConfig) ([]*genai.Content, error) {
	names := map[string]string{}
	var contents []*genai.Content

	for _, turn := range req.Turns {
		switch turn.Role {
		case model.RoleSystem:
			if config.SystemInstruction == nil {
				config.SystemInstruction = &genai.Content{}
			}
			config.SystemInstruction.Parts = append(config.SystemInstruction.Parts,
				&genai.Part{Text: turn.Content})

		case model.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: turn.Content}},
			})

		case model.RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if turn.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: turn.Content})
			}
			for _, call := range turn.ToolCalls {
				names[call.ID] = call.Name
				args, err := decodeArguments(call.Arguments)
				if err != nil {
					return nil, err
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   call.ID,
						Name: call.Name,
						Args: args,
					},
				})
			}
			contents = append(contents, content)

		case model.RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       turn.ToolCallID,
						Name:     names[turn.ToolCallID],
						Response: map[string]any{"result": turn.Content},
					},
				}},
			})

		default:
			return nil, goerr.New("unknown turn role", goerr.V("role", turn.Role))
		}
	}

	return contents, nil
}

func decodeResponse(resp *genai.GenerateContentResponse) *model.ChatResponse {
	out := &model.ChatResponse{}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if fc := part.FunctionCall; fc != nil {
			id := fc.ID
			if id == "" {
				id = uuid.New().String()
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        id,
				Name:      fc.Name,
				Arguments: encodeArguments(fc.Args),
			})
		}
	}

	return out
}

// Generate performs one blocking model call.
func (g *Gemini) Generate(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	config := g.buildConfig(req)
	contents, err := g.buildContents(req, config)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.chatModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content")
	}

	return decodeResponse(resp), nil
}

// GenerateStream performs one streaming model call.
func (g *Gemini) GenerateStream(ctx context.Context, req *model.ChatRequest) (<-chan model.StreamEvent, error) {
	config := g.buildConfig(req)
	contents, err := g.buildContents(req, config)
	if err != nil {
		return nil, err
	}

	events := make(chan model.StreamEvent)
	go func() {
		defer close(events)

		send := func(ev model.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		resp := &model.ChatResponse{}
		for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.chatModel, contents, config) {
			if err != nil {
				send(model.StreamEvent{Err: goerr.Wrap(err, "failed to receive stream chunk")})
				return
			}

			decoded := decodeResponse(chunk)
			if decoded.Content != "" {
				resp.Content += decoded.Content
				if !send(model.StreamEvent{Token: decoded.Content}) {
					return
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, decoded.ToolCalls...)
		}

		send(model.StreamEvent{Response: resp})
	}()

	return events, nil
}

// Embed returns one embedding vector per input text.
func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.Text(text)...)
	}

	dim := int32(g.dimension)
	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content")
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, goerr.New("embedding count mismatch",
			goerr.V("want", len(texts)), goerr.V("got", len(resp.Embeddings)))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		vectors[i] = emb.Values
	}

	return vectors, nil
}

// Dimension returns the configured embedding dimension.
func (g *Gemini) Dimension() int {
	return g.dimension
}
