package agent

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/atlas/pkg/adapter"
	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/tool"
	"github.com/m-mizutani/atlas/pkg/utils/logging"
)

const (
	// maxModelCalls bounds one Run; tool loops cannot run away.
	maxModelCalls = 8

	// contextHits is how many memory hits each context section carries.
	contextHits = 5

	// contextSnippetLen caps each context snippet.
	contextSnippetLen = 400

	// defaultHistoryRuns is how many past exchanges stay in context.
	defaultHistoryRuns = 5

	defaultInstructions = "You are a helpful assistant with access to a curated knowledge base and your own accumulated learnings. Ground your answers in the provided context and tools, and say so when you do not know."
)

// Searcher retrieves memory hits for context assembly.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]model.MemoryHit, error)
}

// Agent runs bounded tool-calling sessions against a chat model,
// grounding each question in knowledge and learning retrieval.
type Agent struct {
	chatModel adapter.ChatModel
	registry  *tool.Registry
	knowledge Searcher
	learnings Searcher

	instructions    string
	includeDatetime bool
	includeHistory  bool
	historyRuns     int
	output          io.Writer

	// history holds the final user/assistant pair of past runs
	history []model.Turn
}

type Option func(*Agent)

// WithInstructions overrides the base system instructions.
func WithInstructions(s string) Option {
	return func(x *Agent) {
		x.instructions = s
	}
}

// WithDatetime toggles the current-datetime context line.
func WithDatetime(enabled bool) Option {
	return func(x *Agent) {
		x.includeDatetime = enabled
	}
}

// WithHistory toggles carrying past exchanges into later runs.
func WithHistory(enabled bool) Option {
	return func(x *Agent) {
		x.includeHistory = enabled
	}
}

// WithHistoryRuns sets how many past exchanges stay in context.
func WithHistoryRuns(n int) Option {
	return func(x *Agent) {
		if n > 0 {
			x.historyRuns = n
		}
	}
}

// WithOutput enables token streaming to w during generation.
func WithOutput(w io.Writer) Option {
	return func(x *Agent) {
		x.output = w
	}
}

// New creates an agent. knowledge and learnings may be nil, dropping the
// corresponding context sections.
func New(chatModel adapter.ChatModel, registry *tool.Registry, knowledge, learnings Searcher, opts ...Option) *Agent {
	x := &Agent{
		chatModel:       chatModel,
		registry:        registry,
		knowledge:       knowledge,
		learnings:       learnings,
		instructions:    defaultInstructions,
		includeDatetime: true,
		includeHistory:  true,
		historyRuns:     defaultHistoryRuns,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Run answers one message. It assembles the context, then loops model
// calls and tool dispatches until the model answers without tool calls
// or the call cap is reached; on cap the last model content (possibly
// empty) is the answer.
func (x *Agent) Run(ctx context.Context, message string) (string, error) {
	logger := logging.From(ctx)

	system, err := x.buildSystemPrompt(ctx, message)
	if err != nil {
		return "", err
	}

	turns := []model.Turn{{Role: model.RoleSystem, Content: system}}
	if x.includeHistory {
		turns = append(turns, x.history...)
	}
	turns = append(turns, model.Turn{Role: model.RoleUser, Content: message})

	specs := x.registry.Specs()
	var lastContent string

	for i := 0; i < maxModelCalls; i++ {
		resp, err := x.generate(ctx, &model.ChatRequest{Turns: turns, Tools: specs})
		if err != nil {
			return "", goerr.Wrap(err, "model call failed", goerr.V("round", i+1))
		}
		lastContent = resp.Content

		if len(resp.ToolCalls) == 0 {
			x.remember(message, resp.Content)
			return resp.Content, nil
		}

		turns = append(turns, model.Turn{
			Role:      model.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			logger.Debug("dispatching tool", "tool", call.Name, "call_id", call.ID)
			result := x.registry.Dispatch(ctx, call)
			turns = append(turns, model.Turn{
				Role:       model.RoleTool,
				Content:    result.Output(),
				ToolCallID: call.ID,
			})
		}
	}

	logger.Warn("model call cap reached", "cap", maxModelCalls)
	x.remember(message, lastContent)
	return lastContent, nil
}

// buildSystemPrompt assembles the context sections in fixed order:
// instructions, datetime, knowledge, learnings, tool prompts. Empty
// sections are omitted; sections are joined by blank lines.
func (x *Agent) buildSystemPrompt(ctx context.Context, message string) (string, error) {
	var sections []string

	if x.instructions != "" {
		sections = append(sections, x.instructions)
	}
	if x.includeDatetime {
		sections = append(sections,
			fmt.Sprintf("Current datetime: %s UTC", time.Now().UTC().Format("2006-01-02 15:04")))
	}

	if x.knowledge != nil {
		section, err := x.buildContextSection(ctx, x.knowledge, "Knowledge", message)
		if err != nil {
			return "", goerr.Wrap(err, "failed to search knowledge")
		}
		if section != "" {
			sections = append(sections, section)
		}
	}
	if x.learnings != nil {
		section, err := x.buildContextSection(ctx, x.learnings, "Learnings", message)
		if err != nil {
			return "", goerr.Wrap(err, "failed to search learnings")
		}
		if section != "" {
			sections = append(sections, section)
		}
	}

	if prompts := x.registry.Prompts(ctx); prompts != "" {
		sections = append(sections, prompts)
	}

	return strings.Join(sections, "\n\n"), nil
}

func (x *Agent) buildContextSection(ctx context.Context, searcher Searcher, title, query string) (string, error) {
	hits, err := searcher.Search(ctx, query, contextHits)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}

	lines := []string{"## " + title}
	for _, h := range hits {
		lines = append(lines, fmt.Sprintf("- **%s**: %s", h.Name(), model.Snippet(h.Content, contextSnippetLen)))
	}

	return strings.Join(lines, "\n"), nil
}

// generate performs one model call, streaming tokens to the output
// writer when one is configured.
func (x *Agent) generate(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	if x.output == nil {
		return x.chatModel.Generate(ctx, req)
	}

	events, err := x.chatModel.GenerateStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp *model.ChatResponse
	for ev := range events {
		switch {
		case ev.Err != nil:
			return nil, ev.Err
		case ev.Response != nil:
			resp = ev.Response
		case ev.Token != "":
			fmt.Fprint(x.output, ev.Token)
		}
	}
	if resp == nil {
		return nil, goerr.New("stream ended without a final response")
	}

	return resp, nil
}

// remember keeps only the final user/assistant pair of the run;
// intermediate tool traffic never enters history. Oldest exchanges are
// dropped beyond the run window.
func (x *Agent) remember(message, answer string) {
	if !x.includeHistory {
		return
	}

	x.history = append(x.history,
		model.Turn{Role: model.RoleUser, Content: message},
		model.Turn{Role: model.RoleAssistant, Content: answer},
	)

	if max := x.historyRuns * 2; len(x.history) > max {
		x.history = x.history[len(x.history)-max:]
	}
}
