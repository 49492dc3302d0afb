package agent_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/tool"
	"github.com/m-mizutani/atlas/pkg/usecase/agent"
)

// scriptedModel replays canned responses and records every request.
type scriptedModel struct {
	responses []*model.ChatResponse
	requests  []*model.ChatRequest
	calls     int
}

func (x *scriptedModel) next() *model.ChatResponse {
	i := x.calls
	x.calls++
	if i >= len(x.responses) {
		return x.responses[len(x.responses)-1]
	}
	return x.responses[i]
}

func (x *scriptedModel) record(req *model.ChatRequest) {
	turns := make([]model.Turn, len(req.Turns))
	copy(turns, req.Turns)
	x.requests = append(x.requests, &model.ChatRequest{Turns: turns, Tools: req.Tools})
}

func (x *scriptedModel) Generate(_ context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	x.record(req)
	return x.next(), nil
}

func (x *scriptedModel) GenerateStream(_ context.Context, req *model.ChatRequest) (<-chan model.StreamEvent, error) {
	x.record(req)
	resp := x.next()

	events := make(chan model.StreamEvent)
	go func() {
		defer close(events)
		for _, word := range strings.SplitAfter(resp.Content, " ") {
			events <- model.StreamEvent{Token: word}
		}
		events <- model.StreamEvent{Response: resp}
	}()

	return events, nil
}

// fixedSearcher returns the same hits for every query.
type fixedSearcher struct {
	hits []model.MemoryHit
}

func (x *fixedSearcher) Search(_ context.Context, _ string, _ int) ([]model.MemoryHit, error) {
	return x.hits, nil
}

type echoTool struct{}

func (x *echoTool) Spec() []model.ToolSpec {
	return []model.ToolSpec{{Name: "echo", Description: "echo arguments"}}
}

func (x *echoTool) Execute(_ context.Context, call model.ToolCall) (string, error) {
	return "echo:" + call.Arguments, nil
}

func (x *echoTool) Prompt(_ context.Context) string {
	return "Use echo to repeat things."
}

func (x *echoTool) Flags() []cli.Flag { return nil }

func (x *echoTool) Init(_ context.Context, _ *tool.Client) (bool, error) {
	return true, nil
}

func newRegistry(t *testing.T) *tool.Registry {
	registry, err := tool.New(context.Background(), &tool.Client{}, &echoTool{})
	gt.NoError(t, err)
	return registry
}

func memHit(id int64, name, content string) model.MemoryHit {
	return model.MemoryHit{
		MemoryItem: model.MemoryItem{ID: id, Content: content, Metadata: map[string]any{"name": name}},
		Score:      1,
	}
}

func TestRunContextOrdering(t *testing.T) {
	ctx := context.Background()

	chat := &scriptedModel{responses: []*model.ChatResponse{{Content: "final answer"}}}
	knowledge := &fixedSearcher{hits: []model.MemoryHit{memHit(1, "pg-notes", "tune your\nindexes")}}
	learnings := &fixedSearcher{hits: []model.MemoryHit{memHit(2, "probes", "raise probes")}}

	a := agent.New(chat, newRegistry(t), knowledge, learnings,
		agent.WithInstructions("Answer briefly."))

	answer, err := a.Run(ctx, "how do I tune pgvector?")
	gt.NoError(t, err)
	gt.Equal(t, answer, "final answer")

	gt.A(t, chat.requests).Length(1)
	turns := chat.requests[0].Turns
	gt.Equal(t, turns[0].Role, model.RoleSystem)
	gt.Equal(t, turns[len(turns)-1].Role, model.RoleUser)
	gt.Equal(t, turns[len(turns)-1].Content, "how do I tune pgvector?")

	system := turns[0].Content
	idxInstr := strings.Index(system, "Answer briefly.")
	idxTime := strings.Index(system, "Current datetime: ")
	idxKnow := strings.Index(system, "## Knowledge")
	idxLearn := strings.Index(system, "## Learnings")
	idxTools := strings.Index(system, "Use echo to repeat things.")

	gt.True(t, idxInstr >= 0)
	gt.True(t, idxInstr < idxTime)
	gt.True(t, idxTime < idxKnow)
	gt.True(t, idxKnow < idxLearn)
	gt.True(t, idxLearn < idxTools)

	// Snippets are newline-collapsed
	gt.True(t, strings.Contains(system, "- **pg-notes**: tune your indexes"))
	gt.True(t, strings.Contains(system, "- **probes**: raise probes"))
}

func TestRunOmitsEmptySections(t *testing.T) {
	ctx := context.Background()
	chat := &scriptedModel{responses: []*model.ChatResponse{{Content: "ok"}}}

	a := agent.New(chat, newRegistry(t), &fixedSearcher{}, nil,
		agent.WithDatetime(false))

	_, err := a.Run(ctx, "hello")
	gt.NoError(t, err)

	system := chat.requests[0].Turns[0].Content
	gt.False(t, strings.Contains(system, "Current datetime:"))
	gt.False(t, strings.Contains(system, "## Knowledge"))
	gt.False(t, strings.Contains(system, "## Learnings"))
}

func TestRunToolRound(t *testing.T) {
	ctx := context.Background()

	chat := &scriptedModel{responses: []*model.ChatResponse{
		{
			Content: "let me check",
			ToolCalls: []model.ToolCall{
				{ID: "c1", Name: "echo", Arguments: `{"a":1}`},
				{ID: "c2", Name: "nope", Arguments: `{}`},
			},
		},
		{Content: "done"},
	}}

	a := agent.New(chat, newRegistry(t), nil, nil)

	answer, err := a.Run(ctx, "question")
	gt.NoError(t, err)
	gt.Equal(t, answer, "done")
	gt.Equal(t, chat.calls, 2)

	turns := chat.requests[1].Turns

	// assistant turn carrying the calls, then one tool turn per call in order
	asst := turns[len(turns)-3]
	gt.Equal(t, asst.Role, model.RoleAssistant)
	gt.Equal(t, asst.Content, "let me check")
	gt.A(t, asst.ToolCalls).Length(2)

	first := turns[len(turns)-2]
	gt.Equal(t, first.Role, model.RoleTool)
	gt.Equal(t, first.ToolCallID, "c1")
	gt.Equal(t, first.Content, `echo:{"a":1}`)

	second := turns[len(turns)-1]
	gt.Equal(t, second.Role, model.RoleTool)
	gt.Equal(t, second.ToolCallID, "c2")
	gt.Equal(t, second.Content, "Error: tool 'nope' not found.")
}

func TestRunStopsAtCallCap(t *testing.T) {
	ctx := context.Background()

	chat := &scriptedModel{responses: []*model.ChatResponse{{
		Content:   "still working",
		ToolCalls: []model.ToolCall{{ID: "c", Name: "echo", Arguments: "{}"}},
	}}}

	a := agent.New(chat, newRegistry(t), nil, nil)

	answer, err := a.Run(ctx, "never-ending")
	gt.NoError(t, err)
	gt.Equal(t, chat.calls, 8)
	gt.Equal(t, answer, "still working")
}

func TestRunHistoryRetention(t *testing.T) {
	ctx := context.Background()

	chat := &scriptedModel{responses: []*model.ChatResponse{
		{
			Content:   "checking",
			ToolCalls: []model.ToolCall{{ID: "c1", Name: "echo", Arguments: "{}"}},
		},
		{Content: "first answer"},
		{Content: "second answer"},
	}}

	a := agent.New(chat, newRegistry(t), nil, nil)

	_, err := a.Run(ctx, "first question")
	gt.NoError(t, err)
	_, err = a.Run(ctx, "second question")
	gt.NoError(t, err)

	// Third request starts the second run: system, history pair, user
	turns := chat.requests[2].Turns
	gt.A(t, turns).Length(4)
	gt.Equal(t, turns[1].Role, model.RoleUser)
	gt.Equal(t, turns[1].Content, "first question")
	gt.Equal(t, turns[2].Role, model.RoleAssistant)
	gt.Equal(t, turns[2].Content, "first answer")
	gt.Equal(t, turns[3].Content, "second question")

	// Tool traffic from the first run never enters history
	for _, turn := range turns {
		gt.NotEqual(t, turn.Role, model.RoleTool)
	}
}

func TestRunHistoryWindow(t *testing.T) {
	ctx := context.Background()

	chat := &scriptedModel{responses: []*model.ChatResponse{{Content: "answer"}}}
	a := agent.New(chat, newRegistry(t), nil, nil, agent.WithHistoryRuns(2))

	for _, q := range []string{"q1", "q2", "q3"} {
		_, err := a.Run(ctx, q)
		gt.NoError(t, err)
	}

	// Fourth run carries only the last two exchanges
	_, err := a.Run(ctx, "q4")
	gt.NoError(t, err)

	turns := chat.requests[3].Turns
	gt.A(t, turns).Length(6) // system + 2 pairs + user
	gt.Equal(t, turns[1].Content, "q2")
	gt.Equal(t, turns[3].Content, "q3")
}

func TestRunStreaming(t *testing.T) {
	ctx := context.Background()

	chat := &scriptedModel{responses: []*model.ChatResponse{{Content: "streamed words here"}}}
	var out bytes.Buffer

	a := agent.New(chat, newRegistry(t), nil, nil, agent.WithOutput(&out))

	answer, err := a.Run(ctx, "stream it")
	gt.NoError(t, err)
	gt.Equal(t, answer, "streamed words here")
	gt.Equal(t, out.String(), "streamed words here")
}
