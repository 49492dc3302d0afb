package tool_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/tool"
)

type stubTool struct {
	name    string
	enabled bool
	execute func(ctx context.Context, call model.ToolCall) (string, error)
}

func (x *stubTool) Spec() []model.ToolSpec {
	return []model.ToolSpec{{Name: x.name, Description: "stub"}}
}

func (x *stubTool) Execute(ctx context.Context, call model.ToolCall) (string, error) {
	return x.execute(ctx, call)
}

func (x *stubTool) Prompt(_ context.Context) string { return "" }

func (x *stubTool) Flags() []cli.Flag { return nil }

func (x *stubTool) Init(_ context.Context, _ *tool.Client) (bool, error) {
	return x.enabled, nil
}

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()

	echo := &stubTool{
		name:    "echo",
		enabled: true,
		execute: func(_ context.Context, call model.ToolCall) (string, error) {
			return "echo:" + call.Arguments, nil
		},
	}

	registry, err := tool.New(ctx, &tool.Client{}, echo)
	gt.NoError(t, err)
	gt.A(t, registry.Specs()).Length(1)

	result := registry.Dispatch(ctx, model.ToolCall{ID: "c1", Name: "echo", Arguments: `{"x":1}`})
	gt.Nil(t, result.Err)
	gt.Equal(t, result.Output(), `echo:{"x":1}`)
	gt.Equal(t, result.CallID, "c1")
}

func TestRegistryDispatchUnknownTool(t *testing.T) {
	ctx := context.Background()
	registry, err := tool.New(ctx, &tool.Client{})
	gt.NoError(t, err)

	result := registry.Dispatch(ctx, model.ToolCall{ID: "c1", Name: "missing", Arguments: "{}"})
	gt.NotNil(t, result.Err)
	gt.Equal(t, result.Output(), "Error: tool 'missing' not found.")
}

func TestRegistryDispatchInvalidArguments(t *testing.T) {
	ctx := context.Background()

	echo := &stubTool{
		name:    "echo",
		enabled: true,
		execute: func(_ context.Context, _ model.ToolCall) (string, error) {
			return "never", nil
		},
	}

	registry, err := tool.New(ctx, &tool.Client{}, echo)
	gt.NoError(t, err)

	for _, raw := range []string{"not json", `[1,2]`, `"text"`, "null"} {
		result := registry.Dispatch(ctx, model.ToolCall{Name: "echo", Arguments: raw})
		gt.Equal(t, result.Output(), "Error: tool arguments must be a JSON object.")
	}
}

func TestRegistryDispatchExecutionError(t *testing.T) {
	ctx := context.Background()

	broken := &stubTool{
		name:    "broken",
		enabled: true,
		execute: func(_ context.Context, _ model.ToolCall) (string, error) {
			return "", goerr.New("boom")
		},
	}

	registry, err := tool.New(ctx, &tool.Client{}, broken)
	gt.NoError(t, err)

	result := registry.Dispatch(ctx, model.ToolCall{Name: "broken", Arguments: "{}"})
	gt.NotNil(t, result.Err)
	gt.Equal(t, result.Output(), "Error running broken: boom")
}

func TestRegistrySkipsDisabledTools(t *testing.T) {
	ctx := context.Background()

	disabled := &stubTool{name: "off", enabled: false}
	registry, err := tool.New(ctx, &tool.Client{}, disabled)
	gt.NoError(t, err)

	gt.A(t, registry.Specs()).Length(0)
	result := registry.Dispatch(ctx, model.ToolCall{Name: "off", Arguments: "{}"})
	gt.Equal(t, result.Output(), "Error: tool 'off' not found.")
}
