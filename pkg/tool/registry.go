package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/utils/logging"
)

var (
	ErrToolNotFound     = goerr.New("tool not found")
	ErrInvalidArguments = goerr.New("tool arguments must be a JSON object")
)

// Result is the outcome of one dispatched tool call. Err is kept for
// logging; Output renders it as a result string for the model.
type Result struct {
	CallID  string
	Name    string
	Content string
	Err     error
}

// Output returns the text to feed back to the model. Failures are
// reported as result text so the model can recover within the session.
func (x *Result) Output() string {
	switch {
	case x.Err == nil:
		return x.Content
	case errors.Is(x.Err, ErrToolNotFound):
		return fmt.Sprintf("Error: tool '%s' not found.", x.Name)
	case errors.Is(x.Err, ErrInvalidArguments):
		return "Error: tool arguments must be a JSON object."
	default:
		return fmt.Sprintf("Error running %s: %v", x.Name, x.Err)
	}
}

// Registry manages available tools for the model. Only tools whose Init
// reported enabled are registered.
type Registry struct {
	tools    map[string]Tool
	enabled  []Tool
	allTools []Tool
}

// New initializes the given tools with the shared client and registers
// the enabled ones under their function names.
func New(ctx context.Context, client *Client, tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:    make(map[string]Tool),
		allTools: tools,
	}

	for _, t := range tools {
		enabled, err := t.Init(ctx, client)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize tool")
		}
		if !enabled {
			continue
		}

		r.enabled = append(r.enabled, t)
		for _, spec := range t.Spec() {
			if _, ok := r.tools[spec.Name]; ok {
				return nil, goerr.New("duplicated tool name", goerr.V("name", spec.Name))
			}
			r.tools[spec.Name] = t
		}
	}

	return r, nil
}

// Specs returns the function specifications of all enabled tools.
func (r *Registry) Specs() []model.ToolSpec {
	var specs []model.ToolSpec
	for _, t := range r.enabled {
		specs = append(specs, t.Spec()...)
	}
	return specs
}

// Prompts returns all enabled tool prompts concatenated
func (r *Registry) Prompts(ctx context.Context) string {
	var prompts []string
	for _, t := range r.enabled {
		if prompt := t.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// Flags returns all tool flags combined, including disabled tools so
// that their configuration is always accepted on the command line.
func (r *Registry) Flags() []cli.Flag {
	var flags []cli.Flag
	for _, t := range r.allTools {
		if toolFlags := t.Flags(); toolFlags != nil {
			flags = append(flags, toolFlags...)
		}
	}
	return flags
}

// Flags collects the CLI flags of the given tools before a registry
// exists, for command definitions.
func Flags(tools ...Tool) []cli.Flag {
	var flags []cli.Flag
	for _, t := range tools {
		if toolFlags := t.Flags(); toolFlags != nil {
			flags = append(flags, toolFlags...)
		}
	}
	return flags
}

// Dispatch runs one tool call. It never returns an error: unknown
// tools, malformed arguments and execution failures all become result
// text via Result.Output.
func (r *Registry) Dispatch(ctx context.Context, call model.ToolCall) *Result {
	result := &Result{CallID: call.ID, Name: call.Name}

	t, ok := r.tools[call.Name]
	if !ok {
		result.Err = goerr.Wrap(ErrToolNotFound, "unknown tool", goerr.V("name", call.Name))
		return result
	}

	if !isJSONObject(call.Arguments) {
		result.Err = goerr.Wrap(ErrInvalidArguments, "malformed arguments",
			goerr.V("name", call.Name), goerr.V("arguments", call.Arguments))
		return result
	}

	content, err := t.Execute(ctx, call)
	if err != nil {
		logging.From(ctx).Warn("tool execution failed", "tool", call.Name, "error", err)
		result.Err = err
		return result
	}

	result.Content = content
	return result
}

func isJSONObject(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return true
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return false
	}
	_, ok := v.(map[string]any)
	return ok
}
