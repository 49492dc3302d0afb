package tool

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/model"
)

// Tool represents an external capability the model can call.
type Tool interface {
	// Spec returns the function specifications this tool provides
	Spec() []model.ToolSpec

	// Execute runs one function call and returns the result text. An
	// error here is an execution failure; the registry turns it into a
	// result string for the model instead of aborting the session.
	Execute(ctx context.Context, call model.ToolCall) (string, error)

	// Prompt returns additional information to be added to the system prompt
	// Returns empty string if no additional prompt is needed
	Prompt(ctx context.Context) string

	// Flags returns CLI flags for this tool
	// Returns nil if no flags are needed
	Flags() []cli.Flag

	// Init prepares the tool with shared resources and reports whether
	// the tool is enabled. Tools missing their configuration return
	// false without error and are left out of the registry.
	Init(ctx context.Context, client *Client) (bool, error)
}
