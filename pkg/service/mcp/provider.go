package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/tool"
)

// Provider exposes the tools of connected MCP servers through the
// tool.Tool contract.
type Provider struct {
	client *Client
	tools  []*mcpTool
}

type mcpTool struct {
	serverName string
	mcpTool    *mcp.Tool
	spec       model.ToolSpec
}

// NewProvider creates a new MCP tool provider
func NewProvider(client *Client) *Provider {
	return &Provider{
		client: client,
		tools:  make([]*mcpTool, 0),
	}
}

// Flags returns CLI flags for MCP provider
func (p *Provider) Flags() []cli.Flag {
	return nil // MCP config is loaded separately
}

// Init registers the tools of every connected server.
func (p *Provider) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if p.client == nil {
		return false, nil // MCP client not configured
	}

	serverNames := p.client.GetAllServers()
	if len(serverNames) == 0 {
		return false, nil
	}

	for _, serverName := range serverNames {
		tools, err := p.client.GetTools(serverName)
		if err != nil {
			return false, goerr.Wrap(err, "failed to get tools from server",
				goerr.V("server", serverName))
		}

		for _, t := range tools {
			spec, err := p.convertToSpec(t)
			if err != nil {
				return false, goerr.Wrap(err, "failed to convert tool",
					goerr.V("server", serverName),
					goerr.V("tool", t.Name))
			}

			p.tools = append(p.tools, &mcpTool{
				serverName: serverName,
				mcpTool:    t,
				spec:       spec,
			})
		}
	}

	return len(p.tools) > 0, nil
}

// convertToSpec converts an MCP tool declaration to our spec form. The
// input schema is round-tripped through JSON so SDK schema type changes
// stay contained here.
func (p *Provider) convertToSpec(t *mcp.Tool) (model.ToolSpec, error) {
	spec := model.ToolSpec{
		Name:        t.Name,
		Description: t.Description,
	}

	if t.InputSchema != nil {
		schemaJSON, err := json.Marshal(t.InputSchema)
		if err != nil {
			return spec, goerr.Wrap(err, "failed to marshal input schema")
		}

		var jsSchema jsonschema.Schema
		if err := json.Unmarshal(schemaJSON, &jsSchema); err != nil {
			return spec, goerr.Wrap(err, "failed to unmarshal input schema")
		}

		params, err := convertParameters(&jsSchema)
		if err != nil {
			return spec, goerr.Wrap(err, "failed to convert input schema")
		}
		spec.Parameters = params
	}

	return spec, nil
}

// Spec returns the specifications of all registered MCP tools.
func (p *Provider) Spec() []model.ToolSpec {
	specs := make([]model.ToolSpec, len(p.tools))
	for i, t := range p.tools {
		specs[i] = t.spec
	}
	return specs
}

// Prompt returns additional prompt information
func (p *Provider) Prompt(ctx context.Context) string {
	if len(p.tools) == 0 {
		return ""
	}

	return "You have access to MCP (Model Context Protocol) tools that provide additional capabilities like file system access, database queries, and web searches."
}

// Execute executes an MCP tool and flattens its content to text.
func (p *Provider) Execute(ctx context.Context, call model.ToolCall) (string, error) {
	var targetTool *mcpTool
	for _, t := range p.tools {
		if t.spec.Name == call.Name {
			targetTool = t
			break
		}
	}
	if targetTool == nil {
		return "", goerr.New("tool not found", goerr.V("name", call.Name))
	}

	var arguments map[string]any
	if err := tool.UnmarshalArgs(call, &arguments); err != nil {
		return "", err
	}

	result, err := p.client.CallTool(ctx, targetTool.serverName, targetTool.mcpTool.Name, arguments)
	if err != nil {
		return "", goerr.Wrap(err, "failed to call MCP tool")
	}

	var texts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n"), nil
	}

	// Non-text content: hand the model the raw structure
	resultJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal result")
	}

	return string(resultJSON), nil
}
