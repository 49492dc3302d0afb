package mcp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/service/mcp"
)

func TestStdioTransport(t *testing.T) {
	ctx := context.Background()

	client := mcp.NewClient()

	err := client.Connect(ctx, mcp.ServerConfig{
		Name:      "test-stdio",
		Transport: "stdio",
		Command:   []string{"go", "run", "./testdata/stdio/main.go"},
	})
	gt.NoError(t, err)
	defer client.Close()

	servers := client.GetAllServers()
	gt.A(t, servers).Length(1)
	gt.Equal(t, servers[0], "test-stdio")

	tools, err := client.GetTools("test-stdio")
	gt.NoError(t, err)
	gt.A(t, tools).Length(1)
	gt.Equal(t, tools[0].Name, "greet")

	result, err := client.CallTool(ctx, "test-stdio", "greet", map[string]any{
		"name": "Atlas",
	})
	gt.NoError(t, err)
	gt.V(t, result).NotNil()
	gt.A(t, result.Content).Length(1)

	textContent, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	gt.Equal(t, textContent.Text, "Hello, Atlas!")
}

func TestHTTPStreamableTransport(t *testing.T) {
	ctx := context.Background()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "test-http-server",
		Version: "1.0.0",
	}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "echo",
		Description: "Echo back the message",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, params *struct {
		Message string `json:"message" jsonschema:"Message to echo"`
	}) (*mcpsdk.CallToolResult, any, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{
				&mcpsdk.TextContent{Text: params.Message},
			},
		}, nil, nil
	})

	handler := mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		return server
	}, nil)

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	client := mcp.NewClient()
	err := client.Connect(ctx, mcp.ServerConfig{
		Name:      "test-http",
		Transport: "http",
		URL:       testServer.URL,
	})
	gt.NoError(t, err)
	defer client.Close()

	servers := client.GetAllServers()
	gt.A(t, servers).Length(1)
	gt.Equal(t, servers[0], "test-http")

	tools, err := client.GetTools("test-http")
	gt.NoError(t, err)
	gt.A(t, tools).Length(1)
	gt.Equal(t, tools[0].Name, "echo")

	result, err := client.CallTool(ctx, "test-http", "echo", map[string]any{
		"message": "Hello from HTTP!",
	})
	gt.NoError(t, err)
	gt.V(t, result).NotNil()
	gt.A(t, result.Content).Length(1)

	textContent, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	gt.Equal(t, textContent.Text, "Hello from HTTP!")
}

func TestProviderExposesTools(t *testing.T) {
	ctx := context.Background()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "provider-test-server",
		Version: "1.0.0",
	}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "shout",
		Description: "Upper-case a message",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, params *struct {
		Message string `json:"message" jsonschema:"Message to upper-case"`
	}) (*mcpsdk.CallToolResult, any, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{
				&mcpsdk.TextContent{Text: "SHOUTED: " + params.Message},
			},
		}, nil, nil
	})

	handler := mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		return server
	}, nil)
	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	client := mcp.NewClient()
	gt.NoError(t, client.Connect(ctx, mcp.ServerConfig{
		Name:      "provider-test",
		Transport: "http",
		URL:       testServer.URL,
	}))
	defer client.Close()

	provider := mcp.NewProvider(client)
	enabled, err := provider.Init(ctx, nil)
	gt.NoError(t, err)
	gt.True(t, enabled)

	specs := provider.Spec()
	gt.A(t, specs).Length(1)
	gt.Equal(t, specs[0].Name, "shout")
	gt.Map(t, specs[0].Parameters.Properties).HasKey("message")

	out, err := provider.Execute(ctx, model.ToolCall{
		Name:      "shout",
		Arguments: `{"message": "hello"}`,
	})
	gt.NoError(t, err)
	gt.Equal(t, out, "SHOUTED: hello")
}
