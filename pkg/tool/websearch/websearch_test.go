package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/atlas/pkg/model"
)

func TestWebSearchExecute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.Method, http.MethodPost)
		gt.Equal(t, r.Header.Get("x-api-key"), "test-key")

		var req exaRequest
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gt.Equal(t, req.Query, "pgvector tuning")
		gt.Equal(t, req.NumResults, 2)
		gt.True(t, req.UseAutoprompt)
		gt.Equal(t, req.Type, "neural")

		gt.NoError(t, json.NewEncoder(w).Encode(exaResponse{
			Results: []exaResult{
				{Title: "Tuning pgvector", URL: "https://example.com/a", Text: "lists\nand probes"},
				{URL: "https://example.com/b"},
			},
		}))
	}))
	defer server.Close()

	x := New()
	x.apiKey = "test-key"
	x.baseURL = server.URL

	out, err := x.Execute(context.Background(), model.ToolCall{
		Name:      "web_search",
		Arguments: `{"query": "pgvector tuning", "num_results": 2}`,
	})
	gt.NoError(t, err)
	gt.True(t, strings.Contains(out, "**Tuning pgvector** (https://example.com/a)"))
	gt.True(t, strings.Contains(out, "lists and probes"))
	gt.True(t, strings.Contains(out, "https://example.com/b"))
}

func TestWebSearchEmptyQuery(t *testing.T) {
	x := New()
	x.apiKey = "test-key"

	out, err := x.Execute(context.Background(), model.ToolCall{
		Name:      "web_search",
		Arguments: `{"query": "  "}`,
	})
	gt.NoError(t, err)
	gt.Equal(t, out, "Error: query is required.")
}

func TestWebSearchNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		gt.NoError(t, json.NewEncoder(w).Encode(exaResponse{}))
	}))
	defer server.Close()

	x := New()
	x.apiKey = "test-key"
	x.baseURL = server.URL

	out, err := x.Execute(context.Background(), model.ToolCall{
		Name:      "web_search",
		Arguments: `{"query": "anything"}`,
	})
	gt.NoError(t, err)
	gt.Equal(t, out, "No results found.")
}

func TestWebSearchAPIFailureIsSoft(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	x := New()
	x.apiKey = "test-key"
	x.baseURL = server.URL

	out, err := x.Execute(context.Background(), model.ToolCall{
		Name:      "web_search",
		Arguments: `{"query": "anything"}`,
	})
	gt.NoError(t, err)
	gt.True(t, strings.HasPrefix(out, "Error searching the web:"))
}

func TestWebSearchInitRequiresKey(t *testing.T) {
	x := New()
	enabled, err := x.Init(context.Background(), nil)
	gt.NoError(t, err)
	gt.False(t, enabled)

	x.apiKey = "set"
	enabled, err = x.Init(context.Background(), nil)
	gt.NoError(t, err)
	gt.True(t, enabled)
}
