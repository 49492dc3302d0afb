package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/tool"
)

const (
	defaultBaseURL    = "https://api.exa.ai/search"
	defaultNumResults = 5
	maxSnippetLen     = 500
)

type webSearchInput struct {
	Query      string `json:"query"`
	NumResults int    `json:"num_results"`
}

type exaRequest struct {
	Query         string `json:"query"`
	NumResults    int    `json:"num_results"`
	UseAutoprompt bool   `json:"use_autoprompt"`
	Type          string `json:"type"`
}

type exaResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Text          string `json:"text"`
	PublishedDate string `json:"publishedDate"`
}

type exaResponse struct {
	Results []exaResult `json:"results"`
}

// Search is a web search tool backed by the Exa search API.
type Search struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a new web search tool
func New() *Search {
	return &Search{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Flags returns CLI flags for this tool
func (x *Search) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "exa-api-key",
			Sources:     cli.EnvVars("EXA_API_KEY"),
			Usage:       "Exa API key for web search",
			Destination: &x.apiKey,
		},
	}
}

// Init initializes the tool. Only enabled if the API key is provided.
func (x *Search) Init(ctx context.Context, client *tool.Client) (bool, error) {
	return x.apiKey != "", nil
}

// Prompt returns additional information to be added to the system prompt
func (x *Search) Prompt(ctx context.Context) string {
	return `You can search the web with the web_search tool when the knowledge base does not cover a question. Cite the source URL when you use a result.`
}

// Spec returns the function specifications of this tool
func (x *Search) Spec() []model.ToolSpec {
	return []model.ToolSpec{
		{
			Name:        "web_search",
			Description: "Search the web and return the top results with title, URL and a text snippet",
			Parameters: model.Parameters{
				Properties: map[string]*model.Property{
					"query": {
						Type:        model.TypeString,
						Description: "The search query",
					},
					"num_results": {
						Type:        model.TypeInteger,
						Description: "Number of results to return (default 5)",
					},
				},
				Required: []string{"query"},
			},
		},
	}
}

// Execute runs the web search. API-side failures are reported as result
// text so the model can continue the session without this tool.
func (x *Search) Execute(ctx context.Context, call model.ToolCall) (string, error) {
	var input webSearchInput
	if err := tool.UnmarshalArgs(call, &input); err != nil {
		return "", err
	}

	if strings.TrimSpace(input.Query) == "" {
		return "Error: query is required.", nil
	}
	if input.NumResults <= 0 {
		input.NumResults = defaultNumResults
	}

	results, err := x.search(ctx, input.Query, input.NumResults)
	if err != nil {
		return fmt.Sprintf("Error searching the web: %v", err), nil
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	var lines []string
	for _, r := range results {
		title := r.Title
		if title == "" {
			title = r.URL
		}
		snippet := strings.Join(strings.Fields(r.Text), " ")
		if len(snippet) > maxSnippetLen {
			snippet = snippet[:maxSnippetLen] + "..."
		}
		line := fmt.Sprintf("- **%s** (%s)", title, r.URL)
		if snippet != "" {
			line += "\n  " + snippet
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n"), nil
}

func (x *Search) search(ctx context.Context, query string, numResults int) ([]exaResult, error) {
	payload, err := json.Marshal(exaRequest{
		Query:         query,
		NumResults:    numResults,
		UseAutoprompt: true,
		Type:          "neural",
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", x.apiKey)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, goerr.New("search API returned error",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(body)))
	}

	var result exaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, goerr.Wrap(err, "failed to decode response")
	}

	return result.Results, nil
}
