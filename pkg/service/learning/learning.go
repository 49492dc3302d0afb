package learning

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/repository"
	"github.com/m-mizutani/atlas/pkg/tool"
)

const (
	defaultSearchLimit = 5
	snippetLen         = 300
)

type searchLearningsInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type saveLearningInput struct {
	Title    string `json:"title"`
	Learning string `json:"learning"`
}

// Service is the learning feedback loop: insights discovered during
// sessions are written back to their own store and retrieved in later
// sessions. It is exposed to the model as a tool.
type Service struct {
	store repository.Store
}

// New creates a learning service over the store.
func New(store repository.Store) *Service {
	return &Service{store: store}
}

// Search is the read-through used by context assembly.
func (x *Service) Search(ctx context.Context, query string, limit int) ([]model.MemoryHit, error) {
	return x.store.Search(ctx, query, limit, true)
}

// Flags returns CLI flags for this tool
func (x *Service) Flags() []cli.Flag {
	return nil
}

// Init initializes the tool. Always enabled; the store is mandatory.
func (x *Service) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if x.store == nil {
		return false, goerr.New("learning store is not configured")
	}
	return true, nil
}

// Prompt returns additional information to be added to the system prompt
func (x *Service) Prompt(ctx context.Context) string {
	return `When you discover something non-obvious and reusable during a session (a working query pattern, a data quirk, a user preference), record it with save_learning. Search prior insights with search_learnings before re-deriving them.`
}

// Spec returns the function specifications of this tool
func (x *Service) Spec() []model.ToolSpec {
	return []model.ToolSpec{
		{
			Name:        "search_learnings",
			Description: "Search previously saved learnings for insights relevant to the current task",
			Parameters: model.Parameters{
				Properties: map[string]*model.Property{
					"query": {
						Type:        model.TypeString,
						Description: "What to look for",
					},
					"limit": {
						Type:        model.TypeInteger,
						Description: "Maximum number of learnings to return (default 5)",
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "save_learning",
			Description: "Save a new insight so it is available in future sessions",
			Parameters: model.Parameters{
				Properties: map[string]*model.Property{
					"title": {
						Type:        model.TypeString,
						Description: "Short title of the insight",
					},
					"learning": {
						Type:        model.TypeString,
						Description: "The insight itself, self-contained",
					},
				},
				Required: []string{"title", "learning"},
			},
		},
	}
}

// Execute runs one function call of this tool
func (x *Service) Execute(ctx context.Context, call model.ToolCall) (string, error) {
	switch call.Name {
	case "search_learnings":
		var input searchLearningsInput
		if err := tool.UnmarshalArgs(call, &input); err != nil {
			return "", err
		}
		return x.searchLearnings(ctx, input)

	case "save_learning":
		var input saveLearningInput
		if err := tool.UnmarshalArgs(call, &input); err != nil {
			return "", err
		}
		return x.saveLearning(ctx, input)

	default:
		return "", goerr.New("unknown function", goerr.V("name", call.Name))
	}
}

func (x *Service) searchLearnings(ctx context.Context, input searchLearningsInput) (string, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	hits, err := x.Search(ctx, input.Query, limit)
	if err != nil {
		return "", goerr.Wrap(err, "failed to search learnings")
	}
	if len(hits) == 0 {
		return "No results found.", nil
	}

	lines := []string{"## Learnings"}
	for _, hit := range hits {
		lines = append(lines, fmt.Sprintf("- **%s**: %s", hit.Name(), model.Snippet(hit.Content, snippetLen)))
	}

	return strings.Join(lines, "\n"), nil
}

// saveLearning writes unconditionally: repeated insights raise their
// retrieval rank rather than being deduplicated.
func (x *Service) saveLearning(ctx context.Context, input saveLearningInput) (string, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return "Error: title is required.", nil
	}
	if strings.TrimSpace(input.Learning) == "" {
		return "Error: learning is required.", nil
	}

	if _, err := x.store.Insert(ctx, input.Learning, map[string]any{
		"type":  "learning",
		"title": title,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to save learning")
	}

	return fmt.Sprintf("Saved learning: %s", title), nil
}
