package cli

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/adapter"
	"github.com/m-mizutani/atlas/pkg/repository"
	"github.com/m-mizutani/atlas/pkg/service/knowledge"
	"github.com/m-mizutani/atlas/pkg/service/learning"
	"github.com/m-mizutani/atlas/pkg/service/mcp"
	"github.com/m-mizutani/atlas/pkg/tool"
	"github.com/m-mizutani/atlas/pkg/utils/logging"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	databaseURL    string
	knowledgeTable string
	learningsTable string

	// Services
	policyDir string
	mcpConfig string

	// Adapters
	llmBackend         string
	openaiAPIKey       string
	chatModel          string
	embeddingModel     string
	embeddingDimension int64
	geminiProject      string
	geminiLocation     string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("ATLAS_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("ATLAS_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "database-url",
			Aliases:     []string{"d"},
			Usage:       "PostgreSQL connection string (pgvector required)",
			Sources:     cli.EnvVars("ATLAS_DATABASE_URL"),
			Destination: &cfg.databaseURL,
		},
		&cli.StringFlag{
			Name:        "knowledge-table",
			Usage:       "Table name for the knowledge base",
			Value:       "atlas_knowledge",
			Sources:     cli.EnvVars("ATLAS_KNOWLEDGE_TABLE"),
			Destination: &cfg.knowledgeTable,
		},
		&cli.StringFlag{
			Name:        "learnings-table",
			Usage:       "Table name for accumulated learnings",
			Value:       "atlas_learnings",
			Sources:     cli.EnvVars("ATLAS_LEARNINGS_TABLE"),
			Destination: &cfg.learningsTable,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policies applied on knowledge ingest",
			Sources:     cli.EnvVars("ATLAS_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "Path to MCP server configuration (YAML)",
			Sources:     cli.EnvVars("ATLAS_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-backend",
			Usage:       "LLM backend (openai, gemini)",
			Value:       "openai",
			Sources:     cli.EnvVars("ATLAS_LLM_BACKEND"),
			Destination: &cfg.llmBackend,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "chat-model",
			Usage:       "Chat model name for the selected backend",
			Sources:     cli.EnvVars("ATLAS_CHAT_MODEL"),
			Destination: &cfg.chatModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name for the selected backend",
			Sources:     cli.EnvVars("ATLAS_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Embedding vector dimension",
			Sources:     cli.EnvVars("ATLAS_EMBEDDING_DIMENSION"),
			Destination: &cfg.embeddingDimension,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
	}
}

// setupLogger builds the logger from flags and attaches it to the context.
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, cfg.logFormat, nil)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newPool creates a connection pool for the knowledge database
func (cfg *config) newPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.databaseURL == "" {
		return nil, goerr.New("database-url is required")
	}

	pool, err := pgxpool.New(ctx, cfg.databaseURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create connection pool")
	}
	return pool, nil
}

// newLLM creates the chat model and embedder for the selected backend
func (cfg *config) newLLM(ctx context.Context) (adapter.ChatModel, adapter.Embedder, error) {
	switch strings.ToLower(cfg.llmBackend) {
	case "openai", "":
		var opts []adapter.OpenAIOption
		if cfg.chatModel != "" {
			opts = append(opts, adapter.WithChatModel(cfg.chatModel))
		}
		if cfg.embeddingModel != "" {
			opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
		}
		if cfg.embeddingDimension > 0 {
			opts = append(opts, adapter.WithEmbeddingDimension(int(cfg.embeddingDimension)))
		}
		client := adapter.NewOpenAI(cfg.openaiAPIKey, opts...)
		return client, client, nil

	case "gemini":
		if cfg.geminiProject == "" {
			return nil, nil, goerr.New("gemini-project is required")
		}
		var opts []adapter.GeminiOption
		if cfg.chatModel != "" {
			opts = append(opts, adapter.WithGeminiChatModel(cfg.chatModel))
		}
		if cfg.embeddingModel != "" {
			opts = append(opts, adapter.WithGeminiEmbeddingModel(cfg.embeddingModel))
		}
		if cfg.embeddingDimension > 0 {
			opts = append(opts, adapter.WithGeminiEmbeddingDimension(int(cfg.embeddingDimension)))
		}
		client, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create gemini client")
		}
		return client, client, nil

	default:
		return nil, nil, goerr.New("unknown llm backend", goerr.V("backend", cfg.llmBackend))
	}
}

// runtime bundles the wired dependencies of a command invocation.
type runtime struct {
	pool           *pgxpool.Pool
	chatModel      adapter.ChatModel
	embedder       adapter.Embedder
	knowledgeStore *repository.Postgres
	learningsStore *repository.Postgres
	knowledge      *knowledge.Service
	learnings      *learning.Service
	registry       *tool.Registry
}

// newRuntime wires the database, LLM backend, services and tool registry.
// extraTools are the tool instances whose flags the command registered.
func (cfg *config) newRuntime(ctx context.Context, extraTools []tool.Tool) (*runtime, error) {
	pool, err := cfg.newPool(ctx)
	if err != nil {
		return nil, err
	}

	chatModel, embedder, err := cfg.newLLM(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}

	knowledgeStore := repository.NewPostgres(pool, embedder, cfg.knowledgeTable)
	learningsStore := repository.NewPostgres(pool, embedder, cfg.learningsTable)

	var knowledgeOpts []knowledge.Option
	if cfg.policyDir != "" {
		knowledgeOpts = append(knowledgeOpts, knowledge.WithPolicyDir(cfg.policyDir))
	}
	knowledgeSvc, err := knowledge.New(ctx, knowledgeStore, knowledgeOpts...)
	if err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "failed to create knowledge service")
	}

	learningSvc := learning.New(learningsStore)

	tools := append([]tool.Tool{learningSvc}, extraTools...)
	if cfg.mcpConfig != "" {
		provider, err := mcp.LoadAndConnect(ctx, cfg.mcpConfig)
		if err != nil {
			pool.Close()
			return nil, goerr.Wrap(err, "failed to connect MCP servers")
		}
		if provider != nil {
			tools = append(tools, provider)
		}
	}

	client := &tool.Client{
		DB:        pool,
		Embedder:  embedder,
		Knowledge: knowledgeStore,
	}
	registry, err := tool.New(ctx, client, tools...)
	if err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "failed to build tool registry")
	}

	return &runtime{
		pool:           pool,
		chatModel:      chatModel,
		embedder:       embedder,
		knowledgeStore: knowledgeStore,
		learningsStore: learningsStore,
		knowledge:      knowledgeSvc,
		learnings:      learningSvc,
		registry:       registry,
	}, nil
}

func (x *runtime) Close() {
	x.pool.Close()
}
