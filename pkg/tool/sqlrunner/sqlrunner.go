package sqlrunner

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/repository"
	"github.com/m-mizutani/atlas/pkg/tool"
)

const defaultRowLimit = 50

// dangerousKeywords rejects statements that could mutate state even
// when hidden behind a SELECT prefix (e.g. CTE into DML).
var dangerousKeywords = []string{"drop", "delete", "truncate", "insert", "update", "alter", "create"}

type executeSQLInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type introspectSchemaInput struct {
	Table string `json:"table"`
}

type saveValidatedQueryInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Query       string `json:"query"`
}

// Runner provides read-only SQL access to the application database and
// a write path for queries the model has validated.
type Runner struct {
	rowLimit int64

	db        *pgxpool.Pool
	knowledge repository.Store
}

// New creates a new SQL runner tool
func New() *Runner {
	return &Runner{}
}

// Flags returns CLI flags for this tool
func (x *Runner) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "sql-row-limit",
			Usage:       "Default maximum number of rows returned by execute_sql",
			Value:       defaultRowLimit,
			Sources:     cli.EnvVars("ATLAS_SQL_ROW_LIMIT"),
			Destination: &x.rowLimit,
		},
	}
}

// Init initializes the tool. Enabled whenever the shared database pool
// is available.
func (x *Runner) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if client.DB == nil {
		return false, nil
	}
	x.db = client.DB
	x.knowledge = client.Knowledge
	return true, nil
}

// Prompt returns additional information to be added to the system prompt
func (x *Runner) Prompt(ctx context.Context) string {
	return `You can inspect the application database with introspect_schema and run read-only SELECT queries with execute_sql. When a query proves useful and correct, store it with save_validated_query so it can be retrieved later.`
}

// Spec returns the function specifications of this tool
func (x *Runner) Spec() []model.ToolSpec {
	return []model.ToolSpec{
		{
			Name:        "execute_sql",
			Description: "Execute a read-only SQL query (SELECT or WITH) against the PostgreSQL database and return the rows as a markdown table",
			Parameters: model.Parameters{
				Properties: map[string]*model.Property{
					"query": {
						Type:        model.TypeString,
						Description: "The SQL query to execute. Only SELECT and WITH statements are allowed.",
					},
					"limit": {
						Type:        model.TypeInteger,
						Description: "Maximum number of rows to return (default 50)",
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "introspect_schema",
			Description: "List the tables of the database, or the columns and types of one table",
			Parameters: model.Parameters{
				Properties: map[string]*model.Property{
					"table": {
						Type:        model.TypeString,
						Description: "Table name to describe. Omit to list all tables.",
					},
				},
			},
		},
		{
			Name:        "save_validated_query",
			Description: "Save a validated SQL query to the knowledge base for future reuse",
			Parameters: model.Parameters{
				Properties: map[string]*model.Property{
					"name": {
						Type:        model.TypeString,
						Description: "Short unique name for the query",
					},
					"description": {
						Type:        model.TypeString,
						Description: "What the query answers and when to use it",
					},
					"query": {
						Type:        model.TypeString,
						Description: "The validated SQL query text",
					},
				},
				Required: []string{"name", "query"},
			},
		},
	}
}

// Execute runs one function call of this tool
func (x *Runner) Execute(ctx context.Context, call model.ToolCall) (string, error) {
	switch call.Name {
	case "execute_sql":
		var input executeSQLInput
		if err := tool.UnmarshalArgs(call, &input); err != nil {
			return "", err
		}
		return x.executeSQL(ctx, input)

	case "introspect_schema":
		var input introspectSchemaInput
		if err := tool.UnmarshalArgs(call, &input); err != nil {
			return "", err
		}
		return x.introspectSchema(ctx, input)

	case "save_validated_query":
		var input saveValidatedQueryInput
		if err := tool.UnmarshalArgs(call, &input); err != nil {
			return "", err
		}
		return x.saveValidatedQuery(ctx, input)

	default:
		return "", goerr.New("unknown function", goerr.V("name", call.Name))
	}
}

// validateQuery enforces the read-only guard. Returns a soft error
// string for the model when the query is rejected.
func validateQuery(query string) string {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "Error: query is required."
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return "Error: only SELECT queries are allowed."
	}

	lower := strings.ToLower(trimmed)
	for _, kw := range dangerousKeywords {
		for _, token := range strings.FieldsFunc(lower, func(r rune) bool {
			return r == ' ' || r == '\t' || r == '\n' || r == '(' || r == ')' || r == ';' || r == ','
		}) {
			if token == kw {
				return fmt.Sprintf("Error: query contains a prohibited keyword: %s.", kw)
			}
		}
	}

	return ""
}

func (x *Runner) executeSQL(ctx context.Context, input executeSQLInput) (string, error) {
	if msg := validateQuery(input.Query); msg != "" {
		return msg, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = int(x.rowLimit)
	}
	if limit <= 0 {
		limit = defaultRowLimit
	}

	rows, err := x.db.Query(ctx, input.Query)
	if err != nil {
		return "", goerr.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = string(fd.Name)
	}

	var cells [][]string
	truncated := false
	for rows.Next() {
		if len(cells) >= limit {
			truncated = true
			break
		}

		values, err := rows.Values()
		if err != nil {
			return "", goerr.Wrap(err, "failed to read row values")
		}

		row := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				row[i] = "NULL"
			} else {
				row[i] = fmt.Sprintf("%v", v)
			}
		}
		cells = append(cells, row)
	}
	if err := rows.Err(); err != nil {
		return "", goerr.Wrap(err, "failed to iterate rows")
	}

	if len(cells) == 0 {
		return "No results found.", nil
	}

	out := tool.MarkdownTable(columns, cells)
	if truncated {
		out += fmt.Sprintf("\n\n_Showing first %d rows._", limit)
	}

	return out, nil
}

func (x *Runner) introspectSchema(ctx context.Context, input introspectSchemaInput) (string, error) {
	if strings.TrimSpace(input.Table) == "" {
		rows, err := x.db.Query(ctx,
			`SELECT table_name FROM information_schema.tables
			 WHERE table_schema = 'public' ORDER BY table_name`)
		if err != nil {
			return "", goerr.Wrap(err, "failed to list tables")
		}
		defer rows.Close()

		var names []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return "", goerr.Wrap(err, "failed to scan table name")
			}
			names = append(names, "- "+name)
		}
		if err := rows.Err(); err != nil {
			return "", goerr.Wrap(err, "failed to iterate tables")
		}
		if len(names) == 0 {
			return "No results found.", nil
		}

		return "Tables in schema 'public':\n" + strings.Join(names, "\n"), nil
	}

	rows, err := x.db.Query(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position`,
		input.Table)
	if err != nil {
		return "", goerr.Wrap(err, "failed to describe table")
	}
	defer rows.Close()

	var cells [][]string
	for rows.Next() {
		var column, dataType, nullable string
		if err := rows.Scan(&column, &dataType, &nullable); err != nil {
			return "", goerr.Wrap(err, "failed to scan column")
		}
		cells = append(cells, []string{column, dataType, nullable})
	}
	if err := rows.Err(); err != nil {
		return "", goerr.Wrap(err, "failed to iterate columns")
	}
	if len(cells) == 0 {
		return fmt.Sprintf("Error: table '%s' not found.", input.Table), nil
	}

	return tool.MarkdownTable([]string{"column", "type", "nullable"}, cells), nil
}

func (x *Runner) saveValidatedQuery(ctx context.Context, input saveValidatedQueryInput) (string, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return "Error: name is required.", nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return "Error: query is required.", nil
	}
	if x.knowledge == nil {
		return "Error: knowledge store is not configured.", nil
	}

	exists, err := x.knowledge.ExistsByMetadata(ctx, "name", name)
	if err != nil {
		return "", goerr.Wrap(err, "failed to check existing query")
	}
	if exists {
		return fmt.Sprintf("Query '%s' already exists, skipped.", name), nil
	}

	content := input.Description
	if content != "" {
		content += "\n\n"
	}
	content += "```sql\n" + strings.TrimSpace(input.Query) + "\n```"

	if _, err := x.knowledge.Insert(ctx, content, map[string]any{
		"type": "validated_query",
		"name": name,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to save query")
	}

	return fmt.Sprintf("Saved query: %s", name), nil
}
