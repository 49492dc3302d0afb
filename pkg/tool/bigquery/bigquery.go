package bigquery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/adapter"
	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/tool"
)

// Warehouse exposes BigQuery to the model: guarded query execution,
// paginated result retrieval and table schema inspection.
type Warehouse struct {
	project         string
	scanLimitMB     int64
	resultLimitRows int64

	bq adapter.BigQuery

	// query results cached per job ID for pagination
	results map[string][]map[string]any
}

type queryInput struct {
	Query string `json:"query"`
}

type getResultInput struct {
	JobID  string `json:"job_id"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

type schemaInput struct {
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

// New creates a new BigQuery tool
func New() *Warehouse {
	return &Warehouse{
		results: make(map[string][]map[string]any),
	}
}

// Flags returns CLI flags for this tool
func (x *Warehouse) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID for BigQuery",
			Sources:     cli.EnvVars("ATLAS_BIGQUERY_PROJECT"),
			Destination: &x.project,
		},
		&cli.IntFlag{
			Name:        "bigquery-scan-limit-mb",
			Usage:       "Maximum scan size in MB allowed by the dry-run guard",
			Value:       1024,
			Sources:     cli.EnvVars("ATLAS_BIGQUERY_SCAN_LIMIT_MB"),
			Destination: &x.scanLimitMB,
		},
		&cli.IntFlag{
			Name:        "bigquery-result-limit-rows",
			Usage:       "Maximum number of rows returned per result request",
			Value:       100,
			Sources:     cli.EnvVars("ATLAS_BIGQUERY_RESULT_LIMIT_ROWS"),
			Destination: &x.resultLimitRows,
		},
	}
}

// Init initializes the tool. BigQuery is optional and only enabled when
// a project is configured.
func (x *Warehouse) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if x.project == "" {
		return false, nil
	}

	bq, err := adapter.NewBigQuery(ctx, x.project)
	if err != nil {
		return false, goerr.Wrap(err, "failed to create BigQuery client")
	}
	x.bq = bq

	return true, nil
}

// Prompt returns additional information to be added to the system prompt
func (x *Warehouse) Prompt(ctx context.Context) string {
	return fmt.Sprintf(`You can query the BigQuery data warehouse (project %s). Check table schemas with bigquery_schema first, run bigquery_query, then page through rows with bigquery_get_result. Queries scanning more than %d MB are rejected.`,
		x.project, x.scanLimitMB)
}

// Spec returns the function specifications of this tool
func (x *Warehouse) Spec() []model.ToolSpec {
	return []model.ToolSpec{
		{
			Name:        "bigquery_query",
			Description: "Execute a BigQuery SQL query. The query is validated with a dry run first and rejected if it scans too much data. Returns a job ID for bigquery_get_result.",
			Parameters: model.Parameters{
				Properties: map[string]*model.Property{
					"query": {
						Type:        model.TypeString,
						Description: "The BigQuery SQL query to execute",
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "bigquery_get_result",
			Description: "Retrieve rows of a completed BigQuery job as a markdown table, with offset-based pagination",
			Parameters: model.Parameters{
				Properties: map[string]*model.Property{
					"job_id": {
						Type:        model.TypeString,
						Description: "Job ID returned by bigquery_query",
					},
					"offset": {
						Type:        model.TypeInteger,
						Description: "Row offset to start from (default 0)",
					},
					"limit": {
						Type:        model.TypeInteger,
						Description: "Maximum number of rows to return",
					},
				},
				Required: []string{"job_id"},
			},
		},
		{
			Name:        "bigquery_schema",
			Description: "Get the schema of a BigQuery table including column names, types and partitioning",
			Parameters: model.Parameters{
				Properties: map[string]*model.Property{
					"dataset": {
						Type:        model.TypeString,
						Description: "Dataset ID",
					},
					"table": {
						Type:        model.TypeString,
						Description: "Table name",
					},
				},
				Required: []string{"dataset", "table"},
			},
		},
	}
}

// Execute runs one function call of this tool
func (x *Warehouse) Execute(ctx context.Context, call model.ToolCall) (string, error) {
	switch call.Name {
	case "bigquery_query":
		var input queryInput
		if err := tool.UnmarshalArgs(call, &input); err != nil {
			return "", err
		}
		return x.runQuery(ctx, input)

	case "bigquery_get_result":
		var input getResultInput
		if err := tool.UnmarshalArgs(call, &input); err != nil {
			return "", err
		}
		return x.getResult(ctx, input)

	case "bigquery_schema":
		var input schemaInput
		if err := tool.UnmarshalArgs(call, &input); err != nil {
			return "", err
		}
		return x.getSchema(ctx, input)

	default:
		return "", goerr.New("unknown function", goerr.V("name", call.Name))
	}
}

func (x *Warehouse) runQuery(ctx context.Context, input queryInput) (string, error) {
	if strings.TrimSpace(input.Query) == "" {
		return "Error: query is required.", nil
	}

	scanned, err := x.bq.DryRun(ctx, input.Query)
	if err != nil {
		return "", goerr.Wrap(err, "failed to validate query")
	}

	scanMB := scanned / (1024 * 1024)
	if scanMB > x.scanLimitMB {
		return fmt.Sprintf("Error: query would scan %d MB, which exceeds the limit of %d MB. Narrow the query.",
			scanMB, x.scanLimitMB), nil
	}

	jobID, err := x.bq.Query(ctx, input.Query)
	if err != nil {
		return "", goerr.Wrap(err, "failed to execute query")
	}

	return fmt.Sprintf("Query completed. Job ID: %s. Use bigquery_get_result to fetch rows.", jobID), nil
}

func (x *Warehouse) getResult(ctx context.Context, input getResultInput) (string, error) {
	if input.JobID == "" {
		return "Error: job_id is required.", nil
	}

	rows, ok := x.results[input.JobID]
	if !ok {
		fetched, err := x.bq.GetQueryResult(ctx, input.JobID)
		if err != nil {
			return "", goerr.Wrap(err, "failed to get query result")
		}
		x.results[input.JobID] = fetched
		rows = fetched
	}

	if len(rows) == 0 {
		return "No results found.", nil
	}

	offset := input.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return fmt.Sprintf("Error: offset %d is beyond the result set (%d rows).", offset, len(rows)), nil
	}

	limit := input.Limit
	if limit <= 0 || int64(limit) > x.resultLimitRows {
		limit = int(x.resultLimitRows)
	}

	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	page := rows[offset:end]

	// Stable column order from the first row
	var columns []string
	for col := range page[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	cells := make([][]string, 0, len(page))
	for _, row := range page {
		line := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := row[col]; ok && v != nil {
				line[i] = fmt.Sprintf("%v", v)
			} else {
				line[i] = "NULL"
			}
		}
		cells = append(cells, line)
	}

	out := tool.MarkdownTable(columns, cells)
	out += fmt.Sprintf("\n\n_Rows %d-%d of %d._", offset+1, end, len(rows))

	return out, nil
}

func (x *Warehouse) getSchema(ctx context.Context, input schemaInput) (string, error) {
	if input.Dataset == "" || input.Table == "" {
		return "Error: dataset and table are required.", nil
	}

	meta, err := x.bq.GetTableMetadata(ctx, input.Dataset, input.Table)
	if err != nil {
		return "", goerr.Wrap(err, "failed to get table metadata")
	}

	var cells [][]string
	for _, field := range meta.Schema {
		cells = append(cells, []string{field.Name, string(field.Type), field.Description})
	}

	out := fmt.Sprintf("Table: %s.%s.%s\n\n", x.project, input.Dataset, input.Table)
	out += tool.MarkdownTable([]string{"column", "type", "description"}, cells)
	if meta.TimePartitioning != nil {
		out += fmt.Sprintf("\n\nPartitioned by %s (%s).", meta.TimePartitioning.Field, meta.TimePartitioning.Type)
	}

	return out, nil
}
