package adapter

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// BigQuery is the warehouse access used by the BigQuery tool.
type BigQuery interface {
	// DryRun validates a query and returns the number of bytes it would scan.
	DryRun(ctx context.Context, query string) (int64, error)

	// Query executes a query and returns the job ID for later result retrieval.
	Query(ctx context.Context, query string) (string, error)

	// GetQueryResult retrieves the result rows of a completed query job.
	GetQueryResult(ctx context.Context, jobID string) ([]map[string]any, error)

	// GetTableMetadata retrieves schema and partition information of a table.
	GetTableMetadata(ctx context.Context, datasetID, table string) (*bigquery.TableMetadata, error)
}

type bigqueryClient struct {
	client *bigquery.Client
}

// NewBigQuery creates a new BigQuery client for the project.
func NewBigQuery(ctx context.Context, projectID string) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	return &bigqueryClient{client: client}, nil
}

func (bq *bigqueryClient) DryRun(ctx context.Context, query string) (int64, error) {
	q := bq.client.Query(query)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to run dry-run query")
	}

	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return 0, goerr.New("no statistics available from dry-run")
	}

	return status.Statistics.TotalBytesProcessed, nil
}

func (bq *bigqueryClient) Query(ctx context.Context, query string) (string, error) {
	q := bq.client.Query(query)

	job, err := q.Run(ctx)
	if err != nil {
		return "", goerr.Wrap(err, "failed to run query")
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return "", goerr.Wrap(err, "failed to wait for query completion")
	}
	if status.Err() != nil {
		return "", goerr.Wrap(status.Err(), "query execution failed")
	}

	return job.ID(), nil
}

func (bq *bigqueryClient) GetQueryResult(ctx context.Context, jobID string) ([]map[string]any, error) {
	job, err := bq.client.JobFromID(ctx, jobID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get job from ID", goerr.V("jobID", jobID))
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read query result")
	}

	var results []map[string]any
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate query result")
		}

		rowMap := make(map[string]any, len(row))
		for k, v := range row {
			rowMap[k] = v
		}
		results = append(results, rowMap)
	}

	return results, nil
}

func (bq *bigqueryClient) GetTableMetadata(ctx context.Context, datasetID, table string) (*bigquery.TableMetadata, error) {
	metadata, err := bq.client.Dataset(datasetID).Table(table).Metadata(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get table metadata")
	}

	return metadata, nil
}
