package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

const maxErrorMessageLen = 2000

func toRunRow(res *pipeline.RunResult) RunRow {
	row := RunRow{
		RunID:            res.RunID,
		ProcessingDate:   res.ProcessingDate,
		Source:           res.Source,
		Status:           string(res.Status),
		Stage:            string(res.Stage),
		StartedTS:        res.StartedAt,
		RecordsProcessed: int64(res.Counters.Processed),
		RecordsValid:     int64(res.Counters.Valid),
		RecordsLoaded:    int64(res.Counters.Loaded),
		AnomalyCount:     int64(res.Counters.Anomalies),
		WriteAttempts:    int64(res.WriteAttempts),
	}
	if !res.FinishedAt.IsZero() {
		row.FinishedTS = bigquery.NullTimestamp{Timestamp: res.FinishedAt, Valid: true}
	}
	if res.Error != nil {
		msg := res.Error.Message
		if len(msg) > maxErrorMessageLen {
			msg = msg[:maxErrorMessageLen]
		}
		row.ErrorKind = bigquery.NullString{StringVal: res.Error.Kind, Valid: true}
		row.ErrorMessage = bigquery.NullString{StringVal: msg, Valid: true}
	}
	return row
}

// RecordRun inserts one row into pipeline_runs.
func (r *Repository) RecordRun(ctx context.Context, res *pipeline.RunResult) error {
	inserter := r.client.DatasetInProject(r.projectID, r.datasetID).Table(RunsTable).Inserter()
	if err := inserter.Put(ctx, []*RunRow{ptr(toRunRow(res))}); err != nil {
		return fmt.Errorf("RecordRun: inserting row: %w", err)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
