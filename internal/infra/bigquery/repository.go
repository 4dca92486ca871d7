// Package bigquery is the BigQuery-backed pipeline store.
package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

// Table names.
const (
	AggregatesTable = "daily_bank_aggregates"
	AnomaliesTable  = "anomalies"
	QualityLogTable = "data_quality_log"
	RunsTable       = "pipeline_runs"
)

// Repository implements pipeline.Store on BigQuery. It holds a shared
// client to avoid creating a new connection for each operation.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewRepository creates a repository over project.dataset.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Repository) table(name string) string {
	return qualifiedTable(r.projectID, r.datasetID, name)
}

func qualifiedTable(projectID, datasetID, name string) string {
	return "`" + projectID + "." + datasetID + "." + name + "`"
}

// WritePartition runs one multi-statement transaction: aggregates are
// merged on (bank_id, transaction_date), anomalies are inserted when their
// id is new and quality reports are appended.
func (r *Repository) WritePartition(ctx context.Context, w pipeline.PartitionWrite) error {
	aggs := make([]AggregateRow, 0, len(w.Aggregates))
	for _, a := range w.Aggregates {
		aggs = append(aggs, toAggregateRow(a))
	}
	anomalies := make([]AnomalyRow, 0, len(w.Anomalies))
	for _, a := range w.Anomalies {
		anomalies = append(anomalies, toAnomalyRow(a))
	}
	reports := make([]QualityLogRow, 0, len(w.Reports))
	for _, q := range w.Reports {
		reports = append(reports, toQualityLogRow(q))
	}

	q := r.client.Query(partitionScript(r.projectID, r.datasetID))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "aggregates", Value: aggs},
		{Name: "anomalies", Value: anomalies},
		{Name: "reports", Value: reports},
	}

	if err := runAndWait(ctx, q); err != nil {
		return fmt.Errorf("WritePartition %s: %w", w.ProcessingDate, err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("processing_date", w.ProcessingDate.String()).
		Int("aggregates", len(aggs)).
		Int("anomalies", len(anomalies)).
		Int("reports", len(reports)).
		Msg("Partition written to BigQuery")
	return nil
}

// partitionScript builds the transaction script used by WritePartition.
func partitionScript(projectID, datasetID string) string {
	var b strings.Builder
	b.WriteString("BEGIN TRANSACTION;\n")

	fmt.Fprintf(&b, "MERGE %s T\nUSING UNNEST(@aggregates) S\n", qualifiedTable(projectID, datasetID, AggregatesTable))
	b.WriteString("ON T.bank_id = S.bank_id AND T.transaction_date = S.transaction_date\n")
	fmt.Fprintf(&b, "WHEN MATCHED THEN UPDATE SET %s\n", updateSet(aggregateColumns[2:]))
	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN INSERT %s;\n", insertClause(aggregateColumns))

	fmt.Fprintf(&b, "MERGE %s T\nUSING UNNEST(@anomalies) S\n", qualifiedTable(projectID, datasetID, AnomaliesTable))
	b.WriteString("ON T.anomaly_id = S.anomaly_id\n")
	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN INSERT %s;\n", insertClause(anomalyColumns))

	fmt.Fprintf(&b, "INSERT INTO %s (%s)\nSELECT %s FROM UNNEST(@reports);\n",
		qualifiedTable(projectID, datasetID, QualityLogTable),
		strings.Join(qualityLogColumns, ", "),
		strings.Join(qualityLogColumns, ", "))

	b.WriteString("COMMIT TRANSACTION;\n")
	return b.String()
}

func updateSet(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " = S." + c
	}
	return strings.Join(parts, ", ")
}

func insertClause(cols []string) string {
	src := make([]string, len(cols))
	for i, c := range cols {
		src[i] = "S." + c
	}
	return "(" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(src, ", ") + ")"
}

// ReadHistory returns daily volumes in [before-days, before) for banks.
func (r *Repository) ReadHistory(ctx context.Context, banks []string, before civil.Date, days int) ([]domain.DailyVolume, error) {
	if len(banks) == 0 {
		return nil, nil
	}
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			bank_id,
			transaction_date,
			CAST(total_volume AS FLOAT64) AS total_volume,
			transaction_count
		FROM %s
		WHERE bank_id IN UNNEST(@banks)
		  AND transaction_date >= @from_date
		  AND transaction_date < @before_date
		ORDER BY bank_id, transaction_date
	`, r.table(AggregatesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "banks", Value: banks},
		{Name: "from_date", Value: before.AddDays(-days)},
		{Name: "before_date", Value: before},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReadHistory: query read: %w", err)
	}

	var out []domain.DailyVolume
	for {
		var row VolumeRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ReadHistory: iter next: %w", err)
		}
		out = append(out, domain.DailyVolume{
			BankID:           row.BankID,
			Date:             row.TransactionDate,
			TotalVolume:      row.TotalVolume,
			TransactionCount: row.TransactionCount,
		})
	}
	return out, nil
}

// ReadAggregates returns the aggregate rows of one date.
func (r *Repository) ReadAggregates(ctx context.Context, date civil.Date) ([]domain.DailyBankAggregate, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE transaction_date = @date
		ORDER BY bank_id
	`, strings.Join(aggregateColumns, ", "), r.table(AggregatesTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "date", Value: date}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReadAggregates: query read: %w", err)
	}

	var out []domain.DailyBankAggregate
	for {
		var row AggregateRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ReadAggregates: iter next: %w", err)
		}
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ReadAnomalies returns the anomalies recorded for one date.
func (r *Repository) ReadAnomalies(ctx context.Context, date civil.Date) ([]domain.Anomaly, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE anomaly_date = @date
		ORDER BY bank_id, record_index, anomaly_id
	`, strings.Join(anomalyColumns, ", "), r.table(AnomaliesTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "date", Value: date}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReadAnomalies: query read: %w", err)
	}

	var out []domain.Anomaly
	for {
		var row AnomalyRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ReadAnomalies: iter next: %w", err)
		}
		out = append(out, row.toDomain())
	}
	return out, nil
}

func runAndWait(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

var (
	_ pipeline.Store       = (*Repository)(nil)
	_ pipeline.RunRecorder = (*Repository)(nil)
)
