package postgres

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

// Repository implements pipeline.Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository over pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Open connects to databaseURL and returns a repository owning the pool.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return NewRepository(pool), nil
}

// Close closes the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

const upsertAggregateSQL = `
	INSERT INTO daily_bank_aggregates (
		bank_id, transaction_date, total_volume, transaction_count,
		avg_transaction_value, median_transaction_value, std_transaction_value,
		min_transaction_value, max_transaction_value,
		unique_customers, unique_transactions,
		transfer_count, deposit_count, withdrawal_count, payment_count, unknown_count,
		avg_transactions_per_customer, avg_value_per_customer,
		data_quality_score, run_id, processed_at
	) VALUES (
		$1, $2::date, $3::numeric, $4,
		$5::numeric, $6::numeric, $7,
		$8::numeric, $9::numeric,
		$10, $11,
		$12, $13, $14, $15, $16,
		$17, $18::numeric,
		$19, $20, $21
	)
	ON CONFLICT (bank_id, transaction_date) DO UPDATE SET
		total_volume = EXCLUDED.total_volume,
		transaction_count = EXCLUDED.transaction_count,
		avg_transaction_value = EXCLUDED.avg_transaction_value,
		median_transaction_value = EXCLUDED.median_transaction_value,
		std_transaction_value = EXCLUDED.std_transaction_value,
		min_transaction_value = EXCLUDED.min_transaction_value,
		max_transaction_value = EXCLUDED.max_transaction_value,
		unique_customers = EXCLUDED.unique_customers,
		unique_transactions = EXCLUDED.unique_transactions,
		transfer_count = EXCLUDED.transfer_count,
		deposit_count = EXCLUDED.deposit_count,
		withdrawal_count = EXCLUDED.withdrawal_count,
		payment_count = EXCLUDED.payment_count,
		unknown_count = EXCLUDED.unknown_count,
		avg_transactions_per_customer = EXCLUDED.avg_transactions_per_customer,
		avg_value_per_customer = EXCLUDED.avg_value_per_customer,
		data_quality_score = EXCLUDED.data_quality_score,
		run_id = EXCLUDED.run_id,
		processed_at = EXCLUDED.processed_at
`

const insertAnomalySQL = `
	INSERT INTO anomalies (
		anomaly_id, anomaly_date, bank_id, transaction_id, record_index,
		anomaly_type, severity, rule, observed_value,
		expected_low, expected_high, z_score,
		description, run_id, detected_at, status
	) VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (anomaly_id) DO NOTHING
`

const insertQualityLogSQL = `
	INSERT INTO data_quality_log (
		run_id, processing_date, bank_id,
		total_records, valid_records, null_records, invalid_type_records,
		invalid_amount_records, future_dated_records, duplicate_records,
		flagged_records, anomaly_count, penalized_anomalies,
		quality_score, quality_level, status, duration_seconds, generated_at
	) VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
`

// WritePartition writes aggregates, anomalies and quality reports in one
// transaction.
func (r *Repository) WritePartition(ctx context.Context, w pipeline.PartitionWrite) error {
	return withTransaction(ctx, r.pool, func(ctx context.Context) error {
		q := conn(ctx, r.pool)

		for _, a := range w.Aggregates {
			_, err := q.Exec(ctx, upsertAggregateSQL,
				a.BankID, a.Date.String(), a.TotalVolume.String(), a.TransactionCount,
				a.AvgTransactionValue.String(), a.MedianTransactionValue.String(), a.StdTransactionValue,
				a.MinTransactionValue.String(), a.MaxTransactionValue.String(),
				a.UniqueCustomers, a.UniqueTransactions,
				a.TypeBreakdown[domain.TypeTransfer], a.TypeBreakdown[domain.TypeDeposit],
				a.TypeBreakdown[domain.TypeWithdrawal], a.TypeBreakdown[domain.TypePayment],
				a.TypeBreakdown[domain.TypeUnknown],
				a.AvgTransactionsPerCustomer, a.AvgValuePerCustomer.String(),
				a.DataQualityScore, a.RunID, a.ProcessedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert aggregate %s/%s: %w", a.BankID, a.Date, err)
			}
		}

		for _, a := range w.Anomalies {
			var txID *string
			if a.TransactionID != "" {
				txID = &a.TransactionID
			}
			_, err := q.Exec(ctx, insertAnomalySQL,
				a.AnomalyID, a.Date.String(), a.BankID, txID, a.RecordIndex,
				string(a.Class), string(a.Severity), a.Rule, a.ObservedValue,
				a.ExpectedLow, a.ExpectedHigh, a.ZScore,
				a.Description, a.RunID, a.DetectedAt, string(a.Status),
			)
			if err != nil {
				return fmt.Errorf("failed to insert anomaly %s: %w", a.AnomalyID, err)
			}
		}

		for _, rep := range w.Reports {
			_, err := q.Exec(ctx, insertQualityLogSQL,
				rep.RunID, rep.ProcessingDate.String(), rep.BankID,
				rep.TotalRecords, rep.ValidRecords, rep.Defects.Null, rep.Defects.InvalidType,
				rep.Defects.InvalidAmount, rep.Defects.FutureDated, rep.Defects.Duplicate,
				rep.FlaggedRecords, rep.AnomalyCount, rep.PenalizedAnomalies,
				rep.Score, string(rep.Level), string(rep.Status), rep.DurationSeconds, rep.GeneratedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert quality report %s: %w", rep.BankID, err)
			}
		}
		return nil
	})
}

// ReadHistory returns daily volumes in [before-days, before) for banks.
func (r *Repository) ReadHistory(ctx context.Context, banks []string, before civil.Date, days int) ([]domain.DailyVolume, error) {
	if len(banks) == 0 {
		return nil, nil
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT bank_id, transaction_date::text, total_volume::float8, transaction_count
		FROM daily_bank_aggregates
		WHERE bank_id = ANY($1)
		  AND transaction_date >= $2::date
		  AND transaction_date < $3::date
		ORDER BY bank_id, transaction_date
	`, banks, before.AddDays(-days).String(), before.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyVolume
	for rows.Next() {
		var v domain.DailyVolume
		var date string
		if err := rows.Scan(&v.BankID, &date, &v.TotalVolume, &v.TransactionCount); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if v.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("failed to parse history date: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ReadAggregates returns the aggregate rows of one date.
func (r *Repository) ReadAggregates(ctx context.Context, date civil.Date) ([]domain.DailyBankAggregate, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT
			bank_id, transaction_date::text, total_volume::text, transaction_count,
			avg_transaction_value::text, median_transaction_value::text, std_transaction_value,
			min_transaction_value::text, max_transaction_value::text,
			unique_customers, unique_transactions,
			transfer_count, deposit_count, withdrawal_count, payment_count, unknown_count,
			avg_transactions_per_customer, avg_value_per_customer::text,
			data_quality_score, run_id, processed_at
		FROM daily_bank_aggregates
		WHERE transaction_date = $1::date
		ORDER BY bank_id
	`, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyBankAggregate
	for rows.Next() {
		a, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAggregate(rows pgx.Rows) (domain.DailyBankAggregate, error) {
	var (
		a                                    domain.DailyBankAggregate
		date, total, avg, median, lo, hi, vc string
		transfer, deposit, withdrawal        int64
		payment, unknown                     int64
	)
	err := rows.Scan(
		&a.BankID, &date, &total, &a.TransactionCount,
		&avg, &median, &a.StdTransactionValue,
		&lo, &hi,
		&a.UniqueCustomers, &a.UniqueTransactions,
		&transfer, &deposit, &withdrawal, &payment, &unknown,
		&a.AvgTransactionsPerCustomer, &vc,
		&a.DataQualityScore, &a.RunID, &a.ProcessedAt,
	)
	if err != nil {
		return a, fmt.Errorf("failed to scan aggregate row: %w", err)
	}
	if a.Date, err = civil.ParseDate(date); err != nil {
		return a, fmt.Errorf("failed to parse aggregate date: %w", err)
	}

	decimals := []struct {
		src string
		dst *decimal.Decimal
	}{
		{total, &a.TotalVolume},
		{avg, &a.AvgTransactionValue},
		{median, &a.MedianTransactionValue},
		{lo, &a.MinTransactionValue},
		{hi, &a.MaxTransactionValue},
		{vc, &a.AvgValuePerCustomer},
	}
	for _, d := range decimals {
		if *d.dst, err = decimal.NewFromString(d.src); err != nil {
			return a, fmt.Errorf("failed to parse numeric %q: %w", d.src, err)
		}
	}

	a.TypeBreakdown = map[domain.TransactionType]int64{}
	for t, n := range map[domain.TransactionType]int64{
		domain.TypeTransfer:   transfer,
		domain.TypeDeposit:    deposit,
		domain.TypeWithdrawal: withdrawal,
		domain.TypePayment:    payment,
		domain.TypeUnknown:    unknown,
	} {
		if n > 0 {
			a.TypeBreakdown[t] = n
		}
	}
	return a, nil
}

// ReadAnomalies returns the anomalies recorded for one date.
func (r *Repository) ReadAnomalies(ctx context.Context, date civil.Date) ([]domain.Anomaly, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT
			anomaly_id, anomaly_date::text, bank_id, transaction_id, record_index,
			anomaly_type, severity, rule, observed_value,
			expected_low, expected_high, z_score,
			description, run_id, detected_at, status
		FROM anomalies
		WHERE anomaly_date = $1::date
		ORDER BY bank_id, record_index, anomaly_id
	`, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	var out []domain.Anomaly
	for rows.Next() {
		var (
			a                       domain.Anomaly
			day                     string
			txID                    *string
			class, severity, status string
		)
		err := rows.Scan(
			&a.AnomalyID, &day, &a.BankID, &txID, &a.RecordIndex,
			&class, &severity, &a.Rule, &a.ObservedValue,
			&a.ExpectedLow, &a.ExpectedHigh, &a.ZScore,
			&a.Description, &a.RunID, &a.DetectedAt, &status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly row: %w", err)
		}
		if a.Date, err = civil.ParseDate(day); err != nil {
			return nil, fmt.Errorf("failed to parse anomaly date: %w", err)
		}
		if txID != nil {
			a.TransactionID = *txID
		}
		a.Class = domain.AnomalyClass(class)
		a.Severity = domain.Severity(severity)
		a.Status = domain.AnomalyStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordRun inserts or replaces the pipeline_runs row of a run.
func (r *Repository) RecordRun(ctx context.Context, res *pipeline.RunResult) error {
	var finished any
	if !res.FinishedAt.IsZero() {
		finished = res.FinishedAt
	}
	var kind, msg *string
	if res.Error != nil {
		kind, msg = &res.Error.Kind, &res.Error.Message
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO pipeline_runs (
			run_id, processing_date, source, status, stage, started_ts, finished_ts,
			records_processed, records_valid, records_loaded, anomaly_count, write_attempts,
			error_kind, error_message
		) VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			stage = EXCLUDED.stage,
			finished_ts = EXCLUDED.finished_ts,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message
	`,
		res.RunID, res.ProcessingDate.String(), res.Source, string(res.Status), string(res.Stage),
		res.StartedAt, finished,
		res.Counters.Processed, res.Counters.Valid, res.Counters.Loaded, res.Counters.Anomalies,
		res.WriteAttempts, kind, msg,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

var (
	_ pipeline.Store       = (*Repository)(nil)
	_ pipeline.RunRecorder = (*Repository)(nil)
)
