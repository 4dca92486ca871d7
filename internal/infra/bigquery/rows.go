package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// AggregateRow is one row of daily_bank_aggregates.
type AggregateRow struct {
	BankID          string     `bigquery:"bank_id"`          // REQUIRED
	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED, partition column

	TotalVolume      *big.Rat `bigquery:"total_volume"` // NUMERIC
	TransactionCount int64    `bigquery:"transaction_count"`

	AvgTransactionValue    *big.Rat `bigquery:"avg_transaction_value"`
	MedianTransactionValue *big.Rat `bigquery:"median_transaction_value"`
	StdTransactionValue    float64  `bigquery:"std_transaction_value"`
	MinTransactionValue    *big.Rat `bigquery:"min_transaction_value"`
	MaxTransactionValue    *big.Rat `bigquery:"max_transaction_value"`

	UniqueCustomers    int64 `bigquery:"unique_customers"`
	UniqueTransactions int64 `bigquery:"unique_transactions"`

	TransferCount   int64 `bigquery:"transfer_count"`
	DepositCount    int64 `bigquery:"deposit_count"`
	WithdrawalCount int64 `bigquery:"withdrawal_count"`
	PaymentCount    int64 `bigquery:"payment_count"`
	UnknownCount    int64 `bigquery:"unknown_count"`

	AvgTransactionsPerCustomer float64  `bigquery:"avg_transactions_per_customer"`
	AvgValuePerCustomer        *big.Rat `bigquery:"avg_value_per_customer"`

	DataQualityScore float64   `bigquery:"data_quality_score"`
	RunID            string    `bigquery:"run_id"`
	ProcessedAt      time.Time `bigquery:"processed_at"`
}

// aggregateColumns is the column order of AggregateRow.
var aggregateColumns = []string{
	"bank_id", "transaction_date", "total_volume", "transaction_count",
	"avg_transaction_value", "median_transaction_value", "std_transaction_value",
	"min_transaction_value", "max_transaction_value",
	"unique_customers", "unique_transactions",
	"transfer_count", "deposit_count", "withdrawal_count", "payment_count", "unknown_count",
	"avg_transactions_per_customer", "avg_value_per_customer",
	"data_quality_score", "run_id", "processed_at",
}

// VolumeRow is the history projection of daily_bank_aggregates.
type VolumeRow struct {
	BankID           string     `bigquery:"bank_id"`
	TransactionDate  civil.Date `bigquery:"transaction_date"`
	TotalVolume      float64    `bigquery:"total_volume"`
	TransactionCount int64      `bigquery:"transaction_count"`
}

// AnomalyRow is one row of anomalies.
type AnomalyRow struct {
	AnomalyID     string              `bigquery:"anomaly_id"` // REQUIRED
	AnomalyDate   civil.Date          `bigquery:"anomaly_date"`
	BankID        string              `bigquery:"bank_id"`
	TransactionID bigquery.NullString `bigquery:"transaction_id"`
	RecordIndex   int64               `bigquery:"record_index"`

	AnomalyType   string  `bigquery:"anomaly_type"`
	Severity      string  `bigquery:"severity"`
	Rule          string  `bigquery:"rule"`
	ObservedValue float64 `bigquery:"observed_value"`

	ExpectedLow  bigquery.NullFloat64 `bigquery:"expected_low"`
	ExpectedHigh bigquery.NullFloat64 `bigquery:"expected_high"`
	ZScore       bigquery.NullFloat64 `bigquery:"z_score"`

	Description string    `bigquery:"description"`
	RunID       string    `bigquery:"run_id"`
	DetectedAt  time.Time `bigquery:"detected_at"`
	Status      string    `bigquery:"status"`
}

var anomalyColumns = []string{
	"anomaly_id", "anomaly_date", "bank_id", "transaction_id", "record_index",
	"anomaly_type", "severity", "rule", "observed_value",
	"expected_low", "expected_high", "z_score",
	"description", "run_id", "detected_at", "status",
}

// QualityLogRow is one row of data_quality_log.
type QualityLogRow struct {
	RunID          string     `bigquery:"run_id"`
	ProcessingDate civil.Date `bigquery:"processing_date"`
	BankID         string     `bigquery:"bank_id"`

	TotalRecords         int64 `bigquery:"total_records"`
	ValidRecords         int64 `bigquery:"valid_records"`
	NullRecords          int64 `bigquery:"null_records"`
	InvalidTypeRecords   int64 `bigquery:"invalid_type_records"`
	InvalidAmountRecords int64 `bigquery:"invalid_amount_records"`
	FutureDatedRecords   int64 `bigquery:"future_dated_records"`
	DuplicateRecords     int64 `bigquery:"duplicate_records"`
	FlaggedRecords       int64 `bigquery:"flagged_records"`
	AnomalyCount         int64 `bigquery:"anomaly_count"`
	PenalizedAnomalies   int64 `bigquery:"penalized_anomalies"`

	QualityScore    float64   `bigquery:"quality_score"`
	QualityLevel    string    `bigquery:"quality_level"`
	Status          string    `bigquery:"status"`
	DurationSeconds float64   `bigquery:"duration_seconds"`
	GeneratedAt     time.Time `bigquery:"generated_at"`
}

var qualityLogColumns = []string{
	"run_id", "processing_date", "bank_id",
	"total_records", "valid_records", "null_records", "invalid_type_records",
	"invalid_amount_records", "future_dated_records", "duplicate_records",
	"flagged_records", "anomaly_count", "penalized_anomalies",
	"quality_score", "quality_level", "status", "duration_seconds", "generated_at",
}

// RunRow is one row of pipeline_runs.
type RunRow struct {
	RunID          string                 `bigquery:"run_id"`
	ProcessingDate civil.Date             `bigquery:"processing_date"`
	Source         string                 `bigquery:"source"`
	Status         string                 `bigquery:"status"`
	Stage          string                 `bigquery:"stage"`
	StartedTS      time.Time              `bigquery:"started_ts"`
	FinishedTS     bigquery.NullTimestamp `bigquery:"finished_ts"`

	RecordsProcessed int64 `bigquery:"records_processed"`
	RecordsValid     int64 `bigquery:"records_valid"`
	RecordsLoaded    int64 `bigquery:"records_loaded"`
	AnomalyCount     int64 `bigquery:"anomaly_count"`
	WriteAttempts    int64 `bigquery:"write_attempts"`

	ErrorKind    bigquery.NullString `bigquery:"error_kind"`
	ErrorMessage bigquery.NullString `bigquery:"error_message"`
}

func toRat(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

func fromRat(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return decimal.RequireFromString(r.FloatString(2))
}

func nullFloat(p *float64) bigquery.NullFloat64 {
	if p == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n bigquery.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func toAggregateRow(a domain.DailyBankAggregate) AggregateRow {
	return AggregateRow{
		BankID:                     a.BankID,
		TransactionDate:            a.Date,
		TotalVolume:                toRat(a.TotalVolume),
		TransactionCount:           a.TransactionCount,
		AvgTransactionValue:        toRat(a.AvgTransactionValue),
		MedianTransactionValue:     toRat(a.MedianTransactionValue),
		StdTransactionValue:        a.StdTransactionValue,
		MinTransactionValue:        toRat(a.MinTransactionValue),
		MaxTransactionValue:        toRat(a.MaxTransactionValue),
		UniqueCustomers:            a.UniqueCustomers,
		UniqueTransactions:         a.UniqueTransactions,
		TransferCount:              a.TypeBreakdown[domain.TypeTransfer],
		DepositCount:               a.TypeBreakdown[domain.TypeDeposit],
		WithdrawalCount:            a.TypeBreakdown[domain.TypeWithdrawal],
		PaymentCount:               a.TypeBreakdown[domain.TypePayment],
		UnknownCount:               a.TypeBreakdown[domain.TypeUnknown],
		AvgTransactionsPerCustomer: a.AvgTransactionsPerCustomer,
		AvgValuePerCustomer:        toRat(a.AvgValuePerCustomer),
		DataQualityScore:           a.DataQualityScore,
		RunID:                      a.RunID,
		ProcessedAt:                a.ProcessedAt,
	}
}

func (r AggregateRow) toDomain() domain.DailyBankAggregate {
	breakdown := map[domain.TransactionType]int64{}
	for t, n := range map[domain.TransactionType]int64{
		domain.TypeTransfer:   r.TransferCount,
		domain.TypeDeposit:    r.DepositCount,
		domain.TypeWithdrawal: r.WithdrawalCount,
		domain.TypePayment:    r.PaymentCount,
		domain.TypeUnknown:    r.UnknownCount,
	} {
		if n > 0 {
			breakdown[t] = n
		}
	}
	return domain.DailyBankAggregate{
		BankID:                     r.BankID,
		Date:                       r.TransactionDate,
		TotalVolume:                fromRat(r.TotalVolume),
		TransactionCount:           r.TransactionCount,
		AvgTransactionValue:        fromRat(r.AvgTransactionValue),
		MedianTransactionValue:     fromRat(r.MedianTransactionValue),
		StdTransactionValue:        r.StdTransactionValue,
		MinTransactionValue:        fromRat(r.MinTransactionValue),
		MaxTransactionValue:        fromRat(r.MaxTransactionValue),
		UniqueCustomers:            r.UniqueCustomers,
		UniqueTransactions:         r.UniqueTransactions,
		TypeBreakdown:              breakdown,
		AvgTransactionsPerCustomer: r.AvgTransactionsPerCustomer,
		AvgValuePerCustomer:        fromRat(r.AvgValuePerCustomer),
		DataQualityScore:           r.DataQualityScore,
		RunID:                      r.RunID,
		ProcessedAt:                r.ProcessedAt,
	}
}

func toAnomalyRow(a domain.Anomaly) AnomalyRow {
	row := AnomalyRow{
		AnomalyID:     a.AnomalyID,
		AnomalyDate:   a.Date,
		BankID:        a.BankID,
		RecordIndex:   int64(a.RecordIndex),
		AnomalyType:   string(a.Class),
		Severity:      string(a.Severity),
		Rule:          a.Rule,
		ObservedValue: a.ObservedValue,
		ExpectedLow:   nullFloat(a.ExpectedLow),
		ExpectedHigh:  nullFloat(a.ExpectedHigh),
		ZScore:        nullFloat(a.ZScore),
		Description:   a.Description,
		RunID:         a.RunID,
		DetectedAt:    a.DetectedAt,
		Status:        string(a.Status),
	}
	if a.TransactionID != "" {
		row.TransactionID = bigquery.NullString{StringVal: a.TransactionID, Valid: true}
	}
	return row
}

func (r AnomalyRow) toDomain() domain.Anomaly {
	return domain.Anomaly{
		AnomalyID:     r.AnomalyID,
		Date:          r.AnomalyDate,
		BankID:        r.BankID,
		TransactionID: r.TransactionID.StringVal,
		RecordIndex:   int(r.RecordIndex),
		Class:         domain.AnomalyClass(r.AnomalyType),
		Severity:      domain.Severity(r.Severity),
		Rule:          r.Rule,
		ObservedValue: r.ObservedValue,
		ExpectedLow:   floatPtr(r.ExpectedLow),
		ExpectedHigh:  floatPtr(r.ExpectedHigh),
		ZScore:        floatPtr(r.ZScore),
		Description:   r.Description,
		RunID:         r.RunID,
		DetectedAt:    r.DetectedAt,
		Status:        domain.AnomalyStatus(r.Status),
	}
}

func toQualityLogRow(q domain.QualityReport) QualityLogRow {
	return QualityLogRow{
		RunID:                q.RunID,
		ProcessingDate:       q.ProcessingDate,
		BankID:               q.BankID,
		TotalRecords:         int64(q.TotalRecords),
		ValidRecords:         int64(q.ValidRecords),
		NullRecords:          int64(q.Defects.Null),
		InvalidTypeRecords:   int64(q.Defects.InvalidType),
		InvalidAmountRecords: int64(q.Defects.InvalidAmount),
		FutureDatedRecords:   int64(q.Defects.FutureDated),
		DuplicateRecords:     int64(q.Defects.Duplicate),
		FlaggedRecords:       int64(q.FlaggedRecords),
		AnomalyCount:         int64(q.AnomalyCount),
		PenalizedAnomalies:   int64(q.PenalizedAnomalies),
		QualityScore:         q.Score,
		QualityLevel:         string(q.Level),
		Status:               string(q.Status),
		DurationSeconds:      q.DurationSeconds,
		GeneratedAt:          q.GeneratedAt,
	}
}
