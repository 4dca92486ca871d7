package bigquery

import (
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

var day = civil.Date{Year: 2025, Month: 9, Day: 7}

func TestAggregateRowRoundTrip(t *testing.T) {
	agg := domain.DailyBankAggregate{
		BankID:                     "BNK001",
		Date:                       day,
		TotalVolume:                decimal.RequireFromString("5505.00"),
		TransactionCount:           44,
		AvgTransactionValue:        decimal.RequireFromString("125.11"),
		MedianTransactionValue:     decimal.RequireFromString("125.50"),
		StdTransactionValue:        12.5,
		MinTransactionValue:        decimal.RequireFromString("103"),
		MaxTransactionValue:        decimal.RequireFromString("147"),
		UniqueCustomers:            20,
		UniqueTransactions:         44,
		TypeBreakdown:              map[domain.TransactionType]int64{domain.TypeTransfer: 40, domain.TypeUnknown: 4},
		AvgTransactionsPerCustomer: 2.2,
		AvgValuePerCustomer:        decimal.RequireFromString("275.25"),
		DataQualityScore:           87,
		RunID:                      "run-1",
		ProcessedAt:                time.Date(2025, 9, 8, 2, 0, 0, 0, time.UTC),
	}

	row := toAggregateRow(agg)
	assert.Equal(t, int64(40), row.TransferCount)
	assert.Equal(t, int64(4), row.UnknownCount)
	assert.Zero(t, row.DepositCount)

	back := row.toDomain()
	assert.True(t, agg.TotalVolume.Equal(back.TotalVolume))
	assert.True(t, agg.MedianTransactionValue.Equal(back.MedianTransactionValue))
	assert.True(t, agg.MinTransactionValue.Equal(back.MinTransactionValue))
	assert.Equal(t, agg.TypeBreakdown, back.TypeBreakdown)
	assert.Equal(t, agg.UniqueCustomers, back.UniqueCustomers)
}

func TestAnomalyRowNullables(t *testing.T) {
	z := 3.4
	a := domain.Anomaly{
		AnomalyID:   "id-1",
		Date:        day,
		BankID:      "BNK001",
		RecordIndex: domain.NoRecordIndex,
		Class:       domain.ClassStatisticalOutlier,
		Severity:    domain.SeverityHigh,
		ZScore:      &z,
		Status:      domain.AnomalyOpen,
	}
	row := toAnomalyRow(a)
	assert.False(t, row.TransactionID.Valid)
	assert.False(t, row.ExpectedLow.Valid)
	assert.True(t, row.ZScore.Valid)

	back := row.toDomain()
	assert.Equal(t, a, back)
}

func TestPartitionScript(t *testing.T) {
	script := partitionScript("proj", "banking")

	assert.True(t, strings.HasPrefix(script, "BEGIN TRANSACTION;"))
	assert.Contains(t, script, "MERGE `proj.banking.daily_bank_aggregates` T")
	assert.Contains(t, script, "ON T.bank_id = S.bank_id AND T.transaction_date = S.transaction_date")
	assert.Contains(t, script, "MERGE `proj.banking.anomalies` T")
	assert.Contains(t, script, "INSERT INTO `proj.banking.data_quality_log`")
	assert.Contains(t, script, "COMMIT TRANSACTION;")
	assert.NotContains(t, script, "UPDATE SET bank_id")
	// Anomalies are never updated once written.
	assert.Equal(t, 1, strings.Count(script, "WHEN MATCHED"))
}

func TestToRunRow(t *testing.T) {
	res := &pipeline.RunResult{
		RunID:          "run-1",
		ProcessingDate: day,
		Status:         domain.StatusFailed,
		Stage:          pipeline.StageWriting,
		Counters:       pipeline.RunCounters{Processed: 10, Valid: 9},
		Error:          pipeline.NewErrorPayload(&pipeline.SinkWriteError{Attempts: 5, Err: errors.New(strings.Repeat("x", 3000))}),
	}
	row := toRunRow(res)
	require.True(t, row.ErrorKind.Valid)
	assert.Equal(t, "sink_write", row.ErrorKind.StringVal)
	assert.Len(t, row.ErrorMessage.StringVal, maxErrorMessageLen)
	assert.False(t, row.FinishedTS.Valid)
	assert.Equal(t, int64(10), row.RecordsProcessed)
}
