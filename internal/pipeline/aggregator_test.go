package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

func TestAggregator_Aggregate(t *testing.T) {
	clean := newTestCleaner(t).Clean(newBatch(
		raw("T1", "BNK002", "C1", "10.00", "2025-09-07", "PAYMENT"),
		raw("T2", "BNK001", "C1", "30.00", "2025-09-07", "DEPOSIT"),
		raw("T3", "BNK001", "C2", "10.00", "2025-09-07", "DEPOSIT"),
		raw("T4", "BNK001", "C1", "20.00", "2025-09-07", "TRANSFER"),
		raw("T5", "BNK001", "C3", "100.00", "2025-09-07", nil),
		raw("T6", "BNK001", "C3", "5.00", "2025-09-06", "PAYMENT"),
		raw("T7", "BAD-ID", "C3", "5.00", "2025-09-07", "PAYMENT"),
	))
	processedAt := time.Date(2025, 9, 8, 2, 0, 0, 0, time.UTC)
	scores := map[string]float64{"BNK001": 91.5, "BNK002": 100}

	rows := NewAggregator(DefaultConfig()).Aggregate(clean.Records, scores, "run-1", processedAt)
	require.Len(t, rows, 3)

	assert.Equal(t, "BNK001", rows[0].BankID)
	assert.Equal(t, testDate.AddDays(-1), rows[0].Date)
	assert.Equal(t, int64(1), rows[0].TransactionCount)
	assert.Equal(t, 0.0, rows[0].StdTransactionValue)

	day := rows[1]
	assert.Equal(t, "BNK001", day.BankID)
	assert.Equal(t, testDate, day.Date)
	assert.Equal(t, int64(4), day.TransactionCount)
	assert.Equal(t, "160.00", day.TotalVolume.StringFixed(2))
	assert.Equal(t, "40.00", day.AvgTransactionValue.StringFixed(2))
	assert.Equal(t, "25.00", day.MedianTransactionValue.StringFixed(2))
	assert.Equal(t, "10.00", day.MinTransactionValue.StringFixed(2))
	assert.Equal(t, "100.00", day.MaxTransactionValue.StringFixed(2))
	assert.InDelta(t, 40.82, day.StdTransactionValue, 1e-9)
	assert.Equal(t, int64(3), day.UniqueCustomers)
	assert.Equal(t, int64(4), day.UniqueTransactions)
	assert.Equal(t, map[domain.TransactionType]int64{
		domain.TypeDeposit:  2,
		domain.TypeTransfer: 1,
		domain.TypeUnknown:  1,
	}, day.TypeBreakdown)
	assert.InDelta(t, 1.33, day.AvgTransactionsPerCustomer, 1e-9)
	assert.Equal(t, "53.33", day.AvgValuePerCustomer.StringFixed(2))
	assert.Equal(t, 91.5, day.DataQualityScore)
	assert.Equal(t, "run-1", day.RunID)
	assert.Equal(t, processedAt, day.ProcessedAt)

	assert.Equal(t, "BNK002", rows[2].BankID)
	assert.Equal(t, 100.0, rows[2].DataQualityScore)

	var total int64
	for _, r := range rows {
		total += r.TransactionCount
	}
	assert.Equal(t, int64(clean.Valid()-clean.Flagged()), total)
}

func TestAggregator_NoRecordsNoRows(t *testing.T) {
	rows := NewAggregator(DefaultConfig()).Aggregate(nil, nil, "run-1", time.Now())
	assert.Empty(t, rows)
}
