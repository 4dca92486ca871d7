package memory

import (
	"context"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

var day = civil.Date{Year: 2025, Month: 9, Day: 7}

func agg(bank string, date civil.Date, volume int64) domain.DailyBankAggregate {
	return domain.DailyBankAggregate{
		BankID:           bank,
		Date:             date,
		TotalVolume:      decimal.NewFromInt(volume),
		TransactionCount: 1,
		TypeBreakdown:    map[domain.TransactionType]int64{domain.TypeTransfer: 1},
	}
}

func TestStore_WritePartitionIsIdempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	anomaly := domain.Anomaly{Date: day, BankID: "BNK001", RecordIndex: 3, Class: domain.ClassBusinessRuleViolation, Rule: domain.RuleAmountRange}.WithID()
	w := pipeline.PartitionWrite{
		ProcessingDate: day,
		Aggregates:     []domain.DailyBankAggregate{agg("BNK001", day, 100)},
		Anomalies:      []domain.Anomaly{anomaly},
		Reports:        []domain.QualityReport{{BankID: domain.AllBanks, ProcessingDate: day}},
	}
	require.NoError(t, s.WritePartition(ctx, w))

	w.Aggregates = []domain.DailyBankAggregate{agg("BNK001", day, 250)}
	require.NoError(t, s.WritePartition(ctx, w))

	rows, err := s.ReadAggregates(ctx, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "250", rows[0].TotalVolume.String())

	anomalies, err := s.ReadAnomalies(ctx, day)
	require.NoError(t, err)
	assert.Len(t, anomalies, 1)
	assert.Len(t, s.Reports(), 2)
	assert.Equal(t, 2, s.Writes())
}

func TestStore_ReadHistoryWindow(t *testing.T) {
	s := NewStore()
	s.Seed(
		agg("BNK001", day.AddDays(-31), 1),
		agg("BNK001", day.AddDays(-30), 2),
		agg("BNK001", day.AddDays(-1), 3),
		agg("BNK001", day, 4),
		agg("BNK002", day.AddDays(-1), 5),
	)

	got, err := s.ReadHistory(context.Background(), []string{"BNK001"}, day, 30)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, day.AddDays(-30), got[0].Date)
	assert.Equal(t, day.AddDays(-1), got[1].Date)
	assert.Equal(t, 3.0, got[1].TotalVolume)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	s.Seed(agg("BNK001", day, 1))

	rows, err := s.ReadAggregates(context.Background(), day)
	require.NoError(t, err)
	rows[0].TypeBreakdown[domain.TypeDeposit] = 99

	again, err := s.ReadAggregates(context.Background(), day)
	require.NoError(t, err)
	assert.NotContains(t, again[0].TypeBreakdown, domain.TypeDeposit)
}

func TestStore_RecordRun(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.RecordRun(context.Background(), &pipeline.RunResult{RunID: "r1", Status: domain.StatusSuccess}))
	runs := s.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].RunID)
}

func TestStore_WriteHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewStore().WritePartition(ctx, pipeline.PartitionWrite{}))
}
