package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/infra/postgres"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

// startPostgresContainer starts a PostgreSQL testcontainer and returns the
// connection URL.
func startPostgresContainer(t *testing.T, ctx context.Context) string {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
}

func TestRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dbURL := startPostgresContainer(t, ctx)

	pre, post, err := postgres.Migrate(dbURL)
	require.NoError(t, err)
	assert.Equal(t, uint(0), pre)
	assert.Equal(t, uint(2), post)

	// Running again is a no-op.
	pre, post, err = postgres.Migrate(dbURL)
	require.NoError(t, err)
	assert.Equal(t, pre, post)

	repo, err := postgres.Open(ctx, dbURL)
	require.NoError(t, err)
	defer repo.Close()

	day := civil.Date{Year: 2025, Month: 9, Day: 7}
	now := time.Date(2025, 9, 8, 2, 0, 0, 0, time.UTC)
	z := 3.2
	lo, hi := 900.0, 1100.0

	write := pipeline.PartitionWrite{
		ProcessingDate: day,
		RunID:          "run-1",
		Aggregates: []domain.DailyBankAggregate{{
			BankID:                     "BNK001",
			Date:                       day,
			TotalVolume:                decimal.RequireFromString("5505.00"),
			TransactionCount:           44,
			AvgTransactionValue:        decimal.RequireFromString("125.11"),
			MedianTransactionValue:     decimal.RequireFromString("125.50"),
			StdTransactionValue:        12.7,
			MinTransactionValue:        decimal.RequireFromString("103.00"),
			MaxTransactionValue:        decimal.RequireFromString("147.00"),
			UniqueCustomers:            20,
			UniqueTransactions:         44,
			TypeBreakdown:              map[domain.TransactionType]int64{domain.TypeTransfer: 44},
			AvgTransactionsPerCustomer: 2.2,
			AvgValuePerCustomer:        decimal.RequireFromString("275.25"),
			DataQualityScore:           87,
			RunID:                      "run-1",
			ProcessedAt:                now,
		}},
		Anomalies: []domain.Anomaly{
			domain.Anomaly{
				Date:          day,
				BankID:        "BNK001",
				RecordIndex:   domain.NoRecordIndex,
				Class:         domain.ClassStatisticalOutlier,
				Severity:      domain.SeverityHigh,
				Rule:          domain.RuleDailyVolumeZ,
				ObservedValue: 5505,
				ExpectedLow:   &lo,
				ExpectedHigh:  &hi,
				ZScore:        &z,
				Description:   "daily volume outlier",
				RunID:         "run-1",
				DetectedAt:    now,
				Status:        domain.AnomalyOpen,
			}.WithID(),
		},
		Reports: []domain.QualityReport{{
			RunID: "run-1", ProcessingDate: day, BankID: domain.AllBanks,
			TotalRecords: 50, ValidRecords: 44, Score: 87, Level: domain.LevelGood,
			Status: domain.StatusSuccess, GeneratedAt: now,
		}},
	}

	require.NoError(t, repo.WritePartition(ctx, write))
	require.NoError(t, repo.WritePartition(ctx, write))

	aggs, err := repo.ReadAggregates(ctx, day)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, "5505", aggs[0].TotalVolume.String())
	assert.Equal(t, int64(44), aggs[0].TypeBreakdown[domain.TypeTransfer])
	assert.True(t, aggs[0].ProcessedAt.Equal(now))

	anomalies, err := repo.ReadAnomalies(ctx, day)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, write.Anomalies[0].AnomalyID, anomalies[0].AnomalyID)
	assert.Empty(t, anomalies[0].TransactionID)
	require.NotNil(t, anomalies[0].ZScore)
	assert.InDelta(t, 3.2, *anomalies[0].ZScore, 1e-9)

	history, err := repo.ReadHistory(ctx, []string{"BNK001"}, day.AddDays(1), 30)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, 5505.0, history[0].TotalVolume, 1e-9)

	history, err = repo.ReadHistory(ctx, []string{"BNK001"}, day, 30)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, repo.RecordRun(ctx, &pipeline.RunResult{
		RunID: "run-1", ProcessingDate: day, Status: domain.StatusSuccess,
		Stage: pipeline.StageSuccess, StartedAt: now, FinishedAt: now,
	}))
}
