package pipeline

import (
	"context"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// RecordSource loads the raw batch for a processing date.
type RecordSource interface {
	LoadBatch(ctx context.Context, date civil.Date) (*domain.Batch, error)
}

// HistoryReader returns prior daily volumes for the given banks, for the
// days in [before-days, before).
type HistoryReader interface {
	ReadHistory(ctx context.Context, banks []string, before civil.Date, days int) ([]domain.DailyVolume, error)
}

// PartitionWrite is everything one run persists for its processing date.
type PartitionWrite struct {
	ProcessingDate civil.Date
	RunID          string
	Aggregates     []domain.DailyBankAggregate
	Anomalies      []domain.Anomaly
	Reports        []domain.QualityReport
}

// Sink persists a partition in a single transaction: aggregates are
// upserted by (bank id, date), anomalies are inserted if absent and
// quality reports are appended.
type Sink interface {
	WritePartition(ctx context.Context, w PartitionWrite) error
}

// AggregateReader reads persisted results back for reporting and checks.
type AggregateReader interface {
	ReadAggregates(ctx context.Context, date civil.Date) ([]domain.DailyBankAggregate, error)
	ReadAnomalies(ctx context.Context, date civil.Date) ([]domain.Anomaly, error)
}

// Store is a sink that can also serve history and read-backs.
type Store interface {
	Sink
	HistoryReader
	AggregateReader
	Close() error
}

// PartitionLocker keeps two runs from processing the same date at once.
type PartitionLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RunRecorder keeps a log of finished runs, failed ones included.
type RunRecorder interface {
	RecordRun(ctx context.Context, result *RunResult) error
}

// Observer is notified of every finished run.
type Observer interface {
	ObserveRun(result *RunResult)
}
