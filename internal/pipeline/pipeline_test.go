package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
)

func newTestPipeline(t *testing.T, cfg Config, sink Sink, opts ...Option) *BatchPipeline {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock()), WithRunIDs(func() string { return "run-test" })}, opts...)
	p, err := NewBatchPipeline(cfg, sink, opts...)
	require.NoError(t, err)
	return p
}

func stages(res *RunResult) []Stage {
	out := make([]Stage, len(res.Transitions))
	for i, tr := range res.Transitions {
		out[i] = tr.Stage
	}
	return out
}

func TestBatchPipeline_Success(t *testing.T) {
	sink := &MockSink{}
	p := newTestPipeline(t, testConfig(), sink)

	res := p.Run(context.Background(), steadyBatch("BNK001", 12))

	require.NoError(t, res.Err())
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Equal(t, StageSuccess, res.Stage)
	assert.Equal(t, []Stage{
		StagePending, StageValidating, StageCleaning, StageAnalyzing,
		StageScoring, StageAggregating, StageWriting, StageSuccess,
	}, stages(res))
	assert.Equal(t, "run-test", res.RunID)
	assert.Equal(t, 12, res.Counters.Processed)
	assert.Equal(t, 12, res.Counters.Loaded)
	assert.Equal(t, 1, res.Counters.Rows)
	assert.Equal(t, 1, res.WriteAttempts)
	require.NotNil(t, res.Report)
	assert.Equal(t, 100.0, res.Report.Score)
	assert.Equal(t, domain.StatusSuccess, res.Report.Status)

	require.NotNil(t, sink.Last)
	assert.Equal(t, testDate, sink.Last.ProcessingDate)
	assert.Len(t, sink.Last.Aggregates, 1)
	require.Len(t, sink.Last.Reports, 2)
	assert.Equal(t, domain.AllBanks, sink.Last.Reports[0].BankID)
	assert.Equal(t, "BNK001", sink.Last.Reports[1].BankID)
	assert.Equal(t, "run-test", sink.Last.Reports[1].RunID)
}

func TestBatchPipeline_StructuralDefectFails(t *testing.T) {
	sink := &MockSink{}
	p := newTestPipeline(t, testConfig(), sink)

	batch := steadyBatch("BNK001", 3)
	batch.Fields = []string{domain.FieldTransactionID, domain.FieldBankID}
	res := p.Run(context.Background(), batch)

	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, StageValidating, res.Stage)
	assert.Equal(t, StageFailed, res.Transitions[len(res.Transitions)-1].Stage)
	require.NotNil(t, res.Error)
	assert.Equal(t, "structural", res.Error.Kind)
	assert.Equal(t, StageValidating, res.Error.Stage)
	assert.False(t, res.Error.Retryable)
	assert.ElementsMatch(t, []string{domain.FieldCustomerID, domain.FieldAmount, domain.FieldTransactionDate}, res.Error.Missing)
	assert.Zero(t, sink.Calls)

	var structural *StructuralError
	assert.True(t, errors.As(res.Err(), &structural))
}

func TestBatchPipeline_EmptyBatchFails(t *testing.T) {
	p := newTestPipeline(t, testConfig(), &MockSink{})
	res := p.Run(context.Background(), newBatch())
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, "structural", res.Error.Kind)
}

func TestBatchPipeline_SinkRetries(t *testing.T) {
	t.Run("transient failures are retried", func(t *testing.T) {
		failures := 2
		sink := &MockSink{WritePartitionFunc: func(ctx context.Context, w PartitionWrite) error {
			if failures > 0 {
				failures--
				return errors.New("connection reset")
			}
			return nil
		}}
		res := newTestPipeline(t, testConfig(), sink).Run(context.Background(), steadyBatch("BNK001", 5))

		assert.Equal(t, domain.StatusSuccess, res.Status)
		assert.Equal(t, 3, sink.Calls)
		assert.Equal(t, 3, res.WriteAttempts)
	})

	t.Run("exhausted retries fail the run", func(t *testing.T) {
		sink := &MockSink{WritePartitionFunc: func(ctx context.Context, w PartitionWrite) error {
			return errors.New("warehouse unavailable")
		}}
		res := newTestPipeline(t, testConfig(), sink).Run(context.Background(), steadyBatch("BNK001", 5))

		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.Equal(t, StageWriting, res.Stage)
		assert.Equal(t, 3, sink.Calls)
		require.NotNil(t, res.Error)
		assert.Equal(t, "sink_write", res.Error.Kind)
		assert.Equal(t, 3, res.Error.Attempts)
		assert.True(t, res.Error.Retryable)
		assert.Nil(t, res.Report)
		assert.Empty(t, res.Aggregates)
	})
}

func TestBatchPipeline_PartialBelowFloor(t *testing.T) {
	cfg := testConfig()
	cfg.PartialFloor = 60

	batch := steadyBatch("BNK001", 4)
	for i := 0; i < 6; i++ {
		batch.Records = append(batch.Records, raw(fmt.Sprintf("N%d", i), "BNK001", "C1", nil, "2025-09-07", "PAYMENT"))
	}
	sink := &MockSink{}
	res := newTestPipeline(t, cfg, sink).Run(context.Background(), batch)

	assert.Equal(t, domain.StatusPartial, res.Status)
	assert.Equal(t, StagePartial, res.Stage)
	assert.Equal(t, 40.0, res.Report.Score)
	assert.Equal(t, domain.LevelPoor, res.Report.Level)
	require.NotNil(t, sink.Last)
	assert.Equal(t, domain.StatusPartial, sink.Last.Reports[0].Status)
	assert.Len(t, sink.Last.Aggregates, 1)
}

func TestBatchPipeline_HistoryFailureDegrades(t *testing.T) {
	hist := &MockHistoryReader{Err: errors.New("table not found")}
	res := newTestPipeline(t, testConfig(), &MockSink{}, WithHistory(hist)).
		Run(context.Background(), steadyBatch("BNK001", 12))

	assert.Equal(t, domain.StatusSuccess, res.Status)
	for _, a := range res.Anomalies {
		assert.NotEqual(t, domain.ClassStatisticalOutlier, a.Class)
	}
}

func TestBatchPipeline_DailyVolumeOutlier(t *testing.T) {
	hist := &MockHistoryReader{Rows: history("BNK001", alternating(10)...)}
	res := newTestPipeline(t, testConfig(), &MockSink{}, WithHistory(hist)).
		Run(context.Background(), steadyBatch("BNK001", 12))

	require.Len(t, res.Anomalies, 1)
	a := res.Anomalies[0]
	assert.Equal(t, domain.ClassStatisticalOutlier, a.Class)
	assert.Equal(t, domain.SeverityHigh, a.Severity)
	assert.Equal(t, "run-test", a.RunID)
	assert.False(t, a.DetectedAt.IsZero())
	assert.InDelta(t, 99.0, res.Report.Score, 1e-9)
}

type panicSink struct{}

func (panicSink) WritePartition(ctx context.Context, w PartitionWrite) error { panic("boom") }

func TestBatchPipeline_PanickingStageBecomesStageError(t *testing.T) {
	res := newTestPipeline(t, testConfig(), panicSink{}).Run(context.Background(), steadyBatch("BNK001", 2))
	assert.Equal(t, domain.StatusFailed, res.Status)
	var stageErr *StageError
	require.True(t, errors.As(res.Err(), &stageErr))
	assert.Equal(t, StageWriting, stageErr.Stage)
}

func TestErrorPayload(t *testing.T) {
	assert.Nil(t, NewErrorPayload(nil))

	p := NewErrorPayload(&StageError{Stage: StageCleaning, Row: 7, Err: errors.New("bad")})
	require.NotNil(t, p.Row)
	assert.Equal(t, 7, *p.Row)
	assert.Equal(t, "internal", p.Kind)
	assert.True(t, p.Retryable)

	p = NewErrorPayload(&StageError{Stage: StagePending, Row: -1, Err: &SourceError{Source: "gcs", Err: errors.New("403")}})
	assert.Equal(t, "source", p.Kind)
	assert.Nil(t, p.Row)

	p = NewErrorPayload(fmt.Errorf("acquire: %w", ErrPartitionLocked))
	assert.Equal(t, "locked", p.Kind)
}

func TestBatchPipeline_ScoreLogKeepsLogLevel(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(&buf))

	res := newTestPipeline(t, testConfig(), &MockSink{}).Run(ctx, steadyBatch("BNK001", 12))
	require.NoError(t, res.Err())

	var scored map[string]interface{}
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		if entry["message"] == "Scored batch" {
			scored = entry
		}
	}
	require.NotNil(t, scored)
	assert.Equal(t, "info", scored["level"])
	assert.Equal(t, string(domain.LevelExcellent), scored["quality_level"])
	assert.Equal(t, "run-test", scored["run_id"])
}
