package pipeline

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
)

// Runner loads the batch for a date and runs it through the pipeline. It
// is the entry point used by the CLI, the worker and the API.
type Runner struct {
	source   RecordSource
	pipeline *BatchPipeline
	locker   PartitionLocker
	observer Observer
	recorder RunRecorder
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithRunRecorder records every finished run, e.g. in a pipeline_runs table.
func WithRunRecorder(rec RunRecorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// NewRunner creates a runner. locker and observer may be nil.
func NewRunner(source RecordSource, p *BatchPipeline, locker PartitionLocker, observer Observer, opts ...RunnerOption) *Runner {
	r := &Runner{source: source, pipeline: p, locker: locker, observer: observer}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes one processing date.
func (r *Runner) Run(ctx context.Context, date civil.Date) *RunResult {
	res := r.run(ctx, date)
	if r.observer != nil {
		r.observer.ObserveRun(res)
	}
	if r.recorder != nil {
		// The run log is written even when ctx was cancelled mid-run.
		if err := r.recorder.RecordRun(context.WithoutCancel(ctx), res); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("run_id", res.RunID).Msg("Failed to record run")
		}
	}
	return res
}

// Pipeline returns the wrapped pipeline.
func (r *Runner) Pipeline() *BatchPipeline { return r.pipeline }

func (r *Runner) run(ctx context.Context, date civil.Date) *RunResult {
	if r.locker != nil {
		release, err := r.locker.Acquire(ctx, PartitionKey(date))
		if err != nil {
			return r.pipeline.Fail(ctx, date, err)
		}
		defer release()
	}

	batch, err := r.source.LoadBatch(ctx, date)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("processing_date", date.String()).Msg("Failed to load batch")
		var structural *StructuralError
		if errors.As(err, &structural) {
			return r.pipeline.Fail(ctx, date, err)
		}
		return r.pipeline.Fail(ctx, date, &SourceError{Source: fmt.Sprintf("%T", r.source), Err: err})
	}
	return r.pipeline.Run(ctx, batch)
}

// PartitionKey is the lock key for a processing date.
func PartitionKey(date civil.Date) string {
	return "bank-batch:partition:" + date.String()
}
