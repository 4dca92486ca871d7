package jobs

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

// PartitionRunner runs one processing date. *pipeline.Runner implements it.
type PartitionRunner interface {
	Run(ctx context.Context, date civil.Date) *pipeline.RunResult
}

// NewRunHandler returns a handler that runs the pipeline for partition
// jobs. PARTIAL runs complete the job. FAILED runs fail it, permanently
// when the cause is not retryable (bad schema or config).
func NewRunHandler(runner PartitionRunner) JobHandler {
	return func(ctx context.Context, job Job) error {
		pj, ok := job.(*PartitionJob)
		if !ok {
			return Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		log := logger.FromContext(ctx).With().
			Str("job_id", pj.JobID).
			Str("processing_date", pj.ProcessingDate.String()).
			Logger()
		log.Info().Str("trigger", pj.Trigger).Msg("Processing partition job")

		res := runner.Run(logger.WithContext(ctx, log), pj.ProcessingDate)
		pj.RunID = res.RunID
		pj.RunStatus = res.Status
		if res.Report != nil {
			score := res.Report.Score
			pj.QualityScore = &score
		}

		if res.Status != domain.StatusFailed {
			log.Info().Str("run_id", res.RunID).Str("status", string(res.Status)).Msg("Partition job finished")
			return nil
		}

		err := res.Err()
		if err == nil {
			err = fmt.Errorf("run %s failed", res.RunID)
		}
		log.Error().Err(err).Str("run_id", res.RunID).Msg("Partition run failed")
		if !pipeline.IsRetryable(err) {
			return Permanent(err)
		}
		return err
	}
}
