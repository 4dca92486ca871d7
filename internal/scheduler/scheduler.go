// Package scheduler enqueues the daily partition run on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-batch-pipeline/internal/jobs"
)

// Scheduler publishes a run for the previous day each time the schedule
// fires. Schedules use the five-field cron format and are evaluated in UTC.
type Scheduler struct {
	cron      *cron.Cron
	publisher jobs.Publisher
	log       zerolog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler for spec, e.g. "0 2 * * *".
func New(spec string, publisher jobs.Publisher, log zerolog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		publisher: publisher,
		log:       log,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Trigger(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.log.Info().Time("next_run", e.Next).Msg("Scheduler started")
	}
}

// Stop stops the schedule and waits for a running trigger to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// Trigger enqueues the run for yesterday's date (UTC) and returns the job.
func (s *Scheduler) Trigger(ctx context.Context) (*jobs.PartitionJob, error) {
	date := civil.DateOf(s.now().UTC()).AddDays(-1)
	job := &jobs.PartitionJob{ProcessingDate: date, Trigger: jobs.TriggerSchedule}
	if err := s.publisher.PublishPartition(ctx, job); err != nil {
		s.log.Error().Err(err).Str("processing_date", date.String()).Msg("Failed to enqueue scheduled run")
		return nil, err
	}
	s.log.Info().
		Str("job_id", job.JobID).
		Str("processing_date", date.String()).
		Msg("Scheduled run enqueued")
	return job, nil
}
