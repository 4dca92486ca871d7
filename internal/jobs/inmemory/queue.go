package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/bank-batch-pipeline/internal/jobs"
	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
)

// QueueOptions configures a Queue.
type QueueOptions struct {
	// BufferSize is how many jobs can wait before PublishPartition blocks.
	BufferSize int
	// Workers is the number of concurrent consumers.
	Workers int
	// MaxRetries is applied to jobs published without one.
	MaxRetries int
	// RetryDelay is multiplied by the retry count before re-enqueueing.
	RetryDelay time.Duration
}

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	opts      QueueOptions
	jobChan   chan *jobs.PartitionJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool
}

// NewQueue creates a new in-memory job queue.
func NewQueue(opts QueueOptions, store jobs.JobStore) *Queue {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Queue{
		opts:      opts,
		jobChan:   make(chan *jobs.PartitionJob, opts.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
	}
}

// PublishPartition implements the Publisher interface.
func (q *Queue) PublishPartition(ctx context.Context, job *jobs.PartitionJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.opts.MaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface. It starts opts.Workers
// goroutines that call handler for each job.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.PartitionJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx)

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	job.CompletedAt = nil
	q.save(ctx, job)

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	var retryAfter time.Duration
	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case !jobs.IsPermanent(err) && job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		retryAfter = time.Duration(job.RetryCount) * q.opts.RetryDelay
		log.Warn().Err(err).Str("job_id", job.JobID).Int("retry", job.RetryCount).Dur("delay", retryAfter).Msg("Job failed, retrying")
	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Str("job_id", job.JobID).Msg("Job failed")
	}

	// Must happen before the retry is scheduled.
	q.save(ctx, job)

	if retryAfter > 0 {
		retry := *job
		time.AfterFunc(retryAfter, func() {
			retry.Status = jobs.JobStatusPending
			retry.StartedAt = nil
			retry.CompletedAt = nil
			if err := q.PublishPartition(context.WithoutCancel(ctx), &retry); err != nil {
				log.Error().Err(err).Str("job_id", retry.JobID).Msg("Failed to re-enqueue job")
			}
		})
	}
}

func (q *Queue) save(ctx context.Context, job *jobs.PartitionJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to save job")
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
