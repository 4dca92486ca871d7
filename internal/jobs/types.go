package jobs

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-batch-pipeline/internal/domain"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeRunPartition runs the batch pipeline for one processing date.
	JobTypeRunPartition JobType = "run_partition"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// Triggers.
const (
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
	TriggerBackfill = "backfill"
)

// ErrJobNotFound is returned by a JobStore for an unknown id.
var ErrJobNotFound = errors.New("job not found")

// PartitionJob is a request to process one processing date.
type PartitionJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// ProcessingDate is the partition to run.
	ProcessingDate civil.Date `json:"processing_date"`

	// Trigger says who asked for the run.
	Trigger string `json:"trigger,omitempty"`

	// RunID is the id of the last pipeline run for this job.
	RunID string `json:"run_id,omitempty"`

	// RunStatus is the status of the last pipeline run.
	RunStatus domain.RunStatus `json:"run_status,omitempty"`

	// QualityScore is the overall score of the last successful run.
	QualityScore *float64 `json:"quality_score,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *PartitionJob) GetID() string { return j.JobID }

// GetType implements the Job interface.
func (j *PartitionJob) GetType() JobType { return JobTypeRunPartition }

// GetStatus implements the Job interface.
func (j *PartitionJob) GetStatus() JobStatus { return j.Status }

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishPartition enqueues a partition run.
	PublishPartition(ctx context.Context, job *PartitionJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It returns an error if the job failed; wrap it with Permanent to stop
// retries.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *PartitionJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*PartitionJob, error)

	// ListJobs retrieves jobs, newest first, with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*PartitionJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// ProcessingDate filters jobs by partition when non-zero.
	ProcessingDate civil.Date

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Matches reports whether job passes the date and status criteria. Paging
// is left to the store.
func (f JobFilter) Matches(job *PartitionJob) bool {
	if !f.ProcessingDate.IsZero() && job.ProcessingDate != f.ProcessingDate {
		return false
	}
	return f.Status == "" || job.Status == f.Status
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
