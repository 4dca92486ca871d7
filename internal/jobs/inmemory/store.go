package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/bank-batch-pipeline/internal/jobs"
)

// Store keeps partition jobs in a map guarded by a RWMutex. Callers always
// receive copies, so a job handed out can be mutated freely. Nothing
// survives a restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.PartitionJob
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*jobs.PartitionJob)}
}

func (s *Store) SaveJob(_ context.Context, job *jobs.PartitionJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	stored := *job
	s.mu.Lock()
	s.jobs[job.JobID] = &stored
	s.mu.Unlock()
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*jobs.PartitionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	out := *job
	return &out, nil
}

// ListJobs returns matching jobs newest first, ties broken by id.
func (s *Store) ListJobs(_ context.Context, filter jobs.JobFilter) ([]*jobs.PartitionJob, error) {
	s.mu.RLock()
	matched := make([]*jobs.PartitionJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Matches(job) {
			c := *job
			matched = append(matched, &c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.JobID < b.JobID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	return page(matched, filter.Offset, filter.Limit), nil
}

func page(list []*jobs.PartitionJob, offset, limit int) []*jobs.PartitionJob {
	if offset >= len(list) && offset > 0 {
		return []*jobs.PartitionJob{}
	}
	if offset > 0 {
		list = list[offset:]
	}
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}

// UpdateJobStatus sets the status in place. An empty errorMsg keeps the
// previous error text.
func (s *Store) UpdateJobStatus(_ context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	return nil
}

var _ jobs.JobStore = (*Store)(nil)
