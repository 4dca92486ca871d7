package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-batch-pipeline/internal/jobs"
)

func TestStore_ListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 9, 8, 2, 0, 0, 0, time.UTC)

	for i, j := range []*jobs.PartitionJob{
		{JobID: "a", ProcessingDate: day, Status: jobs.JobStatusCompleted},
		{JobID: "b", ProcessingDate: day.AddDays(-1), Status: jobs.JobStatusFailed},
		{JobID: "c", ProcessingDate: day, Status: jobs.JobStatusPending},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveJob(ctx, j))
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"c", "b", "a"}},
		{"by date", jobs.JobFilter{ProcessingDate: day}, []string{"c", "a"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusFailed}, []string{"b"}},
		{"limit", jobs.JobFilter{Limit: 1}, []string{"c"}},
		{"offset", jobs.JobFilter{Offset: 2}, []string{"a"}},
		{"offset past end", jobs.JobFilter{Offset: 5}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			ids := []string{}
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_GetAndUpdate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	assert.ErrorIs(t, s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound)
	assert.Error(t, s.SaveJob(ctx, &jobs.PartitionJob{}))

	require.NoError(t, s.SaveJob(ctx, &jobs.PartitionJob{JobID: "a", Status: jobs.JobStatusPending}))
	require.NoError(t, s.UpdateJobStatus(ctx, "a", jobs.JobStatusFailed, "boom"))

	got, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	got.Status = jobs.JobStatusCompleted
	again, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, again.Status)
}
