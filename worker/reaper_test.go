package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamlabs/taskqueue/job"
	"github.com/loamlabs/taskqueue/queue"
	"github.com/loamlabs/taskqueue/store/memory"
)

// markStarted backdates a processing job's start time so the sweep sees it
// as overrun.
func markStarted(t *testing.T, s *memory.Store, id string, ago time.Duration) {
	t.Helper()
	err := s.HSet(context.Background(), "job:status:"+id, map[string]string{
		job.FieldStartedAt: job.FormatTime(time.Now().Add(-ago)),
	})
	require.NoError(t, err)
}

func TestReaper_SweepRequeuesStuckJobs(t *testing.T) {
	s := memory.New()
	q := queue.New(s)
	ctx := context.Background()

	stuckID, err := q.Submit(ctx, job.TypeBackup, nil, queue.WithTimeout(time.Minute))
	require.NoError(t, err)
	healthyID, err := q.Submit(ctx, job.TypeBackup, nil, queue.WithTimeout(time.Minute))
	require.NoError(t, err)

	for range []string{stuckID, healthyID} {
		j, err := q.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, j)
		require.NoError(t, q.Start(ctx, j.ID))
	}

	markStarted(t, s, stuckID, 10*time.Minute)

	NewReaper(q, time.Minute).Sweep(ctx)

	rec, err := q.Status(ctx, stuckID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Contains(t, rec.LastError, "timed out")

	// The job within its allowance is untouched.
	rec, err = q.Status(ctx, healthyID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, rec.Status)
	assert.Zero(t, rec.RetryCount)
}

func TestReaper_ExhaustedStuckJobFails(t *testing.T) {
	s := memory.New()
	q := queue.New(s, queue.WithMaxRetries(0))
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeBackup, nil, queue.WithTimeout(time.Minute))
	require.NoError(t, err)
	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, id))

	markStarted(t, s, id, time.Hour)

	NewReaper(q, time.Minute).Sweep(ctx)

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, rec.Status)
	assert.False(t, rec.FailedAt.IsZero())
}

func TestReaper_RunStopsWithContext(t *testing.T) {
	q := queue.New(memory.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewReaper(q, time.Millisecond).Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
