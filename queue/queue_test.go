package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/job"
	"github.com/loamlabs/taskqueue/store/memory"
)

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *memory.Store) {
	t.Helper()
	s := memory.New()
	return New(s, opts...), s
}

// rewriteField edits a raw status hash field, used to simulate elapsed time
// without sleeping through real delays.
func rewriteField(t *testing.T, q *Queue, s *memory.Store, id, field, value string) {
	t.Helper()
	err := s.HSet(context.Background(), q.statusKey(id), map[string]string{field: value})
	require.NoError(t, err)
}

func TestQueue_SubmitAndStatus(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeWebhook,
		map[string]any{"url": "https://example.com/hook"},
		WithPriority(job.PriorityHigh),
		WithTimeout(2*time.Minute))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, job.StatusPending, rec.Status)
	assert.Equal(t, job.TypeWebhook, rec.Type)
	assert.Equal(t, job.PriorityHigh, rec.Priority)
	assert.Equal(t, 2*time.Minute, rec.Timeout)
	assert.Zero(t, rec.RetryCount)

	depth, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestQueue_SubmitValidation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Submit(ctx, job.Type("mystery"), nil)
	assert.Error(t, err)

	_, err = q.Submit(ctx, job.TypeBackup, nil, WithPriority(job.Priority(7)))
	assert.Error(t, err)

	_, err = q.Submit(ctx, job.TypeBackup, nil, WithDelay(-time.Second))
	assert.Error(t, err)
}

func TestQueue_StatusUnknownJob(t *testing.T) {
	q, _ := newTestQueue(t)

	rec, err := q.Status(context.Background(), "no-such-job")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestQueue_NextOrdersByPriority(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	lowID, err := q.Submit(ctx, job.TypeCleanup, nil, WithPriority(job.PriorityLow))
	require.NoError(t, err)
	criticalID, err := q.Submit(ctx, job.TypeBackup, nil, WithPriority(job.PriorityCritical))
	require.NoError(t, err)
	mediumID, err := q.Submit(ctx, job.TypeWebhook, nil, WithPriority(job.PriorityMedium))
	require.NoError(t, err)

	var claimed []string
	for i := 0; i < 3; i++ {
		j, err := q.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, j)
		claimed = append(claimed, j.ID)
	}

	assert.Equal(t, []string{criticalID, mediumID, lowID}, claimed)

	j, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestQueue_NextInterleavesPriorityAndSubmissionOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	a, err := q.Submit(ctx, job.TypeBackup, nil, WithPriority(job.PriorityCritical))
	require.NoError(t, err)
	b, err := q.Submit(ctx, job.TypeCleanup, nil, WithPriority(job.PriorityLow))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	c, err := q.Submit(ctx, job.TypeWebhook, nil, WithPriority(job.PriorityCritical))
	require.NoError(t, err)

	// Both critical jobs beat the low job; among the critical pair,
	// submission order holds.
	for _, want := range []string{a, c, b} {
		j, err := q.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, want, j.ID)
	}
}

func TestQueue_NextOrdersBySubmissionWithinPriority(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	firstID, err := q.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond) // distinct ready times within the band
	secondID, err := q.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)

	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, firstID, j.ID)

	j, err = q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, secondID, j.ID)
}

func TestQueue_NextHonorsDelay(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeBackup, nil, WithDelay(time.Hour))
	require.NoError(t, err)

	// Not ready: the entry stays queued and nothing is claimed.
	j, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, j)

	depth, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	// Simulate the delay having elapsed.
	rewriteField(t, q, s, id, job.FieldCreatedAt,
		job.FormatTime(time.Now().Add(-2*time.Hour)))

	j, err = q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, id, j.ID)
}

func TestQueue_NextFiltersByType(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	// The backup job outranks the webhook job but must not be claimed by a
	// dispatcher that cannot route it.
	_, err := q.Submit(ctx, job.TypeBackup, nil, WithPriority(job.PriorityCritical))
	require.NoError(t, err)
	webhookID, err := q.Submit(ctx, job.TypeWebhook, nil, WithPriority(job.PriorityLow))
	require.NoError(t, err)

	j, err := q.Next(ctx, job.TypeWebhook)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, webhookID, j.ID)

	// The skipped job is still queued for a capable dispatcher.
	depth, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	j, err = q.Next(ctx, job.TypeWebhook)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestQueue_NextDiscardsStaleEntries(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	// Index entry whose status hash has expired.
	require.NoError(t, s.ZAdd(ctx, q.indexKey(), "ghost", 1))

	id, err := q.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)

	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, id, j.ID)

	// The stale entry was cleaned up in passing.
	depth, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueue_ConcurrentClaimsAreExclusive(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	const jobs = 20
	submitted := make(map[string]bool, jobs)
	for i := 0; i < jobs; i++ {
		id, err := q.Submit(ctx, job.TypeWebhook, map[string]any{"n": i})
		require.NoError(t, err)
		submitted[id] = true
	}

	var mu sync.Mutex
	claimed := make(map[string]int, jobs)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := q.Next(ctx)
				assert.NoError(t, err)
				if j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.True(t, submitted[id])
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestQueue_StartMarksProcessing(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeBackup, nil)
	require.NoError(t, err)

	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)

	require.NoError(t, q.Start(ctx, j.ID))

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, rec.Status)
	assert.False(t, rec.StartedAt.IsZero())

	processing, err := q.Processing(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, processing)

	// Starting twice is a state conflict.
	assert.ErrorIs(t, q.Start(ctx, id), qerrors.ErrNotPending)

	assert.ErrorIs(t, q.Start(ctx, "no-such-job"), qerrors.ErrNotFound)
}

func TestQueue_CompleteStoresResult(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeBackup, nil)
	require.NoError(t, err)

	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, id))

	result := job.Result{"backup_file": "backups/backup_1.db", "size_bytes": float64(2048)}
	require.NoError(t, q.Complete(ctx, id, result))

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusComplete, rec.Status)
	assert.False(t, rec.CompletedAt.IsZero())
	assert.Equal(t, result, rec.Result)

	processing, err := q.Processing(ctx)
	require.NoError(t, err)
	assert.Empty(t, processing)

	// Completing again is a state conflict.
	assert.ErrorIs(t, q.Complete(ctx, id, nil), qerrors.ErrNotProcessing)
}

func TestQueue_RecordErrorRetriesWithDemotion(t *testing.T) {
	q, _ := newTestQueue(t, WithMaxRetries(3))
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeWebhook, nil, WithPriority(job.PriorityHigh))
	require.NoError(t, err)

	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, id))

	require.NoError(t, q.RecordError(ctx, id, errors.New("connect refused"), true))

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, "connect refused", rec.LastError)
	assert.False(t, rec.LastErrorAt.IsZero())

	// The stored priority is unchanged; only the index position drops one
	// band, so the demotion never compounds across retries.
	assert.Equal(t, job.PriorityHigh, rec.Priority)

	// The retried job is claimable again.
	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, 1, j.RetryCount)
}

func TestQueue_RecordErrorDemotesBelowFreshLowerBand(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	failedID, err := q.Submit(ctx, job.TypeWebhook, nil, WithPriority(job.PriorityHigh))
	require.NoError(t, err)

	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, failedID))

	// While the high job is processing, a fresh medium job arrives.
	mediumID, err := q.Submit(ctx, job.TypeBackup, nil, WithPriority(job.PriorityMedium))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond) // distinct ready times within the band
	require.NoError(t, q.RecordError(ctx, failedID, errors.New("flaky"), true))

	// The retried high job re-enters at medium, behind work already queued
	// there.
	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, mediumID, j.ID)

	j, err = q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, failedID, j.ID)
}

func TestQueue_RecordErrorExhaustsRetries(t *testing.T) {
	q, _ := newTestQueue(t, WithMaxRetries(2))
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)

	for attempt := 0; attempt < 2; attempt++ {
		j, err := q.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, j)
		require.NoError(t, q.Start(ctx, id))
		require.NoError(t, q.RecordError(ctx, id, errors.New("still down"), true))
	}

	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, id))
	require.NoError(t, q.RecordError(ctx, id, errors.New("still down"), true))

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
	assert.False(t, rec.FailedAt.IsZero())

	depth, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueue_RecordErrorNonRetryableIsTerminal(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)

	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, id))

	// The retry flag is set, but the non-retryable marking wins.
	jobErr := qerrors.NonRetryable(errors.New("410 gone"))
	require.NoError(t, q.RecordError(ctx, id, jobErr, true))

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, rec.Status)
	assert.Zero(t, rec.RetryCount)

	depth, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueue_RecordErrorRetryableErrorWithoutFlag(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)

	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, id))

	require.NoError(t, q.RecordError(ctx, id, qerrors.Retryable(errors.New("503")), false))

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
}

func TestQueue_CancelPendingJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)

	cancelled, err := q.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, rec.Status)
	assert.False(t, rec.CancelledAt.IsZero())

	// The index entry is gone, so nothing can claim it.
	j, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestQueue_CancelProcessingJobSuppressesCompletion(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)

	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, id))

	cancelled, err := q.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// The worker finishes anyway; the cancellation stands and the result
	// is dropped.
	err = q.Complete(ctx, id, job.Result{"ignored": true})
	assert.ErrorIs(t, err, qerrors.ErrNotProcessing)

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, rec.Status)
	assert.Nil(t, rec.Result)
}

func TestQueue_CancelRacesClaim(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)

	// A dispatcher claims the job but has not started it yet when the
	// cancel lands.
	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)

	cancelled, err := q.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// The dispatcher's Start loses and it must discard the job.
	assert.ErrorIs(t, q.Start(ctx, id), qerrors.ErrNotPending)
}

func TestQueue_CancelTerminalOrUnknown(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)
	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, id))
	require.NoError(t, q.Complete(ctx, id, nil))

	cancelled, err := q.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, cancelled)

	cancelled, err = q.Cancel(ctx, "no-such-job")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestQueue_TimedOut(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeBackup, nil, WithTimeout(10*time.Minute))
	require.NoError(t, err)

	// Pending jobs never time out.
	timedOut, err := q.TimedOut(ctx, id, 0)
	require.NoError(t, err)
	assert.False(t, timedOut)

	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, id))

	timedOut, err = q.TimedOut(ctx, id, 0)
	require.NoError(t, err)
	assert.False(t, timedOut)

	// Simulate the job having started beyond its allowance.
	rewriteField(t, q, s, id, job.FieldStartedAt,
		job.FormatTime(time.Now().Add(-11*time.Minute)))

	timedOut, err = q.TimedOut(ctx, id, 0)
	require.NoError(t, err)
	assert.True(t, timedOut)

	// A larger override keeps it within allowance.
	timedOut, err = q.TimedOut(ctx, id, time.Hour)
	require.NoError(t, err)
	assert.False(t, timedOut)

	// Unknown jobs report false without error.
	timedOut, err = q.TimedOut(ctx, "no-such-job", 0)
	require.NoError(t, err)
	assert.False(t, timedOut)
}

func TestQueue_TimedOutJobReturnsToRotation(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeBackup, nil, WithTimeout(time.Minute))
	require.NoError(t, err)
	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, id))

	rewriteField(t, q, s, id, job.FieldStartedAt,
		job.FormatTime(time.Now().Add(-5*time.Minute)))

	timedOut, err := q.TimedOut(ctx, id, 0)
	require.NoError(t, err)
	require.True(t, timedOut)

	// What a reaper does with a stuck job.
	err = q.RecordError(ctx, id, qerrors.Retryable(qerrors.ErrJobTimeout), true)
	require.NoError(t, err)

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)

	j, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, id, j.ID)
}

func TestQueue_RetryCountPersistsAcrossClaims(t *testing.T) {
	q, _ := newTestQueue(t, WithMaxRetries(5))
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		j, err := q.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, want-1, j.RetryCount)

		require.NoError(t, q.Start(ctx, id))
		require.NoError(t, q.RecordError(ctx, id, errors.New("transient"), true))

		rec, err := q.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, rec.RetryCount)
	}
}

func TestQueue_Namespacing(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	qa := New(s, WithNamespace("qa:"))
	qb := New(s, WithNamespace("qb:"))

	_, err := qa.Submit(ctx, job.TypeWebhook, nil)
	require.NoError(t, err)

	j, err := qb.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, j)

	j, err = qa.Next(ctx)
	require.NoError(t, err)
	assert.NotNil(t, j)
}

func TestQueue_DefaultTimeoutApplied(t *testing.T) {
	q, _ := newTestQueue(t, WithDefaultTimeout(45*time.Minute))
	ctx := context.Background()

	id, err := q.Submit(ctx, job.TypeBackup, nil)
	require.NoError(t, err)

	rec, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, rec.Timeout)
}
