package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/job"
)

// Start transitions a claimed job from pending to processing. It must only
// be called by the dispatcher that claimed the job. The transition is a
// compare-and-set on the status field, so a cancel that raced the claim
// wins and Start returns ErrNotPending.
func (q *Queue) Start(ctx context.Context, id string) error {
	statusKey := q.statusKey(id)

	swapped, err := q.store.HSetIfEquals(ctx, statusKey,
		job.FieldStatus, string(job.StatusPending), string(job.StatusProcessing))
	if err != nil {
		return err
	}
	if !swapped {
		return q.transitionError(ctx, id, qerrors.ErrNotPending)
	}

	if err := q.store.HSet(ctx, statusKey, map[string]string{
		job.FieldStartedAt: job.FormatTime(time.Now()),
	}); err != nil {
		return err
	}
	if err := q.store.SAdd(ctx, q.processingKey(), id); err != nil {
		return err
	}

	slog.Debug("job processing started", "job_id", id)
	return nil
}

// Complete transitions a job from processing to complete and stores its
// result with the configured retention. If a cancel won the race the
// terminal state stands, the result is suppressed, and ErrNotProcessing is
// returned.
func (q *Queue) Complete(ctx context.Context, id string, result job.Result) error {
	statusKey := q.statusKey(id)

	swapped, err := q.store.HSetIfEquals(ctx, statusKey,
		job.FieldStatus, string(job.StatusProcessing), string(job.StatusComplete))
	if err != nil {
		return err
	}
	if !swapped {
		return q.transitionError(ctx, id, qerrors.ErrNotProcessing)
	}

	if err := q.store.HSet(ctx, statusKey, map[string]string{
		job.FieldCompletedAt: job.FormatTime(time.Now()),
	}); err != nil {
		return err
	}
	if err := q.store.SRem(ctx, q.processingKey(), id); err != nil {
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := q.store.SetEx(ctx, q.resultKey(id), payload, q.resultTTL); err != nil {
		return err
	}

	slog.Info("job completed", "job_id", id)
	return nil
}

// RecordError records a failed attempt and applies the retry policy.
//
// A retryable failure within the retry budget returns the job to pending
// and re-inserts it into the index demoted one priority band, capped at
// low; demotion doubles as backoff so repeatedly failing jobs do not starve
// healthy ones. Anything else is terminal: the job transitions to failed
// with the error retained for status callers.
//
// The failure is treated as retryable when the retry flag is set or the
// error is marked retryable, unless the error is explicitly marked
// non-retryable, which always wins.
func (q *Queue) RecordError(ctx context.Context, id string, jobErr error, retry bool) error {
	statusKey := q.statusKey(id)

	fields, err := q.store.HGetAll(ctx, statusKey)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return qerrors.ErrNotFound
	}

	retryCount, _ := strconv.Atoi(fields[job.FieldRetryCount])
	retryable := retry || qerrors.IsRetryable(jobErr)
	if qerrors.IsNonRetryable(jobErr) {
		retryable = false
	}

	now := time.Now()
	errText := "unknown error"
	if jobErr != nil {
		errText = jobErr.Error()
	}

	if retryable && retryCount < q.maxRetries {
		swapped, err := q.store.HSetIfEquals(ctx, statusKey,
			job.FieldStatus, string(job.StatusProcessing), string(job.StatusPending))
		if err != nil {
			return err
		}
		if !swapped {
			return q.transitionError(ctx, id, qerrors.ErrNotProcessing)
		}

		retryCount++
		if err := q.store.HSet(ctx, statusKey, map[string]string{
			job.FieldRetryCount:  strconv.Itoa(retryCount),
			job.FieldLastError:   errText,
			job.FieldLastErrorAt: job.FormatTime(now),
		}); err != nil {
			return err
		}
		if err := q.store.SRem(ctx, q.processingKey(), id); err != nil {
			return err
		}

		rank, _ := strconv.Atoi(fields[job.FieldPriority])
		demoted := job.Priority(rank).Demote()
		if err := q.store.ZAdd(ctx, q.indexKey(), id, job.Score(demoted, now)); err != nil {
			return err
		}

		slog.Warn("job failed, will retry",
			"job_id", id,
			"retry_count", retryCount,
			"max_retries", q.maxRetries,
			"priority", demoted,
			"error", errText)
		return nil
	}

	swapped, err := q.store.HSetIfEquals(ctx, statusKey,
		job.FieldStatus, string(job.StatusProcessing), string(job.StatusFailed))
	if err != nil {
		return err
	}
	if !swapped {
		return q.transitionError(ctx, id, qerrors.ErrNotProcessing)
	}

	if err := q.store.HSet(ctx, statusKey, map[string]string{
		job.FieldError:       errText,
		job.FieldLastError:   errText,
		job.FieldLastErrorAt: job.FormatTime(now),
		job.FieldFailedAt:    job.FormatTime(now),
	}); err != nil {
		return err
	}
	if err := q.store.SRem(ctx, q.processingKey(), id); err != nil {
		return err
	}

	slog.Error("job failed permanently",
		"job_id", id,
		"retry_count", retryCount,
		"error", errText)
	return nil
}

// Cancel transitions a pending or processing job to cancelled and removes
// any lingering index entry. It returns false when the job is unknown or
// already terminal. Cancelling a processing job does not interrupt a
// processor already running it; the processor must check for cancellation
// itself, and any later Complete or retry is suppressed by the state
// machine.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	statusKey := q.statusKey(id)

	cancelled := false
	for _, from := range []job.Status{job.StatusPending, job.StatusProcessing} {
		swapped, err := q.store.HSetIfEquals(ctx, statusKey,
			job.FieldStatus, string(from), string(job.StatusCancelled))
		if err != nil {
			return false, err
		}
		if swapped {
			cancelled = true
			break
		}
	}
	if !cancelled {
		return false, nil
	}

	if err := q.store.HSet(ctx, statusKey, map[string]string{
		job.FieldCancelledAt: job.FormatTime(time.Now()),
	}); err != nil {
		return false, err
	}
	if _, err := q.store.ZRem(ctx, q.indexKey(), id); err != nil {
		return false, err
	}
	if err := q.store.SRem(ctx, q.processingKey(), id); err != nil {
		return false, err
	}

	slog.Info("job cancelled", "job_id", id)
	return true, nil
}

// transitionError distinguishes a missing job from a state conflict.
func (q *Queue) transitionError(ctx context.Context, id string, conflict error) error {
	_, exists, err := q.store.HGet(ctx, q.statusKey(id), job.FieldStatus)
	if err != nil {
		return err
	}
	if !exists {
		return qerrors.ErrNotFound
	}
	return conflict
}
