package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loamlabs/taskqueue/job"
)

type submitOptions struct {
	priority job.Priority
	timeout  time.Duration
	delay    time.Duration
}

// SubmitOption configures a single submission.
type SubmitOption func(*submitOptions)

// WithPriority sets the dispatch priority. Defaults to medium.
func WithPriority(p job.Priority) SubmitOption {
	return func(o *submitOptions) { o.priority = p }
}

// WithTimeout sets the maximum time the job may spend in processing.
func WithTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.timeout = d }
}

// WithDelay defers dispatch eligibility by d after submission.
func WithDelay(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.delay = d }
}

// Submit enqueues a job and returns its id.
//
// The status hash is written before the index entry. If the index insert
// fails the job is unreachable by dispatchers, but its status fields carry a
// retention TTL, so the orphan is bounded; the error is returned to the
// caller either way. A dispatcher that finds an index entry whose hash has
// already expired discards the entry as stale.
func (q *Queue) Submit(ctx context.Context, jobType job.Type, parameters map[string]any, opts ...SubmitOption) (string, error) {
	if !jobType.Valid() {
		return "", fmt.Errorf("submit: unknown job type %q", jobType)
	}

	options := submitOptions{priority: job.PriorityMedium, timeout: q.defaultTimeout}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.priority.Valid() {
		return "", fmt.Errorf("submit: invalid priority %d", int(options.priority))
	}
	if options.delay < 0 {
		return "", fmt.Errorf("submit: negative delay %s", options.delay)
	}

	j := &job.Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Parameters: parameters,
		Priority:   options.priority,
		CreatedAt:  time.Now().UTC(),
		Timeout:    options.timeout,
		Delay:      options.delay,
	}

	fields, err := j.Fields()
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	statusKey := q.statusKey(j.ID)
	if err := q.store.HSet(ctx, statusKey, fields); err != nil {
		return "", err
	}
	if err := q.store.Expire(ctx, statusKey, q.statusTTL); err != nil {
		return "", err
	}
	if err := q.store.ZAdd(ctx, q.indexKey(), j.ID, j.Score()); err != nil {
		return "", err
	}

	slog.Info("job submitted",
		"job_id", j.ID,
		"type", j.Type,
		"priority", j.Priority,
		"delay", j.Delay)
	return j.ID, nil
}
