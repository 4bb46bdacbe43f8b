package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loamlabs/taskqueue/job"
)

// Status returns the job's status record, with the result payload attached
// once the job is complete and the result is still retained. It returns
// (nil, nil) when the job is unknown or its retention has expired;
// permanent unavailability of an old job is the accepted trade-off for
// bounded storage growth, not a failure.
func (q *Queue) Status(ctx context.Context, id string) (*job.StatusRecord, error) {
	fields, err := q.store.HGetAll(ctx, q.statusKey(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	record, err := job.RecordFromFields(id, fields)
	if err != nil {
		return nil, fmt.Errorf("decode status for %s: %w", id, err)
	}

	if record.Status == job.StatusComplete {
		payload, ok, err := q.store.Get(ctx, q.resultKey(id))
		if err != nil {
			return nil, err
		}
		if ok {
			if err := json.Unmarshal(payload, &record.Result); err != nil {
				return nil, fmt.Errorf("decode result for %s: %w", id, err)
			}
		}
	}
	return record, nil
}

// TimedOut reports whether a job has overrun its processing allowance:
// true only when the job is processing and has been since longer than its
// timeout (or the override, when positive). The check mutates nothing; an
// external reaper acts on it by calling RecordError with a retryable
// timeout error to put the stuck job back into rotation.
func (q *Queue) TimedOut(ctx context.Context, id string, override time.Duration) (bool, error) {
	record, err := q.Status(ctx, id)
	if err != nil {
		return false, err
	}
	if record == nil || record.Status != job.StatusProcessing || record.StartedAt.IsZero() {
		return false, nil
	}

	timeout := record.Timeout
	if override > 0 {
		timeout = override
	}
	if timeout <= 0 {
		timeout = q.defaultTimeout
	}
	return time.Since(record.StartedAt) > timeout, nil
}
