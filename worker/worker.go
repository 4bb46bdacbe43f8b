package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/job"
	"github.com/loamlabs/taskqueue/queue"
	"github.com/loamlabs/taskqueue/registry"
)

// worker runs one dispatcher loop: claim the next eligible job, mark it
// processing, hand it to its processor, and report the outcome to the
// lifecycle manager. Workers are stateless; any number of them may run
// against the same queue, in this process or others.
type worker struct {
	id           string
	queue        *queue.Queue
	registry     *registry.Registry
	pollInterval time.Duration
	errorPause   time.Duration
}

func (w *worker) run(ctx context.Context) {
	slog.Info("worker started", "worker", w.id)
	defer slog.Info("worker stopped", "worker", w.id)

	for {
		if ctx.Err() != nil {
			return
		}

		// Only claim types this process can route.
		j, err := w.queue.Next(ctx, w.registry.Types()...)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("polling failed", "worker", w.id, "error", err)
			if !sleep(ctx, w.errorPause) {
				return
			}
			continue
		}
		if j == nil {
			if !sleep(ctx, w.pollInterval) {
				return
			}
			continue
		}

		w.process(ctx, j)
	}
}

// process drives a claimed job through its lifecycle.
func (w *worker) process(ctx context.Context, j *job.Job) {
	if err := w.queue.Start(ctx, j.ID); err != nil {
		if errors.Is(err, qerrors.ErrNotPending) || errors.Is(err, qerrors.ErrNotFound) {
			// A cancel won the race with our claim.
			slog.Debug("skipping job", "job_id", j.ID, "reason", err)
			return
		}
		slog.Error("failed to start job", "job_id", j.ID, "error", err)
		return
	}

	proc, ok := w.registry.Get(j.Type)
	if !ok {
		// Unreachable while Next filters on registered types; terminal
		// either way, the job can never succeed here.
		w.recordError(ctx, j, qerrors.NonRetryable(qerrors.ErrNoProcessor))
		return
	}

	started := time.Now()
	result, err := w.execute(ctx, proc, j)
	if err != nil {
		slog.Error("job attempt failed",
			"job_id", j.ID,
			"type", j.Type,
			"duration", time.Since(started),
			"error", err)
		w.recordError(ctx, j, err)
		return
	}

	if err := w.queue.Complete(ctx, j.ID, result); err != nil {
		if errors.Is(err, qerrors.ErrNotProcessing) {
			// Cancelled mid-flight; the result is suppressed.
			slog.Debug("completion suppressed", "job_id", j.ID)
			return
		}
		slog.Error("failed to record completion", "job_id", j.ID, "error", err)
		return
	}
	slog.Debug("job processed",
		"job_id", j.ID,
		"type", j.Type,
		"duration", time.Since(started))
}

// execute invokes the processor with panic recovery.
func (w *worker) execute(ctx context.Context, proc registry.Processor, j *job.Job) (result job.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc.Process(ctx, j)
}

// recordError reports a failed attempt. Failures retry unless the
// processor marked them non-retryable.
func (w *worker) recordError(ctx context.Context, j *job.Job, procErr error) {
	retry := !qerrors.IsNonRetryable(procErr)
	if err := w.queue.RecordError(ctx, j.ID, procErr, retry); err != nil {
		if errors.Is(err, qerrors.ErrNotProcessing) {
			slog.Debug("error report suppressed", "job_id", j.ID)
			return
		}
		slog.Error("failed to record job error", "job_id", j.ID, "error", err)
	}
}

// sleep waits for d, returning false if the context ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
