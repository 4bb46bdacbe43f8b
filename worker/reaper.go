package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/queue"
)

// Reaper periodically sweeps jobs stuck in processing. Detection is the
// queue's advisory timeout check; the reaper acts on it by recording a
// retryable timeout error, which puts the job back into rotation at a
// demoted priority or fails it once its retry budget is spent.
type Reaper struct {
	queue    *queue.Queue
	interval time.Duration
}

// NewReaper creates a reaper.
func NewReaper(q *queue.Queue, interval time.Duration) *Reaper {
	return &Reaper{queue: q, interval: interval}
}

// Run sweeps on the configured interval until the context ends.
func (r *Reaper) Run(ctx context.Context) {
	slog.Info("reaper started", "interval", r.interval)
	defer slog.Info("reaper stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep checks every processing job once and reaps the overrun ones.
func (r *Reaper) Sweep(ctx context.Context) {
	ids, err := r.queue.Processing(ctx)
	if err != nil {
		slog.Error("reaper failed to list processing jobs", "error", err)
		return
	}

	for _, id := range ids {
		timedOut, err := r.queue.TimedOut(ctx, id, 0)
		if err != nil {
			slog.Error("timeout check failed", "job_id", id, "error", err)
			continue
		}
		if !timedOut {
			continue
		}

		slog.Warn("reaping stuck job", "job_id", id)
		err = r.queue.RecordError(ctx, id, qerrors.Retryable(qerrors.ErrJobTimeout), true)
		if err != nil && !errors.Is(err, qerrors.ErrNotProcessing) {
			slog.Error("failed to reap job", "job_id", id, "error", err)
		}
	}
}
