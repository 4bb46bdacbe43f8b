package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/loamlabs/taskqueue/job"
)

// Next claims and returns the highest-priority ready job, or nil when none
// is available. Callers poll it in a loop with a backoff of their choosing.
//
// When types are given, entries of other types are skipped in place rather
// than claimed, so a filtered dispatcher never takes work it cannot route.
// The claim itself is the checked removal of the index entry: of any number
// of dispatchers racing over the same entry, exactly one observes the
// removal and wins. The winner must call Start before processing.
func (q *Queue) Next(ctx context.Context, types ...job.Type) (*job.Job, error) {
	var filter map[job.Type]bool
	if len(types) > 0 {
		filter = make(map[job.Type]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}

	entries, err := q.store.ZRange(ctx, q.indexKey(), 0, q.scanLimit-1)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		fields, err := q.store.HGetAll(ctx, q.statusKey(entry.Member))
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			// Status retention expired; the index entry is stale.
			q.discard(ctx, entry.Member, "status missing")
			continue
		}

		j, err := job.FromFields(entry.Member, fields)
		if err != nil {
			// Undecodable records can never be processed.
			slog.Error("discarding undecodable job", "job_id", entry.Member, "error", err)
			q.discard(ctx, entry.Member, "undecodable")
			continue
		}

		if filter != nil && !filter[j.Type] {
			continue
		}

		if time.Now().Before(j.ReadyAt()) {
			// Delay not yet elapsed. The entry stays visible so any
			// dispatcher can re-check it later.
			return nil, nil
		}

		if fields[job.FieldStatus] != string(job.StatusPending) {
			// Lost a race or a duplicate index remnant.
			q.discard(ctx, entry.Member, "not pending")
			continue
		}

		claimed, err := q.store.ZRem(ctx, q.indexKey(), entry.Member)
		if err != nil {
			return nil, err
		}
		if !claimed {
			// Another dispatcher won this entry.
			continue
		}
		return j, nil
	}
	return nil, nil
}

// discard removes a stale index entry, best effort.
func (q *Queue) discard(ctx context.Context, id, reason string) {
	if _, err := q.store.ZRem(ctx, q.indexKey(), id); err != nil {
		slog.Warn("failed to discard stale index entry",
			"job_id", id, "reason", reason, "error", err)
	}
}

// PendingCount returns the depth of the priority index.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	return q.store.ZCard(ctx, q.indexKey())
}

// Processing returns the ids of jobs currently marked processing, for use
// by a timeout reaper.
func (q *Queue) Processing(ctx context.Context) ([]string, error) {
	return q.store.SMembers(ctx, q.processingKey())
}
