// Package job defines the unit of schedulable work and its wire encoding.
package job

import (
	"fmt"
	"time"
)

// Type identifies the processor a job is routed to.
type Type string

const (
	TypeBackup       Type = "backup"
	TypeWebhook      Type = "webhook"
	TypeBulkImport   Type = "bulk_import"
	TypeBulkExport   Type = "bulk_export"
	TypeCleanup      Type = "cleanup"
	TypeNotification Type = "notification"
)

// Types returns all known job types.
func Types() []Type {
	return []Type{
		TypeBackup,
		TypeWebhook,
		TypeBulkImport,
		TypeBulkExport,
		TypeCleanup,
		TypeNotification,
	}
}

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown job type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known job types.
func (t Type) Valid() bool {
	switch t {
	case TypeBackup, TypeWebhook, TypeBulkImport, TypeBulkExport, TypeCleanup, TypeNotification:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

// Priority is the dispatch rank of a job. Lower ranks dispatch first.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityMedium   Priority = 2
	PriorityLow      Priority = 3
)

// ParsePriority converts a priority name to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Valid reports whether p is a known priority rank.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Demote returns the priority one band worse, capped at PriorityLow.
// Retried jobs re-enter the index demoted so repeatedly failing jobs
// do not starve healthy ones.
func (p Priority) Demote() Priority {
	if p >= PriorityLow {
		return PriorityLow
	}
	return p + 1
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a final state. Terminal jobs are never
// re-inserted into the priority index.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// scoreBand separates priority bands in the index score. It must exceed any
// representable ready-at unix time so that no queuing delay within a band can
// reorder jobs across bands.
const scoreBand = 1e12

// Score computes the dispatch score for a priority and ready time.
// Among ready jobs the index orders strictly by ascending score:
// priority first, ready time second.
func Score(p Priority, readyAt time.Time) float64 {
	return float64(p)*scoreBand + float64(readyAt.UnixNano())/float64(time.Second)
}

// Job is the persisted unit of work handed to a processor.
type Job struct {
	ID         string
	Type       Type
	Parameters map[string]any
	Priority   Priority
	CreatedAt  time.Time
	Timeout    time.Duration
	Delay      time.Duration
	RetryCount int
}

// ReadyAt returns the earliest time the job is eligible for dispatch.
func (j *Job) ReadyAt() time.Time {
	return j.CreatedAt.Add(j.Delay)
}

// Score returns the job's dispatch score.
func (j *Job) Score() float64 {
	return Score(j.Priority, j.ReadyAt())
}

// Result is the success payload produced by a completed job. Results are
// stored separately from the job record with their own retention.
type Result map[string]any

// StatusRecord is the read-only view returned to status callers.
type StatusRecord struct {
	ID          string
	Status      Status
	Type        Type
	Priority    Priority
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	FailedAt    time.Time
	CancelledAt time.Time
	LastErrorAt time.Time
	Timeout     time.Duration
	Delay       time.Duration
	RetryCount  int
	LastError   string
	Result      Result
}
