// Package queue implements the background job queue: priority-ordered
// submission, atomic dispatch under concurrent workers, the job lifecycle
// state machine with retry-by-demotion, result storage with bounded
// retention, and advisory timeout detection.
//
// The queue keeps no in-process state. All shared mutable state lives in the
// store: a sorted set ranks pending jobs by dispatch score, a hash per job
// holds its status fields, a set tracks jobs in processing, and results are
// TTL-bearing keys. Mutual exclusion between concurrent dispatchers is the
// store's atomic checked removal plus a compare-and-set on the status field,
// so any number of queue instances can run against the same store.
package queue

import (
	"time"

	"github.com/loamlabs/taskqueue/store"
)

const (
	// DefaultNamespace prefixes every store key.
	DefaultNamespace = "job:"
	// DefaultMaxRetries bounds retry attempts per job.
	DefaultMaxRetries = 3
	// DefaultTimeout applies when a job is submitted without one.
	DefaultTimeout = time.Hour
	// DefaultRetention bounds how long status fields and results are kept.
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultScanLimit caps how deep Next looks into the index when
	// skipping entries a filtered dispatcher cannot claim.
	DefaultScanLimit = 128
)

// Queue is a handle on the shared job queue. It is safe for concurrent use
// and cheap to create; instances are stateless and disposable.
type Queue struct {
	store          store.Store
	namespace      string
	maxRetries     int
	defaultTimeout time.Duration
	statusTTL      time.Duration
	resultTTL      time.Duration
	scanLimit      int
}

// New creates a queue over the given store.
func New(s store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:          s,
		namespace:      DefaultNamespace,
		maxRetries:     DefaultMaxRetries,
		defaultTimeout: DefaultTimeout,
		statusTTL:      DefaultRetention,
		resultTTL:      DefaultRetention,
		scanLimit:      DefaultScanLimit,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Store returns the underlying store.
func (q *Queue) Store() store.Store { return q.store }

// MaxRetries returns the configured retry bound.
func (q *Queue) MaxRetries() int { return q.maxRetries }

func (q *Queue) indexKey() string           { return q.namespace + "priority_queue" }
func (q *Queue) processingKey() string      { return q.namespace + "processing" }
func (q *Queue) statusKey(id string) string { return q.namespace + "status:" + id }
func (q *Queue) resultKey(id string) string { return q.namespace + "result:" + id }

// Option configures a Queue.
type Option func(*Queue)

// WithNamespace sets the store key prefix.
func WithNamespace(ns string) Option {
	return func(q *Queue) { q.namespace = ns }
}

// WithMaxRetries sets the per-job retry bound.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithDefaultTimeout sets the processing timeout used when a job is
// submitted without one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(q *Queue) { q.defaultTimeout = d }
}

// WithStatusTTL sets the retention of status fields.
func WithStatusTTL(d time.Duration) Option {
	return func(q *Queue) { q.statusTTL = d }
}

// WithResultTTL sets the retention of result payloads.
func WithResultTTL(d time.Duration) Option {
	return func(q *Queue) { q.resultTTL = d }
}

// WithScanLimit caps how many index entries Next inspects per call.
func WithScanLimit(n int) Option {
	return func(q *Queue) { q.scanLimit = n }
}
