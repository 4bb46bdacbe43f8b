// Package registry maps job types to their processors.
package registry

import (
	"context"
	"sync"

	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/job"
)

// Processor executes the business logic for one job type. Implementations
// classify their own failures with the errors package taxonomy; a plain
// error is treated as retryable by the worker loop. Processors handed a job
// that may be cancelled mid-flight must check cancellation themselves; the
// queue suppresses results recorded after a cancel but does not interrupt
// execution.
type Processor interface {
	Process(ctx context.Context, j *job.Job) (job.Result, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, j *job.Job) (job.Result, error)

func (f ProcessorFunc) Process(ctx context.Context, j *job.Job) (job.Result, error) {
	return f(ctx, j)
}

// Registry is a thread-safe processor registry.
type Registry struct {
	mu         sync.RWMutex
	processors map[job.Type]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[job.Type]Processor),
	}
}

// Register adds a processor for a job type.
func (r *Registry) Register(t job.Type, p Processor) error {
	if !t.Valid() {
		return qerrors.ErrUnknownJobType
	}
	if p == nil {
		return qerrors.ErrNilProcessor
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.processors[t] = p
	return nil
}

// Get retrieves the processor for a job type.
func (r *Registry) Get(t job.Type) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processors[t]
	return p, ok
}

// Types returns the job types with a registered processor. Worker loops
// pass this as the dispatch filter so they never claim work they cannot
// route.
func (r *Registry) Types() []job.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]job.Type, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	return types
}

// Remove unregisters the processor for a job type.
func (r *Registry) Remove(t job.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.processors, t)
}
