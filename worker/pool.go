// Package worker runs pools of dispatcher loops over a queue, together with
// the timeout reaper that returns stuck jobs to rotation.
package worker

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/loamlabs/taskqueue/queue"
	"github.com/loamlabs/taskqueue/registry"
)

// Pool manages a set of workers sharing one queue and registry.
type Pool struct {
	queue    *queue.Queue
	registry *registry.Registry
	config   *Config

	activeWorkers int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool.
func NewPool(q *queue.Queue, reg *registry.Registry, options ...Option) *Pool {
	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}
	return &Pool{
		queue:    q,
		registry: reg,
		config:   config,
	}
}

// Start connects the store and launches the workers and the reaper.
func (p *Pool) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	if err := p.queue.Store().Connect(p.ctx); err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	pid := os.Getpid()

	for i := 0; i < p.config.Concurrency; i++ {
		w := &worker{
			id:           hostname + ":" + strconv.Itoa(pid) + "-" + strconv.Itoa(i),
			queue:        p.queue,
			registry:     p.registry,
			pollInterval: p.config.PollInterval,
			errorPause:   p.config.ErrorPause,
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			atomic.AddInt32(&p.activeWorkers, 1)
			defer atomic.AddInt32(&p.activeWorkers, -1)
			w.run(p.ctx)
		}()
	}

	if p.config.ReaperInterval > 0 {
		reaper := NewReaper(p.queue, p.config.ReaperInterval)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			reaper.Run(p.ctx)
		}()
	}

	slog.Info("worker pool started",
		"concurrency", p.config.Concurrency,
		"poll_interval", p.config.PollInterval)
	return nil
}

// Stop gracefully shuts down the pool and closes the store.
func (p *Pool) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("worker pool stopped gracefully")
	case <-time.After(p.config.ShutdownTimeout):
		slog.Warn("worker pool shutdown timeout exceeded")
	}

	if err := p.queue.Store().Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
	return nil
}

// Run starts the pool and blocks until the context ends or a shutdown
// signal arrives, then stops gracefully.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig)
	}

	return p.Stop()
}

// ActiveWorkers returns the number of running workers.
func (p *Pool) ActiveWorkers() int {
	return int(atomic.LoadInt32(&p.activeWorkers))
}

// HealthStatus is a point-in-time snapshot of the pool and its store.
type HealthStatus struct {
	Healthy       bool
	StoreHealth   error
	ActiveWorkers int
	PendingJobs   int64
	LastCheck     time.Time
}

// Health returns the current health status.
func (p *Pool) Health(ctx context.Context) HealthStatus {
	storeHealth := p.queue.Store().Health()

	var pending int64
	if storeHealth == nil {
		if n, err := p.queue.PendingCount(ctx); err == nil {
			pending = n
		}
	}

	return HealthStatus{
		Healthy:       storeHealth == nil,
		StoreHealth:   storeHealth,
		ActiveWorkers: p.ActiveWorkers(),
		PendingJobs:   pending,
		LastCheck:     time.Now(),
	}
}
