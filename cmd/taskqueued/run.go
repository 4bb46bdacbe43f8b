package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/loamlabs/taskqueue/config"
	"github.com/loamlabs/taskqueue/job"
	"github.com/loamlabs/taskqueue/processors"
	"github.com/loamlabs/taskqueue/registry"
	"github.com/loamlabs/taskqueue/taskstore"
	"github.com/loamlabs/taskqueue/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker daemon until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s := newStore(cfg)
		q := newQueue(cfg, s)

		reg, cleanup, err := buildRegistry(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		pool := worker.NewPool(q, reg,
			worker.WithConcurrency(cfg.Worker.Concurrency),
			worker.WithPollInterval(cfg.Worker.PollInterval),
			worker.WithShutdownTimeout(cfg.Worker.ShutdownTimeout),
			worker.WithReaperInterval(cfg.Worker.ReaperInterval),
		)
		return pool.Run(cmd.Context())
	},
}

// buildRegistry registers a processor for every job type this daemon is
// configured to handle. The returned cleanup releases processor resources
// after the pool stops.
func buildRegistry(cfg *config.Config) (*registry.Registry, func(), error) {
	enabled, err := enabledTypes(cfg.Worker.Types)
	if err != nil {
		return nil, nil, err
	}

	reg := registry.NewRegistry()
	cleanup := func() {}

	if enabled[job.TypeWebhook] {
		client := &http.Client{Timeout: 10 * time.Second}
		if err := reg.Register(job.TypeWebhook, processors.NewWebhook(client)); err != nil {
			return nil, nil, err
		}
	}
	if enabled[job.TypeBackup] {
		p := processors.NewBackup(cfg.Paths.DatabasePath, cfg.Paths.BackupsDir)
		if err := reg.Register(job.TypeBackup, p); err != nil {
			return nil, nil, err
		}
	}
	if enabled[job.TypeCleanup] {
		p := processors.NewCleanup(cfg.Paths.BackupsDir, cfg.Paths.CleanupMaxAge)
		if err := reg.Register(job.TypeCleanup, p); err != nil {
			return nil, nil, err
		}
	}

	if enabled[job.TypeBulkExport] || enabled[job.TypeBulkImport] {
		tasks, err := taskstore.Open(cfg.Paths.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open task store: %w", err)
		}
		cleanup = func() { tasks.Close() }

		if enabled[job.TypeBulkExport] {
			p := processors.NewBulkExport(tasks, cfg.Paths.ExportsDir)
			if err := reg.Register(job.TypeBulkExport, p); err != nil {
				return nil, nil, err
			}
		}
		if enabled[job.TypeBulkImport] {
			if err := reg.Register(job.TypeBulkImport, processors.NewBulkImport(tasks)); err != nil {
				return nil, nil, err
			}
		}
	}

	if enabled[job.TypeNotification] {
		if cfg.AMQP.URI == "" {
			slog.Warn("notification processor disabled, amqp.uri not configured")
		} else {
			notifier := processors.NewNotifier(cfg.AMQP.URI, cfg.AMQP.Exchange)
			if err := reg.Register(job.TypeNotification, notifier); err != nil {
				return nil, nil, err
			}
			prev := cleanup
			cleanup = func() {
				notifier.Close()
				prev()
			}
		}
	}

	slog.Info("processors registered", "types", reg.Types())
	return reg, cleanup, nil
}

// enabledTypes turns the configured type restriction into a lookup set.
// An empty restriction enables every known type.
func enabledTypes(names []string) (map[job.Type]bool, error) {
	enabled := map[job.Type]bool{}
	if len(names) == 0 {
		for _, t := range job.Types() {
			enabled[t] = true
		}
		return enabled, nil
	}
	for _, name := range names {
		t, err := job.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("worker.types: %w", err)
		}
		enabled[t] = true
	}
	return enabled, nil
}
