package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loamlabs/taskqueue/job"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Print a job's status record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s := newStore(cfg)
		if err := s.Connect(cmd.Context()); err != nil {
			return err
		}
		defer s.Close()

		rec, err := newQueue(cfg, s).Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("job %s not found", args[0])
		}

		out, err := json.MarshalIndent(recordView(rec), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

// recordView flattens a status record for display, dropping unset fields.
func recordView(rec *job.StatusRecord) map[string]any {
	view := map[string]any{
		"id":          rec.ID,
		"status":      rec.Status,
		"job_type":    rec.Type,
		"priority":    rec.Priority.String(),
		"created_at":  rec.CreatedAt,
		"timeout":     rec.Timeout.String(),
		"retry_count": rec.RetryCount,
	}
	if rec.Delay > 0 {
		view["delay"] = rec.Delay.String()
	}
	for field, t := range map[string]time.Time{
		"started_at":    rec.StartedAt,
		"completed_at":  rec.CompletedAt,
		"failed_at":     rec.FailedAt,
		"cancelled_at":  rec.CancelledAt,
		"last_error_at": rec.LastErrorAt,
	} {
		if !t.IsZero() {
			view[field] = t
		}
	}
	if rec.LastError != "" {
		view["last_error"] = rec.LastError
	}
	if rec.Result != nil {
		view["result"] = rec.Result
	}
	return view
}
