package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loamlabs/taskqueue/job"
	"github.com/loamlabs/taskqueue/queue"
)

var (
	submitType     string
	submitPriority string
	submitParams   string
	submitTimeout  time.Duration
	submitDelay    time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job and print its id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		jobType, err := job.ParseType(submitType)
		if err != nil {
			return err
		}

		var params map[string]any
		if submitParams != "" {
			if err := json.Unmarshal([]byte(submitParams), &params); err != nil {
				return fmt.Errorf("parse --params: %w", err)
			}
		}

		opts := []queue.SubmitOption{}
		if submitPriority != "" {
			p, err := job.ParsePriority(submitPriority)
			if err != nil {
				return err
			}
			opts = append(opts, queue.WithPriority(p))
		}
		if submitTimeout > 0 {
			opts = append(opts, queue.WithTimeout(submitTimeout))
		}
		if submitDelay > 0 {
			opts = append(opts, queue.WithDelay(submitDelay))
		}

		s := newStore(cfg)
		if err := s.Connect(cmd.Context()); err != nil {
			return err
		}
		defer s.Close()

		id, err := newQueue(cfg, s).Submit(cmd.Context(), jobType, params, opts...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitType, "type", "", "job type (required)")
	submitCmd.Flags().StringVar(&submitPriority, "priority", "", "priority: critical, high, medium or low")
	submitCmd.Flags().StringVar(&submitParams, "params", "", "job parameters as a JSON object")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 0, "execution timeout override")
	submitCmd.Flags().DurationVar(&submitDelay, "delay", 0, "delay before the job becomes ready")
	submitCmd.MarkFlagRequired("type")
}
