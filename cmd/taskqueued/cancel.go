package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or processing job",
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

		cancelled, err := newQueue(cfg, s).Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !cancelled {
			return fmt.Errorf("job %s could not be cancelled", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
		return nil
	},
}
