package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Builds a fresh snapshot from the subscriber config, dropping courses that are not offered.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		defer a.Close()

		snap, err := a.tracker.Initialize(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize course data: %w", err)
		}
		printSnapshot(snap)
		return nil
	},
}
