package commands

import (
	"fmt"

	"coursetracker/internal/course"

	"github.com/spf13/cobra"
)

var refreshNotify bool

func init() {
	refreshCmd.Flags().BoolVar(&refreshNotify, "notify", false, "Email subscribers about the updated courses.")
	rootCmd.AddCommand(refreshCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [--notify]",
	Short: "Runs a single refresh cycle against the saved snapshot and saves the result.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp()
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		defer a.Close()

		var updated []course.Key
		if refreshNotify {
			updated, err = a.tracker.RefreshAndNotify(ctx)
		} else {
			updated, err = a.tracker.RefreshAndSave(ctx)
		}
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}

		if len(updated) == 0 {
			fmt.Println("No courses updated.")
			return nil
		}
		fmt.Println("Updated courses:")
		for _, key := range updated {
			fmt.Printf("  %s\n", key)
		}
		return nil
	},
}
