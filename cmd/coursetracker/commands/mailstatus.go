package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(mailStatusCmd)
}

var mailStatusCmd = &cobra.Command{
	Use:   "mail-status",
	Short: "Emails every subscriber the saved status of all their courses.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		defer a.Close()

		err = a.tracker.SendStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to send status emails: %w", err)
		}
		return nil
	},
}
