package commands

import (
	"fmt"

	"coursetracker/internal/chrono"
	"coursetracker/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	runResume bool
	runNow    bool
)

func init() {
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Reuse the saved snapshot instead of initializing a new one when it exists.")
	runCmd.Flags().BoolVar(&runNow, "now", false, "Run a refresh cycle right after starting instead of waiting for the first interval.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--resume] [--now]",
	Short: "Initializes the tracked courses and refreshes them on a schedule until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp()
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		defer a.Close()

		if runResume && a.tracker.HasSnapshot() {
			a.tel.ReportDebug("resuming from saved snapshot")
		} else {
			_, err := a.tracker.Initialize(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize course data: %w", err)
			}
		}

		telemetry.InstrumentPerfStats(ctx, a.tel)

		cron := chrono.NewStandardCron(a.time, a.tel)
		err = a.tracker.Schedule(ctx, cron, a.cfg.Schedule.IntervalHours)
		if err != nil {
			return fmt.Errorf("failed to schedule course updates: %w", err)
		}
		cron.Start()
		defer cron.Stop()

		a.tel.ReportDebug("course update job scheduled", telemetry.KV{Key: "every_hours", Value: a.cfg.Schedule.IntervalHours})

		if runNow {
			a.tracker.Tick(ctx)
		}

		<-ctx.Done()
		return nil
	},
}
