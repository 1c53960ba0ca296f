package commands

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"coursetracker/internal/course"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints the saved snapshot.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		defer a.Close()

		snap, err := a.tracker.Snapshot()
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		printSnapshot(snap)
		return nil
	},
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func printSnapshot(snap course.Snapshot) {
	t := newTable()
	t.AppendHeader(table.Row{"Course", "Name", "State", "Location", "Availability", "Checked", "Subscribers"})

	for _, key := range snap.Keys() {
		record := snap[key]

		checked := "never"
		if record.CheckedAt != nil {
			checked = record.CheckedAt.Format(time.DateTime)
		}

		subscribers := make([]string, 0, len(record.Roster))
		for email := range record.Roster {
			subscribers = append(subscribers, email)
		}
		slices.Sort(subscribers)

		t.AppendRow(table.Row{
			key,
			record.Name,
			record.Status(),
			strings.Join(record.Locations(), "\n"),
			strings.Join(record.Availabilities(), "\n"),
			checked,
			strings.Join(subscribers, "\n"),
		})
		t.AppendSeparator()
	}

	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(snap)})
	t.Render()
}
