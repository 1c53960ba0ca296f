package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"coursetracker/internal/telemetry"

	"github.com/spf13/cobra"
)

const serviceName = "coursetracker"

var (
	configPath string
	verbose    bool
	dumpHttp   string
)

var (
	otelHandle telemetry.Otel
	baseTel    telemetry.API
)

var rootCmd = &cobra.Command{
	Use:   "coursetracker",
	Short: "coursetracker watches NCSU course sections and emails subscribers when seats change.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		baseTel = telemetry.InitSlog(verbose)

		var err error
		otelHandle, err = telemetry.SetupFromEnv(cmd.Context(), serviceName)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "telemetry setup failed:", err)
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// flushTelemetry is swapped out in tests.
var flushTelemetry = func(ctx context.Context) error {
	return otelHandle.Shutdown(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json5", "The config file, a config.local.json5 next to it is merged over it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
	rootCmd.PersistentFlags().StringVar(&dumpHttp, "dump-http", "", "Dump every catalog request/response into this directory.")
}

// execute runs the command line in args (os.Args when nil) and flushes the
// telemetry exporters before returning, whether the command failed or not.
func execute(ctx context.Context, args []string) error {
	if args != nil {
		rootCmd.SetArgs(args)
	}
	err := rootCmd.ExecuteContext(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	flushErr := flushTelemetry(flushCtx)
	if flushErr != nil {
		fmt.Fprintln(os.Stderr, "telemetry shutdown failed:", flushErr)
	}
	return err
}

func ExecuteContext(ctx context.Context) {
	err := execute(ctx, nil)
	if err != nil {
		slog.Error("command failed", "err", err.Error())
		os.Exit(1)
	}
}
