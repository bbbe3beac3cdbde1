package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"buoy-svr/internal/observability"
)

var (
	rootCmd = &cobra.Command{
		Use:   "buoyctl",
		Short: "Operator tools for buoy telemetry frames",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger = observability.NewLoggerTo(cmd.ErrOrStderr(), "dev", level)
		},
		SilenceUsage: true,
	}

	verbose bool
	logger  = slog.Default()
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(decodeCmd, simulateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("buoyctl failed", "err", err)
		os.Exit(1)
	}
}
