package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	logJSON bool
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "rao",
		Short: "Search-tree remedial action optimizer for power grid security",
		Long: `rao optimizes the network and range remedial actions of a grid case so that
the worst flow margin of the monitored branches is as large as possible.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(newLogger())
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON instead of text")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
