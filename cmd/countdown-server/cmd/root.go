package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/countdown/internal/config"
	"github.com/oshokin/countdown/internal/service/server"
	"github.com/oshokin/countdown/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// storePath overrides the database file of the bolt and file stores.
	storePath string

	// rootCmd represents the base command for running the gRPC server.
	rootCmd = &cobra.Command{
		Use:   "countdown-server [listen-address]",
		Short: "Run the countdown timer gRPC server.",
		Long: `Starts the gRPC server that owns countdown timers and keeps their alarms armed.

On startup the server loads every timer from the configured store, asks the
alarm authority which alarms are still armed and completes timers whose fire
date passed while it was down. While running it reconciles timers with every
authority snapshot and completes expired timers locally.

Only the port from server_addr is used for listening (e.g., :8080).
Listen address can be provided as argument to override config (e.g., :9090, 0.0.0.0:8080).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			return server.Run(ctx, &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				StorePath:     storePath,
			})
		},
	}
)

// Execute runs the countdown-server CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&storePath, "store", "s", "", "override the timer database file")
}
