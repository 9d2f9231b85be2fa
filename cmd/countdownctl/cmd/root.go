package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/countdown/internal/config"
	"github.com/oshokin/countdown/internal/service/client"
	"github.com/oshokin/countdown/internal/service/watcher"
	"github.com/oshokin/countdown/internal/version"
)

var (
	// configPath stores the configuration file path.
	configPath string
	// serverAddress overrides server_addr from the configuration.
	serverAddress string
	// wait keeps retrying while the server is unreachable.
	wait bool
	// startNow starts a created timer right away.
	startNow bool
	// retryInterval is the reconnect delay of the watch command.
	retryInterval time.Duration

	// rootCmd represents the base command of the timer client.
	rootCmd = &cobra.Command{
		Use:   "countdownctl",
		Short: "Manage countdown timers on a countdown server.",
		Long: `Creates and controls countdown timers on a countdown server.

Every command prints the affected timers as a table. The server address is
read from the configuration file unless --server is given.`,
		SilenceUsage: true,
	}
)

// Execute runs the countdownctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run performs one client action with signal-aware cancellation.
func run(opts *client.Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	opts.ConfigPath = configPath
	opts.ServerAddress = serverAddress
	opts.Wait = wait

	return client.Run(ctx, opts)
}

// idCommand builds a command that applies action to one timer.
func idCommand(action client.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <timer-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(&client.Options{Action: action, TimerID: args[0]})
		},
	}
}

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <duration>",
		Short: "Create an idle timer, e.g. create 25m.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("parse duration: %w", err)
			}

			return run(&client.Options{Action: client.ActionCreate, Duration: d, StartNow: startNow})
		},
	}

	cmd.Flags().BoolVar(&startNow, "start", false, "start the timer right after creating it")

	return cmd
}

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print every timer change as it happens.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return watcher.Run(ctx, &watcher.Options{
				ConfigPath:    configPath,
				ServerAddress: serverAddress,
				RetryInterval: retryInterval,
			})
		},
	}

	cmd.Flags().DurationVar(&retryInterval, "retry", watcher.DefaultRetryInterval, "delay before reconnecting a broken stream")

	return cmd
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&serverAddress, "server", "", "override the server address")
	rootCmd.PersistentFlags().BoolVarP(&wait, "wait", "w", false, "retry until the server is reachable")

	rootCmd.AddCommand(
		newCreateCommand(),
		idCommand(client.ActionStart, "Start an idle timer or resume a paused one."),
		idCommand(client.ActionPause, "Pause a running timer."),
		idCommand(client.ActionResume, "Resume a paused timer."),
		idCommand(client.ActionCancel, "Cancel a timer that has not finished."),
		idCommand(client.ActionStop, "Complete a running or paused timer."),
		idCommand(client.ActionDelete, "Delete a timer."),
		idCommand(client.ActionGet, "Show one timer."),
		&cobra.Command{
			Use:   "list",
			Short: "List all timers.",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return run(&client.Options{Action: client.ActionList})
			},
		},
		&cobra.Command{
			Use:   "restore",
			Short: "Reconcile running timers with the armed alarms and list them.",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return run(&client.Options{Action: client.ActionRestore})
			},
		},
		newWatchCommand(),
	)
}
