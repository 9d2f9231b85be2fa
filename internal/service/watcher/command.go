package watcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oshokin/countdown/internal/config"
	"github.com/oshokin/countdown/internal/logger"
	"github.com/oshokin/countdown/internal/service/common"
)

// Options controls the watcher behavior and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ServerAddress provides an optional gRPC server address override.
	ServerAddress string
	// RetryInterval defines the delay before reconnecting a broken stream.
	RetryInterval time.Duration
	// Output receives one line per change; os.Stdout when nil.
	Output io.Writer
}

// DefaultRetryInterval defines the delay before reconnecting a broken stream.
const DefaultRetryInterval = 5 * time.Second

// source opens watch streams.
type source interface {
	Watch(ctx context.Context, handle func(common.Event)) error
}

// Run follows timer changes until ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if err = logger.Configure(cfg.LogLevel, logger.Options{Format: cfg.LogFormat, Output: os.Stderr}); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	ctx = logger.WithName(ctx, "countdown-watch")

	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}

	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	clientOptions := make([]common.Option, 0, 1)

	if actor, actorErr := common.DetectActor(); actorErr == nil {
		clientOptions = append(clientOptions, common.WithActor(actor))
	}

	client, err := common.Dial(ctx, serverAddress, clientOptions...)
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}

	defer func() {
		_ = client.Close()
	}()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	logger.InfoKV(ctx, "Watching timers", "server_address", serverAddress, "retry_interval", opts.RetryInterval.String())

	follow(ctx, client, opts.RetryInterval, func(event common.Event) {
		_, _ = fmt.Fprintln(out, Format(event, time.Now()))
	})

	logger.Info(ctx, "Context canceled, exiting")

	return nil
}

// follow keeps a stream open and reconnects after interval whenever it ends.
func follow(ctx context.Context, src source, interval time.Duration, handle func(common.Event)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := src.Watch(ctx, handle)

		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			logger.ErrorKV(ctx, "Watch stream failed", "error", err)
		default:
			logger.Warn(ctx, "Watch stream closed by server")
		}

		ticker.Reset(interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Format renders one change as a single line.
func Format(event common.Event, now time.Time) string {
	t := event.Timer
	if event.Deleted {
		return fmt.Sprintf("%s deleted", t.ID)
	}

	line := fmt.Sprintf("%s %s remaining %s", t.ID, t.State, t.RemainingAt(now))
	if t.FireAt != nil {
		line += " fires at " + t.FireAt.Local().Format(time.DateTime)
	}

	return line
}
