package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/countdown/internal/config"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/logger"
	"github.com/oshokin/countdown/internal/service/common"
)

// Action names a countdownctl operation.
type Action string

// Supported actions.
const (
	ActionCreate  Action = "create"
	ActionStart   Action = "start"
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
	ActionCancel  Action = "cancel"
	ActionStop    Action = "stop"
	ActionDelete  Action = "delete"
	ActionGet     Action = "get"
	ActionList    Action = "list"
	ActionRestore Action = "restore"
)

// Options configures one client invocation.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// ServerAddress overrides server address from config when specified.
	ServerAddress string
	// Action is the operation to perform.
	Action Action
	// TimerID addresses the timer for id-based actions.
	TimerID string
	// Duration is the length of a new timer.
	Duration time.Duration
	// StartNow starts a created timer right away.
	StartNow bool
	// Wait keeps retrying while the server is unreachable.
	Wait bool
	// Output receives the printed records; os.Stdout when nil.
	Output io.Writer
}

// defaultRetryInterval defines the delay between attempts while the server is unreachable.
const defaultRetryInterval = 1 * time.Second

// errUnknownAction is returned for an unsupported action.
var errUnknownAction = errors.New("unknown action")

// Run connects to the server and performs the requested action.
func Run(ctx context.Context, opts *Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	// Records go to stdout, so logs go to stderr.
	if err = logger.Configure(cfg.LogLevel, logger.Options{Format: cfg.LogFormat, Output: os.Stderr}); err != nil {
		return err
	}

	ctx = logger.WithName(ctx, "countdownctl")

	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	clientOptions := []common.Option{common.WithCallTimeout(cfg.Timeout)}

	if actor, actorErr := common.DetectActor(); actorErr == nil {
		clientOptions = append(clientOptions, common.WithActor(actor))
	} else {
		logger.WarnKV(ctx, "Unable to detect actor", "error", actorErr)
	}

	client, err := common.Dial(ctx, serverAddress, clientOptions...)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	logger.DebugKV(ctx, "Performing action", "server_address", serverAddress, "action", opts.Action)

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	timers, err := Perform(ctx, client, opts)
	if err != nil {
		return err
	}

	return Print(out, timers, time.Now())
}

// timerClient is the part of common.Client that actions use.
type timerClient interface {
	CreateTimer(ctx context.Context, d time.Duration) (*domain.Timer, error)
	StartTimer(ctx context.Context, id string) (*domain.Timer, error)
	PauseTimer(ctx context.Context, id string) (*domain.Timer, error)
	ResumeTimer(ctx context.Context, id string) (*domain.Timer, error)
	CancelTimer(ctx context.Context, id string) (*domain.Timer, error)
	StopTimer(ctx context.Context, id string) (*domain.Timer, error)
	GetTimer(ctx context.Context, id string) (*domain.Timer, error)
	DeleteTimer(ctx context.Context, id string) error
	ListTimers(ctx context.Context) ([]*domain.Timer, error)
	Restore(ctx context.Context) error
}

// Perform runs one action and returns the records to print. With Wait set,
// every call is retried on its own while the server is unreachable, so a
// create that succeeded is never repeated.
//
//nolint:cyclop // One case per action.
func Perform(ctx context.Context, client timerClient, opts *Options) ([]*domain.Timer, error) {
	call := func(fn func() error) error {
		if !opts.Wait {
			return fn()
		}

		return retryUnavailable(ctx, defaultRetryInterval, fn)
	}

	one := func(fn func() (*domain.Timer, error)) ([]*domain.Timer, error) {
		var timer *domain.Timer

		err := call(func() error {
			var err error

			timer, err = fn()

			return err
		})
		if err != nil {
			return nil, err
		}

		return []*domain.Timer{timer}, nil
	}

	switch opts.Action {
	case ActionCreate:
		created, err := one(func() (*domain.Timer, error) { return client.CreateTimer(ctx, opts.Duration) })
		if err != nil || !opts.StartNow {
			return created, err
		}

		id := created[0].ID

		started, err := one(func() (*domain.Timer, error) { return client.StartTimer(ctx, id) })
		if err != nil {
			return nil, fmt.Errorf("start created timer %s: %w", id, err)
		}

		return started, nil
	case ActionStart:
		return one(func() (*domain.Timer, error) { return client.StartTimer(ctx, opts.TimerID) })
	case ActionPause:
		return one(func() (*domain.Timer, error) { return client.PauseTimer(ctx, opts.TimerID) })
	case ActionResume:
		return one(func() (*domain.Timer, error) { return client.ResumeTimer(ctx, opts.TimerID) })
	case ActionCancel:
		return one(func() (*domain.Timer, error) { return client.CancelTimer(ctx, opts.TimerID) })
	case ActionStop:
		return one(func() (*domain.Timer, error) { return client.StopTimer(ctx, opts.TimerID) })
	case ActionGet:
		return one(func() (*domain.Timer, error) { return client.GetTimer(ctx, opts.TimerID) })
	case ActionDelete:
		return nil, call(func() error { return client.DeleteTimer(ctx, opts.TimerID) })
	case ActionList, ActionRestore:
		if opts.Action == ActionRestore {
			if err := call(func() error { return client.Restore(ctx) }); err != nil {
				return nil, err
			}
		}

		var timers []*domain.Timer

		err := call(func() error {
			var err error

			timers, err = client.ListTimers(ctx)

			return err
		})

		return timers, err
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownAction, opts.Action)
	}
}

// Print writes the records as an aligned table.
func Print(out io.Writer, timers []*domain.Timer, now time.Time) error {
	if len(timers) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ID\tSTATE\tDURATION\tREMAINING\tFIRES AT")

	for _, t := range timers {
		fireAt := "-"
		if t.FireAt != nil {
			fireAt = t.FireAt.Local().Format(time.DateTime)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.State, t.Duration, t.RemainingAt(now), fireAt)
	}

	return w.Flush()
}

// retryUnavailable calls attempt until it succeeds, fails with anything but
// an unreachable server, or ctx is done.
func retryUnavailable(ctx context.Context, interval time.Duration, attempt func() error) error {
	err := attempt()
	if !unavailable(err) {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		logger.WarnKV(ctx, "Server unavailable, retrying", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err = attempt()
			if !unavailable(err) {
				return err
			}
		}
	}
}

// unavailable reports whether err means the server could not be reached.
func unavailable(err error) bool {
	return status.Code(err) == codes.Unavailable
}
