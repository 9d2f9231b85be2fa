//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/countdown/internal/api/grpc/timerpb"
	"github.com/oshokin/countdown/internal/config"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/domain/timer/codec"
)

// Client wraps the gRPC TimerService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the countdown server.
	conn *grpc.ClientConn
	// api is the TimerService client interface.
	api timerpb.TimerServiceClient

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
	// actor is announced in the metadata of every call when set.
	actor string
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for unary calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor sets the "username@hostname" sent with every call.
func WithActor(actor string) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

// Event is one message of a watch stream.
type Event struct {
	// Timer is the current record; for a deletion only ID is set.
	Timer *domain.Timer
	// Deleted is true when the timer was removed.
	Deleted bool
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errIDRequired is returned when a timer id is empty.
	errIDRequired = errors.New("timer id must be provided")
)

// Dial establishes a gRPC connection to the countdown server.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial countdown server: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         timerpb.NewTimerServiceClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// CreateTimer creates an idle timer.
func (c *Client) CreateTimer(ctx context.Context, d time.Duration) (*domain.Timer, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.CreateTimer(callCtx, durationpb.New(d))
	if err != nil {
		return nil, fmt.Errorf("create timer: %w", err)
	}

	return codec.FromStruct(resp)
}

// StartTimer starts an idle timer or resumes a paused one.
func (c *Client) StartTimer(ctx context.Context, id string) (*domain.Timer, error) {
	return c.transition(ctx, "start", id, c.api.StartTimer)
}

// PauseTimer pauses a running timer.
func (c *Client) PauseTimer(ctx context.Context, id string) (*domain.Timer, error) {
	return c.transition(ctx, "pause", id, c.api.PauseTimer)
}

// ResumeTimer resumes a paused timer.
func (c *Client) ResumeTimer(ctx context.Context, id string) (*domain.Timer, error) {
	return c.transition(ctx, "resume", id, c.api.ResumeTimer)
}

// CancelTimer cancels a timer that has not finished.
func (c *Client) CancelTimer(ctx context.Context, id string) (*domain.Timer, error) {
	return c.transition(ctx, "cancel", id, c.api.CancelTimer)
}

// StopTimer completes a running or paused timer.
func (c *Client) StopTimer(ctx context.Context, id string) (*domain.Timer, error) {
	return c.transition(ctx, "stop", id, c.api.StopTimer)
}

// GetTimer returns one timer.
func (c *Client) GetTimer(ctx context.Context, id string) (*domain.Timer, error) {
	return c.transition(ctx, "get", id, c.api.GetTimer)
}

// DeleteTimer removes a timer.
func (c *Client) DeleteTimer(ctx context.Context, id string) error {
	if id == "" {
		return errIDRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.DeleteTimer(callCtx, wrapperspb.String(id)); err != nil {
		return fmt.Errorf("delete timer %s: %w", id, err)
	}

	return nil
}

// ListTimers returns all timers ordered by creation time.
func (c *Client) ListTimers(ctx context.Context) ([]*domain.Timer, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.ListTimers(callCtx, new(emptypb.Empty))
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}

	return codec.FromListValue(resp)
}

// Restore asks the server to reconcile running timers.
func (c *Client) Restore(ctx context.Context) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.Restore(callCtx, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("restore timers: %w", err)
	}

	return nil
}

// Watch streams the current timers followed by every change until ctx is
// done or the stream breaks. handle is called for each event in order.
// It returns nil when the server closes the stream.
func (c *Client) Watch(ctx context.Context, handle func(Event)) error {
	stream, err := c.api.WatchTimers(c.withMetadata(ctx), new(emptypb.Empty))
	if err != nil {
		return fmt.Errorf("watch timers: %w", err)
	}

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("receive timer change: %w", err)
		}

		event, err := decodeEvent(msg)
		if err != nil {
			return err
		}

		handle(event)
	}
}

// transition performs one id-addressed unary call.
func (c *Client) transition(
	ctx context.Context,
	name string,
	id string,
	call func(context.Context, *wrapperspb.StringValue, ...grpc.CallOption) (*structpb.Struct, error),
) (*domain.Timer, error) {
	if id == "" {
		return nil, errIDRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := call(callCtx, wrapperspb.String(id))
	if err != nil {
		return nil, fmt.Errorf("%s timer %s: %w", name, id, err)
	}

	return codec.FromStruct(resp)
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = c.withMetadata(ctx)

	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// withMetadata announces the actor to the server.
func (c *Client) withMetadata(ctx context.Context) context.Context {
	if c.actor == "" {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx, timerpb.MetadataActor, c.actor)
}

func decodeEvent(msg *structpb.Struct) (Event, error) {
	if codec.IsDeleted(msg) {
		id := msg.GetFields()[codec.FieldID].GetStringValue()
		return Event{Timer: &domain.Timer{ID: id}, Deleted: true}, nil
	}

	t, err := codec.FromStruct(msg)
	if err != nil {
		return Event{}, err
	}

	return Event{Timer: t}, nil
}
