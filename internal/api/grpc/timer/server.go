package timer

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/countdown/internal/api/grpc/timerpb"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/domain/timer/codec"
	"github.com/oshokin/countdown/internal/logger"
	"github.com/oshokin/countdown/internal/service/timers"
)

// watchBuffer is the number of changes a watcher may lag behind.
const watchBuffer = 64

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	CreateTimer(ctx context.Context, d time.Duration) (*domain.Timer, error)
	StartTimer(ctx context.Context, id string) (*domain.Timer, error)
	PauseTimer(ctx context.Context, id string) (*domain.Timer, error)
	ResumeTimer(ctx context.Context, id string) (*domain.Timer, error)
	CancelTimer(ctx context.Context, id string) (*domain.Timer, error)
	StopTimer(ctx context.Context, id string) (*domain.Timer, error)
	DeleteTimer(ctx context.Context, id string) error
	Get(id string) (*domain.Timer, error)
	List() []*domain.Timer
	Restore(ctx context.Context) error
	Subscribe(ctx context.Context, buffer int) <-chan timers.Change
}

// Server implements the TimerService gRPC API.
type Server struct {
	timerpb.UnimplementedTimerServiceServer

	// service provides the timer operations.
	service Service
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// CreateTimer creates an idle timer of the requested duration.
func (s *Server) CreateTimer(ctx context.Context, req *durationpb.Duration) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "duration is required")
	}

	if err := req.CheckValid(); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid duration: %v", err)
	}

	ctx = withActor(ctx)

	t, err := s.service.CreateTimer(ctx, req.AsDuration())
	if err != nil {
		return nil, toStatus(err)
	}

	return encode(t)
}

// StartTimer starts an idle timer or resumes a paused one.
func (s *Server) StartTimer(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.transition(ctx, req, s.service.StartTimer)
}

// PauseTimer pauses a running timer.
func (s *Server) PauseTimer(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.transition(ctx, req, s.service.PauseTimer)
}

// ResumeTimer resumes a paused timer.
func (s *Server) ResumeTimer(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.transition(ctx, req, s.service.ResumeTimer)
}

// CancelTimer cancels a timer that has not finished.
func (s *Server) CancelTimer(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.transition(ctx, req, s.service.CancelTimer)
}

// StopTimer completes a running or paused timer.
func (s *Server) StopTimer(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return s.transition(ctx, req, s.service.StopTimer)
}

// DeleteTimer removes a timer.
func (s *Server) DeleteTimer(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	id, err := timerID(req)
	if err != nil {
		return nil, err
	}

	if err = s.service.DeleteTimer(withActor(ctx), id); err != nil {
		return nil, toStatus(err)
	}

	return new(emptypb.Empty), nil
}

// GetTimer returns one timer.
func (s *Server) GetTimer(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id, err := timerID(req)
	if err != nil {
		return nil, err
	}

	t, err := s.service.Get(id)
	if err != nil {
		return nil, toStatus(err)
	}

	return encode(t)
}

// ListTimers returns all timers ordered by creation time.
func (s *Server) ListTimers(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	list, err := codec.ToListValue(s.service.List())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return list, nil
}

// Restore reconciles running timers with the clock and the armed alarms.
func (s *Server) Restore(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.service.Restore(withActor(ctx)); err != nil {
		return nil, toStatus(err)
	}

	return new(emptypb.Empty), nil
}

// WatchTimers streams every timer once and then each committed change.
// A deleted timer is sent as {id, deleted: true}.
func (s *Server) WatchTimers(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := withActor(stream.Context())

	// Subscribe first so that no change between the listing and the stream is lost.
	changes := s.service.Subscribe(ctx, watchBuffer)

	logger.Debug(ctx, "Watcher attached")

	for _, t := range s.service.List() {
		if err := send(stream, timers.Change{Timer: t}); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug(ctx, "Watcher detached")
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}

			if err := send(stream, change); err != nil {
				return err
			}
		}
	}
}

// transition validates the id and applies one lifecycle command.
func (s *Server) transition(
	ctx context.Context,
	req *wrapperspb.StringValue,
	apply func(ctx context.Context, id string) (*domain.Timer, error),
) (*structpb.Struct, error) {
	id, err := timerID(req)
	if err != nil {
		return nil, err
	}

	t, err := apply(withActor(ctx), id)
	if err != nil {
		return nil, toStatus(err)
	}

	return encode(t)
}

// send writes one change to the stream.
func send(stream grpc.ServerStreamingServer[structpb.Struct], change timers.Change) error {
	if change.Deleted {
		return stream.Send(codec.DeletedStruct(change.Timer.ID))
	}

	s, err := encode(change.Timer)
	if err != nil {
		return err
	}

	return stream.Send(s)
}

// timerID extracts a non-empty id.
func timerID(req *wrapperspb.StringValue) (string, error) {
	if req.GetValue() == "" {
		return "", status.Error(codes.InvalidArgument, "timer id is required")
	}

	return req.GetValue(), nil
}

// encode converts a domain timer to its wire form.
func encode(t *domain.Timer) (*structpb.Struct, error) {
	s, err := codec.ToStruct(t)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return s, nil
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidDuration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrPersistenceFailed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// withActor attaches the caller announced in the request metadata to the logger.
func withActor(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}

	if values := md.Get(timerpb.MetadataActor); len(values) > 0 && values[0] != "" {
		return logger.WithKV(ctx, "actor", values[0])
	}

	return ctx
}
