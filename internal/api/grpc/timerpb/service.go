package timerpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "countdown.v1.TimerService"

// MetadataActor is the metadata key carrying "user@host" of the caller.
const MetadataActor = "x-countdown-actor"

// Method names of the timer service.
const (
	MethodCreateTimer = "CreateTimer"
	MethodStartTimer  = "StartTimer"
	MethodPauseTimer  = "PauseTimer"
	MethodResumeTimer = "ResumeTimer"
	MethodCancelTimer = "CancelTimer"
	MethodStopTimer   = "StopTimer"
	MethodDeleteTimer = "DeleteTimer"
	MethodGetTimer    = "GetTimer"
	MethodListTimers  = "ListTimers"
	MethodRestore     = "Restore"
	MethodWatchTimers = "WatchTimers"
)

// TimerServiceServer is the server API of the timer service.
type TimerServiceServer interface {
	CreateTimer(ctx context.Context, duration *durationpb.Duration) (*structpb.Struct, error)
	StartTimer(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
	PauseTimer(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
	ResumeTimer(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
	CancelTimer(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
	StopTimer(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
	DeleteTimer(ctx context.Context, id *wrapperspb.StringValue) (*emptypb.Empty, error)
	GetTimer(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
	ListTimers(ctx context.Context, req *emptypb.Empty) (*structpb.ListValue, error)
	Restore(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error)
	WatchTimers(req *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

// UnimplementedTimerServiceServer returns Unimplemented for every method.
// Embed it to stay forward compatible.
type UnimplementedTimerServiceServer struct{}

func (UnimplementedTimerServiceServer) CreateTimer(context.Context, *durationpb.Duration) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateTimer not implemented")
}

func (UnimplementedTimerServiceServer) StartTimer(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method StartTimer not implemented")
}

func (UnimplementedTimerServiceServer) PauseTimer(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method PauseTimer not implemented")
}

func (UnimplementedTimerServiceServer) ResumeTimer(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ResumeTimer not implemented")
}

func (UnimplementedTimerServiceServer) CancelTimer(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method CancelTimer not implemented")
}

func (UnimplementedTimerServiceServer) StopTimer(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method StopTimer not implemented")
}

func (UnimplementedTimerServiceServer) DeleteTimer(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteTimer not implemented")
}

func (UnimplementedTimerServiceServer) GetTimer(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetTimer not implemented")
}

func (UnimplementedTimerServiceServer) ListTimers(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ListTimers not implemented")
}

func (UnimplementedTimerServiceServer) Restore(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Restore not implemented")
}

func (UnimplementedTimerServiceServer) WatchTimers(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Error(codes.Unimplemented, "method WatchTimers not implemented")
}

// ServiceDesc describes the timer service for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Service descriptors are package-level by gRPC convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TimerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodCreateTimer, TimerServiceServer.CreateTimer),
		unary(MethodStartTimer, TimerServiceServer.StartTimer),
		unary(MethodPauseTimer, TimerServiceServer.PauseTimer),
		unary(MethodResumeTimer, TimerServiceServer.ResumeTimer),
		unary(MethodCancelTimer, TimerServiceServer.CancelTimer),
		unary(MethodStopTimer, TimerServiceServer.StopTimer),
		unary(MethodDeleteTimer, TimerServiceServer.DeleteTimer),
		unary(MethodGetTimer, TimerServiceServer.GetTimer),
		unary(MethodListTimers, TimerServiceServer.ListTimers),
		unary(MethodRestore, TimerServiceServer.Restore),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchTimers,
			Handler:       watchTimersHandler,
			ServerStreams: true,
		},
	},
	Metadata: "countdown/v1/timer_service",
}

// RegisterTimerServiceServer registers srv on the gRPC server.
func RegisterTimerServiceServer(registrar grpc.ServiceRegistrar, srv TimerServiceServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the "/service/method" path of a method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// unary builds a method descriptor that decodes Req and dispatches to call.
func unary[Req, Resp any](
	method string,
	call func(TimerServiceServer, context.Context, *Req) (Resp, error),
) grpc.MethodDesc {
	fullMethod := FullMethod(method)

	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(
			srv any,
			ctx context.Context,
			dec func(any) error,
			interceptor grpc.UnaryServerInterceptor,
		) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}

			if interceptor == nil {
				return call(srv.(TimerServiceServer), ctx, in) //nolint:forcetypeassert // Guaranteed by HandlerType.
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod,
			}

			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TimerServiceServer), ctx, req.(*Req)) //nolint:forcetypeassert // Guaranteed by HandlerType.
			}

			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchTimersHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	//nolint:forcetypeassert // Guaranteed by HandlerType.
	return srv.(TimerServiceServer).WatchTimers(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{
		ServerStream: stream,
	})
}

// TimerServiceClient is the client API of the timer service.
type TimerServiceClient interface {
	CreateTimer(ctx context.Context, in *durationpb.Duration, opts ...grpc.CallOption) (*structpb.Struct, error)
	StartTimer(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	PauseTimer(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	ResumeTimer(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	CancelTimer(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	StopTimer(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	DeleteTimer(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	GetTimer(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListTimers(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Restore(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	WatchTimers(
		ctx context.Context,
		in *emptypb.Empty,
		opts ...grpc.CallOption,
	) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type timerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewTimerServiceClient creates a client on top of a connection.
//
//nolint:ireturn // Mirrors generated gRPC constructors.
func NewTimerServiceClient(cc grpc.ClientConnInterface) TimerServiceClient {
	return &timerServiceClient{cc: cc}
}

func (c *timerServiceClient) CreateTimer(
	ctx context.Context,
	in *durationpb.Duration,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodCreateTimer, in, opts)
}

func (c *timerServiceClient) StartTimer(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodStartTimer, in, opts)
}

func (c *timerServiceClient) PauseTimer(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodPauseTimer, in, opts)
}

func (c *timerServiceClient) ResumeTimer(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodResumeTimer, in, opts)
}

func (c *timerServiceClient) CancelTimer(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodCancelTimer, in, opts)
}

func (c *timerServiceClient) StopTimer(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodStopTimer, in, opts)
}

func (c *timerServiceClient) DeleteTimer(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, MethodDeleteTimer, in, opts)
}

func (c *timerServiceClient) GetTimer(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, MethodGetTimer, in, opts)
}

func (c *timerServiceClient) ListTimers(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, MethodListTimers, in, opts)
}

func (c *timerServiceClient) Restore(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, MethodRestore, in, opts)
}

//nolint:ireturn // Mirrors generated gRPC streaming clients.
func (c *timerServiceClient) WatchTimers(
	ctx context.Context,
	in *emptypb.Empty,
	opts ...grpc.CallOption,
) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(MethodWatchTimers), opts...)
	if err != nil {
		return nil, err
	}

	client := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}

	if err := client.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}

	if err := client.ClientStream.CloseSend(); err != nil {
		return nil, err
	}

	return client, nil
}

// invoke performs a unary call and decodes the response into a new Resp.
func invoke[Resp any](
	ctx context.Context,
	cc grpc.ClientConnInterface,
	method string,
	in any,
	opts []grpc.CallOption,
) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
