package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the admin service.
const ServiceName = "pulse.admin.v1.Admin"

const (
	methodStatus      = "/" + ServiceName + "/Status"
	methodListOnline  = "/" + ServiceName + "/ListOnline"
	methodPutUser     = "/" + ServiceName + "/PutUser"
	methodPutGroup    = "/" + ServiceName + "/PutGroup"
	methodWatchEvents = "/" + ServiceName + "/WatchEvents"
)

// AdminServer is the operator surface of the daemon. Messages use the
// protobuf well-known Struct and Empty types so no generated code is needed.
type AdminServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListOnline(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	PutUser(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	PutGroup(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

// RegisterAdminServer registers srv on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

// AdminServiceDesc describes the admin service to the grpc runtime.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: unary(methodStatus, func(srv AdminServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return srv.Status(ctx, in)
		})},
		{MethodName: "ListOnline", Handler: unary(methodListOnline, func(srv AdminServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return srv.ListOnline(ctx, in)
		})},
		{MethodName: "PutUser", Handler: unary(methodPutUser, func(srv AdminServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return srv.PutUser(ctx, in)
		})},
		{MethodName: "PutGroup", Handler: unary(methodPutGroup, func(srv AdminServer, ctx context.Context, in *structpb.Struct) (any, error) {
			return srv.PutGroup(ctx, in)
		})},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(AdminServer).WatchEvents(in, stream)
			},
		},
	},
	Metadata: "pulse/admin/v1/admin.proto",
}

// unary adapts a typed method into a grpc.MethodHandler, honouring any
// configured interceptor.
func unary[Req any, PReq interface {
	*Req
}](fullMethod string, call func(AdminServer, context.Context, PReq) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdminServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}
