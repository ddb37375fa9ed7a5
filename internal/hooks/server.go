package hooks

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server exposes a Registry to Transport callers.
type Server struct {
	reg *Registry
}

func NewServer(reg *Registry) *Server { return &Server{reg: reg} }

// Register attaches the hook runtime service to s.
func (srv *Server) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&serviceDesc, srv)
}

func (srv *Server) invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	hook, args, err := decodeCall(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, err := srv.reg.Invoke(ctx, hook, args)
	reply, err := encodeReply(result, err)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return reply, nil
}

type hookRuntimeServer interface {
	invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*hookRuntimeServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: invokeMethod,
		Handler:    invokeHandler,
	}},
	Streams: []grpc.StreamDesc{},
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
