package grpcclient

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The forwarder exchanges well-known protobuf types only, so no generated
// stubs are needed on either side. ServiceName and RegisterForwarderServer
// are the receiving side's API for forwarder implementations.
const (
	ServiceName       = "buoy.Forwarder"
	sendReadingMethod = "/buoy.Forwarder/SendReading"
)

// ForwarderServer is implemented by the receiving side of the forwarder.
type ForwarderServer interface {
	SendReading(ctx context.Context, reading *structpb.Struct) (*wrapperspb.BoolValue, error)
}

func sendReadingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ForwarderServer).SendReading(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendReadingMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ForwarderServer).SendReading(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var forwarderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ForwarderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendReading", Handler: sendReadingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "buoy/forwarder.proto",
}

// RegisterForwarderServer exposes srv on s for GRPCClient to send readings to.
func RegisterForwarderServer(s grpc.ServiceRegistrar, srv ForwarderServer) {
	s.RegisterService(&forwarderServiceDesc, srv)
}
