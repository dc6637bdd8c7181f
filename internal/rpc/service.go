// Package rpc serves the query operation over gRPC. Messages are
// google.protobuf.Struct so no generated code is needed.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName    = "voicebridge.v1.TurnService"
	GenerateMethod = "/" + ServiceName + "/Generate"
)

// TurnServiceServer is the server API for TurnService.
type TurnServiceServer interface {
	Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func RegisterTurnServiceServer(s grpc.ServiceRegistrar, srv TurnServiceServer) {
	s.RegisterService(&turnServiceDesc, srv)
}

func generateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TurnServiceServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GenerateMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TurnServiceServer).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var turnServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TurnServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Generate",
			Handler:    generateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "voicebridge/v1/turn.proto",
}

// TurnClient calls TurnService on an established connection.
type TurnClient struct {
	cc grpc.ClientConnInterface
}

func NewTurnClient(cc grpc.ClientConnInterface) *TurnClient {
	return &TurnClient{cc: cc}
}

func (c *TurnClient) Generate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GenerateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
