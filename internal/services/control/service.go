// Package control espone via gRPC i comandi verso gli attuatori (pompe, valvole).
// I messaggi sono google.protobuf.Struct: non serve codice generato.
package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName        = "agrotelemetry.control.v1.ControlService"
	publishMethod      = "/" + ServiceName + "/Publish"
	setPumpStateMethod = "/" + ServiceName + "/SetPumpState"
)

// ControlServiceServer è l'interfaccia registrata sul server gRPC.
type ControlServiceServer interface {
	Publish(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetPumpState(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterControlServiceServer(s grpc.ServiceRegistrar, srv ControlServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
		{MethodName: "SetPumpState", Handler: setPumpStateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agrotelemetry/control/v1/control.proto",
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func setPumpStateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).SetPumpState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: setPumpStateMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).SetPumpState(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Client è il client tipizzato del servizio.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) Publish(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, publishMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetPumpState(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, setPumpStateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
