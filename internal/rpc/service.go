// Package rpc is the inter-node gRPC surface described in
// proto/node_service.proto: hand-written grpc.ServiceDesc and handler
// functions in the same shape protoc-gen-go-grpc would emit, wired to a
// JSON encoding.Codec instead of generated protobuf message types.
// Grounded on the teacher's internal/api/grpc (real grpc.Server,
// interceptor chain, keepalive tuning) generalized from the teacher's
// mail/agent/session services to the single NodeService surface this
// spec needs.
package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/greenpdx/fipa-wasm/internal/wire"
)

const serviceName = "fipawasm.rpc.NodeService"

// NodeServer is the interface internal/rpc.Server implements and every
// handler below dispatches to; public/node's adapter implements it on
// top of the Supervisor, Router, consensus Node, and Migration Engine.
type NodeServer interface {
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	FindAgent(context.Context, *FindAgentRequest) (*FindAgentResponse, error)
	FindService(context.Context, *FindServiceRequest) (*FindServiceResponse, error)
	MigrateAgent(context.Context, *MigrateAgentRequest) (*MigrateAgentResponse, error)
	CloneAgent(context.Context, *CloneAgentRequest) (*CloneAgentResponse, error)
	GetWasmModule(context.Context, *GetWasmModuleRequest) (*GetWasmModuleResponse, error)
	SubscribeMessages(*SubscribeMessagesRequest, NodeService_SubscribeMessagesServer) error
	HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error)
	GetNodeInfo(context.Context, *GetNodeInfoRequest) (*GetNodeInfoResponse, error)
}

// NodeService_SubscribeMessagesServer is the server-side stream handle
// for the one streaming method, matching the shape a generated
// ..._SubscribeMessagesServer interface would have.
type NodeService_SubscribeMessagesServer interface {
	Send(*SubscribeMessagesResponse) error
	grpc.ServerStream
}

// SubscribeMessagesResponse wraps an envelope so the stream has a named
// response type, matching proto/node_service.proto's "stream
// fipawasm.wire.Envelope" (wrapped, since grpc streams send one message
// type and we want room to add a sequence number without breaking the
// wire shape later).
type SubscribeMessagesResponse struct {
	Envelope *wire.Envelope `json:"envelope"`
}

type nodeServiceSubscribeMessagesServer struct {
	grpc.ServerStream
}

func (x *nodeServiceSubscribeMessagesServer) Send(m *SubscribeMessagesResponse) error {
	return x.ServerStream.SendMsg(m)
}

func _NodeService_SendMessage_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SendMessageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).SendMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/SendMessage"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).SendMessage(ctx, req.(*SendMessageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeService_FindAgent_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FindAgentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).FindAgent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/FindAgent"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).FindAgent(ctx, req.(*FindAgentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeService_FindService_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FindServiceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).FindService(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/FindService"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).FindService(ctx, req.(*FindServiceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeService_MigrateAgent_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MigrateAgentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).MigrateAgent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/MigrateAgent"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).MigrateAgent(ctx, req.(*MigrateAgentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeService_CloneAgent_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CloneAgentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).CloneAgent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/CloneAgent"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).CloneAgent(ctx, req.(*CloneAgentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeService_GetWasmModule_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetWasmModuleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).GetWasmModule(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetWasmModule"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).GetWasmModule(ctx, req.(*GetWasmModuleRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeService_HealthCheck_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HealthCheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).HealthCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/HealthCheck"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).HealthCheck(ctx, req.(*HealthCheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeService_GetNodeInfo_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetNodeInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServer).GetNodeInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetNodeInfo"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServer).GetNodeInfo(ctx, req.(*GetNodeInfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeService_SubscribeMessages_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(SubscribeMessagesRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(NodeServer).SubscribeMessages(in, &nodeServiceSubscribeMessagesServer{stream})
}

// ServiceDesc is registered against a *grpc.Server with RegisterNodeServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*NodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendMessage", Handler: _NodeService_SendMessage_Handler},
		{MethodName: "FindAgent", Handler: _NodeService_FindAgent_Handler},
		{MethodName: "FindService", Handler: _NodeService_FindService_Handler},
		{MethodName: "MigrateAgent", Handler: _NodeService_MigrateAgent_Handler},
		{MethodName: "CloneAgent", Handler: _NodeService_CloneAgent_Handler},
		{MethodName: "GetWasmModule", Handler: _NodeService_GetWasmModule_Handler},
		{MethodName: "HealthCheck", Handler: _NodeService_HealthCheck_Handler},
		{MethodName: "GetNodeInfo", Handler: _NodeService_GetNodeInfo_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeMessages",
			Handler:       _NodeService_SubscribeMessages_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "node_service.proto",
}

// RegisterNodeServer registers srv's NodeService methods on s.
func RegisterNodeServer(s grpc.ServiceRegistrar, srv NodeServer) {
	s.RegisterService(&ServiceDesc, srv)
}
