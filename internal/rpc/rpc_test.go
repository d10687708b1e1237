package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/greenpdx/fipa-wasm/internal/wire"
)

type fakeNodeServer struct {
	lastSend *SendMessageRequest
}

func (f *fakeNodeServer) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	f.lastSend = req
	return &SendMessageResponse{Accepted: true}, nil
}
func (f *fakeNodeServer) FindAgent(ctx context.Context, req *FindAgentRequest) (*FindAgentResponse, error) {
	return &FindAgentResponse{Found: req.AgentName == "known"}, nil
}
func (f *fakeNodeServer) FindService(context.Context, *FindServiceRequest) (*FindServiceResponse, error) {
	return &FindServiceResponse{}, nil
}
func (f *fakeNodeServer) MigrateAgent(context.Context, *MigrateAgentRequest) (*MigrateAgentResponse, error) {
	return &MigrateAgentResponse{Accepted: true}, nil
}
func (f *fakeNodeServer) CloneAgent(context.Context, *CloneAgentRequest) (*CloneAgentResponse, error) {
	return &CloneAgentResponse{Accepted: true}, nil
}
func (f *fakeNodeServer) GetWasmModule(context.Context, *GetWasmModuleRequest) (*GetWasmModuleResponse, error) {
	return &GetWasmModuleResponse{Found: false}, nil
}
func (f *fakeNodeServer) SubscribeMessages(req *SubscribeMessagesRequest, stream NodeService_SubscribeMessagesServer) error {
	return stream.Send(&SubscribeMessagesResponse{Envelope: &wire.Envelope{Kind: wire.KindACLMessage, SourceNode: "srv"}})
}
func (f *fakeNodeServer) HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error) {
	return &HealthCheckResponse{Healthy: true, NodeID: "node-1"}, nil
}
func (f *fakeNodeServer) GetNodeInfo(context.Context, *GetNodeInfoRequest) (*GetNodeInfoResponse, error) {
	return &GetNodeInfoResponse{NodeID: "node-1"}, nil
}

func dialBufconn(t *testing.T, impl NodeServer) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterNodeServer(srv, impl)
	go func() { _ = srv.Serve(lis) }()

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return cc, func() { cc.Close(); srv.Stop() }
}

func TestSendMessageRoundTrip(t *testing.T) {
	impl := &fakeNodeServer{}
	cc, cleanup := dialBufconn(t, impl)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := &SendMessageRequest{Envelope: &wire.Envelope{Kind: wire.KindACLMessage, SourceNode: "a", TargetNode: "b", Payload: []byte("hi")}}
	resp := new(SendMessageResponse)
	if err := cc.Invoke(ctx, "/"+serviceName+"/SendMessage", req, resp, CallOpts()...); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !resp.Accepted {
		t.Fatal("expected accepted response")
	}
	if impl.lastSend == nil || impl.lastSend.Envelope.SourceNode != "a" {
		t.Fatal("server did not receive expected envelope")
	}
}

func TestFindAgentRoundTrip(t *testing.T) {
	impl := &fakeNodeServer{}
	cc, cleanup := dialBufconn(t, impl)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := new(FindAgentResponse)
	if err := cc.Invoke(ctx, "/"+serviceName+"/FindAgent", &FindAgentRequest{AgentName: "known"}, resp, CallOpts()...); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !resp.Found {
		t.Fatal("expected found=true")
	}
}

func TestSubscribeMessagesStreams(t *testing.T) {
	impl := &fakeNodeServer{}
	cc, cleanup := dialBufconn(t, impl)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: "SubscribeMessages", ServerStreams: true}
	stream, err := cc.NewStream(ctx, desc, "/"+serviceName+"/SubscribeMessages", CallOpts()...)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	if err := stream.SendMsg(&SubscribeMessagesRequest{NodeID: "client"}); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}
	resp := new(SubscribeMessagesResponse)
	if err := stream.RecvMsg(resp); err != nil {
		t.Fatalf("RecvMsg: %v", err)
	}
	if resp.Envelope.SourceNode != "srv" {
		t.Fatalf("unexpected envelope: %+v", resp.Envelope)
	}
}
