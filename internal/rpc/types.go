package rpc

import "github.com/greenpdx/fipa-wasm/internal/wire"

// The request/response types below are the Go mirror of
// proto/node_service.proto, hand-written instead of protoc-generated
// since protoc is not available in this environment; field names
// and JSON tags track the .proto field names exactly.

type SendMessageRequest struct {
	Envelope *wire.Envelope `json:"envelope"`
}
type SendMessageResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

type FindAgentRequest struct {
	AgentName string `json:"agent_name"`
}
type FindAgentResponse struct {
	Found  bool   `json:"found"`
	NodeID string `json:"node_id,omitempty"`
	Epoch  uint64 `json:"epoch,omitempty"`
}

type FindServiceRequest struct {
	ServiceName string `json:"service_name"`
}
type FindServiceResponse struct {
	AgentNames []string `json:"agent_names,omitempty"`
}

type MigrateAgentRequest struct {
	Envelope *wire.Envelope `json:"envelope"`
	FromNode string         `json:"from_node"`
}
type MigrateAgentResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

type CloneAgentRequest struct {
	Envelope *wire.Envelope `json:"envelope"`
	FromNode string         `json:"from_node"`
}
type CloneAgentResponse struct {
	Accepted        bool   `json:"accepted"`
	ClonedAgentName string `json:"cloned_agent_name,omitempty"`
	Error           string `json:"error,omitempty"`
}

type GetWasmModuleRequest struct {
	ModuleHash string `json:"module_hash"`
}
type GetWasmModuleResponse struct {
	WasmBytes []byte `json:"wasm_bytes,omitempty"`
	Found     bool   `json:"found"`
}

type SubscribeMessagesRequest struct {
	NodeID string `json:"node_id"`
}

type HealthCheckRequest struct{}
type HealthCheckResponse struct {
	Healthy bool   `json:"healthy"`
	NodeID  string `json:"node_id"`
}

type GetNodeInfoRequest struct{}
type GetNodeInfoResponse struct {
	NodeID      string `json:"node_id"`
	IsLeader    bool   `json:"is_leader"`
	LeaderAddr  string `json:"leader_addr,omitempty"`
	AgentCount  int32  `json:"agent_count"`
}
