package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/spanmesh-go/internal/server/clusterserver"
	"github.com/yndnr/spanmesh-go/internal/span"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// NodeStatus identifies the local node.
type NodeStatus struct {
	ID           uuid.UUID `json:"id"`
	Label        string    `json:"label"`
	ClusterID    uuid.UUID `json:"cluster_id"`
	ClusterLabel string    `json:"cluster_label,omitempty"`
	PeerType     string    `json:"peer_type,omitempty"`
	LinkAddr     string    `json:"link_addr,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// StatusResponse is the response body for GET /v1/status.
type StatusResponse struct {
	Node          NodeStatus     `json:"node"`
	Build         buildinfo.Info `json:"build"`
	StartedAt     time.Time      `json:"started_at"`
	Uptime        string         `json:"uptime"`
	Links         int            `json:"links"`
	Clusters      int            `json:"clusters"`
	Nodes         int            `json:"nodes"`
	Paths         int            `json:"paths"`
	GossipMembers int            `json:"gossip_members"`
}

// SpansResponse is the response body for GET /v1/spans.
type SpansResponse struct {
	Clusters []span.ClusterInfo `json:"clusters"`
}

// ConnsResponse is the response body for GET /v1/conns.
type ConnsResponse struct {
	Conns []span.ConnInfo `json:"conns"`
}

// PingResponse is the response body for POST /v1/conns/{id}/ping.
type PingResponse struct {
	Conn      string `json:"conn"`
	RTT       string `json:"rtt"`
	RTTMicros int64  `json:"rtt_us"`
}

// RouteRequest names a destination node. Key selects among its
// equal-distance paths.
type RouteRequest struct {
	Cluster uuid.UUID `json:"cluster"`
	Node    uuid.UUID `json:"node"`
	Key     string    `json:"key,omitempty"`
}

// RouteResponse is the response body for GET /v1/route and
// POST /v1/route/ping. RTT is set by the ping only.
type RouteResponse struct {
	Cluster   uuid.UUID     `json:"cluster"`
	Node      uuid.UUID     `json:"node"`
	Path      span.LinkInfo `json:"path"`
	RTT       string        `json:"rtt,omitempty"`
	RTTMicros int64         `json:"rtt_us,omitempty"`
}

// PeersResponse is the response body for GET /v1/peers.
type PeersResponse struct {
	Dialed []string             `json:"dialed"`
	Gossip []clusterserver.Peer `json:"gossip"`
}

// AddPeerRequest is the request body for POST /v1/peers.
type AddPeerRequest struct {
	Addr string `json:"addr"`
}
