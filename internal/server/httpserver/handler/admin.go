package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/span"
	"github.com/yndnr/spanmesh-go/internal/telemetry/logger"
)

// handleStatus handles GET /v1/status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	tree := h.deps.Topology.Tree()
	resp := StatusResponse{
		Node:      h.deps.Node,
		Build:     h.deps.Build,
		StartedAt: h.deps.StartedAt.UTC(),
		Uptime:    time.Since(h.deps.StartedAt).Truncate(time.Second).String(),
		Links:     len(h.deps.Topology.Conns()),
		Clusters:  len(tree),
	}
	for _, cl := range tree {
		resp.Nodes += len(cl.Nodes)
		for _, n := range cl.Nodes {
			resp.Paths += len(n.Links)
		}
	}
	if h.deps.Gossip != nil {
		resp.GossipMembers = h.deps.Gossip.NumMembers()
	}
	WriteJSON(w, r, http.StatusOK, resp)
}

// handleSpans handles GET /v1/spans. The optional cluster query parameter
// keeps only the cluster with that id or label.
func (h *Handler) handleSpans(w http.ResponseWriter, r *http.Request) {
	tree := h.deps.Topology.Tree()
	if want := r.URL.Query().Get("cluster"); want != "" {
		filtered := make([]span.ClusterInfo, 0, 1)
		for _, cl := range tree {
			if cl.Label == want || cl.ID.String() == strings.ToLower(want) {
				filtered = append(filtered, cl)
			}
		}
		tree = filtered
	}
	WriteJSON(w, r, http.StatusOK, SpansResponse{Clusters: tree})
}

// handleConns handles GET /v1/conns.
func (h *Handler) handleConns(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, r, http.StatusOK, ConnsResponse{Conns: h.deps.Topology.Conns()})
}

// handlePing handles POST /v1/conns/{id}/ping.
func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, r, domain.ErrInvalidArgument.WithDetails("link id is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.deps.PingTimeout)
	defer cancel()
	rtt, err := h.deps.Topology.PingConn(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.ErrUnavailable.WithDetails("ping timed out").WithCause(err)
		}
		logger.L(r.Context()).Warn("ping failed", "conn", id, "error", err)
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, r, http.StatusOK, PingResponse{
		Conn:      id,
		RTT:       rtt.String(),
		RTTMicros: rtt.Microseconds(),
	})
}

// handleListPeers handles GET /v1/peers.
func (h *Handler) handleListPeers(w http.ResponseWriter, r *http.Request) {
	resp := PeersResponse{Dialed: []string{}}
	if h.deps.Links != nil {
		resp.Dialed = h.deps.Links.Peers()
	}
	if h.deps.Gossip != nil {
		resp.Gossip = h.deps.Gossip.Members()
	}
	WriteJSON(w, r, http.StatusOK, resp)
}

// handleAddPeer handles POST /v1/peers.
func (h *Handler) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	if h.deps.Links == nil {
		WriteError(w, r, domain.ErrUnavailable.WithDetails("link server not running"))
		return
	}
	var req AddPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, domain.ErrInvalidArgument.WithDetails("invalid request body"))
		return
	}
	if _, _, err := net.SplitHostPort(req.Addr); err != nil {
		WriteError(w, r, domain.ErrInvalidArgument.WithDetails("addr must be host:port"))
		return
	}
	h.deps.Links.AddPeer(req.Addr)
	logger.L(r.Context()).Info("peer added", "addr", req.Addr)
	WriteJSON(w, r, http.StatusAccepted, req)
}
