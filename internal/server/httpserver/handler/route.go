package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/telemetry/logger"
)

// handleRoute handles GET /v1/route?cluster=&node=&key=.
func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := parseRoute(q.Get("cluster"), q.Get("node"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	req.Key = q.Get("key")

	path, err := h.deps.Topology.RouteInfo(req.Cluster, req.Node, []byte(req.Key))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, r, http.StatusOK, RouteResponse{Cluster: req.Cluster, Node: req.Node, Path: path})
}

// handleRoutePing handles POST /v1/route/ping: a LNK_PING carried over
// the mesh to the requested node.
func (h *Handler) handleRoutePing(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, domain.ErrInvalidArgument.WithDetails("invalid request body"))
		return
	}
	if req.Cluster == uuid.Nil || req.Node == uuid.Nil {
		WriteError(w, r, domain.ErrInvalidArgument.WithDetails("cluster and node are required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.deps.PingTimeout)
	defer cancel()
	path, rtt, err := h.deps.Topology.PingNode(ctx, req.Cluster, req.Node, []byte(req.Key))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.ErrUnavailable.WithDetails("ping timed out").WithCause(err)
		}
		logger.L(r.Context()).Warn("route ping failed", "cluster", req.Cluster, "node", req.Node, "error", err)
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, r, http.StatusOK, RouteResponse{
		Cluster:   req.Cluster,
		Node:      req.Node,
		Path:      path,
		RTT:       rtt.String(),
		RTTMicros: rtt.Microseconds(),
	})
}

func parseRoute(cluster, node string) (RouteRequest, error) {
	var req RouteRequest
	var err error
	if req.Cluster, err = uuid.Parse(cluster); err != nil {
		return req, domain.ErrInvalidArgument.WithDetails("cluster must be a uuid")
	}
	if req.Node, err = uuid.Parse(node); err != nil {
		return req, domain.ErrInvalidArgument.WithDetails("node must be a uuid")
	}
	return req, nil
}
