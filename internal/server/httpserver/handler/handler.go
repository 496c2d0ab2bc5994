package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/spanmesh-go/internal/server/clusterserver"
	"github.com/yndnr/spanmesh-go/internal/span"
	"github.com/yndnr/spanmesh-go/internal/telemetry/logger"
)

// DefaultPingTimeout bounds POST /v1/conns/{id}/ping and POST /v1/route/ping.
const DefaultPingTimeout = 5 * time.Second

// Topology is the view of the span registry the API reads.
type Topology interface {
	Tree() []span.ClusterInfo
	Conns() []span.ConnInfo
	PingConn(ctx context.Context, id string) (time.Duration, error)
	RouteInfo(clusterID, nodeID uuid.UUID, key []byte) (span.LinkInfo, error)
	PingNode(ctx context.Context, clusterID, nodeID uuid.UUID, key []byte) (span.LinkInfo, time.Duration, error)
}

// Links manages the dialed peers.
type Links interface {
	Peers() []string
	AddPeer(addr string)
}

// Gossip lists discovered members.
type Gossip interface {
	Members() []clusterserver.Peer
	NumMembers() int
}

// Deps are the components behind the API. Links and Gossip are optional
// and must be left nil, not set to typed nil pointers, when absent.
type Deps struct {
	Topology Topology
	Links    Links
	Gossip   Gossip

	Node      NodeStatus
	Build     buildinfo.Info
	StartedAt time.Time

	// Ready reports whether the node serves links. Nil means always.
	Ready func() bool

	PingTimeout time.Duration
	Logger      *slog.Logger
}

// Handler serves the admin API.
type Handler struct {
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Handler.
func New(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.PingTimeout <= 0 {
		deps.PingTimeout = DefaultPingTimeout
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	h := &Handler{
		deps:   deps,
		logger: deps.Logger,
		mux:    http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /v1/status", h.handleStatus)
	h.mux.HandleFunc("GET /v1/spans", h.handleSpans)
	h.mux.HandleFunc("GET /v1/conns", h.handleConns)
	h.mux.HandleFunc("POST /v1/conns/{id}/ping", h.handlePing)
	h.mux.HandleFunc("GET /v1/route", h.handleRoute)
	h.mux.HandleFunc("POST /v1/route/ping", h.handleRoutePing)
	h.mux.HandleFunc("GET /v1/peers", h.handleListPeers)
	h.mux.HandleFunc("POST /v1/peers", h.handleAddPeer)
}

// WriteJSON writes a success envelope.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		logger.L(r.Context()).Error("failed to encode response", "error", err)
	}
}

// WriteError writes an error envelope. Errors other than DomainError are
// logged and reported as internal errors.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		logger.L(r.Context()).Error("internal error", "error", err)
		de = domain.ErrInternal
	}
	requestID := getRequestID(r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", de.Code)
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(StatusFor(de.Code))
	var details any
	if de.Details != "" {
		details = de.Details
	}
	_ = json.NewEncoder(w).Encode(NewErrorResponse(requestID, de.Code, de.Message, details))
}

// StatusFor maps a domain error code to an HTTP status: the first three
// digits of the code when they form one.
func StatusFor(code string) int {
	if i := strings.LastIndexByte(code, '-'); i >= 0 && len(code)-i == 5 {
		if n, err := strconv.Atoi(code[i+1 : i+4]); err == nil && n >= 400 && n < 600 {
			return n
		}
	}
	return http.StatusInternalServerError
}

func getRequestID(r *http.Request) string {
	if id := logger.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}
