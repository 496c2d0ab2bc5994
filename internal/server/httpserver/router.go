package httpserver

import (
	"log/slog"
	"net/http"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// API serves /health, /ready and /v1/*.
	API http.Handler

	// Metrics serves /metrics. Nil leaves it unrouted.
	Metrics http.Handler

	Logger *slog.Logger

	// AllowList is the IP/CIDR allowlist for /v1 and /metrics (empty = no restriction).
	AllowList []string

	// RateLimit is the per-IP request rate on /v1 (requests/second, 0 = unlimited).
	RateLimit float64
	RateBurst int
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		RateLimit: 50,
		RateBurst: 100,
	}
}

// NewRouter wires the admin API, metrics and health endpoints behind their
// middleware chains.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "httpserver")

	// Order: Recover -> RequestID -> AccessLog -> NetworkACL -> RateLimit -> Handler
	base := []Middleware{Recover(log), RequestID(log), AccessLog(log)}
	guarded := append([]Middleware(nil), base...)
	if len(cfg.AllowList) > 0 {
		guarded = append(guarded, NetworkACL(&NetworkACLConfig{AllowList: cfg.AllowList, Logger: log}))
	}
	api := append([]Middleware(nil), guarded...)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
		}
		api = append(api, RateLimit(cfg.RateLimit, burst))
	}

	mux := http.NewServeMux()

	// Health endpoints are never filtered.
	health := Chain(cfg.API, Recover(log), RequestID(log))
	mux.Handle("GET /health", health)
	mux.Handle("GET /ready", health)

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics, guarded...))
	}

	mux.Handle("/v1/", Chain(cfg.API, api...))
	return mux
}

// NewLocalRouter wires the admin API for the local socket: no allowlist
// and no rate limit.
func NewLocalRouter(api http.Handler, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "localserver")
	return Chain(api, Recover(log), RequestID(log), AccessLog(log))
}
