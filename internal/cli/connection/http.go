package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/spanmesh-go/internal/server/httpserver/handler"
)

// APIError is an error envelope returned by the server.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Details   any
	RequestID string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != nil {
		msg += fmt.Sprintf(": %v", e.Details)
	}
	return msg
}

// HTTPClient talks to the admin API of one server.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client. server may omit the scheme; a
// unix:// server names the local admin socket.
func NewHTTPClient(server string, timeout time.Duration) *HTTPClient {
	if path, ok := strings.CutPrefix(server, "unix://"); ok {
		return &HTTPClient{
			baseURL: "http://localhost",
			client: &http.Client{
				Timeout: timeout,
				Transport: &http.Transport{
					DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
						var d net.Dialer
						return d.DialContext(ctx, "unix", path)
					},
				},
			},
		}
	}

	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithTLS sets the TLS configuration for https endpoints.
func (c *HTTPClient) WithTLS(cfg *tls.Config) *HTTPClient {
	c.client.Transport = &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: cfg,
	}
	return c
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Status fetches GET /v1/status.
func (c *HTTPClient) Status(ctx context.Context) (*handler.StatusResponse, error) {
	var out handler.StatusResponse
	return &out, c.do(ctx, http.MethodGet, "/v1/status", nil, &out)
}

// Spans fetches GET /v1/spans, optionally for one cluster.
func (c *HTTPClient) Spans(ctx context.Context, cluster string) (*handler.SpansResponse, error) {
	path := "/v1/spans"
	if cluster != "" {
		path += "?cluster=" + url.QueryEscape(cluster)
	}
	var out handler.SpansResponse
	return &out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// Conns fetches GET /v1/conns.
func (c *HTTPClient) Conns(ctx context.Context) (*handler.ConnsResponse, error) {
	var out handler.ConnsResponse
	return &out, c.do(ctx, http.MethodGet, "/v1/conns", nil, &out)
}

// Ping calls POST /v1/conns/{id}/ping.
func (c *HTTPClient) Ping(ctx context.Context, id string) (*handler.PingResponse, error) {
	var out handler.PingResponse
	return &out, c.do(ctx, http.MethodPost, "/v1/conns/"+url.PathEscape(id)+"/ping", nil, &out)
}

// Route fetches GET /v1/route: the path a circuit toward the node takes.
func (c *HTTPClient) Route(ctx context.Context, cluster, node uuid.UUID, key string) (*handler.RouteResponse, error) {
	q := url.Values{}
	q.Set("cluster", cluster.String())
	q.Set("node", node.String())
	if key != "" {
		q.Set("key", key)
	}
	var out handler.RouteResponse
	return &out, c.do(ctx, http.MethodGet, "/v1/route?"+q.Encode(), nil, &out)
}

// PingNode calls POST /v1/route/ping.
func (c *HTTPClient) PingNode(ctx context.Context, cluster, node uuid.UUID, key string) (*handler.RouteResponse, error) {
	var out handler.RouteResponse
	req := handler.RouteRequest{Cluster: cluster, Node: node, Key: key}
	return &out, c.do(ctx, http.MethodPost, "/v1/route/ping", req, &out)
}

// Peers fetches GET /v1/peers.
func (c *HTTPClient) Peers(ctx context.Context) (*handler.PeersResponse, error) {
	var out handler.PeersResponse
	return &out, c.do(ctx, http.MethodGet, "/v1/peers", nil, &out)
}

// AddPeer calls POST /v1/peers.
func (c *HTTPClient) AddPeer(ctx context.Context, addr string) error {
	return c.do(ctx, http.MethodPost, "/v1/peers", handler.AddPeerRequest{Addr: addr}, nil)
}

// Health calls GET /health.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, target any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "spanmesh-cli/"+buildinfo.Version)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return ParseResponse(resp, target)
}

// ParseResponse decodes the response envelope, storing its data in
// target. Error statuses become *APIError.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	var env struct {
		Code      string          `json:"code"`
		Message   string          `json:"message"`
		RequestID string          `json:"request_id"`
		Data      json.RawMessage `json:"data"`
		Details   any             `json:"details"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 {
		if decodeErr != nil || env.Code == "" {
			return &APIError{Status: resp.StatusCode, Code: "HTTP", Message: http.StatusText(resp.StatusCode)}
		}
		return &APIError{
			Status:    resp.StatusCode,
			Code:      env.Code,
			Message:   env.Message,
			Details:   env.Details,
			RequestID: env.RequestID,
		}
	}
	if decodeErr != nil {
		return fmt.Errorf("parse response: %w", decodeErr)
	}
	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return fmt.Errorf("parse response data: %w", err)
		}
	}
	return nil
}
