package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/telemetry/logger"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

var peerTypes = map[string]uint8{
	"none":    wire.PeerNone,
	"cluster": wire.PeerCluster,
	"block":   wire.PeerBlock,
	"fs":      wire.PeerFS,
}

// Ciphers accepted by security.cipher.
const (
	CipherChaCha20 = "chacha20-poly1305"
	CipherAESGCM   = "aes-256-gcm"
)

// ParsePeerType converts a peer type name to its wire value.
func ParsePeerType(name string) (uint8, error) {
	t, ok := peerTypes[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown peer type %q", name)
	}
	return t, nil
}

// Verify validates the configuration. Every problem found is reported.
func Verify(cfg *ServerConfig) error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if cfg.Node.ClusterID != "" {
		if _, err := uuid.Parse(cfg.Node.ClusterID); err != nil {
			add("node.cluster_id: %v", err)
		}
	}
	if _, err := ParsePeerType(cfg.Node.PeerType); err != nil {
		add("node.peer_type: %v", err)
	}
	if len(cfg.Node.Label) > 127 || len(cfg.Node.ClusterLabel) > 127 {
		add("node labels are limited to 127 bytes")
	}

	if cfg.Link.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Link.Listen); err != nil {
			add("link.listen: %v", err)
		}
	}
	for _, p := range cfg.Link.Peers {
		if _, _, err := net.SplitHostPort(p); err != nil {
			add("link.peers: %v", err)
		}
	}
	if cfg.Link.MaxQueue < 1 {
		add("link.max_queue must be at least 1")
	}
	if cfg.Link.WriteTimeout <= 0 || cfg.Link.DialTimeout <= 0 || cfg.Link.RedialInterval <= 0 {
		add("link timeouts must be positive")
	}
	if cfg.Link.RedialBurst < 1 {
		add("link.redial_burst must be at least 1")
	}
	if cfg.Link.Listen == "" && len(cfg.Link.Peers) == 0 && !cfg.Gossip.Enabled {
		add("no links possible: set link.listen, link.peers or gossip.enabled")
	}
	for _, name := range cfg.Link.Subscribe.PeerTypes {
		if _, err := ParsePeerType(name); err != nil {
			add("link.subscribe.peer_types: %v", err)
		}
	}
	if cfg.Link.Subscribe.ClusterID != "" {
		if _, err := uuid.Parse(cfg.Link.Subscribe.ClusterID); err != nil {
			add("link.subscribe.cluster_id: %v", err)
		}
	}

	switch cfg.Security.Cipher {
	case CipherChaCha20, CipherAESGCM:
	default:
		add("security.cipher: unknown cipher %q", cfg.Security.Cipher)
	}

	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		add("http: tls_cert_file and tls_key_file must be set together")
	}
	if cfg.HTTP.TLSClientCA != "" && cfg.HTTP.TLSCertFile == "" {
		add("http.tls_client_ca: requires tls_cert_file")
	}
	if len(cfg.HTTP.Socket) > maxSocketPath {
		add("http.socket: path longer than %d bytes", maxSocketPath)
	}
	for _, entry := range cfg.HTTP.AllowList {
		if !validACLEntry(entry) {
			add("http.allow_list: invalid IP or CIDR %q", entry)
		}
	}
	if cfg.HTTP.RateLimit < 0 {
		add("http.rate_limit must not be negative")
	}
	if cfg.HTTP.RateLimit > 0 && cfg.HTTP.RateBurst < 1 {
		add("http.rate_burst must be at least 1")
	}

	if cfg.Gossip.Enabled && (cfg.Gossip.BindPort <= 0 || cfg.Gossip.BindPort > 65535) {
		add("gossip.bind_port out of range")
	}
	if cfg.Storage.DataDir == "" {
		add("storage.data_dir is required")
	}
	if !logger.ValidLevel(cfg.Log.Level) {
		add("log.level: unknown level %q", cfg.Log.Level)
	}

	if err := result.ErrorOrNil(); err != nil {
		return invalid(err)
	}
	return nil
}

// maxSocketPath fits sockaddr_un on every supported platform.
const maxSocketPath = 103

func validACLEntry(entry string) bool {
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}

// LocalSpan builds the announcement of this node, or nil when the node
// belongs to no cluster.
func (c *ServerConfig) LocalSpan(nodeID uuid.UUID, label string) (*wire.SpanPayload, error) {
	if c.Node.ClusterID == "" {
		return nil, nil
	}
	clusterID, err := uuid.Parse(c.Node.ClusterID)
	if err != nil {
		return nil, invalid(err)
	}
	pt, err := ParsePeerType(c.Node.PeerType)
	if err != nil {
		return nil, invalid(err)
	}
	if c.Node.Label != "" {
		label = c.Node.Label
	}
	return &wire.SpanPayload{
		ClusterID:    clusterID,
		NodeID:       nodeID,
		PeerType:     pt,
		ProtoVersion: wire.SpanProtoVersion,
		ClusterLabel: c.Node.ClusterLabel,
		NodeLabel:    label,
	}, nil
}

// Subscription builds the LNK_CONN filter sent on every link, or nil when
// subscriptions are disabled.
func (c *ServerConfig) Subscription(nodeID uuid.UUID) (*wire.ConnPayload, error) {
	s := c.Link.Subscribe
	if !s.Enabled {
		return nil, nil
	}
	p := &wire.ConnPayload{
		NodeID:       nodeID,
		ProtoVersion: wire.SpanProtoVersion,
		ClusterLabel: s.ClusterLabel,
		NodeLabel:    c.Node.Label,
	}
	for _, name := range s.PeerTypes {
		pt, err := ParsePeerType(name)
		if err != nil {
			return nil, invalid(err)
		}
		p.PeerMask |= 1 << pt
	}
	if pt, err := ParsePeerType(c.Node.PeerType); err == nil {
		p.PeerType = pt
	}
	if s.ClusterID != "" {
		id, err := uuid.Parse(s.ClusterID)
		if err != nil {
			return nil, invalid(err)
		}
		p.ClusterID = id
	}
	return p, nil
}

func invalid(err error) error {
	return domain.ErrInvalidConfig.WithDetails(err.Error()).WithCause(err)
}
