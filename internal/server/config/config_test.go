package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Link.Listen != DefaultLinkListen {
		t.Errorf("Link.Listen = %q, want %q", cfg.Link.Listen, DefaultLinkListen)
	}
	if cfg.Link.MaxQueue != DefaultMaxQueue {
		t.Errorf("Link.MaxQueue = %d, want %d", cfg.Link.MaxQueue, DefaultMaxQueue)
	}
	if cfg.Security.Cipher != DefaultCipher {
		t.Errorf("Security.Cipher = %q, want %q", cfg.Security.Cipher, DefaultCipher)
	}
	if cfg.HTTP.Addr != DefaultHTTPAddr {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.HTTP.Addr, DefaultHTTPAddr)
	}
	if cfg.Gossip.Enabled {
		t.Error("gossip should be disabled by default")
	}
	if cfg.Log.Level != DefaultLogLevel || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log = %+v", cfg.Log)
	}

	if err := Verify(cfg); err != nil {
		t.Fatalf("Verify(Default()) error = %v", err)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{name: "valid cluster node", mutate: func(c *ServerConfig) {
			c.Node.ClusterID = uuid.NewString()
			c.Link.Peers = []string{"10.0.0.2:5420"}
		}},
		{name: "bad cluster id", mutate: func(c *ServerConfig) { c.Node.ClusterID = "nope" }, wantErr: "node.cluster_id"},
		{name: "bad peer type", mutate: func(c *ServerConfig) { c.Node.PeerType = "disk" }, wantErr: "node.peer_type"},
		{name: "bad listen", mutate: func(c *ServerConfig) { c.Link.Listen = "5420" }, wantErr: "link.listen"},
		{name: "bad peer", mutate: func(c *ServerConfig) { c.Link.Peers = []string{"host"} }, wantErr: "link.peers"},
		{name: "zero queue", mutate: func(c *ServerConfig) { c.Link.MaxQueue = 0 }, wantErr: "link.max_queue"},
		{name: "no links", mutate: func(c *ServerConfig) { c.Link.Listen = "" }, wantErr: "no links possible"},
		{name: "bad cipher", mutate: func(c *ServerConfig) { c.Security.Cipher = "rot13" }, wantErr: "security.cipher"},
		{name: "bad subscribe type", mutate: func(c *ServerConfig) {
			c.Link.Subscribe.PeerTypes = []string{"tape"}
		}, wantErr: "link.subscribe.peer_types"},
		{name: "bad log level", mutate: func(c *ServerConfig) { c.Log.Level = "loud" }, wantErr: "log.level"},
		{name: "allow list", mutate: func(c *ServerConfig) {
			c.HTTP.AllowList = []string{"127.0.0.1", "10.0.0.0/8", "::1"}
		}},
		{name: "bad allow list", mutate: func(c *ServerConfig) {
			c.HTTP.AllowList = []string{"10.0.0.0/33"}
		}, wantErr: "http.allow_list"},
		{name: "socket too long", mutate: func(c *ServerConfig) {
			c.HTTP.Socket = "/run/" + strings.Repeat("s", 120)
		}, wantErr: "http.socket"},
		{name: "cert without key", mutate: func(c *ServerConfig) {
			c.HTTP.TLSCertFile = "/etc/spanmesh/admin.crt"
		}, wantErr: "tls_key_file"},
		{name: "client ca without tls", mutate: func(c *ServerConfig) {
			c.HTTP.TLSClientCA = "/etc/spanmesh/ca.crt"
		}, wantErr: "http.tls_client_ca"},
		{name: "no data dir", mutate: func(c *ServerConfig) { c.Storage.DataDir = "" }, wantErr: "storage.data_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Verify(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Verify() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Verify() succeeded, want error containing %q", tt.wantErr)
			}
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("Verify() error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Verify() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Node.PeerType = "disk"
	cfg.Security.Cipher = "rot13"

	err := Verify(cfg)
	if err == nil {
		t.Fatal("Verify() succeeded")
	}
	for _, want := range []string{"node.peer_type", "security.cipher"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Verify() error = %v, missing %q", err, want)
		}
	}
}

func TestLocalSpan(t *testing.T) {
	nodeID := uuid.New()
	cfg := Default()

	p, err := cfg.LocalSpan(nodeID, "host-a")
	if err != nil || p != nil {
		t.Fatalf("LocalSpan() without cluster = %v, %v, want nil", p, err)
	}

	clusterID := uuid.New()
	cfg.Node.ClusterID = clusterID.String()
	cfg.Node.ClusterLabel = "alpha"
	cfg.Node.PeerType = "block"
	p, err = cfg.LocalSpan(nodeID, "host-a")
	if err != nil {
		t.Fatalf("LocalSpan() error = %v", err)
	}
	if p.ClusterID != clusterID || p.NodeID != nodeID || p.Dist != 0 {
		t.Errorf("LocalSpan() = %+v", p)
	}
	if p.PeerType != wire.PeerBlock || p.NodeLabel != "host-a" || p.ClusterLabel != "alpha" {
		t.Errorf("LocalSpan() = %+v", p)
	}

	cfg.Node.Label = "configured"
	p, _ = cfg.LocalSpan(nodeID, "host-a")
	if p.NodeLabel != "configured" {
		t.Errorf("NodeLabel = %q, want configured label", p.NodeLabel)
	}
}

func TestSubscription(t *testing.T) {
	cfg := Default()
	if p, err := cfg.Subscription(uuid.New()); err != nil || p != nil {
		t.Fatalf("Subscription() disabled = %v, %v, want nil", p, err)
	}

	clusterID := uuid.New()
	cfg.Link.Subscribe = SubscribeSection{
		Enabled:      true,
		PeerTypes:    []string{"cluster", "fs"},
		ClusterID:    clusterID.String(),
		ClusterLabel: "alpha",
	}
	p, err := cfg.Subscription(uuid.New())
	if err != nil {
		t.Fatalf("Subscription() error = %v", err)
	}
	if want := uint64(1<<wire.PeerCluster | 1<<wire.PeerFS); p.PeerMask != want {
		t.Errorf("PeerMask = %#x, want %#x", p.PeerMask, want)
	}
	if p.ClusterID != clusterID || p.ClusterLabel != "alpha" || p.PeerType != wire.PeerCluster {
		t.Errorf("Subscription() = %+v", p)
	}
}

func TestSanitize(t *testing.T) {
	cfg := Default()
	cfg.Security.LinkKey = "correct-horse-battery"

	sanitized := Sanitize(cfg)
	if cfg.Security.LinkKey != "correct-horse-battery" {
		t.Error("Sanitize() modified the original")
	}
	got := sanitized.Security.LinkKey
	if got == cfg.Security.LinkKey || len(got) != len(cfg.Security.LinkKey) {
		t.Errorf("Sanitize() link key = %q", got)
	}
	if !strings.HasPrefix(got, "co") || !strings.HasSuffix(got, "ry") {
		t.Errorf("Sanitize() link key = %q, want ends kept", got)
	}

	if Sanitize(Default()).Security.LinkKey != "" {
		t.Error("empty key should stay empty")
	}
	if maskSecret("abc") != "****" {
		t.Errorf("maskSecret(short) = %q", maskSecret("abc"))
	}
}
