package config

import "time"

// ServerConfig is the root configuration for spanmesh-server.
type ServerConfig struct {
	Node     NodeSection     `koanf:"node"`
	Link     LinkSection     `koanf:"link"`
	Security SecuritySection `koanf:"security"`
	HTTP     HTTPSection     `koanf:"http"`
	Gossip   GossipSection   `koanf:"gossip"`
	Storage  StorageSection  `koanf:"storage"`
	Log      LogSection      `koanf:"log"`
}

// NodeSection describes the node this process announces.
type NodeSection struct {
	// Label is the node label. Defaults to the host name.
	Label string `koanf:"label"`

	// ClusterID is the UUID of the cluster the node belongs to. Empty
	// means the node relays only and announces nothing.
	ClusterID string `koanf:"cluster_id"`

	// ClusterLabel is the human readable cluster name.
	ClusterLabel string `koanf:"cluster_label"`

	// PeerType is one of none, cluster, block, fs.
	PeerType string `koanf:"peer_type"`
}

// LinkSection configures the link listener and outbound links.
type LinkSection struct {
	// Listen is the TCP address accepting links. Empty disables it.
	Listen string `koanf:"listen"`

	// Peers are link addresses dialed at startup and redialed on loss.
	Peers []string `koanf:"peers"`

	// SplitHorizon stops relaying a span back onto the connection it came
	// from.
	SplitHorizon bool `koanf:"split_horizon"`

	MaxQueue       int           `koanf:"max_queue"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	DialTimeout    time.Duration `koanf:"dial_timeout"`
	RedialInterval time.Duration `koanf:"redial_interval"`
	RedialBurst    int           `koanf:"redial_burst"`

	Subscribe SubscribeSection `koanf:"subscribe"`
}

// SubscribeSection is the LNK_CONN filter sent on every link.
type SubscribeSection struct {
	Enabled bool `koanf:"enabled"`

	// PeerTypes restricts relayed spans by peer type. Empty accepts all.
	PeerTypes []string `koanf:"peer_types"`

	ClusterID    string `koanf:"cluster_id"`
	ClusterLabel string `koanf:"cluster_label"`
}

// SecuritySection configures link encryption.
type SecuritySection struct {
	// LinkKey is the pre-shared key links derive their session keys
	// from. Empty leaves links in clear.
	LinkKey string `koanf:"link_key"`

	// Cipher is chacha20-poly1305 or aes-256-gcm.
	Cipher string `koanf:"cipher"`
}

// HTTPSection configures the admin API.
type HTTPSection struct {
	// Addr is the admin listen address. Empty disables the API.
	Addr string `koanf:"addr"`

	// Socket is a Unix socket path serving the same API to local users.
	// Empty disables it.
	Socket string `koanf:"socket"`

	// AllowList restricts /v1 and /metrics to these IPs or CIDRs.
	AllowList []string `koanf:"allow_list"`

	// RateLimit is the sustained request rate per second, 0 for none.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	// TLSCertFile and TLSKeyFile switch the TCP listener to HTTPS. The
	// pair is reloaded when the files change.
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// TLSClientCA, when set, requires client certificates signed by it.
	TLSClientCA string `koanf:"tls_client_ca"`
}

// GossipSection configures memberlist peer discovery.
type GossipSection struct {
	Enabled  bool     `koanf:"enabled"`
	BindAddr string   `koanf:"bind_addr"`
	BindPort int      `koanf:"bind_port"`
	Seeds    []string `koanf:"seeds"`
}

// StorageSection configures the node identity store.
type StorageSection struct {
	DataDir string `koanf:"data_dir"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
