package config

import "time"

// Default configuration values.
const (
	DefaultLinkListen     = "0.0.0.0:5420"
	DefaultMaxQueue       = 4096
	DefaultWriteTimeout   = 20 * time.Millisecond
	DefaultDialTimeout    = 5 * time.Second
	DefaultRedialInterval = 2 * time.Second
	DefaultRedialBurst    = 3

	DefaultCipher = "chacha20-poly1305"

	DefaultHTTPAddr  = "127.0.0.1:5480"
	DefaultRateLimit = 50
	DefaultRateBurst = 100

	DefaultGossipPort = 5421

	DefaultDataDir = "/var/lib/spanmesh-server"

	DefaultPeerType  = "cluster"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Node: NodeSection{
			PeerType: DefaultPeerType,
		},
		Link: LinkSection{
			Listen:         DefaultLinkListen,
			MaxQueue:       DefaultMaxQueue,
			WriteTimeout:   DefaultWriteTimeout,
			DialTimeout:    DefaultDialTimeout,
			RedialInterval: DefaultRedialInterval,
			RedialBurst:    DefaultRedialBurst,
		},
		Security: SecuritySection{
			Cipher: DefaultCipher,
		},
		HTTP: HTTPSection{
			Addr:      DefaultHTTPAddr,
			RateLimit: DefaultRateLimit,
			RateBurst: DefaultRateBurst,
		},
		Gossip: GossipSection{
			BindPort: DefaultGossipPort,
		},
		Storage: StorageSection{
			DataDir: DefaultDataDir,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
