package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/spanmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/spanmesh-go/internal/infra/confloader"
	"github.com/yndnr/spanmesh-go/internal/infra/shutdown"
	"github.com/yndnr/spanmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/spanmesh-go/internal/server/clusterserver"
	"github.com/yndnr/spanmesh-go/internal/server/config"
	"github.com/yndnr/spanmesh-go/internal/server/httpserver"
	"github.com/yndnr/spanmesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/spanmesh-go/internal/server/linkserver"
	"github.com/yndnr/spanmesh-go/internal/server/localserver"
	"github.com/yndnr/spanmesh-go/internal/span"
	"github.com/yndnr/spanmesh-go/internal/storage/identity"
	"github.com/yndnr/spanmesh-go/internal/telemetry/logger"
	"github.com/yndnr/spanmesh-go/internal/telemetry/metric"
	"github.com/yndnr/spanmesh-go/pkg/crypto/adaptive"
)

const shutdownTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:    "spanmesh-server",
		Usage:   "span mesh node",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the configuration file",
				EnvVars: []string{"SPANMESH_CONFIG"},
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	configFile := c.String("config")
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slogger := log.Slog()
	log.Info("starting spanmesh-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sh := shutdown.NewHandler(shutdownTimeout, slogger)
	metrics := metric.Global()

	// Identity
	store, err := identity.Open(cfg.Storage.DataDir, slogger)
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}
	sh.OnShutdown("identity", func(context.Context) error { return store.Close() })

	label := cfg.Node.Label
	if label == "" {
		label, _ = os.Hostname()
	}
	self, err := store.LoadOrCreate(ctx, label)
	if err != nil {
		_ = sh.Shutdown()
		return fmt.Errorf("load identity: %w", err)
	}
	log.Info("node identity", "node_id", self.NodeID, "label", self.Label, "boots", self.Boots)

	// Registry
	local, err := cfg.LocalSpan(self.NodeID, self.Label)
	if err != nil {
		_ = sh.Shutdown()
		return err
	}
	subscribe, err := cfg.Subscription(self.NodeID)
	if err != nil {
		_ = sh.Shutdown()
		return err
	}
	reg := span.NewRegistry(span.Options{
		Local:        local,
		Subscribe:    subscribe,
		SplitHorizon: cfg.Link.SplitHorizon,
		Logger:       slogger,
		Metrics:      metrics,
	})

	// Links
	links := linkserver.New(linkserver.Config{
		Listen:           cfg.Link.Listen,
		Peers:            cfg.Link.Peers,
		NodeID:           self.NodeID,
		LinkKey:          []byte(cfg.Security.LinkKey),
		Cipher:           adaptive.CipherType(cfg.Security.Cipher),
		MaxQueue:         cfg.Link.MaxQueue,
		WriteTimeout:     cfg.Link.WriteTimeout,
		HandshakeTimeout: cfg.Link.DialTimeout,
		RedialInterval:   cfg.Link.RedialInterval,
		RedialBurst:      cfg.Link.RedialBurst,
		Logger:           slogger,
		Metrics:          metrics,
	}, reg)
	if err := links.Start(ctx); err != nil {
		_ = sh.Shutdown()
		return fmt.Errorf("start link server: %w", err)
	}
	sh.OnShutdown("linkserver", links.Shutdown)
	var ready atomic.Bool
	ready.Store(true)
	sh.OnShutdown("readiness", func(context.Context) error {
		ready.Store(false)
		return nil
	})

	linkAddr := cfg.Link.Listen
	if addr := links.Addr(); addr != nil {
		linkAddr = addr.String()
	}

	// Discovery
	var gossip handler.Gossip
	if cfg.Gossip.Enabled {
		disc, err := startDiscovery(cfg, self, linkAddr, links, slogger, metrics)
		if err != nil {
			_ = sh.Shutdown()
			return fmt.Errorf("start discovery: %w", err)
		}
		sh.OnShutdown("discovery", func(context.Context) error { return disc.Shutdown() })
		gossip = disc
	}

	// Admin API
	if cfg.HTTP.Addr != "" || cfg.HTTP.Socket != "" {
		node := handler.NodeStatus{
			ID:        self.NodeID,
			Label:     self.Label,
			PeerType:  cfg.Node.PeerType,
			LinkAddr:  linkAddr,
			CreatedAt: self.CreatedAt,
		}
		if local != nil {
			node.ClusterID = local.ClusterID
			node.ClusterLabel = local.ClusterLabel
		}
		api := handler.New(handler.Deps{
			Topology:  reg,
			Links:     links,
			Gossip:    gossip,
			Node:      node,
			Build:     buildinfo.Get(span.MaxRelays, span.MaxDistance),
			StartedAt: time.Now(),
			Ready:     ready.Load,
			Logger:    slogger,
		})
		if cfg.HTTP.Addr != "" {
			router := httpserver.NewRouter(&httpserver.RouterConfig{
				API:       api,
				Metrics:   metrics.Handler(),
				Logger:    slogger,
				AllowList: cfg.HTTP.AllowList,
				RateLimit: cfg.HTTP.RateLimit,
				RateBurst: cfg.HTTP.RateBurst,
			})
			srv := httpserver.New(cfg.HTTP.Addr, router, slogger)
			if cfg.HTTP.TLSCertFile != "" {
				tlsCfg, certs, err := adminTLS(&cfg.HTTP, slogger)
				if err != nil {
					_ = sh.Shutdown()
					return err
				}
				sh.OnShutdown("tls-watcher", func(context.Context) error { return certs.Stop() })
				srv.WithTLS(tlsCfg)
			}
			if err := srv.Start(); err != nil {
				_ = sh.Shutdown()
				return fmt.Errorf("start admin API: %w", err)
			}
			sh.OnShutdown("httpserver", srv.Shutdown)
		}
		if cfg.HTTP.Socket != "" {
			local := localserver.New(cfg.HTTP.Socket, httpserver.NewLocalRouter(api, slogger), slogger)
			if err := local.Start(); err != nil {
				_ = sh.Shutdown()
				return fmt.Errorf("start admin socket: %w", err)
			}
			sh.OnShutdown("localserver", local.Shutdown)
		}
	}

	// Config hot reload
	if configFile != "" {
		w, err := watchConfig(configFile, cfg, slogger)
		if err != nil {
			log.Warn("config watch disabled", "error", err)
		} else {
			sh.OnShutdown("config-watcher", func(context.Context) error { return w.Stop() })
		}
	}

	log.Info("server started", "link_addr", linkAddr, "http_addr", cfg.HTTP.Addr)
	if err := sh.Wait(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

// adminTLS loads the admin key pair and follows changes to it.
func adminTLS(h *config.HTTPSection, log *slog.Logger) (*tls.Config, *tlsroots.Watcher, error) {
	certs, err := tlsroots.NewWatcher(h.TLSCertFile, h.TLSKeyFile, tlsroots.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("admin TLS: %w", err)
	}
	var clientCAs *x509.CertPool
	if h.TLSClientCA != "" {
		if clientCAs, err = tlsroots.LoadPool(h.TLSClientCA); err != nil {
			return nil, nil, fmt.Errorf("admin TLS client CA: %w", err)
		}
	}
	if err := certs.Start(); err != nil {
		log.Warn("admin key pair reload disabled", "error", err)
	}
	return tlsroots.ServerConfig(certs, clientCAs), certs, nil
}

// startDiscovery joins the gossip pool. Of every pair of nodes only the
// one with the lower id dials, so each pair shares a single link.
func startDiscovery(cfg *config.ServerConfig, self *identity.Identity, linkAddr string,
	links *linkserver.Server, log *slog.Logger, metrics *metric.Registry) (*clusterserver.Discovery, error) {
	return clusterserver.NewDiscovery(clusterserver.DiscoveryConfig{
		NodeID:   self.NodeID,
		Label:    self.Label,
		BindAddr: cfg.Gossip.BindAddr,
		BindPort: cfg.Gossip.BindPort,
		LinkAddr: linkAddr,
		Seeds:    cfg.Gossip.Seeds,
		OnJoin: func(p clusterserver.Peer) {
			if clusterserver.ShouldDial(self.NodeID, p.ID) {
				links.AddPeer(p.LinkAddr)
			}
		},
		OnLeave: func(p clusterserver.Peer) {
			log.Info("gossip peer left", "node_id", p.ID, "link_addr", p.LinkAddr)
		},
		Logger:  log,
		Metrics: metrics,
	})
}

// loadConfig loads defaults, then the file, then the environment, and
// verifies the result.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	var opts []confloader.Option
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg *config.ServerConfig) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}

// watchConfig reapplies the log level whenever the configuration file
// changes. Other settings need a restart.
func watchConfig(path string, current *config.ServerConfig, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		_ = w.Stop()
		return nil, err
	}
	level := current.Log.Level
	w.OnChange(func(string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Warn("config reload rejected", "error", err)
			return
		}
		if cfg.Log.Level != level {
			logger.SetLevel(cfg.Log.Level)
			log.Info("log level changed", "from", level, "to", cfg.Log.Level)
			level = cfg.Log.Level
		}
	})
	w.StartAsync()
	return w, nil
}
