package linkserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/yndnr/spanmesh-go/internal/iocom"
	"github.com/yndnr/spanmesh-go/internal/span"
	"github.com/yndnr/spanmesh-go/internal/telemetry/metric"
	"github.com/yndnr/spanmesh-go/pkg/crypto/adaptive"
)

// Config holds the link server configuration.
type Config struct {
	// Listen is the address accepting links. Empty disables listening.
	Listen string

	// Peers are dialed on Start and redialed whenever their link drops.
	Peers []string

	// NodeID identifies this node in the hello exchange.
	NodeID uuid.UUID

	// LinkKey enables link encryption. Empty leaves links in clear.
	LinkKey []byte
	Cipher  adaptive.CipherType

	MaxQueue     int
	WriteTimeout time.Duration

	// HandshakeTimeout bounds dialing and the hello exchange.
	HandshakeTimeout time.Duration

	// RedialInterval and RedialBurst shape the per-peer token bucket
	// limiting dial attempts.
	RedialInterval time.Duration
	RedialBurst    int

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxQueue:         4096,
		WriteTimeout:     20 * time.Millisecond,
		HandshakeTimeout: 5 * time.Second,
		RedialInterval:   2 * time.Second,
		RedialBurst:      3,
	}
}

// Server owns the links of one node.
type Server struct {
	cfg     Config
	reg     *span.Registry
	logger  *slog.Logger
	metrics *metric.Registry

	ln      net.Listener
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	peers map[string]bool
	conns map[*iocom.Conn]struct{}
}

// New creates a link server attaching its links to reg.
func New(cfg Config, reg *span.Registry) *Server {
	def := DefaultConfig()
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = def.MaxQueue
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.RedialInterval <= 0 {
		cfg.RedialInterval = def.RedialInterval
	}
	if cfg.RedialBurst <= 0 {
		cfg.RedialBurst = def.RedialBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		reg:     reg,
		logger:  cfg.Logger.With("component", "linkserver"),
		metrics: cfg.Metrics,
		peers:   make(map[string]bool),
		conns:   make(map[*iocom.Conn]struct{}),
	}
}

// Start opens the listener, if any, and starts dialing the configured
// peers. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	if s.cfg.Listen != "" {
		ln, err := net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			s.cancel()
			return err
		}
		s.ln = ln
		s.logger.Info("accepting links", "address", ln.Addr().String())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.acceptLoop(ln); err != nil {
				s.logger.Error("accept loop failed", "error", err)
			}
		}()
	}

	for _, addr := range s.cfg.Peers {
		s.AddPeer(addr)
	}
	return nil
}

// Addr returns the bound listener address, or nil.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// AddPeer starts maintaining a link to addr. Known peers are ignored.
func (s *Server) AddPeer(addr string) {
	if !s.running.Load() {
		return
	}
	s.mu.Lock()
	if s.peers[addr] {
		s.mu.Unlock()
		return
	}
	s.peers[addr] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.maintain(addr)
	}()
}

// Peers returns the addresses being dialed.
func (s *Server) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.peers))
	for addr := range s.peers {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Shutdown stops accepting and dialing, closes every link and waits for
// them to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	var result *multierror.Error
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	s.cancel()

	s.mu.Lock()
	for c := range s.conns {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, ctx.Err())
	}
	return result.ErrorOrNil()
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.serve(nc, false); err != nil {
				s.logger.Info("inbound link ended", "remote", nc.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

// maintain dials addr until the server stops, redialing after every loss.
func (s *Server) maintain(addr string) {
	limiter := rate.NewLimiter(rate.Every(s.cfg.RedialInterval), s.cfg.RedialBurst)
	dialer := net.Dialer{Timeout: s.cfg.HandshakeTimeout}
	for {
		if err := limiter.Wait(s.ctx); err != nil {
			return
		}
		nc, err := dialer.DialContext(s.ctx, "tcp", addr)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Debug("dial failed", "peer", addr, "error", err)
			continue
		}
		err = s.serve(nc, true)
		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, errSelfLink) {
			s.logger.Warn("peer address points back at this node, not redialing", "peer", addr)
			return
		}
		s.logger.Info("outbound link ended", "peer", addr, "error", err)
	}
}

// errSelfLink is returned when a node dials itself.
var errSelfLink = errors.New("link to self")

// serve runs the handshake and the link on nc until the link fails.
func (s *Server) serve(nc net.Conn, dialer bool) error {
	hs := Handshake{
		NodeID:  s.cfg.NodeID,
		LinkKey: s.cfg.LinkKey,
		Cipher:  s.cfg.Cipher,
		Timeout: s.cfg.HandshakeTimeout,
	}
	res, err := hs.Run(s.ctx, nc, dialer)
	if err != nil {
		_ = nc.Close()
		return err
	}
	if s.cfg.NodeID != uuid.Nil && res.PeerID == s.cfg.NodeID {
		_ = nc.Close()
		return errSelfLink
	}

	direction := "in"
	if dialer {
		direction = "out"
	}
	cfg := iocom.Config{
		Label:        nc.RemoteAddr().String(),
		Handler:      s.reg.HandleMessage,
		MaxQueue:     s.cfg.MaxQueue,
		WriteTimeout: s.cfg.WriteTimeout,
		Logger:       s.cfg.Logger.With("peer_node", res.PeerID.String(), "direction", direction),
		Metrics:      s.metrics,
	}
	if res.Filter != nil {
		cfg.Filter = res.Filter
	}
	c := iocom.NewConn(nc, cfg)

	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		_ = nc.Close()
		return nil
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	s.reg.Relays().Register(c)
	s.metrics.LinkUp(direction)
	defer s.metrics.LinkDown()
	c.Logger().Info("link up", "encrypted", res.Filter != nil)
	return c.Run(s.ctx)
}
