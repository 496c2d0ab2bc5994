package clusterserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/memberlist"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/telemetry/metric"
)

// metaVersion is bumped when nodeMetadata changes incompatibly.
const metaVersion = 1

// leaveTimeout bounds how long Leave waits for its broadcast.
const leaveTimeout = 2 * time.Second

// Peer is a gossip member other than the local node.
type Peer struct {
	ID         uuid.UUID `json:"id"`
	Label      string    `json:"label,omitempty"`
	GossipAddr string    `json:"gossip_addr"`
	LinkAddr   string    `json:"link_addr"`
}

// DiscoveryConfig configures the gossip agent.
type DiscoveryConfig struct {
	// NodeID names the local member.
	NodeID uuid.UUID

	// Label is advertised alongside the link address.
	Label string

	// BindAddr and BindPort are the gossip endpoint. Port 0 picks a free one.
	BindAddr string
	BindPort int

	// LinkAddr is the advertised link listener address (host:port).
	LinkAddr string

	// Seeds are gossip addresses joined at startup.
	Seeds []string

	// OnJoin and OnLeave observe remote members. They run on memberlist's
	// event goroutine and must not block.
	OnJoin  func(Peer)
	OnLeave func(Peer)

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// nodeMetadata is gossiped as the member's meta.
type nodeMetadata struct {
	Version  int    `json:"v"`
	LinkAddr string `json:"link_addr"`
	Label    string `json:"label,omitempty"`
}

// Discovery is a running gossip agent.
type Discovery struct {
	cfg        DiscoveryConfig
	config     *memberlist.Config
	memberList *memberlist.Memberlist
	logger     *slog.Logger
	members    atomic.Int32

	mu       sync.Mutex
	shutdown bool
}

// NewDiscovery starts the gossip agent and joins the seeds, if any.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NodeID == uuid.Nil {
		return nil, domain.ErrInvalidConfig.WithDetails("gossip requires a node id")
	}
	meta, err := json.Marshal(nodeMetadata{Version: metaVersion, LinkAddr: cfg.LinkAddr, Label: cfg.Label})
	if err != nil {
		return nil, fmt.Errorf("encode node metadata: %w", err)
	}

	logger := cfg.Logger.With("component", "gossip")
	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID.String()
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.Delegate = &metadataDelegate{meta: meta}
	mlConfig.Logger = NewHCLogger(logger, "memberlist").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})

	d := &Discovery{cfg: cfg, config: mlConfig, logger: logger}
	mlConfig.Events = &eventDelegate{discovery: d}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.Seeds) > 0 {
		n, err := ml.Join(cfg.Seeds)
		if err != nil {
			_ = ml.Shutdown()
			return nil, fmt.Errorf("join seed nodes: %w", err)
		}
		logger.Info("joined gossip", "seeds", cfg.Seeds, "joined_count", n)
	} else {
		logger.Info("started gossip (bootstrap mode)", "node_id", cfg.NodeID)
	}
	return d, nil
}

// ShouldDial reports whether local dials remote when both discover each
// other: the lower UUID dials.
func ShouldDial(local, remote uuid.UUID) bool {
	return bytes.Compare(local[:], remote[:]) < 0
}

// Members returns every remote member with usable metadata.
func (d *Discovery) Members() []Peer {
	if d.memberList == nil {
		return nil
	}
	var out []Peer
	for _, n := range d.memberList.Members() {
		if p, ok := d.peer(n); ok {
			out = append(out, p)
		}
	}
	return out
}

// NumMembers returns the member count, including the local node.
func (d *Discovery) NumMembers() int {
	if d.memberList == nil {
		return 0
	}
	return d.memberList.NumMembers()
}

// LocalNode returns the local member.
func (d *Discovery) LocalNode() *memberlist.Node {
	if d.memberList == nil {
		return nil
	}
	return d.memberList.LocalNode()
}

// Addr returns the bound gossip address.
func (d *Discovery) Addr() string {
	n := d.LocalNode()
	if n == nil {
		return ""
	}
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// Leave broadcasts our departure.
func (d *Discovery) Leave() error {
	if d.memberList == nil {
		return nil
	}
	if err := d.memberList.Leave(leaveTimeout); err != nil {
		d.logger.Error("failed to leave gossip", "error", err)
		return err
	}
	d.logger.Info("left gossip")
	return nil
}

// Shutdown stops the agent. It is safe to call more than once.
func (d *Discovery) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown || d.memberList == nil {
		return nil
	}
	d.shutdown = true
	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	d.cfg.Metrics.SetGossipMembers(0)
	d.logger.Info("gossip shutdown complete")
	return nil
}

// peer decodes a remote member. The local node and members without
// metadata are skipped.
func (d *Discovery) peer(n *memberlist.Node) (Peer, bool) {
	id, err := uuid.Parse(n.Name)
	if err != nil || id == d.cfg.NodeID {
		return Peer{}, false
	}
	p := Peer{
		ID:         id,
		GossipAddr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))),
	}
	var meta nodeMetadata
	if err := json.Unmarshal(n.Meta, &meta); err != nil || meta.Version != metaVersion {
		return p, false
	}
	p.Label = meta.Label
	p.LinkAddr = meta.LinkAddr
	return p, p.LinkAddr != ""
}

func (d *Discovery) track(delta int32) {
	d.cfg.Metrics.SetGossipMembers(int(d.members.Add(delta)))
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	discovery *Discovery
}

// NotifyJoin is called when a node joins.
func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	d := e.discovery
	d.track(1)
	p, ok := d.peer(node)
	if !ok {
		if node.Name != d.config.Name {
			d.logger.Warn("ignoring member without link metadata", "member", node.Name)
		}
		return
	}
	d.logger.Info("member joined",
		"node_id", p.ID,
		"label", p.Label,
		"gossip_addr", p.GossipAddr,
		"link_addr", p.LinkAddr)
	if d.cfg.OnJoin != nil {
		d.cfg.OnJoin(p)
	}
}

// NotifyLeave is called when a node leaves or is declared dead.
func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	d := e.discovery
	d.track(-1)
	p, ok := d.peer(node)
	if !ok {
		return
	}
	d.logger.Info("member left", "node_id", p.ID, "gossip_addr", p.GossipAddr)
	if d.cfg.OnLeave != nil {
		d.cfg.OnLeave(p)
	}
}

// NotifyUpdate is called when a member's metadata changes. A new link
// address is treated like a join.
func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	d := e.discovery
	p, ok := d.peer(node)
	if !ok {
		return
	}
	d.logger.Debug("member updated", "node_id", p.ID, "link_addr", p.LinkAddr)
	if d.cfg.OnJoin != nil {
		d.cfg.OnJoin(p)
	}
}

// metadataDelegate provides node metadata to memberlist.
type metadataDelegate struct {
	meta []byte
}

// NodeMeta returns the encoded metadata.
func (m *metadataDelegate) NodeMeta(limit int) []byte {
	return m.meta
}

// NotifyMsg is called when a user message is received (not used).
func (m *metadataDelegate) NotifyMsg([]byte) {}

// GetBroadcasts is called to get broadcasts to send (not used).
func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState returns the local state for synchronization (not used).
func (m *metadataDelegate) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState merges remote state (not used).
func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool) {}
