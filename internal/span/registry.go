// Package span maintains the spanning-tree view of the mesh: which cluster
// nodes are reachable and at what distance, built from received LNK_SPAN
// transactions, and the relays that re-announce the best paths over every
// other link.
package span

import (
	"log/slog"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/iocom"
	"github.com/yndnr/spanmesh-go/internal/telemetry/metric"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

// Cluster groups the nodes announced under one cluster id.
type Cluster struct {
	ID       uuid.UUID
	Label    string
	PeerType uint8

	nodes map[uuid.UUID]*Node
}

// Node is one cluster member as seen through announcements.
type Node struct {
	ID       uuid.UUID
	Label    string
	NodeType uint8

	cluster *Cluster
	links   *btree.BTreeG[*Link]
}

// Cluster returns the cluster the node belongs to.
func (n *Node) Cluster() *Cluster { return n.cluster }

// Link is one received LNK_SPAN transaction: a path to a node at some
// distance through the link it arrived on.
type Link struct {
	id      uint64
	node    *Node
	dist    int32
	txn     *iocom.Transaction
	payload wire.SpanPayload
	relays  map[uint64]*Relay
}

// ID returns the arena id of the link.
func (l *Link) ID() uint64 { return l.id }

// Node returns the announced node.
func (l *Link) Node() *Node { return l.node }

// Dist returns the announced distance.
func (l *Link) Dist() int32 { return l.dist }

// Conn returns the link the announcement arrived on.
func (l *Link) Conn() *iocom.Conn { return l.txn.Conn() }

// lessLink orders links by distance, then by arena id.
func lessLink(a, b *Link) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.id < b.id
}

// Options configures a Registry.
type Options struct {
	// Local, when set, is announced at distance 0 on every link.
	Local *wire.SpanPayload

	// Subscribe, when set, is sent as LNK_CONN on every link to restrict
	// what the peer relays to us.
	Subscribe *wire.ConnPayload

	// SplitHorizon suppresses relaying a span back onto the link it
	// arrived on.
	SplitHorizon bool

	// Deliver receives messages outside the link protocol. Nil answers
	// transactions with ErrCodeNoSupp.
	Deliver iocom.Handler

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Registry is the process-wide topology: clusters, nodes and links, plus
// the relay engine that propagates them. A single mutex guards all of it,
// including the values attached to span and relay transactions. It is
// always acquired before any link lock.
type Registry struct {
	mu       sync.Mutex
	clusters map[uuid.UUID]*Cluster
	nextID   uint64
	relay    *RelayEngine

	opts    Options
	log     *slog.Logger
	metrics *metric.Registry
}

// NewRegistry creates an empty registry and its relay engine.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Registry{
		clusters: make(map[uuid.UUID]*Cluster),
		opts:     opts,
		log:      opts.Logger.With("component", "span"),
		metrics:  opts.Metrics,
	}
	r.relay = newRelayEngine(r)
	return r
}

// Relays returns the relay engine.
func (r *Registry) Relays() *RelayEngine { return r.relay }

func (r *Registry) allocID() uint64 {
	r.nextID++
	return r.nextID
}

// OnSpanOpened records a received span, creating its cluster and node on
// first sight, and resynchronizes the node's relays on every link.
func (r *Registry) OnSpanOpened(txn *iocom.Transaction, p wire.SpanPayload) *Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openSpanLocked(txn, p)
}

func (r *Registry) openSpanLocked(txn *iocom.Transaction, p wire.SpanPayload) *Link {
	cl := r.clusters[p.ClusterID]
	if cl == nil {
		cl = &Cluster{
			ID:       p.ClusterID,
			Label:    p.ClusterLabel,
			PeerType: p.PeerType,
			nodes:    make(map[uuid.UUID]*Node),
		}
		r.clusters[p.ClusterID] = cl
	}
	node := cl.nodes[p.NodeID]
	if node == nil {
		node = &Node{
			ID:       p.NodeID,
			Label:    p.NodeLabel,
			NodeType: p.NodeType,
			cluster:  cl,
			links:    btree.NewG(4, lessLink),
		}
		cl.nodes[p.NodeID] = node
		r.log.Info("node added", "cluster", cl.ID, "node", node.ID, "label", node.Label)
	}

	link := &Link{
		id:      r.allocID(),
		node:    node,
		dist:    p.Dist,
		txn:     txn,
		payload: p,
		relays:  make(map[uint64]*Relay),
	}
	node.links.ReplaceOrInsert(link)
	txn.SetValue(link)
	r.log.Debug("span opened",
		"conn", txn.Conn().ID(),
		"node", node.ID,
		"dist", link.dist,
		"link", link.id,
	)

	r.relay.resyncNodeLocked(node)
	r.updateMetricsLocked()
	return link
}

// OnSpanClosed removes a link, tears down every relay it fed and drops
// empty containers. Surviving nodes are resynchronized.
func (r *Registry) OnSpanClosed(l *Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeSpanLocked(l)
}

func (r *Registry) closeSpanLocked(l *Link) {
	if l.node == nil {
		return
	}
	for _, rl := range l.relays {
		r.relay.deleteRelayLocked(rl)
	}

	node := l.node
	cl := node.cluster
	node.links.Delete(l)
	l.txn.SetValue(nil)
	l.node = nil
	r.log.Debug("span closed", "conn", l.txn.Conn().ID(), "node", node.ID, "link", l.id)

	if node.links.Len() == 0 {
		delete(cl.nodes, node.ID)
		r.log.Info("node removed", "cluster", cl.ID, "node", node.ID)
		if len(cl.nodes) == 0 {
			delete(r.clusters, cl.ID)
		}
	} else {
		r.relay.resyncNodeLocked(node)
	}
	r.updateMetricsLocked()
}

// Lookup returns the node with the given ids, or nil.
func (r *Registry) Lookup(clusterID, nodeID uuid.UUID) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(clusterID, nodeID)
}

func (r *Registry) lookupLocked(clusterID, nodeID uuid.UUID) *Node {
	cl := r.clusters[clusterID]
	if cl == nil {
		return nil
	}
	return cl.nodes[nodeID]
}

func (r *Registry) updateMetricsLocked() {
	if r.metrics == nil {
		return
	}
	var nodes, links int
	for _, cl := range r.clusters {
		nodes += len(cl.nodes)
		for _, n := range cl.nodes {
			links += n.links.Len()
		}
	}
	r.metrics.SetTopology(len(r.clusters), nodes, links, r.relay.countLocked())
}
