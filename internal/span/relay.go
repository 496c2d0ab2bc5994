package span

import (
	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/iocom"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

// Relay parameters. Every node must agree on them for the spanning tree
// to converge.
const (
	// MaxRelays is the number of best links of a node relayed per link.
	MaxRelays = 2

	// MaxDistance is the largest link distance still relayed. Its relays
	// announce MaxDistance+1.
	MaxDistance = 16
)

// Relay is one transmitted LNK_SPAN re-announcing a link over a link.
type Relay struct {
	id   uint64
	conn *connState
	link *Link
	txn  *iocom.Transaction
}

// ID returns the arena id of the relay.
func (rl *Relay) ID() uint64 { return rl.id }

// Dist returns the announced distance.
func (rl *Relay) Dist() int32 { return rl.link.dist + 1 }

// lessRelay orders relays by their source link.
func lessRelay(a, b *Relay) bool { return lessLink(a.link, b.link) }

// connState is the relay bookkeeping of one registered link.
type connState struct {
	conn   *iocom.Conn
	relays map[*Node]*btree.BTreeG[*Relay]
	filter *wire.ConnPayload // from the peer's LNK_CONN, nil accepts all

	local     *iocom.Transaction // our dist-0 announcement
	subscribe *iocom.Transaction // our LNK_CONN
}

// localSpan marks the transaction carrying our own announcement.
type localSpan struct{}

// subscription marks the transaction carrying our LNK_CONN.
type subscription struct{}

// RelayEngine makes the relays of every registered link converge to the
// best MaxRelays links of every node. It shares the registry lock.
type RelayEngine struct {
	reg   *Registry
	conns map[*iocom.Conn]*connState
}

func newRelayEngine(r *Registry) *RelayEngine {
	return &RelayEngine{reg: r, conns: make(map[*iocom.Conn]*connState)}
}

// Register adds a link to the relay set: our own announcement and
// subscription are opened on it and every known node is relayed to it.
// Call it before the link starts running.
func (e *RelayEngine) Register(c *iocom.Conn) {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	if e.conns[c] != nil {
		return
	}
	cs := &connState{conn: c, relays: make(map[*Node]*btree.BTreeG[*Relay])}
	e.conns[c] = cs

	if sub := e.reg.opts.Subscribe; sub != nil {
		if txn, err := c.Open(wire.LnkConn, sub.MarshalExt(), nil); err == nil {
			txn.SetValue(subscription{})
			cs.subscribe = txn
		}
	}
	if local := e.reg.opts.Local; local != nil {
		p := *local
		p.Dist = 0
		if txn, err := c.Open(wire.LnkSpan, p.MarshalExt(), nil); err == nil {
			txn.SetValue(localSpan{})
			cs.local = txn
		}
	}
	e.resyncConnLocked(cs)
	e.reg.log.Debug("link registered", "conn", c.ID())
}

// Unregister removes a link from the relay set, tearing down its relays
// and any spans still recorded from it.
func (e *RelayEngine) Unregister(c *iocom.Conn) {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	cs := e.conns[c]
	if cs == nil {
		return
	}
	var relays []*Relay
	for _, tree := range cs.relays {
		tree.Ascend(func(rl *Relay) bool {
			relays = append(relays, rl)
			return true
		})
	}
	for _, rl := range relays {
		e.deleteRelayLocked(rl)
	}
	delete(e.conns, c)

	var orphans []*Link
	for _, cl := range e.reg.clusters {
		for _, n := range cl.nodes {
			n.links.Ascend(func(l *Link) bool {
				if l.txn.Conn() == c {
					orphans = append(orphans, l)
				}
				return true
			})
		}
	}
	for _, l := range orphans {
		e.reg.closeSpanLocked(l)
	}
	e.reg.updateMetricsLocked()
	e.reg.log.Debug("link unregistered", "conn", c.ID())
}

// Resync synchronizes the relays of node on c. A nil node resyncs every
// node; a nil c resyncs every link.
func (e *RelayEngine) Resync(c *iocom.Conn, node *Node) {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	switch {
	case c == nil && node == nil:
		e.resyncAllLocked()
	case c == nil:
		e.resyncNodeLocked(node)
	default:
		cs := e.conns[c]
		if cs == nil {
			return
		}
		if node == nil {
			e.resyncConnLocked(cs)
		} else {
			e.resyncLocked(cs, node)
		}
	}
	e.reg.updateMetricsLocked()
}

// ResyncAll synchronizes every node on every link.
func (e *RelayEngine) ResyncAll() { e.Resync(nil, nil) }

func (e *RelayEngine) resyncAllLocked() {
	for _, cs := range e.conns {
		e.resyncConnLocked(cs)
	}
}

func (e *RelayEngine) resyncConnLocked(cs *connState) {
	for _, cl := range e.reg.clusters {
		for _, n := range cl.nodes {
			e.resyncLocked(cs, n)
		}
	}
}

func (e *RelayEngine) resyncNodeLocked(node *Node) {
	for _, cs := range e.conns {
		e.resyncLocked(cs, node)
	}
}

// resyncLocked walks the node's links in (distance, id) order in lock-step
// with the relays already present for (cs, node). Matching relays are
// kept, missing ones are opened until MaxRelays are live, and whatever is
// left over is deleted.
func (e *RelayEngine) resyncLocked(cs *connState, node *Node) {
	e.reg.metrics.Resync()

	var existing []*Relay
	if tree := cs.relays[node]; tree != nil {
		tree.Ascend(func(rl *Relay) bool {
			existing = append(existing, rl)
			return true
		})
	}

	i, live := 0, 0
	node.links.Ascend(func(l *Link) bool {
		if live >= MaxRelays {
			return false
		}
		if i < len(existing) && existing[i].link == l {
			rl := existing[i]
			i++
			if e.eligible(cs, l) {
				live++
			} else {
				e.deleteRelayLocked(rl)
			}
			return true
		}
		if !e.eligible(cs, l) {
			return true
		}
		if e.openRelayLocked(cs, l) != nil {
			live++
		}
		return true
	})

	for ; i < len(existing); i++ {
		e.deleteRelayLocked(existing[i])
	}
}

// eligible applies the distance bound, split horizon and the peer's
// LNK_CONN filters to a link.
func (e *RelayEngine) eligible(cs *connState, l *Link) bool {
	if l.dist > MaxDistance {
		return false
	}
	if e.reg.opts.SplitHorizon && l.txn.Conn() == cs.conn {
		return false
	}
	f := cs.filter
	if f == nil {
		return true
	}
	p := &l.payload
	if f.PeerMask != 0 && f.PeerMask&(1<<p.PeerType) == 0 {
		return false
	}
	if p.PeerType == f.PeerType {
		if f.ClusterID != uuid.Nil && f.ClusterID != l.node.cluster.ID {
			return false
		}
		if f.ClusterLabel != "" && f.ClusterLabel != l.node.cluster.Label {
			return false
		}
	}
	return true
}

func (e *RelayEngine) openRelayLocked(cs *connState, l *Link) *Relay {
	p := l.payload
	p.Dist = l.dist + 1
	txn, err := cs.conn.Open(wire.LnkSpan, p.MarshalExt(), nil)
	if err != nil {
		e.reg.log.Debug("relay not opened", "conn", cs.conn.ID(), "link", l.id, "error", err)
		return nil
	}
	rl := &Relay{id: e.reg.allocID(), conn: cs, link: l, txn: txn}
	txn.SetValue(rl)

	tree := cs.relays[l.node]
	if tree == nil {
		tree = btree.NewG(4, lessRelay)
		cs.relays[l.node] = tree
	}
	tree.ReplaceOrInsert(rl)
	l.relays[rl.id] = rl
	return rl
}

// deleteRelayLocked forgets a relay and closes its transaction.
func (e *RelayEngine) deleteRelayLocked(rl *Relay) {
	if rl.conn == nil {
		return
	}
	node := rl.link.node
	if tree := rl.conn.relays[node]; tree != nil {
		tree.Delete(rl)
		if tree.Len() == 0 {
			delete(rl.conn.relays, node)
		}
	}
	delete(rl.link.relays, rl.id)
	rl.conn = nil
	rl.txn.SetValue(nil)
	_ = rl.txn.Close()
}

func (e *RelayEngine) countLocked() int {
	n := 0
	for _, cs := range e.conns {
		for _, tree := range cs.relays {
			n += tree.Len()
		}
	}
	return n
}

// relaysLocked returns the relays of node on c in link order.
func (e *RelayEngine) relaysLocked(c *iocom.Conn, node *Node) []*Relay {
	cs := e.conns[c]
	if cs == nil {
		return nil
	}
	var out []*Relay
	if tree := cs.relays[node]; tree != nil {
		tree.Ascend(func(rl *Relay) bool {
			out = append(out, rl)
			return true
		})
	}
	return out
}

// RelaysOf returns the relays of node currently open on c, best first.
func (e *RelayEngine) RelaysOf(c *iocom.Conn, node *Node) []*Relay {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	return e.relaysLocked(c, node)
}
