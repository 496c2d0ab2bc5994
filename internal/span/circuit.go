package span

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/iocom"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

// circuit pairs a transaction with its twin on the next hop.
type circuit struct {
	peer *iocom.Transaction
}

// forwardCircuit routes a message of a transaction opened on a span
// circuit. A CREATE arriving under one of our relays is paired with a new
// transaction on the relayed span's link; from then on every message is
// copied to the twin in both directions. It reports false when the
// message is for this node.
func (r *Registry) forwardCircuit(c *iocom.Conn, m *iocom.Message, txn *iocom.Transaction) bool {
	r.mu.Lock()
	if cc, ok := txn.Value().(*circuit); ok {
		r.mu.Unlock()
		if err := cc.peer.Forward(m); err != nil {
			c.Logger().Debug("circuit forward failed", "spanid", txn.SpanID(), "error", err)
		}
		return true
	}
	if txn.Local() || m.Cmd()&wire.FlagCreate == 0 {
		r.mu.Unlock()
		return false
	}

	switch v := txn.Parent().Value().(type) {
	case localSpan:
		r.mu.Unlock()
		return false
	case *Relay:
		next, err := v.link.txn.OpenSub(m.Cmd()&^(wire.FlagCreate|wire.FlagReply), m.Ext, m.Aux)
		if err != nil {
			r.mu.Unlock()
			c.Logger().Debug("circuit not extended", "spanid", txn.SpanID(), "error", err)
			_ = txn.Reply(wire.CodeOf(err))
			return true
		}
		txn.SetValue(&circuit{peer: next})
		next.SetValue(&circuit{peer: txn})
		r.mu.Unlock()
		c.Logger().Debug("circuit extended",
			"spanid", txn.SpanID(),
			"next", next.Conn().ID(),
			"dist", v.link.dist,
		)
		return true
	default:
		r.mu.Unlock()
		_ = txn.Reply(wire.ErrCodeNoSupp)
		return true
	}
}

// OpenCircuit opens a transaction that the mesh routes to a node. The
// first hop is chosen by Route with key. Replies arrive on the returned
// transaction through Options.Deliver.
func (r *Registry) OpenCircuit(clusterID, nodeID uuid.UUID, key []byte, cmd wire.Cmd, ext, aux []byte) (*iocom.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, err := r.routeLocked(clusterID, nodeID, key)
	if err != nil {
		return nil, err
	}
	return l.txn.OpenSub(cmd, ext, aux)
}

// PingNode sends a LNK_PING over a circuit to a node and waits for its
// reply. It returns the path taken and the round-trip time.
func (r *Registry) PingNode(ctx context.Context, clusterID, nodeID uuid.UUID, key []byte) (LinkInfo, time.Duration, error) {
	w := &pingWait{done: make(chan struct{})}
	start := time.Now()

	r.mu.Lock()
	l, err := r.routeLocked(clusterID, nodeID, key)
	if err != nil {
		r.mu.Unlock()
		return LinkInfo{}, 0, err
	}
	info := linkInfo(l)
	txn, err := l.txn.OpenSub(wire.LnkPing|wire.FlagDelete, nil, nil)
	if err == nil {
		txn.SetValue(w)
	}
	r.mu.Unlock()
	if err != nil {
		return info, 0, err
	}

	rtt, err := r.await(ctx, txn.Conn(), w, start)
	return info, rtt, err
}
