package span

import (
	"context"
	"time"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/iocom"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

// HandleMessage is the iocom.Handler of every link attached to the
// registry. It forwards circuit traffic passing through this node, runs
// the link protocol (LNK_SPAN, LNK_CONN, LNK_PING, LNK_PAD) and hands
// everything else to Options.Deliver.
func (r *Registry) HandleMessage(c *iocom.Conn, m *iocom.Message) {
	if m.Terminal() {
		r.relay.Unregister(c)
		r.deliver(c, m)
		return
	}

	txn := m.Txn()
	switch {
	case txn == nil:
		r.handleOneWay(c, m)
	case txn.SpanID() != 0 && r.forwardCircuit(c, m, txn):
	case txn.Local():
		r.handleLocal(c, m, txn)
	case txn.Command().Matches(wire.LnkSpan):
		r.handleSpan(c, m, txn)
	case txn.Command().Matches(wire.LnkConn):
		r.handleConn(c, m, txn)
	case txn.Command().Matches(wire.LnkPing):
		if m.Cmd()&wire.FlagCreate != 0 {
			_ = txn.Send(wire.LnkPing|wire.FlagDelete, nil, m.Aux)
		}
	default:
		r.deliver(c, m)
	}
}

func (r *Registry) deliver(c *iocom.Conn, m *iocom.Message) {
	if r.opts.Deliver != nil {
		r.opts.Deliver(c, m)
		return
	}
	iocom.DefaultHandler(c, m)
}

func (r *Registry) handleOneWay(c *iocom.Conn, m *iocom.Message) {
	cmd := m.Cmd()
	switch {
	case cmd.Matches(wire.LnkPad):
	case cmd.Matches(wire.LnkPing) && cmd&wire.FlagReply == 0:
		_ = c.Send(wire.LnkPing|wire.FlagReply, nil, m.Aux)
	default:
		r.deliver(c, m)
	}
}

// handleSpan runs a LNK_SPAN transaction opened by the peer.
func (r *Registry) handleSpan(c *iocom.Conn, m *iocom.Message, txn *iocom.Transaction) {
	cmd := m.Cmd()
	if cmd&wire.FlagCreate != 0 {
		p, err := wire.UnmarshalSpan(m.Ext)
		if err != nil {
			c.Logger().Warn("malformed span", "error", err)
			_ = txn.Reply(wire.ErrCodeField)
			return
		}
		if r.isLocal(&p) {
			c.Logger().Debug("ignoring echo of local span", "dist", p.Dist)
		} else {
			r.OnSpanOpened(txn, p)
		}
	}

	if cmd&wire.FlagDelete != 0 {
		r.mu.Lock()
		if l, ok := txn.Value().(*Link); ok {
			r.closeSpanLocked(l)
		}
		r.mu.Unlock()
		_ = txn.Close()
	}
}

func (r *Registry) isLocal(p *wire.SpanPayload) bool {
	local := r.opts.Local
	return local != nil && p.ClusterID == local.ClusterID && p.NodeID == local.NodeID
}

// handleConn runs a LNK_CONN transaction opened by the peer. Its payload
// filters what is relayed to the peer for as long as it stays open.
func (r *Registry) handleConn(c *iocom.Conn, m *iocom.Message, txn *iocom.Transaction) {
	cmd := m.Cmd()
	if cmd&wire.FlagCreate != 0 {
		p, err := wire.UnmarshalConn(m.Ext)
		if err != nil {
			c.Logger().Warn("malformed conn", "error", err)
			_ = txn.Reply(wire.ErrCodeField)
			return
		}
		r.mu.Lock()
		if cs := r.relay.conns[c]; cs != nil {
			cs.filter = &p
			txn.SetValue(cs)
			r.relay.resyncConnLocked(cs)
			r.updateMetricsLocked()
		}
		r.mu.Unlock()
		c.Logger().Info("peer subscribed",
			"cluster", p.ClusterID,
			"cluster_label", p.ClusterLabel,
			"node_label", p.NodeLabel,
			"peer_mask", p.PeerMask,
		)
		if cmd&wire.FlagDelete == 0 {
			_ = txn.Result(wire.ErrCodeNone)
		}
	}

	if cmd&wire.FlagDelete != 0 {
		r.mu.Lock()
		if cs, ok := txn.Value().(*connState); ok {
			cs.filter = nil
			txn.SetValue(nil)
			if r.relay.conns[c] == cs {
				r.relay.resyncConnLocked(cs)
				r.updateMetricsLocked()
			}
		}
		r.mu.Unlock()
		_ = txn.Close()
	}
}

// pingWait is attached to a transactional ping until its reply arrives.
// err is set when the ping was aborted instead.
type pingWait struct {
	done chan struct{}
	err  error
}

// handleLocal handles replies on transactions this end opened.
func (r *Registry) handleLocal(c *iocom.Conn, m *iocom.Message, txn *iocom.Transaction) {
	icmd := txn.Command()
	switch {
	case icmd.Matches(wire.LnkSpan), icmd.Matches(wire.LnkConn):
		if m.Cmd()&wire.FlagDelete == 0 {
			return
		}
		r.mu.Lock()
		switch v := txn.Value().(type) {
		case *Relay:
			r.relay.deleteRelayLocked(v)
			r.updateMetricsLocked()
		case localSpan, subscription:
			if cs := r.relay.conns[c]; cs != nil {
				if cs.local == txn {
					cs.local = nil
				}
				if cs.subscribe == txn {
					cs.subscribe = nil
				}
			}
			txn.SetValue(nil)
		}
		r.mu.Unlock()
		if err := m.Err(); err != nil && m.Cmd()&wire.FlagAbort == 0 {
			c.Logger().Debug("peer closed link transaction", "cmd", icmd, "error", err)
		}
		_ = txn.Close()

	case icmd.Matches(wire.LnkPing):
		r.mu.Lock()
		if w, ok := txn.Value().(*pingWait); ok {
			if m.Cmd()&wire.FlagAbort != 0 {
				if w.err = m.Err(); w.err == nil {
					w.err = domain.ErrConnClosed
				}
			}
			close(w.done)
			txn.SetValue(nil)
		}
		r.mu.Unlock()

	default:
		r.deliver(c, m)
	}
}

// Ping opens a single-message LNK_PING transaction on c and waits for the
// reply. It returns the round-trip time.
func (r *Registry) Ping(ctx context.Context, c *iocom.Conn) (time.Duration, error) {
	w := &pingWait{done: make(chan struct{})}
	start := time.Now()

	r.mu.Lock()
	txn, err := c.Open(wire.LnkPing|wire.FlagDelete, nil, nil)
	if err == nil {
		txn.SetValue(w)
	}
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return r.await(ctx, c, w, start)
}

func (r *Registry) await(ctx context.Context, c *iocom.Conn, w *pingWait, start time.Time) (time.Duration, error) {
	select {
	case <-w.done:
		if w.err != nil {
			return 0, w.err
		}
		return time.Since(start), nil
	case <-c.Done():
		return 0, domain.ErrConnClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// PingConn pings the registered link with the given id.
func (r *Registry) PingConn(ctx context.Context, id string) (time.Duration, error) {
	c, err := r.Conn(id)
	if err != nil {
		return 0, err
	}
	return r.Ping(ctx, c)
}
