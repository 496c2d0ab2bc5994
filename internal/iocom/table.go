package iocom

import (
	"github.com/google/btree"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
	"github.com/yndnr/spanmesh-go/internal/wire"
)

const transactionFlags = wire.FlagCreate | wire.FlagDelete | wire.FlagReply

// Transaction is one exchange identified by (spanId, msgId). rxcmd and
// txcmd accumulate the flags seen in each direction.
type Transaction struct {
	conn   *Conn
	spanID uint64
	msgID  uint64
	local  bool // opened by this end, indexed in the sent map
	parent *Transaction

	rxcmd    wire.Cmd
	txcmd    wire.Cmd
	icmd     wire.Cmd // base command of the opening message
	closing  bool     // DELETE queued for transmission
	inserted bool

	value any
}

// Conn returns the link the transaction lives on.
func (t *Transaction) Conn() *Conn { return t.conn }

// SpanID returns the span (circuit) id.
func (t *Transaction) SpanID() uint64 { return t.spanID }

// MsgID returns the message id.
func (t *Transaction) MsgID() uint64 { return t.msgID }

// Parent returns the transaction whose circuit this one runs on, or nil
// for a top-level transaction.
func (t *Transaction) Parent() *Transaction { return t.parent }

// Local reports whether this end opened the transaction.
func (t *Transaction) Local() bool { return t.local }

// Command returns the base command that opened the transaction.
func (t *Transaction) Command() wire.Cmd { return t.icmd }

// Value returns the value attached with SetValue.
func (t *Transaction) Value() any { return t.value }

// SetValue attaches caller state to the transaction. The caller is
// responsible for synchronizing access to it.
func (t *Transaction) SetValue(v any) { t.value = v }

// Flags returns the accumulated receive and transmit flags. The caller
// must hold the link lock or be on the link's own goroutine.
func (t *Transaction) Flags() (rx, tx wire.Cmd) { return t.rxcmd, t.txcmd }

func lessTransaction(a, b *Transaction) bool {
	if a.spanID != b.spanID {
		return a.spanID < b.spanID
	}
	return a.msgID < b.msgID
}

// TransactionTable indexes the open transactions of one link: those the
// peer opened (received map) and those this end opened (sent map).
// It is not safe for concurrent use; Conn serializes access.
type TransactionTable struct {
	conn     *Conn
	received *btree.BTreeG[*Transaction]
	sent     *btree.BTreeG[*Transaction]
	onChange func(delta int)
}

// NewTransactionTable creates an empty table owned by conn (which may be nil).
func NewTransactionTable(conn *Conn) *TransactionTable {
	return &TransactionTable{
		conn:     conn,
		received: btree.NewG(8, lessTransaction),
		sent:     btree.NewG(8, lessTransaction),
	}
}

// Len returns the number of indexed transactions in each map.
func (tt *TransactionTable) Len() (received, sent int) {
	return tt.received.Len(), tt.sent.Len()
}

// Lookup finds a transaction. local selects the sent map.
func (tt *TransactionTable) Lookup(local bool, spanID, msgID uint64) *Transaction {
	t, _ := tt.tree(local).Get(&Transaction{spanID: spanID, msgID: msgID})
	return t
}

// Each visits every transaction, received map first.
func (tt *TransactionTable) Each(fn func(t *Transaction) bool) {
	cont := true
	tt.received.Ascend(func(t *Transaction) bool {
		cont = fn(t)
		return cont
	})
	if cont {
		tt.sent.Ascend(fn)
	}
}

func (tt *TransactionTable) tree(local bool) *btree.BTreeG[*Transaction] {
	if local {
		return tt.sent
	}
	return tt.received
}

// Open creates and indexes a locally initiated transaction. A non-nil
// parent places it on the parent's circuit: its span id is the parent's
// message id.
func (tt *TransactionTable) Open(parent *Transaction, msgID uint64, cmd wire.Cmd) (*Transaction, error) {
	var spanID uint64
	if parent != nil {
		spanID = parent.msgID
	}
	if tt.Lookup(true, spanID, msgID) != nil {
		return nil, domain.ErrTransaction.WithDetails("message id in use")
	}
	t := &Transaction{
		conn:   tt.conn,
		spanID: spanID,
		msgID:  msgID,
		local:  true,
		parent: parent,
		rxcmd:  wire.FlagReply,
		icmd:   cmd.Base(),
	}
	tt.insert(t)
	return t, nil
}

func (tt *TransactionTable) insert(t *Transaction) {
	tt.tree(t.local).ReplaceOrInsert(t)
	t.inserted = true
	if tt.onChange != nil {
		tt.onChange(1)
	}
}

func (tt *TransactionTable) remove(t *Transaction) bool {
	if !t.inserted {
		return false
	}
	tt.tree(t.local).Delete(t)
	t.inserted = false
	if tt.onChange != nil {
		tt.onChange(-1)
	}
	return true
}

// Receive classifies an incoming header against the table. It returns the
// transaction the message belongs to (nil for one-way messages). A new
// transaction is created and indexed for a CREATE without REPLY.
//
// domain.ErrAlreadyTerminated marks an ABORT that lost a race with an
// earlier termination; the message should be dropped silently.
// domain.ErrTransaction marks a protocol violation.
func (tt *TransactionTable) Receive(h *wire.Header) (*Transaction, error) {
	cmd := h.Cmd
	reply := cmd&wire.FlagReply != 0
	abort := cmd&wire.FlagAbort != 0
	t := tt.Lookup(reply, h.SpanID, h.MsgID)

	// stale reports whether a DELETE or ABORT refers to no live exchange.
	stale := func() error {
		if abort {
			return domain.ErrAlreadyTerminated
		}
		return domain.ErrTransaction.WithDetails("no open transaction for " + cmd.String())
	}

	switch cmd & transactionFlags {
	case wire.FlagCreate, wire.FlagCreate | wire.FlagDelete:
		if t != nil {
			return nil, domain.ErrTransaction.WithDetails("duplicate CREATE")
		}
		// A circuit names a top-level transaction this end opened.
		var parent *Transaction
		if h.SpanID != 0 {
			if parent = tt.Lookup(true, 0, h.SpanID); parent == nil {
				if abort {
					return nil, domain.ErrAlreadyTerminated
				}
				return nil, domain.ErrTransaction.WithDetails("unknown circuit")
			}
		}
		t = &Transaction{
			conn:   tt.conn,
			spanID: h.SpanID,
			msgID:  h.MsgID,
			parent: parent,
			txcmd:  wire.FlagReply,
			rxcmd:  cmd &^ wire.FlagDelete,
			icmd:   cmd.Base(),
		}
		tt.insert(t)
		return t, nil

	case wire.FlagDelete, wire.FlagReply | wire.FlagDelete:
		if t == nil || t.rxcmd&wire.FlagCreate == 0 {
			return nil, stale()
		}
		return t, nil

	case wire.FlagReply | wire.FlagCreate, wire.FlagReply | wire.FlagCreate | wire.FlagDelete:
		if t == nil {
			return nil, domain.ErrTransaction.WithDetails("reply to unknown transaction")
		}
		t.rxcmd = cmd &^ wire.FlagDelete
		return t, nil

	default:
		// Streaming message, or a one-way message outside any transaction.
		if t == nil || t.rxcmd&wire.FlagCreate == 0 {
			if abort {
				return nil, domain.ErrAlreadyTerminated
			}
			if t == nil {
				return nil, nil
			}
		}
		return t, nil
	}
}

// Received completes receive-side bookkeeping once the message has been
// handled. It reports whether the transaction was removed.
func (tt *TransactionTable) Received(t *Transaction, cmd wire.Cmd) bool {
	if t == nil || cmd&wire.FlagDelete == 0 {
		return false
	}
	t.rxcmd |= wire.FlagDelete
	if t.txcmd&wire.FlagDelete != 0 {
		return tt.remove(t)
	}
	return false
}

// Prepare stamps an outbound message with its transaction identity and
// flags. The first message in each direction carries CREATE.
func (tt *TransactionTable) Prepare(t *Transaction, h *wire.Header) error {
	if t.closing || t.txcmd&wire.FlagDelete != 0 {
		return domain.ErrTransactionClosed
	}
	h.SpanID = t.spanID
	h.MsgID = t.msgID
	if !t.local {
		h.Cmd |= wire.FlagReply
	}
	if t.txcmd&wire.FlagCreate == 0 {
		h.Cmd |= wire.FlagCreate
		t.txcmd = h.Cmd &^ wire.FlagDelete
	}
	if h.Cmd&wire.FlagDelete != 0 {
		t.closing = true
	}
	return nil
}

// Sent completes transmit-side bookkeeping once a message has been fully
// written. It reports whether the transaction was removed.
func (tt *TransactionTable) Sent(t *Transaction, cmd wire.Cmd) bool {
	if t == nil || cmd&wire.FlagDelete == 0 {
		return false
	}
	t.txcmd |= wire.FlagDelete
	if t.rxcmd&wire.FlagDelete != 0 {
		return tt.remove(t)
	}
	return false
}

// First returns the lowest-keyed transaction still indexed, received map
// first, or nil when the table is empty.
func (tt *TransactionTable) First() *Transaction {
	if t, ok := tt.received.Min(); ok {
		return t
	}
	if t, ok := tt.sent.Min(); ok {
		return t
	}
	return nil
}

// ForceClose marks both directions deleted and drops the transaction.
func (tt *TransactionTable) ForceClose(t *Transaction) bool {
	t.rxcmd |= wire.FlagDelete
	t.txcmd |= wire.FlagDelete
	t.closing = true
	return tt.remove(t)
}
