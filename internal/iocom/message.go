// Package iocom implements one spanmesh link: incremental framing over a
// byte stream, the per-link transaction tables and the event loop that
// moves messages between the socket and the message handler.
package iocom

import (
	"sync"

	"github.com/yndnr/spanmesh-go/internal/wire"
)

// Message is one frame plus its transaction bookkeeping.
//
// Messages handed to a Handler are owned by the link and are released when
// the handler returns. Handlers that need the payload later must copy it.
type Message struct {
	wire.Frame
	Kind wire.Kind

	txn      *Transaction
	pool     *MessagePool
	terminal bool

	extBuf [wire.MaxHeaderSize - wire.HeaderSize]byte
	auxBuf []byte // aligned backing array for Aux
}

// Txn returns the transaction the message belongs to, or nil for one-way
// messages.
func (m *Message) Txn() *Transaction { return m.txn }

// Cmd returns the command word.
func (m *Message) Cmd() wire.Cmd { return m.Header.Cmd }

// Err returns the error carried in the header, if any.
func (m *Message) Err() error { return wire.ErrorFromCode(m.Header.Error) }

// Terminal reports whether this is the final non-transactional error
// message of a link. Nothing is delivered after it.
func (m *Message) Terminal() bool { return m.terminal }

// Release returns the message to its pool. It is safe to call more than
// once and on messages that did not come from a pool.
func (m *Message) Release() {
	if m == nil || m.pool == nil {
		return
	}
	p := m.pool
	m.pool = nil
	p.put(m)
}

func (m *Message) reset() {
	aux := m.auxBuf
	*m = Message{}
	m.auxBuf = aux[:0]
}

// MessagePool recycles messages of one link. Messages with and without an
// aux payload live on separate free lists, each bounded by limit.
type MessagePool struct {
	mu      sync.Mutex
	free    []*Message
	freeAux []*Message
	limit   int
}

// NewMessagePool creates a pool keeping at most limit idle messages per
// free list.
func NewMessagePool(limit int) *MessagePool {
	if limit <= 0 {
		limit = 64
	}
	return &MessagePool{limit: limit}
}

// Get returns a zeroed message whose Ext holds extBytes and whose aux
// buffer can hold auxBytes after alignment padding.
func (p *MessagePool) Get(extBytes, auxBytes int) *Message {
	var m *Message
	p.mu.Lock()
	if auxBytes == 0 {
		if n := len(p.free); n > 0 {
			m = p.free[n-1]
			p.free = p.free[:n-1]
		}
	} else if n := len(p.freeAux); n > 0 {
		m = p.freeAux[n-1]
		p.freeAux = p.freeAux[:n-1]
	}
	p.mu.Unlock()

	if m == nil {
		m = &Message{}
	}
	m.pool = p
	if extBytes > 0 {
		m.Ext = m.extBuf[:extBytes]
	}
	if auxBytes > 0 {
		padded := wire.AlignUp(auxBytes)
		if cap(m.auxBuf) < padded {
			m.auxBuf = make([]byte, padded)
		}
		m.auxBuf = m.auxBuf[:padded]
		clear(m.auxBuf)
		m.Aux = m.auxBuf[:auxBytes]
	}
	return m
}

func (p *MessagePool) put(m *Message) {
	hasAux := cap(m.auxBuf) > 0
	m.reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	if hasAux {
		if len(p.freeAux) < p.limit {
			p.freeAux = append(p.freeAux, m)
		}
		return
	}
	if len(p.free) < p.limit {
		p.free = append(p.free, m)
	}
}

// Idle returns the number of pooled messages without and with aux buffers.
func (p *MessagePool) Idle() (plain, aux int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free), len(p.freeAux)
}
